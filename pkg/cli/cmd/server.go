package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LENAX/decision-engine/pkg/api"
	"github.com/LENAX/decision-engine/pkg/cli/output"
	"github.com/LENAX/decision-engine/pkg/core/engine"
)

var (
	serverConfigPath string
	serverListenAddr string
	serverRepoRoot   string
)

// serverCmd server子命令
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "HTTP API服务命令",
	Long:  `启动Decision Engine HTTP API服务。`,
}

// serverStartCmd 启动服务
var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动Decision Engine服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		b := engine.NewEngineBuilder(serverConfigPath)
		if serverRepoRoot != "" {
			b = b.WithRepoRoot(serverRepoRoot)
		}
		eng, err := b.Build()
		if err != nil {
			output.Error("创建Engine失败: %v", err)
			return err
		}

		if err := eng.Start(context.Background()); err != nil {
			output.Error("启动Engine失败: %v", err)
			return err
		}

		config := api.DefaultServerConfig()
		if addr := eng.Config().DecisionEngine.API.ListenAddr; addr != "" {
			config.ListenAddr = addr
		}
		if serverListenAddr != "" {
			config.ListenAddr = serverListenAddr
		}
		apiServer := api.NewAPIServer(eng, config, Version)

		go func() {
			if err := apiServer.Start(); err != nil {
				output.Error("API服务器错误: %v", err)
			}
		}()
		output.Success("Decision Engine服务已启动: %s", config.ListenAddr)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		output.Info("正在关闭服务...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.WriteTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			output.Error("关闭API服务器失败: %v", err)
		}
		eng.Stop()
		return nil
	},
}

func init() {
	serverStartCmd.Flags().StringVarP(&serverConfigPath, "config", "c", "./configs/engine.yml", "引擎配置文件路径")
	serverStartCmd.Flags().StringVar(&serverListenAddr, "listen", "", "API监听地址（覆盖配置文件）")
	serverStartCmd.Flags().StringVar(&serverRepoRoot, "repo-root", "", "仓库检出根目录（in-tree镜像解析）")

	serverCmd.AddCommand(serverStartCmd)
}

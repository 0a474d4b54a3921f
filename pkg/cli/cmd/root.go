package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// 全局变量
	serverURL  string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "decision-engine",
	Short: "Decision Engine CLI - CI任务图决策引擎命令行工具",
	Long: `Decision Engine CLI 是一个用于管理CI任务图决策的命令行工具。

支持的功能：
  - 触发decision run（根据kind配置展开任务图并调度）
  - 查询run历史与调度明细
  - 查看run生成的任务图工件
  - 启动HTTP API服务

使用示例：
  # 对一次push触发decision run
  decision-engine run --trigger push --level 3 --revision abc123

  # 查询run历史
  decision-engine runs list

  # 查看某次run的调度明细
  decision-engine runs show <run-id>

  # 启动HTTP服务
  decision-engine server start --config ./configs/engine.yml`,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Decision Engine服务器地址")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")

	// 添加子命令
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}

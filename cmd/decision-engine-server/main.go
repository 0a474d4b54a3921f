package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/LENAX/decision-engine/pkg/api"
	"github.com/LENAX/decision-engine/pkg/core/engine"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "./configs/engine.yml", "引擎配置文件路径")
	listenAddr := flag.String("listen", "", "API监听地址（覆盖配置文件）")
	repoRoot := flag.String("repo-root", "", "仓库检出根目录（in-tree镜像解析）")
	flag.Parse()

	log.Printf("Decision Engine Server v%s", Version)
	log.Printf("配置文件: %s", *configPath)

	// 1. 构建Engine
	b := engine.NewEngineBuilder(*configPath)
	if *repoRoot != "" {
		b = b.WithRepoRoot(*repoRoot)
	}
	eng, err := b.Build()
	if err != nil {
		log.Fatalf("创建Engine失败: %v", err)
	}

	// 2. 启动Engine
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("启动Engine失败: %v", err)
	}

	// 3. 创建API服务器（监听地址优先取命令行，其次取配置）
	config := api.DefaultServerConfig()
	if addr := eng.Config().DecisionEngine.API.ListenAddr; addr != "" {
		config.ListenAddr = addr
	}
	if *listenAddr != "" {
		config.ListenAddr = *listenAddr
	}

	apiServer := api.NewAPIServer(eng, config, Version)

	// 4. 在goroutine中启动API服务器
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("API服务器错误: %v", err)
		}
	}()

	log.Printf("✅ Decision Engine Server started on %s", config.ListenAddr)

	// 5. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 6. 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.WriteTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("关闭API服务器失败: %v", err)
	}

	eng.Stop()
	log.Println("✅ 服务已停止")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"vibecheck-moments/internal/config"
	"vibecheck-moments/internal/service"
	"vibecheck-moments/pkg/logger"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "vibecheck-moments")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	pipeline, err := service.NewPipelineService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create pipeline service",
			zap.Error(err),
		)
	}
	defer pipeline.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	serviceDoneChan := make(chan struct{}, 1)
	go func() {
		if err := pipeline.Start(ctx); err != nil {
			serviceErrChan <- err
			return
		}
		serviceDoneChan <- struct{}{}
	}()

	// 6. 等待信号或流结束（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel() // 取消上下文，停止摄取与消费者
	case err := <-serviceErrChan:
		log.Fatal("Pipeline error",
			zap.Error(err),
		)
	case <-serviceDoneChan:
		log.Info("Stream processed to completion")
	}

	log.Info("Moments pipeline stopped")
}

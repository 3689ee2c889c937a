package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kkdo11/CueCode/internal/config"
	"github.com/kkdo11/CueCode/internal/httpapi"
	"github.com/kkdo11/CueCode/internal/logger"
	"github.com/kkdo11/CueCode/internal/metrics"
	"github.com/kkdo11/CueCode/internal/service"
)

func main() {
	// 1. 加载 .env（不存在时忽略）
	_ = godotenv.Load()

	// 2. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 3. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "cuecode-alert-feed")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 4. 指标注册
	metrics.Init()

	// 5. 会话 Cookie 必填（HTTP-only JWT，从浏览器会话带出）
	if cfg.API.SessionCookie == "" {
		log.Fatal("SESSION_COOKIE environment variable is required")
	}

	// 6. 创建服务
	feedService, err := service.NewFeedService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create feed service",
			zap.Error(err),
		)
	}
	defer feedService.Stop()

	// 会话过期时直接退出，由进程管理器带着新 Cookie 重启
	sessionExpired := make(chan struct{}, 1)
	feedService.SetSessionExpiredHook(func() {
		select {
		case sessionExpired <- struct{}{}:
		default:
		}
	})

	// 7. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 8. 启动订阅服务
	serviceErrChan := make(chan error, 1)
	go func() {
		if err := feedService.Start(ctx); err != nil {
			serviceErrChan <- err
		}
	}()

	// 9. 启动本地 HTTP 视图
	apiServer := httpapi.NewServer(feedService, feedService, feedService, log)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: apiServer.Router(),
	}
	go func() {
		log.Info("Local view listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceErrChan <- err
		}
	}()
	defer httpServer.Close()

	// 10. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
	case <-sessionExpired:
		log.Warn("Session expired, exiting for credential refresh")
		cancel()
	case err := <-serviceErrChan:
		log.Fatal("Service error",
			zap.Error(err),
		)
	}

	log.Info("Alert feed service stopped")
}

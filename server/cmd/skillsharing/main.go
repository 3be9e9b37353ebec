package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"skill-sharing/server/internal/api"
	"skill-sharing/server/internal/config"
	"skill-sharing/server/internal/notify"
	"skill-sharing/server/internal/service"
	"skill-sharing/server/internal/talks"

	"github.com/gin-gonic/gin"
)

func main() {
	// 参数用 flag，部署相关（端口、存储路径）也可以用环境变量覆盖：
	// - REPOSITORY_FILE_NAME：Talk 存储文件路径
	// - PORT / HOST：监听地址
	// - STORE_DRIVER：file | sqlite | memory
	configPath := flag.String("config", "server/configs/skillsharing.yaml", "config file path")
	addr := flag.String("addr", "", "http listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, closeStore, err := talks.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	broadcaster := notify.NewBroadcaster(store.FindAll)
	loop := service.NewCommandLoop(cfg.Service.QueueCapacity, cfg.Service.CommandTimeout, nil)
	defer loop.Close()
	svc := service.New(store, broadcaster, loop, nil)
	server := api.NewServer(cfg, svc, broadcaster, nil)

	listenAddr := cfg.Server.Addr()
	if *addr != "" {
		listenAddr = *addr
	}
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	// Shutdown 不会取消请求 context，挂起的长轮询和流式连接需要主动释放
	httpServer.RegisterOnShutdown(server.Close)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("skillsharing server listening on %s (store=%s path=%s)", listenAddr, cfg.Store.Driver, cfg.Store.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// 超时后仍未结束的连接强制关闭
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
		httpServer.Close()
	}
}

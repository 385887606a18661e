package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"catalogwatch/internal/api"
	"catalogwatch/internal/catalog"
	"catalogwatch/internal/config"
	"catalogwatch/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to engine configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides api.listen)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	listen := cfg.API.Listen
	if *addr != "" {
		listen = *addr
	}

	logger, err := catalog.BuildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.DB)
	if err != nil {
		log.Fatalf("failed to initialise store: %v", err)
	}
	defer store.Close()

	engine, err := catalog.NewEngine(*cfg, store, logger)
	if err != nil {
		log.Fatalf("failed to initialise engine: %v", err)
	}

	manager := api.NewScanManager(engine, cfg.API.MaxConcurrentScans, ctx, logger)
	server := api.NewServer(manager, store, engine.Profiles())

	httpServer := &http.Server{
		Addr:    listen,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		manager.Shutdown()
	}()

	logger.Info("api server listening", "addr", listen, "max_concurrent_scans", cfg.API.MaxConcurrentScans)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("api server stopped")
}

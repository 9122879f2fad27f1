package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/api"
	"library-occupancy-backend/internal/db"
	"library-occupancy-backend/internal/gatefeed"
	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/ingest"
	"library-occupancy-backend/internal/notification"
	"library-occupancy-backend/internal/reconcile"
	"library-occupancy-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "libraryd ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("failed to read .env: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore, err := openStore(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize store: %v", err)
	}
	if err := appStore.SeedZones(ctx, store.DefaultZones()); err != nil {
		logger.Fatalf("failed to seed zones: %v", err)
	}
	if err := appStore.SetTotalCapacity(ctx, cfg.Library.TotalCapacity); err != nil {
		logger.Fatalf("failed to set total capacity: %v", err)
	}
	if cfg.Library.SeedDemo {
		if err := store.SeedDemo(ctx, appStore, time.Now().UTC()); err != nil {
			logger.Printf("failed to seed demo data: %v", err)
		}
	}
	logger.Printf("%s store initialized", cfg.Database.Driver)

	var webpushOptions *webpush.Options
	var alerts ingest.Alerter
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions)
		pool.Start(ctx)
		alerts = pool
	} else {
		logger.Println("VAPID keys are not configured; crowding alerts are disabled")
	}

	registry := hub.NewRegistry(cfg.Hub.SendBuffer, cfg.Hub.PingInterval, logger)
	svc := ingest.New(appStore, registry, alerts, logger)
	wsServer := hub.NewServer(registry, svc, logger)

	if cfg.GateFeed.Enabled {
		feed, err := gatefeed.NewService(cfg.GateFeed, svc, logger)
		if err != nil {
			logger.Fatalf("failed to initialize gate feed: %v", err)
		}
		go feed.Run(ctx)
	}

	if cfg.Reconcile.Enabled {
		sweeper, err := reconcile.New(appStore, cfg.Reconcile.Schedule, logger)
		if err != nil {
			logger.Fatalf("failed to initialize reconcile job: %v", err)
		}
		sweeper.Start(ctx)
	}

	handler := api.NewHandler(appStore, svc, registry, webpushOptions, cfg.Auth)
	router := api.NewRouter(cfg.Server, handler, wsServer.ServeWS)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Println("shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	registry.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}
	logger.Println("server gracefully stopped")
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == config.DriverMemory {
		return store.NewMemStore(cfg.Library.TotalCapacity), nil
	}
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, err
	}
	return store.NewGormStore(gormDB), nil
}

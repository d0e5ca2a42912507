package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chatroom/backend/internal/grpc"
	"chatroom/backend/pkg/config"
	"chatroom/backend/pkg/di"
	"chatroom/backend/pkg/logger"
	"chatroom/backend/pkg/router"
	"chatroom/backend/pkg/validator"
)

func main() {
	// Loads .env before reading the environment
	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	// Initialize database
	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.New(ctx, cfg, db, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	container.Start(ctx)

	// Initialize and setup router
	r := router.New(container)

	// Validation must be installed before routes are registered
	if cfg.OpenAPISchemaPath != "" {
		r.AddOpenAPIValidation(cfg.OpenAPISchemaPath)
	}
	r.SetupRoutes()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r.Engine,
	}

	serveErr := make(chan error, 2)
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Server.GRPCPort != "" {
		grpcServer = grpc.NewServer(container.Health, log)
		go func() {
			if err := grpcServer.ListenAndServe(cfg.Server.GRPCPort); err != nil {
				serveErr <- err
			}
		}()
	}

	go r.RateLimiter.Cleanup(ctx)

	if r.Schema != nil {
		go reloadSchemaOnHangup(ctx, r.Schema, log)
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		log.LogError(err, "Server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if err := container.Close(shutdownCtx); err != nil {
		log.LogError(err, "Failed to release resources")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info("Server exited gracefully")
}

// reloadSchemaOnHangup re-reads the OpenAPI document on SIGHUP.
func reloadSchemaOnHangup(ctx context.Context, v *validator.OpenAPIValidator, log *logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := v.ReloadSchema(); err != nil {
				log.LogError(err, "Failed to reload OpenAPI schema")
				continue
			}
			log.Info("OpenAPI schema reloaded")
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"registry-service/internal/auth"
	"registry-service/internal/config"
	"registry-service/internal/db"
	httphandler "registry-service/internal/http"
	"registry-service/internal/http/middleware"
	"registry-service/internal/logger"
	"registry-service/internal/repository"
	"registry-service/internal/service"
	"registry-service/internal/storage"
)

const memoryDSN = "memory://"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	var (
		store service.PersonStore
		ready httphandler.ReadinessCheck
	)
	if cfg.DB.DSN == memoryDSN {
		appLogger.Warn().Msg("using in-memory person store, data will not survive restarts")
		store = repository.NewMemoryPersonRepository()
	} else {
		database, err := db.New(cfg, appLogger)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("failed to connect database")
		}
		store = repository.NewPersonRepository(database)
		ready = func(ctx context.Context) error {
			return db.HealthCheck(ctx, database)
		}
	}

	// R2 is optional; exports are returned inline without it
	var uploader service.Uploader
	r2Client, err := storage.NewR2Client(storage.R2ConfigFromEnv())
	switch {
	case err == nil:
		uploader = r2Client
	case errors.Is(err, storage.ErrNotConfigured):
		appLogger.Warn().Msg("R2 storage not configured, exports will be returned inline")
	default:
		appLogger.Fatal().Err(err).Msg("failed to initialize R2 client")
	}

	rutService := service.NewRUTService(appLogger)
	personService := service.NewPersonService(store, uploader, cfg.Registry, appLogger)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(rutService, personService, cfg, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, appLogger, ready)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting registry service")

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info().Msg("server exited")
}

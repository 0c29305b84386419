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

	"vidtube-account-server/internal/cache"
	"vidtube-account-server/internal/config"
	"vidtube-account-server/internal/handler"
	"vidtube-account-server/internal/logging"
	"vidtube-account-server/internal/repository"
	"vidtube-account-server/internal/service"
	"vidtube-account-server/internal/storage"
	"vidtube-account-server/internal/websocket"
	"vidtube-account-server/pkg/hash"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(context.Background(), "server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	client, err := kivik.New("couch", cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to CouchDB: %w", err)
	}
	defer client.Close()

	created, err := repository.EnsureDatabase(ctx, client, cfg.Database.Name)
	if err != nil {
		return err
	}
	if created {
		logger.Info(ctx, "created database", "name", cfg.Database.Name)
	}

	redisClient := cache.NewRedis(cfg.Redis)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn(ctx, "redis unavailable, rate limiting will fail open", "addr", cfg.Redis.Addr, "error", err)
	}

	media, err := storage.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if err := media.Ping(ctx); err != nil {
		logger.Warn(ctx, "object storage bucket is not reachable", "bucket", cfg.Storage.Bucket, "error", err)
	}

	hasher := hash.NewHasher(hash.DefaultCost)
	userRepo := repository.NewUserRepository(client, cfg.Database.Name, hasher)
	subscriptionRepo := repository.NewSubscriptionRepository(client, cfg.Database.Name)

	wsManager := websocket.NewManager(cfg.WebSocket, logger)
	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(wsManager))
	go wsManager.Run(ctx)

	tokens := service.NewTokenIssuer(cfg.JWT)
	sessionService := service.NewSessionService(userRepo, hasher, tokens, wsManager, logger)
	registrationService := service.NewRegistrationService(userRepo, media, logger)
	accountService := service.NewAccountService(userRepo, hasher, media, wsManager, logger)
	subscriptionService := service.NewSubscriptionService(userRepo, subscriptionRepo)

	couchPing := handler.PingFunc(func(ctx context.Context) error {
		up, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		if !up {
			return errors.New("couchdb is not ready")
		}
		return nil
	})

	router := handler.NewRouter(handler.Handlers{
		Auth:      handler.NewAuthHandler(registrationService, sessionService, cfg),
		User:      handler.NewUserHandler(accountService, subscriptionService, cfg.Storage.MaxUploadSize),
		Channel:   handler.NewChannelHandler(subscriptionService),
		WebSocket: handler.NewWebSocketHandler(wsManager, tokens, cfg.WebSocket, cfg.CORS, logger),
		Health:    handler.NewHealthHandler(couchPing, redisClient, version),
	}, tokens, redisClient, cfg, logger)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "starting vidtube account server", "addr", addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info(context.Background(), "server stopped gracefully")
	return nil
}

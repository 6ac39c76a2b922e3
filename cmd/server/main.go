package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/streamward/streamward/internal/app"
	"github.com/streamward/streamward/internal/auth"
	"github.com/streamward/streamward/internal/config"
	"github.com/streamward/streamward/internal/crypto"
	"github.com/streamward/streamward/internal/database"
	"github.com/streamward/streamward/internal/eventsub"
	"github.com/streamward/streamward/internal/logging"
	"github.com/streamward/streamward/internal/redis"
	"github.com/streamward/streamward/internal/server"
	"github.com/streamward/streamward/internal/twitch"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupCrypto(cfg *config.Config) crypto.Service {
	if cfg.TokenEncryptionKey == "" {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set, tokens stored unencrypted")
		return crypto.NoopService{}
	}

	svc, err := crypto.NewAesGcmService(cfg.TokenEncryptionKey)
	if err != nil {
		slog.Error("Failed to create crypto service", "error", err)
		os.Exit(1)
	}
	return svc
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	cryptoSvc := setupCrypto(cfg)
	setupRepo := database.NewSetupRepo(pool, cryptoSvc)

	oauthClient := twitch.NewOAuthClient(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI)
	helixClient := twitch.NewHelixClient(cfg.TwitchClientID)
	tokenManager := twitch.NewTokenManager(oauthClient, setupRepo, clock)

	states := auth.NewStateManager(clock)
	transport := eventsub.NewTransport()
	sink := redis.NewPubSubSink(redisClient)

	coordinator := app.NewCoordinator(
		tokenManager,
		setupRepo,
		transport,
		eventsub.DefaultRegistrars(),
		helixClient,
		sink,
		clock,
	)

	srv := server.NewServer(cfg, oauthClient, states, tokenManager, transport, pool, redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go states.Run(ctx)
	go func() {
		if err := coordinator.Run(ctx); err != nil {
			slog.Error("Lifecycle coordinator exited", "error", err)
		}
	}()

	done := runGracefulShutdown(srv, cancel)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

func runGracefulShutdown(srv *server.Server, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Stop the coordinator and background loops first.
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iamyasumichi/only-one/config"
	"github.com/iamyasumichi/only-one/config/database"
	"github.com/iamyasumichi/only-one/internal/memo/repository"
	"github.com/iamyasumichi/only-one/internal/memo/service"
	"github.com/iamyasumichi/only-one/internal/metrics"
	"github.com/iamyasumichi/only-one/middleware"
	"github.com/iamyasumichi/only-one/pkg/logger"
	"github.com/iamyasumichi/only-one/router"
	"github.com/iamyasumichi/only-one/socket"
)

func main() {
	// 1. Configuration comes from .env (when present) and the environment.
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	generated, err := cfg.EnsureSecret()
	if err != nil {
		logger.Sugar.Fatalf("Refusing to start: %v", err)
	}
	if generated {
		logger.Sugar.Warn("JWT_SECRET is unset; tokens are signed with a per-process secret and stop working on restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Pick the memo store.
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Sugar.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	// 3. The Hub pushes every owner's collection to their open sockets.
	m := metrics.New()
	hub := socket.NewHub(store.List, cfg.SnapshotTTL, m)
	go hub.Run(ctx)

	memoService := service.NewMemoService(store, hub, m)
	auth := middleware.NewAuth(cfg.JWTSecret, cfg.TokenTTL)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.Setup(memoService, hub, auth, m, cfg.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("Sync server listening on %s (%s store)", cfg.Addr, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("Graceful shutdown failed: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewPostgresStore(db, cfg.DatabaseURL)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil

	case config.BackendRedis:
		store, err := repository.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case config.BackendMemory:
		logger.Sugar.Warn("Using the in-memory store; memos are lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, errors.New("unknown STORE_BACKEND " + cfg.StoreBackend)
}

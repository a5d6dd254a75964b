package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dronesim/internal/api"
	"dronesim/internal/config"
	"dronesim/internal/engine"
	"dronesim/internal/jobs"
	"dronesim/internal/logger"
	"dronesim/internal/notify"
	"dronesim/internal/scenes"
	"dronesim/internal/store"
	"dronesim/internal/store/memory"
	"dronesim/internal/store/postgres"
	redisstore "dronesim/internal/store/redis"
	"dronesim/internal/worker"
	"dronesim/internal/ws"
)

func main() {
	logger.Init("api-service")

	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	jobStore, queue, readyCheck, closeBackend := openBackend(cfg)
	defer closeBackend()

	manager := jobs.NewManager(jobStore, queue)

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()
	manager.OnUpdate(func(job *store.Job) {
		ws.BroadcastJobUpdate(hub, job)
	})

	if cfg.NATSEnabled {
		publisher, err := notify.NewPublisher(cfg.NATSURL)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer publisher.Close()
		manager.OnUpdate(func(job *store.Job) {
			if job.Status == store.StatusPending {
				publisher.Publish(job.ID)
			}
		})
		logger.Logger.Info().Str("url", cfg.NATSURL).Msg("NATS notifications enabled")
	}

	// The memory backend lives in this process only, so the worker loop
	// must run here too; the other backends get a dedicated worker binary.
	if cfg.StoreBackend == config.BackendMemory {
		loop := worker.NewLoop(manager, queue, buildEngine(cfg), worker.Config{
			PollInterval:  cfg.PollInterval,
			EngineTimeout: cfg.EngineTimeout,
		})
		loop.Start()
		defer loop.Stop()
		logger.Logger.Info().Msg("In-process worker loop started (memory backend)")
	}

	server := api.NewServer(manager, scenes.NewLister(cfg.ModelsDir), hub, cfg.HTTPPort, readyCheck)
	go func() {
		if err := server.Start(); err != nil {
			logger.Logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("Shutdown did not finish cleanly")
	}
	logger.Logger.Info().Msg("Server stopped")
}

func openBackend(cfg *config.Config) (store.Store, store.Queue, func(context.Context) error, func()) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client, err := redisstore.Connect(context.Background(), redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		logger.Logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
		ready := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return redisstore.NewStore(client), redisstore.NewQueue(client), ready, func() { client.Close() }

	case config.BackendPostgres:
		db, err := postgres.Connect(postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			Database: cfg.PostgresDatabase,
			SSLMode:  cfg.PostgresSSLMode,
		})
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		if err := postgres.RunMigrations(db); err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		logger.Logger.Info().Str("host", cfg.PostgresHost).Msg("Connected to PostgreSQL")
		ready := func(ctx context.Context) error { return db.PingContext(ctx) }
		return postgres.NewStore(db), postgres.NewQueue(db), ready, func() { db.Close() }

	default:
		logger.Logger.Info().Msg("Using in-memory store")
		return memory.NewStore(), memory.NewQueue(), nil, func() {}
	}
}

func buildEngine(cfg *config.Config) engine.Engine {
	if cfg.EngineKind == config.EngineRemote {
		return engine.NewRemote(cfg.EngineURL, nil)
	}
	return engine.NewLocal()
}

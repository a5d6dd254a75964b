package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dronesim/internal/config"
	"dronesim/internal/engine"
	"dronesim/internal/jobs"
	"dronesim/internal/logger"
	"dronesim/internal/notify"
	"dronesim/internal/store"
	"dronesim/internal/store/postgres"
	redisstore "dronesim/internal/store/redis"
	"dronesim/internal/worker"
)

func main() {
	logger.Init("worker-service")

	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.StoreBackend == config.BackendMemory {
		logger.Logger.Fatal().Msg("The memory backend runs its worker inside the server process; set STORE_BACKEND to redis or postgres")
	}

	jobStore, queue, closeBackend := openBackend(cfg)
	defer closeBackend()

	manager := jobs.NewManager(jobStore, queue)

	var eng engine.Engine
	if cfg.EngineKind == config.EngineRemote {
		eng = engine.NewRemote(cfg.EngineURL, nil)
		logger.Logger.Info().Str("url", cfg.EngineURL).Msg("Using remote simulation engine")
	} else {
		eng = engine.NewLocal()
		logger.Logger.Info().Msg("Using local trajectory engine")
	}

	loop := worker.NewLoop(manager, queue, eng, worker.Config{
		PollInterval:  cfg.PollInterval,
		EngineTimeout: cfg.EngineTimeout,
	})

	if cfg.NATSEnabled {
		subscriber, err := notify.NewSubscriber(cfg.NATSURL)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		if err := subscriber.Subscribe(loop.Wake()); err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to subscribe to job notifications")
		}
		defer subscriber.Close()
		logger.Logger.Info().Str("url", cfg.NATSURL).Msg("NATS wake-up enabled")
	}

	loop.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info().Msg("Shutting down gracefully...")
	loop.Stop()
	logger.Logger.Info().Msg("Worker stopped")
}

func openBackend(cfg *config.Config) (store.Store, store.Queue, func()) {
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
		return redisstore.NewStore(client), redisstore.NewQueue(client), func() { client.Close() }

	default:
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
		return postgres.NewStore(db), postgres.NewQueue(db), func() { db.Close() }
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/taskhive/webhookd/config"
	"github.com/taskhive/webhookd/webhook"
	"github.com/taskhive/webhookd/webhook/memory"
	"github.com/taskhive/webhookd/webhook/postgres"
	"github.com/taskhive/webhookd/webhook/redis"
)

/* The sweeper is the standalone retry loop: every interval it asks the
 * scheduler to re-dispatch failed deliveries whose next attempt is due.
 * Run it alongside the API when retries should survive API restarts.
 */

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "webhookd-sweeper").Logger()

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	repo, err := newRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("opening store")
	}
	defer repo.Close(ctx)

	dispatcher := webhook.NewDispatcher(repo, cfg.DispatchTimeout, log)
	scheduler := webhook.NewScheduler(repo, dispatcher, cfg.SweepConcurrency, log)

	log.Info().Dur("interval", cfg.SweepInterval).Int("concurrency", cfg.SweepConcurrency).
		Msg("sweep loop started")

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweep loop stopped")
			return
		case <-ticker.C:
			processed, err := scheduler.ProcessFailed(ctx)
			if err != nil {
				log.Error().Err(err).Msg("sweep failed")
				continue
			}
			if processed > 0 {
				log.Info().Int("processed", processed).Msg("sweep complete")
			}
		}
	}
}

func newRepository(ctx context.Context, cfg *config.Config) (webhook.Repository, error) {
	switch cfg.Store {
	case "memory":
		return memory.NewRepository(), nil
	case "redis":
		return redis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "postgres":
		return postgres.NewRepository(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Store)
	}
}

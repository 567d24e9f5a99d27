package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/taskhive/webhookd/config"
	"github.com/taskhive/webhookd/internal/http/chi"
	"github.com/taskhive/webhookd/metrics"
	"github.com/taskhive/webhookd/seed"
	"github.com/taskhive/webhookd/webhook"
	"github.com/taskhive/webhookd/webhook/memory"
	"github.com/taskhive/webhookd/webhook/postgres"
	"github.com/taskhive/webhookd/webhook/redis"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "webhookd-api").Logger()

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

	registry := webhook.NewRegistry(repo)
	dispatcher := webhook.NewDispatcher(repo, cfg.DispatchTimeout, log)
	service := webhook.NewService(repo, registry, dispatcher, log)
	scheduler := webhook.NewScheduler(repo, dispatcher, cfg.SweepConcurrency, log)

	if cfg.SeedFile != "" {
		loader := seed.NewLoader()
		if err := loader.Load(cfg.SeedFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.SeedFile).Msg("loading seed file")
		}
		created, err := loader.Apply(ctx, registry)
		if err != nil {
			log.Fatal().Err(err).Msg("applying seed endpoints")
		}
		log.Info().Int("created", created).Str("file", cfg.SeedFile).Msg("seed endpoints applied")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)
	exporter, err := metrics.NewOTelExporter(storeCollector{repo: repo})
	if err != nil {
		log.Fatal().Err(err).Msg("starting metrics exporter")
	}
	defer exporter.Shutdown(ctx)

	r := chi.Handlers(ctx, registry, service, scheduler, exporter.ServeHTTP())
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)

	log.Info().Str("port", cfg.Port).Str("store", cfg.Store).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
	if err := <-errShutdown; err != nil {
		log.Fatal().Err(err).Msg("shutdown error")
	}
}

// newRepository opens the configured store driver
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

/* storeCollector adapts the delivery store to the metrics.Collector
 * interface so the exporter can publish live status counts without a
 * domain dependency.
 */
type storeCollector struct {
	repo webhook.Repository
}

func (c storeCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := c.repo.CountByStatus(ctx, "", "")
	if err != nil {
		return nil, err
	}
	return map[string]int64{
		"pending":   counts.Pending,
		"delivered": counts.Delivered,
		"failed":    counts.Failed,
	}, nil
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		errShutdown <- nil
	default:
		errShutdown <- fmt.Errorf("forcing server close: %w", err)
	}
}

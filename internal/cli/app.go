package cli

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/rcliao/ryos-memory/internal/config"
	"github.com/rcliao/ryos-memory/internal/llm"
	"github.com/rcliao/ryos-memory/internal/lock"
	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/metrics"
	"github.com/rcliao/ryos-memory/internal/pipeline"
	"github.com/rcliao/ryos-memory/internal/server"
	"github.com/rcliao/ryos-memory/internal/store"
)

// app holds the collaborators shared by serve and process.
type app struct {
	cfg       config.Config
	store     *store.SQLiteStore
	redis     *redis.Client
	registry  *prometheus.Registry
	processor *pipeline.Processor
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}

	st, err := openStore(cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open store", goerr.V("path", cfg.DBPath))
	}
	a.store = st

	var locker pipeline.Locker
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		locker = lock.NewRedis(client)
	} else {
		logging.From(ctx).Warn("no redis configured, processing lock is local to this process")
		locker = lock.NewLocal()
	}

	gen, err := llm.NewGemini(ctx, cfg.Gemini)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := metrics.NewPrometheusObserver("", a.registry)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.processor = pipeline.New(
		locker,
		st,
		st,
		llm.NewExtractor(gen, llm.WithTemperature(cfg.ExtractionTemperature)),
		llm.NewConsolidator(gen, llm.WithTemperature(cfg.ConsolidationTemperature)),
		pipeline.WithConfig(cfg.Pipeline),
		pipeline.WithObserver(observer),
	)
	return a, nil
}

func (a *app) authenticator() server.Authenticator {
	if a.redis != nil {
		return server.NewRedisAuthenticator(a.redis)
	}
	return server.StaticAuthenticator(a.cfg.Tokens)
}

func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/fractal-lba/rankeval/internal/config"
	"github.com/fractal-lba/rankeval/internal/eval"
	"github.com/fractal-lba/rankeval/internal/lock"
	"github.com/fractal-lba/rankeval/internal/logging"
	"github.com/fractal-lba/rankeval/internal/metric"
	"github.com/fractal-lba/rankeval/internal/metrics"
	"github.com/fractal-lba/rankeval/internal/modeleval"
	"github.com/fractal-lba/rankeval/internal/store"
	"github.com/fractal-lba/rankeval/internal/subset"
	"github.com/fractal-lba/rankeval/pkg/otel"
)

// app holds the wired collaborators of one CLI invocation.
type app struct {
	cfg       config.Config
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	store     *store.SQLStore
	modelEval *modeleval.ModelEvaluator

	closers []func(context.Context) error
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	a.closers = append(a.closers, func(context.Context) error { _ = logger.Sync(); return nil })

	if err := a.wire(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Tracing.Enabled {
		tp, err := otel.InitTracer(ctx, cfg.TracerConfig(version))
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		a.closers = append(a.closers, func(ctx context.Context) error { return otel.Shutdown(ctx, tp) })
		a.logger.Infow("Tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	dialect, err := store.DialectFor(cfg.Database.Driver)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.store = store.New(db, dialect, cfg.StoreConfig(), a.logger, a.metrics)
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	opts := modeleval.Options{Logger: a.logger, LockTTL: cfg.Redis.LockTTL}

	if dsn := cfg.SubsetDSN(); dsn != "" {
		pool, err := subset.ConnectPostgres(ctx, dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })

		var src subset.Source = subset.NewPostgresSource(pool)
		if cfg.Evaluation.SubsetCacheSize > 0 {
			src, err = subset.NewCachedSource(src, cfg.Evaluation.SubsetCacheSize, cfg.Evaluation.SubsetCacheTTL, a.metrics)
			if err != nil {
				return err
			}
		}
		opts.Subsets = src
	}

	if cfg.Redis.Addr != "" {
		locker, err := lock.NewRedisLocker(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return locker.Close() })
		opts.Locker = locker
	} else {
		opts.Locker = lock.NewMemoryLocker()
	}

	evaluator := eval.NewEvaluator(metric.NewCatalog(), cfg.EvalConfig(), a.logger, a.metrics)
	a.modelEval, err = modeleval.New(evaluator, cfg.TestingMetricGroups, cfg.TrainingMetricGroups, a.store, opts)
	return err
}

// pushMetrics sends the run's collectors to the Pushgateway when one is
// configured.
func (a *app) pushMetrics() error {
	url := a.cfg.Metrics.PushgatewayURL
	if url == "" {
		return nil
	}
	if err := push.New(url, a.cfg.Metrics.Job).Gatherer(a.metrics.Registry).Push(); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	a.logger.Debugw("Pushed metrics", "pushgateway", url, "job", a.cfg.Metrics.Job)
	return nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warnw("Shutdown step failed", "error", err)
		}
	}
}

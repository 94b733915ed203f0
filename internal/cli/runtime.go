package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/pflag"

	"github.com/kartikbazzad/bunbase/docasync"
	"github.com/kartikbazzad/bunbase/docasync/engine"
	"github.com/kartikbazzad/bunbase/docasync/engine/pebble"
	"github.com/kartikbazzad/bunbase/docasync/engine/sqlite"
	"github.com/kartikbazzad/bunbase/docasync/internal/config"
	"github.com/kartikbazzad/bunbase/docasync/internal/logger"
	"github.com/kartikbazzad/bunbase/docasync/internal/metrics"
	"github.com/kartikbazzad/bunbase/docasync/workerpool"
)

const shutdownTimeout = 10 * time.Second

// runtime holds everything a subcommand needs and tears it down in order.
type runtime struct {
	cfg     *config.Config
	log     *slog.Logger
	pool    *workerpool.Pool
	metrics *metrics.Metrics
	engine  engine.Engine
	srv     *http.Server
}

// loadConfig reads the config file and environment, then applies any flag
// the user set explicitly.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("engine") {
		cfg.Engine.Type = engineType
	}
	if flags.Changed("dir") {
		cfg.Engine.Directory = dataDir
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func newEngine(typ string) (engine.Engine, error) {
	switch typ {
	case config.EngineSQLite:
		return sqlite.New(), nil
	case config.EnginePebble:
		return pebble.New(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", typ)
	}
}

func setup(cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: logger.Init(cfg.Log)}

	eng, err := newEngine(cfg.Engine.Type)
	if err != nil {
		return nil, err
	}
	rt.engine = eng

	rt.metrics = metrics.New(func() int {
		if rt.pool == nil {
			return 0
		}
		return rt.pool.Pending()
	})

	opts := cfg.PoolOptions()
	opts.Logger = rt.log
	opts.OnPanic = rt.metrics.PoolPanicked
	if rt.pool, err = workerpool.New(opts); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}
	rt.log.Info("worker pool started", "workers", rt.pool.Cap(), "engine", eng.Name())

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.metrics.Handler())
		rt.srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := rt.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.log.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		rt.log.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}
	return rt, nil
}

// newClient builds a client on the runtime's pool, logger and metrics.
func (rt *runtime) newClient(opts ...docasync.Option) *docasync.Client {
	base := []docasync.Option{
		docasync.WithPool(rt.pool),
		docasync.WithLogger(rt.log),
		docasync.WithMetrics(rt.metrics),
	}
	return docasync.NewClient(rt.engine, append(base, opts...)...)
}

func (rt *runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if rt.srv != nil {
		if err := rt.srv.Shutdown(ctx); err != nil {
			rt.log.Warn("metrics server shutdown", "error", err)
		}
	}
	if err := rt.pool.Shutdown(ctx); err != nil {
		rt.log.Warn("worker pool did not drain", "pending", rt.pool.Pending(), "error", err)
	}
}

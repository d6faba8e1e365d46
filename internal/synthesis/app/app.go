package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/yungbote/neurobridge-synthesis/internal/observability"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/cache"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/config"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/engine"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/httpapi"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/prompt"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/router"
)

type App struct {
	Log     *logger.Logger
	Config  *config.Config
	Engine  *engine.Engine
	Metrics *observability.Metrics

	server       *http.Server
	store        cache.Store
	otelShutdown func(context.Context) error
	closeOnce    sync.Once
}

// New loads configuration from the environment and builds the full service.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return Build(ctx, cfg, log)
}

// Build wires the engine, cache, metrics and HTTP server for cfg.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	m := observability.Init(log)
	m.StartSLOEvaluator(ctx, log)

	r, err := router.New(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	route, ok := r.Route(cfg.Engine.Backend)
	if !ok {
		return nil, fmt.Errorf("engine backend %q not configured", cfg.Engine.Backend)
	}

	store, err := NewStore(log, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(cfg.Cache.Backend, "redis") {
		m.StartRedisCollector(ctx, log, cfg.Cache.Redis.Addr)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName:  "neurobridge-synthesis",
		Environment:  cfg.Env,
		Backend:      route.Name,
		BackendType:  route.Type,
		Model:        route.Model,
		Constrained:  route.Client.SupportsConstrained(),
		CacheBackend: store.Stats(ctx).Backend,
	})

	eng, err := engine.New(engine.Deps{
		Log:      log,
		Client:   route.Client,
		Registry: content.DefaultRegistry(),
		Prompts:  prompt.NewTemplateBuilder(cfg.Engine.Temperature, route.Client.SupportsConstrained()),
		Cache:    store,
		Metrics:  m,
	}, engine.Options{
		Backend:       route.Name,
		CallTimeout:   cfg.Engine.CallTimeout.Duration,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	log.Info("synthesis engine ready",
		"backend", route.Name,
		"backend_type", route.Type,
		"model", route.Model,
		"constrained", route.Client.SupportsConstrained(),
		"cache", store.Stats(ctx).Backend,
	)

	return &App{
		Log:          log,
		Config:       cfg,
		Engine:       eng,
		Metrics:      m,
		server:       httpapi.NewServer(cfg, log, eng, m),
		store:        store,
		otelShutdown: otelShutdown,
	}, nil
}

// NewStore builds the result cache selected by cfg.Backend.
func NewStore(log *logger.Logger, cfg config.CacheConfig) (cache.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return cache.NewMemory(cache.MemoryOptions{
			TTL:           cfg.TTL.Duration,
			MaxEntries:    cfg.MaxEntries,
			SweepInterval: cfg.SweepInterval.Duration,
		}), nil
	case "redis":
		return cache.NewRedis(log, cache.RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Prefix:     cfg.Redis.Prefix,
			TTL:        cfg.TTL.Duration,
			MaxEntries: cfg.MaxEntries,
		})
	case "none":
		return cache.Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("synthesis server listening", "addr", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close releases the cache and flushes traces. It does not stop a running server; cancel the
// context passed to Run for that.
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Log.Warn("cache close failed", "error", err.Error())
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		_ = a.otelShutdown(ctx)
	}
	a.Log.Sync()
}

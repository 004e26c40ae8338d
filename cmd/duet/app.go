package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/duetlabs/duet/internal/chat"
	"github.com/duetlabs/duet/internal/config"
	"github.com/duetlabs/duet/internal/engine"
	"github.com/duetlabs/duet/internal/llm"
	"github.com/duetlabs/duet/internal/metrics"
	"github.com/duetlabs/duet/internal/persona"
	"github.com/duetlabs/duet/internal/store"
	"github.com/duetlabs/duet/internal/tools"
)

// app holds the wired dependencies shared by serve and chat.
type app struct {
	cfg       *config.Config
	store     store.ConversationStore
	session   *chat.Session
	scheduler *tools.Scheduler
	metrics   *metrics.Metrics
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, convLog chat.ConversationLogger) (_ *app, err error) {
	logger := slog.Default()
	a := &app{cfg: cfg, metrics: metrics.New(prometheus.NewRegistry())}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	now := func() time.Time { return time.Now().In(loc) }

	book, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return nil, err
	}

	a.store, err = openStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)
	if err := a.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store health check: %w", err)
	}
	logger.Info("Store connected", "driver", cfg.Store.Driver)

	provider, err := openProvider(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := provider.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	// Alarms reach the session once it exists; the scheduler is not running before that.
	a.scheduler = tools.NewScheduler(func(al tools.Alarm) { a.session.Notify(al) }, logger)
	registry := tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(registry, tools.BuiltinOptions{
		Scheduler:         a.scheduler,
		Location:          loc,
		Now:               now,
		ForgetFailureRate: cfg.Engine.ForgetFailureRate,
	}); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	logger.Info("tools registered", "count", registry.Count(), "names", registry.Names())

	orch := engine.New(provider, registry, a.store, book,
		engine.WithLogger(logger),
		engine.WithMetrics(a.metrics),
		engine.WithConfig(engine.Config{
			HistoryWindow:         cfg.Engine.HistoryWindow,
			DelegationProbability: cfg.Engine.DelegationProbability,
			ForceDelegationAfter:  cfg.Engine.ForceDelegationAfter,
			MaxToolRounds:         cfg.Engine.MaxToolRounds,
		}),
	)

	a.session = chat.NewSession(orch, a.store,
		chat.WithClock(now),
		chat.WithConversationLogger(convLog),
		chat.WithSessionLogger(logger),
	)
	if err := a.session.Restore(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.ConversationStore, error) {
	opts := []store.Option{store.WithLogger(logger)}
	switch store.Driver(cfg.Driver) {
	case store.DriverSQLite:
		opts = append(opts, store.WithSQLitePath(cfg.DBPath))
	case store.DriverRedis:
		opts = append(opts,
			store.WithRedisClient(redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})),
			store.WithRedisTTL(cfg.RedisTTL),
		)
	}
	st, err := store.New(store.Driver(cfg.Driver), opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return st, nil
}

func openProvider(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (engine.CompletionProvider, error) {
	switch cfg.Provider {
	case "gemini":
		p, err := llm.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return nil, fmt.Errorf("connect gemini: %w", err)
		}
		return p, nil
	case "grpc":
		gc := llm.DefaultGrpcConfig()
		gc.Address = cfg.CompletionAddr
		gc.RequestTimeout = cfg.Timeout
		p, err := llm.NewGrpcProvider(gc, logger)
		if err != nil {
			return nil, fmt.Errorf("connect completion sidecar: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// close flushes the session and releases resources in reverse order.
func (a *app) close() error {
	var errs []error
	if a.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.session.Close(ctx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/duetlabs/duet/internal/api"
	"github.com/duetlabs/duet/internal/chat"
	"github.com/duetlabs/duet/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket chat service",
	Long: `Starts the chat API:
  POST /api/chat                        one turn, streamed as SSE
  GET  /api/conversation                the live conversation
  POST /api/conversation/new            start a new conversation
  POST /api/conversations/{id}/open     switch to a stored conversation
  GET  /api/conversations/{id}/messages stored transcript
  GET  /ws/chat                         chat over WebSocket
  GET  /health, /metrics`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	convLog, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, slog.Default())
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}

	a, err := newApp(ctx, cfg, convLog)
	if err != nil {
		_ = convLog.Close()
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil {
			slog.Error("Failed to release resources", "error", closeErr)
		}
	}()

	limiter := chat.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	origins := cfg.AllowedOrigins()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(origins))

	api.NewHealthHandler(map[string]api.Pinger{"store": a.store}, 0).RegisterHealth(r)
	r.Handle("/metrics", a.metrics.Handler())
	chat.NewHandler(a.session, a.store, limiter, slog.Default()).RegisterRoutes(r)
	r.Get("/ws/chat", chat.NewWebSocketHandler(a.session, limiter, origins, slog.Default()).ServeHTTP)

	// SSE turns can outlast any fixed write timeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.scheduler.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

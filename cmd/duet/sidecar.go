package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/duetlabs/duet/internal/llm"
)

var sidecarCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Serve the configured completion backend over gRPC",
	Long: `Exposes the Gemini backend as duet.completion.v1.CompletionService so
other duet instances can run with LLM_PROVIDER=grpc and COMPLETION_ADDR
pointing here. Listens on COMPLETION_LISTEN_ADDR.`,
	RunE: runSidecar,
}

func runSidecar(cmd *cobra.Command, _ []string) error {
	if cfg.LLM.Provider == "grpc" {
		return errors.New("sidecar needs a direct backend; LLM_PROVIDER=grpc would proxy to itself")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := openProvider(ctx, cfg.LLM, slog.Default())
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.LLM.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.LLM.ListenAddr, err)
	}
	slog.Info("Completion sidecar listening", "addr", lis.Addr().String(), "provider", cfg.LLM.Provider)
	return serveCompletion(ctx, lis, provider, slog.Default())
}

// serveCompletion serves p on lis until ctx ends, then drains in-flight calls.
func serveCompletion(ctx context.Context, lis net.Listener, p llm.Provider, logger *slog.Logger) error {
	srv := grpc.NewServer()
	llm.RegisterCompletionServer(srv, llm.NewProviderServer(p))

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("Shutting down completion sidecar")
		srv.GracefulStop()
	}()

	err := srv.Serve(lis)
	cancel()
	<-done
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc: %w", err)
	}
	return nil
}

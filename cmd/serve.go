package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/creastat/craftbot/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the cleanup sweep",
	Long: `Serve the chatbot API and run the background cleanup worker until
SIGINT or SIGTERM, then drain in-flight requests and stop the worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := a.newEngine()
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithUploadLimit(cfg.Server.UploadLimit),
		server.WithLogger(logger),
	}
	if a.local != nil {
		opts = append(opts, server.WithStaticAssets(a.local.PublicPrefix(), a.local.Root()))
	}

	worker := a.newWorker()
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cleanup worker: %w", err)
	}
	defer worker.Stop()

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}

	srv := &http.Server{
		Handler:           server.New(e, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	logger.Info("Server started",
		slog.String("addr", listener.Addr().String()),
		slog.String("store", cfg.Store.Driver),
		slog.String("assets", cfg.Assets.Driver),
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := shutdownContext()
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ayu0607/pulse-chat/internal/config"
	"github.com/Ayu0607/pulse-chat/internal/live"
	"github.com/Ayu0607/pulse-chat/internal/server"
	"github.com/Ayu0607/pulse-chat/internal/store"
)

// shutdownTimeout bounds graceful HTTP shutdown on SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the messaging backend",
		Long: `Start the Pulse messaging backend.

Opens the SQLite database (creating it if it doesn't exist), starts the
live query engine's commit loop, and serves the HTTP API and the /ws
subscription endpoint.

Example:
  pulsechat serve
  pulsechat serve --config pulse.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, rootOpts)
		},
	}

	return cmd
}

func serve(cmd *cobra.Command, rootOpts *RootOptions) error {
	cfg, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database ready")

	engine := live.New(st)

	// Setup signal handling for graceful shutdown.
	// Use the command's context if available (for testing).
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(engine, cfg.APIKeyHash).Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "error", err)
		}
	}()

	slog.Info("listening", "addr", cfg.Addr, "auth", cfg.APIKeyHash != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		<-engineDone
		return WrapExitError(ExitFailure, "http server failed", err)
	}

	// Wait for the engine loop to drain and exit.
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine stopped abnormally", err)
	}

	slog.Info("shutdown complete")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/propscout/api"
	"github.com/c360studio/propscout/config"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				if addr == "" {
					addr = app.cfg.Server.Addr
				}
				return serve(ctx, g, app, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

func serve(ctx context.Context, g *globals, app *App, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if path := g.watchPath(); path != "" {
		w, err := config.NewWatcher(path, config.NewLoader(g.logger), app.Apply, g.logger)
		if err != nil {
			g.logger.Warn("Config reload disabled", "path", path, "error", err)
		} else {
			defer w.Close()
			go w.Run(ctx)
		}
	}

	handler := api.NewHandler(app.engine, app.metrics.Handler(), g.logger)
	srv := &http.Server{
		Handler:           handler.ServeMux(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	g.logger.Info("PropScout API listening", "addr", ln.Addr().String(), "version", Version)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	g.logger.Info("Received shutdown signal")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("Error stopping server", "error", err)
	}
	g.logger.Info("PropScout shutdown complete")
	return nil
}

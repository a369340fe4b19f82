package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "github.com/aretw0/stash/pkg/adapters/http"
	"github.com/aretw0/stash/pkg/observability"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP server",
	Long: `Serves the session API over HTTP, exposes Prometheus metrics on /metrics
and runs the scheduled sweeps until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := context.WithCancel(cmd.Context())
		defer stop()

		metrics, err := observability.NewMetrics(nil)
		if err != nil {
			return err
		}
		s, cfg, logger, err := openStash(ctx, cmd, metrics)
		if err != nil {
			return err
		}
		defer s.Close()

		addr := cfg.HTTP.Addr
		if flag, _ := cmd.Flags().GetString("addr"); flag != "" {
			addr = flag
		}

		if err := s.Start(ctx); err != nil {
			return err
		}

		srv := &http.Server{
			Addr: addr,
			Handler: httpAdapter.NewHandler(s,
				httpAdapter.WithSweeper(s),
				httpAdapter.WithMetrics(metrics.Handler()),
				httpAdapter.WithLogger(logger),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			logger.Info("Starting Stash Server", "addr", srv.Addr, "backing", cfg.Backing.Type, "cache", cfg.Cache.Type)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("Start shutdown", "signal", sig.String())

			// Give outstanding requests a deadline for completion.
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					logger.Error("Error killing server", "err", err)
				}
			}
			logger.Info("Stash Server stopped gracefully")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides http.addr)")
}

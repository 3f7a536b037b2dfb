package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/valuerun/valuerun/internal/httpapi"
	"github.com/valuerun/valuerun/internal/metrics"
	"github.com/valuerun/valuerun/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), time.Time{})
			if err != nil {
				return err
			}
			defer a.Close()

			prom := prometheus.NewRegistry()
			telemetry.NewRegistry().MustRegister(prom)

			cfg := httpapi.DefaultConfig()
			if a.cfg.HTTP.Addr != "" {
				cfg.Addr = a.cfg.HTTP.Addr
			}
			if addr != "" {
				cfg.Addr = addr
			}

			hub := httpapi.NewHub()
			server := httpapi.NewServer(cfg, a.memo(), metrics.IDs(), prom, hub)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/apaas-client/pkg/client"
	"github.com/Sternrassler/apaas-client/pkg/logging"
	"github.com/Sternrassler/apaas-client/pkg/metrics"
	"github.com/spf13/cobra"
)

const (
	readyTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

func (a *app) newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, readiness and Prometheus metrics endpoints",
		Long: `Start an HTTP server exposing /health, /ready and /metrics.

/ready reports 200 once the configured credentials yield a valid token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := a.newClient()
			if err != nil {
				return err
			}
			defer release()

			return serve(cmd.Context(), addr, newServeMux(c))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func newServeMux(c *client.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(c))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// serve runs the server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	log := logging.NewLogger("serve")

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

func readyHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.TokenRemaining() > 0 {
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, "OK")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := c.Init(ctx); err != nil {
			http.Error(w, fmt.Sprintf("not ready: %s: %v", client.Kind(err), err), http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "OK")
	}
}

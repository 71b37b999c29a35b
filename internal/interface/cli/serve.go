package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeplay/internal/adapter/controller/httpapi"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take on exit
const shutdownTimeout = 10 * time.Second

// serveFlags holds the flags for serve
type serveFlags struct {
	addr string
}

func newServeCommand(s *session) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Own run timers and serve health, metrics and run control",
		Long: `Recover every run left non-terminal and keep their timers running.
Runs changed by other processes sharing the database are picked up every
sync_interval. Serves /healthz, /metrics, /runs and /steps/{id}/approve
until interrupted; run commands given --server go through these endpoints.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := flags.addr
			if addr == "" {
				addr = s.config.MetricsAddr()
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			return s.serve(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address (default from settings)")
	return cmd
}

// serve blocks until ctx is done, then shuts the server and the orchestrator down
func (s *session) serve(ctx context.Context, ln net.Listener) error {
	c, err := s.Container()
	if err != nil {
		ln.Close()
		return err
	}
	tenant, err := s.tenant()
	if err != nil {
		ln.Close()
		return err
	}
	if err := c.Start(ctx); err != nil {
		ln.Close()
		return err
	}
	c.GetOrchestrator().StartSync(s.config.SyncInterval())

	server := &http.Server{
		Handler: httpapi.NewHandler(httpapi.Deps{
			Runs:          c.GetRunUseCase(),
			Approvals:     c.GetApprovalUseCase(),
			Gatherer:      c.GetRegistry(),
			DefaultTenant: tenant,
			Logger:        s.logger,
			Health:        c.Ping,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	s.logger.WithField("addr", ln.Addr().String()).Info("serving")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

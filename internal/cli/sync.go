package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/avcs/internal/doc"
	"github.com/roach88/avcs/internal/machine"
	"github.com/roach88/avcs/internal/metrics"
	"github.com/roach88/avcs/internal/remote"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <url>",
		Short: "Exchange history with a peer served by avcs serve",
		Long: `Pull the peer's history, merge it into the current action and push
back what the peer lacks. An uninitialized history clones the peer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				client := remote.NewClient[doc.Op, doc.Undo](args[0],
					remote.WithPageSize(s.cfg.Sync.PageSize),
					remote.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
				a, err := s.machine.Sync(ctx, client)
				if err != nil {
					return f.Fail("sync", err)
				}
				return f.Success(viewOf(a), "at "+label(a))
			})
		},
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string
	var withMetrics bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the history to syncing peers",
		Long: `Serve the history over HTTP so peers can sync with it.

An uninitialized history is initialized first. With --metrics, operation
counters are exposed in Prometheus format at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			var extra []machine.Option
			if withMetrics {
				obs, err := metrics.New(reg)
				if err != nil {
					return f.Fail("serve", err)
				}
				extra = append(extra, machine.WithObserver(obs))
			}

			s, err := openSession(ctx, opts, cmd.ErrOrStderr(), extra...)
			if err != nil {
				return f.Fail("serve", err)
			}
			defer s.Close()

			if !s.initialized {
				a, err := s.machine.Init(ctx)
				if err != nil {
					return f.Fail("serve", err)
				}
				s.initialized = true
				s.logger.Info("initialized history for serving", "id", a.ID)
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newServeRouter(s, reg, withMetrics),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serve(ctx, srv, s, f)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":7420", "listen address")
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "expose /metrics")
	return cmd
}

func newServeRouter(s *session, reg *prometheus.Registry, withMetrics bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	remote.NewServer[doc.Op, doc.Undo](s.machine, s.logger).Routes(r)
	if withMetrics {
		r.Handle("/metrics", metrics.Handler(reg))
	}
	return r
}

// serve runs srv until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, srv *http.Server, s *session, f *OutputFormatter) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving history", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return f.Fail("serve", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return f.Fail("serve", fmt.Errorf("shutdown: %w", err))
	}
	s.logger.Info("server stopped")
	return nil
}

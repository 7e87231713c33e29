package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kashoo/filetoolkit/internal/observability"
)

func newSyncCmd() *cobra.Command {
	var watch bool
	var drainPoll time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued blobs to the remote",
		Long: `Push queued blobs to the remote.

Opening the store replays every queued blob. Without --watch the command
exits once the queue drains; with --watch it keeps running, retrying failed
uploads and serving metrics, until interrupted.

Examples:
  filetool sync
  filetool sync --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			coord := &observability.ShutdownCoordinator{}

			if watch && cfg.Tracing.Enabled {
				tp, err := observability.InitTracer(ctx, observability.TracerConfig{
					Endpoint:       cfg.Tracing.Endpoint,
					Protocol:       cfg.Tracing.Protocol,
					ServiceName:    "filetool",
					ServiceVersion: "dev",
				})
				if err != nil {
					return fmt.Errorf("init tracer: %w", err)
				}
				coord.Register("tracer", tp.Shutdown)
			}

			st, err := openStores(ctx, cfg, false)
			if err != nil {
				return err
			}
			coord.Register("store", func(context.Context) error {
				st.close(false)
				return nil
			})

			if watch && cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(st.metrics.Registry, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					slog.Info("metrics listening", "addr", cfg.Metrics.Listen)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Error("metrics server failed", "error", err)
					}
				}()
				coord.Register("metrics", srv.Shutdown)
			}

			failures := st.unified.Subscribe()
			go func() {
				for f := range failures {
					fmt.Fprintf(os.Stderr, "upload failed: %s: %v\n", f.ID, f.Err)
				}
			}()

			err = waitForDrain(ctx, st, watch, drainPoll)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if cErr := coord.Shutdown(shutdownCtx); err == nil {
				err = cErr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running, retrying failures and serving metrics")
	cmd.Flags().DurationVar(&drainPoll, "poll", time.Second, "queue poll interval")

	return cmd
}

// waitForDrain blocks until the queue empties, or forever in watch mode,
// retrying queued blobs each poll.
func waitForDrain(ctx context.Context, st *stores, watch bool, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if watch {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			queued, err := st.unified.Queued()
			if err != nil {
				return err
			}
			if len(queued) == 0 {
				if !watch {
					slog.Info("queue drained")
					return nil
				}
				continue
			}
			if watch {
				st.unified.Retry(queued)
			}
		}
	}
}

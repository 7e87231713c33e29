package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kashoo/filetoolkit/internal/blobstore/cache"
	"github.com/kashoo/filetoolkit/internal/blobstore/remote"
	"github.com/kashoo/filetoolkit/internal/blobstore/unified"
	"github.com/kashoo/filetoolkit/internal/config"
	"github.com/kashoo/filetoolkit/internal/observability"
	"github.com/kashoo/filetoolkit/internal/storage"

	// Register remote backends.
	_ "github.com/kashoo/filetoolkit/internal/blobstore/remote/s3"
)

// loadConfig loads the layered configuration and applies persistent-flag
// overrides, then installs the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("remote-backend"); v != "" {
		cfg.Remote.Backend = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}

	observability.SetupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return cfg, nil
}

type stores struct {
	unified *unified.Store
	cache   *cache.Store
	metrics *observability.Metrics
}

// openStores builds the full tier stack from configuration. One-shot client
// commands pass waitRemote to get the push outcome synchronously.
func openStores(ctx context.Context, cfg *config.Config, waitRemote bool, extra ...unified.Option) (*stores, error) {
	dataDir := storage.ExpandPath(cfg.DataDir)

	rem, err := remote.New(ctx, cfg.Remote.Backend, cfg.Remote.Options)
	if err != nil {
		return nil, fmt.Errorf("remote backend: %w", err)
	}

	metrics := observability.NewMetrics()

	cs, err := cache.New(rem, filepath.Join(dataDir, "cache"), cache.Config{
		MaximumCacheSize:  cfg.Cache.MaximumSizeBytes,
		MinimumDeviceFree: cfg.Cache.MinimumDeviceFreeBytes,
		TargetDeviceFree:  cfg.Cache.TargetDeviceFreeBytes,
		PruneInterval:     cfg.Cache.PruneInterval,
	}, metrics)
	if err != nil {
		return nil, err
	}

	opts := []unified.Option{unified.WithWorkers(cfg.Upload.Workers)}
	if waitRemote || cfg.Upload.WaitForRemote {
		opts = append(opts, unified.WaitForRemote())
	}
	opts = append(opts, extra...)

	us, err := unified.New(filepath.Join(dataDir, "queue"), cs, metrics, opts...)
	if err != nil {
		_ = cs.Shutdown(true)
		return nil, err
	}

	return &stores{unified: us, cache: cs, metrics: metrics}, nil
}

func (s *stores) close(immediate bool) {
	_ = s.unified.Shutdown(immediate)
}

// commandContext returns a context honoring the command's timeout flag.
func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return cmd.Context(), func() {}
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

package main

import (
	"github.com/spf13/cobra"
)

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Run one cache eviction pass",
		Long: `Run one cache eviction pass.

Evicts least-recently-accessed blobs when the cache exceeds its size cap or
device free space falls below the configured minimum.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			st, err := openStores(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer st.close(true)

			st.cache.Prune()
			return nil
		},
	}
	return cmd
}

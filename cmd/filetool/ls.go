package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List local copies",
		Long:  "List blobs held locally: queued for upload and cached.",
		Args:  cobra.NoArgs,
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

			queued, err := st.unified.Queued()
			if err != nil {
				return err
			}
			cached, err := st.cache.Cached()
			if err != nil {
				return err
			}

			for _, id := range queued {
				fmt.Printf("queued  %s\n", id)
			}
			for _, id := range cached {
				fmt.Printf("cached  %s\n", id)
			}
			return nil
		},
	}
	return cmd
}

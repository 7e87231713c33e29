package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kashoo/filetoolkit/internal/blobstore/unified"
)

func newRmCmd() *cobra.Command {
	var strict bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove local copies",
		Long: `Remove the local copies of a blob from both tiers.

The remote object is never deleted; the protocol has no delete. By default
the command succeeds when at least one tier held a copy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			var opts []unified.Option
			if strict {
				opts = append(opts, unified.StrictDelete())
			}
			st, err := openStores(ctx, cfg, false, opts...)
			if err != nil {
				return err
			}
			defer st.close(true)

			if err := st.unified.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("removed: %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail unless both tiers removed a copy")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout")

	return cmd
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatCmd() *cobra.Command {
	var localOnly bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stat <id>",
		Short: "Show blob metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			st, err := openStores(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer st.close(true)

			id := args[0]
			meta, err := st.unified.MetadataNow(id)
			if err != nil && !localOnly {
				meta, err = st.unified.Metadata(ctx, id)
			}
			if err != nil {
				return err
			}

			fmt.Printf("id:        %s\n", id)
			fmt.Printf("size:      %d\n", meta.Size)
			fmt.Printf("filename:  %s\n", meta.Filename)
			fmt.Printf("mime-type: %s\n", meta.MIMEType)
			return nil
		},
	}

	cmd.Flags().BoolVar(&localOnly, "local", false, "consult local copies only")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout")

	return cmd
}

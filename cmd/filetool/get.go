package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kashoo/filetoolkit/pkg/transform"
)

func newGetCmd() *cobra.Command {
	var outputFile string
	var decompress bool
	var localOnly bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a blob",
		Long: `Retrieve a blob by identifier.

Local copies (queued or cached) answer instantly; otherwise the payload is
downloaded from the remote and cached. Use --local to fail instead of
touching the network.

Examples:
  filetool get invoice-2026-001                # print to stdout
  filetool get invoice-2026-001 -f report.pdf  # save to file
  filetool get --local invoice-2026-001        # cached copies only`,
		Args: cobra.ExactArgs(1),
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
			var data []byte
			if localOnly {
				data, err = st.unified.DataNow(id)
			} else {
				data, err = st.unified.Data(ctx, id)
			}
			if err != nil {
				return err
			}

			if decompress {
				data, err = transform.Decompress(data)
				if err != nil {
					return err
				}
			}

			if outputFile != "" {
				if err := os.WriteFile(outputFile, data, 0o600); err != nil {
					return fmt.Errorf("write file: %w", err)
				}
				fmt.Printf("retrieved: %s (%d bytes) -> %s\n", id, len(data), outputFile)
				return nil
			}

			_, err = os.Stdout.Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&outputFile, "file", "f", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&decompress, "decompress", false, "zstd-decompress the payload")
	cmd.Flags().BoolVar(&localOnly, "local", false, "serve from local copies only, never the network")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout")

	return cmd
}

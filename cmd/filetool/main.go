package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "filetool",
		Short: "Tiered blob storage toolkit",
		Long: `Tiered blob storage: a durable write-ahead queue in front of a
caching remote store.

Writes land on local disk immediately and are pushed to the remote in the
background. Reads come from the queue, then the cache, then the network.

Client commands:
  filetool put <file>      Store a blob
  filetool get <id>        Retrieve a blob
  filetool stat <id>       Show blob metadata
  filetool ls              List local copies
  filetool rm <id>         Remove local copies

Maintenance commands:
  filetool sync            Push queued blobs to the remote
  filetool prune           Run one cache eviction pass`,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.String("data-dir", "", "data directory (default ~/.filetoolkit)")
	pf.String("remote-backend", "", "remote backend: http, s3, memory")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (pretty, json, text)")

	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newStatCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newPruneCmd())

	return rootCmd.ExecuteContext(context.Background())
}

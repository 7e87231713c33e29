package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kashoo/filetoolkit/internal/blobstore"
	"github.com/kashoo/filetoolkit/pkg/transform"
)

func newPutCmd() *cobra.Command {
	var id string
	var mimeType string
	var compress bool
	var encryptCert string
	var background bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a blob",
		Long: `Store a blob.

The payload is written durably to the write-ahead queue and pushed to the
remote. By default the command waits for the push; use --background to
return as soon as the payload is queued.

Examples:
  filetool put report.pdf
  filetool put --id invoice-2026-001 report.pdf
  filetool put --compress --background big-export.csv
  cat data | filetool put --id raw-dump -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			filename := args[0]
			var data []byte
			if filename == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(filename)
			}
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}

			if id == "" {
				id = uuid.NewString()
			}
			meta := blobstore.Metadata{
				Filename: filepath.Base(filename),
				MIMEType: mimeType,
			}
			if filename == "-" {
				meta.Filename = id
			}
			if meta.MIMEType == "" {
				meta.MIMEType = detectMIME(meta.Filename)
			}

			if compress {
				data = transform.Compress(data)
			}
			if encryptCert != "" {
				certPEM, err := os.ReadFile(encryptCert)
				if err != nil {
					return fmt.Errorf("read certificate: %w", err)
				}
				enc, err := transform.NewEncryptor(certPEM)
				if err != nil {
					return err
				}
				data, err = enc.Encrypt(data)
				if err != nil {
					return err
				}
				fmt.Printf("encrypted-key: %x\n", enc.EncryptedKey())
			}

			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			st, err := openStores(ctx, cfg, !background)
			if err != nil {
				return err
			}
			defer st.close(background)

			if err := st.unified.Store(ctx, id, data, meta); err != nil {
				return err
			}

			status := "stored"
			if background {
				status = "queued"
			}
			fmt.Printf("%s: %s (%d bytes)\n", status, id, len(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "blob identifier (default: random UUID)")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "MIME type (default: from file extension)")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress the payload before storing")
	cmd.Flags().StringVar(&encryptCert, "encrypt-cert", "", "encrypt with the X.509 certificate at this path")
	cmd.Flags().BoolVar(&background, "background", false, "return once queued, push in the background")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout")

	return cmd
}

func detectMIME(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

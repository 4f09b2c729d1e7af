package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/secretcache/pkg/secretstore"
)

func NewPutCommand(opts *Options) *cobra.Command {
	var (
		valueFlag   string
		valueFile   string
		fromStdin   bool
		contentType string
		expiresIn   time.Duration
		tags        []string
	)

	cmd := &cobra.Command{
		Use:   "put <name>",
		Short: "Write a new version of a secret",
		Long: `Write a new version of the named secret to the configured store.
Existing versions are never overwritten; the store assigns a fresh
version identifier, which is printed on success.

The value comes from --stdin (preferred, never touches shell history),
--file, or --value.

Examples:
  # Read the value from stdin (recommended)
  secretcache put database-url --stdin < value.txt

  # Read the value from a file
  secretcache put tls-key --file key.pem

  # Inline value (visible in shell history; development only)
  secretcache put database-url --value "postgres://..."

  # With attributes
  secretcache put tls-cert --stdin --content-type application/x-pem-file \
    --expires-in 2160h --tag team=platform`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, set := range []bool{valueFlag != "", valueFile != "", fromStdin} {
				if set {
					sources++
				}
			}
			if sources == 0 {
				return fmt.Errorf("provide the value with --stdin, --file, or --value")
			}
			if sources > 1 {
				return fmt.Errorf("--stdin, --file, and --value are mutually exclusive")
			}

			value := []byte(valueFlag)
			switch {
			case fromStdin:
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read value from stdin: %w", err)
				}
				value = data
			case valueFile != "":
				data, err := os.ReadFile(valueFile)
				if err != nil {
					return fmt.Errorf("failed to read value file: %w", err)
				}
				value = data
			}
			if len(value) == 0 {
				return fmt.Errorf("refusing to write an empty secret value")
			}

			putOpts := secretstore.PutOptions{ContentType: contentType}
			if expiresIn > 0 {
				expiry := time.Now().Add(expiresIn)
				putOpts.ExpiresAt = &expiry
			}
			if len(tags) > 0 {
				putOpts.Tags = make(map[string]string, len(tags))
				for _, tag := range tags {
					key, val, ok := strings.Cut(tag, "=")
					if !ok {
						return fmt.Errorf("invalid tag %q: expected key=value", tag)
					}
					putOpts.Tags[key] = val
				}
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := opts.buildStore(cfg)
			if err != nil {
				return err
			}

			written, err := store.Put(context.Background(), args[0], value, putOpts)
			if err != nil {
				return withSuggestion(err)
			}

			opts.logger().Info("Wrote %s version %s", args[0], written.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&valueFlag, "value", "", "Secret value (prefer --stdin)")
	cmd.Flags().StringVar(&valueFile, "file", "", "Read the secret value from a file")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the secret value from stdin")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type attribute")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expiry relative to now, e.g. 720h")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Tag as key=value (repeatable)")

	return cmd
}

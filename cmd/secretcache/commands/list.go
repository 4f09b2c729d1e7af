package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/secretcache/pkg/secretstore"
)

func NewListCommand(opts *Options) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets in the configured store",
		Long: `List secret metadata (names, versions, expiry) from the configured
store. Values are never fetched or displayed.

Listing goes straight to the store and bypasses the cache.

Examples:
  secretcache list
  secretcache list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			store, err := opts.buildStore(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			var all []secretstore.SecretMetadata
			pager := store.List()
			for pager.More() {
				page, err := pager.NextPage(ctx)
				if err != nil {
					return withSuggestion(err)
				}
				all = append(all, page...)
			}

			if jsonOutput {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(all)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tENABLED\tEXPIRES\tUPDATED")
			for _, meta := range all {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
					meta.Name,
					orDash(meta.Version),
					meta.Enabled,
					formatExpiry(meta.ExpiresAt),
					formatTime(meta.UpdatedAt),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

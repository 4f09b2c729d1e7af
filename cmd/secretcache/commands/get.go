package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/secretcache/pkg/secretstore"
)

func NewGetCommand(opts *Options) *cobra.Command {
	var (
		version    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Get a single secret value",
		Long: `Retrieve and display a single secret value.

The value is fetched through the caching resolver and printed to stdout.
By default only the raw value is printed, making it suitable for
scripting.

Examples:
  # Get the current version
  secretcache get database-url

  # Get a specific version
  secretcache get database-url --version 3f2a

  # Get value with metadata in JSON format
  secretcache get api-key --json

  # Use in scripts
  export DB_URL=$(secretcache get database-url)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			r, err := opts.buildResolver(cfg)
			if err != nil {
				return err
			}

			ref := secretstore.Reference{Name: args[0], Version: version}
			val, err := r.Get(context.Background(), ref)
			if err != nil {
				return withSuggestion(err)
			}

			if jsonOutput {
				output := map[string]interface{}{
					"name":    args[0],
					"value":   string(val.Value),
					"version": val.Version,
				}
				if val.ContentType != "" {
					output["contentType"] = val.ContentType
				}
				if val.ExpiresAt != nil {
					output["expiresAt"] = val.ExpiresAt
				}
				if len(val.Tags) > 0 {
					output["tags"] = val.Tags
				}

				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(output)
			}

			fmt.Print(string(val.Value))
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Specific version to fetch (default: current)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format with metadata")

	return cmd
}

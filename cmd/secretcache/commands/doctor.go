package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewDoctorCommand(opts *Options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials, and store connectivity",
		Long: `Run connectivity and permission checks against the configured store
without touching any secret values:

  1. parse and validate the config file
  2. build the credential chain and acquire a token (chain stores only)
  3. probe the store with a minimal listing request

Examples:
  secretcache doctor
  secretcache doctor --timeout 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			fmt.Println("🩺 secretcache doctor")
			fmt.Println()

			cfg, err := opts.loadConfig()
			if err != nil {
				fmt.Printf("❌ Config: %v\n", err)
				return fmt.Errorf("doctor found problems")
			}
			fmt.Printf("✅ Config: store type %q\n", cfg.Store.Type)

			chain, err := cfg.BuildChain()
			if err != nil {
				fmt.Printf("❌ Credentials: %v\n", err)
				return fmt.Errorf("doctor found problems")
			}
			if cfg.Store.Type == "httpapi" {
				token, err := chain.Resolve(ctx)
				if err != nil {
					fmt.Printf("❌ Credentials: %v\n", err)
					return fmt.Errorf("doctor found problems")
				}
				fmt.Printf("✅ Credentials: token acquired, expires %s\n",
					token.ExpiresAt.Format(time.RFC3339))
			} else {
				fmt.Println("✅ Credentials: store uses its own SDK credentials")
			}

			store, err := opts.buildStore(cfg)
			if err != nil {
				fmt.Printf("❌ Store: %v\n", err)
				return fmt.Errorf("doctor found problems")
			}
			if err := store.Validate(ctx); err != nil {
				fmt.Printf("❌ Store %s: %v\n", store.Name(), err)
				return fmt.Errorf("doctor found problems")
			}
			fmt.Printf("✅ Store %s: reachable with list permission\n", store.Name())

			fmt.Println()
			fmt.Println("All checks passed.")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Overall timeout for the checks")

	return cmd
}

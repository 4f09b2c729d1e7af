package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/systmms/secretcache/cmd/secretcache/commands"
	"github.com/systmms/secretcache/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Wipe enclave-backed buffers on exit, including panics.
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		memguard.Purge()
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	var (
		configFile string
		noColor    bool
		debug      bool
	)

	opts := &commands.Options{}

	rootCmd := &cobra.Command{
		Use:   "secretcache",
		Short: "Cached secret resolution across stores",
		Long: `secretcache resolves secrets and configuration values from a remote
store (generic HTTP API, Azure Key Vault, AWS Secrets Manager, or Google
Secret Manager) with in-memory caching, request de-duplication, and
retry on transient failures.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.ConfigPath = configFile
			opts.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "secretcache.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewGetCommand(opts),
		commands.NewListCommand(opts),
		commands.NewPutCommand(opts),
		commands.NewLoginCommand(opts),
		commands.NewDoctorCommand(opts),
	)

	return rootCmd.Execute()
}

package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/secretcache/pkg/credential"
)

func NewLoginCommand(opts *Options) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "login <account>",
		Short: "Store a developer token in the OS keyring",
		Long: `Store a bearer token in the OS keyring (macOS Keychain, Linux Secret
Service, Windows Credential Manager) for the keyring credential provider
to use. The token is read from stdin and never written to disk.

The account name links the stored token to a credentials entry:

  credentials:
    - type: keyring
      account: vault.example.com

Examples:
  # Store a token (prompted on stdin)
  secretcache login vault.example.com

  # Pipe a token in
  az account get-access-token --query accessToken -o tsv | \
    secretcache login vault.example.com

  # Remove a stored token
  secretcache login vault.example.com --remove`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := args[0]

			if remove {
				if err := credential.DeleteLogin(account); err != nil {
					return fmt.Errorf("failed to remove login: %w", err)
				}
				opts.logger().Info("Removed stored login for %s", account)
				return nil
			}

			stat, _ := os.Stdin.Stat()
			if stat != nil && stat.Mode()&os.ModeCharDevice != 0 {
				fmt.Fprintf(os.Stderr, "Paste token for %s (input is not echoed back): ", account)
			}

			reader := bufio.NewReader(os.Stdin)
			token, err := reader.ReadString('\n')
			if err != nil && token == "" {
				return fmt.Errorf("failed to read token: %w", err)
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("empty token")
			}

			if err := credential.StoreLogin(account, token); err != nil {
				return fmt.Errorf("failed to store login: %w", err)
			}

			opts.logger().Info("Stored login for %s in the OS keyring", account)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the stored token instead")

	return cmd
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jdelaire/tgate/internal/keychain"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Store gateway secrets in the OS keychain",
	Long: `Store or remove secrets in the OS keychain. Accounts:
  ` + strings.Join(keychain.Accounts, "\n  "),
}

var secretSetCmd = &cobra.Command{
	Use:   "set <account>",
	Short: "Read a secret from stdin and store it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		value := strings.TrimSpace(line)
		if value == "" {
			if err != nil {
				return fmt.Errorf("read secret: %w", err)
			}
			return errors.New("empty secret")
		}
		if err := keychain.Set(args[0], value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <account>",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := keychain.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)
}

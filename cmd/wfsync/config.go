package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clintrovert/wfsync/internal/config"
)

func configCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(configShowCmd(c))
	cmd.AddCommand(configValidateCmd(c))
	return cmd
}

func configShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(c.cfg.Masked())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func configValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for missing settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}
}

func secretCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials in the keyring",
		Long: `Manage credentials in the keyring. A config value of the form
keyring:<key> is replaced with the stored credential at startup.`,
	}
	cmd.AddCommand(secretSetCmd(c))
	return cmd
}

func secretSetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key>",
		Short: "Store a credential read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			value = strings.TrimSpace(value)
			if value == "" {
				if err != nil {
					return fmt.Errorf("reading credential: %w", err)
				}
				return fmt.Errorf("empty credential for %q", args[0])
			}

			ring, err := config.OpenKeyring(c.cfg.Keyring)
			if err != nil {
				return err
			}
			if err := ring.Set(keyring.Item{Key: args[0], Data: []byte(value)}); err != nil {
				return fmt.Errorf("storing credential %q: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stored %s%s\n", config.SecretPrefix, args[0])
			return nil
		},
	}
}

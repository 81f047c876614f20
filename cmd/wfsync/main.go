package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/config"
)

type cli struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "wfsync",
		Short: "Synchronize Workfront projects with Jira and the CRM",
		Long: `wfsync keeps Workfront development projects, Jira projects and CRM
opportunities in step. It creates Jira projects and issues for Workfront
work, copies Jira progress and work log back to Workfront, and mirrors CRM
opportunities and accounts into Workfront picklists.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.Log.NewLogger()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "config file")

	root.AddCommand(runCmd(c))
	root.AddCommand(onceCmd(c))
	root.AddCommand(stateCmd(c))
	root.AddCommand(configCmd(c))
	root.AddCommand(keysCmd(c))
	root.AddCommand(secretCmd(c))

	return root
}

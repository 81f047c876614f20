package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/clintrovert/wfsync/internal/store"
)

func stateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or change the sync state",
	}
	cmd.AddCommand(stateShowCmd(c))
	cmd.AddCommand(stateSetCmd(c))
	return cmd
}

func stateShowCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the watermark and the most recent cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewSQLiteStore(c.cfg.Sync.StateDB)
			if err != nil {
				return err
			}
			defer st.Close()

			watermark, err := st.Load(cmd.Context())
			if err != nil {
				return err
			}
			cycles, err := st.RecentCycles(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watermark: %s\n", watermark.Format(time.RFC3339))
			if len(cycles) == 0 {
				fmt.Fprintln(out, "no cycles recorded")
				return nil
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"ID", "Started", "Duration", "Projects", "Requests", "Error"})
			for _, cy := range cycles {
				tw.AppendRow(table.Row{
					cy.ID,
					cy.StartedAt.Format(time.RFC3339),
					cy.FinishedAt.Sub(cy.StartedAt).Round(time.Millisecond),
					cy.Projects,
					cy.Requests,
					cy.Error,
				})
			}
			tw.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of cycles to show")
	return cmd
}

func stateSetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set <RFC3339 time>",
		Short: "Move the watermark",
		Long: `Move the watermark. The next run lists Workfront changes and Jira
work log from this time on.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return fmt.Errorf("invalid time %q: %w", args[0], err)
			}

			st, err := store.NewSQLiteStore(c.cfg.Sync.StateDB)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Save(cmd.Context(), t); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watermark set to %s\n", t.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

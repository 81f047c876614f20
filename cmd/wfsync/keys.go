package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/clintrovert/wfsync/internal/database"
	"github.com/clintrovert/wfsync/internal/jira"
	"github.com/clintrovert/wfsync/pkg/types"
)

func keysCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Work with Jira project keys",
	}
	cmd.AddCommand(keysPreviewCmd(c))
	return cmd
}

func keysPreviewCmd(c *cli) *cobra.Command {
	var project types.Project

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the Jira key and name a Workfront project would get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.ResolveSecrets(openKeyring(c.cfg)); err != nil {
				return err
			}

			db, err := database.Open(cmd.Context(), c.cfg.Jira.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			query := jira.NewQuery(db, c.cfg.JiraQuery(), c.logger.Named("jira"))
			alloc := jira.NewAllocator(query, c.cfg.Synchronizer().KeyPrefixes, c.logger.Named("allocator"))

			key, err := alloc.ProjectKey(cmd.Context(), &project)
			if err != nil {
				return err
			}
			name, err := alloc.ProjectName(cmd.Context(), &project)
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Program", "Workfront Name", "Jira Key", "Jira Name"})
			tw.AppendRow(table.Row{project.Program, project.Name, key, name})
			tw.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&project.Program, "program", "", "Workfront program")
	cmd.Flags().StringVar(&project.Name, "name", "", "Workfront project name")
	cmd.Flags().StringVar(&project.JiraProjectKey, "key", "", "requested Jira key")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

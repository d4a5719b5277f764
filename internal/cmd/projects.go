package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage ingested projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		projects, err := a.engine.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(map[string]any{"projects": projects, "count": len(projects)})
	},
}

var projectsShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show one project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		project, err := a.engine.GetProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(project)
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project and its vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.coordinator.DeleteProject(cmd.Context(), args[0]); err != nil {
			return err
		}
		color.Green("Deleted %s", args[0])
		return nil
	},
}

var projectsStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the status of an ingestion session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		session, err := a.coordinator.GetSession(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (%.0f%%)\n", session.SessionID, session.Status, session.Progress*100)
		return printResult(session)
	},
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsShowCmd)
	projectsCmd.AddCommand(projectsDeleteCmd)
	projectsCmd.AddCommand(projectsStatusCmd)
}

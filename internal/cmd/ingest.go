package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/codeatlas/atlas/internal/ingest"
	"github.com/codeatlas/atlas/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path|url]",
	Short: "Ingest a local directory or git repository into a project",
	Long: `Ingest source code into a new project.

A local path is walked directly; an https git URL is shallow-cloned
first. Files are parsed, the entity graph is written, and embeddings
are generated. The command waits for the pipeline to finish and prints
the resulting project id.

Examples:
  atlas ingest ./myapp --name myapp
  atlas ingest https://github.com/acme/widget --name widget --branch main`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var (
	ingestName   string
	ingestOwner  string
	ingestBranch string
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestName, "name", "", "Project name (default: base name of the path)")
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "cli", "Owner id recorded on the project")
	ingestCmd.Flags().StringVar(&ingestBranch, "branch", "", "Branch to clone (git URLs only)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	source := args[0]
	name := ingestName
	if name == "" {
		name = filepath.Base(source)
	}

	var session *model.Session
	if ingest.ValidateRepoURL(source) == nil {
		session, err = a.coordinator.UploadFromSourceControl(ctx, name, source, ingestOwner, ingestBranch)
	} else {
		files, collectErr := ingest.CollectFiles(source, ingest.CloneOptions{
			Exclude:      a.cfg.Upload.Exclude,
			MaxFiles:     a.cfg.Upload.MaxUploadFiles,
			MaxFileBytes: int64(a.cfg.Upload.MaxFileSizeMB) << 20,
		})
		if collectErr != nil {
			return collectErr
		}
		session, err = a.coordinator.UploadProject(ctx, name, files, ingestOwner)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Session %s started for project %s\n", session.SessionID, session.ProjectID)
	return waitForSession(ctx, a, session.SessionID)
}

func waitForSession(ctx context.Context, a *app, sessionID string) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("processing"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		session, err := a.coordinator.GetSession(sessionID)
		if err != nil {
			return err
		}
		bar.Set(int(session.Progress * 100))

		switch session.Status {
		case model.SessionCompleted:
			bar.Finish()
			color.Green("Ingestion completed")
			return printResult(map[string]any{
				"session_id": session.SessionID,
				"project_id": session.ProjectID,
				"statistics": session.Statistics,
				"errors":     session.Errors,
			})
		case model.SessionFailed:
			bar.Finish()
			color.Red("Ingestion failed")
			if len(session.Errors) > 0 {
				return fmt.Errorf("%s", session.Errors[len(session.Errors)-1])
			}
			return fmt.Errorf("ingestion failed")
		}
	}
}

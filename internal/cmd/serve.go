package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/ingest"
	"github.com/codeatlas/atlas/internal/server"
	"github.com/codeatlas/atlas/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server.

Serves uploads, project management, structural and semantic queries,
context assembly, visualization, and snippet analysis. Prometheus
metrics are exposed on /metrics.

Examples:
  atlas serve                      # Listen on the configured host:port
  atlas serve --port 9000          # Override the port`,
	RunE: runServe,
}

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the configured port")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if servePort > 0 {
		a.cfg.Server.Port = servePort
	}

	// Drain broker jobs in this process when a broker is configured.
	// Publishes from other instances land here.
	if a.broker != nil && a.broker.Reachable() {
		go func() {
			if err := a.broker.Subscribe(ctx, func(job ingest.Job) {
				a.coordinator.ProcessProject(ctx, job)
			}); err != nil {
				a.logger.Warn("broker subscription failed", zap.Error(err))
			}
		}()
	}

	srv := server.New(a.cfg, a.coordinator, a.engine, a.assembler, a.analyzer,
		telemetry.New(), Version, a.logger)
	return srv.Run(ctx)
}

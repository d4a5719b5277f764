package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeatlas/atlas/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

This lets AI agents query the code graph through MCP tools instead of
HTTP calls or CLI commands.

Available Tools:
  atlas_search        Semantic search over ingested projects
  atlas_context       Token-budgeted context assembly
  atlas_callers       Who calls a function
  atlas_dependencies  What a function depends on
  atlas_impact        Blast radius of a change
  atlas_graph         Visualization projection
  atlas_hotspots      Centrality ranking
  atlas_projects      List ingested projects

Examples:
  atlas mcp                                # Start with default tools
  atlas mcp --tools search,impact          # Expose specific tools only
  atlas mcp --timeout 30m                  # Auto-stop after inactivity
  atlas mcp --list-tools                   # Show available tools`,
	RunE: runMCP,
}

var (
	mcpTools     string
	mcpTimeout   string
	mcpListTools bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().StringVar(&mcpTools, "tools", "", "Comma-separated list of tools to expose (default: search,context,callers,dependencies,impact)")
	mcpCmd.Flags().StringVar(&mcpTimeout, "timeout", "30m", "Inactivity timeout (0 for no timeout)")
	mcpCmd.Flags().BoolVar(&mcpListTools, "list-tools", false, "List available tools")
}

func runMCP(cmd *cobra.Command, args []string) error {
	if mcpListTools {
		fmt.Println("Available MCP tools:")
		fmt.Println()
		for _, tool := range mcp.AllTools {
			fmt.Printf("  %s\n", tool)
		}
		fmt.Println()
		fmt.Printf("Default set: %s\n", strings.Join(mcp.DefaultTools, ", "))
		return nil
	}

	timeout, err := parseDuration(mcpTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	var tools []string
	if mcpTools != "" {
		for _, t := range strings.Split(mcpTools, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			// Allow shorthand (search -> atlas_search)
			if !strings.HasPrefix(t, "atlas_") {
				t = "atlas_" + t
			}
			tools = append(tools, t)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	srv, err := mcp.New(mcp.Config{
		Tools:   tools,
		Timeout: timeout,
		Version: Version,
	}, a.engine, a.assembler, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Startup info goes to stderr; stdout carries the protocol.
	fmt.Fprintf(os.Stderr, "atlas mcp: starting MCP server\n")
	fmt.Fprintf(os.Stderr, "atlas mcp: tools: %v\n", srv.ListTools())
	if timeout > 0 {
		fmt.Fprintf(os.Stderr, "atlas mcp: timeout: %v\n", timeout)
	}

	go func() {
		<-ctx.Done()
		fmt.Fprintf(os.Stderr, "\natlas mcp: shutting down\n")
		os.Exit(0)
	}()

	return srv.ServeStdio()
}

func parseDuration(s string) (time.Duration, error) {
	if s == "0" || s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

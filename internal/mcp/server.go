// Package mcp exposes the code graph over the Model Context Protocol,
// so AI agents can query projects through tools instead of HTTP calls.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/assemble"
	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/query"
)

// Server wraps the MCP server around the query engine.
type Server struct {
	mcpServer    *server.MCPServer
	engine       *query.Engine
	assembler    *assemble.Assembler
	tools        map[string]bool
	lastActivity time.Time
	timeout      time.Duration
	logger       *zap.Logger
	mu           sync.RWMutex
}

// Config holds server configuration.
type Config struct {
	Tools   []string      // Which tools to expose (empty = all)
	Timeout time.Duration // Inactivity timeout (0 = no timeout)
	Version string
}

// DefaultTools is the default set of tools to expose.
var DefaultTools = []string{
	"atlas_search", "atlas_context", "atlas_callers", "atlas_dependencies", "atlas_impact",
}

// AllTools lists all available tools.
var AllTools = []string{
	"atlas_search", "atlas_context", "atlas_callers", "atlas_dependencies",
	"atlas_impact", "atlas_graph", "atlas_hotspots", "atlas_similar",
	"atlas_projects",
}

// New creates an MCP server backed by an already-wired engine and
// assembler.
func New(cfg Config, engine *query.Engine, assembler *assemble.Assembler, logger *zap.Logger) (*Server, error) {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	mcpServer := server.NewMCPServer(
		"atlas",
		version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcpServer:    mcpServer,
		engine:       engine,
		assembler:    assembler,
		tools:        make(map[string]bool),
		lastActivity: time.Now(),
		timeout:      cfg.Timeout,
		logger:       logger,
	}

	toRegister := cfg.Tools
	if len(toRegister) == 0 {
		toRegister = DefaultTools
	}
	for _, name := range toRegister {
		if err := s.registerTool(name); err != nil {
			return nil, fmt.Errorf("failed to register tool %s: %w", name, err)
		}
		s.tools[name] = true
	}
	return s, nil
}

func (s *Server) registerTool(name string) error {
	switch name {
	case "atlas_search":
		s.registerSearchTool()
	case "atlas_context":
		s.registerContextTool()
	case "atlas_callers":
		s.registerCallersTool()
	case "atlas_dependencies":
		s.registerDependenciesTool()
	case "atlas_impact":
		s.registerImpactTool()
	case "atlas_graph":
		s.registerGraphTool()
	case "atlas_hotspots":
		s.registerHotspotsTool()
	case "atlas_similar":
		s.registerSimilarTool()
	case "atlas_projects":
		s.registerProjectsTool()
	default:
		return fmt.Errorf("unknown tool: %s", name)
	}
	return nil
}

// ServeStdio starts the server using stdio transport.
func (s *Server) ServeStdio() error {
	if s.timeout > 0 {
		go s.timeoutChecker()
	}
	return server.ServeStdio(s.mcpServer)
}

// timeoutChecker monitors for inactivity and exits if timeout exceeded.
func (s *Server) timeoutChecker() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		elapsed := time.Since(s.lastActivity)
		s.mu.RUnlock()

		if elapsed > s.timeout {
			fmt.Fprintf(os.Stderr, "atlas mcp: timeout after %v of inactivity\n", s.timeout)
			os.Exit(0)
		}
	}
}

func (s *Server) updateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// ListTools returns the list of registered tools.
func (s *Server) ListTools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]string, 0, len(s.tools))
	for t := range s.tools {
		tools = append(tools, t)
	}
	return tools
}

// CallTool dispatches a tool call by name with the given arguments and
// returns the JSON result string. Used by the CLI to exercise tools
// without a transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.RLock()
	registered := s.tools[name]
	s.mu.RUnlock()
	if !registered {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	s.updateActivity()

	switch name {
	case "atlas_search":
		return s.executeSearch(ctx, args)
	case "atlas_context":
		return s.executeContext(ctx, args)
	case "atlas_callers":
		return s.executeCallers(ctx, args)
	case "atlas_dependencies":
		return s.executeDependencies(ctx, args)
	case "atlas_impact":
		return s.executeImpact(ctx, args)
	case "atlas_graph":
		return s.executeGraph(ctx, args)
	case "atlas_hotspots":
		return s.executeHotspots(ctx, args)
	case "atlas_similar":
		return s.executeSimilar(ctx, args)
	case "atlas_projects":
		return s.executeProjects(ctx)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, fallback int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asJSON(v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Server) registerSearchTool() {
	tool := mcp.NewTool("atlas_search",
		mcp.WithDescription("Semantic search over ingested projects. Returns ranked code entities with snippets."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language description of the code to find"),
		),
		mcp.WithArray("project_ids",
			mcp.Required(),
			mcp.Description("Projects to search"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum results (default: configured top-k)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleTool(s.executeSearch))
}

func (s *Server) executeSearch(ctx context.Context, args map[string]any) (string, error) {
	results, err := s.engine.SemanticSearch(ctx,
		stringArg(args, "query"), stringSliceArg(args, "project_ids"), intArg(args, "top_k", 0))
	if err != nil {
		return "", err
	}
	return asJSON(map[string]any{"results": results, "count": len(results)})
}

func (s *Server) registerContextTool() {
	tool := mcp.NewTool("atlas_context",
		mcp.WithDescription("Assemble task-relevant code context within a token budget. Returns formatted source with citations."),
		mcp.WithString("query",
			mcp.Description("Natural language task description"),
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project to pull context from"),
		),
		mcp.WithNumber("token_budget",
			mcp.Description("Token budget (default: configured budget)"),
		),
		mcp.WithArray("manual_entity_ids",
			mcp.Description("Entity ids to include directly, bypassing retrieval"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleTool(s.executeContext))
}

func (s *Server) executeContext(ctx context.Context, args map[string]any) (string, error) {
	result, err := s.assembler.RetrieveContext(ctx,
		stringArg(args, "query"), stringArg(args, "project_id"),
		intArg(args, "token_budget", 0), stringSliceArg(args, "manual_entity_ids"))
	if err != nil {
		return "", err
	}
	return asJSON(result)
}

func (s *Server) registerCallersTool() {
	tool := mcp.NewTool("atlas_callers",
		mcp.WithDescription("Find the functions that call a given function."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project containing the function"),
		),
		mcp.WithString("function_id",
			mcp.Required(),
			mcp.Description("Entity id of the function"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleTool(s.executeCallers))
}

func (s *Server) executeCallers(ctx context.Context, args map[string]any) (string, error) {
	result, err := s.engine.FindCallers(ctx,
		stringArg(args, "project_id"), stringArg(args, "function_id"))
	if err != nil {
		return "", err
	}
	return asJSON(result)
}

func (s *Server) registerDependenciesTool() {
	tool := mcp.NewTool("atlas_dependencies",
		mcp.WithDescription("Find the functions and symbols a given function depends on."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project containing the function"),
		),
		mcp.WithString("function_id",
			mcp.Required(),
			mcp.Description("Entity id of the function"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleTool(s.executeDependencies))
}

func (s *Server) executeDependencies(ctx context.Context, args map[string]any) (string, error) {
	result, err := s.engine.FindDependencies(ctx,
		stringArg(args, "project_id"), stringArg(args, "function_id"))
	if err != nil {
		return "", err
	}
	return asJSON(result)
}

func (s *Server) registerImpactTool() {
	tool := mcp.NewTool("atlas_impact",
		mcp.WithDescription("Analyze the blast radius of changing a function. Shows transitively affected code."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project containing the function"),
		),
		mcp.WithString("function_id",
			mcp.Required(),
			mcp.Description("Entity id of the function"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Transitive depth (default: 5)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleTool(s.executeImpact))
}

func (s *Server) executeImpact(ctx context.Context, args map[string]any) (string, error) {
	result, err := s.engine.ImpactAnalysis(ctx,
		stringArg(args, "project_id"), stringArg(args, "function_id"),
		intArg(args, "max_depth", 0))
	if err != nil {
		return "", err
	}
	return asJSON(result)
}

func (s *Server) registerGraphTool() {
	tool := mcp.NewTool("atlas_graph",
		mcp.WithDescription("Project graph projection for visualization. Returns nodes and edges under the configured limits."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project to project"),
		),
		mcp.WithString("view_mode",
			mcp.Description("symbol or file (default: configured view mode)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleTool(s.executeGraph))
}

func (s *Server) executeGraph(ctx context.Context, args map[string]any) (string, error) {
	filters := model.GraphFilters{ViewMode: stringArg(args, "view_mode")}
	view, err := s.engine.ProjectGraph(ctx, stringArg(args, "project_id"), filters)
	if err != nil {
		return "", err
	}
	return asJSON(view)
}

func (s *Server) registerHotspotsTool() {
	tool := mcp.NewTool("atlas_hotspots",
		mcp.WithDescription("Rank project entities by graph centrality. Finds keystones, bottlenecks, and entry points."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project to analyze"),
		),
		mcp.WithNumber("top_n",
			mcp.Description("Maximum entities to return (default: 20)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleTool(s.executeHotspots))
}

func (s *Server) executeHotspots(ctx context.Context, args map[string]any) (string, error) {
	report, err := s.engine.ProjectHotspots(ctx,
		stringArg(args, "project_id"), intArg(args, "top_n", 0))
	if err != nil {
		return "", err
	}
	return asJSON(report)
}

func (s *Server) registerSimilarTool() {
	tool := mcp.NewTool("atlas_similar",
		mcp.WithDescription("Find the entities whose embeddings are closest to a given entity."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project containing the entity"),
		),
		mcp.WithString("entity_id",
			mcp.Required(),
			mcp.Description("Entity to compare against"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum results (default: configured top-k)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleTool(s.executeSimilar))
}

func (s *Server) executeSimilar(ctx context.Context, args map[string]any) (string, error) {
	results, err := s.engine.FindSimilar(ctx,
		stringArg(args, "project_id"), stringArg(args, "entity_id"), intArg(args, "top_k", 0))
	if err != nil {
		return "", err
	}
	return asJSON(map[string]any{"results": results, "count": len(results)})
}

func (s *Server) registerProjectsTool() {
	tool := mcp.NewTool("atlas_projects",
		mcp.WithDescription("List the ingested projects."),
	)
	s.mcpServer.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.updateActivity()
		result, err := s.executeProjects(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	})
}

func (s *Server) executeProjects(ctx context.Context) (string, error) {
	projects, err := s.engine.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	return asJSON(map[string]any{"projects": projects, "count": len(projects)})
}

// handleTool adapts an execute function to the MCP handler signature.
// Tool errors are returned as tool results, not protocol errors.
func (s *Server) handleTool(execute func(context.Context, map[string]any) (string, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.updateActivity()
		result, err := execute(ctx, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}

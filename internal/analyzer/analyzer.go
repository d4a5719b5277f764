// Package analyzer runs deterministic analysis on user-submitted code
// snippets, independent of any stored project. Graph mode extracts a
// call graph from the syntax tree; execution mode traces the snippet in
// a sandboxed child process.
package analyzer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/config"
)

const engineName = "python_deterministic"

// Analysis modes.
const (
	ModeGraph     = "graph"
	ModeExecution = "execution"
)

// Request is one snippet analysis submission.
type Request struct {
	Mode      string `json:"mode"`
	Language  string `json:"language"`
	Code      string `json:"code"`
	MaxSteps  int    `json:"max_steps,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`

	// AllowExecution overrides the environment gate for execution mode,
	// not the global enable switch.
	AllowExecution bool `json:"allow_execution,omitempty"`
}

// Meta describes how an analysis ran.
type Meta struct {
	Engine     string         `json:"engine"`
	Truncated  bool           `json:"truncated"`
	Limits     map[string]int `json:"limits"`
	DurationMS int64          `json:"duration_ms"`
}

// Node is one call-graph node.
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Line int    `json:"line"`
}

// Edge is one call-graph edge.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// GraphResult is the graph-mode payload.
type GraphResult struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Meta  Meta   `json:"meta"`
}

// TraceStep is one event in an execution trace.
type TraceStep struct {
	Line        int               `json:"line"`
	Action      string            `json:"action"`
	Description string            `json:"description"`
	Variables   map[string]string `json:"variables"`
	CallStack   []string          `json:"callStack"`
	Output      string            `json:"output,omitempty"`
}

// TraceResult is the execution-mode payload.
type TraceResult struct {
	Steps       []TraceStep `json:"steps"`
	FinalOutput string      `json:"finalOutput"`
	Error       string      `json:"error,omitempty"`
	ErrorCode   string      `json:"error_code,omitempty"`
	Truncated   bool        `json:"truncated"`
	Meta        Meta        `json:"meta"`
}

// Result is the union of the two modes; exactly one of Graph or Trace is
// set.
type Result struct {
	Graph *GraphResult `json:"graph,omitempty"`
	Trace *TraceResult `json:"trace,omitempty"`
}

var validActions = map[string]bool{
	"execute": true, "call": true, "return": true,
	"assign": true, "condition": true, "loop": true,
}

// Analyzer validates requests and dispatches to the two engines.
type Analyzer struct {
	cfg         config.AnalyzerConfig
	environment string
	logger      *zap.Logger
}

// New builds an analyzer. environment gates execution mode in
// production.
func New(cfg config.AnalyzerConfig, environment string, logger *zap.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, environment: environment, logger: logger}
}

// Analyze runs one request. Limits are clamped to configured caps before
// dispatch.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	if strings.ToLower(strings.TrimSpace(req.Language)) != "python" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "only python snippets are supported")
	}
	if req.Mode != ModeGraph && req.Mode != ModeExecution {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "invalid mode: %q", req.Mode)
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "code is required")
	}
	if len(req.Code) > a.cfg.MaxCodeChars {
		return nil, apperr.Newf(apperr.CodeInvalidRequest,
			"code exceeds maximum size (%d characters)", a.cfg.MaxCodeChars)
	}

	maxSteps := clamp(orDefault(req.MaxSteps, a.cfg.DefaultMaxSteps), 1, a.cfg.MaxStepsCap)
	timeoutMS := clamp(orDefault(req.TimeoutMS, a.cfg.DefaultTimeoutMS), 100, a.cfg.MaxTimeoutMS)
	limits := map[string]int{"max_steps": maxSteps, "timeout_ms": timeoutMS}

	if req.Mode == ModeGraph {
		graph, err := a.callGraph(req.Code)
		if err != nil {
			return nil, err
		}
		graph.Meta = Meta{
			Engine:     engineName,
			Limits:     limits,
			DurationMS: time.Since(started).Milliseconds(),
		}
		return &Result{Graph: graph}, nil
	}

	if !a.cfg.ExecutionEnabled {
		return nil, apperr.New(apperr.CodeSandboxBlocked, "execution mode is disabled")
	}
	if a.environment == "production" && !a.cfg.ExecutionAllowInProduction && !req.AllowExecution {
		return nil, apperr.New(apperr.CodeSandboxBlocked, "execution mode is disabled in production")
	}

	trace, err := a.executionTrace(ctx, req.Code, maxSteps, timeoutMS)
	if err != nil {
		return nil, err
	}
	trace.Meta = Meta{
		Engine:     engineName,
		Truncated:  trace.Truncated,
		Limits:     limits,
		DurationMS: time.Since(started).Milliseconds(),
	}
	return &Result{Trace: trace}, nil
}

func orDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

package analyzer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/parser"
)

//go:embed tracer.py
var tracerScript string

// tracerPayload is delivered to the child on stdin.
type tracerPayload struct {
	Code           string            `json:"code"`
	LineActions    map[string]string `json:"line_actions"`
	MaxSteps       int               `json:"max_steps"`
	TimeoutMS      int               `json:"timeout_ms"`
	AllowedImports []string          `json:"allowed_imports"`
}

// tracerOutput is the child's stdout document before sanitization.
type tracerOutput struct {
	Steps       []json.RawMessage `json:"steps"`
	FinalOutput string            `json:"finalOutput"`
	Error       string            `json:"error"`
	ErrorCode   string            `json:"error_code"`
	Truncated   bool              `json:"truncated"`
}

// executionTrace runs the snippet under the embedded tracer in an
// isolated python child. The parent owns the timeout: on expiry the
// child is killed and a truncated timeout result is returned.
func (a *Analyzer) executionTrace(ctx context.Context, code string, maxSteps, timeoutMS int) (*TraceResult, error) {
	lineActions, err := buildLineActions(code)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(tracerPayload{
		Code:           code,
		LineActions:    lineActions,
		MaxSteps:       maxSteps,
		TimeoutMS:      timeoutMS,
		AllowedImports: a.cfg.ImportWhitelist,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "encode tracer payload", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "python3", "-I", "-c", tracerScript)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &TraceResult{
			Steps:       []TraceStep{},
			Error:       fmt.Sprintf("Execution timed out after %d ms", timeoutMS),
			ErrorCode:   "timeout",
			Truncated:   true,
		}, nil
	}
	if runErr != nil && strings.TrimSpace(stdout.String()) == "" {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = "execution subprocess failed"
		}
		a.logger.Warn("tracer subprocess failed", zap.Error(runErr))
		return &TraceResult{
			Steps:     []TraceStep{},
			Error:     message,
			ErrorCode: "runtime_error",
		}, nil
	}

	var raw tracerOutput
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return &TraceResult{
			Steps:     []TraceStep{},
			Error:     "failed to decode execution trace output",
			ErrorCode: "internal_error",
		}, nil
	}

	steps := sanitizeSteps(raw.Steps)
	return &TraceResult{
		Steps:       steps,
		FinalOutput: raw.FinalOutput,
		Error:       raw.Error,
		ErrorCode:   raw.ErrorCode,
		Truncated:   raw.Truncated || len(steps) >= maxSteps,
	}, nil
}

// sanitizeSteps revalidates the child's step documents; malformed entries
// are dropped rather than failing the trace.
func sanitizeSteps(raw []json.RawMessage) []TraceStep {
	steps := make([]TraceStep, 0, len(raw))
	for _, item := range raw {
		var step TraceStep
		if err := json.Unmarshal(item, &step); err != nil {
			continue
		}
		if step.Line < 1 {
			step.Line = 1
		}
		step.Action = strings.ToLower(strings.TrimSpace(step.Action))
		if !validActions[step.Action] {
			step.Action = "execute"
		}
		if strings.TrimSpace(step.Description) == "" {
			step.Description = "Execute statement"
		}
		if step.Variables == nil {
			step.Variables = map[string]string{}
		}
		if step.CallStack == nil {
			step.CallStack = []string{}
		}
		steps = append(steps, step)
	}
	return steps
}

// Line-action priorities; a later classification only wins when at least
// as specific as the earlier one.
var actionPriority = map[string]int{
	"execute":   0,
	"call":      1,
	"assign":    2,
	"condition": 3,
	"loop":      4,
	"return":    5,
}

// buildLineActions classifies each source line by the most specific
// statement kind starting on it. The tracer uses the table to label line
// events; call and return events override it.
func buildLineActions(code string) (map[string]string, error) {
	p, err := parser.NewParser(parser.Python)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "create python parser", err)
	}
	defer p.Close()

	parsed, err := p.Parse([]byte(code))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeParse, "parse snippet", err)
	}
	defer parsed.Tree.Close()
	if parsed.HasErrors() {
		return nil, apperr.New(apperr.CodeInvalidRequest, "snippet contains syntax errors")
	}

	actions := map[int]string{}
	set := func(line int, action string) {
		if line <= 0 {
			return
		}
		prev, ok := actions[line]
		if !ok || actionPriority[action] >= actionPriority[prev] {
			actions[line] = action
		}
	}

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		row := int(node.StartPoint().Row) + 1
		switch node.Type() {
		case "assignment", "augmented_assignment", "named_expression":
			set(row, "assign")
		case "if_statement", "conditional_expression", "comparison_operator",
			"boolean_operator", "match_statement":
			set(row, "condition")
		case "for_statement", "while_statement", "for_in_clause":
			set(row, "loop")
		case "return_statement":
			set(row, "return")
		case "call":
			set(row, "call")
		default:
			set(row, "execute")
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(parsed.Root)

	out := make(map[string]string, len(actions))
	for line, action := range actions {
		out[strconv.Itoa(line)] = action
	}
	return out, nil
}

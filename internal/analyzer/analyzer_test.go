package analyzer

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/config"
)

func TestAnalyzeValidation(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
	}{
		{"unsupported language", Request{Mode: ModeGraph, Language: "ruby", Code: "x = 1"}},
		{"invalid mode", Request{Mode: "profile", Language: "python", Code: "x = 1"}},
		{"empty code", Request{Mode: ModeGraph, Language: "python", Code: "  \n"}},
		{"syntax error", Request{Mode: ModeGraph, Language: "python", Code: "def broken(:\n"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Analyze(ctx, tc.req)
			assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
		})
	}
}

func TestAnalyzeCodeSizeLimit(t *testing.T) {
	cfg := config.DefaultConfig().Analyzer
	cfg.MaxCodeChars = 10
	a := New(cfg, "development", zaptest.NewLogger(t))

	_, err := a.Analyze(context.Background(), Request{
		Mode: ModeGraph, Language: "python", Code: "x = 1  # a longer comment",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "maximum size")
}

func TestExecutionDisabled(t *testing.T) {
	cfg := config.DefaultConfig().Analyzer
	cfg.ExecutionEnabled = false
	a := New(cfg, "development", zaptest.NewLogger(t))

	_, err := a.Analyze(context.Background(), Request{
		Mode: ModeExecution, Language: "python", Code: "x = 1",
	})
	assert.Equal(t, apperr.CodeSandboxBlocked, apperr.CodeOf(err))
}

func TestExecutionBlockedInProduction(t *testing.T) {
	cfg := config.DefaultConfig().Analyzer
	a := New(cfg, "production", zaptest.NewLogger(t))

	_, err := a.Analyze(context.Background(), Request{
		Mode: ModeExecution, Language: "python", Code: "x = 1",
	})
	assert.Equal(t, apperr.CodeSandboxBlocked, apperr.CodeOf(err))
}

func TestLimitClamping(t *testing.T) {
	a := newTestAnalyzer(t)

	result, err := a.Analyze(context.Background(), Request{
		Mode: ModeGraph, Language: "python", Code: "x = 1",
		MaxSteps: 999999, TimeoutMS: 1,
	})
	require.NoError(t, err)
	cfg := config.DefaultConfig().Analyzer
	assert.Equal(t, cfg.MaxStepsCap, result.Graph.Meta.Limits["max_steps"])
	assert.Equal(t, 100, result.Graph.Meta.Limits["timeout_ms"])
}

func TestBuildLineActions(t *testing.T) {
	actions, err := buildLineActions(`x = 1
if x > 0:
    print(x)
for i in range(3):
    x += i
def f():
    return x
`)
	require.NoError(t, err)
	assert.Equal(t, "assign", actions["1"])
	assert.Equal(t, "condition", actions["2"])
	assert.Equal(t, "call", actions["3"])
	assert.Equal(t, "loop", actions["4"])
	assert.Equal(t, "assign", actions["5"])
	assert.Equal(t, "return", actions["7"])
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestExecutionTraceSimpleProgram(t *testing.T) {
	requirePython(t)
	a := newTestAnalyzer(t)

	result, err := a.Analyze(context.Background(), Request{
		Mode: ModeExecution, Language: "python",
		Code: "x = 1\ny = x + 2\nprint(y)\n",
	})
	require.NoError(t, err)
	trace := result.Trace
	require.NotNil(t, trace)

	assert.Empty(t, trace.Error)
	assert.False(t, trace.Truncated)
	assert.Equal(t, "3\n", trace.FinalOutput)
	require.NotEmpty(t, trace.Steps)
	for _, step := range trace.Steps {
		assert.GreaterOrEqual(t, step.Line, 1)
		assert.True(t, validActions[step.Action])
		assert.NotEmpty(t, step.Description)
	}
}

func TestExecutionTraceFunctionCallStack(t *testing.T) {
	requirePython(t)
	a := newTestAnalyzer(t)

	result, err := a.Analyze(context.Background(), Request{
		Mode: ModeExecution, Language: "python",
		Code: "def double(n):\n    return n * 2\n\nprint(double(4))\n",
	})
	require.NoError(t, err)
	trace := result.Trace

	var sawCall, sawReturn bool
	for _, step := range trace.Steps {
		if step.Action == "call" && strings.Contains(step.Description, "double") {
			sawCall = true
			assert.Contains(t, step.CallStack, "double")
		}
		if step.Action == "return" && strings.Contains(step.Description, "double") {
			sawReturn = true
		}
	}
	assert.True(t, sawCall)
	assert.True(t, sawReturn)
	assert.Equal(t, "8\n", trace.FinalOutput)
}

func TestExecutionTraceTruncatesAtMaxSteps(t *testing.T) {
	requirePython(t)
	a := newTestAnalyzer(t)

	result, err := a.Analyze(context.Background(), Request{
		Mode: ModeExecution, Language: "python",
		Code:     "total = 0\nfor i in range(1000):\n    total += i\n",
		MaxSteps: 5,
	})
	require.NoError(t, err)
	trace := result.Trace

	assert.True(t, trace.Truncated)
	assert.True(t, trace.Meta.Truncated)
	assert.LessOrEqual(t, len(trace.Steps), 5)
}

func TestExecutionTraceBlocksImports(t *testing.T) {
	requirePython(t)
	a := newTestAnalyzer(t)

	result, err := a.Analyze(context.Background(), Request{
		Mode: ModeExecution, Language: "python",
		Code: "import os\nprint(os.getcwd())\n",
	})
	require.NoError(t, err)
	trace := result.Trace

	assert.Equal(t, "runtime_error", trace.ErrorCode)
	assert.Contains(t, trace.Error, "blocked")
}

func TestExecutionTraceAllowsWhitelistedImports(t *testing.T) {
	requirePython(t)
	a := newTestAnalyzer(t)

	result, err := a.Analyze(context.Background(), Request{
		Mode: ModeExecution, Language: "python",
		Code: "import math\nprint(math.floor(2.7))\n",
	})
	require.NoError(t, err)
	trace := result.Trace

	assert.Empty(t, trace.Error)
	assert.Equal(t, "2\n", trace.FinalOutput)
}

func TestExecutionTraceTimeout(t *testing.T) {
	requirePython(t)
	a := newTestAnalyzer(t)

	result, err := a.Analyze(context.Background(), Request{
		Mode: ModeExecution, Language: "python",
		Code:      "while True:\n    pass\n",
		TimeoutMS: 300,
		MaxSteps:  5000,
	})
	require.NoError(t, err)
	trace := result.Trace

	assert.Equal(t, "timeout", trace.ErrorCode)
	assert.True(t, trace.Truncated)
	assert.Contains(t, trace.Error, "timed out")
}

func TestExecutionTraceRuntimeError(t *testing.T) {
	requirePython(t)
	a := newTestAnalyzer(t)

	result, err := a.Analyze(context.Background(), Request{
		Mode: ModeExecution, Language: "python",
		Code: "x = 1 / 0\n",
	})
	require.NoError(t, err)
	trace := result.Trace

	assert.Equal(t, "runtime_error", trace.ErrorCode)
	assert.Contains(t, trace.Error, "ZeroDivisionError")
}

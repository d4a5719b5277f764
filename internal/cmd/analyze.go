package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeatlas/atlas/internal/analyzer"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Analyze a Python snippet as a call graph or execution trace",
	Long: `Analyze a Python snippet.

Graph mode builds a deterministic call graph from the syntax tree.
Execution mode runs the snippet in a restricted subprocess and records
a line-by-line trace. Reads from stdin when no file is given.

Examples:
  atlas analyze script.py
  atlas analyze script.py --mode execution --max-steps 500
  cat snippet.py | atlas analyze`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeMode     string
	analyzeMaxSteps int
	analyzeTimeout  int
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeMode, "mode", "graph", "Analysis mode (graph|execution)")
	analyzeCmd.Flags().IntVar(&analyzeMaxSteps, "max-steps", 0, "Execution step cap (default: configured)")
	analyzeCmd.Flags().IntVar(&analyzeTimeout, "timeout-ms", 0, "Execution timeout in milliseconds (default: configured)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	var code []byte
	var err error
	if len(args) == 1 {
		code, err = os.ReadFile(args[0])
	} else {
		code, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading snippet: %w", err)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.analyzer.Analyze(cmd.Context(), analyzer.Request{
		Mode:     analyzeMode,
		Language: "python",
		Code:     string(code),
		MaxSteps: analyzeMaxSteps,
		TimeoutMS: analyzeTimeout,
		// The CLI runs on a developer machine, not in production.
		AllowExecution: true,
	})
	if err != nil {
		return err
	}
	if result.Graph != nil {
		return printResult(result.Graph)
	}
	return printResult(result.Trace)
}

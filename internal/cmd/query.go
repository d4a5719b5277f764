package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/render"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the code graph",
}

var (
	querySearchProjects []string
	querySearchTopK     int
	queryImpactDepth    int
	queryContextBudget  int
	queryContextManual  []string
)

var querySearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Semantic search over ingested projects",
	Example: `  atlas query search "retry with backoff" -p proj_ab12cd34ef56
  atlas query search "http handler" -p proj_a -p proj_b --top-k 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		results, err := a.engine.SemanticSearch(cmd.Context(), args[0], querySearchProjects, querySearchTopK)
		if err != nil {
			return err
		}
		return printResult(map[string]any{"results": results, "count": len(results)})
	},
}

var queryCallersCmd = &cobra.Command{
	Use:   "callers <project-id> <function-id>",
	Short: "Find the functions that call a function",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.FindCallers(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var queryDependenciesCmd = &cobra.Command{
	Use:   "dependencies <project-id> <function-id>",
	Short: "Find what a function calls or uses",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.FindDependencies(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var querySimilarTopK int

var querySimilarCmd = &cobra.Command{
	Use:   "similar <project-id> <entity-id>",
	Short: "Find entities with the closest embeddings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		results, err := a.engine.FindSimilar(cmd.Context(), args[0], args[1], querySimilarTopK)
		if err != nil {
			return err
		}
		return printResult(map[string]any{"results": results, "count": len(results)})
	},
}

var queryHierarchyCmd = &cobra.Command{
	Use:   "hierarchy <project-id> <class-id>",
	Short: "Show a class with its parents and children",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.ClassHierarchy(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var queryImpactCmd = &cobra.Command{
	Use:   "impact <project-id> <function-id>",
	Short: "Analyze the blast radius of changing a function",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.ImpactAnalysis(cmd.Context(), args[0], args[1], queryImpactDepth)
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var queryContextCmd = &cobra.Command{
	Use:   "context <project-id> <text>",
	Short: "Assemble token-budgeted context for a task",
	Example: `  atlas query context proj_ab12cd34ef56 "add rate limiting to uploads"
  atlas query context proj_ab12cd34ef56 "" --include myapp_function_main_1_0a1b2c3d4e`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		budget := queryContextBudget
		if budget <= 0 {
			budget = a.cfg.Query.TokenBudget
		}
		result, err := a.assembler.RetrieveContext(cmd.Context(), args[1], args[0], budget, queryContextManual)
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var queryGraphMermaid bool

var queryGraphCmd = &cobra.Command{
	Use:   "graph <project-id>",
	Short: "Project graph projection for visualization",
	Example: `  atlas query graph proj_ab12cd34ef56
  atlas query graph proj_ab12cd34ef56 --mermaid`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		view, err := a.engine.ProjectGraph(cmd.Context(), args[0], model.GraphFilters{})
		if err != nil {
			return err
		}
		if queryGraphMermaid {
			fmt.Print(render.Mermaid(view, nil))
			return nil
		}
		return printResult(view)
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.AddCommand(querySearchCmd)
	queryCmd.AddCommand(queryCallersCmd)
	queryCmd.AddCommand(queryDependenciesCmd)
	queryCmd.AddCommand(querySimilarCmd)
	queryCmd.AddCommand(queryHierarchyCmd)
	queryCmd.AddCommand(queryImpactCmd)
	queryCmd.AddCommand(queryContextCmd)
	queryCmd.AddCommand(queryGraphCmd)

	querySearchCmd.Flags().StringArrayVarP(&querySearchProjects, "project", "p", nil, "Project id to search (repeatable)")
	querySearchCmd.Flags().IntVar(&querySearchTopK, "top-k", 0, "Maximum results (default: configured top-k)")
	querySimilarCmd.Flags().IntVar(&querySimilarTopK, "top-k", 0, "Maximum results (default: configured top-k)")
	queryImpactCmd.Flags().IntVar(&queryImpactDepth, "depth", 0, "Transitive depth (default: 5)")
	queryContextCmd.Flags().IntVar(&queryContextBudget, "budget", 0, "Token budget (default: configured budget)")
	queryContextCmd.Flags().StringArrayVar(&queryContextManual, "include", nil, "Entity id to include directly (repeatable)")
	queryGraphCmd.Flags().BoolVar(&queryGraphMermaid, "mermaid", false, "Render a Mermaid flowchart instead of structured output")
}

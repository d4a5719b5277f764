package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeatlas/atlas/internal/mcp"
)

var callCmd = &cobra.Command{
	Use:   "call <tool> [json-args]",
	Short: "Invoke an MCP tool directly",
	Long: `Invoke an MCP tool without starting a server.

Useful for scripting and for testing tool behavior. Arguments are a
JSON object matching the tool's parameters.

Examples:
  atlas call atlas_projects
  atlas call atlas_callers '{"project_id":"proj_ab12cd34ef56","function_id":"myapp_function_main_1_0a1b2c3d4e"}'
  atlas call --list`,
	Args: cobra.MaximumNArgs(2),
	RunE: runCall,
}

var callList bool

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().BoolVar(&callList, "list", false, "List available tools")
}

func runCall(cmd *cobra.Command, args []string) error {
	if callList {
		for _, tool := range mcp.AllTools {
			fmt.Println(tool)
		}
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("tool name is required (run 'atlas call --list')")
	}

	toolArgs := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
			return fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	srv, err := mcp.New(mcp.Config{Tools: mcp.AllTools, Version: Version},
		a.engine, a.assembler, a.logger)
	if err != nil {
		return err
	}

	out, err := srv.CallTool(cmd.Context(), args[0], toolArgs)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

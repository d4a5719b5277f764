// Package render turns graph projections into Mermaid diagram text for
// embedding in docs and chat.
package render

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/codeatlas/atlas/internal/model"
)

// MermaidOptions configures Mermaid diagram generation.
type MermaidOptions struct {
	MaxNodes  int    // Maximum nodes before auto-collapsing (default: 30)
	Direction string // Layout direction: "TD" or "LR"
	Collapse  bool   // Auto-collapse to directories when > MaxNodes
	Title     string
}

// DefaultMermaidOptions returns sensible defaults.
func DefaultMermaidOptions() *MermaidOptions {
	return &MermaidOptions{
		MaxNodes:  30,
		Direction: "LR",
		Collapse:  true,
	}
}

// Mermaid renders a graph view as a Mermaid flowchart. Large graphs
// collapse to one node per directory so the diagram stays readable.
func Mermaid(view *model.GraphView, opts *MermaidOptions) string {
	if opts == nil {
		opts = DefaultMermaidOptions()
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = 30
	}
	if opts.Direction != "TD" && opts.Direction != "LR" {
		opts.Direction = "LR"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("flowchart %s\n", opts.Direction))
	if opts.Title != "" {
		sb.WriteString(fmt.Sprintf("    subgraph title[\"%s\"]\n", escapeString(opts.Title)))
		sb.WriteString("    end\n")
	}

	if opts.Collapse && len(view.Nodes) > opts.MaxNodes {
		writeCollapsed(&sb, view)
		return sb.String()
	}

	nodes := append([]model.GraphNode(nil), view.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for _, node := range nodes {
		sb.WriteString(fmt.Sprintf("    %s\n",
			nodeDecl(sanitizeID(node.ID), node.Label, node.Type)))
	}
	for _, edge := range view.Edges {
		sb.WriteString(fmt.Sprintf("    %s\n",
			edgeDecl(sanitizeID(edge.Source), sanitizeID(edge.Target), edge.Type)))
	}
	return sb.String()
}

// writeCollapsed emits one node per directory with deduplicated
// cross-directory edges.
func writeCollapsed(sb *strings.Builder, view *model.GraphView) {
	nodeToDir := make(map[string]string, len(view.Nodes))
	counts := make(map[string]int)
	for _, node := range view.Nodes {
		dir := path.Dir(node.FilePath)
		if dir == "." || dir == "" {
			dir = "root"
		}
		nodeToDir[node.ID] = dir
		counts[dir]++
	}

	dirs := make([]string, 0, len(counts))
	for dir := range counts {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		label := fmt.Sprintf("%s (%d)", dir, counts[dir])
		sb.WriteString(fmt.Sprintf("    %s\n", nodeDecl(sanitizeID(dir), label, "directory")))
	}

	seen := make(map[string]bool)
	for _, edge := range view.Edges {
		from, to := nodeToDir[edge.Source], nodeToDir[edge.Target]
		if from == "" || to == "" || from == to {
			continue
		}
		key := from + "->" + to
		if seen[key] {
			continue
		}
		seen[key] = true
		sb.WriteString(fmt.Sprintf("    %s\n", edgeDecl(sanitizeID(from), sanitizeID(to), "")))
	}
}

// nodeDecl picks a shape by entity type: hexagons for classes,
// stadiums for functions, cylinders for files and externals.
func nodeDecl(id, label, nodeType string) string {
	escaped := escapeString(label)
	switch nodeType {
	case "class":
		return fmt.Sprintf("%s{{\"%s\"}}", id, escaped)
	case "function":
		return fmt.Sprintf("%s([\"%s\"])", id, escaped)
	case "file", "external", "directory":
		return fmt.Sprintf("%s[(\"%s\")]", id, escaped)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, escaped)
	}
}

func edgeDecl(from, to, edgeType string) string {
	switch edgeType {
	case string(model.RelExtends), string(model.RelImplements):
		return fmt.Sprintf("%s -.-> %s", from, to)
	case string(model.RelImports):
		return fmt.Sprintf("%s --o %s", from, to)
	default:
		return fmt.Sprintf("%s --> %s", from, to)
	}
}

// Mermaid IDs allow alphanumerics and underscores.
var idRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func sanitizeID(id string) string {
	sanitized := idRegex.ReplaceAllString(id, "_")
	if len(sanitized) > 0 && sanitized[0] >= '0' && sanitized[0] <= '9' {
		sanitized = "_" + sanitized
	}
	if sanitized == "" {
		sanitized = "_empty"
	}
	return sanitized
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "#quot;")
	s = strings.ReplaceAll(s, "<", "#lt;")
	s = strings.ReplaceAll(s, ">", "#gt;")
	return s
}

// PieChart renders kind statistics as a Mermaid pie chart.
func PieChart(stats map[string]int, title string) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(fmt.Sprintf("pie title %s\n", escapeString(title)))
	} else {
		sb.WriteString("pie\n")
	}

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sb.WriteString(fmt.Sprintf("    \"%s\" : %d\n", escapeString(key), stats[key]))
	}
	return sb.String()
}

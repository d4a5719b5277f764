package graphstore

import (
	"context"
	"sort"
	"strings"

	"github.com/codeatlas/atlas/internal/model"
)

// graphProjection is the resolved filter set for one visualization query.
// The query engine fills defaults before calling the store.
type graphProjection struct {
	ViewMode        string
	Kinds           map[model.EntityKind]bool
	Languages       map[model.Language]bool
	FilePatterns    []string
	IncludeExternal bool
	IncludeIsolated bool
	MaxNodes        int
	MaxEdges        int
}

// ResolveFilters applies defaults to a filter struct. Zero limits fall back
// to the supplied defaults; nil booleans default to true.
func ResolveFilters(filters model.GraphFilters, defaultViewMode string, defaultExternal, defaultIsolated bool, defaultMaxNodes, defaultMaxEdges int) model.GraphFilters {
	if filters.ViewMode == "" {
		filters.ViewMode = defaultViewMode
	}
	if filters.IncludeExternal == nil {
		filters.IncludeExternal = &defaultExternal
	}
	if filters.IncludeIsolated == nil {
		filters.IncludeIsolated = &defaultIsolated
	}
	if filters.MaxNodes <= 0 {
		filters.MaxNodes = defaultMaxNodes
	}
	if filters.MaxEdges <= 0 {
		filters.MaxEdges = defaultMaxEdges
	}
	return filters
}

// GetProjectGraph projects the stored graph into a node/edge view with
// deterministic ordering and truncation. Coverage counts reflect the whole
// project before filtering so clients can detect clipping.
func (s *Store) GetProjectGraph(ctx context.Context, projectID string, filters model.GraphFilters) (*model.GraphView, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	var entities []model.Entity
	err := s.withRetry(ctx, "get_project_graph", func(ctx context.Context) error {
		loaded, err := queryEntities(ctx, s.db, `
			SELECT `+entityColumns+` FROM entities WHERE project_id = ?`, projectID)
		if err != nil {
			return classify("load graph entities", err)
		}
		entities = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	var rels []model.Relationship
	err = s.withRetry(ctx, "get_project_graph_edges", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT source_id, target_id, kind FROM relationships WHERE project_id = ?`, projectID)
		if err != nil {
			return classify("load graph edges", err)
		}
		defer rows.Close()

		rels = nil
		for rows.Next() {
			var rel model.Relationship
			var kind string
			if err := rows.Scan(&rel.SourceID, &rel.TargetID, &kind); err != nil {
				return classify("scan graph edge", err)
			}
			rel.Kind = model.RelationshipKind(kind)
			rels = append(rels, rel)
		}
		return classify("load graph edges", rows.Err())
	})
	if err != nil {
		return nil, err
	}

	proj := toProjection(filters)
	view := project(entities, rels, proj)
	view.Coverage = model.GraphCoverage{
		EntitiesInProject:      len(entities),
		RelationshipsInProject: len(rels),
	}
	return view, nil
}

func toProjection(filters model.GraphFilters) graphProjection {
	proj := graphProjection{
		ViewMode:        filters.ViewMode,
		FilePatterns:    filters.FilePatterns,
		IncludeExternal: filters.IncludeExternal == nil || *filters.IncludeExternal,
		IncludeIsolated: filters.IncludeIsolated == nil || *filters.IncludeIsolated,
		MaxNodes:        filters.MaxNodes,
		MaxEdges:        filters.MaxEdges,
	}
	if len(filters.EntityKinds) > 0 {
		proj.Kinds = map[model.EntityKind]bool{}
		for _, k := range filters.EntityKinds {
			proj.Kinds[k] = true
		}
	}
	if len(filters.Languages) > 0 {
		proj.Languages = map[model.Language]bool{}
		for _, l := range filters.Languages {
			proj.Languages[l] = true
		}
	}
	return proj
}

func project(entities []model.Entity, rels []model.Relationship, proj graphProjection) *model.GraphView {
	nodeByID := map[string]model.GraphNode{}

	switch proj.ViewMode {
	case model.ViewFile:
		for _, e := range entities {
			if e.Kind != model.KindFile || !matchesPatterns(e.FilePath, proj.FilePatterns) {
				continue
			}
			nodeByID[e.ID] = model.GraphNode{
				ID: e.ID, Label: e.FilePath, Type: "file", FilePath: e.FilePath,
			}
		}
	default:
		for _, e := range entities {
			if proj.Kinds != nil && !proj.Kinds[e.Kind] {
				continue
			}
			if proj.Languages != nil && !proj.Languages[e.Language] {
				continue
			}
			if !matchesPatterns(e.FilePath, proj.FilePatterns) {
				continue
			}
			nodeByID[e.ID] = model.GraphNode{
				ID: e.ID, Label: e.Name, Type: string(e.Kind), FilePath: e.FilePath,
			}
		}
	}

	var edges []model.GraphEdge
	connected := map[string]bool{}
	addEdge := func(rel model.Relationship) {
		edges = append(edges, model.GraphEdge{
			Source: rel.SourceID, Target: rel.TargetID, Type: string(rel.Kind),
		})
		connected[rel.SourceID] = true
		connected[rel.TargetID] = true
	}

	for _, rel := range rels {
		if _, ok := nodeByID[rel.SourceID]; !ok {
			continue
		}
		if proj.ViewMode == model.ViewFile && rel.Kind != model.RelImports {
			continue
		}
		if _, ok := nodeByID[rel.TargetID]; ok {
			addEdge(rel)
			continue
		}
		if proj.IncludeExternal && strings.HasPrefix(rel.TargetID, model.ExternalPrefix) {
			nodeByID[rel.TargetID] = model.GraphNode{
				ID:    rel.TargetID,
				Label: externalModuleName(rel.TargetID),
				Type:  "external",
			}
			addEdge(rel)
		}
	}

	if !proj.IncludeIsolated {
		for id := range nodeByID {
			if !connected[id] {
				delete(nodeByID, id)
			}
		}
	}

	nodes := make([]model.GraphNode, 0, len(nodeByID))
	for _, node := range nodeByID {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type < nodes[j].Type
		}
		if nodes[i].Label != nodes[j].Label {
			return nodes[i].Label < nodes[j].Label
		}
		return nodes[i].ID < nodes[j].ID
	})
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Type < edges[j].Type
	})

	if proj.MaxNodes > 0 && len(nodes) > proj.MaxNodes {
		nodes = nodes[:proj.MaxNodes]
	}
	kept := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		kept[node.ID] = true
	}
	filtered := edges[:0]
	for _, edge := range edges {
		if kept[edge.Source] && kept[edge.Target] {
			filtered = append(filtered, edge)
		}
	}
	edges = filtered
	if proj.MaxEdges > 0 && len(edges) > proj.MaxEdges {
		edges = edges[:proj.MaxEdges]
	}

	stats := map[string]int{}
	for _, node := range nodes {
		stats["nodes_"+node.Type]++
	}
	for _, edge := range edges {
		stats["edges_"+edge.Type]++
	}

	truncated := (proj.MaxNodes > 0 && len(nodes) == proj.MaxNodes) ||
		(proj.MaxEdges > 0 && len(edges) == proj.MaxEdges)

	return &model.GraphView{
		Nodes:     nodes,
		Edges:     edges,
		Stats:     stats,
		Truncated: truncated,
		ViewMode:  proj.ViewMode,
	}
}

// matchesPatterns reports whether the path contains any of the patterns.
// An empty pattern list matches everything.
func matchesPatterns(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

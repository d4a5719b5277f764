// Package centrality scores code entities by their position in the
// project graph. PageRank finds the symbols everything leans on,
// betweenness finds the ones most paths flow through.
package centrality

import (
	"strings"

	"github.com/codeatlas/atlas/internal/model"
)

// Adjacency is a directed graph as map[sourceID][]targetIDs. An edge
// from A to B means A depends on B.
type Adjacency map[string][]string

// structuralKinds are the edge kinds that represent code-level
// dependencies. DEFINES is containment, not a dependency, so it is
// excluded.
var structuralKinds = map[model.RelationshipKind]bool{
	model.RelCalls:      true,
	model.RelUses:       true,
	model.RelExtends:    true,
	model.RelImplements: true,
	model.RelImports:    true,
}

// BuildAdjacency converts project relationships into an adjacency map.
// Edges to external modules are skipped so the scores reflect only the
// project's own symbols.
func BuildAdjacency(rels []model.Relationship) Adjacency {
	graph := make(Adjacency)
	for _, rel := range rels {
		if !structuralKinds[rel.Kind] {
			continue
		}
		if strings.HasPrefix(rel.TargetID, model.ExternalPrefix) {
			continue
		}
		if _, ok := graph[rel.SourceID]; !ok {
			graph[rel.SourceID] = []string{}
		}
		if _, ok := graph[rel.TargetID]; !ok {
			graph[rel.TargetID] = []string{}
		}
		graph[rel.SourceID] = append(graph[rel.SourceID], rel.TargetID)
	}
	return graph
}

// Degrees returns the in-degree and out-degree of every node.
func Degrees(graph Adjacency) (in, out map[string]int) {
	in = make(map[string]int, len(graph))
	out = make(map[string]int, len(graph))
	for node := range graph {
		in[node] = 0
		out[node] = 0
	}
	for node, targets := range graph {
		out[node] = len(targets)
		for _, target := range targets {
			in[target]++
		}
	}
	return in, out
}

// Stats summarizes the shape of a dependency graph.
type Stats struct {
	NodeCount    int     `json:"node_count"`
	EdgeCount    int     `json:"edge_count"`
	MaxInDegree  int     `json:"max_in_degree"`
	MaxOutDegree int     `json:"max_out_degree"`
	RootCount    int     `json:"root_count"`
	LeafCount    int     `json:"leaf_count"`
	Density      float64 `json:"density"`
}

// ComputeStats calculates summary statistics for an adjacency map.
// Roots have no incoming edges, leaves no outgoing ones.
func ComputeStats(graph Adjacency) Stats {
	in, out := Degrees(graph)
	n := len(graph)
	if n == 0 {
		return Stats{}
	}

	stats := Stats{NodeCount: n}
	for node, d := range in {
		stats.EdgeCount += out[node]
		if d > stats.MaxInDegree {
			stats.MaxInDegree = d
		}
		if d == 0 {
			stats.RootCount++
		}
		if out[node] > stats.MaxOutDegree {
			stats.MaxOutDegree = out[node]
		}
		if out[node] == 0 {
			stats.LeafCount++
		}
	}
	if n > 1 {
		stats.Density = float64(stats.EdgeCount) / float64(n*(n-1))
	}
	return stats
}

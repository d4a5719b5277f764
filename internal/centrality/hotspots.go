package centrality

import (
	"sort"

	"github.com/codeatlas/atlas/internal/model"
)

// Role classifications assigned to scored entities.
const (
	RoleKeystone   = "keystone"
	RoleBottleneck = "bottleneck"
	RoleEntrypoint = "entrypoint"
	RoleLeaf       = "leaf"
)

// Keystones need a meaningful share of the total rank and enough direct
// dependents to matter architecturally. Bottlenecks need a fifth of all
// shortest paths passing through them.
const (
	keystoneRankShare  = 3.0
	keystoneMinCallers = 3
	bottleneckScore    = 0.2
)

// Hotspot is one scored entity in the report.
type Hotspot struct {
	EntityID    string   `json:"entity_id"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	FilePath    string   `json:"file_path"`
	PageRank    float64  `json:"pagerank"`
	Betweenness float64  `json:"betweenness"`
	InDegree    int      `json:"in_degree"`
	OutDegree   int      `json:"out_degree"`
	Roles       []string `json:"roles,omitempty"`
}

// Report holds the ranked hotspots and graph-level statistics for one
// project.
type Report struct {
	ProjectID string    `json:"project_id"`
	Hotspots  []Hotspot `json:"hotspots"`
	Stats     Stats     `json:"stats"`
}

// Analyze scores the project graph and returns the topN entities by
// PageRank. Nodes without a matching entity (imports resolved to ids
// that were pruned later) are skipped.
func Analyze(projectID string, entities []model.Entity, rels []model.Relationship, topN int) *Report {
	if topN <= 0 {
		topN = 20
	}

	graph := BuildAdjacency(rels)
	ranks := PageRank(graph)
	between := Betweenness(graph)
	in, out := Degrees(graph)

	byID := make(map[string]model.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	// Uniform rank is 1/n; the keystone bar is a multiple of it.
	uniform := 0.0
	if len(graph) > 0 {
		uniform = 1.0 / float64(len(graph))
	}

	hotspots := make([]Hotspot, 0, len(graph))
	for node := range graph {
		entity, ok := byID[node]
		if !ok {
			continue
		}
		h := Hotspot{
			EntityID:    node,
			Name:        entity.Name,
			Kind:        string(entity.Kind),
			FilePath:    entity.FilePath,
			PageRank:    ranks[node],
			Betweenness: between[node],
			InDegree:    in[node],
			OutDegree:   out[node],
		}
		h.Roles = classify(h, uniform)
		hotspots = append(hotspots, h)
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].PageRank != hotspots[j].PageRank {
			return hotspots[i].PageRank > hotspots[j].PageRank
		}
		return hotspots[i].EntityID < hotspots[j].EntityID
	})
	if len(hotspots) > topN {
		hotspots = hotspots[:topN]
	}

	return &Report{
		ProjectID: projectID,
		Hotspots:  hotspots,
		Stats:     ComputeStats(graph),
	}
}

func classify(h Hotspot, uniform float64) []string {
	var roles []string
	if uniform > 0 && h.PageRank >= keystoneRankShare*uniform && h.InDegree >= keystoneMinCallers {
		roles = append(roles, RoleKeystone)
	}
	if h.Betweenness >= bottleneckScore {
		roles = append(roles, RoleBottleneck)
	}
	if h.InDegree == 0 && h.OutDegree > 0 {
		roles = append(roles, RoleEntrypoint)
	}
	if h.OutDegree == 0 && h.InDegree > 0 {
		roles = append(roles, RoleLeaf)
	}
	return roles
}

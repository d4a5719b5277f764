package centrality

import "math"

// PageRank parameters. The standard damping factor of 0.85 works well
// for call graphs of this size.
const (
	pageRankDamping    = 0.85
	pageRankIterations = 100
	pageRankTolerance  = 0.0001
)

// PageRank scores every node by how much of the graph transitively
// depends on it. Scores sum to 1 over the graph. An empty graph
// returns an empty map.
//
// Edges point from dependent to dependency, so ranking runs on the
// reversed graph: a function called from many places accumulates the
// rank of its callers.
func PageRank(graph Adjacency) map[string]float64 {
	n := len(graph)
	if n == 0 {
		return map[string]float64{}
	}

	scores := make(map[string]float64, n)
	for node := range graph {
		scores[node] = 1.0 / float64(n)
	}

	incoming, outDegree := incomingEdges(graph)

	for iter := 0; iter < pageRankIterations; iter++ {
		next := make(map[string]float64, n)
		maxDelta := 0.0

		// Rank held by dangling nodes is spread evenly.
		danglingSum := 0.0
		for node := range graph {
			if outDegree[node] == 0 {
				danglingSum += scores[node]
			}
		}
		base := (1.0-pageRankDamping)/float64(n) +
			pageRankDamping*danglingSum/float64(n)

		for node := range graph {
			score := base
			for _, src := range incoming[node] {
				score += pageRankDamping * scores[src] / float64(outDegree[src])
			}
			next[node] = score
			if delta := math.Abs(score - scores[node]); delta > maxDelta {
				maxDelta = delta
			}
		}

		scores = next
		if maxDelta < pageRankTolerance {
			break
		}
	}
	return scores
}

func incomingEdges(graph Adjacency) (incoming map[string][]string, outDegree map[string]int) {
	incoming = make(map[string][]string, len(graph))
	outDegree = make(map[string]int, len(graph))
	for node, targets := range graph {
		outDegree[node] = len(targets)
		for _, target := range targets {
			incoming[target] = append(incoming[target], node)
		}
	}
	return incoming, outDegree
}

package centrality

// Betweenness computes betweenness centrality with Brandes' algorithm:
// one BFS per source, then back-propagation of path dependencies.
// Scores are normalized by (n-1)(n-2) for a directed graph, so a node
// on every shortest path approaches 1. Graphs with fewer than three
// nodes score zero everywhere.
func Betweenness(graph Adjacency) map[string]float64 {
	n := len(graph)
	bc := make(map[string]float64, n)
	for node := range graph {
		bc[node] = 0
	}
	if n < 3 {
		return bc
	}

	for source := range graph {
		stack := make([]string, 0, n)
		pred := make(map[string][]string, n)
		sigma := make(map[string]float64, n)
		dist := make(map[string]int, n)
		for node := range graph {
			sigma[node] = 0
			dist[node] = -1
		}
		sigma[source] = 1
		dist[source] = 0

		queue := []string{source}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)

			for _, w := range graph[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make(map[string]float64, n)
		for len(stack) > 0 {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, v := range pred[w] {
				delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
			}
			if w != source {
				bc[w] += delta[w]
			}
		}
	}

	norm := float64((n - 1) * (n - 2))
	for node := range bc {
		bc[node] /= norm
	}
	return bc
}

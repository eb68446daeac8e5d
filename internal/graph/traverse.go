package graph

// Traverse runs a breadth-first expansion from seeds for at most maxDepth rounds
// and returns node ids in visit order. Seeds come first, in the given order;
// unknown or repeated seeds are skipped. Each round expands the frontier in
// order, visiting a node's unvisited neighbors by weight descending then id ascending.
func (g *Graph) Traverse(seeds []int64, maxDepth int) []int64 {
	visited := make(map[int64]struct{}, len(seeds))
	path := make([]int64, 0, len(seeds))
	for _, s := range seeds {
		if !g.HasNode(s) {
			continue
		}
		if _, seen := visited[s]; seen {
			continue
		}
		visited[s] = struct{}{}
		path = append(path, s)
	}

	frontier := path
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, id := range frontier {
			for _, n := range g.Neighbors(id) {
				if _, seen := visited[n.ID]; seen {
					continue
				}
				visited[n.ID] = struct{}{}
				next = append(next, n.ID)
			}
		}
		path = append(path, next...)
		frontier = next
	}
	return path
}

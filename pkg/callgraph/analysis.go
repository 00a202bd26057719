package callgraph

import "sort"

// Stats summarizes the shape of a graph.
type Stats struct {
	TotalNodes          int `json:"total_nodes"`
	TotalEdges          int `json:"total_edges"`
	EndpointCount       int `json:"endpoint_count"`
	TestCount           int `json:"test_count"`
	InternalCount       int `json:"internal_count"`
	ExternalCount       int `json:"external_count"`
	UnreachableInternal int `json:"unreachable_internal"`
	CycleCount          int `json:"cycle_count"`
	MaxInDegree         int `json:"max_in_degree"`
	MaxOutDegree        int `json:"max_out_degree"`
}

// ReachableFrom returns every node reachable from id by following calls,
// including id itself, in breadth-first order.
func (g *Graph) ReachableFrom(id string) []string {
	return g.bfs(id, g.forward, -1)
}

// ReachableWithin is ReachableFrom limited to maxDepth hops. A negative
// maxDepth means unlimited.
func (g *Graph) ReachableWithin(id string, maxDepth int) []string {
	return g.bfs(id, g.forward, maxDepth)
}

// Reaches returns every node from which id is reachable, including id.
func (g *Graph) Reaches(id string) []string {
	return g.bfs(id, g.reverse, -1)
}

func (g *Graph) bfs(start string, adj map[string]map[string]struct{}, maxDepth int) []string {
	if !g.HasNode(start) {
		return nil
	}
	depth := map[string]int{start: 0}
	order := []string{start}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxDepth >= 0 && depth[cur] >= maxDepth {
			continue
		}
		for _, next := range sortedKeys(adj[cur]) {
			if _, seen := depth[next]; seen {
				continue
			}
			depth[next] = depth[cur] + 1
			order = append(order, next)
			queue = append(queue, next)
		}
	}
	return order
}

// ShortestPath returns the node sequence of a shortest call path from one
// node to another, or nil when to is unreachable.
func (g *Graph) ShortestPath(from, to string) []string {
	if !g.HasNode(from) || !g.HasNode(to) {
		return nil
	}
	if from == to {
		return []string{from}
	}

	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range sortedKeys(g.forward[cur]) {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == to {
				return buildPath(parent, from, to)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func buildPath(parent map[string]string, from, to string) []string {
	var path []string
	for cur := to; ; cur = parent[cur] {
		path = append(path, cur)
		if cur == from {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Cycles returns the cycles found by a depth-first search with a recursion
// stack. Each cycle is the sequence of node ids from the re-entry point up
// to the node that calls back into it; a self-recursive function yields a
// one-element cycle.
func (g *Graph) Cycles() [][]string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string
	var cycles [][]string

	var dfs func(id string)
	dfs = func(id string) {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, next := range sortedKeys(g.forward[id]) {
			if onStack[next] {
				start := indexOf(path, next)
				cycle := append([]string(nil), path[start:]...)
				cycles = append(cycles, cycle)
				continue
			}
			if !visited[next] {
				dfs(next)
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
	}

	for _, id := range g.nodeOrder {
		if !visited[id] {
			dfs(id)
		}
	}
	return cycles
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}

// Stats computes summary statistics. Internal nodes that no endpoint can
// reach count as unreachable.
func (g *Graph) Stats() Stats {
	s := Stats{
		TotalNodes: len(g.nodes),
		TotalEdges: len(g.edges),
	}

	reachable := make(map[string]bool)
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		switch n.Kind {
		case NodeEndpoint:
			s.EndpointCount++
			for _, r := range g.ReachableFrom(id) {
				reachable[r] = true
			}
		case NodeTest:
			s.TestCount++
		case NodeInternal:
			s.InternalCount++
		case NodeExternal:
			s.ExternalCount++
		}
		if d := len(g.reverse[id]); d > s.MaxInDegree {
			s.MaxInDegree = d
		}
		if d := len(g.forward[id]); d > s.MaxOutDegree {
			s.MaxOutDegree = d
		}
	}

	for _, n := range g.NodesByKind(NodeInternal) {
		if !reachable[n.ID] {
			s.UnreachableInternal++
		}
	}
	s.CycleCount = len(g.Cycles())
	return s
}

// Filter returns a new graph holding only the nodes that satisfy keep and
// the edges between them.
func (g *Graph) Filter(keep func(*FunctionNode) bool) *Graph {
	out := New()
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		if !keep(n) {
			continue
		}
		clone := *n
		clone.Calls = []string{}
		clone.CalledBy = []string{}
		out.AddNode(&clone)
	}
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		if out.HasNode(e.From) && out.HasNode(e.To) {
			out.MustAddEdge(*e)
		}
	}
	return out
}

// TopCallers returns the n nodes with the most callers, ties broken by id.
func (g *Graph) TopCallers(n int) []*FunctionNode {
	nodes := g.Nodes()
	sort.SliceStable(nodes, func(i, j int) bool {
		ci, cj := len(g.reverse[nodes[i].ID]), len(g.reverse[nodes[j].ID])
		if ci != cj {
			return ci > cj
		}
		return nodes[i].ID < nodes[j].ID
	})
	if n < len(nodes) {
		nodes = nodes[:n]
	}
	return nodes
}

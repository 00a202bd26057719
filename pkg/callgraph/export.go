package callgraph

import (
	"fmt"
	"io"
	"sort"

	dgraph "github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

// nodeShapes maps node kinds to Graphviz shapes.
var nodeShapes = map[NodeKind]string{
	NodeEndpoint: "doubleoctagon",
	NodeTest:     "note",
	NodeInternal: "box",
	NodeExternal: "ellipse",
}

// toDirected copies g into a dominikbraun graph keyed by node id. Self
// loops are dropped; Cycles reports them.
func (g *Graph) toDirected() (dgraph.Graph[string, *FunctionNode], error) {
	dg := dgraph.New(func(n *FunctionNode) string { return n.ID }, dgraph.Directed())
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		err := dg.AddVertex(n,
			dgraph.VertexAttribute("label", n.Name),
			dgraph.VertexAttribute("shape", nodeShapes[n.Kind]),
		)
		if err != nil {
			return nil, fmt.Errorf("adding vertex %s: %w", id, err)
		}
	}
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		if e.From == e.To {
			continue
		}
		attrs := []func(*dgraph.EdgeProperties){
			dgraph.EdgeAttribute("label", string(e.Kind)),
		}
		if e.IsConditional {
			attrs = append(attrs, dgraph.EdgeAttribute("style", "dashed"))
		}
		if err := dg.AddEdge(e.From, e.To, attrs...); err != nil {
			return nil, fmt.Errorf("adding edge %s: %w", id, err)
		}
	}
	return dg, nil
}

// StronglyConnected returns the groups of mutually recursive functions:
// every strongly connected component with more than one node. Each group
// and the list of groups are sorted.
func (g *Graph) StronglyConnected() ([][]string, error) {
	dg, err := g.toDirected()
	if err != nil {
		return nil, err
	}
	components, err := dgraph.StronglyConnectedComponents(dg)
	if err != nil {
		return nil, fmt.Errorf("computing components: %w", err)
	}

	var groups [][]string
	for _, c := range components {
		if len(c) < 2 {
			continue
		}
		group := append([]string(nil), c...)
		sort.Strings(group)
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups, nil
}

// WriteDOT renders the graph in Graphviz DOT. Nodes are shaped by kind and
// conditional edges are dashed.
func (g *Graph) WriteDOT(w io.Writer, name string) error {
	dg, err := g.toDirected()
	if err != nil {
		return err
	}
	return draw.DOT(dg, w, draw.GraphAttribute("label", name))
}

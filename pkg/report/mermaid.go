package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/pkg/analyzer"
	"github.com/nwiizo/instrument-rs-sub000/pkg/callgraph"
)

var classDefs = []string{
	"classDef endpoint fill:#f96,stroke:#333,stroke-width:2px",
	"classDef internal fill:#bbf,stroke:#333",
	"classDef test fill:#bfb,stroke:#333",
	"classDef external fill:#eee,stroke:#999,stroke-dasharray: 5 5",
	"classDef gap stroke:#d00,stroke-width:3px",
}

var kindClasses = map[callgraph.NodeKind]string{
	callgraph.NodeEndpoint: "endpoint",
	callgraph.NodeInternal: "internal",
	callgraph.NodeTest:     "test",
	callgraph.NodeExternal: "external",
}

// mermaidWriter assigns short node ids in first-seen order.
type mermaidWriter struct {
	b     strings.Builder
	ids   map[string]string
	order []string
	edges map[string]bool
}

func newMermaidWriter() *mermaidWriter {
	m := &mermaidWriter{ids: make(map[string]string), edges: make(map[string]bool)}
	m.b.WriteString("graph TD\n")
	for _, def := range classDefs {
		m.b.WriteString("    " + def + "\n")
	}
	return m
}

func (m *mermaidWriter) node(id, label, class string) string {
	if short, ok := m.ids[id]; ok {
		return short
	}
	short := fmt.Sprintf("n%d", len(m.ids))
	m.ids[id] = short
	m.order = append(m.order, id)
	fmt.Fprintf(&m.b, "    %s[\"%s\"]:::%s\n", short, escapeLabel(label), class)
	return short
}

func (m *mermaidWriter) edge(from, to string) {
	key := from + "->" + to
	if m.edges[key] {
		return
	}
	m.edges[key] = true
	fmt.Fprintf(&m.b, "    %s --> %s\n", from, to)
}

func (m *mermaidWriter) graphNode(g *callgraph.Graph, id string) string {
	label, class := id, "internal"
	if n, ok := g.Node(id); ok {
		class = kindClasses[n.Kind]
	}
	return m.node(id, label, class)
}

// WriteMermaid renders a flowchart of every endpoint and the call chains
// reachable from its handler, up to maxDepth calls deep. Functions with
// an instrumentation gap get the gap class. Without endpoints, the graph's
// entry points are used as roots.
func WriteMermaid(w io.Writer, res *analyzer.Result, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = -1
	}
	m := newMermaidWriter()
	g := res.Graph
	if g == nil {
		g = callgraph.New()
	}

	type root struct{ id, label string }
	var roots []root
	for _, ep := range res.Endpoints {
		id := handlerID(g, ep.Handler, ep.Location.File)
		label := ep.Method + " " + ep.Path
		roots = append(roots, root{id: id, label: label})
	}
	if len(roots) == 0 {
		for _, n := range g.NodesByKind(callgraph.NodeEndpoint) {
			roots = append(roots, root{id: n.ID, label: n.ID})
		}
	}
	if len(roots) == 0 {
		m.b.WriteString("    %% no endpoints found\n")
	}

	for _, r := range roots {
		ep := m.node("endpoint:"+r.label, r.label, "endpoint")
		if r.id == "" {
			continue
		}
		m.edge(ep, m.graphNode(g, r.id))
		writeReachable(m, g, r.id, maxDepth)
	}

	gapNodes := make(map[string]bool)
	for _, gap := range res.Gaps {
		if id := handlerID(g, gap.Function, gap.Location.File); id != "" {
			gapNodes[id] = true
		}
	}
	for _, id := range m.order {
		if gapNodes[id] {
			fmt.Fprintf(&m.b, "    class %s gap\n", m.ids[id])
		}
	}

	_, err := io.WriteString(w, m.b.String())
	return err
}

// writeReachable adds the nodes within maxDepth calls of start and the
// edges between them.
func writeReachable(m *mermaidWriter, g *callgraph.Graph, start string, maxDepth int) {
	reach := g.ReachableWithin(start, maxDepth)
	in := make(map[string]bool, len(reach))
	for _, id := range reach {
		in[id] = true
	}
	for _, id := range reach {
		from := m.graphNode(g, id)
		for _, callee := range g.Callees(id) {
			if in[callee] {
				m.edge(from, m.graphNode(g, callee))
			}
		}
	}
}

// WriteMermaidGraph renders the whole call graph.
func WriteMermaidGraph(w io.Writer, g *callgraph.Graph) error {
	m := newMermaidWriter()
	for _, n := range g.Nodes() {
		m.graphNode(g, n.ID)
	}
	for _, e := range g.Edges() {
		m.edge(m.graphNode(g, e.From), m.graphNode(g, e.To))
	}
	_, err := io.WriteString(w, m.b.String())
	return err
}

// WriteMermaidPath renders one call path as a chain.
func WriteMermaidPath(w io.Writer, g *callgraph.Graph, path []string) error {
	m := newMermaidWriter()
	var prev string
	for _, id := range path {
		cur := m.graphNode(g, id)
		if prev != "" {
			m.edge(prev, cur)
		}
		prev = cur
	}
	_, err := io.WriteString(w, m.b.String())
	return err
}

// handlerID finds the graph node of a function by short name, preferring
// one defined in file.
func handlerID(g *callgraph.Graph, name, file string) string {
	var fallback string
	for _, n := range g.Nodes() {
		if n.Name != name || n.Kind == callgraph.NodeExternal {
			continue
		}
		if n.File == file {
			return n.ID
		}
		if fallback == "" {
			fallback = n.ID
		}
	}
	return fallback
}

func escapeLabel(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "<", "#lt;", ">", "#gt;").Replace(s)
}

// Package callgraph builds a cross-module call graph over Rust source.
// It resolves call sites to fully-qualified definitions in two passes and
// offers reachability, shortest-path and cycle queries over the result.
package callgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// NodeKind classifies a function node.
type NodeKind string

const (
	// NodeEndpoint is a request handler or program entry point.
	NodeEndpoint NodeKind = "Endpoint"
	// NodeTest is a test function.
	NodeTest NodeKind = "Test"
	// NodeInternal is any other function defined in the analyzed tree.
	NodeInternal NodeKind = "Internal"
	// NodeExternal stands in for a callee with no definition in the tree.
	NodeExternal NodeKind = "External"
)

// FunctionNode is a function in the call graph. Its ID is the
// fully-qualified path.
type FunctionNode struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ModulePath []string        `json:"module_path,omitempty"`
	File       string          `json:"file,omitempty"`
	Kind       NodeKind        `json:"kind"`
	IsAsync    bool            `json:"is_async"`
	IsUnsafe   bool            `json:"is_unsafe"`
	IsPublic   bool            `json:"is_public"`
	Signature  string          `json:"signature,omitempty"`
	Generics   string          `json:"generics,omitempty"`
	Attributes []string        `json:"attributes,omitempty"`
	Location   *types.Location `json:"location,omitempty"`
	Calls      []string        `json:"calls"`
	CalledBy   []string        `json:"called_by"`
}

// NewExternalNode creates an External node for a path with no definition.
func NewExternalNode(path string) *FunctionNode {
	segments := strings.Split(path, "::")
	return &FunctionNode{
		ID:         path,
		Name:       segments[len(segments)-1],
		ModulePath: segments[:len(segments)-1],
		Kind:       NodeExternal,
		IsPublic:   true,
		Calls:      []string{},
		CalledBy:   []string{},
	}
}

// Graph is a directed call graph with forward and reverse adjacency.
// Every edge endpoint is a node in the graph.
type Graph struct {
	nodes     map[string]*FunctionNode
	nodeOrder []string
	edges     map[string]*CallEdge
	edgeOrder []string
	forward   map[string]map[string]struct{}
	reverse   map[string]map[string]struct{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]*FunctionNode),
		edges:   make(map[string]*CallEdge),
		forward: make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
	}
}

// AddNode inserts node. It reports false and leaves the graph unchanged
// when a node with the same ID already exists.
func (g *Graph) AddNode(node *FunctionNode) bool {
	if _, exists := g.nodes[node.ID]; exists {
		return false
	}
	if node.Calls == nil {
		node.Calls = []string{}
	}
	if node.CalledBy == nil {
		node.CalledBy = []string{}
	}
	g.nodes[node.ID] = node
	g.nodeOrder = append(g.nodeOrder, node.ID)
	g.forward[node.ID] = make(map[string]struct{})
	g.reverse[node.ID] = make(map[string]struct{})
	return true
}

// AddEdge inserts edge. Both endpoints must already be nodes; otherwise an
// ErrCallGraph error is returned. An edge between the same pair of nodes
// is stored once; later duplicates are ignored.
func (g *Graph) AddEdge(edge CallEdge) error {
	from, ok := g.nodes[edge.From]
	if !ok {
		return fmt.Errorf("%w: edge %s: unknown caller %q", types.ErrCallGraph, edge.ID(), edge.From)
	}
	to, ok := g.nodes[edge.To]
	if !ok {
		return fmt.Errorf("%w: edge %s: unknown callee %q", types.ErrCallGraph, edge.ID(), edge.To)
	}

	id := edge.ID()
	if _, exists := g.edges[id]; exists {
		return nil
	}
	e := edge
	g.edges[id] = &e
	g.edgeOrder = append(g.edgeOrder, id)

	g.forward[edge.From][edge.To] = struct{}{}
	g.reverse[edge.To][edge.From] = struct{}{}
	from.Calls = insertSorted(from.Calls, edge.To)
	to.CalledBy = insertSorted(to.CalledBy, edge.From)
	return nil
}

// MustAddEdge is AddEdge for callers that have already materialized both
// endpoints. It panics on a missing endpoint.
func (g *Graph) MustAddEdge(edge CallEdge) {
	if err := g.AddEdge(edge); err != nil {
		panic(err)
	}
}

func insertSorted(list []string, id string) []string {
	i := sort.SearchStrings(list, id)
	if i < len(list) && list[i] == id {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = id
	return list
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*FunctionNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// HasNode reports whether id is a node.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*FunctionNode {
	out := make([]*FunctionNode, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []*CallEdge {
	out := make([]*CallEdge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}

// Edge returns the edge from -> to, if any.
func (g *Graph) Edge(from, to string) (*CallEdge, bool) {
	e, ok := g.edges[from+" -> "+to]
	return e, ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// NodesByKind returns the nodes of one kind in insertion order.
func (g *Graph) NodesByKind(kind NodeKind) []*FunctionNode {
	var out []*FunctionNode
	for _, id := range g.nodeOrder {
		if n := g.nodes[id]; n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Callees returns the direct callees of id, sorted.
func (g *Graph) Callees(id string) []string {
	return sortedKeys(g.forward[id])
}

// Callers returns the direct callers of id, sorted.
func (g *Graph) Callers(id string) []string {
	return sortedKeys(g.reverse[id])
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

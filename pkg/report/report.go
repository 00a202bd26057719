// Package report renders analysis results for people and tools: a styled
// tree for terminals, JSON, and Mermaid or Graphviz DOT diagrams of the
// call graph.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/pkg/analyzer"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Format is an output format.
type Format string

const (
	FormatTree    Format = "tree"
	FormatJSON    Format = "json"
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
)

// Formats lists every supported format.
var Formats = []Format{FormatTree, FormatJSON, FormatMermaid, FormatDOT}

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unknown output format %q", types.ErrConfig, s)
}

// Options tune rendering.
type Options struct {
	// Color enables terminal styling in the tree format.
	Color bool
	// MaxDepth caps how far call chains are followed in diagrams. Zero or
	// less follows them to the end.
	MaxDepth int
}

// Write renders res in format f.
func Write(w io.Writer, res *analyzer.Result, f Format, opts Options) error {
	switch f {
	case FormatTree:
		return WriteTree(w, res, opts)
	case FormatJSON:
		return res.WriteJSON(w)
	case FormatMermaid:
		return WriteMermaid(w, res, opts.MaxDepth)
	case FormatDOT:
		return WriteDOT(w, res)
	}
	return fmt.Errorf("%w: unknown output format %q", types.ErrConfig, f)
}

// WriteDOT renders the call graph in Graphviz DOT.
func WriteDOT(w io.Writer, res *analyzer.Result) error {
	if res.Graph == nil {
		return fmt.Errorf("result has no call graph")
	}
	return res.Graph.WriteDOT(w, "instrumentation")
}

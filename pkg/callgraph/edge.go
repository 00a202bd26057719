package callgraph

import "github.com/nwiizo/instrument-rs-sub000/pkg/types"

// CallKind classifies a call edge. It is informational and not part of the
// edge identity.
type CallKind string

const (
	CallDirect    CallKind = "Direct"
	CallIndirect  CallKind = "Indirect"
	CallDynamic   CallKind = "Dynamic"
	CallRecursive CallKind = "Recursive"
	CallTrait     CallKind = "Trait"
	CallClosure   CallKind = "Closure"
)

// CallContext records the syntactic form of the call site.
type CallContext string

const (
	ContextDirect     CallContext = "Direct"
	ContextMethod     CallContext = "Method"
	ContextAssociated CallContext = "Associated"
	ContextClosure    CallContext = "Closure"
	ContextMacro      CallContext = "Macro"
	ContextAsync      CallContext = "Async"
)

// baseWeight is the weight of an unconditional, non-loop call per kind.
var baseWeight = map[CallKind]float64{
	CallDirect:    1.0,
	CallIndirect:  0.8,
	CallDynamic:   0.5,
	CallRecursive: 1.0,
	CallTrait:     0.7,
	CallClosure:   0.9,
}

// CallEdge is a call from one function node to another. Two edges are the
// same edge when From and To match.
type CallEdge struct {
	From          string          `json:"from"`
	To            string          `json:"to"`
	Kind          CallKind        `json:"kind"`
	Location      *types.Location `json:"location,omitempty"`
	IsConditional bool            `json:"is_conditional"`
	InLoop        bool            `json:"is_in_loop"`
	Context       CallContext     `json:"context"`
}

// ID returns the edge identity "from -> to".
func (e CallEdge) ID() string {
	return e.From + " -> " + e.To
}

// Weight derives the edge weight from its kind and context:
// base(kind) x 0.8 when conditional x 1.5 when inside a loop.
func (e CallEdge) Weight() float64 {
	w, ok := baseWeight[e.Kind]
	if !ok {
		w = 1.0
	}
	if e.IsConditional {
		w *= 0.8
	}
	if e.InLoop {
		w *= 1.5
	}
	return w
}

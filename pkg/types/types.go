// Package types defines the per-file data produced by walking Rust source.
// It includes locations, function metadata, call sites, complexity and
// error-handling counters, and the fine-grained instrumentable elements.
package types

import "fmt"

// Location is a 1-based source range.
type Location struct {
	File        string `json:"file,omitempty"`
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
}

// String renders the location as file:line:column.
func (l Location) String() string {
	if l.File == "" {
		return fmt.Sprintf("%d:%d", l.StartLine, l.StartColumn)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.StartLine, l.StartColumn)
}

// Contains reports whether line falls within the location.
func (l Location) Contains(line int) bool {
	return line >= l.StartLine && line <= l.EndLine
}

// CallInfo is a single call site as written in source. Callee is never
// normalized here; resolution happens in the call graph resolver.
type CallInfo struct {
	Callee   string   `json:"callee"`
	IsMethod bool     `json:"is_method"`
	Location Location `json:"location"`
}

// ErrorHandlingInfo counts error-handling constructs inside a function body.
type ErrorHandlingInfo struct {
	ResultReturns          int `json:"result_returns"`
	OptionReturns          int `json:"option_returns"`
	UnwrapCalls            int `json:"unwrap_calls"`
	ExpectCalls            int `json:"expect_calls"`
	FalliblePropagationOps int `json:"fallible_propagation_ops"`
	ErrorMatches           int `json:"error_matches"`
	ErrorIfLets            int `json:"error_if_lets"`
}

// HasErrorHandling reports whether the function returns or inspects a
// fallible value in any way.
func (e ErrorHandlingInfo) HasErrorHandling() bool {
	return e.ResultReturns > 0 || e.OptionReturns > 0 ||
		e.FalliblePropagationOps > 0 || e.ErrorMatches > 0 || e.ErrorIfLets > 0
}

// ComplexityMetrics holds the per-function complexity counters.
type ComplexityMetrics struct {
	Cyclomatic      int `json:"cyclomatic"`
	Cognitive       int `json:"cognitive"`
	LinesOfCode     int `json:"lines_of_code"`
	StatementCount  int `json:"statement_count"`
	MaxNestingDepth int `json:"max_nesting_depth"`
	BranchCount     int `json:"branch_count"`
	LoopCount       int `json:"loop_count"`
}

// FunctionInfo describes one function or method definition.
type FunctionInfo struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	FullPath      string            `json:"full_path"`
	ModulePath    []string          `json:"module_path,omitempty"`
	IsAsync       bool              `json:"is_async"`
	IsUnsafe      bool              `json:"is_unsafe"`
	IsGeneric     bool              `json:"is_generic"`
	IsTest        bool              `json:"is_test"`
	IsPublic      bool              `json:"is_public"`
	IsMethod      bool              `json:"is_method"`
	ParamCount    int               `json:"param_count"`
	ReturnType    string            `json:"return_type,omitempty"`
	Attributes    []string          `json:"attributes,omitempty"`
	Calls         []CallInfo        `json:"calls,omitempty"`
	ErrorHandling ErrorHandlingInfo `json:"error_handling"`
	Complexity    ComplexityMetrics `json:"complexity"`
	Location      Location          `json:"location"`
	// BodyText is the source text of the function body, used by the
	// pattern matcher. It is not serialized.
	BodyText string `json:"-" msgpack:"body_text"`
}

// ModuleInfo describes a module declared in a file, inline or external.
type ModuleInfo struct {
	Name     string   `json:"name"`
	Path     []string `json:"path"`
	IsInline bool     `json:"is_inline"`
	IsTest   bool     `json:"is_test"`
	Location Location `json:"location"`
}

// ElementKind classifies an instrumentable element.
type ElementKind string

const (
	ElementFunction   ElementKind = "Function"
	ElementClosure    ElementKind = "Closure"
	ElementBranch     ElementKind = "Branch"
	ElementMatchArm   ElementKind = "MatchArm"
	ElementLoop       ElementKind = "Loop"
	ElementStatement  ElementKind = "Statement"
	ElementAssignment ElementKind = "Assignment"
	ElementBinaryOp   ElementKind = "BinaryOp"
	ElementUnaryOp    ElementKind = "UnaryOp"
	ElementCall       ElementKind = "Call"
)

// Element is a fine-grained instrumentable point inside a file.
type Element struct {
	ID       string      `json:"id"`
	Kind     ElementKind `json:"kind"`
	Location Location    `json:"location"`
	ParentID string      `json:"parent_id,omitempty"`
	IsTest   bool        `json:"is_test"`
}

// UseEntry is one imported name from a use declaration: Local is the
// name visible in the file, Path the fully-qualified path it refers to.
type UseEntry struct {
	Local string `json:"local"`
	Path  string `json:"path"`
}

// FileAnalysis is the complete walker output for one source file.
type FileAnalysis struct {
	Path       string         `json:"path"`
	Hash       string         `json:"hash"`
	ModulePath []string       `json:"module_path,omitempty"`
	Functions  []FunctionInfo `json:"functions"`
	Modules    []ModuleInfo   `json:"modules,omitempty"`
	Elements   []Element      `json:"elements,omitempty"`
	Uses       []UseEntry     `json:"uses,omitempty"`
	TotalLines int            `json:"total_lines"`
	IsTestFile bool           `json:"is_test_file"`
}

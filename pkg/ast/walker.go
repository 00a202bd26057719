package ast

import (
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Options controls a walk.
type Options struct {
	// ModulePath overrides the module path derived from the file location.
	ModulePath []string
	// NestingWeight scales the extra cognitive cost of a branch per level
	// of nesting. Zero makes cognitive complexity flat.
	NestingWeight int
}

// DefaultOptions returns the standard walk options.
func DefaultOptions() Options {
	return Options{NestingWeight: 1}
}

// fnContext accumulates counters for the function currently being walked.
type fnContext struct {
	info    types.FunctionInfo
	nesting int
}

// Walker performs a single depth-first pass over one file's syntax tree.
type Walker struct {
	file      *SourceFile
	opts      Options
	modules   []string
	fns       []*fnContext
	implDepth int
	inTest    bool
	counter   int
	result    *types.FileAnalysis
}

// Walk runs the walker over file and returns the collected data.
func Walk(file *SourceFile, opts Options) *types.FileAnalysis {
	w := newWalker(file, opts)
	w.visit(file.Root())
	return w.result
}

// AnalyzeFile parses the file at path and walks it.
func AnalyzeFile(path string, opts Options) (*types.FileAnalysis, error) {
	file, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Walk(file, opts), nil
}

func newWalker(file *SourceFile, opts Options) *Walker {
	modulePath := opts.ModulePath
	if modulePath == nil {
		modulePath = ModulePathForFile(file.Path)
	}
	modules := append([]string(nil), modulePath...)

	isTestFile := isTestPath(file.Path)
	return &Walker{
		file:    file,
		opts:    opts,
		modules: modules,
		inTest:  isTestFile,
		result: &types.FileAnalysis{
			Path:       file.Path,
			Hash:       file.Hash,
			ModulePath: append([]string(nil), modulePath...),
			Functions:  []types.FunctionInfo{},
			TotalLines: len(file.Lines()),
			IsTestFile: isTestFile,
		},
	}
}

func isTestPath(path string) bool {
	p := filepath.ToSlash(path)
	return strings.Contains(p, "/tests/") || strings.HasPrefix(p, "tests/") ||
		strings.HasSuffix(p, "_test.rs") || strings.HasSuffix(p, "/tests.rs")
}

func (w *Walker) content() []byte {
	return w.file.Content
}

func (w *Walker) current() *fnContext {
	if len(w.fns) == 0 {
		return nil
	}
	return w.fns[len(w.fns)-1]
}

func (w *Walker) nextID(kind types.ElementKind) string {
	w.counter++
	return fmt.Sprintf("%s#%s_%d", w.file.Path, kind, w.counter)
}

func (w *Walker) addElement(kind types.ElementKind, node *sitter.Node) string {
	id := w.nextID(kind)
	el := types.Element{
		ID:       id,
		Kind:     kind,
		Location: LocationOf(node, w.file.Path),
		IsTest:   w.inTest,
	}
	if fn := w.current(); fn != nil {
		el.ParentID = fn.info.ID
		el.IsTest = el.IsTest || fn.info.IsTest
	}
	w.result.Elements = append(w.result.Elements, el)
	return id
}

func (w *Walker) visitChildren(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		w.visit(node.Child(i))
	}
}

func (w *Walker) visit(node *sitter.Node) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_item":
		w.visitFunction(node)
		return
	case "mod_item":
		w.visitModule(node)
		return
	case "impl_item", "trait_item":
		w.implDepth++
		w.visitChildren(node)
		w.implDepth--
		return
	case "use_declaration":
		if w.current() == nil {
			w.result.Uses = append(w.result.Uses, UseEntries(node, w.content())...)
		}
		return
	case "if_expression", "if_let_expression":
		w.visitIf(node)
		return
	case "match_expression":
		w.visitMatch(node)
		return
	case "loop_expression", "while_expression", "while_let_expression", "for_expression":
		w.visitLoop(node)
		return
	case "closure_expression":
		w.visitClosure(node)
		return
	case "call_expression":
		w.visitCall(node)
		return
	case "try_expression":
		if fn := w.current(); fn != nil {
			fn.info.ErrorHandling.FalliblePropagationOps++
		}
	case "binary_expression":
		w.addElement(types.ElementBinaryOp, node)
		if op := node.ChildByFieldName("operator"); op != nil {
			if t := op.Type(); t == "&&" || t == "||" {
				w.branch(1, false)
			}
		}
	case "unary_expression":
		w.addElement(types.ElementUnaryOp, node)
	case "assignment_expression", "compound_assignment_expr":
		w.addElement(types.ElementAssignment, node)
	case "expression_statement":
		w.addElement(types.ElementStatement, node)
	case "block":
		w.countStatements(node)
	}

	w.visitChildren(node)
}

func (w *Walker) visitFunction(node *sitter.Node) {
	content := w.content()
	name := nodeText(node.ChildByFieldName("name"), content)
	if name == "" {
		w.visitChildren(node)
		return
	}

	attrs := Attributes(node, content)
	isTest := w.inTest
	for _, attr := range attrs {
		if IsTestAttribute(attr) {
			isTest = true
		}
	}

	info := types.FunctionInfo{
		Name:       name,
		FullPath:   JoinPath(w.modules, name),
		ModulePath: append([]string(nil), w.modules...),
		IsTest:     isTest,
		IsPublic:   hasVisibility(node),
		IsMethod:   w.implDepth > 0,
		IsGeneric:  node.ChildByFieldName("type_parameters") != nil,
		Attributes: attrs,
		Location:   LocationOf(node, w.file.Path),
	}
	info.Complexity.Cyclomatic = 1

	info.IsAsync, info.IsUnsafe = FunctionModifiers(node)

	params := node.ChildByFieldName("parameters")
	for i := 0; params != nil && i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "self_parameter":
			info.IsMethod = true
		case "parameter", "variadic_parameter":
			info.ParamCount++
		}
	}

	if ret := node.ChildByFieldName("return_type"); ret != nil {
		info.ReturnType = strings.TrimSpace(nodeText(ret, content))
		if strings.Contains(info.ReturnType, "Result") {
			info.ErrorHandling.ResultReturns = 1
		}
		if strings.Contains(info.ReturnType, "Option") {
			info.ErrorHandling.OptionReturns = 1
		}
	}

	// Reserve the slot so nested functions land after their parent.
	idx := len(w.result.Functions)
	w.result.Functions = append(w.result.Functions, types.FunctionInfo{})

	ctx := &fnContext{info: info}
	ctx.info.ID = w.nextID(types.ElementFunction)
	w.result.Elements = append(w.result.Elements, types.Element{
		ID:       ctx.info.ID,
		Kind:     types.ElementFunction,
		Location: info.Location,
		ParentID: w.parentFunctionID(),
		IsTest:   isTest,
	})

	w.fns = append(w.fns, ctx)
	if body := node.ChildByFieldName("body"); body != nil {
		ctx.info.BodyText = nodeText(body, content)
		ctx.info.Complexity.LinesOfCode = countCodeLines(ctx.info.BodyText)
		w.visit(body)
	}
	w.fns = w.fns[:len(w.fns)-1]

	w.result.Functions[idx] = ctx.info
}

func (w *Walker) parentFunctionID() string {
	if fn := w.current(); fn != nil {
		return fn.info.ID
	}
	return ""
}

func (w *Walker) visitModule(node *sitter.Node) {
	content := w.content()
	name := nodeText(node.ChildByFieldName("name"), content)
	if name == "" {
		return
	}

	isTest := false
	for _, attr := range Attributes(node, content) {
		if IsCfgTest(attr) {
			isTest = true
		}
	}

	body := node.ChildByFieldName("body")
	w.modules = append(w.modules, name)
	w.result.Modules = append(w.result.Modules, types.ModuleInfo{
		Name:     name,
		Path:     append([]string(nil), w.modules...),
		IsInline: body != nil,
		IsTest:   isTest || w.inTest,
		Location: LocationOf(node, w.file.Path),
	})

	if body != nil {
		prev := w.inTest
		if isTest {
			w.inTest = true
		}
		w.visit(body)
		w.inTest = prev
	}
	w.modules = w.modules[:len(w.modules)-1]
}

// branch records one branching construct. Nested constructs cost more
// cognitive complexity than flat ones.
func (w *Walker) branch(cyclomatic int, weighted bool) {
	fn := w.current()
	if fn == nil {
		return
	}
	fn.info.Complexity.Cyclomatic += cyclomatic
	fn.info.Complexity.BranchCount++
	inc := 1
	if weighted {
		inc += fn.nesting * w.opts.NestingWeight
	}
	fn.info.Complexity.Cognitive += inc
}

// nested runs f one nesting level deeper.
func (w *Walker) nested(f func()) {
	fn := w.current()
	if fn == nil {
		f()
		return
	}
	fn.nesting++
	if fn.nesting > fn.info.Complexity.MaxNestingDepth {
		fn.info.Complexity.MaxNestingDepth = fn.nesting
	}
	f()
	fn.nesting--
}

func (w *Walker) visitIf(node *sitter.Node) {
	w.addElement(types.ElementBranch, node)
	w.branch(1, true)
	w.checkIfLet(node)

	var alternative *sitter.Node
	w.nested(func() {
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == "else_clause" {
				alternative = child
				continue
			}
			w.visit(child)
		}
	})

	if alternative == nil {
		return
	}
	for i := 0; i < int(alternative.NamedChildCount()); i++ {
		child := alternative.NamedChild(i)
		if child.Type() == "if_expression" || child.Type() == "if_let_expression" {
			// else-if continues the chain at the same level.
			w.visitIf(child)
			continue
		}
		w.nested(func() { w.visit(child) })
	}
}

func (w *Walker) checkIfLet(node *sitter.Node) {
	fn := w.current()
	if fn == nil {
		return
	}
	content := w.content()

	var pattern, value *sitter.Node
	if node.Type() == "if_let_expression" {
		pattern = node.ChildByFieldName("pattern")
		value = node.ChildByFieldName("value")
	} else if cond := node.ChildByFieldName("condition"); cond != nil && cond.Type() == "let_condition" {
		pattern = cond.ChildByFieldName("pattern")
		value = cond.ChildByFieldName("value")
	}
	if pattern == nil && value == nil {
		return
	}

	if isFalliblePattern(nodeText(pattern, content)) || isFallibleText(nodeText(value, content)) {
		fn.info.ErrorHandling.ErrorIfLets++
	}
}

func (w *Walker) visitMatch(node *sitter.Node) {
	w.addElement(types.ElementBranch, node)
	content := w.content()

	var arms []*sitter.Node
	if body := node.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			if arm := body.NamedChild(i); arm.Type() == "match_arm" {
				arms = append(arms, arm)
			}
		}
	}

	if fn := w.current(); fn != nil {
		if len(arms) > 1 {
			w.branch(len(arms)-1, true)
		}
		erroneous := isFallibleText(nodeText(node.ChildByFieldName("value"), content))
		for _, arm := range arms {
			if isFalliblePattern(nodeText(arm.ChildByFieldName("pattern"), content)) {
				erroneous = true
			}
		}
		if erroneous {
			fn.info.ErrorHandling.ErrorMatches++
		}
	}

	w.nested(func() {
		w.visit(node.ChildByFieldName("value"))
		for _, arm := range arms {
			w.addElement(types.ElementMatchArm, arm)
			w.visitChildren(arm)
		}
	})
}

func (w *Walker) visitLoop(node *sitter.Node) {
	w.addElement(types.ElementLoop, node)
	w.branch(1, true)
	if fn := w.current(); fn != nil {
		fn.info.Complexity.LoopCount++
	}
	w.nested(func() { w.visitChildren(node) })
}

func (w *Walker) visitClosure(node *sitter.Node) {
	w.addElement(types.ElementClosure, node)
	w.branch(1, true)
	w.nested(func() { w.visitChildren(node) })
}

func (w *Walker) visitCall(node *sitter.Node) {
	w.addElement(types.ElementCall, node)

	if fn := w.current(); fn != nil {
		if call, ok := callInfo(node.ChildByFieldName("function"), w.content(), w.file.Path); ok {
			fn.info.Calls = append(fn.info.Calls, call)
			if call.IsMethod {
				switch call.Callee {
				case "unwrap":
					fn.info.ErrorHandling.UnwrapCalls++
				case "expect":
					fn.info.ErrorHandling.ExpectCalls++
				}
			}
		}
	}

	w.visitChildren(node)
}

// callInfo extracts the callee of a call expression's function node.
func callInfo(fnNode *sitter.Node, content []byte, file string) (types.CallInfo, bool) {
	if fnNode == nil {
		return types.CallInfo{}, false
	}

	switch fnNode.Type() {
	case "identifier", "scoped_identifier", "self":
		return types.CallInfo{
			Callee:   StripTurbofish(compactText(fnNode, content)),
			Location: LocationOf(fnNode, file),
		}, true
	case "generic_function":
		return callInfo(fnNode.ChildByFieldName("function"), content, file)
	case "field_expression":
		field := fnNode.ChildByFieldName("field")
		name := nodeText(field, content)
		if name == "" {
			return types.CallInfo{}, false
		}
		return types.CallInfo{
			Callee:   name,
			IsMethod: true,
			Location: LocationOf(field, file),
		}, true
	}
	return types.CallInfo{}, false
}

// StripTurbofish removes generic arguments from a path:
// `Vec::<u8>::new` becomes `Vec::new`.
func StripTurbofish(path string) string {
	if !strings.Contains(path, "<") {
		return path
	}
	var b strings.Builder
	depth := 0
	for _, r := range path {
		switch {
		case r == '<':
			depth++
		case r == '>':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "::::") {
		out = strings.ReplaceAll(out, "::::", "::")
	}
	return strings.TrimSuffix(out, "::")
}

func (w *Walker) countStatements(block *sitter.Node) {
	fn := w.current()
	if fn == nil {
		return
	}
	for i := 0; i < int(block.NamedChildCount()); i++ {
		switch block.NamedChild(i).Type() {
		case "line_comment", "block_comment":
		default:
			fn.info.Complexity.StatementCount++
		}
	}
}

func isFallibleText(text string) bool {
	return strings.Contains(text, "Result") || strings.Contains(text, "Option")
}

func isFalliblePattern(text string) bool {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"Ok(", "Err(", "Some(", "None", "Result::", "Option::"} {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

func countCodeLines(body string) int {
	n := 0
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		n++
	}
	return n
}

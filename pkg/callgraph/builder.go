package callgraph

import (
	"context"
	"runtime"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// routeAttributes are attribute names that mark a request handler.
var routeAttributes = map[string]bool{
	"get": true, "post": true, "put": true, "delete": true,
	"patch": true, "head": true, "options": true, "route": true,
}

// preludeConstructors are enum constructors that look like calls but never
// name a function.
var preludeConstructors = map[string]bool{
	"Ok": true, "Err": true, "Some": true,
}

// Option configures a Builder.
type Option func(*Builder)

// WithWorkers sets the number of files parsed concurrently. Values below
// one mean runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// WithExternalRoots adds crate roots that resolve as external, typically
// the dependencies declared in the manifest.
func WithExternalRoots(roots ...string) Option {
	return func(b *Builder) {
		for _, root := range roots {
			b.resolver.AddExternalRoot(strings.ReplaceAll(root, "-", "_"))
		}
	}
}

// WithExternalMethodEdges makes method calls that match no local
// definition produce an edge to an External node named after the method.
func WithExternalMethodEdges(enabled bool) Option {
	return func(b *Builder) { b.externalMethods = enabled }
}

// WithWalkOptions sets the options used when walking each file.
func WithWalkOptions(opts ast.Options) Option {
	return func(b *Builder) { b.walkOpts = opts }
}

// Builder constructs a call graph from a set of Rust files in two passes:
// BuildIndex registers every definition and import, ResolveCalls re-walks
// the files and emits edges through the populated resolver.
type Builder struct {
	workers         int
	externalMethods bool
	walkOpts        ast.Options

	graph    *Graph
	resolver *Resolver
	files    []*types.FileAnalysis
	failures []types.Failure
}

// NewBuilder creates a builder with an empty graph and resolver.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		walkOpts: ast.DefaultOptions(),
		graph:    New(),
		resolver: NewResolver(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers < 1 {
		b.workers = runtime.NumCPU()
	}
	return b
}

// Graph returns the graph built so far.
func (b *Builder) Graph() *Graph { return b.graph }

// Resolver returns the resolver populated by BuildIndex.
func (b *Builder) Resolver() *Resolver { return b.resolver }

// Files returns the walker output of every file that parsed, in input
// order.
func (b *Builder) Files() []*types.FileAnalysis { return b.files }

// Failures returns the files that could not be parsed.
func (b *Builder) Failures() []types.Failure { return b.failures }

// Build runs both passes over paths.
func (b *Builder) Build(ctx context.Context, paths []string) (*Graph, error) {
	if err := b.BuildIndex(ctx, paths); err != nil {
		return nil, err
	}
	if err := b.ResolveCalls(ctx); err != nil {
		return nil, err
	}
	return b.graph, nil
}

// indexBatch is the private result of walking one file in the first pass.
type indexBatch struct {
	analysis *types.FileAnalysis
	err      error
}

// BuildIndex parses and walks every file concurrently, then registers the
// definitions, modules and imports of each file in input order. A file
// that fails to parse is recorded as a failure and skipped.
func (b *Builder) BuildIndex(ctx context.Context, paths []string) error {
	batches := make([]indexBatch, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fa, err := ast.AnalyzeFile(path, b.walkOpts)
			batches[i] = indexBatch{analysis: fa, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, batch := range batches {
		if batch.err != nil {
			b.failures = append(b.failures, types.NewFailure(paths[i], batch.err))
			continue
		}
		b.register(batch.analysis)
		b.files = append(b.files, batch.analysis)
	}
	return nil
}

// Index registers already-walked files, for callers that hold cached
// analyses. It is the merge half of BuildIndex.
func (b *Builder) Index(files []*types.FileAnalysis) {
	for _, fa := range files {
		b.register(fa)
		b.files = append(b.files, fa)
	}
}

func (b *Builder) register(fa *types.FileAnalysis) {
	b.resolver.BeginFile(fa.Path, fa.ModulePath)
	for _, use := range fa.Uses {
		b.resolver.RegisterImport(use.Local, use.Path)
	}
	for _, mod := range fa.Modules {
		if mod.IsInline {
			b.resolver.RegisterSymbol(mod.Name, mod.Path[:len(mod.Path)-1], fa.Path, false, SymbolModule)
		}
	}
	for i := range fa.Functions {
		fn := &fa.Functions[i]
		b.resolver.RegisterFunction(fn.Name, fn.ModulePath, fa.Path, fn.IsPublic)
		b.graph.AddNode(nodeFromFunction(fa.Path, fn))
	}
}

func nodeFromFunction(file string, fn *types.FunctionInfo) *FunctionNode {
	loc := fn.Location
	node := &FunctionNode{
		ID:         fn.FullPath,
		Name:       fn.Name,
		ModulePath: fn.ModulePath,
		File:       file,
		Kind:       classify(fn),
		IsAsync:    fn.IsAsync,
		IsUnsafe:   fn.IsUnsafe,
		IsPublic:   fn.IsPublic,
		Signature:  signature(fn),
		Attributes: fn.Attributes,
		Location:   &loc,
	}
	if fn.IsGeneric {
		node.Generics = "<..>"
	}
	return node
}

func classify(fn *types.FunctionInfo) NodeKind {
	for _, attr := range fn.Attributes {
		if ast.IsTestAttribute(attr) {
			return NodeTest
		}
	}
	if fn.Name == "main" && !fn.IsMethod {
		return NodeEndpoint
	}
	for _, attr := range fn.Attributes {
		if IsRouteAttribute(attr) {
			return NodeEndpoint
		}
	}
	return NodeInternal
}

// IsRouteAttribute reports whether attr marks an HTTP route handler, such
// as get("/users"), actix_web::post("/x") or route_get("/y").
func IsRouteAttribute(attr string) bool {
	path := ast.AttributePath(attr)
	if i := strings.LastIndex(path, "::"); i >= 0 {
		path = path[i+2:]
	}
	return routeAttributes[path] || strings.HasPrefix(path, "route_")
}

func signature(fn *types.FunctionInfo) string {
	var b strings.Builder
	if fn.IsPublic {
		b.WriteString("pub ")
	}
	if fn.IsAsync {
		b.WriteString("async ")
	}
	if fn.IsUnsafe {
		b.WriteString("unsafe ")
	}
	b.WriteString("fn ")
	b.WriteString(fn.Name)
	if fn.ReturnType != "" {
		b.WriteString(" -> ")
		b.WriteString(fn.ReturnType)
	}
	return b.String()
}

// ResolveCalls re-parses every indexed file concurrently and resolves its
// call sites against the resolver, which is read-only during this pass.
// Edge batches are merged into the graph in file order; targets with no
// node are materialized as External nodes first.
func (b *Builder) ResolveCalls(ctx context.Context) error {
	batches := make([][]CallEdge, len(b.files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, fa := range b.files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			file, err := ast.ParseFile(fa.Path)
			if err != nil {
				// The file changed between passes; keep its definitions only.
				return nil
			}
			defer file.Close()
			batches[i] = b.edgesForFile(file, fa.ModulePath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, batch := range batches {
		b.mergeEdges(batch)
	}
	return nil
}

// ResolveSource emits the edges of one already-parsed file. It is the
// single-file form of ResolveCalls.
func (b *Builder) ResolveSource(file *ast.SourceFile, modulePath []string) {
	b.mergeEdges(b.edgesForFile(file, modulePath))
}

func (b *Builder) mergeEdges(edges []CallEdge) {
	for _, e := range edges {
		if !b.graph.HasNode(e.From) {
			continue
		}
		if !b.graph.HasNode(e.To) {
			b.graph.AddNode(NewExternalNode(e.To))
		}
		b.graph.MustAddEdge(e)
	}
}

// frame is one entry of the edge walker's context stack.
type frame struct {
	functionID  string
	conditional bool
	inLoop      bool
	inClosure   bool
	blockDepth  int
}

// edgeWalker is the second-pass traversal over one file.
type edgeWalker struct {
	b       *Builder
	file    *ast.SourceFile
	modules []string
	frames  []frame
	edges   []CallEdge
}

func (b *Builder) edgesForFile(file *ast.SourceFile, modulePath []string) []CallEdge {
	w := &edgeWalker{
		b:       b,
		file:    file,
		modules: append([]string(nil), modulePath...),
	}
	w.visit(file.Root())
	return w.edges
}

func (w *edgeWalker) top() *frame {
	if len(w.frames) == 0 {
		return nil
	}
	return &w.frames[len(w.frames)-1]
}

// with runs f with the top frame modified by set, restoring it afterwards.
func (w *edgeWalker) with(set func(*frame), f func()) {
	top := w.top()
	if top == nil {
		f()
		return
	}
	saved := *top
	set(top)
	f()
	*w.top() = saved
}

func (w *edgeWalker) children(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		w.visit(node.Child(i))
	}
}

func (w *edgeWalker) visit(node *sitter.Node) {
	if node == nil {
		return
	}
	content := w.file.Content

	switch node.Type() {
	case "function_item":
		name := ast.NodeText(node.ChildByFieldName("name"), content)
		body := node.ChildByFieldName("body")
		if name == "" || body == nil {
			return
		}
		w.frames = append(w.frames, frame{functionID: ast.JoinPath(w.modules, name)})
		w.visit(body)
		w.frames = w.frames[:len(w.frames)-1]
		return

	case "mod_item":
		name := ast.NodeText(node.ChildByFieldName("name"), content)
		if body := node.ChildByFieldName("body"); body != nil && name != "" {
			w.modules = append(w.modules, name)
			w.visit(body)
			w.modules = w.modules[:len(w.modules)-1]
		}
		return

	case "if_expression", "if_let_expression":
		cond := node.ChildByFieldName("condition")
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if ast.SameNode(child, cond) || child.Type() == "let_condition" {
				w.visit(child)
				continue
			}
			w.with(func(f *frame) { f.conditional = true }, func() { w.visit(child) })
		}
		return

	case "match_expression":
		w.visit(node.ChildByFieldName("value"))
		w.with(func(f *frame) { f.conditional = true }, func() {
			w.visit(node.ChildByFieldName("body"))
		})
		return

	case "loop_expression", "while_expression", "while_let_expression", "for_expression":
		w.with(func(f *frame) { f.inLoop = true }, func() { w.children(node) })
		return

	case "closure_expression":
		w.with(func(f *frame) { f.inClosure = true }, func() { w.children(node) })
		return

	case "block":
		w.with(func(f *frame) { f.blockDepth++ }, func() { w.children(node) })
		return

	case "call_expression":
		w.emit(node)
	}

	w.children(node)
}

func (w *edgeWalker) emit(call *sitter.Node) {
	top := w.top()
	if top == nil {
		return
	}
	fnNode := call.ChildByFieldName("function")
	for fnNode != nil && fnNode.Type() == "generic_function" {
		fnNode = fnNode.ChildByFieldName("function")
	}
	if fnNode == nil {
		return
	}

	loc := ast.LocationOf(fnNode, w.file.Path)
	edge := CallEdge{
		From:          top.functionID,
		Location:      &loc,
		IsConditional: top.conditional,
		InLoop:        top.inLoop,
		Kind:          CallDirect,
		Context:       ContextDirect,
	}

	switch fnNode.Type() {
	case "identifier", "scoped_identifier":
		path := ast.StripTurbofish(strings.Join(strings.Fields(ast.NodeText(fnNode, w.file.Content)), ""))
		if preludeConstructors[path] {
			return
		}
		sym, ok := w.b.resolver.ResolveIn(Scope{File: w.file.Path, Modules: w.modules}, path)
		if ok {
			edge.To = sym.FullPath
		} else {
			edge.To = normalizePath(w.modules, path)
		}
		if fnNode.Type() == "scoped_identifier" && isTypeName(firstSegment(path)) {
			edge.Context = ContextAssociated
		}

	case "field_expression":
		method := ast.NodeText(fnNode.ChildByFieldName("field"), w.file.Content)
		if method == "" {
			return
		}
		edge.Kind = CallTrait
		edge.Context = ContextMethod
		if sym, ok := w.b.resolver.LookupName(method); ok {
			edge.To = sym.FullPath
		} else if w.b.externalMethods {
			edge.To = method
		} else {
			return
		}

	default:
		return
	}

	if edge.To == "" {
		return
	}
	switch {
	case edge.To == top.functionID:
		edge.Kind = CallRecursive
	case top.inClosure && edge.Kind == CallDirect:
		edge.Kind = CallClosure
		edge.Context = ContextClosure
	}
	if parent := call.Parent(); parent != nil && parent.Type() == "await_expression" && edge.Context == ContextDirect {
		edge.Context = ContextAsync
	}
	w.edges = append(w.edges, edge)
}

func firstSegment(path string) string {
	return strings.SplitN(path, "::", 2)[0]
}

package callgraph

import (
	"strings"
)

// SymbolKind is the kind of a resolved definition.
type SymbolKind string

const (
	SymbolFunction SymbolKind = "function"
	SymbolStruct   SymbolKind = "struct"
	SymbolTrait    SymbolKind = "trait"
	SymbolModule   SymbolKind = "module"
)

// ResolvedSymbol maps a path as written to its canonical definition.
type ResolvedSymbol struct {
	Name       string     `json:"name"`
	FullPath   string     `json:"full_path"`
	ModulePath []string   `json:"module_path,omitempty"`
	File       string     `json:"file,omitempty"`
	Kind       SymbolKind `json:"kind"`
	IsPublic   bool       `json:"is_public"`
	IsExternal bool       `json:"is_external"`
}

// DefaultExternalRoots are the crate roots always treated as external.
var DefaultExternalRoots = []string{
	"std", "core", "alloc", "proc_macro",
	"tokio", "async_trait", "serde", "anyhow", "thiserror",
	"log", "tracing", "futures",
}

// Resolver maps textual paths to definitions. Definitions and imports are
// registered during the first build pass; afterwards the resolver is only
// read.
type Resolver struct {
	byPath    map[string]*ResolvedSymbol
	byName    map[string]string
	ambiguous map[string]bool

	// localRoots holds the first segment of every registered module path.
	localRoots map[string]bool
	external   map[string]bool

	imports     map[string]map[string]string
	currentFile string
	modules     []string
}

// NewResolver creates a resolver with the default external roots.
func NewResolver() *Resolver {
	r := &Resolver{
		byPath:     make(map[string]*ResolvedSymbol),
		byName:     make(map[string]string),
		ambiguous:  make(map[string]bool),
		localRoots: make(map[string]bool),
		external:   make(map[string]bool),
		imports:    make(map[string]map[string]string),
	}
	for _, root := range DefaultExternalRoots {
		r.external[root] = true
	}
	return r
}

// AddExternalRoot marks a crate root as external.
func (r *Resolver) AddExternalRoot(root string) {
	r.external[root] = true
}

// BeginFile switches the active import scope to file and resets the module
// stack to the file's module path.
func (r *Resolver) BeginFile(file string, modulePath []string) {
	r.currentFile = file
	r.modules = append(r.modules[:0], modulePath...)
	if _, ok := r.imports[file]; !ok {
		r.imports[file] = make(map[string]string)
	}
	if len(modulePath) > 0 {
		r.localRoots[modulePath[0]] = true
	}
}

// EnterModule pushes an inline module onto the scope stack.
func (r *Resolver) EnterModule(name string) {
	r.modules = append(r.modules, name)
	if len(r.modules) == 1 {
		r.localRoots[name] = true
	}
}

// ExitModule pops the innermost module.
func (r *Resolver) ExitModule() {
	if len(r.modules) > 0 {
		r.modules = r.modules[:len(r.modules)-1]
	}
}

// CurrentModule returns a copy of the module stack.
func (r *Resolver) CurrentModule() []string {
	return append([]string(nil), r.modules...)
}

// RegisterFunction records a function definition. The short name is kept
// as a lookup key only while it is unambiguous.
func (r *Resolver) RegisterFunction(name string, modulePath []string, file string, isPublic bool) *ResolvedSymbol {
	return r.register(name, modulePath, file, isPublic, SymbolFunction)
}

// RegisterSymbol records a definition of any kind.
func (r *Resolver) RegisterSymbol(name string, modulePath []string, file string, isPublic bool, kind SymbolKind) *ResolvedSymbol {
	return r.register(name, modulePath, file, isPublic, kind)
}

func (r *Resolver) register(name string, modulePath []string, file string, isPublic bool, kind SymbolKind) *ResolvedSymbol {
	full := joinPath(modulePath, name)
	sym := &ResolvedSymbol{
		Name:       name,
		FullPath:   full,
		ModulePath: append([]string(nil), modulePath...),
		File:       file,
		Kind:       kind,
		IsPublic:   isPublic,
	}
	if _, exists := r.byPath[full]; !exists {
		r.byPath[full] = sym
	}
	if len(modulePath) > 0 {
		r.localRoots[modulePath[0]] = true
	}

	switch existing, ok := r.byName[name]; {
	case r.ambiguous[name]:
	case !ok:
		r.byName[name] = full
	case existing != full:
		delete(r.byName, name)
		r.ambiguous[name] = true
	}
	return r.byPath[full]
}

// RegisterImport records that local refers to fullPath in the current
// file. crate::, self:: and super:: prefixes are made absolute first.
func (r *Resolver) RegisterImport(local, fullPath string) {
	if local == "" || fullPath == "" {
		return
	}
	if _, ok := r.imports[r.currentFile]; !ok {
		r.imports[r.currentFile] = make(map[string]string)
	}
	r.imports[r.currentFile][local] = normalizePath(r.modules, fullPath)
}

// Imports returns the import map of file.
func (r *Resolver) Imports(file string) map[string]string {
	return r.imports[file]
}

// Lookup returns the definition registered under an exact full path.
func (r *Resolver) Lookup(fullPath string) (*ResolvedSymbol, bool) {
	sym, ok := r.byPath[fullPath]
	return sym, ok
}

// LookupName returns the definition with an unambiguous short name.
func (r *Resolver) LookupName(name string) (*ResolvedSymbol, bool) {
	full, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.byPath[full], true
}

// Scope is the lexical position a path is resolved from: the file whose
// imports apply and the enclosing module stack.
type Scope struct {
	File    string
	Modules []string
}

// Resolve maps a path as written at a call site to a symbol, using the
// resolver's current file and module stack.
func (r *Resolver) Resolve(path string) (*ResolvedSymbol, bool) {
	return r.ResolveIn(Scope{File: r.currentFile, Modules: r.modules}, path)
}

// ResolveIn maps a path to a symbol from scope. It tries, in order: a
// direct lookup, the file's imports, the enclosing modules from innermost
// outward, and finally classification as external. It reports false only
// for paths under a local module that name nothing known. ResolveIn does
// not modify the resolver and is safe for concurrent use once
// registration has finished.
func (r *Resolver) ResolveIn(scope Scope, path string) (*ResolvedSymbol, bool) {
	path = normalizePath(scope.Modules, path)
	if path == "" {
		return nil, false
	}

	if sym, ok := r.direct(path); ok {
		return sym, true
	}

	segments := strings.Split(path, "::")
	rewritten := path
	if base, ok := r.imports[scope.File][segments[0]]; ok {
		rewritten = base
		if len(segments) > 1 {
			rewritten = base + "::" + strings.Join(segments[1:], "::")
		}
		if sym, ok := r.byPath[rewritten]; ok {
			return sym, true
		}
	}

	for i := len(scope.Modules); i > 0; i-- {
		candidate := joinPath(scope.Modules[:i], path)
		if sym, ok := r.byPath[candidate]; ok {
			return sym, true
		}
	}

	root := strings.SplitN(rewritten, "::", 2)[0]
	if isTypeName(root) && !r.external[root] && rewritten == path {
		// Type::function on a local type: methods are keyed by module, not
		// by type, so fall back to the unambiguous short name.
		if sym, ok := r.LookupName(segments[len(segments)-1]); ok {
			return sym, true
		}
	}
	if r.external[root] || !r.localRoots[root] {
		return externalSymbol(rewritten), true
	}
	return nil, false
}

func (r *Resolver) direct(path string) (*ResolvedSymbol, bool) {
	if sym, ok := r.byPath[path]; ok {
		return sym, true
	}
	if !strings.Contains(path, "::") {
		return r.LookupName(path)
	}
	return nil, false
}

// IsExternalRoot reports whether root is a known external crate.
func (r *Resolver) IsExternalRoot(root string) bool {
	return r.external[root]
}

// normalizePath rewrites crate-relative prefixes to absolute module paths
// as seen from modules.
func normalizePath(modules []string, path string) string {
	path = strings.TrimPrefix(path, "::")
	switch {
	case path == "crate" || path == "self":
		return ""
	case strings.HasPrefix(path, "crate::"):
		return strings.TrimPrefix(path, "crate::")
	case strings.HasPrefix(path, "self::"):
		return joinPath(modules, strings.TrimPrefix(path, "self::"))
	case strings.HasPrefix(path, "super::"):
		mods := modules
		for strings.HasPrefix(path, "super::") {
			path = strings.TrimPrefix(path, "super::")
			if len(mods) > 0 {
				mods = mods[:len(mods)-1]
			}
		}
		return joinPath(mods, path)
	}
	return path
}

func isTypeName(segment string) bool {
	return segment != "" && segment[0] >= 'A' && segment[0] <= 'Z'
}

func externalSymbol(path string) *ResolvedSymbol {
	segments := strings.Split(path, "::")
	return &ResolvedSymbol{
		Name:       segments[len(segments)-1],
		FullPath:   path,
		ModulePath: segments[:len(segments)-1],
		Kind:       SymbolFunction,
		IsPublic:   true,
		IsExternal: true,
	}
}

func joinPath(modulePath []string, name string) string {
	if len(modulePath) == 0 {
		return name
	}
	return strings.Join(modulePath, "::") + "::" + name
}

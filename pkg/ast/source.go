// Package ast parses Rust source with tree-sitter and walks the syntax tree
// to collect per-function metadata: signature facts, calls, complexity and
// error-handling counters.
package ast

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// parserPool is a pool of reusable tree-sitter parsers for Rust.
var parserPool = sync.Pool{
	New: func() interface{} {
		parser := sitter.NewParser()
		parser.SetLanguage(rust.GetLanguage())
		return parser
	},
}

// SourceFile is the parsed form of one Rust file. It is immutable once
// created; call Close to release the syntax tree.
type SourceFile struct {
	Path    string
	Content []byte
	Hash    string

	tree *sitter.Tree
}

// ParseFile reads and parses the file at path.
func ParseFile(path string) (*SourceFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewIoError("read", path, err)
	}
	return Parse(path, content)
}

// Parse parses content as Rust. Content that is not valid UTF-8 or that
// contains syntax errors yields a *types.ParseError.
func Parse(path string, content []byte) (*SourceFile, error) {
	if !utf8.Valid(content) {
		return nil, &types.ParseError{Path: path, Message: "file is not valid UTF-8"}
	}

	tree, err := parseTree(content)
	if err != nil {
		return nil, &types.ParseError{Path: path, Message: err.Error()}
	}

	if msg := firstError(tree.RootNode(), content); msg != "" {
		tree.Close()
		return nil, &types.ParseError{Path: path, Message: msg}
	}

	return &SourceFile{
		Path:    path,
		Content: content,
		Hash:    HashContent(content),
		tree:    tree,
	}, nil
}

// Validate reports whether content parses as Rust without syntax errors.
// The returned error is a *types.SyntaxError.
func Validate(path string, content []byte) error {
	tree, err := parseTree(content)
	if err != nil {
		return &types.SyntaxError{Path: path, Message: err.Error()}
	}
	defer tree.Close()

	if msg := firstError(tree.RootNode(), content); msg != "" {
		return &types.SyntaxError{Path: path, Message: msg}
	}
	return nil
}

func parseTree(content []byte) (*sitter.Tree, error) {
	parser := parserPool.Get().(*sitter.Parser)
	defer parserPool.Put(parser)

	tree := parser.Parse(nil, content)
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned no tree")
	}
	return tree, nil
}

// firstError returns a diagnostic for the first ERROR or MISSING node, or
// "" when the tree is clean.
func firstError(root *sitter.Node, content []byte) string {
	if root == nil || !root.HasError() {
		return ""
	}
	var found *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if found != nil || n == nil {
			return
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			found = n
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	if found == nil {
		return "syntax error"
	}
	pos := found.StartPoint()
	if found.IsMissing() {
		return fmt.Sprintf("missing %s at line %d, column %d", found.Type(), pos.Row+1, pos.Column+1)
	}
	snippet := strings.TrimSpace(nodeText(found, content))
	if len(snippet) > 40 {
		snippet = snippet[:40] + "..."
	}
	return fmt.Sprintf("unexpected %q at line %d, column %d", snippet, pos.Row+1, pos.Column+1)
}

// Root returns the root node of the syntax tree.
func (f *SourceFile) Root() *sitter.Node {
	if f.tree == nil {
		return nil
	}
	return f.tree.RootNode()
}

// Text returns the original source text.
func (f *SourceFile) Text() string {
	return string(f.Content)
}

// Lines splits the source text into lines without terminators.
func (f *SourceFile) Lines() []string {
	return strings.Split(strings.TrimSuffix(string(f.Content), "\n"), "\n")
}

// Close releases the syntax tree.
func (f *SourceFile) Close() {
	if f.tree != nil {
		f.tree.Close()
		f.tree = nil
	}
}

// HashContent returns the hex-encoded SHA-256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ModulePathForFile derives the module path of a file from its location
// under a src/ directory: src/a/b.rs is a::b, src/a/mod.rs is a, and
// src/main.rs and src/lib.rs are the crate root. Files outside src/ use
// their base name.
func ModulePathForFile(path string) []string {
	p := filepath.ToSlash(path)
	if idx := strings.LastIndex(p, "/src/"); idx >= 0 {
		p = p[idx+len("/src/"):]
	} else if strings.HasPrefix(p, "src/") {
		p = strings.TrimPrefix(p, "src/")
	} else {
		p = filepath.Base(p)
	}

	p = strings.TrimSuffix(p, ".rs")
	parts := strings.Split(p, "/")

	last := parts[len(parts)-1]
	switch {
	case last == "mod":
		parts = parts[:len(parts)-1]
	case len(parts) == 1 && (last == "main" || last == "lib"):
		parts = parts[:0]
	}

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinPath joins module segments and a name with "::".
func JoinPath(modulePath []string, name string) string {
	if len(modulePath) == 0 {
		return name
	}
	return strings.Join(modulePath, "::") + "::" + name
}

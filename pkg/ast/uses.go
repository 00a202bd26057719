package ast

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// UseEntries expands a use_declaration into one entry per imported name.
// Renames map the alias to the original path, groups recurse, and globs
// contribute nothing.
func UseEntries(node *sitter.Node, content []byte) []types.UseEntry {
	if node == nil || node.Type() != "use_declaration" {
		return nil
	}
	arg := node.ChildByFieldName("argument")
	if arg == nil {
		// Older grammars do not label the argument.
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child != nil && child.Type() != "visibility_modifier" {
				arg = child
				break
			}
		}
	}
	var entries []types.UseEntry
	expandUseTree(arg, content, "", &entries)
	return entries
}

func expandUseTree(node *sitter.Node, content []byte, prefix string, out *[]types.UseEntry) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "identifier", "crate", "super", "metavariable":
		name := nodeText(node, content)
		*out = append(*out, types.UseEntry{Local: name, Path: joinUsePath(prefix, name)})

	case "self":
		// `use a::b::{self}` imports b itself.
		if prefix == "" {
			return
		}
		*out = append(*out, types.UseEntry{Local: lastSegment(prefix), Path: prefix})

	case "scoped_identifier":
		full := joinUsePath(prefix, compactText(node, content))
		local := nodeText(node.ChildByFieldName("name"), content)
		if local == "" {
			local = lastSegment(full)
		}
		if local == "self" {
			full = trimLastSegment(full)
			local = lastSegment(full)
		}
		*out = append(*out, types.UseEntry{Local: local, Path: full})

	case "use_as_clause":
		path := node.ChildByFieldName("path")
		alias := node.ChildByFieldName("alias")
		if path == nil || alias == nil {
			return
		}
		local := nodeText(alias, content)
		if local == "_" {
			return
		}
		*out = append(*out, types.UseEntry{
			Local: local,
			Path:  joinUsePath(prefix, compactText(path, content)),
		})

	case "scoped_use_list":
		next := prefix
		if path := node.ChildByFieldName("path"); path != nil {
			next = joinUsePath(prefix, compactText(path, content))
		}
		expandUseTree(node.ChildByFieldName("list"), content, next, out)

	case "use_list":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			expandUseTree(node.NamedChild(i), content, prefix, out)
		}

	case "use_wildcard":
		return
	}
}

func joinUsePath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "::" + name
}

func lastSegment(path string) string {
	for i := len(path) - 1; i > 0; i-- {
		if path[i] == ':' && path[i-1] == ':' {
			return path[i+1:]
		}
	}
	return path
}

func trimLastSegment(path string) string {
	for i := len(path) - 1; i > 0; i-- {
		if path[i] == ':' && path[i-1] == ':' {
			return path[:i-1]
		}
	}
	return ""
}

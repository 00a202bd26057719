package ast

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// nodeText returns the source text for node, or "" when the node's byte
// range falls outside content.
func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if int(start) > len(content) || int(end) > len(content) || start > end {
		return ""
	}
	return string(content[start:end])
}

// NodeText is the exported form of nodeText for other tree-sitter consumers.
func NodeText(node *sitter.Node, content []byte) string {
	return nodeText(node, content)
}

// compactText returns node text with all whitespace removed, the form used
// for paths such as `a :: b`.
func compactText(node *sitter.Node, content []byte) string {
	return strings.Join(strings.Fields(nodeText(node, content)), "")
}

func findChildByType(node *sitter.Node, nodeType string) *sitter.Node {
	if node == nil {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child != nil && child.Type() == nodeType {
			return child
		}
	}
	return nil
}

// LocationOf converts a node's range into a 1-based Location.
func LocationOf(node *sitter.Node, file string) types.Location {
	if node == nil {
		return types.Location{File: file}
	}
	start, end := node.StartPoint(), node.EndPoint()
	return types.Location{
		File:        file,
		StartLine:   int(start.Row) + 1,
		StartColumn: int(start.Column) + 1,
		EndLine:     int(end.Row) + 1,
		EndColumn:   int(end.Column) + 1,
	}
}

// Attributes returns the outer attributes attached to an item, in source
// order, as their inner text (`test`, `tokio::test`, `get("/users")`).
// Doc comments between attributes are skipped.
func Attributes(node *sitter.Node, content []byte) []string {
	var attrs []string
siblings:
	for prev := node.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		switch prev.Type() {
		case "attribute_item":
			inner := findChildByType(prev, "attribute")
			text := strings.TrimSpace(nodeText(inner, content))
			if inner == nil {
				text = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(nodeText(prev, content)), "#["), "]")
			}
			attrs = append(attrs, text)
			continue
		case "line_comment", "block_comment":
			continue
		}
		break siblings
	}
	// Collected bottom-up; restore source order.
	for i, j := 0, len(attrs)-1; i < j; i, j = i+1, j-1 {
		attrs[i], attrs[j] = attrs[j], attrs[i]
	}
	return attrs
}

// AttributePath returns the path portion of an attribute's inner text:
// `tokio::test` for `tokio::test(flavor = "multi_thread")`.
func AttributePath(attr string) string {
	if idx := strings.IndexAny(attr, "( ="); idx >= 0 {
		attr = attr[:idx]
	}
	return strings.TrimSpace(attr)
}

// IsTestAttribute reports whether attr marks a test function.
func IsTestAttribute(attr string) bool {
	path := AttributePath(attr)
	return path == "test" || strings.HasSuffix(path, "::test")
}

// IsCfgTest reports whether attr is a test-only configuration gate.
func IsCfgTest(attr string) bool {
	compact := strings.Join(strings.Fields(attr), "")
	return compact == "cfg(test)"
}

func hasVisibility(node *sitter.Node) bool {
	return findChildByType(node, "visibility_modifier") != nil
}

// SameNode reports whether a and b denote the same syntax node.
func SameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// Inspect traverses the tree rooted at node in depth-first order, calling
// f for each node. Children are skipped when f returns false.
func Inspect(node *sitter.Node, f func(*sitter.Node) bool) {
	if node == nil || !f(node) {
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		Inspect(node.NamedChild(i), f)
	}
}

// FunctionModifiers reports the async and unsafe modifiers of a
// function_item node.
func FunctionModifiers(node *sitter.Node) (isAsync, isUnsafe bool) {
	mods := findChildByType(node, "function_modifiers")
	for i := 0; mods != nil && i < int(mods.ChildCount()); i++ {
		switch mods.Child(i).Type() {
		case "async":
			isAsync = true
		case "unsafe":
			isUnsafe = true
		}
	}
	return isAsync, isUnsafe
}

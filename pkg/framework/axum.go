package framework

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/deps"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// axumDetector reads routes from `.route("/p", get(a).post(b))` calls.
type axumDetector struct{}

func (axumDetector) Name() string { return Axum }

func (axumDetector) DetectFromManifest(project *deps.ProjectContext) bool {
	return project.Has(deps.KindFramework, "axum")
}

func (axumDetector) DetectFromSource(text string) bool {
	return strings.Contains(text, "axum::")
}

func (axumDetector) ExtractEndpoints(file *ast.SourceFile) []Endpoint {
	var out []Endpoint
	ast.Inspect(file.Root(), func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() != "field_expression" {
			return true
		}
		field := fn.ChildByFieldName("field")
		if ast.NodeText(field, file.Content) != "route" {
			return true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() < 2 {
			return true
		}
		path, ok := firstString(ast.NodeText(args.NamedChild(0), file.Content))
		if !ok {
			return true
		}
		loc := ast.LocationOf(field, file.Path)
		for _, r := range methodRoutes(args.NamedChild(1), file.Content) {
			out = append(out, Endpoint{
				Method:    strings.ToUpper(r.method),
				Path:      path,
				Handler:   r.handler,
				Location:  loc,
				Framework: Axum,
			})
		}
		return true
	})
	return out
}

type methodRoute struct {
	method, handler string
}

// methodRoutes unpacks a method router expression such as
// `get(list).post(create)` or `routing::get(handlers::list)`.
func methodRoutes(n *sitter.Node, content []byte) []methodRoute {
	if n == nil || n.Type() != "call_expression" {
		return nil
	}
	fn := n.ChildByFieldName("function")
	args := n.ChildByFieldName("arguments")
	if fn == nil || args == nil {
		return nil
	}

	var method string
	var out []methodRoute
	switch fn.Type() {
	case "identifier", "scoped_identifier":
		method = lastSegment(ast.NodeText(fn, content))
	case "field_expression":
		out = methodRoutes(fn.ChildByFieldName("value"), content)
		method = ast.NodeText(fn.ChildByFieldName("field"), content)
	default:
		return nil
	}
	if !httpMethods[method] || args.NamedChildCount() == 0 {
		return out
	}
	if handler := handlerName(args.NamedChild(0), content); handler != "" {
		out = append(out, methodRoute{method: method, handler: handler})
	}
	return out
}

func handlerName(n *sitter.Node, content []byte) string {
	switch n.Type() {
	case "identifier", "scoped_identifier":
		return lastSegment(strings.Join(strings.Fields(ast.NodeText(n, content)), ""))
	case "generic_function":
		return handlerName(n.ChildByFieldName("function"), content)
	}
	return ""
}

var axumResponseTypes = []string{"IntoResponse", "Response", "Result", "Json", "Html", "StatusCode"}

// IsHandler reports whether fn is async and returns a response type.
func (axumDetector) IsHandler(fn types.FunctionInfo) bool {
	if !fn.IsAsync {
		return false
	}
	for _, t := range axumResponseTypes {
		if strings.Contains(fn.ReturnType, t) {
			return true
		}
	}
	return false
}

package framework

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/deps"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// tonicDetector treats async methods taking a `Request<...>` inside a
// trait impl as gRPC service methods.
type tonicDetector struct{}

func (tonicDetector) Name() string { return Tonic }

func (tonicDetector) DetectFromManifest(project *deps.ProjectContext) bool {
	return project.Has(deps.KindFramework, "tonic")
}

func (tonicDetector) DetectFromSource(text string) bool {
	return strings.Contains(text, "tonic::")
}

func (tonicDetector) ExtractEndpoints(file *ast.SourceFile) []Endpoint {
	var out []Endpoint
	ast.Inspect(file.Root(), func(n *sitter.Node) bool {
		if n.Type() != "impl_item" {
			return true
		}
		body := n.ChildByFieldName("body")
		if n.ChildByFieldName("trait") == nil || body == nil {
			return false
		}
		for i := 0; i < int(body.NamedChildCount()); i++ {
			fn := body.NamedChild(i)
			if fn.Type() != "function_item" {
				continue
			}
			isAsync, _ := ast.FunctionModifiers(fn)
			params := ast.NodeText(fn.ChildByFieldName("parameters"), file.Content)
			if !isAsync || !strings.Contains(params, "Request<") {
				continue
			}
			name := ast.NodeText(fn.ChildByFieldName("name"), file.Content)
			out = append(out, Endpoint{
				Method:    MethodGRPC,
				Path:      "/" + name,
				Handler:   name,
				Location:  ast.LocationOf(fn, file.Path),
				Framework: Tonic,
			})
		}
		return false
	})
	return out
}

// IsHandler reports whether fn is an async method taking a tonic request.
func (tonicDetector) IsHandler(fn types.FunctionInfo) bool {
	return fn.IsAsync && fn.IsMethod && strings.Contains(fn.ReturnType, "Response<")
}

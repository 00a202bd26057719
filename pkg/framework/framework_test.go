package framework

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/deps"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

const axumSource = `use axum::{routing::get, Router};

pub fn app() -> Router {
    Router::new()
        .route("/users", get(list_users).post(create_user))
        .route("/users/:id", routing::delete(handlers::remove_user))
}
`

const actixSource = `use actix_web::{get, HttpResponse};

#[get("/health")]
async fn health() -> HttpResponse {
    HttpResponse::Ok().finish()
}

/// Creates an order.
#[actix_web::post("/orders")]
pub async fn create_order() -> HttpResponse {
    HttpResponse::Created().finish()
}

#[route("/items", method = "PUT")]
async fn put_item() -> HttpResponse {
    HttpResponse::Ok().finish()
}

#[derive(Debug)]
struct NotAHandler;
`

const routeAttrSource = `#[route_get("/users")]
pub async fn list_users(id: u64) -> Result<Vec<User>, Error> {
    db::fetch(id).await
}
`

const tonicSource = `#[tonic::async_trait]
impl Greeter for MyGreeter {
    async fn say_hello(&self, request: Request<HelloRequest>) -> Result<Response<HelloReply>, Status> {
        todo!()
    }

    fn helper(&self) {}
}
`

func parse(t *testing.T, path, src string) *ast.SourceFile {
	t.Helper()
	f, err := ast.Parse(path, []byte(src))
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

type route struct {
	Method, Path, Handler, Framework string
}

func routes(eps []Endpoint) []route {
	out := make([]route, len(eps))
	for i, ep := range eps {
		out[i] = route{ep.Method, ep.Path, ep.Handler, ep.Framework}
	}
	return out
}

func TestDetectors_ExtractEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		detector string
		src      string
		want     []route
	}{
		{
			name:     "axum chained routes",
			detector: Axum,
			src:      axumSource,
			want: []route{
				{"GET", "/users", "list_users", Axum},
				{"POST", "/users", "create_user", Axum},
				{"DELETE", "/users/:id", "remove_user", Axum},
			},
		},
		{
			name:     "actix attributes",
			detector: Actix,
			src:      actixSource,
			want: []route{
				{"GET", "/health", "health", Actix},
				{"POST", "/orders", "create_order", Actix},
				{"PUT", "/items", "put_item", Actix},
			},
		},
		{
			name:     "route attributes",
			detector: RouteAttributes,
			src:      routeAttrSource,
			want:     []route{{"GET", "/users", "list_users", RouteAttributes}},
		},
		{
			name:     "tonic service",
			detector: Tonic,
			src:      tonicSource,
			want:     []route{{MethodGRPC, "/say_hello", "say_hello", Tonic}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eps, err := Default().Endpoints(tt.detector, []*ast.SourceFile{parse(t, "src/lib.rs", tt.src)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, routes(eps))
			for _, ep := range eps {
				assert.Equal(t, "src/lib.rs", ep.Location.File)
				assert.Positive(t, ep.Location.StartLine)
			}
		})
	}
}

func TestRegistry_AutoDeduplicates(t *testing.T) {
	files := []*ast.SourceFile{
		parse(t, "src/api.rs", actixSource),
		parse(t, "src/users.rs", routeAttrSource),
	}
	eps, err := Default().Endpoints(Auto, files)
	require.NoError(t, err)
	// actix and rocket share the attribute syntax; each route appears once.
	assert.Len(t, eps, 4)
	assert.Equal(t, "src/api.rs", eps[0].Location.File)
	assert.Equal(t, "src/users.rs", eps[3].Location.File)

	_, err = Default().Endpoints("express", files)
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestRegistry_Detect(t *testing.T) {
	r := Default()

	assert.Equal(t, Axum, r.Detect(deps.NewProjectContext("axum", "sqlx"), nil))
	assert.Equal(t, Tonic, r.Detect(deps.NewProjectContext("tonic"), nil))

	actix := parse(t, "src/main.rs", actixSource)
	assert.Equal(t, Actix, r.Detect(deps.NewProjectContext(), []*ast.SourceFile{actix}))

	plain := parse(t, "src/lib.rs", "fn main() {}\n")
	assert.Equal(t, Unknown, r.Detect(nil, []*ast.SourceFile{plain}))
}

type fakeDetector struct{ name string }

func (f fakeDetector) Name() string                               { return f.name }
func (fakeDetector) DetectFromManifest(*deps.ProjectContext) bool { return false }
func (fakeDetector) DetectFromSource(string) bool                 { return true }
func (fakeDetector) ExtractEndpoints(*ast.SourceFile) []Endpoint  { return nil }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeDetector{"one"})
	r.Register(fakeDetector{"two"})
	r.Register(fakeDetector{"one"})
	assert.Equal(t, []string{"one", "two"}, r.Names())

	_, ok := r.Get("two")
	assert.True(t, ok)
	assert.Equal(t, []string{Axum, Actix, Rocket, Tonic, RouteAttributes}, Default().Names())
}

func TestRegistry_IsHandler(t *testing.T) {
	r := Default()
	assert.True(t, r.IsHandler(types.FunctionInfo{IsAsync: true, ReturnType: "impl IntoResponse"}))
	assert.True(t, r.IsHandler(types.FunctionInfo{IsAsync: true, IsMethod: true, ReturnType: "Result<Response<Reply>, Status>"}))
	assert.False(t, r.IsHandler(types.FunctionInfo{ReturnType: "Json<User>"}))
	assert.False(t, r.IsHandler(types.FunctionInfo{IsAsync: true, ReturnType: "u64"}))
}

package ast

import (
	"errors"
	"reflect"
	"testing"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

func walkSource(t *testing.T, path, code string) *types.FileAnalysis {
	t.Helper()
	file, err := Parse(path, []byte(code))
	if err != nil {
		t.Fatalf("Parse(%s) error: %v", path, err)
	}
	defer file.Close()
	return Walk(file, DefaultOptions())
}

func findFunction(t *testing.T, fa *types.FileAnalysis, name string) types.FunctionInfo {
	t.Helper()
	for _, fn := range fa.Functions {
		if fn.Name == name {
			return fn
		}
	}
	t.Fatalf("function %s not found", name)
	return types.FunctionInfo{}
}

func hasCall(fn types.FunctionInfo, callee string, method bool) bool {
	for _, c := range fn.Calls {
		if c.Callee == callee && c.IsMethod == method {
			return true
		}
	}
	return false
}

func TestWalker(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		code  string
		check func(*testing.T, *types.FileAnalysis)
	}{
		{
			name: "async endpoint with database call",
			path: "src/handlers.rs",
			code: `#[route_get("/users")]
pub async fn list_users(id: u64) -> Result<Vec<User>, Error> {
    let users = db::fetch(id).await?;
    Ok(users)
}
`,
			check: func(t *testing.T, fa *types.FileAnalysis) {
				fn := findFunction(t, fa, "list_users")
				if !fn.IsAsync {
					t.Errorf("expected IsAsync")
				}
				if !fn.IsPublic {
					t.Errorf("expected IsPublic")
				}
				if fn.FullPath != "handlers::list_users" {
					t.Errorf("FullPath = %q, want handlers::list_users", fn.FullPath)
				}
				if fn.ParamCount != 1 {
					t.Errorf("ParamCount = %d, want 1", fn.ParamCount)
				}
				if fn.ErrorHandling.ResultReturns != 1 {
					t.Errorf("ResultReturns = %d, want 1", fn.ErrorHandling.ResultReturns)
				}
				if fn.ErrorHandling.FalliblePropagationOps != 1 {
					t.Errorf("FalliblePropagationOps = %d, want 1", fn.ErrorHandling.FalliblePropagationOps)
				}
				if !hasCall(fn, "db::fetch", false) {
					t.Errorf("expected call to db::fetch, got %+v", fn.Calls)
				}
				if len(fn.Attributes) != 1 || fn.Attributes[0] != `route_get("/users")` {
					t.Errorf("Attributes = %v", fn.Attributes)
				}
				if fn.Location.StartLine != 2 {
					t.Errorf("StartLine = %d, want 2", fn.Location.StartLine)
				}
			},
		},
		{
			name: "method receiver is not counted",
			path: "src/lib.rs",
			code: `struct S;
impl S {
    fn m(&self, a: i32, b: i32) -> i32 { a + b }
}
`,
			check: func(t *testing.T, fa *types.FileAnalysis) {
				fn := findFunction(t, fa, "m")
				if fn.ParamCount != 2 {
					t.Errorf("ParamCount = %d, want 2", fn.ParamCount)
				}
				if !fn.IsMethod {
					t.Errorf("expected IsMethod")
				}
				if fn.FullPath != "m" {
					t.Errorf("FullPath = %q, want m", fn.FullPath)
				}
			},
		},
		{
			name: "complexity counters",
			path: "src/lib.rs",
			code: `fn f(x: i32) -> i32 {
    if x > 0 && x < 10 {
        for _i in 0..x {
            work();
        }
    }
    match x {
        1 => 1,
        2 => 2,
        _ => 0,
    }
}
`,
			check: func(t *testing.T, fa *types.FileAnalysis) {
				c := findFunction(t, fa, "f").Complexity
				// 1 + if + && + for + (3 arms - 1)
				if c.Cyclomatic != 6 {
					t.Errorf("Cyclomatic = %d, want 6", c.Cyclomatic)
				}
				if c.LoopCount != 1 {
					t.Errorf("LoopCount = %d, want 1", c.LoopCount)
				}
				if c.BranchCount != 4 {
					t.Errorf("BranchCount = %d, want 4", c.BranchCount)
				}
				if c.MaxNestingDepth != 2 {
					t.Errorf("MaxNestingDepth = %d, want 2", c.MaxNestingDepth)
				}
				if c.Cognitive <= c.BranchCount {
					t.Errorf("Cognitive = %d, expected nesting to add weight", c.Cognitive)
				}
				if c.LinesOfCode == 0 {
					t.Errorf("expected LinesOfCode > 0")
				}
			},
		},
		{
			name: "unwrap and expect",
			path: "src/lib.rs",
			code: `fn g() {
    let a = load().unwrap();
    let b = parse(a).expect("parse");
}
`,
			check: func(t *testing.T, fa *types.FileAnalysis) {
				fn := findFunction(t, fa, "g")
				if fn.ErrorHandling.UnwrapCalls != 1 || fn.ErrorHandling.ExpectCalls != 1 {
					t.Errorf("unwrap/expect = %d/%d, want 1/1",
						fn.ErrorHandling.UnwrapCalls, fn.ErrorHandling.ExpectCalls)
				}
				if !hasCall(fn, "unwrap", true) {
					t.Errorf("expected method call unwrap, got %+v", fn.Calls)
				}
				if !hasCall(fn, "load", false) {
					t.Errorf("expected call load, got %+v", fn.Calls)
				}
			},
		},
		{
			name: "result matches and option if-let",
			path: "src/lib.rs",
			code: `fn h(r: Result<u8, E>, opt: Option<u8>) {
    match r {
        Ok(v) => use_it(v),
        Err(e) => log_it(e),
    }
    if let Some(x) = opt {
        use_it(x);
    }
}
`,
			check: func(t *testing.T, fa *types.FileAnalysis) {
				eh := findFunction(t, fa, "h").ErrorHandling
				if eh.ErrorMatches != 1 {
					t.Errorf("ErrorMatches = %d, want 1", eh.ErrorMatches)
				}
				if eh.ErrorIfLets != 1 {
					t.Errorf("ErrorIfLets = %d, want 1", eh.ErrorIfLets)
				}
			},
		},
		{
			name: "test module marks functions as tests",
			path: "src/lib.rs",
			code: `pub fn real() {}

#[cfg(test)]
mod tests {
    use super::*;

    #[test]
    fn it_works() { real(); }

    fn helper() {}
}
`,
			check: func(t *testing.T, fa *types.FileAnalysis) {
				if findFunction(t, fa, "real").IsTest {
					t.Errorf("real should not be a test")
				}
				works := findFunction(t, fa, "it_works")
				if !works.IsTest {
					t.Errorf("it_works should be a test")
				}
				if works.FullPath != "tests::it_works" {
					t.Errorf("FullPath = %q, want tests::it_works", works.FullPath)
				}
				if !findFunction(t, fa, "helper").IsTest {
					t.Errorf("helper inside cfg(test) module should be test")
				}
				if len(fa.Modules) != 1 || !fa.Modules[0].IsTest || !fa.Modules[0].IsInline {
					t.Errorf("Modules = %+v", fa.Modules)
				}
			},
		},
		{
			name: "recursion",
			path: "src/math.rs",
			code: `fn factorial(n: u64) -> u64 {
    if n <= 1 { 1 } else { n * factorial(n - 1) }
}
`,
			check: func(t *testing.T, fa *types.FileAnalysis) {
				fn := findFunction(t, fa, "factorial")
				if fn.Complexity.Cyclomatic < 2 {
					t.Errorf("Cyclomatic = %d, want >= 2", fn.Complexity.Cyclomatic)
				}
				if !hasCall(fn, "factorial", false) {
					t.Errorf("expected self call")
				}
			},
		},
		{
			name: "declaration order and unique ids",
			path: "src/lib.rs",
			code: `fn first() { fn inner() {} }
fn second() {}
`,
			check: func(t *testing.T, fa *types.FileAnalysis) {
				var names []string
				seen := map[string]bool{}
				for _, fn := range fa.Functions {
					names = append(names, fn.Name)
					if seen[fn.ID] {
						t.Errorf("duplicate id %s", fn.ID)
					}
					seen[fn.ID] = true
				}
				want := []string{"first", "inner", "second"}
				if !reflect.DeepEqual(names, want) {
					t.Errorf("order = %v, want %v", names, want)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, walkSource(t, tt.path, tt.code))
		})
	}
}

func TestUseEntries(t *testing.T) {
	code := `use std::collections::HashMap;
use crate::db::{self, fetch as get, pool::Pool};
use serde::*;
use tokio;
`
	fa := walkSource(t, "src/lib.rs", code)

	want := map[string]string{
		"HashMap": "std::collections::HashMap",
		"db":      "crate::db",
		"get":     "crate::db::fetch",
		"Pool":    "crate::db::pool::Pool",
		"tokio":   "tokio",
	}
	got := map[string]string{}
	for _, u := range fa.Uses {
		got[u.Local] = u.Path
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("uses = %v, want %v", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("src/bad.rs", []byte("fn broken( {\n"))
	if !errors.Is(err, types.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}

	_, err = Parse("src/bin.rs", []byte{0xff, 0xfe, 0x00})
	if !errors.Is(err, types.ErrParse) {
		t.Fatalf("expected ErrParse for invalid UTF-8, got %v", err)
	}

	if err := Validate("ok.rs", []byte("fn ok() {}\n")); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
	if err := Validate("bad.rs", []byte("fn bad( {\n")); !errors.Is(err, types.ErrSyntaxValidation) {
		t.Errorf("Validate(invalid) = %v, want ErrSyntaxValidation", err)
	}
}

func TestModulePathForFile(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"src/main.rs", []string{}},
		{"src/lib.rs", []string{}},
		{"/proj/src/db.rs", []string{"db"}},
		{"/proj/src/api/mod.rs", []string{"api"}},
		{"/proj/src/api/users.rs", []string{"api", "users"}},
		{"src/api/main.rs", []string{"api", "main"}},
		{"other.rs", []string{"other"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := ModulePathForFile(tt.path)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ModulePathForFile(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("fn a() {}"))
	if a != HashContent([]byte("fn a() {}")) {
		t.Errorf("hash not deterministic")
	}
	if a == HashContent([]byte("fn b() {}")) {
		t.Errorf("different content hashed equal")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestStripTurbofish(t *testing.T) {
	tests := map[string]string{
		"Vec::<u8>::new":        "Vec::new",
		"db::fetch":             "db::fetch",
		"parse::<HashMap<K,V>>": "parse",
	}
	for in, want := range tests {
		if got := StripTurbofish(in); got != want {
			t.Errorf("StripTurbofish(%q) = %q, want %q", in, got, want)
		}
	}
}

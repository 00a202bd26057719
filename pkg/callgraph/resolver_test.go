package callgraph

import (
	"testing"
)

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver()
	r.BeginFile("src/db.rs", []string{"db"})
	r.RegisterFunction("fetch", []string{"db"}, "src/db.rs", true)
	r.RegisterFunction("connect", []string{"db", "pool"}, "src/db.rs", false)

	r.BeginFile("src/api/users.rs", []string{"api", "users"})
	r.RegisterFunction("list", []string{"api", "users"}, "src/api/users.rs", true)
	r.RegisterFunction("helper", []string{"api"}, "src/api/mod.rs", false)
	r.RegisterImport("get", "crate::db::fetch")
	r.RegisterImport("pool", "crate::db::pool")

	tests := []struct {
		name     string
		path     string
		want     string
		external bool
		ok       bool
	}{
		{"direct full path", "db::fetch", "db::fetch", false, true},
		{"crate prefix", "crate::db::fetch", "db::fetch", false, true},
		{"unique short name", "list", "api::users::list", false, true},
		{"renamed import", "get", "db::fetch", false, true},
		{"import prefix", "pool::connect", "db::pool::connect", false, true},
		{"super", "super::helper", "api::helper", false, true},
		{"self", "self::list", "api::users::list", false, true},
		{"std is external", "std::fs::read", "std::fs::read", true, true},
		{"unknown root is external", "reqwest::get", "reqwest::get", true, true},
		{"unknown name under local root", "db::missing", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym, ok := r.Resolve(tt.path)
			if ok != tt.ok {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			}
			if !ok {
				return
			}
			if sym.FullPath != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, sym.FullPath, tt.want)
			}
			if sym.IsExternal != tt.external {
				t.Errorf("Resolve(%q).IsExternal = %v, want %v", tt.path, sym.IsExternal, tt.external)
			}
		})
	}
}

func TestResolver_AmbiguousShortNames(t *testing.T) {
	r := NewResolver()
	r.RegisterFunction("process", []string{"orders"}, "src/orders.rs", true)
	r.RegisterFunction("process", []string{"payments"}, "src/payments.rs", true)

	if _, ok := r.LookupName("process"); ok {
		t.Error("ambiguous short name should not resolve by name")
	}
	for _, full := range []string{"orders::process", "payments::process"} {
		if _, ok := r.Lookup(full); !ok {
			t.Errorf("full path %s should stay registered", full)
		}
	}

	// A third registration keeps the name ambiguous.
	r.RegisterFunction("process", []string{"jobs"}, "src/jobs.rs", true)
	if _, ok := r.LookupName("process"); ok {
		t.Error("name became unambiguous after a third definition")
	}

	// From inside a module the relative lookup still finds the local one.
	sym, ok := r.ResolveIn(Scope{Modules: []string{"orders"}}, "process")
	if !ok || sym.FullPath != "orders::process" {
		t.Errorf("ResolveIn(orders, process) = %v, %v", sym, ok)
	}
}

func TestResolver_ModuleStack(t *testing.T) {
	r := NewResolver()
	r.BeginFile("src/lib.rs", nil)
	r.EnterModule("outer")
	r.EnterModule("inner")
	r.RegisterFunction("deep", r.CurrentModule(), "src/lib.rs", false)
	r.ExitModule()
	r.RegisterFunction("deep", r.CurrentModule(), "src/lib.rs", false)

	sym, ok := r.Resolve("inner::deep")
	if !ok || sym.FullPath != "outer::inner::deep" {
		t.Errorf("Resolve(inner::deep) = %v, %v", sym, ok)
	}

	r.ExitModule()
	r.ExitModule() // popping an empty stack is a no-op
	if got := r.CurrentModule(); len(got) != 0 {
		t.Errorf("CurrentModule() = %v, want empty", got)
	}
}

func TestResolver_TypeAssociatedFunction(t *testing.T) {
	r := NewResolver()
	r.RegisterFunction("new_order", []string{"orders"}, "src/orders.rs", true)

	sym, ok := r.Resolve("Order::new_order")
	if !ok || sym.FullPath != "orders::new_order" {
		t.Errorf("Resolve(Order::new_order) = %v, %v", sym, ok)
	}

	sym, ok = r.Resolve("Vec::new")
	if !ok || !sym.IsExternal {
		t.Errorf("Resolve(Vec::new) = %v, %v, want external", sym, ok)
	}
}

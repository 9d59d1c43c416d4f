package host

import (
	"testing"

	"github.com/chazu/schemec/sexp"
)

func TestInsertAndFindBinding(t *testing.T) {
	r := NewRuntime()
	tab := sexp.NewTable()
	name := tab.Intern("pi")
	mod := r.CurrentModule()
	mod.(*module).InsertBinding(name, 3.14, true)

	b, ok := mod.FindBinding(name)
	if !ok {
		t.Fatal("expected to find the binding")
	}
	if !b.IsConst() {
		t.Fatal("expected a const binding")
	}
	if b.Value() != 3.14 {
		t.Fatalf("Value() = %v, want 3.14", b.Value())
	}
}

func TestImportModules(t *testing.T) {
	r := NewRuntime()
	tab := sexp.NewTable()
	libName := tab.Intern("helper")

	lib := r.MakeModule("lib")
	lib.InsertBinding(libName, int64(42), false)

	user := r.MakeModule("user2")
	if err := user.ImportModules([]Module{lib}); err != nil {
		t.Fatalf("ImportModules: %v", err)
	}
	b, ok := user.FindBinding(libName)
	if !ok || b.Value() != int64(42) {
		t.Fatalf("expected to resolve imported binding, got %v, %v", b, ok)
	}
}

func TestExportUnboundFails(t *testing.T) {
	r := NewRuntime()
	tab := sexp.NewTable()
	mod := r.MakeModule("m")
	if err := mod.ExportSymbols([]sexp.Symbol{tab.Intern("nope")}); err == nil {
		t.Fatal("expected exporting an unbound name to fail")
	}
}

func TestCompilerFlags(t *testing.T) {
	r := NewRuntime()
	if r.CompilerFlagIsSet(NoInlineConsts) {
		t.Fatal("flags should start unset")
	}
	r.SetCompilerFlag(NoInlineConsts, true)
	if !r.CompilerFlagIsSet(NoInlineConsts) {
		t.Fatal("expected NoInlineConsts to be set")
	}
}

func TestMacroBinding(t *testing.T) {
	r := NewRuntime()
	tab := sexp.NewTable()
	mod := r.CurrentModule().(*module)
	var called bool
	mac := macroFunc(func(form sexp.Datum, frames []any) (sexp.Datum, error) {
		called = true
		return form, nil
	})
	mod.InsertMacro(tab.Intern("my-macro"), mac)

	b, ok := mod.FindBinding(tab.Intern("my-macro"))
	if !ok {
		t.Fatal("expected to find macro binding")
	}
	m, ok := b.Macro()
	if !ok {
		t.Fatal("expected binding to report as a macro")
	}
	if _, err := m.Expand(sexp.Nil, nil); err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !called {
		t.Fatal("expected the transformer to be invoked")
	}
}

type macroFunc func(sexp.Datum, []any) (sexp.Datum, error)

func (f macroFunc) Expand(form sexp.Datum, frames []any) (sexp.Datum, error) { return f(form, frames) }

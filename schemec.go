// Package schemec is the compiler core's root package: the external
// interfaces spec §6 names — compile, compile-toplevel-lambda, and the
// three individual passes — as the Go functions a host embeds against.
// Everything under compile/, ir/, cenv/, host/, bytecode/ is reachable
// only through these five functions and the types package host defines
// for a host to implement; nothing else here does compiler work itself.
package schemec

import (
	"github.com/chazu/schemec/bytecode"
	"github.com/chazu/schemec/cenv"
	"github.com/chazu/schemec/cerror"
	"github.com/chazu/schemec/compile"
	"github.com/chazu/schemec/config"
	"github.com/chazu/schemec/host"
	"github.com/chazu/schemec/ir"
	"github.com/chazu/schemec/sexp"
)

// Compile compiles a single toplevel form against vm's current module and
// returns the finished CompiledCode (spec §6: "compile(form, [module])").
// To compile against a module other than vm's current one, call
// vm.SetCurrentModule first — the core has no other notion of "which
// module" a compile targets.
func Compile(vm host.VM, tab *sexp.Table, flags config.Flags, form sexp.Datum) (*bytecode.CompiledCode, error) {
	return CompileTopLevelLambda(vm, tab, flags, []sexp.Datum{form})
}

// CompileTopLevelLambda compiles a sequence of toplevel forms as the body
// of an implicit zero-argument procedure, the conventional shape a
// `load`ed file or a REPL chunk takes (spec §6:
// "compile-toplevel-lambda"). Each form goes through pass 1 on its own, so
// a define among forms becomes a toplevel DEFINE in the current module,
// not an internal definition of the implicit procedure.
func CompileTopLevelLambda(vm host.VM, tab *sexp.Table, flags config.Flags, forms []sexp.Datum) (*bytecode.CompiledCode, error) {
	env := cenv.New(vm.CurrentModule())
	node, err := CompileP1(vm, tab, flags, forms, env)
	if err != nil {
		return nil, err
	}
	node = CompileP2(flags, node)
	return CompileP3(tab, node)
}

// CompileP1 runs pass 1 alone over forms under env, returning the
// unoptimized IR (spec §6: "compile-p1"). Each form is compiled under the
// same starting env and independently of its siblings: the forms are not
// scanned for internal defines the way compileBody in compile/pass1.go
// scans a procedure body.
func CompileP1(vm host.VM, tab *sexp.Table, flags config.Flags, forms []sexp.Datum, env *cenv.CEnv) (*ir.Node, error) {
	p1 := compile.NewPass1(vm, tab, flags)
	items := make([]*ir.Node, len(forms))
	for i, f := range forms {
		n, err := p1.Compile(f, env)
		if err != nil {
			return nil, enrich(tab, f, err)
		}
		items[i] = n
	}
	return ir.NewSeq(items, nil), nil
}

// CompileP2 runs pass 2's closure-embedding/inlining/branch-folding
// rewrite over already pass-1'd IR (spec §6: "compile-p2"). It never
// errors: every pass 2 rewrite is a structural transform of already-valid
// IR, never a new failure mode.
func CompileP2(flags config.Flags, n *ir.Node) *ir.Node {
	p2 := compile.NewPass2(flags)
	return p2.Optimize(n)
}

// CompileP3 runs pass 3 alone, emitting n as a zero-argument toplevel
// CompiledCode (spec §6: "compile-p3"). tab is needed only for
// identifier literals (GREF/GSET/DEFINE targets); it performs no other
// pass-1/pass-2 work.
func CompileP3(tab *sexp.Table, n *ir.Node) (*bytecode.CompiledCode, error) {
	p3 := compile.NewPass3(tab)
	cc, err := p3.CompileLambda(n, 0, 0, 0, false, nil, nil, nil)
	if err != nil {
		return nil, cerror.NewCompileError(nil, err)
	}
	return cc, nil
}

// enrich attaches the offending toplevel form to an error that pass 1
// raised without one (spec §7: errors carry "the file:line: form the
// failure occurred at" wherever the core can supply it). Pass 1's own
// typed errors already carry a SourceForm and are returned unchanged;
// this only wraps the rare error a called host collaborator returns bare.
func enrich(tab *sexp.Table, form sexp.Datum, err error) error {
	switch err.(type) {
	case *cerror.SyntaxError, *cerror.ArityError, *cerror.CompileError, *cerror.InternalError:
		return err
	default:
		return cerror.NewCompileError(&cerror.SourceForm{Form: sexp.Write(form, tab)}, err)
	}
}

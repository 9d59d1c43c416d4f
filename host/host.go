// Package host defines the small set of named operations the compiler
// core reaches into the host runtime through (spec §6): module lookup and
// mutation, identifier construction, macro expansion, and VM compile-time
// flags. None of these are implemented by the core itself — out of scope
// per spec §1 — but pass 1 cannot resolve a single global binding without
// something on the other end of these interfaces, so this package also
// ships an in-memory Runtime (runtime.go) good enough to exercise and test
// the compiler without a real VM attached.
package host

import "github.com/chazu/schemec/sexp"

// CompilerFlag is one of the three optimization-disabling bits (spec §6)
// a host VM reports through CompilerFlagIsSet. Pass 1 and pass 2 do not
// query these bits; they read the matching switches from config.Flags.
type CompilerFlag uint8

const (
	NoInlineConsts CompilerFlag = iota
	NoInlineGlobals
	NoInlineLocals
)

// EvalSituation is the VM's current evaluation phase, consulted by
// eval-when (spec §4.4).
type EvalSituation uint8

const (
	SituationExecute EvalSituation = iota
	SituationLoadToplevel
	SituationCompileToplevel
)

// Binding is a global binding cell — what find-binding/gloc-ref/
// gloc-const? operate on in spec §6.
type Binding interface {
	// Name is the bound identifier.
	Name() sexp.Symbol
	// Value returns the binding's current value. For a macro binding this
	// is the MacroTransformer; for a const binding it's the literal that
	// GREF resolution may fold to CONST.
	Value() sexp.Datum
	// IsConst reports whether this binding was created with
	// define-constant (gloc-const?).
	IsConst() bool
	// Macro returns the binding's macro transformer and true, or
	// (nil, false) if this binding is not a macro.
	Macro() (MacroTransformer, bool)
	// Inliner returns the binding's inliner descriptor (spec §4.5):
	// either an *OpcodeInliner, an *IRInliner, or a ProcInliner. Returns
	// (nil, false) if the binding is not inlinable.
	Inliner() (any, bool)
}

// OpcodeInliner is the first inliner shape from spec §4.5: a fixed
// opcode, emitted as an ASM node after an arity check.
type OpcodeInliner struct {
	Opcode      int
	MinArgs     int
	MaxArgs     int // -1 means unbounded
	AllowsOptional bool
}

// IRInliner is the second inliner shape: a packed IR body substituted at
// the call site via beta-expansion (spec §4.5, §4.6), produced by
// define-inline.
type IRInliner struct {
	Packed any // *ir.Packed, held as any to avoid an import cycle
}

// ProcInliner is the third inliner shape: a procedure invoked like a
// macro; returning the Undefined sentinel tells pass 1 to fall back to a
// generic CALL.
type ProcInliner func(form sexp.Datum) (sexp.Datum, error)

// MacroTransformer expands a macro use. Frames is a frame chain passed
// through uninterpreted to call-macro-expander (spec §6). Pass 1 always
// passes nil for it; the CEnv frame chain is not handed to the transformer.
type MacroTransformer interface {
	Expand(form sexp.Datum, frames []any) (sexp.Datum, error)
}

// Identifier is a syntactic closure: a symbol captured together with the
// frame chain and module it was bound in, used by hygienic macro
// expansion to resolve references correctly regardless of where the
// expansion is spliced (spec §6 make-identifier).
type Identifier struct {
	Sym    sexp.Symbol
	Frames []any
	Module Module
}

// IsIdentifier reports whether d is an *Identifier rather than a plain
// symbol.
func IsIdentifier(d sexp.Datum) (*Identifier, bool) {
	id, ok := d.(*Identifier)
	return id, ok
}

// Module is the host's module/namespace abstraction (spec §6:
// find-module, make-module, %insert-binding, find-binding,
// %export-symbols, %import-modules).
type Module interface {
	Name() string
	FindBinding(name sexp.Symbol) (Binding, bool)
	InsertBinding(name sexp.Symbol, value sexp.Datum, isConst bool) Binding
	ExportSymbols(names []sexp.Symbol) error
	ImportModules(mods []Module) error
}

// MacroInstaller is implemented by a Module that also accepts a macro
// binding (define-syntax/define-macro, spec §4.4). It is kept separate
// from Module itself because macro installation is host-specific plumbing,
// not part of the core's find-binding/insert-binding contract; pass 1
// type-asserts a Module against this interface rather than requiring every
// host to implement it.
type MacroInstaller interface {
	InsertMacro(name sexp.Symbol, mac MacroTransformer) Binding
}

// InlinerInstaller is implemented by a Module that also accepts an inliner
// descriptor (define-inline, spec §4.5), mirroring MacroInstaller.
type InlinerInstaller interface {
	InsertInliner(name sexp.Symbol, value sexp.Datum, inliner any) Binding
}

// VM is the thin slice of the runtime the core queries: the current
// module (for toplevel forms that don't name one explicitly), the eval
// situation (for eval-when), the three compiler flags, and module lookup
// for the module-system toplevel forms (find-module, make-module).
type VM interface {
	CurrentModule() Module
	SetCurrentModule(Module)
	EvalSituation() EvalSituation
	CompilerFlagIsSet(flag CompilerFlag) bool
	FindModule(name string) (Module, bool)
	MakeModule(name string) Module
}

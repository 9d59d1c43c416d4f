// Package cenv implements the compile-time environment threaded through
// pass 1 (spec §4.3): an immutable-by-convention snapshot of the current
// module, the lexical/syntactic/pattern frame stack, and the naming hints
// pass 1 uses to give anonymous closures sensible names.
package cenv

import "github.com/chazu/schemec/sexp"

// Kind orders the three frame kinds a CEnv can hold. Ordinal values matter:
// Lookup treats a frame as eligible when its Kind is >= the caller's
// min-kind, so a LEXICAL lookup sees every frame but a SYNTACTIC lookup
// skips plain lexical bindings shadowing the same name.
type Kind uint8

const (
	Lexical Kind = iota
	Syntactic
	Pattern
)

// Binding is anything a frame entry can resolve a name to: an *LVar (from
// package ir, but held here as an opaque interface to avoid an import
// cycle — pass 1 type-asserts it back), a macro, a syntax compiler, or a
// pattern-variable match.
type Binding = any

type entry struct {
	name    sexp.Symbol
	binding Binding
}

type frame struct {
	kind    Kind
	entries []entry
}

// CEnv is immutable by convention: every extending operation below returns
// a new CEnv and leaves the receiver untouched, so sibling expressions
// compiled from the same starting CEnv never observe each other's
// bindings (spec §3: "sibling expressions must not see each other's
// CEnv").
type CEnv struct {
	Module    any // host.Module, held as any to avoid an import cycle
	frames    []*frame
	nameHint  sexp.Symbol
	hasHint   bool
	enclosing any // *ir.Node of tag LAMBDA, held as any for the same reason
}

// New creates a toplevel CEnv for the given module (no lexical frames).
func New(module any) *CEnv {
	return &CEnv{Module: module}
}

// Extend pushes a new frame of the given kind binding the given
// name/binding pairs, and returns the extended CEnv. The receiver is left
// untouched.
func (c *CEnv) Extend(kind Kind, bindings map[sexp.Symbol]Binding) *CEnv {
	f := &frame{kind: kind}
	for name, b := range bindings {
		f.entries = append(f.entries, entry{name: name, binding: b})
	}
	next := *c
	next.frames = append(append([]*frame{}, c.frames...), f)
	return &next
}

// ExtendOrdered is like Extend but preserves insertion order (needed when
// shadowing within one frame must resolve to the last entry, e.g.
// internal defines rewritten as letrec bindings).
func (c *CEnv) ExtendOrdered(kind Kind, names []sexp.Symbol, bindings []Binding) *CEnv {
	f := &frame{kind: kind}
	for i, name := range names {
		f.entries = append(f.entries, entry{name: name, binding: bindings[i]})
	}
	next := *c
	next.frames = append(append([]*frame{}, c.frames...), f)
	return &next
}

// Lookup walks frames from the innermost outward, returning the bound object
// in the innermost frame of kind >= minKind that binds name. If no frame
// binds it, Lookup returns (nil, false) and the caller treats the name as
// an unresolved global (spec §4.3).
func (c *CEnv) Lookup(name sexp.Symbol, minKind Kind) (Binding, bool) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		f := c.frames[i]
		if f.kind < minKind {
			continue
		}
		for j := len(f.entries) - 1; j >= 0; j-- {
			if f.entries[j].name == name {
				return f.entries[j].binding, true
			}
		}
	}
	return nil, false
}

// AddName replaces the expression-name hint, used to name an anonymous
// closure after the variable it's about to be bound to.
func (c *CEnv) AddName(name sexp.Symbol) *CEnv {
	next := *c
	next.nameHint = name
	next.hasHint = true
	return &next
}

// SansName drops the name hint, for any sub-expression that is not the
// value of the current binding (e.g. a non-tail argument to a call).
func (c *CEnv) SansName() *CEnv {
	next := *c
	next.nameHint = 0
	next.hasHint = false
	return &next
}

// NameHint returns the current naming hint, if any.
func (c *CEnv) NameHint() (sexp.Symbol, bool) {
	return c.nameHint, c.hasHint
}

// TopLevel reports whether c carries no lexical frame at all — the
// precondition for toplevel-only forms like define, define-syntax,
// select-module (spec §4.4).
func (c *CEnv) TopLevel() bool {
	for _, f := range c.frames {
		if f.kind == Lexical {
			return false
		}
	}
	return true
}

// WithEnclosingLambda returns a CEnv recording enclosing as the currently
// compiling LAMBDA, used by pass 1/pass 2 self-recursion detection.
func (c *CEnv) WithEnclosingLambda(enclosing any) *CEnv {
	next := *c
	next.enclosing = enclosing
	return &next
}

// EnclosingLambda returns the currently compiling LAMBDA node, or nil at
// toplevel.
func (c *CEnv) EnclosingLambda() any { return c.enclosing }

// WithModule returns a CEnv scoped to a different target module, used by
// with-module, define-module, and define-in-module (spec §4.4) to compile
// a body or a single define against a module other than the one current
// when compilation started.
func (c *CEnv) WithModule(module any) *CEnv {
	next := *c
	next.Module = module
	return &next
}

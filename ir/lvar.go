package ir

import "github.com/chazu/schemec/sexp"

// LVar is a lexical binding site: a name plus usage counters (spec §4.2).
// An LVar is created exactly once, when its enclosing LET/RECEIVE/LAMBDA
// introduces it, and lives as long as the IR that references it — it is
// never destroyed, only possibly orphaned (ref=set=0) and dropped by pass
// 2's dead-binding elimination.
type LVar struct {
	Name sexp.Symbol

	// Init is the binding's initializer expression, set when the LVar is
	// created. Pass 2's LREF-folding rewrite inspects it (a CONST or an
	// LREF to another unassigned LVar) to decide whether a reference can
	// be replaced outright.
	Init *Node

	refCount int
	setCount int
}

// NewLVar creates a fresh binding with both counters at zero.
func NewLVar(name sexp.Symbol) *LVar {
	return &LVar{Name: name}
}

// RefCount returns the number of live LREF nodes pointing at v.
func (v *LVar) RefCount() int { return v.refCount }

// SetCount returns the number of live LSET nodes pointing at v.
func (v *LVar) SetCount() int { return v.setCount }

// RefInc records a new LREF to v.
func (v *LVar) RefInc() { v.refCount++ }

// RefDec records the removal of an LREF to v (e.g. pass 2 folding an LREF
// to its CONST init away, or retargeting an LREF chain).
func (v *LVar) RefDec() {
	if v.refCount == 0 {
		panic("ir: LVar ref-count underflow")
	}
	v.refCount--
}

// SetInc records a new LSET to v.
func (v *LVar) SetInc() { v.setCount++ }

// SetDec records the removal of an LSET to v.
func (v *LVar) SetDec() {
	if v.setCount == 0 {
		panic("ir: LVar set-count underflow")
	}
	v.setCount--
}

// IsImmutable reports whether v is never assigned, the precondition for
// LREF folding and for treating v's Init as authoritative.
func (v *LVar) IsImmutable() bool { return v.setCount == 0 }

// IsUnused reports whether v has no remaining references at all, the
// precondition for pass 2's dead-binding elimination.
func (v *LVar) IsUnused() bool { return v.refCount == 0 && v.setCount == 0 }

// Retarget moves one reference from v to other, preserving the invariant
// that ref-count equals the number of live LREF nodes (spec §4.2: "it must
// decrement the source and increment the destination").
func Retarget(lref *Node, other *LVar) {
	if lref.Tag != TagLref {
		panic("ir: Retarget called on a non-LREF node")
	}
	lref.LVarRef.RefDec()
	other.RefInc()
	lref.LVarRef = other
}

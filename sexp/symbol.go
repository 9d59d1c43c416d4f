// Package sexp defines the Scheme data model the compiler core reads as
// input and folds into CONST literals: symbols, pairs, and the handful of
// self-evaluating atoms. The reader and printer live outside the core; this
// package only gives pass 1 and the IR something typed to hold onto.
package sexp

import "sync"

// Symbol is an interned identifier. Two symbols with the same name compare
// equal as plain integers, the same way vm/symbol.go interns selectors for
// the bytecode VM.
type Symbol uint32

// Table interns symbol names to small integers.
type Table struct {
	mu   sync.RWMutex
	ids  map[string]Symbol
	name []string
}

// NewTable creates an empty symbol table.
func NewTable() *Table {
	return &Table{ids: make(map[string]Symbol)}
}

// Intern returns the Symbol for name, creating one if this is the first
// occurrence.
func (t *Table) Intern(name string) Symbol {
	t.mu.RLock()
	if id, ok := t.ids[name]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := Symbol(len(t.name))
	t.ids[name] = id
	t.name = append(t.name, name)
	return id
}

// Lookup returns the Symbol for name without interning it.
func (t *Table) Lookup(name string) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.ids[name]
	return id, ok
}

// Name returns the textual name of a previously interned symbol.
func (t *Table) Name(id Symbol) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.name) {
		return ""
	}
	return t.name[id]
}

// Len reports how many distinct symbols have been interned.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.name)
}

// default is the table used by gensym-free helpers and tests that don't
// thread an explicit table through; real hosts should own their own Table
// and pass it to the compiler entry points (NewPass1, NewPass3, the
// schemec functions) instead of relying on this one.
var defaultTable = NewTable()

// DefaultTable returns the package-level symbol table used when no other
// table is supplied.
func DefaultTable() *Table { return defaultTable }

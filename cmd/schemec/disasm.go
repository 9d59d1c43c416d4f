package main

import (
	"fmt"
	"strings"

	"github.com/chazu/schemec/bytecode"
	"github.com/chazu/schemec/sexp"
)

// disassembleFull renders cc the way bytecode.Disassemble does, then
// recurses into every nested *bytecode.CompiledCode literal a CLOSURE
// left in the literal pool, so a single invocation shows every frame a
// compilation produced rather than just the outermost one.
func disassembleFull(cc *bytecode.CompiledCode, tab *sexp.Table, withLiterals bool) string {
	var b strings.Builder
	listing := bytecode.Disassemble(cc, tab)
	if !withLiterals {
		if i := strings.Index(listing, "\nliterals:\n"); i >= 0 {
			listing = listing[:i+1]
		}
	}
	b.WriteString(listing)
	for i, lit := range cc.Literals {
		if nested, ok := lit.(*bytecode.CompiledCode); ok {
			fmt.Fprintf(&b, "\n--- literal %d (closure) ---\n", i)
			b.WriteString(disassembleFull(nested, tab, withLiterals))
		}
	}
	return b.String()
}

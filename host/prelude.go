package host

import "github.com/chazu/schemec/sexp"

// preludeOpcode mirrors the handful of bytecode opcodes package host is
// allowed to name without importing package bytecode (which would create
// an import cycle, since bytecode never needs to know about hosts). The
// numeric values here MUST stay in lockstep with bytecode.Opcode's
// "Fused small-integer arithmetic" and "Other inlined primitives" ranges.
type preludeOpcode int

const (
	opNumadd2      preludeOpcode = 0x77
	opNumsub2      preludeOpcode = 0x78
	opNummul2      preludeOpcode = 0x79
	opNumeq        preludeOpcode = 0x72
	opNumlt        preludeOpcode = 0x73
	opNumle        preludeOpcode = 0x74
	opNumgt        preludeOpcode = 0x75
	opNumge        preludeOpcode = 0x76
	opCons         preludeOpcode = 0x80
	opAppend       preludeOpcode = 0x81
	opMemv         preludeOpcode = 0x82
	opEq           preludeOpcode = 0x83
	opEqv          preludeOpcode = 0x84
	opList         preludeOpcode = 0x85
	opListStar     preludeOpcode = 0x86
	opVector       preludeOpcode = 0x87
	opListToVector preludeOpcode = 0x88
)

// InstallPrelude populates r's current module with the inlinable bindings
// spec §4.11 names: the fixed small-integer arithmetic/comparison family
// and the structural primitives (cons, append, memv, eq?, eqv?, list,
// list*, vector, list->vector). A real host would back these with actual
// procedure values too; InstallPrelude only wires the inliner descriptor
// half, since the core never calls the procedure itself.
func (r *Runtime) InstallPrelude(tab *sexp.Table) {
	mod := r.current
	reg := func(name string, opcode preludeOpcode, min, max int) {
		mod.InsertInliner(tab.Intern(name), sexp.Undefined, &OpcodeInliner{
			Opcode: int(opcode), MinArgs: min, MaxArgs: max,
		})
	}
	reg("+", opNumadd2, 0, -1)
	reg("-", opNumsub2, 1, -1)
	reg("*", opNummul2, 0, -1)
	reg("=", opNumeq, 2, -1)
	reg("<", opNumlt, 2, -1)
	reg("<=", opNumle, 2, -1)
	reg(">", opNumgt, 2, -1)
	reg(">=", opNumge, 2, -1)
	reg("cons", opCons, 2, 2)
	reg("append", opAppend, 2, 2)
	reg("memv", opMemv, 2, 2)
	reg("eq?", opEq, 2, 2)
	reg("eqv?", opEqv, 2, 2)
	reg("list", opList, 0, -1)
	reg("list*", opListStar, 1, -1)
	reg("vector", opVector, 0, -1)
	reg("list->vector", opListToVector, 1, 1)
}

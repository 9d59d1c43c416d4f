package bytecode

import (
	"fmt"
	"strings"

	"github.com/chazu/schemec/sexp"
)

// Disassemble renders cc as a readable instruction listing, the same
// purpose as pkg/bytecode/disasm.go's Disassemble but over an Insn slice
// instead of a raw byte stream, and with literal values rendered through
// tab instead of raw string escapes — since CompiledCode carries Scheme
// data, not the teacher's string-only constant pool.
func Disassemble(cc *CompiledCode, tab *sexp.Table) string {
	var b strings.Builder
	name := "<lambda>"
	if cc.HasName {
		name = tab.Name(cc.Name)
	}
	fmt.Fprintf(&b, "%s (reqargs=%d optarg=%d maxstack=%d)\n", name, cc.ReqArgs, cc.OptArg, cc.MaxStack)
	for i, in := range cc.Insns {
		fmt.Fprintf(&b, "%4d  %-22s", i, in.Op.String())
		for _, operand := range in.Operands {
			fmt.Fprintf(&b, " %d", operand)
		}
		if in.Label != nil {
			fmt.Fprintf(&b, " -> %d", in.Label.LabelTarget())
		}
		if litOp, ok := literalOperand(in); ok {
			if litOp < len(cc.Literals) {
				fmt.Fprintf(&b, "  ; %s", sexp.Write(cc.Literals[litOp], tab))
			}
		}
		b.WriteByte('\n')
	}
	if len(cc.Literals) > 0 {
		b.WriteString("literals:\n")
		for i, lit := range cc.Literals {
			fmt.Fprintf(&b, "%4d  %s\n", i, sexp.Write(lit, tab))
		}
	}
	return b.String()
}

// literalOperand reports whether in references a literal-pool index and
// which operand position holds it, so Disassemble can print the value
// inline as a comment.
func literalOperand(in Insn) (int, bool) {
	switch in.Op {
	case OpConst, OpGref, OpGrefPush, OpGrefCall, OpGrefTailCall, OpGset, OpDefine:
		if len(in.Operands) > 0 {
			return int(in.Operands[0]), true
		}
	}
	return 0, false
}

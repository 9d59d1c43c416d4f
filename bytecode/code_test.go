package bytecode

import (
	"strings"
	"testing"

	"github.com/chazu/schemec/sexp"
)

func TestBuilderEmitAndFinish(t *testing.T) {
	b := NewBuilder(1, 0, 0, false, nil, false)
	b.Emit(OpConst, nil, int64(b.AddLiteral(int64(42))))
	b.Emit(OpRet, nil)

	cc, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(cc.Insns) != 2 {
		t.Fatalf("len(Insns) = %d, want 2", len(cc.Insns))
	}
	if cc.Insns[0].Op != OpConst || cc.Insns[1].Op != OpRet {
		t.Fatalf("unexpected instructions: %+v", cc.Insns)
	}
	if cc.Literals[0] != int64(42) {
		t.Fatalf("Literals[0] = %v, want 42", cc.Literals[0])
	}
}

func TestAddLiteralDeduplicates(t *testing.T) {
	b := NewBuilder(0, 0, 0, false, nil, false)
	i0 := b.AddLiteral("hello")
	i1 := b.AddLiteral("world")
	i2 := b.AddLiteral("hello")
	if i0 != 0 || i1 != 1 || i2 != 0 {
		t.Fatalf("indices = %d, %d, %d, want 0, 1, 0", i0, i1, i2)
	}
}

func TestLabelMustBeResolvedBeforeFinish(t *testing.T) {
	b := NewBuilder(0, 0, 0, false, nil, false)
	l := b.NewLabel()
	b.EmitBranch(OpJump, l, nil)
	if _, err := b.Finish(); err == nil {
		t.Fatal("expected Finish to fail on an unresolved label")
	}
}

func TestLabelResolvesToEmitPosition(t *testing.T) {
	b := NewBuilder(0, 0, 0, false, nil, false)
	l := b.NewLabel()
	b.EmitBranch(OpBf, l, nil)
	b.Emit(OpConstTrue, nil)
	b.SetLabel(l)
	b.Emit(OpConstFalse, nil)
	b.Emit(OpRet, nil)

	if _, err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if l.LabelTarget() != 2 {
		t.Fatalf("LabelTarget() = %d, want 2", l.LabelTarget())
	}
}

func TestSetLabelTwicePanics(t *testing.T) {
	b := NewBuilder(0, 0, 0, false, nil, false)
	l := b.NewLabel()
	b.SetLabel(l)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on setting a label twice")
		}
	}()
	b.SetLabel(l)
}

func TestReplaceCurrentInsnFuses(t *testing.T) {
	b := NewBuilder(0, 0, 0, false, nil, false)
	b.Emit(OpLref, nil, 0, 1)
	cur, ok := b.CurrentInsn()
	if !ok || cur.Op != OpLref {
		t.Fatalf("CurrentInsn() = %+v, %v", cur, ok)
	}
	b.ReplaceCurrentInsn(Insn{Op: OpLrefPush, Operands: cur.Operands})
	cc, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(cc.Insns) != 1 || cc.Insns[0].Op != OpLrefPush {
		t.Fatalf("unexpected insns after fusion: %+v", cc.Insns)
	}
}

func TestMaxStackTracksPushesAndPops(t *testing.T) {
	b := NewBuilder(0, 0, 0, false, nil, false)
	b.Emit(OpConstTrue, nil) // depth 1
	b.Emit(OpConstFalse, nil) // depth 2
	b.Emit(OpCons, nil) // pops 2, pushes 1: depth 1
	cc, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if cc.MaxStack != 2 {
		t.Fatalf("MaxStack = %d, want 2", cc.MaxStack)
	}
}

func TestFitsOperandBounds(t *testing.T) {
	if !FitsSignedOperand(MaxSignedOperand) || FitsSignedOperand(MaxSignedOperand+1) {
		t.Fatal("FitsSignedOperand boundary wrong")
	}
	if !FitsSignedOperand(MinSignedOperand) || FitsSignedOperand(MinSignedOperand-1) {
		t.Fatal("FitsSignedOperand lower boundary wrong")
	}
	if FitsUnsignedOperand(-1) || !FitsUnsignedOperand(0) || !FitsUnsignedOperand(MaxUnsignedOperand) {
		t.Fatal("FitsUnsignedOperand boundary wrong")
	}
}

func TestDisassembleRendersLiteralsAndLabels(t *testing.T) {
	tab := sexp.NewTable()
	name := tab.Intern("add-one")
	b := NewBuilder(1, 0, name, true, nil, false)
	l := b.NewLabel()
	b.Emit(OpGref, nil, int64(b.AddLiteral(tab.Intern("x"))))
	b.EmitBranch(OpBf, l, nil)
	b.SetLabel(l)
	b.Emit(OpRet, nil)
	cc, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	out := Disassemble(cc, tab)
	if !strings.Contains(out, "add-one") {
		t.Fatalf("disassembly missing name: %s", out)
	}
	if !strings.Contains(out, "-> 2") {
		t.Fatalf("disassembly missing resolved branch target: %s", out)
	}
}

func TestOpcodeMetadata(t *testing.T) {
	if OpConst.OperandLen() != 2 {
		t.Fatalf("OpConst.OperandLen() = %d, want 2", OpConst.OperandLen())
	}
	if OpConst.InstructionLen() != 3 {
		t.Fatalf("OpConst.InstructionLen() = %d, want 3", OpConst.InstructionLen())
	}
	if !OpJump.IsBranch() || OpConst.IsBranch() {
		t.Fatal("IsBranch classification wrong")
	}
	if !OpTailCall.IsTailCall() || OpCall.IsTailCall() {
		t.Fatal("IsTailCall classification wrong")
	}
	if GetOpcodeInfo(Opcode(0xFE)).Name == "" {
		t.Fatal("unknown opcode should still have a name")
	}
}

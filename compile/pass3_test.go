package compile

import (
	"testing"

	"github.com/chazu/schemec/bytecode"
	"github.com/chazu/schemec/ir"
)

// pass3 tests compile raw pass 1 output (no pass 2) so the emitted opcode
// sequence is exactly what pass3.go's compile dispatch predicts,
// not whatever shape an optimization pass happens to leave behind.

func TestCompileConstEmitsConstAndRet(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "42")

	p3 := NewPass3(tab)
	cc, err := p3.CompileLambda(n, 0, 0, 0, false, nil, nil, nil)
	if err != nil {
		t.Fatalf("CompileLambda: %v", err)
	}
	if len(cc.Insns) != 2 || cc.Insns[0].Op != bytecode.OpConst || cc.Insns[1].Op != bytecode.OpRet {
		t.Fatalf("Insns = %+v, want [CONST, RET]", cc.Insns)
	}
	if cc.Literals[0] != int64(42) {
		t.Fatalf("Literals[0] = %v, want 42", cc.Literals[0])
	}
}

func TestCompileIfEmitsBfAndBothArmsReturn(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "(lambda (flag) (if flag 1 2))")

	p3 := NewPass3(tab)
	cc, err := p3.CompileLambda(n.Body, n.ReqArgs, n.OptArg, 0, false, nil, n.LVars, nil)
	if err != nil {
		t.Fatalf("CompileLambda: %v", err)
	}
	wantOps := []bytecode.Opcode{
		bytecode.OpLref,
		bytecode.OpBf,
		bytecode.OpConst,
		bytecode.OpRet,
		bytecode.OpConst,
		bytecode.OpRet,
	}
	if len(cc.Insns) != len(wantOps) {
		t.Fatalf("Insns = %+v, want %d instructions", cc.Insns, len(wantOps))
	}
	for i, op := range wantOps {
		if cc.Insns[i].Op != op {
			t.Fatalf("Insns[%d].Op = %v, want %v (full: %+v)", i, cc.Insns[i].Op, op, cc.Insns)
		}
	}
	// both branches are in tail position, so the test's BF jumps straight
	// to the else arm rather than through a separate merge point.
	bf := cc.Insns[1]
	if bf.Label == nil || bf.Label.LabelTarget() != 4 {
		t.Fatalf("BF target = %v, want instruction 4 (the else arm)", bf.Label)
	}
	if cc.Literals[0] != int64(1) || cc.Literals[1] != int64(2) {
		t.Fatalf("Literals = %v, want [1, 2]", cc.Literals)
	}
}

func TestCompileLetEmitsLocalEnvLsetAndLref(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "(let ((x 1)) x)")

	p3 := NewPass3(tab)
	cc, err := p3.CompileLambda(n, 0, 0, 0, false, nil, nil, nil)
	if err != nil {
		t.Fatalf("CompileLambda: %v", err)
	}
	wantOps := []bytecode.Opcode{
		bytecode.OpLocalEnv,
		bytecode.OpConst,
		bytecode.OpLset,
		bytecode.OpLref,
		bytecode.OpRet,
	}
	if len(cc.Insns) != len(wantOps) {
		t.Fatalf("Insns = %+v, want %d instructions", cc.Insns, len(wantOps))
	}
	for i, op := range wantOps {
		if cc.Insns[i].Op != op {
			t.Fatalf("Insns[%d].Op = %v, want %v (full: %+v)", i, cc.Insns[i].Op, op, cc.Insns)
		}
	}
	// the whole LET is the lambda's tail expression, so its frame unwinds
	// via the trailing RET rather than an explicit POP_LOCAL_ENV.
	for _, in := range cc.Insns {
		if in.Op == bytecode.OpPopLocalEnv {
			t.Fatal("tail-position LET should not emit POP_LOCAL_ENV")
		}
	}
	lref := cc.Insns[3]
	if len(lref.Operands) != 2 || lref.Operands[0] != 0 || lref.Operands[1] != 0 {
		t.Fatalf("LREF operands = %v, want depth 0, offset 0", lref.Operands)
	}
}

func TestCompileLetInValueContextEmitsPopLocalEnv(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	// nesting the LET as cons's first argument compiles it under a plain
	// value context (not tail, not stmt), the only context that has to
	// unwind the frame with an explicit instruction instead of riding RET.
	n := mustCompile(t, p1, tab, env, "(cons (let ((x 1)) x) 2)")

	p3 := NewPass3(tab)
	cc, err := p3.CompileLambda(n, 0, 0, 0, false, nil, nil, nil)
	if err != nil {
		t.Fatalf("CompileLambda: %v", err)
	}
	wantOps := []bytecode.Opcode{
		bytecode.OpLocalEnv,
		bytecode.OpConst,
		bytecode.OpLset,
		bytecode.OpLref,
		bytecode.OpPopLocalEnv,
		bytecode.OpPush,
		bytecode.OpConst,
		bytecode.OpCons,
		bytecode.OpRet,
	}
	if len(cc.Insns) != len(wantOps) {
		t.Fatalf("Insns = %+v, want %d instructions", cc.Insns, len(wantOps))
	}
	for i, op := range wantOps {
		if cc.Insns[i].Op != op {
			t.Fatalf("Insns[%d].Op = %v, want %v (full: %+v)", i, cc.Insns[i].Op, op, cc.Insns)
		}
	}
}

func TestCompileClosureEmitsNestedCodeAsLiteral(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "(lambda (x) x)")

	p3 := NewPass3(tab)
	cc, err := p3.CompileLambda(n, 0, 0, 0, false, nil, nil, nil)
	if err != nil {
		t.Fatalf("CompileLambda: %v", err)
	}
	if len(cc.Insns) != 2 || cc.Insns[0].Op != bytecode.OpClosure || cc.Insns[1].Op != bytecode.OpRet {
		t.Fatalf("Insns = %+v, want [CLOSURE, RET]", cc.Insns)
	}
	if len(cc.Literals) != 1 {
		t.Fatalf("Literals = %v, want exactly the nested code object", cc.Literals)
	}
	nested, ok := cc.Literals[0].(*bytecode.CompiledCode)
	if !ok {
		t.Fatalf("Literals[0] = %T, want *bytecode.CompiledCode", cc.Literals[0])
	}
	if nested.ReqArgs != 1 {
		t.Fatalf("nested.ReqArgs = %d, want 1", nested.ReqArgs)
	}
	if len(nested.Insns) != 2 || nested.Insns[0].Op != bytecode.OpLref || nested.Insns[1].Op != bytecode.OpRet {
		t.Fatalf("nested.Insns = %+v, want [LREF, RET]", nested.Insns)
	}
	// ncaptures is cosmetic (DESIGN.md: this core doesn't flatten captures),
	// but a lambda whose only LVar is its own bound param still has zero
	// free references.
	closure := cc.Insns[0]
	if len(closure.Operands) != 2 || closure.Operands[1] != 0 {
		t.Fatalf("CLOSURE operands = %v, want ncaptures 0", closure.Operands)
	}
}

func TestCompileAddWithConstOperandFusesNumaddi(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "(+ x 1)")
	if n.Tag != ir.TagAsm || n.InsnV.Opcode != int(bytecode.OpNumaddi) {
		t.Fatalf("setup: got %+v, want pass 1 to have already fused NUMADDI", n)
	}

	p3 := NewPass3(tab)
	cc, err := p3.CompileLambda(n, 0, 0, 0, false, nil, nil, nil)
	if err != nil {
		t.Fatalf("CompileLambda: %v", err)
	}
	// a single embedded-immediate operand needs no PUSH: the sole operand
	// (the GREF load of x) is compiled directly onto the accumulator and
	// NUMADDI pops exactly that one value.
	wantOps := []bytecode.Opcode{
		bytecode.OpGref,
		bytecode.OpNumaddi,
		bytecode.OpRet,
	}
	if len(cc.Insns) != len(wantOps) {
		t.Fatalf("Insns = %+v, want %d instructions", cc.Insns, len(wantOps))
	}
	for i, op := range wantOps {
		if cc.Insns[i].Op != op {
			t.Fatalf("Insns[%d].Op = %v, want %v (full: %+v)", i, cc.Insns[i].Op, op, cc.Insns)
		}
	}
	addi := cc.Insns[1]
	if len(addi.Operands) != 1 || addi.Operands[0] != 1 {
		t.Fatalf("NUMADDI operands = %v, want embedded immediate 1", addi.Operands)
	}
}

func TestCompileCallToUnboundGlobalFusesGrefTailCall(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "(unbound-proc 1 2)")
	if n.Tag != ir.TagCall || n.Proc.Tag != ir.TagGref {
		t.Fatalf("setup: got %+v, want a CALL with a GREF operator", n)
	}

	p3 := NewPass3(tab)
	cc, err := p3.CompileLambda(n, 0, 0, 0, false, nil, nil, nil)
	if err != nil {
		t.Fatalf("CompileLambda: %v", err)
	}
	wantOps := []bytecode.Opcode{
		bytecode.OpConst,
		bytecode.OpPush,
		bytecode.OpConst,
		bytecode.OpPush,
		bytecode.OpGrefTailCall,
	}
	if len(cc.Insns) != len(wantOps) {
		t.Fatalf("Insns = %+v, want %d instructions", cc.Insns, len(wantOps))
	}
	for i, op := range wantOps {
		if cc.Insns[i].Op != op {
			t.Fatalf("Insns[%d].Op = %v, want %v (full: %+v)", i, cc.Insns[i].Op, op, cc.Insns)
		}
	}
	call := cc.Insns[4]
	if len(call.Operands) != 2 || call.Operands[1] != 2 {
		t.Fatalf("GREF_TAIL_CALL operands = %v, want argc 2", call.Operands)
	}
}

package compile

import (
	"testing"

	"github.com/chazu/schemec/bytecode"
	"github.com/chazu/schemec/cerror"
	"github.com/chazu/schemec/host"
	"github.com/chazu/schemec/ir"
	"github.com/chazu/schemec/sexp"
)

func TestApplyOpcodeInlinerUnaryMinusNegatesFromZero(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	head := tab.Intern("-")
	inl := &host.OpcodeInliner{Opcode: int(bytecode.OpNumsub2), MinArgs: 1, MaxArgs: -1}
	argForms := []sexp.Datum{sread(t, tab, "5")}

	node, ok, err := p1.applyOpcodeInliner(head, inl, argForms, sread(t, tab, "(- 5)"), env)
	if err != nil || !ok {
		t.Fatalf("applyOpcodeInliner: ok=%v err=%v", ok, err)
	}
	if node.Tag != ir.TagAsm || node.InsnV.Opcode != int(bytecode.OpNumsub2) {
		t.Fatalf("got %+v, want ASM NUMSUB2", node)
	}
	if len(node.Args) != 2 || !node.Args[0].IsConst() || node.Args[0].Value != int64(0) {
		t.Fatalf("Args[0] = %+v, want CONST 0 (unary - negates from zero)", node.Args[0])
	}
	if !node.Args[1].IsConst() || node.Args[1].Value != int64(5) {
		t.Fatalf("Args[1] = %+v, want CONST 5", node.Args[1])
	}
}

func TestApplyOpcodeInlinerAddFusesImmediateFromConstRhs(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	head := tab.Intern("+")
	inl := &host.OpcodeInliner{Opcode: int(bytecode.OpNumadd2), MinArgs: 0, MaxArgs: -1}
	argForms := []sexp.Datum{tab.Intern("x"), sread(t, tab, "1")}

	node, ok, err := p1.applyOpcodeInliner(head, inl, argForms, sread(t, tab, "(+ x 1)"), env)
	if err != nil || !ok {
		t.Fatalf("applyOpcodeInliner: ok=%v err=%v", ok, err)
	}
	if node.Tag != ir.TagAsm || node.InsnV.Opcode != int(bytecode.OpNumaddi) {
		t.Fatalf("got %+v, want ASM NUMADDI", node)
	}
	if node.InsnV.NOperand != 1 || node.InsnV.Operands[0] != 1 {
		t.Fatalf("InsnV = %+v, want embedded immediate 1", node.InsnV)
	}
	if len(node.Args) != 1 {
		t.Fatalf("Args = %+v, want exactly the non-constant operand", node.Args)
	}
}

func TestApplyOpcodeInlinerSubFusesImmediateOnlyFromRhs(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	head := tab.Intern("-")
	inl := &host.OpcodeInliner{Opcode: int(bytecode.OpNumsub2), MinArgs: 1, MaxArgs: -1}
	argForms := []sexp.Datum{sread(t, tab, "1"), tab.Intern("x")}

	// (- 1 x): the constant is the LEFT operand, which NUMSUBI cannot embed
	// (it only fuses a constant right-hand side), so this must fall back to
	// the generic 2-ary NUMSUB2 rather than miscomputing x - 1.
	node, ok, err := p1.applyOpcodeInliner(head, inl, argForms, sread(t, tab, "(- 1 x)"), env)
	if err != nil || !ok {
		t.Fatalf("applyOpcodeInliner: ok=%v err=%v", ok, err)
	}
	if node.Tag != ir.TagAsm || node.InsnV.Opcode != int(bytecode.OpNumsub2) {
		t.Fatalf("got %+v, want the generic NUMSUB2 fallback, not a miscomputed NUMSUBI", node)
	}
}

func TestApplyOpcodeInlinerVariadicComparisonChainsWithAnd(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	head := tab.Intern("<")
	inl := &host.OpcodeInliner{Opcode: int(bytecode.OpNumlt), MinArgs: 2, MaxArgs: -1}
	argForms := []sexp.Datum{sread(t, tab, "1"), sread(t, tab, "2"), sread(t, tab, "3")}

	node, ok, err := p1.applyOpcodeInliner(head, inl, argForms, sread(t, tab, "(< 1 2 3)"), env)
	if err != nil || !ok {
		t.Fatalf("applyOpcodeInliner: ok=%v err=%v", ok, err)
	}
	// (< 1 2 3) == (and (< 1 2) (< 2 3)): an IF testing the first
	// comparison, falling through to the second as its own value, #f
	// otherwise.
	if node.Tag != ir.TagIf {
		t.Fatalf("Tag = %v, want IF", node.Tag)
	}
	if node.Test.Tag != ir.TagAsm || node.Then.Tag != ir.TagAsm {
		t.Fatalf("got %+v, want ASM test and ASM then", node)
	}
	if node.Else != ir.ConstFalseNode {
		t.Fatal("Else should be the shared ConstFalseNode singleton")
	}
}

func TestApplyOpcodeInlinerArityMismatchDeclines(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	head := tab.Intern("<")
	inl := &host.OpcodeInliner{Opcode: int(bytecode.OpNumlt), MinArgs: 2, MaxArgs: -1}
	argForms := []sexp.Datum{sread(t, tab, "1")}

	node, ok, err := p1.applyOpcodeInliner(head, inl, argForms, sread(t, tab, "(< 1)"), env)
	if err != nil {
		t.Fatalf("arity mismatch should decline, not error: %v", err)
	}
	if ok || node != nil {
		t.Fatalf("got ok=%v node=%+v, want decline so pass 1 falls back to a generic call", ok, node)
	}
}

func TestInlineProcedureBetaExpandsWithFreshLVars(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	lambda := mustCompile(t, p1, tab, env, "(lambda (x y) (+ x y))")

	args := []*ir.Node{ir.NewConst(int64(10), nil), ir.NewConst(int64(20), nil)}
	node, err := p1.inlineProcedure(tab.Intern("f"), lambda, args, nil)
	if err != nil {
		t.Fatalf("inlineProcedure: %v", err)
	}
	if node.Tag != ir.TagLet || node.Kind != ir.LetPlain {
		t.Fatalf("got %+v, want a plain LET", node)
	}
	if len(node.LVars) != 2 || node.LVars[0] == lambda.LVars[0] || node.LVars[1] == lambda.LVars[1] {
		t.Fatal("inlining must allocate fresh LVars, not reuse the lambda's own")
	}
	if !node.Inits[0].IsConst() || node.Inits[0].Value != int64(10) {
		t.Fatalf("Inits[0] = %+v, want CONST 10", node.Inits[0])
	}
	if !node.Inits[1].IsConst() || node.Inits[1].Value != int64(20) {
		t.Fatalf("Inits[1] = %+v, want CONST 20", node.Inits[1])
	}
	if node.Body.Tag != ir.TagAsm || len(node.Body.Args) != 2 {
		t.Fatalf("Body = %+v, want the cloned (+ x y) ASM node", node.Body)
	}
	if node.Body.Args[0].LVarRef != node.LVars[0] || node.Body.Args[1].LVarRef != node.LVars[1] {
		t.Fatal("the cloned body should reference the fresh LVars, not the originals")
	}
}

func TestInlineProcedureArityErrorOnTooFewArgs(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	lambda := mustCompile(t, p1, tab, env, "(lambda (x y) (+ x y))")

	_, err := p1.inlineProcedure(tab.Intern("f"), lambda, []*ir.Node{ir.NewConst(int64(1), nil)}, nil)
	if err == nil {
		t.Fatal("expected an arity error when inlining with too few arguments")
	}
	if _, ok := err.(*cerror.ArityError); !ok {
		t.Fatalf("err = %T, want *cerror.ArityError", err)
	}
}

func TestInlineProcedureRestArgCollectsExtrasIntoList(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	lambda := mustCompile(t, p1, tab, env, "(lambda (x . rest) rest)")

	args := []*ir.Node{
		ir.NewConst(int64(1), nil),
		ir.NewConst(int64(2), nil),
		ir.NewConst(int64(3), nil),
	}
	node, err := p1.inlineProcedure(tab.Intern("f"), lambda, args, nil)
	if err != nil {
		t.Fatalf("inlineProcedure: %v", err)
	}
	restInit := node.Inits[1]
	if restInit.Tag != ir.TagList || len(restInit.Items) != 2 {
		t.Fatalf("rest init = %+v, want a LIST of the 2 extra args", restInit)
	}
}

func TestInlineProcedureRestArgEmptyIsConstNil(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	lambda := mustCompile(t, p1, tab, env, "(lambda (x . rest) rest)")

	args := []*ir.Node{ir.NewConst(int64(1), nil)}
	node, err := p1.inlineProcedure(tab.Intern("f"), lambda, args, nil)
	if err != nil {
		t.Fatalf("inlineProcedure: %v", err)
	}
	if node.Inits[1] != ir.ConstNil {
		t.Fatalf("rest init = %+v, want the shared ConstNil singleton when no extra args are given", node.Inits[1])
	}
}

package compile

import (
	"testing"

	"github.com/chazu/schemec/config"
	"github.com/chazu/schemec/ir"
)

func TestLrefFoldsToConstWhenInitIsConst(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "(let ((x 5)) x)")
	p2 := NewPass2(config.Default().Compiler)
	out := p2.Optimize(n)
	// x is immutable with a CONST init and a single reference, so the
	// whole LET collapses via dead-binding elimination once the LREF
	// folds, leaving just the constant.
	if !out.IsConst() || out.Value != int64(5) {
		t.Fatalf("got %+v, want CONST 5", out)
	}
}

func TestLrefFoldChainsThroughImmutableAlias(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "(let* ((x 5) (y x)) y)")
	p2 := NewPass2(config.Default().Compiler)
	out := p2.Optimize(n)
	if !out.IsConst() || out.Value != int64(5) {
		t.Fatalf("got %+v, want CONST 5 after alias folding", out)
	}
}

func TestDeadBindingElimination(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	// y's init (cons ...) is not a foldable LREF source, so y stays a real
	// LET binding; x is never referenced at all and should be dropped.
	n := mustCompile(t, p1, tab, env, "(let ((x 1) (y (cons 1 2))) y)")
	p2 := NewPass2(config.Default().Compiler)
	out := p2.Optimize(n)
	if out.Tag != ir.TagLet {
		t.Fatalf("got %+v, want LET to survive with y's binding", out)
	}
	for _, lv := range out.LVars {
		if tab.Name(lv.Name) == "x" {
			t.Fatal("unused binding x should have been dropped")
		}
	}
	if len(out.LVars) != 1 || tab.Name(out.LVars[0].Name) != "y" {
		t.Fatalf("expected only y to remain, got %+v", out.LVars)
	}
}

func TestIfRestructuringSharesThenBranch(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	// `(or a b)` used as an `if` test compiles to
	// IF(IF(a, IT, b), then, else), the exact shape walkIf restructures
	// into a single shared `then` reached from both a's and b's tests.
	n := mustCompile(t, p1, tab, env, "(if (or (< 1 2) (< 3 4)) 10 20)")
	p2 := NewPass2(config.Default().Compiler)
	out := p2.Optimize(n)
	if out.Tag != ir.TagIf {
		t.Fatalf("Tag = %v, want IF", out.Tag)
	}
	if out.Then.Tag != ir.TagLabel {
		t.Fatalf("Then = %+v, want the shared LABEL pass 2 builds for `or`", out.Then)
	}
	// the nested IF's own Then must be the SAME shared node, not a copy.
	if out.Else.Tag != ir.TagIf || out.Else.Then != out.Then {
		t.Fatalf("Else branch should reuse the identical shared Then node, got %+v", out.Else)
	}
}

func TestClassifyClosureInlinesSmallNonRecursiveCall(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "(let ((double (lambda (x) (+ x x)))) (double 5))")
	p2 := NewPass2(config.Default().Compiler)
	out := p2.Optimize(n)
	if out.Tag != ir.TagLet {
		t.Fatalf("got %+v, want the inlined LET body", out)
	}
	// The call site should have been replaced by a LET binding x to the
	// argument, not a CALL node at all.
	if out.Body != nil && out.Body.Tag == ir.TagCall {
		t.Fatal("expected the call to have been fully inlined away")
	}
}

func TestClassifyClosureEmbedsSelfRecursiveLoop(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	n := mustCompile(t, p1, tab, env, "(let loop ((n 3)) (if (= n 0) n (loop (+ n -1))))")
	p2 := NewPass2(config.Default().Compiler)
	out := p2.Optimize(n)
	if out.Tag != ir.TagLet {
		t.Fatalf("got %+v, want LET", out)
	}
	lambda := out.Inits[0]
	if lambda.Tag != ir.TagLambda {
		t.Fatalf("Inits[0] = %+v, want the loop LAMBDA", lambda)
	}
	if lambda.LambdaFlagV != ir.LambdaDissolved {
		t.Fatalf("LambdaFlagV = %v, want LambdaDissolved for a self-recursive loop", lambda.LambdaFlagV)
	}
}

func TestDirectlyAppliedLambdaLiteralLowersToLet(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	// spec §4.9 CALL handling: "If operator is a LAMBDA, immediately lower
	// to a LET (direct beta-reduction)" — this is the literal
	// `((lambda (x) (+ x 1)) 3)` shape, not a call through a named binding.
	n := mustCompile(t, p1, tab, env, "((lambda (x) (+ x 1)) 3)")
	p2 := NewPass2(config.Default().Compiler)
	out := p2.Optimize(n)
	if out.Tag != ir.TagLet || out.Kind != ir.LetPlain {
		t.Fatalf("got %+v, want a plain LET, not a surviving CALL", out)
	}
	if len(out.LVars) != 1 || tab.Name(out.LVars[0].Name) != "x" {
		t.Fatalf("LVars = %+v, want [x]", out.LVars)
	}
	if !out.Inits[0].IsConst() || out.Inits[0].Value != int64(3) {
		t.Fatalf("Inits[0] = %+v, want CONST 3", out.Inits[0])
	}
	if out.Body.Tag == ir.TagCall {
		t.Fatal("the applied lambda should have been spliced away, not left as a CALL")
	}
}

func TestSiblingLetBindingsDoNotAliasLVars(t *testing.T) {
	p1, tab, env := newTestPass1(t)
	a := mustCompile(t, p1, tab, env, "(let ((x 1)) x)")
	b := mustCompile(t, p1, tab, env, "(let ((x 1)) x)")
	if a.LVars[0] == b.LVars[0] {
		t.Fatal("compiling the same source twice from the same env should yield distinct LVars")
	}
}

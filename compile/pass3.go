// Pass 3 (spec §4.10) walks the IR pass 2 leaves behind and drives a
// bytecode.Builder to emit the instruction stream. Every node is compiled
// under a context describing where its value goes: tail (the enclosing
// procedure returns it), normal (some enclosing expression consumes it,
// bottom or top of a LET/PRE-CALL nesting), or stmt (the value is
// discarded, the only difference that matters being that a CONST in stmt
// context emits nothing at all).
//
// The VM this targets is register-plus-stack (package bytecode's doc
// comment): most instructions leave their result as "the current value"
// rather than push it, so BF/BT testing that value does not destroy it —
// this is what lets the `(if test it rest)` shape from `or`/`cond` reuse
// test's value in the true branch without recomputing it. Only CALL
// arguments and the operands of inlined primitives move through the side
// accumulator stack via PUSH (an ASM node's last operand stays the
// current value instead).
package compile

import (
	"github.com/chazu/schemec/bytecode"
	"github.com/chazu/schemec/cerror"
	"github.com/chazu/schemec/ir"
	"github.com/chazu/schemec/sexp"
)

// emitCtx is pass 3's contextual parameter (spec §4.10): tail asks the
// handler to also emit RET; stmt tells CONST to skip itself since nothing
// reads the result.
type emitCtx struct {
	tail bool
	stmt bool
}

var (
	ctxTail   = emitCtx{tail: true}
	ctxValue  = emitCtx{}
	ctxEffect = emitCtx{stmt: true}
)

// value strips tail/stmt, the context a sub-expression whose result feeds
// another instruction (an IF test, a CALL argument, a LET init) compiles
// under regardless of the outer context.
func (c emitCtx) value() emitCtx { return ctxValue }

// frame is one LET/LAMBDA/RECEIVE binder's slot list; frameEnv is the
// chain of frames enclosing the node currently being compiled, innermost
// first — the runtime-env pass 3's LREF/LSET resolution walks (spec
// §4.10: "the initial runtime-env is a list of LVar-lists").
type frameEnv [][]*ir.LVar

func (env frameEnv) push(lvars []*ir.LVar) frameEnv {
	return append(frameEnv{lvars}, env...)
}

func (env frameEnv) resolve(v *ir.LVar) (depth, offset int, ok bool) {
	for d, fr := range env {
		for o, lv := range fr {
			if lv == v {
				return d, o, true
			}
		}
	}
	return 0, 0, false
}

// embedFrame records an in-progress embedding of a dissolved LAMBDA's
// body: the label its LOCAL-ENV-JUMP reentries target and the param
// slots a CallJump updates before jumping. Pushed while compiling the
// body of a CallEmbed site, popped on return, keyed by the LAMBDA node
// itself (shared across every call site per pass2.go's embedClosure).
type embedFrame struct {
	label *bytecode.Label
	lvars []*ir.LVar
}

// Pass3 drives code generation. One Pass3 compiles one top-level form;
// it is not safe to reuse concurrently.
type Pass3 struct {
	Tab *sexp.Table

	active map[*ir.Node]*embedFrame
}

// NewPass3 constructs a code generator that interns GREF/GSET/DEFINE
// identifiers against tab.
func NewPass3(tab *sexp.Table) *Pass3 {
	return &Pass3{Tab: tab, active: map[*ir.Node]*embedFrame{}}
}

// CompileLambda emits one CompiledCode for a procedure body: reqArgs
// required parameters, optArg rest-parameter flag, name/hasName for
// disassembly, parent for the enclosing code object's literal-pool
// sharing, and outer as the runtime-env this lambda's free references
// resolve against (nil at toplevel).
func (p3 *Pass3) CompileLambda(body *ir.Node, reqArgs, optArg int, name sexp.Symbol, hasName bool, parent *bytecode.CompiledCode, paramLVars []*ir.LVar, outer frameEnv) (*bytecode.CompiledCode, error) {
	b := bytecode.NewBuilder(reqArgs, optArg, name, hasName, parent, false)
	renv := outer.push(paramLVars)
	p3.compile(b, body, ctxTail, renv)
	return b.Finish()
}

// compile dispatches on n.Tag, emitting into b under context c with
// runtime-env renv.
func (p3 *Pass3) compile(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if n == nil {
		return
	}
	switch n.Tag {
	case ir.TagConst:
		p3.compileConst(b, n, c)
	case ir.TagIt:
		// IT only appears as the `then` of an IF whose test value is what
		// should be used; compileIf never recurses into it directly. If it
		// somehow reaches here (malformed IR), treat it as the undefined
		// value rather than crash a whole compilation over a corner case
		// nothing in this core actually produces.
		p3.emitConstValue(b, sexp.Undefined, n.Src, c)
	case ir.TagLref:
		p3.compileLref(b, n, c, renv)
	case ir.TagGref:
		p3.compileGref(b, n, c, renv)
	case ir.TagLset:
		p3.compile(b, n.Expr, c.value(), renv)
		depth, offset, ok := renv.resolve(n.LVarRef)
		if !ok {
			b.Emit(bytecode.OpNop, n.Src) // unresolved LVar: nothing pass 3 can do but no-op past it
		} else {
			b.Emit(bytecode.OpLset, n.Src, int64(depth), int64(offset))
		}
		p3.emitConstValue(b, sexp.Undefined, n.Src, c)
		p3.tailReturn(b, c, n.Src)
	case ir.TagGset:
		p3.compile(b, n.Expr, c.value(), renv)
		idx := b.AddLiteral(p3.identDatum(n.Sym))
		b.Emit(bytecode.OpGset, n.Src, int64(idx))
		p3.emitConstValue(b, sexp.Undefined, n.Src, c)
		p3.tailReturn(b, c, n.Src)
	case ir.TagDefine:
		p3.compile(b, n.Expr, c.value(), renv)
		idx := b.AddLiteral(p3.identDatum(n.Sym))
		b.Emit(bytecode.OpDefine, n.Src, int64(idx))
		p3.emitConstValue(b, sexp.Undefined, n.Src, c)
		p3.tailReturn(b, c, n.Src)
	case ir.TagIf:
		p3.compileIf(b, n, c, renv)
	case ir.TagSeq:
		p3.compileSeq(b, n, c, renv)
	case ir.TagLet:
		p3.compileLet(b, n, c, renv)
	case ir.TagReceive:
		p3.compileReceive(b, n, c, renv)
	case ir.TagLambda:
		p3.compileClosure(b, n, c, renv)
	case ir.TagLabel:
		p3.compileLabel(b, n, c, renv)
	case ir.TagCall:
		p3.compileCall(b, n, c, renv)
	case ir.TagAsm:
		p3.compileAsm(b, n, c, renv)
	case ir.TagPromise:
		p3.compile(b, n.Expr, ctxValue, renv)
		b.Emit(bytecode.OpPromise, n.Src)
		p3.tailReturn(b, c, n.Src)
	case ir.TagCons, ir.TagAppend, ir.TagMemv, ir.TagEq, ir.TagEqv:
		p3.compileBinPrim(b, n, c, renv)
	case ir.TagList, ir.TagListStar, ir.TagVector:
		p3.compileVariadicPrim(b, n, c, renv)
	case ir.TagListToVector:
		p3.compile(b, n.Expr, ctxValue, renv)
		b.Emit(bytecode.OpListToVector, n.Src)
		p3.tailReturn(b, c, n.Src)
	default:
		p3.emitConstValue(b, sexp.Undefined, n.Src, c)
		p3.tailReturn(b, c, n.Src)
	}
}

// tailReturn emits RET when c is a tail context; every handler that
// leaves its result as the current value calls this once it has done so,
// rather than each handler special-casing RET itself.
func (p3 *Pass3) tailReturn(b *bytecode.Builder, c emitCtx, src *cerror.SourceForm) {
	if c.tail {
		b.Emit(bytecode.OpRet, src)
	}
}

func (p3 *Pass3) identDatum(sym sexp.Symbol) sexp.Datum { return sym }

func (p3 *Pass3) compileConst(b *bytecode.Builder, n *ir.Node, c emitCtx) {
	if c.stmt {
		// spec §4.10: "CONST in stmt context emits nothing."
		return
	}
	p3.emitConstValue(b, n.Value, n.Src, c)
	p3.tailReturn(b, c, n.Src)
}

// emitConstValue emits the specialized CONST form for v, or falls back to
// the generic literal-pool CONST. It does not emit RET; callers that want
// tail-return handle it themselves (some, like LSET/DEFINE, emit the
// constant and then still need a trailing RET regardless of c.tail having
// already been consulted by the caller for other reasons).
func (p3 *Pass3) emitConstValue(b *bytecode.Builder, v sexp.Datum, src *cerror.SourceForm, c emitCtx) {
	if c.stmt {
		return
	}
	switch {
	case sexp.IsNil(v):
		b.Emit(bytecode.OpConstNil, src)
	case sexp.IsUndefined(v):
		b.Emit(bytecode.OpConstUndef, src)
	default:
		if bv, ok := v.(bool); ok {
			if bv {
				b.Emit(bytecode.OpConstTrue, src)
			} else {
				b.Emit(bytecode.OpConstFalse, src)
			}
			return
		}
		idx := b.AddLiteral(v)
		b.Emit(bytecode.OpConst, src, int64(idx))
	}
}

func (p3 *Pass3) compileLref(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if c.stmt {
		return
	}
	depth, offset, ok := renv.resolve(n.LVarRef)
	if !ok {
		// A reference pass 3 cannot place (e.g. it escaped pass 2's
		// bookkeeping): fall back to the undefined value rather than emit a
		// malformed LREF. No error is reported; CONST-UNDEF simply takes the
		// LREF's place in the output.
		b.Emit(bytecode.OpConstUndef, n.Src)
		p3.tailReturn(b, c, n.Src)
		return
	}
	b.Emit(bytecode.OpLref, n.Src, int64(depth), int64(offset))
	p3.tailReturn(b, c, n.Src)
}

func (p3 *Pass3) compileGref(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if c.stmt {
		return
	}
	idx := b.AddLiteral(p3.identDatum(n.Sym))
	b.Emit(bytecode.OpGref, n.Src, int64(idx))
	p3.tailReturn(b, c, n.Src)
}

// compileIf lowers IF by test shape (spec §4.10): a fused numeric-compare
// ASM test branches directly via BNUMNEI; anything else computes the test
// value first and branches on it with BF. `then` or `else` being the IT
// marker means that branch's value is exactly the (already truthy or
// already falsy, per which side IT is on) test value already computed —
// no second emission, which is what lets `or`/single-clause `cond` avoid
// recomputing or capturing the test.
func (p3 *Pass3) compileIf(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if imm, ok := p3.fusedNumneiTest(n.Test); ok {
		p3.compile(b, n.Test.Args[0], ctxValue, renv)
		elseLabel := b.NewLabel()
		b.EmitBranch(bytecode.OpBnumnei, elseLabel, n.Src, imm)
		p3.compileBranch(b, n.Then, n.Test, c, renv, true)
		if !c.tail {
			mergeLabel := b.NewLabel()
			b.EmitBranch(bytecode.OpJump, mergeLabel, n.Src)
			b.SetLabel(elseLabel)
			p3.compileBranch(b, n.Else, n.Test, c, renv, false)
			b.SetLabel(mergeLabel)
		} else {
			b.SetLabel(elseLabel)
			p3.compileBranch(b, n.Else, n.Test, c, renv, false)
		}
		return
	}

	p3.compile(b, n.Test, ctxValue, renv)
	elseLabel := b.NewLabel()
	b.EmitBranch(bytecode.OpBf, elseLabel, n.Src)
	p3.compileBranch(b, n.Then, n.Test, c, renv, true)
	if !c.tail {
		mergeLabel := b.NewLabel()
		b.EmitBranch(bytecode.OpJump, mergeLabel, n.Src)
		b.SetLabel(elseLabel)
		p3.compileBranch(b, n.Else, n.Test, c, renv, false)
		b.SetLabel(mergeLabel)
	} else {
		b.SetLabel(elseLabel)
		p3.compileBranch(b, n.Else, n.Test, c, renv, false)
	}
}

// compileBranch compiles one arm of an IF, substituting IT with "the
// value already sitting from evaluating test" — i.e. compiling nothing
// further, since BF/BT do not disturb the current value on this VM.
func (p3 *Pass3) compileBranch(b *bytecode.Builder, arm, test *ir.Node, c emitCtx, renv frameEnv, truthy bool) {
	if arm.IsIt() {
		p3.tailReturn(b, c, test.Src)
		return
	}
	p3.compile(b, arm, c, renv)
}

// fusedNumneiTest recognizes `(ASM NUMEQ lhs imm)` where imm is a CONST
// small integer, pass 2's one surviving fusable test shape given this
// core's opcode set (spec §4.10's branch-lowering table is representative
// rather than exhaustive — BNNULL/BNEQ/BNEQC have no opcodes here, see
// DESIGN.md).
func (p3 *Pass3) fusedNumneiTest(test *ir.Node) (int64, bool) {
	if test.Tag != ir.TagAsm || test.InsnV.Opcode != int(bytecode.OpNumeq) {
		return 0, false
	}
	if len(test.Args) != 2 {
		return 0, false
	}
	imm := test.Args[1]
	if !imm.IsConst() {
		return 0, false
	}
	n, ok := asInt64(imm.Value)
	if !ok || !bytecode.FitsSignedOperand(n) {
		return 0, false
	}
	return n, true
}

func asInt64(v sexp.Datum) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

func (p3 *Pass3) compileSeq(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	for i, item := range n.Items {
		last := i == len(n.Items)-1
		if last {
			p3.compile(b, item, c, renv)
		} else {
			p3.compile(b, item, ctxEffect, renv)
		}
	}
}

// compileLet lowers LET (spec §4.10): LOCAL-ENV allocates the frame with
// undefined-valued slots, each binding's init is then compiled and LSET
// into its slot, and finally the body runs under the extended
// runtime-env with a trailing POP-LOCAL-ENV unless the whole LET is
// itself in tail position (the RET at the end of body unwinds the frame
// implicitly). `let` inits see the outer runtime-env; `letrec` inits see
// the extended one, so mutually-recursive bindings resolve (spec §4.4).
// Per-slot LSET (rather than pushing every init before one LOCAL-ENV)
// keeps the two kinds' only difference to which env the inits compile
// under.
func (p3 *Pass3) compileLet(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	inner := renv.push(n.LVars)
	initEnv := renv
	if n.Kind == ir.LetRec {
		initEnv = inner
	}
	b.Emit(bytecode.OpLocalEnv, n.Src, int64(len(n.LVars)))
	for i, lv := range n.LVars {
		_, offset, _ := inner.resolve(lv)
		p3.compile(b, n.Inits[i], ctxValue, initEnv)
		b.Emit(bytecode.OpLset, n.Inits[i].Src, 0, int64(offset))
	}
	p3.compile(b, n.Body, c, inner)
	if !c.tail {
		b.Emit(bytecode.OpPopLocalEnv, n.Src)
	}
}

// compileReceive lowers RECEIVE the same way as LET's frame mechanics.
// Multiple-value producers have no dedicated IR representation in this
// core (no primitive models `values`), so only the single-formal case —
// by far the common one — binds the producer's actual result; additional
// formals are left at their LOCAL-ENV default. Noted in DESIGN.md as a
// simplification, not a spec requirement this core drops.
func (p3 *Pass3) compileReceive(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	inner := renv.push(n.LVars)
	b.Emit(bytecode.OpLocalEnv, n.Src, int64(len(n.LVars)))
	p3.compile(b, n.Producer, ctxValue, renv)
	if len(n.LVars) > 0 {
		b.Emit(bytecode.OpLset, n.Producer.Src, 0, 0)
	} else {
		b.Emit(bytecode.OpPop, n.Producer.Src)
	}
	p3.compile(b, n.Body, c, inner)
	if !c.tail {
		b.Emit(bytecode.OpPopLocalEnv, n.Src)
	}
}

// compileClosure emits a LAMBDA as a closure value, whatever its
// LambdaFlagV (a dissolved LAMBDA still bound by its LET reaches here
// too): a nested CompiledCode, stored as a literal,
// and a CLOSURE instruction to build the runtime closure value over the
// current runtime-env. This core does not flatten captures to exactly
// FreeLVars's set (see DESIGN.md); ncaptures is carried for disassembly
// only, and the nested code's runtime-env is simply renv extended with
// the lambda's own params, preserving full lexical reach.
func (p3 *Pass3) compileClosure(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if c.stmt {
		return
	}
	// Sym doubles as "no name" (zero value) and "named symbol 0"; pass 1
	// only ever sets it from a real name hint, so treating it as hasName
	// is right in practice even though the two cases are not formally
	// distinguishable from the Node alone (cosmetic, disassembly only).
	nested := bytecode.NewBuilder(n.ReqArgs, n.OptArg, n.Sym, n.Sym != 0, nil, false)
	innerRenv := renv.push(n.LVars)
	p3.compile(nested, n.Body, ctxTail, innerRenv)
	code, err := nested.Finish()
	if err != nil {
		// An unresolved label inside a nested lambda is an internal-error
		// condition pass 3 cannot recover from locally; surface it as the
		// undefined value rather than abort the whole outer compile, since
		// Pass3 methods return no error today (spec's own CompileP3 wrapper
		// is what reports failures, see schemec.go).
		b.Emit(bytecode.OpConstUndef, n.Src)
		p3.tailReturn(b, c, n.Src)
		return
	}
	idx := b.AddLiteral(code)
	ncaptures := len(ir.FreeLVars(n))
	b.Emit(bytecode.OpClosure, n.Src, int64(idx), int64(ncaptures))
	p3.tailReturn(b, c, n.Src)
}

// compileLabel is the shared-continuation form pass 2's IF restructuring
// builds (not the closure-embedding path, which keys off the LAMBDA node
// directly — see compileCall). The first site to reach a given LABEL
// compiles its body in place and remembers the bytecode.Label; every
// later site just jumps there, since both reached it in the same overall
// context by construction of pass2.go's walkIf.
func (p3 *Pass3) compileLabel(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if fr, ok := p3.active[n]; ok {
		b.EmitBranch(bytecode.OpJump, fr.label, n.Src)
		return
	}
	lbl := b.NewLabel()
	b.SetLabel(lbl)
	p3.active[n] = &embedFrame{label: lbl}
	p3.compile(b, n.Body, c, renv)
}

func (p3 *Pass3) compileBinPrim(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if c.stmt {
		p3.compile(b, n.Arg0, ctxEffect, renv)
		p3.compile(b, n.Arg1, ctxEffect, renv)
		return
	}
	p3.compile(b, n.Arg0, ctxValue, renv)
	b.Emit(bytecode.OpPush, n.Src)
	p3.compile(b, n.Arg1, ctxValue, renv)
	op := map[ir.Tag]bytecode.Opcode{
		ir.TagCons:  bytecode.OpCons,
		ir.TagAppend: bytecode.OpAppend,
		ir.TagMemv:  bytecode.OpMemv,
		ir.TagEq:    bytecode.OpEq,
		ir.TagEqv:   bytecode.OpEqv,
	}[n.Tag]
	b.Emit(op, n.Src)
	p3.tailReturn(b, c, n.Src)
}

func (p3 *Pass3) compileVariadicPrim(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if c.stmt {
		for _, item := range n.Items {
			p3.compile(b, item, ctxEffect, renv)
		}
		return
	}
	for _, item := range n.Items {
		p3.compile(b, item, ctxValue, renv)
		b.Emit(bytecode.OpPush, item.Src)
	}
	op := map[ir.Tag]bytecode.Opcode{
		ir.TagList:     bytecode.OpList,
		ir.TagListStar: bytecode.OpListStar,
		ir.TagVector:   bytecode.OpVector,
	}[n.Tag]
	b.Emit(op, n.Src, int64(len(n.Items)))
	p3.tailReturn(b, c, n.Src)
}

// compileAsm emits an inlined-primitive ASM node (spec §4.5/§4.11): every
// arg but the last pushed, the last left as the current value, then the
// fixed opcode with whatever operands pass 1/pass 2 already resolved into
// InsnV.
func (p3 *Pass3) compileAsm(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if c.stmt {
		for _, a := range n.Args {
			p3.compile(b, a, ctxEffect, renv)
		}
		return
	}
	for i, a := range n.Args {
		if i == len(n.Args)-1 {
			p3.compile(b, a, ctxValue, renv)
			continue
		}
		p3.compile(b, a, ctxValue, renv)
		b.Emit(bytecode.OpPush, a.Src)
	}
	ops := n.InsnV.Operands[:n.InsnV.NOperand]
	int64ops := make([]int64, len(ops))
	copy(int64ops, ops)
	b.Emit(bytecode.Opcode(n.InsnV.Opcode), n.Src, int64ops...)
	p3.tailReturn(b, c, n.Src)
}

// compileCall lowers CALL by the path pass 2 decided (spec §4.10):
// local (statically known, non-escaping procedure value — still a value,
// just tagged so the VM can skip the generic dispatch), embed/jump (the
// callee was dissolved into this call site, no closure value exists at
// all), or the generic path (operator is any other expression, with a
// GREF operator getting the GREF-CALL/GREF-TAIL-CALL fusion).
func (p3 *Pass3) compileCall(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	if n.CallFlagV == ir.CallEmbed || n.CallFlagV == ir.CallJump {
		p3.compileEmbedCall(b, n, c, renv)
		return
	}
	argc := len(n.Args)
	for _, a := range n.Args {
		p3.compile(b, a, ctxValue, renv)
		b.Emit(bytecode.OpPush, a.Src)
	}
	if n.Proc.Tag == ir.TagGref {
		idx := b.AddLiteral(p3.identDatum(n.Proc.Sym))
		op := bytecode.OpGrefCall
		if c.tail {
			op = bytecode.OpGrefTailCall
		}
		b.Emit(op, n.Src, int64(idx), int64(argc))
		return
	}
	p3.compile(b, n.Proc, ctxValue, renv)
	op := bytecode.OpCall
	if n.CallFlagV == ir.CallLocal {
		op = bytecode.OpLocalEnvCall
	}
	if c.tail {
		if n.CallFlagV == ir.CallLocal {
			op = bytecode.OpLocalEnvTailCall
		} else {
			op = bytecode.OpTailCall
		}
	}
	b.Emit(op, n.Src, int64(argc))
}

// compileEmbedCall handles CallEmbed (a fresh reentry: PRE-CALL, push
// args, LOCAL-ENV, inline the body once more, RET) and CallJump (a true
// tail self-loop: update the existing frame's slots in place and
// LOCAL-ENV-JUMP back into the body already being compiled, no new frame
// and no re-emitted code).
func (p3 *Pass3) compileEmbedCall(b *bytecode.Builder, n *ir.Node, c emitCtx, renv frameEnv) {
	lambda := n.Proc
	if n.CallFlagV == ir.CallJump {
		fr, ok := p3.active[lambda]
		if !ok {
			// A CallJump must be lexically inside the body it loops back to
			// (pass 2 only produces CallJump for a tail self-call); if that
			// invariant is somehow violated, fall back to a fresh embed
			// rather than reference a label that was never opened.
			p3.compileFreshEmbed(b, n, lambda, c, renv)
			return
		}
		afterLabel := b.NewLabel()
		b.EmitBranch(bytecode.OpPreCall, afterLabel, n.Src)
		// Evaluate every new argument before assigning any of them: a
		// parallel update, the same as a fresh call's args are evaluated
		// against the old bindings (spec §8: named-let loop variables must
		// not see each other's new values mid-update). Each value is PUSHed
		// in order and consumed in reverse off that same accumulator, so an
		// argument referencing a sibling's OLD slot value still gets it.
		for _, a := range n.Args {
			p3.compile(b, a, ctxValue, renv)
			b.Emit(bytecode.OpPush, a.Src)
		}
		for i := len(n.Args) - 1; i >= 0; i-- {
			depth, offset, ok := renv.resolve(fr.lvars[i])
			if !ok {
				// The loop body has nested a LET/RECEIVE frame around this
				// tail call; fr.lvars isn't reachable through renv, which
				// should not happen for a genuine self tail-call. Land the
				// value nowhere rather than LSET a wrong slot.
				b.Emit(bytecode.OpPop, n.Args[i].Src)
				continue
			}
			b.Emit(bytecode.OpLset, n.Args[i].Src, int64(depth), int64(offset))
		}
		b.EmitBranch(bytecode.OpLocalEnvJump, fr.label, n.Src)
		b.SetLabel(afterLabel)
		return
	}
	p3.compileFreshEmbed(b, n, lambda, c, renv)
}

func (p3 *Pass3) compileFreshEmbed(b *bytecode.Builder, n, lambda *ir.Node, c emitCtx, renv frameEnv) {
	afterLabel := b.NewLabel()
	if !c.tail {
		b.EmitBranch(bytecode.OpPreCall, afterLabel, n.Src)
	}
	for _, a := range n.Args {
		p3.compile(b, a, ctxValue, renv)
		b.Emit(bytecode.OpPush, a.Src)
	}
	b.Emit(bytecode.OpLocalEnv, n.Src, int64(len(lambda.LVars)))
	bodyLabel := b.NewLabel()
	b.SetLabel(bodyLabel)
	p3.active[lambda] = &embedFrame{label: bodyLabel, lvars: lambda.LVars}
	bodyRenv := renv.push(lambda.LVars)
	p3.compile(b, lambda.Body, ctxTail, bodyRenv)
	delete(p3.active, lambda)
	if !c.tail {
		b.SetLabel(afterLabel)
	}
}

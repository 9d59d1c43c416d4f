package compile

import (
	"github.com/chazu/schemec/cerror"
	"github.com/chazu/schemec/config"
	"github.com/chazu/schemec/ir"
	"github.com/chazu/schemec/sexp"
)

// Pass2 rewrites the IR pass 1 produced: LREF folding, IF restructuring,
// LET dead-binding elimination, and closure classification/embedding
// (spec §4.9).
type Pass2 struct {
	Flags config.Flags
}

func NewPass2(flags config.Flags) *Pass2 {
	return &Pass2{Flags: flags}
}

// localEnv tracks, while walking, which LVars are known to be bound to a
// LAMBDA in the current lexical scope (so a CALL through an LREF to one
// can be classified instead of treated as a generic call), and the chain
// of enclosing LAMBDA nodes (so a CALL back to one of them is recognized
// as self-recursion).
type localEnv struct {
	locals    map[*ir.LVar]*ir.Node
	enclosing []*ir.Node
	parent    *localEnv
}

func (e *localEnv) push() *localEnv {
	return &localEnv{locals: make(map[*ir.LVar]*ir.Node), enclosing: e.enclosingChain(), parent: e}
}

func (e *localEnv) enclosingChain() []*ir.Node {
	if e == nil {
		return nil
	}
	return e.enclosing
}

func (e *localEnv) withEnclosing(lambda *ir.Node) *localEnv {
	return &localEnv{locals: make(map[*ir.LVar]*ir.Node), enclosing: append(append([]*ir.Node{}, e.enclosingChain()...), lambda), parent: e}
}

func (e *localEnv) find(v *ir.LVar) (*ir.Node, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if lam, ok := cur.locals[v]; ok {
			return lam, true
		}
	}
	return nil, false
}

func (e *localEnv) isEnclosing(lambda *ir.Node) bool {
	for _, l := range e.enclosingChain() {
		if l == lambda {
			return true
		}
	}
	return false
}

// Optimize runs pass 2 over the whole program tree, top-level.
func (p2 *Pass2) Optimize(n *ir.Node) *ir.Node {
	return p2.walk(n, &localEnv{locals: map[*ir.LVar]*ir.Node{}}, true)
}

func (p2 *Pass2) walk(n *ir.Node, env *localEnv, tail bool) *ir.Node {
	if n == nil {
		return nil
	}
	switch n.Tag {
	case ir.TagConst, ir.TagGref, ir.TagIt:
		return n
	case ir.TagLref:
		return p2.foldLref(n)
	case ir.TagLset:
		n.Expr = p2.walk(n.Expr, env, false)
		return n
	case ir.TagGset:
		n.Expr = p2.walk(n.Expr, env, false)
		return n
	case ir.TagDefine:
		n.Expr = p2.walk(n.Expr, env, false)
		return n
	case ir.TagIf:
		return p2.walkIf(n, env, tail)
	case ir.TagSeq:
		for i, item := range n.Items {
			n.Items[i] = p2.walk(item, env, tail && i == len(n.Items)-1)
		}
		return n
	case ir.TagLet:
		return p2.walkLet(n, env, tail)
	case ir.TagReceive:
		n.Producer = p2.walk(n.Producer, env, false)
		n.Body = p2.walk(n.Body, env.push(), tail)
		return n
	case ir.TagLambda:
		n.Body = p2.walk(n.Body, env.withEnclosing(n), true)
		return n
	case ir.TagLabel:
		n.Body = p2.walk(n.Body, env, tail)
		return n
	case ir.TagCall:
		return p2.walkCall(n, env, tail)
	case ir.TagAsm:
		for i, a := range n.Args {
			n.Args[i] = p2.walk(a, env, false)
		}
		return n
	case ir.TagPromise:
		n.Expr = p2.walk(n.Expr, env, false)
		return n
	case ir.TagCons, ir.TagAppend, ir.TagMemv, ir.TagEq, ir.TagEqv:
		n.Arg0 = p2.walk(n.Arg0, env, false)
		n.Arg1 = p2.walk(n.Arg1, env, false)
		return n
	case ir.TagList, ir.TagListStar, ir.TagVector:
		for i, item := range n.Items {
			n.Items[i] = p2.walk(item, env, false)
		}
		return n
	case ir.TagListToVector:
		n.Expr = p2.walk(n.Expr, env, false)
		return n
	default:
		return n
	}
}

// foldLref implements spec §4.9's LREF-folding rewrite: an LREF to an
// immutable LVar whose initializer is a CONST folds to that constant
// outright; an LREF to an immutable LVar whose initializer is itself an
// LREF to another immutable LVar retargets past the intermediate, so
// chains collapse as each link is established (inits are always walked
// before the bindings that reference them are used).
func (p2 *Pass2) foldLref(n *ir.Node) *ir.Node {
	v := n.LVarRef
	if !v.IsImmutable() || v.Init == nil {
		return n
	}
	if v.Init.IsConst() {
		v.RefDec()
		return ir.NewConst(v.Init.Value, n.Src)
	}
	if v.Init.Tag == ir.TagLref && v.Init.LVarRef.IsImmutable() {
		ir.Retarget(n, v.Init.LVarRef)
		return n
	}
	return n
}

// walkIf applies the single IF-restructuring shape spec §4.9 grounds this
// core on: IF(IF(t, IT, e0), then, else), the tree `or` and single-clause
// `cond` build, merges into IF(t, then, IF(e0, then, else)) so the shared
// `then` branch is only compiled once by sharing the subtree (not
// duplicating it — pass 3 emits a single body and both predecessors
// branch to the same place).
func (p2 *Pass2) walkIf(n *ir.Node, env *localEnv, tail bool) *ir.Node {
	test := p2.walk(n.Test, env, false)
	if test.IsConst() {
		if sexp.IsUndefined(test.Value) || isFalse(test.Value) {
			return p2.walk(n.Else, env, tail)
		}
		return p2.walk(n.Then, env, tail)
	}
	then := p2.walk(n.Then, env, tail)
	els := p2.walk(n.Else, env, tail)
	if test.Tag == ir.TagIf && test.Then.IsIt() {
		shared := &ir.Node{Tag: ir.TagLabel, Body: then}
		newElse := &ir.Node{Tag: ir.TagIf, Test: test.Else, Then: shared, Else: els, Src: n.Src}
		return &ir.Node{Tag: ir.TagIf, Test: test.Test, Then: shared, Else: newElse, Src: n.Src}
	}
	n.Test, n.Then, n.Else = test, then, els
	return n
}

// walkLet walks a LET/LETREC's bindings and body, then performs closure
// classification (§4.9) over any binding whose initializer is a LAMBDA,
// and finally dead-binding elimination for bindings (of either kind) that
// ended up unreferenced.
func (p2 *Pass2) walkLet(n *ir.Node, env *localEnv, tail bool) *ir.Node {
	inner := env.push()
	for i, lv := range n.LVars {
		if n.Inits[i] != nil && n.Inits[i].Tag == ir.TagLambda {
			inner.locals[lv] = n.Inits[i]
		}
	}
	for i := range n.Inits {
		n.Inits[i] = p2.walk(n.Inits[i], inner, false)
		n.LVars[i].Init = n.Inits[i]
	}
	n.Body = p2.walk(n.Body, inner, tail)

	for i, lv := range n.LVars {
		if n.Inits[i] != nil && n.Inits[i].Tag == ir.TagLambda {
			p2.classifyClosure(lv, n.Inits[i])
			n.Inits[i].Calls = nil
		}
	}

	return p2.dropDeadBindings(n)
}

// classifyClosure decides, for one local LAMBDA binding, whether every
// call site can be fully inlined (small, non-recursive body: spec §4.9
// inline path) or must be embedded (spec §4.9 embed path): pass 3 then
// emits a separate copy of the body at every non-tail call site, and a
// tail self-call jumps back into the copy it sits in; there is no single
// shared LABEL for all sites.
// A LAMBDA referenced as a plain value anywhere (ref-count exceeds the
// number of call sites) is left untouched: it escapes, so it needs a real
// closure object.
func (p2 *Pass2) classifyClosure(lv *ir.LVar, lambda *ir.Node) {
	if p2.Flags.NoInlineLocals {
		return
	}
	if lv.RefCount() != len(lambda.Calls) {
		return
	}
	selfRecursive := false
	for _, cs := range lambda.Calls {
		if cs.Call.CallFlagV == ir.CallRec || cs.Call.CallFlagV == ir.CallTailRec {
			selfRecursive = true
		}
	}
	if !selfRecursive && p2.isSmall(lambda) {
		p2.inlineAllCalls(lv, lambda)
		return
	}
	p2.embedClosure(lv, lambda)
}

// isSmall applies the SMALL_LAMBDA_SIZE threshold, honoring a host's
// configured override (spec §4.9) instead of always using ir.SmallLambdaSize.
func (p2 *Pass2) isSmall(lambda *ir.Node) bool {
	limit := p2.Flags.SmallLambdaSize
	if limit <= 0 {
		limit = ir.SmallLambdaSize
	}
	return ir.CountSizeUpTo(lambda, limit) < limit
}

// inlineAllCalls beta-expands lambda's body at every recorded call site,
// overwriting each CALL node in place (the CallSite holds the live
// pointer shared with the tree, so `*call = *replacement` splices the
// rewrite in without needing a parent backlink).
func (p2 *Pass2) inlineAllCalls(lv *ir.LVar, lambda *ir.Node) {
	for _, cs := range lambda.Calls {
		call := cs.Call
		args := call.Args
		ctx := ir.NewCopyContext()
		clone := ctx.Copy(lambda)
		replacement := spliceArgs(clone, args, call.Src)
		lv.RefDec()
		*call = *replacement
	}
	lambda.LambdaFlagV = ir.LambdaInlined
}

func spliceArgs(clone *ir.Node, args []*ir.Node, srcForm *cerror.SourceForm) *ir.Node {
	req, opt := clone.ReqArgs, clone.OptArg
	inits := make([]*ir.Node, len(clone.LVars))
	for i := 0; i < req && i < len(args); i++ {
		inits[i] = args[i]
	}
	if opt == 1 {
		var rest []*ir.Node
		if len(args) > req {
			rest = args[req:]
		}
		if len(rest) == 0 {
			inits[req] = ir.ConstNil
		} else {
			inits[req] = &ir.Node{Tag: ir.TagList, Items: rest}
		}
	}
	for i, v := range clone.LVars {
		v.Init = inits[i]
	}
	return &ir.Node{Tag: ir.TagLet, Kind: ir.LetPlain, LVars: clone.LVars, Inits: inits, Body: clone.Body, Src: srcForm}
}

// embedClosure marks lambda dissolved and retargets every call site's Proc
// at the lambda node itself (its identity is what pass 3 keys its
// once-per-closure frame/label bookkeeping on): tail self-calls become
// jumps back into the same frame (CallJump), every other call becomes a
// fresh-frame embedding of the body at that call site (CallEmbed). Pass 3 still needs
// lambda's ReqArgs/OptArg/LVars/Body to build that frame, so unlike the
// full-inline path this never copies or discards the LAMBDA node.
func (p2 *Pass2) embedClosure(lv *ir.LVar, lambda *ir.Node) {
	for _, cs := range lambda.Calls {
		call := cs.Call
		call.Proc = lambda
		if call.CallFlagV == ir.CallTailRec {
			call.CallFlagV = ir.CallJump
		} else {
			call.CallFlagV = ir.CallEmbed
		}
	}
	lambda.LambdaFlagV = ir.LambdaDissolved
}

// dropDeadBindings removes bindings of either LET kind with no remaining
// references, hoisting any non-pure initializer into a SEQ ahead of the
// body instead of discarding its side effect.
func (p2 *Pass2) dropDeadBindings(n *ir.Node) *ir.Node {
	var hoisted []*ir.Node
	var keptVars []*ir.LVar
	var keptInits []*ir.Node
	for i, lv := range n.LVars {
		if lv.IsUnused() {
			if !isPureInit(n.Inits[i]) {
				hoisted = append(hoisted, n.Inits[i])
			}
			continue
		}
		keptVars = append(keptVars, lv)
		keptInits = append(keptInits, n.Inits[i])
	}
	var result *ir.Node
	if len(keptVars) == 0 {
		result = n.Body
	} else {
		n.LVars, n.Inits = keptVars, keptInits
		result = n
	}
	if len(hoisted) == 0 {
		return result
	}
	return ir.NewSeq(append(hoisted, result), n.Src)
}

func isPureInit(n *ir.Node) bool {
	if n == nil {
		return true
	}
	switch n.Tag {
	case ir.TagConst, ir.TagLambda, ir.TagLref, ir.TagGref, ir.TagIt:
		return true
	default:
		return false
	}
}

// walkCall walks a CALL's operator and arguments, then classifies it: a
// call through an LREF to a statically known local LAMBDA is CallLocal,
// or CallRec/CallTailRec when that LAMBDA enclosing the call is being
// walked right now (self-recursion) — plain, non-tail, or tail position
// determines which.
func (p2 *Pass2) walkCall(n *ir.Node, env *localEnv, tail bool) *ir.Node {
	n.Proc = p2.walk(n.Proc, env, false)
	for i, a := range n.Args {
		n.Args[i] = p2.walk(a, env, false)
	}
	if n.Proc.Tag == ir.TagLambda {
		// spec §4.9 CALL handling: operator is literally a LAMBDA (a
		// directly-applied literal, e.g. `((lambda (x) ...) 3)`) -> immediate
		// beta-reduction to a LET. A single call site never shares this
		// LAMBDA with anyone else, so splice its own LVars in place rather
		// than cloning them the way inlineAllCalls must for a named binding
		// with possibly many call sites.
		return spliceArgs(n.Proc, n.Args, n.Src)
	}
	if n.Proc.Tag != ir.TagLref {
		return n
	}
	lambda, ok := env.find(n.Proc.LVarRef)
	if !ok {
		return n
	}
	lambda.Calls = append(lambda.Calls, &ir.CallSite{Call: n, Env: append([]*ir.Node{}, env.enclosingChain()...)})
	if env.isEnclosing(lambda) {
		if tail {
			n.CallFlagV = ir.CallTailRec
		} else {
			n.CallFlagV = ir.CallRec
		}
	} else {
		n.CallFlagV = ir.CallLocal
	}
	return n
}

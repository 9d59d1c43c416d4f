package ir

// CopyContext carries the state needed to clone an IR subtree: the map
// from original to fresh LVar for every binder enclosed by the subtree
// being copied (spec §4.8: "LVars bound inside the subtree are rewritten
// to fresh ones... LVars bound outside are kept and reference-counted
// appropriately"), and a memo table so LABEL nodes — the only legal form
// of IR sharing — become cycles through the copy rather than being
// duplicated.
type CopyContext struct {
	LVars  map[*LVar]*LVar
	labels map[*Node]*Node
}

// NewCopyContext creates an empty copying context.
func NewCopyContext() *CopyContext {
	return &CopyContext{LVars: make(map[*LVar]*LVar), labels: make(map[*Node]*Node)}
}

// Copy produces a structural clone of n under ctx. Call Copy(root) with a
// fresh CopyContext to clone a whole subtree; reuse the same CopyContext
// across sibling calls only when they must share the same fresh LVars
// (e.g. when re-cloning a LAMBDA body for repeated inlining, each call
// site needs its own CopyContext).
func (ctx *CopyContext) Copy(n *Node) *Node {
	if n == nil {
		return nil
	}
	switch n.Tag {
	case TagLref:
		target := ctx.mappedLVar(n.LVarRef)
		return NewLref(target, n.Src)
	case TagLset:
		target := ctx.mappedLVar(n.LVarRef)
		return NewLset(target, ctx.Copy(n.Expr), n.Src)
	case TagLabel:
		if existing, ok := ctx.labels[n]; ok {
			return existing
		}
		clone := &Node{Tag: TagLabel, Src: n.Src, LabelID: n.LabelID}
		ctx.labels[n] = clone
		clone.Body = ctx.Copy(n.Body)
		return clone
	case TagLet, TagReceive, TagLambda:
		return ctx.copyBinder(n)
	default:
		clone := *n
		clone.Expr = ctx.Copy(n.Expr)
		clone.Test = ctx.Copy(n.Test)
		clone.Then = ctx.Copy(n.Then)
		clone.Else = ctx.Copy(n.Else)
		clone.Arg0 = ctx.Copy(n.Arg0)
		clone.Arg1 = ctx.Copy(n.Arg1)
		clone.Proc = ctx.Copy(n.Proc)
		clone.Body = ctx.Copy(n.Body)
		clone.Producer = ctx.Copy(n.Producer)
		clone.Items = ctx.copySlice(n.Items)
		clone.Args = ctx.copySlice(n.Args)
		clone.Inits = ctx.copySlice(n.Inits)
		return &clone
	}
}

func (ctx *CopyContext) copySlice(ns []*Node) []*Node {
	if ns == nil {
		return nil
	}
	out := make([]*Node, len(ns))
	for i, c := range ns {
		out[i] = ctx.Copy(c)
	}
	return out
}

// mappedLVar returns the fresh LVar for a reference inside the copied
// subtree, or the original if it was bound outside the subtree (in which
// case the original's count is simply bumped by the NewLref/NewLset
// callers above).
func (ctx *CopyContext) mappedLVar(v *LVar) *LVar {
	if fresh, ok := ctx.LVars[v]; ok {
		return fresh
	}
	return v
}

// copyBinder clones a LET/RECEIVE/LAMBDA node, allocating fresh LVars for
// every name it binds and registering them in ctx.LVars before copying the
// body, so inner LREF/LSET nodes pick up the fresh bindings.
func (ctx *CopyContext) copyBinder(n *Node) *Node {
	clone := &Node{
		Tag: n.Tag, Src: n.Src, Kind: n.Kind,
		ReqArgs: n.ReqArgs, OptArg: n.OptArg, Sym: n.Sym,
		LambdaFlagV: n.LambdaFlagV,
	}
	freshVars := make([]*LVar, len(n.LVars))
	for i, v := range n.LVars {
		fv := NewLVar(v.Name)
		ctx.LVars[v] = fv
		freshVars[i] = fv
	}
	clone.LVars = freshVars
	// Inits for `let` see bindings that are *not* yet registered from the
	// callee's perspective in Gauche's compiler, but since pass 2 only
	// copies already-resolved IR (never raw source), inits here are
	// IR trees whose LREFs were already resolved against the original
	// LVars; only letrec-style recursive inits reference the binder's own
	// LVars, and those are exactly the ones just registered above.
	clone.Inits = ctx.copySlice(n.Inits)
	for i, v := range n.LVars {
		if i < len(clone.Inits) {
			freshVars[i].Init = clone.Inits[i]
		} else {
			freshVars[i].Init = ctx.Copy(v.Init)
		}
	}
	clone.Body = ctx.Copy(n.Body)
	clone.Producer = ctx.Copy(n.Producer)
	return clone
}

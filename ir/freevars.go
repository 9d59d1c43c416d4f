package ir

// FreeLVars computes the set of LVars referenced inside lambda's body that
// are not bound within it — the free-variable analysis the spec's Open
// Question (§9) says is missing from the original, with closures falling
// back to conservatively capturing the entire enclosing frame until it
// exists. This is that pass. Pass 3 uses only the size of the set, as the
// CLOSURE instruction's capture count; closures still reach the whole
// enclosing runtime-env (see compileClosure in compile/pass3.go).
//
// The result is memoized on lambda.FreeLVars; InvalidateFreeVars clears
// the memo. Pass 2 never calls FreeLVars or InvalidateFreeVars, so the
// first computation happens in pass 3, after pass 2 has finished
// rewriting the subtree.
func FreeLVars(lambda *Node) []*LVar {
	if lambda == nil || lambda.Tag != TagLambda {
		return nil
	}
	if lambda.FreeLVars != nil {
		return lambda.FreeLVars
	}
	bound := make(map[*LVar]bool)
	for _, v := range lambda.LVars {
		bound[v] = true
	}
	seen := make(map[*LVar]bool)
	var free []*LVar
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Tag {
		case TagLref, TagLset:
			if !bound[n.LVarRef] && !seen[n.LVarRef] {
				seen[n.LVarRef] = true
				free = append(free, n.LVarRef)
			}
		case TagLet, TagReceive:
			for _, v := range n.LVars {
				bound[v] = true
			}
		case TagLambda:
			for _, v := range n.LVars {
				bound[v] = true
			}
		}
		for _, c := range Children(n) {
			walk(c)
		}
	}
	walk(lambda.Body)
	lambda.FreeLVars = free
	if free == nil {
		lambda.FreeLVars = []*LVar{}
	}
	return lambda.FreeLVars
}

// InvalidateFreeVars clears a memoized free-variable set so a later call
// to FreeLVars recomputes it.
func InvalidateFreeVars(lambda *Node) {
	if lambda != nil {
		lambda.FreeLVars = nil
	}
}

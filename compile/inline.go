package compile

import (
	"fmt"

	"github.com/chazu/schemec/bytecode"
	"github.com/chazu/schemec/cenv"
	"github.com/chazu/schemec/cerror"
	"github.com/chazu/schemec/host"
	"github.com/chazu/schemec/ir"
	"github.com/chazu/schemec/sexp"
)

// applyInliner dispatches one of the three inliner shapes from spec §4.5
// against a call site. It returns (node, true, nil) when the inliner
// accepted the call, or (nil, false, nil) when it declined and pass 1
// should fall back to a generic CALL.
func (p *Pass1) applyInliner(head sexp.Symbol, inliner any, pair *sexp.Pair, form sexp.Datum, env *cenv.CEnv) (*ir.Node, bool, error) {
	argForms, ok := sexp.ToSlice(pair.Cdr)
	if !ok {
		return nil, false, cerror.NewSyntaxError(src(p.Tab, form), "improper call argument list")
	}
	switch inl := inliner.(type) {
	case *host.OpcodeInliner:
		if p.Flags.NoInlineGlobals {
			return nil, false, nil
		}
		return p.applyOpcodeInliner(head, inl, argForms, form, env)
	case *host.IRInliner:
		if p.Flags.NoInlineGlobals {
			return nil, false, nil
		}
		packed, ok := inl.Packed.(*ir.Packed)
		if !ok {
			return nil, false, cerror.NewInternalError("IRInliner.Packed is not *ir.Packed")
		}
		lambdaNode, err := ir.Unpack(packed)
		if err != nil {
			return nil, false, cerror.NewCompileError(src(p.Tab, form), err)
		}
		args := make([]*ir.Node, len(argForms))
		for i, a := range argForms {
			n, err := p.Compile(a, env.SansName())
			if err != nil {
				return nil, false, err
			}
			args[i] = n
		}
		node, err := p.inlineProcedure(head, lambdaNode, args, src(p.Tab, form))
		if err != nil {
			return nil, false, err
		}
		return node, true, nil
	case host.ProcInliner:
		expanded, err := inl(form)
		if err != nil {
			return nil, false, cerror.NewCompileError(src(p.Tab, form), err)
		}
		if sexp.IsUndefined(expanded) {
			return nil, false, nil
		}
		node, err := p.Compile(expanded, env)
		return node, true, err
	default:
		return nil, false, nil
	}
}

// numericFamily maps the names spec §4.11 inlines with a left-fold, keyed
// by the fixed 2-ary opcode their OpcodeInliner descriptor carries.
var numericFamily = map[bytecode.Opcode]bool{
	bytecode.OpNumadd2: true,
	bytecode.OpNumsub2: true,
	bytecode.OpNummul2: true,
}

var comparisonFamily = map[bytecode.Opcode]bool{
	bytecode.OpNumeq: true,
	bytecode.OpNumlt: true,
	bytecode.OpNumle: true,
	bytecode.OpNumgt: true,
	bytecode.OpNumge: true,
}

func (p *Pass1) applyOpcodeInliner(head sexp.Symbol, inl *host.OpcodeInliner, argForms []sexp.Datum, form sexp.Datum, env *cenv.CEnv) (*ir.Node, bool, error) {
	n := len(argForms)
	if n < inl.MinArgs || (inl.MaxArgs >= 0 && n > inl.MaxArgs) {
		return nil, false, nil // arity mismatch: let pass 1 fall back to a generic call
	}
	args := make([]*ir.Node, n)
	for i, a := range argForms {
		node, err := p.Compile(a, env.SansName())
		if err != nil {
			return nil, false, err
		}
		args[i] = node
	}
	op := bytecode.Opcode(inl.Opcode)

	// §4.11: variadic +, -, * fold left-associatively into a chain of the
	// fixed 2-ary fused instruction; unary - negates by subtracting from 0,
	// unary + is the identity.
	if numericFamily[op] {
		switch {
		case n == 0:
			return nil, false, nil
		case n == 1:
			if op == bytecode.OpNumsub2 {
				return asmNode(int(op), ir.NewConst(int64(0), nil), args[0]), true, nil
			}
			return args[0], true, nil
		default:
			acc := args[0]
			for _, a := range args[1:] {
				acc = foldArith(op, acc, a)
			}
			return acc, true, nil
		}
	}

	// §4.11: variadic comparisons chain pairwise with AND: (< a b c) ==
	// (and (< a b) (< b c)).
	if comparisonFamily[op] {
		if n < 2 {
			return nil, false, nil
		}
		tests := make([]*ir.Node, 0, n-1)
		for i := 0; i+1 < n; i++ {
			tests = append(tests, asmNode(int(op), args[i], args[i+1]))
		}
		result := tests[len(tests)-1]
		for i := len(tests) - 2; i >= 0; i-- {
			result = &ir.Node{Tag: ir.TagIf, Test: tests[i], Then: result, Else: ir.ConstFalseNode}
		}
		return result, true, nil
	}

	return asmNode(inl.Opcode, args...), true, nil
}

// asmNode builds an ASM node for an inlined primitive call: InsnV carries
// only the opcode (spec §4.5's OpcodeInliner shape has no immediate
// operand of its own), and Args holds the compiled argument subtrees pass
// 3 will emit ahead of it.
func asmNode(opcode int, args ...*ir.Node) *ir.Node {
	return &ir.Node{Tag: ir.TagAsm, InsnV: ir.Insn{Opcode: opcode}, Args: args}
}

// asmImm builds an ASM node for a fused immediate-operand instruction
// (NUMADDI/NUMSUBI, spec §4.11): the embedded operand lives in InsnV, not
// Args, so pass 3 only ever pushes/evaluates the single non-constant side.
func asmImm(opcode bytecode.Opcode, operand *ir.Node, imm int64) *ir.Node {
	return &ir.Node{
		Tag:    ir.TagAsm,
		InsnV:  ir.Insn{Opcode: int(opcode), Operands: [2]int64{imm}, NOperand: 1},
		Args:   []*ir.Node{operand},
	}
}

// immediateOperand reports whether n is a CONST integer small enough for
// the VM's embedded-immediate instruction field.
func immediateOperand(n *ir.Node) (int64, bool) {
	if !n.IsConst() {
		return 0, false
	}
	var v int64
	switch x := n.Value.(type) {
	case int64:
		v = x
	case int:
		v = int64(x)
	default:
		return 0, false
	}
	if !bytecode.FitsSignedOperand(v) {
		return 0, false
	}
	return v, true
}

// foldArith folds one step of a variadic +/- left fold, picking the
// embedded-immediate NUMADDI/NUMSUBI opcode (spec §4.11) whenever one side
// is a constant operand that fits the VM's immediate field, and falling
// back to the generic 2-ary fused instruction otherwise. Subtraction only
// has an immediate form for its right-hand operand (NUMSUBI computes
// lhs - imm); addition is commutative so either side qualifies.
func foldArith(op bytecode.Opcode, acc, next *ir.Node) *ir.Node {
	if imm, ok := immediateOperand(next); ok {
		switch op {
		case bytecode.OpNumadd2:
			return asmImm(bytecode.OpNumaddi, acc, imm)
		case bytecode.OpNumsub2:
			return asmImm(bytecode.OpNumsubi, acc, imm)
		}
	}
	if op == bytecode.OpNumadd2 {
		if imm, ok := immediateOperand(acc); ok {
			return asmImm(bytecode.OpNumaddi, next, imm)
		}
	}
	return asmNode(int(op), acc, next)
}

// inlineProcedure beta-expands an inlinable lambda's body at the call site
// (spec §4.6): arity-check, rest-arg LIST collection, fresh LVars per call
// site (via ir.CopyContext, so sibling call sites don't share bindings),
// and LET-wrapping of the argument values.
func (p *Pass1) inlineProcedure(name sexp.Symbol, lambdaNode *ir.Node, args []*ir.Node, srcForm *cerror.SourceForm) (*ir.Node, error) {
	if lambdaNode.Tag != ir.TagLambda {
		return nil, cerror.NewInternalError("inline body is not a LAMBDA node")
	}
	req, opt := lambdaNode.ReqArgs, lambdaNode.OptArg
	if len(args) < req || (opt == 0 && len(args) > req) {
		expectedStr := fmt.Sprintf("%d", req)
		if opt != 0 {
			expectedStr = fmt.Sprintf("at least %d", req)
		}
		return nil, cerror.NewArityError(srcForm, p.Tab.Name(name), expectedStr, len(args))
	}

	ctx := ir.NewCopyContext()
	clone := ctx.Copy(lambdaNode)

	inits := make([]*ir.Node, len(clone.LVars))
	for i := 0; i < req; i++ {
		inits[i] = args[i]
	}
	if opt == 1 {
		rest := args[req:]
		restItems := &ir.Node{Tag: ir.TagList, Items: rest}
		if len(rest) == 0 {
			restItems = ir.ConstNil
		}
		inits[req] = restItems
	}
	for i, lv := range clone.LVars {
		lv.Init = inits[i]
	}
	return &ir.Node{Tag: ir.TagLet, Kind: ir.LetPlain, LVars: clone.LVars, Inits: inits, Body: clone.Body, Src: srcForm}, nil
}

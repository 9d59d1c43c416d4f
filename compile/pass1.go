// Package compile implements the three compiler passes (spec §4.4, §4.9,
// §4.10): pass 1 parses and resolves s-expressions into IR, pass 2
// rewrites IR for closure embedding/inlining and branch folding, and
// pass 3 emits a bytecode.CompiledCode. Each pass is its own file;
// inline.go holds the shared beta-expansion and numeric-inliner logic
// both pass 1 (inlinable procedures, §4.5) and pass 2 (closure
// inlining, §4.9) need.
package compile

import (
	"fmt"

	"github.com/chazu/schemec/cenv"
	"github.com/chazu/schemec/cerror"
	"github.com/chazu/schemec/config"
	"github.com/chazu/schemec/host"
	"github.com/chazu/schemec/ir"
	"github.com/chazu/schemec/logging"
	"github.com/chazu/schemec/sexp"
)

// Pass1 holds everything pass 1 needs across a compilation: the host VM
// (for the current module and compiler flags), the symbol table used to
// intern both source symbols and the fixed set of special-form keywords,
// and the compile flags.
type Pass1 struct {
	VM    host.VM
	Tab   *sexp.Table
	Flags config.Flags

	forms map[sexp.Symbol]specialForm
	kw    keywords
}

// keywords caches the interned symbols of every recognized special form,
// avoiding a re-intern (a map lookup under a lock, per sexp.Table) on
// every pair pass 1 dispatches.
type keywords struct {
	quote, quasiquote, unquote, unquoteSplicing    sexp.Symbol
	ifSym, lambda, let, letStar, letrec, namedLet  sexp.Symbol
	setBang, define, defineConstant, begin         sexp.Symbol
	and, or, when, unless, cond, caseSym, elseSym  sexp.Symbol
	arrow, delay, evalWhen, receive                sexp.Symbol
	doSym, andLetStar                              sexp.Symbol
	defineInModule, defineInline                   sexp.Symbol
	defineSyntax, defineMacro, defineModule        sexp.Symbol
	withModule, selectModule, exportSym, importSym sexp.Symbol
}

type specialForm func(p *Pass1, args []sexp.Datum, src *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error)

// NewPass1 constructs a pass-1 compiler bound to tab, the symbol table
// whose interned IDs appear in both source forms and IR GREF/DEFINE
// nodes.
func NewPass1(vm host.VM, tab *sexp.Table, flags config.Flags) *Pass1 {
	p := &Pass1{VM: vm, Tab: tab, Flags: flags}
	p.kw = keywords{
		quote: tab.Intern("quote"), quasiquote: tab.Intern("quasiquote"),
		unquote: tab.Intern("unquote"), unquoteSplicing: tab.Intern("unquote-splicing"),
		ifSym: tab.Intern("if"), lambda: tab.Intern("lambda"),
		let: tab.Intern("let"), letStar: tab.Intern("let*"), letrec: tab.Intern("letrec"),
		setBang: tab.Intern("set!"), define: tab.Intern("define"),
		defineConstant: tab.Intern("define-constant"), begin: tab.Intern("begin"),
		and: tab.Intern("and"), or: tab.Intern("or"), when: tab.Intern("when"),
		unless: tab.Intern("unless"), cond: tab.Intern("cond"), caseSym: tab.Intern("case"),
		elseSym: tab.Intern("else"), arrow: tab.Intern("=>"), delay: tab.Intern("delay"),
		evalWhen: tab.Intern("eval-when"), receive: tab.Intern("receive"),
		doSym: tab.Intern("do"), andLetStar: tab.Intern("and-let*"),
		defineInModule: tab.Intern("define-in-module"), defineInline: tab.Intern("define-inline"),
		defineSyntax: tab.Intern("define-syntax"), defineMacro: tab.Intern("define-macro"),
		defineModule: tab.Intern("define-module"), withModule: tab.Intern("with-module"),
		selectModule: tab.Intern("select-module"), exportSym: tab.Intern("export"),
		importSym: tab.Intern("import"),
	}
	p.forms = map[sexp.Symbol]specialForm{
		p.kw.quote:          (*Pass1).p1Quote,
		p.kw.quasiquote:     (*Pass1).p1Quasiquote,
		p.kw.ifSym:          (*Pass1).p1If,
		p.kw.lambda:         (*Pass1).p1Lambda,
		p.kw.let:            (*Pass1).p1Let,
		p.kw.letStar:        (*Pass1).p1LetStar,
		p.kw.letrec:         (*Pass1).p1Letrec,
		p.kw.setBang:        (*Pass1).p1Set,
		p.kw.define:         (*Pass1).p1Define,
		p.kw.defineConstant: (*Pass1).p1DefineConstant,
		p.kw.begin:          (*Pass1).p1Begin,
		p.kw.and:            (*Pass1).p1And,
		p.kw.or:             (*Pass1).p1Or,
		p.kw.when:           (*Pass1).p1When,
		p.kw.unless:         (*Pass1).p1Unless,
		p.kw.cond:           (*Pass1).p1Cond,
		p.kw.caseSym:        (*Pass1).p1Case,
		p.kw.delay:          (*Pass1).p1Delay,
		p.kw.evalWhen:       (*Pass1).p1EvalWhen,
		p.kw.receive:        (*Pass1).p1Receive,
		p.kw.doSym:          (*Pass1).p1Do,
		p.kw.andLetStar:     (*Pass1).p1AndLet,
		p.kw.defineInModule: (*Pass1).p1DefineInModule,
		p.kw.defineInline:   (*Pass1).p1DefineInline,
		p.kw.defineSyntax:   (*Pass1).p1DefineSyntax,
		p.kw.defineMacro:    (*Pass1).p1DefineMacro,
		p.kw.defineModule:   (*Pass1).p1DefineModule,
		p.kw.withModule:     (*Pass1).p1WithModule,
		p.kw.selectModule:   (*Pass1).p1SelectModule,
		p.kw.exportSym:      (*Pass1).p1Export,
		p.kw.importSym:      (*Pass1).p1Import,
	}
	return p
}

func src(tab *sexp.Table, form sexp.Datum) *cerror.SourceForm {
	return &cerror.SourceForm{Form: sexp.Write(form, tab)}
}

// Compile is pass 1's entry point (spec §4.4 dispatch rules 1-3).
func (p *Pass1) Compile(form sexp.Datum, env *cenv.CEnv) (*ir.Node, error) {
	if sym, ok := form.(sexp.Symbol); ok {
		return p.resolveVariable(sym, form, env)
	}
	pair, ok := form.(*sexp.Pair)
	if !ok {
		return ir.NewConst(form, src(p.Tab, form)), nil
	}
	return p.compilePair(pair, env)
}

// resolveVariable implements dispatch rule 2: lexical LVar -> LREF;
// const-flagged global -> CONST (subject to noinline-consts); otherwise
// GREF.
func (p *Pass1) resolveVariable(sym sexp.Symbol, form sexp.Datum, env *cenv.CEnv) (*ir.Node, error) {
	if b, ok := env.Lookup(sym, cenv.Lexical); ok {
		if lv, ok := b.(*ir.LVar); ok {
			return ir.NewLref(lv, src(p.Tab, form)), nil
		}
	}
	if mod, ok := p.currentModule(env); ok {
		if binding, ok := mod.FindBinding(sym); ok {
			if binding.IsConst() && !p.Flags.NoInlineConsts {
				return ir.NewConst(binding.Value(), src(p.Tab, form)), nil
			}
		}
	}
	return &ir.Node{Tag: ir.TagGref, Sym: sym, Src: src(p.Tab, form)}, nil
}

func (p *Pass1) currentModule(env *cenv.CEnv) (host.Module, bool) {
	if env.Module != nil {
		if m, ok := env.Module.(host.Module); ok {
			return m, true
		}
	}
	if p.VM != nil {
		if m := p.VM.CurrentModule(); m != nil {
			return m, true
		}
	}
	return nil, false
}

// compilePair implements dispatch rule 3.
func (p *Pass1) compilePair(pair *sexp.Pair, env *cenv.CEnv) (*ir.Node, error) {
	form := sexp.Datum(pair)
	head, ok := pair.Car.(sexp.Symbol)
	if !ok {
		return p.compileGenericCall(pair, env)
	}
	if sf, ok := p.forms[head]; ok {
		// A lexical binding of the same name shadows the special form (spec
		// §4.4: "a name that shadows the define keyword suppresses
		// recognition").
		if _, shadowed := env.Lookup(head, cenv.Lexical); !shadowed {
			args, ok := sexp.ToSlice(pair.Cdr)
			if !ok {
				return nil, cerror.NewSyntaxError(src(p.Tab, form), "improper special-form argument list")
			}
			return sf(p, args, src(p.Tab, form), env)
		}
	}
	if b, ok := env.Lookup(head, cenv.Lexical); ok {
		switch binding := b.(type) {
		case *ir.LVar:
			return p.compileCallWithOperator(pair, ir.NewLref(binding, src(p.Tab, form)), env)
		case host.MacroTransformer:
			expanded, err := binding.Expand(form, nil)
			if err != nil {
				return nil, cerror.NewCompileError(src(p.Tab, form), err)
			}
			return p.Compile(expanded, env)
		}
	}
	if mod, ok := p.currentModule(env); ok {
		if binding, ok := mod.FindBinding(head); ok {
			if mac, ok := binding.Macro(); ok {
				expanded, err := mac.Expand(form, nil)
				if err != nil {
					return nil, cerror.NewCompileError(src(p.Tab, form), err)
				}
				return p.Compile(expanded, env)
			}
			if inliner, ok := binding.Inliner(); ok {
				node, applied, err := p.applyInliner(head, inliner, pair, form, env)
				if err != nil {
					return nil, err
				}
				if applied {
					return node, nil
				}
			}
		}
	}
	return p.compileGenericCall(pair, env)
}

// compileGenericCall handles the fallback "otherwise pass-1 the head in
// sans-name mode and emit CALL."
func (p *Pass1) compileGenericCall(pair *sexp.Pair, env *cenv.CEnv) (*ir.Node, error) {
	proc, err := p.Compile(pair.Car, env.SansName())
	if err != nil {
		return nil, err
	}
	return p.compileCallWithOperator(pair, proc, env)
}

func (p *Pass1) compileCallWithOperator(pair *sexp.Pair, proc *ir.Node, env *cenv.CEnv) (*ir.Node, error) {
	argForms, ok := sexp.ToSlice(pair.Cdr)
	if !ok {
		return nil, cerror.NewSyntaxError(src(p.Tab, pair), "improper call argument list")
	}
	args := make([]*ir.Node, len(argForms))
	for i, a := range argForms {
		n, err := p.Compile(a, env.SansName())
		if err != nil {
			return nil, err
		}
		args[i] = n
	}
	return &ir.Node{Tag: ir.TagCall, Proc: proc, Args: args, Src: src(p.Tab, pair)}, nil
}

// --- quote / quasiquote -----------------------------------------------

func (p *Pass1) p1Quote(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) != 1 {
		return nil, cerror.NewSyntaxError(srcForm, "quote requires exactly 1 argument")
	}
	return ir.NewConst(args[0], srcForm), nil
}

// p1Quasiquote implements spec §4.4's quasiquote rule: constant-fold
// whenever every nested unquote yields a constant, otherwise build a tree
// of CONS/APPEND/LIST/LIST*/VECTOR/LIST->VECTOR IR so the VM assembles
// the structure at runtime. depth tracks nesting so unquote/
// unquote-splicing are only active at depth 0.
func (p *Pass1) p1Quasiquote(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) != 1 {
		return nil, cerror.NewSyntaxError(srcForm, "quasiquote requires exactly 1 argument")
	}
	return p.qq(args[0], 0, env)
}

func (p *Pass1) qq(form sexp.Datum, depth int, env *cenv.CEnv) (*ir.Node, error) {
	pair, ok := form.(*sexp.Pair)
	if !ok {
		return ir.NewConst(form, src(p.Tab, form)), nil
	}
	if headSym, ok := pair.Car.(sexp.Symbol); ok {
		if headSym == p.kw.unquote && depth == 0 {
			rest, _ := sexp.ToSlice(pair.Cdr)
			if len(rest) != 1 {
				return nil, cerror.NewSyntaxError(src(p.Tab, form), "unquote requires exactly 1 argument")
			}
			return p.Compile(rest[0], env)
		}
		if headSym == p.kw.unquote && depth > 0 {
			inner, err := p.qqList(pair.Cdr, depth-1, env)
			if err != nil {
				return nil, err
			}
			return p.qqCons(ir.NewConst(headSym, nil), inner)
		}
		if headSym == p.kw.quasiquote {
			inner, err := p.qqList(pair.Cdr, depth+1, env)
			if err != nil {
				return nil, err
			}
			return p.qqCons(ir.NewConst(headSym, nil), inner)
		}
	}
	if carPair, ok := pair.Car.(*sexp.Pair); ok && depth == 0 {
		if headSym, ok := carPair.Car.(sexp.Symbol); ok && headSym == p.kw.unquoteSplicing {
			rest, _ := sexp.ToSlice(carPair.Cdr)
			if len(rest) != 1 {
				return nil, cerror.NewSyntaxError(src(p.Tab, form), "unquote-splicing requires exactly 1 argument")
			}
			spliced, err := p.Compile(rest[0], env)
			if err != nil {
				return nil, err
			}
			tail, err := p.qq(pair.Cdr, depth, env)
			if err != nil {
				return nil, err
			}
			return p.qqAppend(spliced, tail)
		}
	}
	carNode, err := p.qq(pair.Car, depth, env)
	if err != nil {
		return nil, err
	}
	cdrNode, err := p.qq(pair.Cdr, depth, env)
	if err != nil {
		return nil, err
	}
	return p.qqCons(carNode, cdrNode)
}

func (p *Pass1) qqList(d sexp.Datum, depth int, env *cenv.CEnv) (*ir.Node, error) {
	return p.qq(d, depth, env)
}

// qqCons builds CONS(a, d), folding to a CONST if both sides are constant.
func (p *Pass1) qqCons(a, d *ir.Node) (*ir.Node, error) {
	if a.IsConst() && d.IsConst() {
		return ir.NewConst(sexp.NewPair(a.Value, d.Value), nil), nil
	}
	return &ir.Node{Tag: ir.TagCons, Arg0: a, Arg1: d}, nil
}

func (p *Pass1) qqAppend(a, d *ir.Node) (*ir.Node, error) {
	if a.IsConst() && d.IsConst() {
		items, ok := sexp.ToSlice(a.Value)
		if ok {
			result := d.Value
			for i := len(items) - 1; i >= 0; i-- {
				result = sexp.NewPair(items[i], result)
			}
			return ir.NewConst(result, nil), nil
		}
	}
	return &ir.Node{Tag: ir.TagAppend, Arg0: a, Arg1: d}, nil
}

// --- if / and / or / when / unless -------------------------------------

func (p *Pass1) p1If(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) != 2 && len(args) != 3 {
		return nil, cerror.NewSyntaxError(srcForm, "if requires 2 or 3 arguments")
	}
	test, err := p.Compile(args[0], env.SansName())
	if err != nil {
		return nil, err
	}
	then, err := p.Compile(args[1], env)
	if err != nil {
		return nil, err
	}
	var elseNode *ir.Node = ir.ConstUndef
	if len(args) == 3 {
		elseNode, err = p.Compile(args[2], env)
		if err != nil {
			return nil, err
		}
	}
	// boundary behavior (spec §8): a constant test folds immediately.
	if test.IsConst() {
		if sexp.IsUndefined(test.Value) || isFalse(test.Value) {
			return elseNode, nil
		}
		return then, nil
	}
	return &ir.Node{Tag: ir.TagIf, Test: test, Then: then, Else: elseNode, Src: srcForm}, nil
}

func isFalse(v sexp.Datum) bool {
	b, ok := v.(bool)
	return ok && !b
}

func (p *Pass1) p1And(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) == 0 {
		return ir.ConstTrue, nil
	}
	return p.foldAndOr(args, srcForm, env, true)
}

func (p *Pass1) p1Or(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) == 0 {
		return ir.ConstFalseNode, nil
	}
	return p.foldAndOr(args, srcForm, env, false)
}

// foldAndOr lowers (and a b c) to IF(a, IF(b, c, #f), #f) and (or a b c)
// to IF(a, a, IF(b, b, c)) using the IT marker for the repeated test
// value, matching spec §4.4's "lower to IF/SEQ trees."
func (p *Pass1) foldAndOr(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv, isAnd bool) (*ir.Node, error) {
	if len(args) == 1 {
		return p.Compile(args[0], env)
	}
	head, err := p.Compile(args[0], env.SansName())
	if err != nil {
		return nil, err
	}
	rest, err := p.foldAndOr(args[1:], srcForm, env, isAnd)
	if err != nil {
		return nil, err
	}
	if isAnd {
		return &ir.Node{Tag: ir.TagIf, Test: head, Then: rest, Else: ir.ConstFalseNode, Src: srcForm}, nil
	}
	return &ir.Node{Tag: ir.TagIf, Test: head, Then: ir.ItNode, Else: rest, Src: srcForm}, nil
}

func (p *Pass1) p1When(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "when requires a test")
	}
	test, err := p.Compile(args[0], env.SansName())
	if err != nil {
		return nil, err
	}
	body, err := p.compileSeq(args[1:], env)
	if err != nil {
		return nil, err
	}
	return &ir.Node{Tag: ir.TagIf, Test: test, Then: body, Else: ir.ConstUndef, Src: srcForm}, nil
}

func (p *Pass1) p1Unless(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "unless requires a test")
	}
	test, err := p.Compile(args[0], env.SansName())
	if err != nil {
		return nil, err
	}
	body, err := p.compileSeq(args[1:], env)
	if err != nil {
		return nil, err
	}
	return &ir.Node{Tag: ir.TagIf, Test: test, Then: ir.ConstUndef, Else: body, Src: srcForm}, nil
}

func (p *Pass1) compileSeq(forms []sexp.Datum, env *cenv.CEnv) (*ir.Node, error) {
	items := make([]*ir.Node, len(forms))
	for i, f := range forms {
		n, err := p.Compile(f, env)
		if err != nil {
			return nil, err
		}
		items[i] = n
	}
	return ir.NewSeq(items, nil), nil
}

func (p *Pass1) p1Begin(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	return p.compileSeq(args, env)
}

// --- cond / case ---------------------------------------------------------

func (p *Pass1) p1Cond(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) == 0 {
		return ir.ConstUndef, nil
	}
	clause, ok := sexp.ToSlice(args[0])
	if !ok || len(clause) == 0 {
		return nil, cerror.NewSyntaxError(srcForm, "malformed cond clause")
	}
	rest, err := p.p1Cond(args[1:], srcForm, env)
	if err != nil {
		return nil, err
	}
	if s, ok := clause[0].(sexp.Symbol); ok && s == p.kw.elseSym {
		return p.compileSeq(clause[1:], env)
	}
	test, err := p.Compile(clause[0], env.SansName())
	if err != nil {
		return nil, err
	}
	// `cond` with `=>`: bind the test result so the receiver is called only
	// once and only when truthy (spec §4.4).
	if len(clause) == 3 {
		if s, ok := clause[1].(sexp.Symbol); ok && s == p.kw.arrow {
			recv, err := p.Compile(clause[2], env.SansName())
			if err != nil {
				return nil, err
			}
			tmp := ir.NewLVar(0)
			tmp.Init = test
			call := &ir.Node{Tag: ir.TagCall, Proc: recv, Args: []*ir.Node{ir.NewLref(tmp, nil)}}
			ifNode := &ir.Node{Tag: ir.TagIf, Test: ir.NewLref(tmp, nil), Then: call, Else: rest, Src: srcForm}
			return &ir.Node{Tag: ir.TagLet, Kind: ir.LetPlain, LVars: []*ir.LVar{tmp}, Inits: []*ir.Node{test}, Body: ifNode}, nil
		}
	}
	if len(clause) == 1 {
		return &ir.Node{Tag: ir.TagIf, Test: test, Then: ir.ItNode, Else: rest, Src: srcForm}, nil
	}
	then, err := p.compileSeq(clause[1:], env)
	if err != nil {
		return nil, err
	}
	return &ir.Node{Tag: ir.TagIf, Test: test, Then: then, Else: rest, Src: srcForm}, nil
}

// p1Case implements spec §4.4/§8 scenario 4: the keyed expression is
// bound once, then compared against each clause's literal datum list
// with EQ?/EQV?/MEMV depending on key count and type.
func (p *Pass1) p1Case(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "case requires a key expression")
	}
	key, err := p.Compile(args[0], env.SansName())
	if err != nil {
		return nil, err
	}
	tmp := ir.NewLVar(0)
	tmp.Init = key
	body, err := p.caseClauses(args[1:], tmp, srcForm, env)
	if err != nil {
		return nil, err
	}
	return &ir.Node{Tag: ir.TagLet, Kind: ir.LetPlain, LVars: []*ir.LVar{tmp}, Inits: []*ir.Node{key}, Body: body}, nil
}

func (p *Pass1) caseClauses(clauses []sexp.Datum, tmp *ir.LVar, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(clauses) == 0 {
		return ir.ConstUndef, nil
	}
	clause, ok := sexp.ToSlice(clauses[0])
	if !ok || len(clause) == 0 {
		return nil, cerror.NewSyntaxError(srcForm, "malformed case clause")
	}
	rest, err := p.caseClauses(clauses[1:], tmp, srcForm, env)
	if err != nil {
		return nil, err
	}
	if s, ok := clause[0].(sexp.Symbol); ok && s == p.kw.elseSym {
		return p.compileSeq(clause[1:], env)
	}
	keys, ok := sexp.ToSlice(clause[0])
	if !ok {
		return nil, cerror.NewSyntaxError(srcForm, "case clause keys must be a list")
	}
	then, err := p.compileSeq(clause[1:], env)
	if err != nil {
		return nil, err
	}
	test := p.caseTest(tmp, keys)
	return &ir.Node{Tag: ir.TagIf, Test: test, Then: then, Else: rest, Src: srcForm}, nil
}

func (p *Pass1) caseTest(tmp *ir.LVar, keys []sexp.Datum) *ir.Node {
	ref := ir.NewLref(tmp, nil)
	if len(keys) == 1 {
		if sexp.IsSymbol(keys[0]) {
			return &ir.Node{Tag: ir.TagEq, Arg0: ref, Arg1: ir.NewConst(keys[0], nil)}
		}
		return &ir.Node{Tag: ir.TagEqv, Arg0: ref, Arg1: ir.NewConst(keys[0], nil)}
	}
	return &ir.Node{Tag: ir.TagMemv, Arg0: ref, Arg1: ir.NewConst(sexp.List(keys...), nil)}
}

// --- delay / eval-when ----------------------------------------------------

func (p *Pass1) p1Delay(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) != 1 {
		return nil, cerror.NewSyntaxError(srcForm, "delay requires exactly 1 argument")
	}
	expr, err := p.Compile(args[0], env)
	if err != nil {
		return nil, err
	}
	thunk := &ir.Node{Tag: ir.TagLambda, Body: expr, Src: srcForm}
	return &ir.Node{Tag: ir.TagPromise, Expr: thunk, Src: srcForm}, nil
}

func (p *Pass1) p1EvalWhen(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "eval-when requires a situation list")
	}
	if !env.TopLevel() {
		return p.compileSeq(args[1:], env)
	}
	situations, ok := sexp.ToSlice(args[0])
	if !ok {
		return nil, cerror.NewSyntaxError(srcForm, "eval-when situation list must be a list")
	}
	wantsCompile, wantsExecute := false, false
	for _, s := range situations {
		sym, ok := s.(sexp.Symbol)
		if !ok {
			continue
		}
		switch p.Tab.Name(sym) {
		case "compile-toplevel":
			wantsCompile = true
		case "load-toplevel", "execute":
			wantsExecute = true
		}
	}
	if wantsCompile && p.VM != nil && p.VM.EvalSituation() == host.SituationCompileToplevel {
		logging.Tracef("eval-when: compile-toplevel requested; body forms are not evaluated at compile time")
	}
	if p.VM != nil && wantsExecute {
		if sit := p.VM.EvalSituation(); sit == host.SituationLoadToplevel || sit == host.SituationExecute {
			return p.compileSeq(args[1:], env)
		}
	}
	return ir.ConstUndef, nil
}

// --- set! ------------------------------------------------------------

func (p *Pass1) p1Set(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) != 2 {
		return nil, cerror.NewSyntaxError(srcForm, "set! requires exactly 2 arguments")
	}
	if targetPair, ok := args[0].(*sexp.Pair); ok {
		// (set! (op args...) v) -> ((setter op) args... v), spec §4.4 and
		// §8 scenario 5.
		setterCall := sexp.NewPair(p.Tab.Intern("setter"), sexp.List(targetPair.Car))
		rest, _ := sexp.ToSlice(targetPair.Cdr)
		callForm := sexp.List(append(append([]sexp.Datum{setterCall}, rest...), args[1])...)
		return p.Compile(callForm, env)
	}
	sym, ok := args[0].(sexp.Symbol)
	if !ok {
		return nil, cerror.NewSyntaxError(srcForm, "set! target must be a variable or accessor form")
	}
	valNode, err := p.Compile(args[1], env.AddName(sym))
	if err != nil {
		return nil, err
	}
	if b, ok := env.Lookup(sym, cenv.Lexical); ok {
		if lv, ok := b.(*ir.LVar); ok {
			return ir.NewLset(lv, valNode, srcForm), nil
		}
	}
	return &ir.Node{Tag: ir.TagGset, Sym: sym, Expr: valNode, Src: srcForm}, nil
}

// --- define / define-constant -----------------------------------------

func (p *Pass1) p1Define(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	return p.defineImpl(args, srcForm, env, 0)
}

func (p *Pass1) p1DefineConstant(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	return p.defineImpl(args, srcForm, env, ir.DefineConst)
}

func (p *Pass1) defineImpl(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv, flags ir.DefineFlag) (*ir.Node, error) {
	if !env.TopLevel() {
		return nil, cerror.NewSyntaxError(srcForm, "define is only valid at toplevel")
	}
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "define requires a target")
	}
	var name sexp.Symbol
	var valueForm sexp.Datum
	switch target := args[0].(type) {
	case sexp.Symbol:
		name = target
		if len(args) >= 2 {
			valueForm = args[1]
		} else {
			valueForm = sexp.Undefined
		}
	case *sexp.Pair:
		head, ok := target.Car.(sexp.Symbol)
		if !ok {
			return nil, cerror.NewSyntaxError(srcForm, "define target must name a variable or procedure")
		}
		name = head
		valueForm = sexp.NewPair(p.kw.lambda, sexp.NewPair(target.Cdr, sexp.List(args[1:]...)))
	default:
		return nil, cerror.NewSyntaxError(srcForm, "malformed define")
	}
	valNode, err := p.Compile(valueForm, env.AddName(name))
	if err != nil {
		return nil, err
	}
	if mod, ok := p.currentModule(env); ok {
		if valNode.IsConst() {
			mod.InsertBinding(name, valNode.Value, flags&ir.DefineConst != 0)
		} else {
			mod.InsertBinding(name, sexp.Undefined, false)
		}
	}
	return &ir.Node{Tag: ir.TagDefine, Sym: name, DefFlags: flags, Expr: valNode, Src: srcForm}, nil
}

// --- lambda / let family ------------------------------------------------

// parseFormals splits a lambda formals list into required names, an
// optional rest name, and whether a rest arg is present.
func parseFormals(formals sexp.Datum) (required []sexp.Symbol, rest sexp.Symbol, hasRest bool, err error) {
	for {
		switch f := formals.(type) {
		case sexp.Symbol:
			return required, f, true, nil
		case *sexp.Pair:
			sym, ok := f.Car.(sexp.Symbol)
			if !ok {
				return nil, 0, false, fmt.Errorf("formal parameter must be a symbol")
			}
			required = append(required, sym)
			formals = f.Cdr
		default:
			if sexp.IsNil(formals) {
				return required, 0, false, nil
			}
			return nil, 0, false, fmt.Errorf("malformed formals list")
		}
	}
}

func (p *Pass1) p1Lambda(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "lambda requires a formals list")
	}
	required, rest, hasRest, err := parseFormals(args[0])
	if err != nil {
		return nil, cerror.NewSyntaxError(srcForm, "%s", err)
	}
	lvars := make([]*ir.LVar, 0, len(required)+1)
	bindings := make(map[sexp.Symbol]cenv.Binding, len(required)+1)
	for _, name := range required {
		lv := ir.NewLVar(name)
		lvars = append(lvars, lv)
		bindings[name] = lv
	}
	optArg := 0
	if hasRest {
		lv := ir.NewLVar(rest)
		lvars = append(lvars, lv)
		bindings[rest] = lv
		optArg = 1
	}
	name, hasName := env.NameHint()
	node := &ir.Node{Tag: ir.TagLambda, ReqArgs: len(required), OptArg: optArg, LVars: lvars, Src: srcForm}
	if hasName {
		node.Sym = name
	}
	bodyEnv := env.Extend(cenv.Lexical, bindings).WithEnclosingLambda(node).SansName()
	body, err := p.compileBody(args[1:], bodyEnv)
	if err != nil {
		return nil, err
	}
	node.Body = body
	return node, nil
}

func (p *Pass1) p1Let(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) >= 1 {
		if _, ok := args[0].(sexp.Symbol); ok {
			return p.p1NamedLet(args, srcForm, env)
		}
	}
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "let requires a binding list")
	}
	names, inits, err := parseBindings(args[0])
	if err != nil {
		return nil, cerror.NewSyntaxError(srcForm, "%s", err)
	}
	lvars := make([]*ir.LVar, len(names))
	initNodes := make([]*ir.Node, len(names))
	bindings := make(map[sexp.Symbol]cenv.Binding, len(names))
	for i, name := range names {
		// `let` inits see the OUTER cenv (spec §4.4).
		n, err := p.Compile(inits[i], env.AddName(name))
		if err != nil {
			return nil, err
		}
		lv := ir.NewLVar(name)
		lv.Init = n
		lvars[i] = lv
		initNodes[i] = n
		bindings[name] = lv
	}
	bodyEnv := env.Extend(cenv.Lexical, bindings).SansName()
	body, err := p.compileBody(args[1:], bodyEnv)
	if err != nil {
		return nil, err
	}
	if len(lvars) == 0 {
		// boundary behavior: `(let () e)` compiles identically to `e`.
		return body, nil
	}
	return &ir.Node{Tag: ir.TagLet, Kind: ir.LetPlain, LVars: lvars, Inits: initNodes, Body: body, Src: srcForm}, nil
}

func (p *Pass1) p1LetStar(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "let* requires a binding list")
	}
	names, inits, err := parseBindings(args[0])
	if err != nil {
		return nil, cerror.NewSyntaxError(srcForm, "%s", err)
	}
	// Desugar into nested single-binding `let`s, built right-to-left, so
	// each init sees the cenv extended with every preceding binding
	// (spec §4.4).
	body := sexp.List(append([]sexp.Datum{p.kw.begin}, args[1:]...)...)
	for i := len(names) - 1; i >= 0; i-- {
		body = sexp.List(p.kw.let, sexp.List(sexp.List(names[i], inits[i])), body)
	}
	return p.Compile(body, env)
}

func (p *Pass1) p1Letrec(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "letrec requires a binding list")
	}
	names, inits, err := parseBindings(args[0])
	if err != nil {
		return nil, cerror.NewSyntaxError(srcForm, "%s", err)
	}
	lvars := make([]*ir.LVar, len(names))
	bindings := make(map[sexp.Symbol]cenv.Binding, len(names))
	for i, name := range names {
		lvars[i] = ir.NewLVar(name)
		bindings[name] = lvars[i]
	}
	// `letrec` inits see the INNER cenv (spec §4.4).
	innerEnv := env.Extend(cenv.Lexical, bindings)
	initNodes := make([]*ir.Node, len(names))
	for i, name := range names {
		n, err := p.Compile(inits[i], innerEnv.AddName(name))
		if err != nil {
			return nil, err
		}
		lvars[i].Init = n
		initNodes[i] = n
	}
	body, err := p.compileBody(args[1:], innerEnv.SansName())
	if err != nil {
		return nil, err
	}
	return &ir.Node{Tag: ir.TagLet, Kind: ir.LetRec, LVars: lvars, Inits: initNodes, Body: body, Src: srcForm}, nil
}

// p1NamedLet lowers `(let loop ((i 0)) body...)` to a letrec binding
// `loop` to a lambda and immediately calling it, the standard named-let
// expansion; pass 2's closure-embedding rewrite (spec §4.9) is what later
// turns a tail-recursive loop into a jump.
func (p *Pass1) p1NamedLet(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	loopName := args[0].(sexp.Symbol)
	if len(args) < 2 {
		return nil, cerror.NewSyntaxError(srcForm, "named let requires a binding list")
	}
	names, inits, err := parseBindings(args[1])
	if err != nil {
		return nil, cerror.NewSyntaxError(srcForm, "%s", err)
	}
	loopVar := ir.NewLVar(loopName)
	loopEnv := env.Extend(cenv.Lexical, map[sexp.Symbol]cenv.Binding{loopName: loopVar})

	lvars := make([]*ir.LVar, len(names))
	bindings := make(map[sexp.Symbol]cenv.Binding, len(names))
	for i, name := range names {
		lvars[i] = ir.NewLVar(name)
		bindings[name] = lvars[i]
	}
	lambdaNode := &ir.Node{Tag: ir.TagLambda, ReqArgs: len(names), LVars: lvars, Sym: loopName, Src: srcForm}
	bodyEnv := loopEnv.Extend(cenv.Lexical, bindings).WithEnclosingLambda(lambdaNode).SansName()
	body, err := p.compileBody(args[2:], bodyEnv)
	if err != nil {
		return nil, err
	}
	lambdaNode.Body = body
	loopVar.Init = lambdaNode

	initNodes := make([]*ir.Node, len(inits))
	for i, initForm := range inits {
		n, err := p.Compile(initForm, env.SansName())
		if err != nil {
			return nil, err
		}
		initNodes[i] = n
	}
	call := &ir.Node{Tag: ir.TagCall, Proc: ir.NewLref(loopVar, srcForm), Args: initNodes, Src: srcForm}
	return &ir.Node{Tag: ir.TagLet, Kind: ir.LetRec, LVars: []*ir.LVar{loopVar}, Inits: []*ir.Node{lambdaNode}, Body: call, Src: srcForm}, nil
}

func (p *Pass1) p1Receive(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 2 {
		return nil, cerror.NewSyntaxError(srcForm, "receive requires formals and a producer expression")
	}
	required, rest, hasRest, err := parseFormals(args[0])
	if err != nil {
		return nil, cerror.NewSyntaxError(srcForm, "%s", err)
	}
	producer, err := p.Compile(args[1], env.SansName())
	if err != nil {
		return nil, err
	}
	lvars := make([]*ir.LVar, 0, len(required)+1)
	bindings := make(map[sexp.Symbol]cenv.Binding, len(required)+1)
	for _, name := range required {
		lv := ir.NewLVar(name)
		lvars = append(lvars, lv)
		bindings[name] = lv
	}
	optArg := 0
	if hasRest {
		lv := ir.NewLVar(rest)
		lvars = append(lvars, lv)
		bindings[rest] = lv
		optArg = 1
	}
	bodyEnv := env.Extend(cenv.Lexical, bindings).SansName()
	body, err := p.compileBody(args[2:], bodyEnv)
	if err != nil {
		return nil, err
	}
	return &ir.Node{Tag: ir.TagReceive, ReqArgs: len(required), OptArg: optArg, LVars: lvars, Producer: producer, Body: body, Src: srcForm}, nil
}

func parseBindings(d sexp.Datum) (names []sexp.Symbol, inits []sexp.Datum, err error) {
	items, ok := sexp.ToSlice(d)
	if !ok {
		return nil, nil, fmt.Errorf("malformed binding list")
	}
	for _, item := range items {
		pair, ok := sexp.ToSlice(item)
		if !ok || len(pair) != 2 {
			return nil, nil, fmt.Errorf("malformed binding clause")
		}
		name, ok := pair[0].(sexp.Symbol)
		if !ok {
			return nil, nil, fmt.Errorf("binding name must be a symbol")
		}
		names = append(names, name)
		inits = append(inits, pair[1])
	}
	return names, inits, nil
}

// compileBody implements spec §4.4's body-compilation rule: scan leading
// forms for internal definitions (splicing a leading `begin`), collect a
// pending letrec, stop scanning at the first non-definition form.
func (p *Pass1) compileBody(forms []sexp.Datum, env *cenv.CEnv) (*ir.Node, error) {
	forms = p.spliceBegins(forms)
	var names []sexp.Symbol
	var initForms []sexp.Datum
	i := 0
	for ; i < len(forms); i++ {
		pair, ok := forms[i].(*sexp.Pair)
		if !ok {
			break
		}
		head, ok := pair.Car.(sexp.Symbol)
		if !ok || head != p.kw.define {
			break
		}
		if _, shadowed := env.Lookup(head, cenv.Lexical); shadowed {
			break
		}
		args, ok := sexp.ToSlice(pair.Cdr)
		if !ok || len(args) < 1 {
			return nil, cerror.NewSyntaxError(src(p.Tab, forms[i]), "malformed internal define")
		}
		var name sexp.Symbol
		var valueForm sexp.Datum
		switch target := args[0].(type) {
		case sexp.Symbol:
			name = target
			if len(args) >= 2 {
				valueForm = args[1]
			} else {
				valueForm = sexp.Undefined
			}
		case *sexp.Pair:
			head, ok := target.Car.(sexp.Symbol)
			if !ok {
				return nil, cerror.NewSyntaxError(src(p.Tab, forms[i]), "internal define target must name a variable or procedure")
			}
			name = head
			valueForm = sexp.NewPair(p.kw.lambda, sexp.NewPair(target.Cdr, sexp.List(args[1:]...)))
		default:
			return nil, cerror.NewSyntaxError(src(p.Tab, forms[i]), "malformed internal define")
		}
		names = append(names, name)
		initForms = append(initForms, valueForm)
	}
	rest := forms[i:]
	if len(names) == 0 {
		return p.compileSeq(rest, env)
	}
	lvars := make([]*ir.LVar, len(names))
	bindings := make(map[sexp.Symbol]cenv.Binding, len(names))
	for j, name := range names {
		lvars[j] = ir.NewLVar(name)
		bindings[name] = lvars[j]
	}
	innerEnv := env.Extend(cenv.Lexical, bindings)
	inits := make([]*ir.Node, len(names))
	for j, f := range initForms {
		n, err := p.Compile(f, innerEnv.AddName(names[j]))
		if err != nil {
			return nil, err
		}
		lvars[j].Init = n
		inits[j] = n
	}
	body, err := p.compileSeq(rest, innerEnv.SansName())
	if err != nil {
		return nil, err
	}
	return &ir.Node{Tag: ir.TagLet, Kind: ir.LetRec, LVars: lvars, Inits: inits, Body: body}, nil
}

// spliceBegins flattens any leading `(begin ...)` forms into the body, per
// spec §4.4 ("A begin at the head splices").
func (p *Pass1) spliceBegins(forms []sexp.Datum) []sexp.Datum {
	var out []sexp.Datum
	for _, f := range forms {
		if pair, ok := f.(*sexp.Pair); ok {
			if head, ok := pair.Car.(sexp.Symbol); ok && head == p.kw.begin {
				if inner, ok := sexp.ToSlice(pair.Cdr); ok {
					out = append(out, p.spliceBegins(inner)...)
					continue
				}
			}
		}
		out = append(out, f)
	}
	return out
}

// --- do / and-let* (spec §4.4 binding forms) ---------------------------

// p1Do desugars `do` into the standard letrec-and-loop-lambda expansion,
// the same sexp-synthesis-then-delegate-to-Compile idiom p1LetStar uses: a
// step clause defaults to re-binding the variable's own current value when
// omitted, and an empty result-expression list compiles to the Undefined
// sentinel via Compile's own CONST fallback.
func (p *Pass1) p1Do(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 2 {
		return nil, cerror.NewSyntaxError(srcForm, "do requires a binding list and a test clause")
	}
	specs, ok := sexp.ToSlice(args[0])
	if !ok {
		return nil, cerror.NewSyntaxError(srcForm, "do binding list must be a list")
	}
	names := make([]sexp.Datum, len(specs))
	inits := make([]sexp.Datum, len(specs))
	steps := make([]sexp.Datum, len(specs))
	for i, s := range specs {
		clause, ok := sexp.ToSlice(s)
		if !ok || len(clause) < 2 || len(clause) > 3 {
			return nil, cerror.NewSyntaxError(srcForm, "malformed do binding clause")
		}
		if _, ok := clause[0].(sexp.Symbol); !ok {
			return nil, cerror.NewSyntaxError(srcForm, "do binding name must be a symbol")
		}
		names[i] = clause[0]
		inits[i] = clause[1]
		if len(clause) == 3 {
			steps[i] = clause[2]
		} else {
			steps[i] = clause[0]
		}
	}
	testClause, ok := sexp.ToSlice(args[1])
	if !ok || len(testClause) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "do requires a (test expr...) clause")
	}
	test := testClause[0]
	results := testClause[1:]
	if len(results) == 0 {
		results = []sexp.Datum{sexp.Undefined}
	}
	commands := args[2:]

	loop := p.Tab.Intern("%do-loop")
	loopCall := sexp.List(append([]sexp.Datum{loop}, steps...)...)
	bodyForms := append(append([]sexp.Datum{}, commands...), loopCall)
	thenBranch := sexp.List(append([]sexp.Datum{p.kw.begin}, results...)...)
	elseBranch := sexp.List(append([]sexp.Datum{p.kw.begin}, bodyForms...)...)
	loopBody := sexp.List(p.kw.ifSym, test, thenBranch, elseBranch)
	lambdaForm := sexp.List(append([]sexp.Datum{p.kw.lambda, sexp.List(names...)}, loopBody)...)
	initCall := sexp.List(append([]sexp.Datum{loop}, inits...)...)
	letrecForm := sexp.List(p.kw.letrec, sexp.List(sexp.List(loop, lambdaForm)), initCall)
	return p.Compile(letrecForm, env)
}

// p1AndLet implements SRFI-2's "anchored let*": each claw's value must be
// truthy to proceed to the next, short-circuiting the whole form to #f the
// first time one isn't; the body (or #t if empty) is the result once every
// claw passes.
func (p *Pass1) p1AndLet(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "and-let* requires a claw list")
	}
	claws, ok := sexp.ToSlice(args[0])
	if !ok {
		return nil, cerror.NewSyntaxError(srcForm, "and-let* claw list must be a list")
	}
	form, err := p.buildAndLet(claws, args[1:])
	if err != nil {
		return nil, cerror.NewSyntaxError(srcForm, "%s", err)
	}
	return p.Compile(form, env)
}

func (p *Pass1) buildAndLet(claws []sexp.Datum, body []sexp.Datum) (sexp.Datum, error) {
	if len(claws) == 0 {
		if len(body) == 0 {
			return true, nil
		}
		return sexp.List(append([]sexp.Datum{p.kw.begin}, body...)...), nil
	}
	rest, err := p.buildAndLet(claws[1:], body)
	if err != nil {
		return nil, err
	}
	switch c := claws[0].(type) {
	case sexp.Symbol:
		return sexp.List(p.kw.ifSym, c, rest, false), nil
	case *sexp.Pair:
		items, ok := sexp.ToSlice(c)
		if !ok || len(items) < 1 || len(items) > 2 {
			return nil, fmt.Errorf("malformed and-let* clause")
		}
		if len(items) == 1 {
			return sexp.List(p.kw.ifSym, items[0], rest, false), nil
		}
		name, ok := items[0].(sexp.Symbol)
		if !ok {
			return nil, fmt.Errorf("and-let* binding name must be a symbol")
		}
		return sexp.List(p.kw.let, sexp.List(sexp.List(name, items[1])), sexp.List(p.kw.ifSym, name, rest, false)), nil
	default:
		return nil, fmt.Errorf("malformed and-let* clause")
	}
}

// --- module system (spec §4.4 toplevel-only forms) ----------------------

// requireToplevel enforces spec §4.4's "all require toplevel context (fail
// with syntax-error otherwise)" rule shared by every form in this section.
func (p *Pass1) requireToplevel(srcForm *cerror.SourceForm, env *cenv.CEnv, formName string) error {
	if !env.TopLevel() {
		return cerror.NewSyntaxError(srcForm, "%s is only valid at toplevel", formName)
	}
	return nil
}

// moduleNamed resolves a module-name datum through the host VM: create
// finds-or-makes the module (make-module), otherwise it must already exist
// (find-module).
func (p *Pass1) moduleNamed(srcForm *cerror.SourceForm, d sexp.Datum, create bool) (host.Module, error) {
	sym, ok := d.(sexp.Symbol)
	if !ok {
		return nil, cerror.NewSyntaxError(srcForm, "module name must be a symbol")
	}
	if p.VM == nil {
		return nil, cerror.NewInternalError("no host VM attached to resolve module %q", p.Tab.Name(sym))
	}
	name := p.Tab.Name(sym)
	if create {
		return p.VM.MakeModule(name), nil
	}
	mod, ok := p.VM.FindModule(name)
	if !ok {
		return nil, cerror.NewCompileError(srcForm, fmt.Errorf("no such module: %s", name))
	}
	return mod, nil
}

func (p *Pass1) p1DefineInModule(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if err := p.requireToplevel(srcForm, env, "define-in-module"); err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, cerror.NewSyntaxError(srcForm, "define-in-module requires a module name and a define target")
	}
	mod, err := p.moduleNamed(srcForm, args[0], true)
	if err != nil {
		return nil, err
	}
	return p.defineImpl(args[1:], srcForm, env.WithModule(mod), 0)
}

// p1DefineInline compiles exactly like `define` and additionally packs the
// bound lambda's body (spec §4.7) into an *host.IRInliner registered on the
// current module, so later call sites can beta-expand it (spec §4.5, §4.6).
func (p *Pass1) p1DefineInline(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if err := p.requireToplevel(srcForm, env, "define-inline"); err != nil {
		return nil, err
	}
	defNode, err := p.defineImpl(args, srcForm, env, 0)
	if err != nil {
		return nil, err
	}
	if defNode.Expr == nil || defNode.Expr.Tag != ir.TagLambda {
		return nil, cerror.NewSyntaxError(srcForm, "define-inline requires a procedure definition")
	}
	if mod, ok := p.currentModule(env); ok {
		if installer, ok := mod.(host.InlinerInstaller); ok {
			packed := ir.Pack(defNode.Expr)
			installer.InsertInliner(defNode.Sym, sexp.Undefined, &host.IRInliner{Packed: packed})
		}
	}
	return defNode, nil
}

// installMacro is the shared body of define-syntax and define-macro: pass 1
// never implements the macro expander itself (it stays an external host
// collaborator, spec §1/§4.13) — it only requires that the transformer
// expression compile down to a constant already implementing
// host.MacroTransformer, and wires that value onto the current module's
// binding, where compilePair later finds it via binding.Macro().
func (p *Pass1) installMacro(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv, formName string) (*ir.Node, error) {
	if err := p.requireToplevel(srcForm, env, formName); err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, cerror.NewSyntaxError(srcForm, "%s requires a name and a transformer", formName)
	}
	name, ok := args[0].(sexp.Symbol)
	if !ok {
		return nil, cerror.NewSyntaxError(srcForm, "%s target must be a symbol", formName)
	}
	transformerNode, err := p.Compile(args[1], env.AddName(name))
	if err != nil {
		return nil, err
	}
	if !transformerNode.IsConst() {
		return nil, cerror.NewSyntaxError(srcForm, "%s transformer must be a compile-time constant supplied by the host macro expander", formName)
	}
	mac, ok := transformerNode.Value.(host.MacroTransformer)
	if !ok {
		return nil, cerror.NewSyntaxError(srcForm, "%s transformer must implement host.MacroTransformer", formName)
	}
	mod, ok := p.currentModule(env)
	if !ok {
		return nil, cerror.NewInternalError("no current module to install %s binding %q", formName, p.Tab.Name(name))
	}
	installer, ok := mod.(host.MacroInstaller)
	if !ok {
		return nil, cerror.NewInternalError("module %q does not support macro installation", mod.Name())
	}
	installer.InsertMacro(name, mac)
	return ir.ConstUndef, nil
}

func (p *Pass1) p1DefineSyntax(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	return p.installMacro(args, srcForm, env, "define-syntax")
}

func (p *Pass1) p1DefineMacro(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	return p.installMacro(args, srcForm, env, "define-macro")
}

func (p *Pass1) p1DefineModule(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if err := p.requireToplevel(srcForm, env, "define-module"); err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "define-module requires a module name")
	}
	mod, err := p.moduleNamed(srcForm, args[0], true)
	if err != nil {
		return nil, err
	}
	return p.compileSeq(args[1:], env.WithModule(mod))
}

func (p *Pass1) p1WithModule(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if err := p.requireToplevel(srcForm, env, "with-module"); err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, cerror.NewSyntaxError(srcForm, "with-module requires a module name")
	}
	mod, err := p.moduleNamed(srcForm, args[0], true)
	if err != nil {
		return nil, err
	}
	return p.compileSeq(args[1:], env.WithModule(mod))
}

// p1SelectModule changes the VM's current module as a compile-time
// side effect (grounded on p1EvalWhen's style) and emits no runtime code.
// Unlike with-module/define-module, it requires the module to already
// exist: select-module is a navigation command, not a declaration.
func (p *Pass1) p1SelectModule(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if err := p.requireToplevel(srcForm, env, "select-module"); err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, cerror.NewSyntaxError(srcForm, "select-module requires exactly 1 module name")
	}
	mod, err := p.moduleNamed(srcForm, args[0], false)
	if err != nil {
		return nil, err
	}
	if p.VM != nil {
		p.VM.SetCurrentModule(mod)
	}
	return ir.ConstUndef, nil
}

func (p *Pass1) p1Export(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if err := p.requireToplevel(srcForm, env, "export"); err != nil {
		return nil, err
	}
	syms := make([]sexp.Symbol, len(args))
	for i, a := range args {
		sym, ok := a.(sexp.Symbol)
		if !ok {
			return nil, cerror.NewSyntaxError(srcForm, "export arguments must be symbols")
		}
		syms[i] = sym
	}
	mod, ok := p.currentModule(env)
	if !ok {
		return nil, cerror.NewInternalError("no current module to export from")
	}
	if err := mod.ExportSymbols(syms); err != nil {
		return nil, cerror.NewCompileError(srcForm, err)
	}
	return ir.ConstUndef, nil
}

func (p *Pass1) p1Import(args []sexp.Datum, srcForm *cerror.SourceForm, env *cenv.CEnv) (*ir.Node, error) {
	if err := p.requireToplevel(srcForm, env, "import"); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, cerror.NewSyntaxError(srcForm, "import requires at least 1 module name")
	}
	mods := make([]host.Module, len(args))
	for i, a := range args {
		mod, err := p.moduleNamed(srcForm, a, true)
		if err != nil {
			return nil, err
		}
		mods[i] = mod
	}
	mod, ok := p.currentModule(env)
	if !ok {
		return nil, cerror.NewInternalError("no current module to import into")
	}
	if err := mod.ImportModules(mods); err != nil {
		return nil, cerror.NewCompileError(srcForm, err)
	}
	return ir.ConstUndef, nil
}

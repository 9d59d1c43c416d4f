// Package ir defines the intermediate representation shared by all three
// compiler passes: a closed set of tagged tree nodes (spec §3-§4.1) with
// uniform accessors, plus the LVar binding record (§4.2).
//
// Every traversal in pass 2 and pass 3 dispatches on the small-integer
// Node.Tag with a `switch n.Tag` statement (pass2.go's walk, pass3.go's
// compile) rather than a Go type switch; there is no separate dispatch
// table.
package ir

import (
	"github.com/chazu/schemec/cerror"
	"github.com/chazu/schemec/sexp"
)

// Tag discriminates IR node variants. Packed IR (pack.go) stores the
// numeric Tag value, so reordering the constants below changes the
// meaning of previously packed data.
type Tag uint8

const (
	TagInvalid Tag = iota
	TagDefine
	TagLref
	TagLset
	TagGref
	TagGset
	TagConst
	TagIf
	TagLet
	TagReceive
	TagLambda
	TagLabel
	TagSeq
	TagCall
	TagAsm
	TagPromise
	TagCons
	TagAppend
	TagMemv
	TagEq
	TagEqv
	TagList
	TagListStar
	TagVector
	TagListToVector
	TagIt
	tagCount
)

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "TAG(?)"
}

var tagNames = [...]string{
	TagInvalid:      "INVALID",
	TagDefine:       "DEFINE",
	TagLref:         "LREF",
	TagLset:         "LSET",
	TagGref:         "GREF",
	TagGset:         "GSET",
	TagConst:        "CONST",
	TagIf:           "IF",
	TagLet:          "LET",
	TagReceive:      "RECEIVE",
	TagLambda:       "LAMBDA",
	TagLabel:        "LABEL",
	TagSeq:          "SEQ",
	TagCall:         "CALL",
	TagAsm:          "ASM",
	TagPromise:      "PROMISE",
	TagCons:         "CONS",
	TagAppend:       "APPEND",
	TagMemv:         "MEMV",
	TagEq:           "EQ?",
	TagEqv:          "EQV?",
	TagList:         "LIST",
	TagListStar:     "LIST*",
	TagVector:       "VECTOR",
	TagListToVector: "LIST->VECTOR",
	TagIt:           "IT",
}

// DefineFlag is a set of bits on a DEFINE node.
type DefineFlag uint8

const (
	DefineConst DefineFlag = 1 << iota // define-constant: const-binding lookup folds to CONST
)

// LetKind distinguishes `let` (inits see the outer cenv) from `letrec`/
// `rec`-typed named let (inits see the inner cenv, and self-calls are
// classified as REC/TAIL-REC by pass 2).
type LetKind uint8

const (
	LetPlain LetKind = iota
	LetRec
)

func (k LetKind) String() string {
	if k == LetRec {
		return "rec"
	}
	return "let"
}

// CallFlag marks what pass 2 decided about a CALL node's operator.
type CallFlag uint8

const (
	CallGeneric  CallFlag = iota // ordinary call, nothing special decided
	CallLocal                   // statically known LAMBDA, normal local call
	CallEmbed                   // the LAMBDA body was embedded at this call site
	CallJump                    // a tail-recursive call to an embedded LABEL
	CallRec                     // non-tail self-recursive call
	CallTailRec                  // tail self-recursive call
)

func (f CallFlag) String() string {
	switch f {
	case CallLocal:
		return "local"
	case CallEmbed:
		return "embed"
	case CallJump:
		return "jump"
	case CallRec:
		return "rec"
	case CallTailRec:
		return "tail-rec"
	default:
		return "none"
	}
}

// LambdaFlag records what pass 2 did with a LAMBDA's body.
type LambdaFlag uint8

const (
	LambdaNone     LambdaFlag = iota
	LambdaInlined             // body was copied out at every call site; the LAMBDA itself is dead
	LambdaDissolved           // body is emitted in place at each embedding call site (CallEmbed/CallJump)
)

func (f LambdaFlag) String() string {
	switch f {
	case LambdaInlined:
		return "inlined"
	case LambdaDissolved:
		return "dissolved"
	default:
		return "none"
	}
}

// Insn is the opcode+operands payload of an ASM node (an inlined primitive
// call, §4.5). Operands are resolved by pass 3; pass 1 and pass 2 treat
// Insn as an opaque integer plus a small fixed operand array.
type Insn struct {
	Opcode   int
	Operands [2]int64
	NOperand int // 0, 1, or 2 of Operands are meaningful
}

// CallSite records one use of a LAMBDA as a CALL operator, collected on
// Node.Calls while pass 2 is walking the LAMBDA's defining LET (§3 "A
// LAMBDA node's calls list is accurate at the point pass 2 exits its
// defining LET; thereafter it is cleared").
type CallSite struct {
	Call *Node    // the CALL node itself (Node.CallFlagV will be set in place)
	Env  []*Node  // the enclosing LAMBDA stack at the point of the call
}

// Node is the single discriminated-union type for every IR variant. Only
// the fields relevant to Tag are meaningful; see the per-tag accessor
// methods below for the canonical way to read/write them instead of
// touching fields directly from outside this package.
type Node struct {
	Tag Tag
	Src *cerror.SourceForm

	// Scalars, meaning depends on Tag:
	//   DEFINE, GREF, GSET, LAMBDA(name hint): Sym
	//   DEFINE: DefFlags
	//   CONST: Value
	//   LET, LAMBDA-as-named-let: Kind
	//   RECEIVE, LAMBDA: ReqArgs, OptArg
	//   CALL: CallFlagV
	//   LAMBDA: LambdaFlagV
	//   LABEL: LabelID (filled by pass 3)
	//   ASM: InsnV
	Sym        sexp.Symbol
	DefFlags   DefineFlag
	Value      sexp.Datum
	Kind       LetKind
	ReqArgs    int
	OptArg     int
	CallFlagV  CallFlag
	LambdaFlagV LambdaFlag
	LabelID    int
	InsnV      Insn

	// Single-node children:
	//   DEFINE, LSET, GSET, PROMISE, LIST->VECTOR: Expr
	//   IF: Test, Then, Else
	//   CONS, APPEND, MEMV, EQ?, EQV?: Arg0, Arg1
	//   CALL: Proc
	//   LET, RECEIVE, LAMBDA, LABEL: Body
	//   RECEIVE: Producer
	LVarRef  *LVar // LREF, LSET
	Expr     *Node
	Test     *Node
	Then     *Node
	Else     *Node
	Arg0     *Node
	Arg1     *Node
	Proc     *Node
	Body     *Node
	Producer *Node

	// Slice children:
	//   LET, RECEIVE, LAMBDA: LVars
	//   LET: Inits
	//   SEQ: Items (body statements)
	//   CALL: Args
	//   ASM: Args
	//   LIST, LIST*, VECTOR: Items
	LVars []*LVar
	Inits []*Node
	Items []*Node
	Args  []*Node

	// LAMBDA-only bookkeeping.
	Calls     []*CallSite
	FreeLVars []*LVar
}

// NewConst builds a CONST node.
func NewConst(v sexp.Datum, src *cerror.SourceForm) *Node {
	return &Node{Tag: TagConst, Value: v, Src: src}
}

// singleton constants: CONST nodes that carry no mutable state may be
// shared freely (spec §4.1).
var (
	ConstNil       = NewConst(sexp.Nil, nil)
	ConstUndef     = NewConst(sexp.Undefined, nil)
	ConstTrue      = NewConst(true, nil)
	ConstFalseNode = NewConst(false, nil)
)

// NewLref builds an LREF node and increments the referenced LVar's
// ref-count, maintaining the invariant that ref-count equals the number of
// live LREF nodes pointing to it (spec §3 invariant list, item 1).
func NewLref(v *LVar, src *cerror.SourceForm) *Node {
	v.RefInc()
	return &Node{Tag: TagLref, LVarRef: v, Src: src}
}

// NewLset builds an LSET node and increments the target LVar's set-count.
func NewLset(v *LVar, expr *Node, src *cerror.SourceForm) *Node {
	v.SetInc()
	return &Node{Tag: TagLset, LVarRef: v, Expr: expr, Src: src}
}

// NewSeq builds a SEQ node, flattening a single-item body to that item (so
// "(begin e)" compiles identically to "e", spec §8).
func NewSeq(items []*Node, src *cerror.SourceForm) *Node {
	if len(items) == 1 {
		return items[0]
	}
	if len(items) == 0 {
		return ConstUndef
	}
	return &Node{Tag: TagSeq, Items: items, Src: src}
}

// IsConst reports whether n is a CONST node.
func (n *Node) IsConst() bool { return n != nil && n.Tag == TagConst }

// IsIt reports whether n is the IT marker used inside IF restructuring.
func (n *Node) IsIt() bool { return n != nil && n.Tag == TagIt }

// ItNode is the shared IT marker (spec: "value of the most recent test
// clause"); it carries no state so one instance suffices everywhere.
var ItNode = &Node{Tag: TagIt}

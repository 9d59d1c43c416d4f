package ir

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/schemec/sexp"
)

// cborEncMode is a package-level canonical encoder, built once, the same
// way vm/dist/wire.go builds one for the content-distribution protocol:
// canonical CBOR gives byte-for-byte deterministic output, which matters
// here because two compilations of the same define-inline body must
// produce the same packed bytes (spec §8: "compiling the same source
// twice... yields bytewise-identical instruction vectors" — packed IR is
// held to the same bar).
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to build CBOR encode mode: %v", err))
	}
	cborEncMode = em
}

// Packed is the flat-vector encoding of an IR subtree (spec §4.7): every
// Node and LVar gets a slot in a table, and every pointer becomes a
// 1-based index into the appropriate table (0 means nil). This is what
// lets define-inline bodies, and compiled-code snapshots built from them,
// cross a serialization boundary.
type Packed struct {
	Nodes []packedNode `cbor:"1,keyasint"`
	LVars []packedLVar `cbor:"2,keyasint"`
	Root  int          `cbor:"3,keyasint"`
}

type packedLVar struct {
	Name uint32 `cbor:"1,keyasint"`
}

type packedNode struct {
	Tag         uint8        `cbor:"1,keyasint"`
	Sym         uint32       `cbor:"2,keyasint,omitempty"`
	DefFlags    uint8        `cbor:"3,keyasint,omitempty"`
	Value       *packedDatum `cbor:"4,keyasint,omitempty"`
	Kind        uint8        `cbor:"5,keyasint,omitempty"`
	ReqArgs     int          `cbor:"6,keyasint,omitempty"`
	OptArg      int          `cbor:"7,keyasint,omitempty"`
	CallFlagV   uint8        `cbor:"8,keyasint,omitempty"`
	LambdaFlagV uint8        `cbor:"9,keyasint,omitempty"`
	LabelID     int          `cbor:"10,keyasint,omitempty"`
	InsnOpcode  int          `cbor:"11,keyasint,omitempty"`
	InsnOperand [2]int64     `cbor:"12,keyasint,omitempty"`
	InsnNOperand int         `cbor:"13,keyasint,omitempty"`

	LVarIdx     int   `cbor:"14,keyasint,omitempty"`
	ExprIdx     int   `cbor:"15,keyasint,omitempty"`
	TestIdx     int   `cbor:"16,keyasint,omitempty"`
	ThenIdx     int   `cbor:"17,keyasint,omitempty"`
	ElseIdx     int   `cbor:"18,keyasint,omitempty"`
	Arg0Idx     int   `cbor:"19,keyasint,omitempty"`
	Arg1Idx     int   `cbor:"20,keyasint,omitempty"`
	ProcIdx     int   `cbor:"21,keyasint,omitempty"`
	BodyIdx     int   `cbor:"22,keyasint,omitempty"`
	ProducerIdx int   `cbor:"23,keyasint,omitempty"`
	LVarsIdx    []int `cbor:"24,keyasint,omitempty"`
	InitsIdx    []int `cbor:"25,keyasint,omitempty"`
	ItemsIdx    []int `cbor:"26,keyasint,omitempty"`
	ArgsIdx     []int `cbor:"27,keyasint,omitempty"`
}

// packedDatum mirrors sexp.Datum's small closed set of shapes so it can
// travel through CBOR without reflection over an interface{}.
type packedDatum struct {
	Kind     byte         `cbor:"1,keyasint"`
	Sym      uint32       `cbor:"2,keyasint,omitempty"`
	Car      *packedDatum `cbor:"3,keyasint,omitempty"`
	Cdr      *packedDatum `cbor:"4,keyasint,omitempty"`
	Int      int64        `cbor:"5,keyasint,omitempty"`
	Float    float64      `cbor:"6,keyasint,omitempty"`
	Str      string       `cbor:"7,keyasint,omitempty"`
	Bool     bool         `cbor:"8,keyasint,omitempty"`
	Sentinel string       `cbor:"9,keyasint,omitempty"`
}

const (
	datumSymbol byte = iota
	datumPair
	datumInt
	datumFloat
	datumString
	datumBool
	datumSentinel
)

func packDatum(d sexp.Datum) *packedDatum {
	switch v := d.(type) {
	case sexp.Symbol:
		return &packedDatum{Kind: datumSymbol, Sym: uint32(v)}
	case *sexp.Pair:
		return &packedDatum{Kind: datumPair, Car: packDatum(v.Car), Cdr: packDatum(v.Cdr)}
	case int64:
		return &packedDatum{Kind: datumInt, Int: v}
	case int:
		return &packedDatum{Kind: datumInt, Int: int64(v)}
	case float64:
		return &packedDatum{Kind: datumFloat, Float: v}
	case string:
		return &packedDatum{Kind: datumString, Str: v}
	case bool:
		return &packedDatum{Kind: datumBool, Bool: v}
	default:
		return &packedDatum{Kind: datumSentinel, Str: fmt.Sprintf("%v", d)}
	}
}

func unpackDatum(p *packedDatum) sexp.Datum {
	if p == nil {
		return sexp.Nil
	}
	switch p.Kind {
	case datumSymbol:
		return sexp.Symbol(p.Sym)
	case datumPair:
		return sexp.NewPair(unpackDatum(p.Car), unpackDatum(p.Cdr))
	case datumInt:
		return p.Int
	case datumFloat:
		return p.Float
	case datumString:
		return p.Str
	case datumBool:
		return p.Bool
	default:
		switch p.Str {
		case string(sexp.Nil):
			return sexp.Nil
		case string(sexp.Undefined):
			return sexp.Undefined
		case string(sexp.EOF):
			return sexp.EOF
		default:
			return sexp.Nil
		}
	}
}

// packer builds a Packed table from a live Node tree.
type packer struct {
	packed  Packed
	nodeIdx map[*Node]int
	lvarIdx map[*LVar]int
}

// Pack serializes the IR subtree rooted at n into a flat, index-based
// table (spec §4.7). LABEL sharing is preserved: a LABEL visited twice
// gets one table slot and two references to it.
func Pack(n *Node) *Packed {
	p := &packer{nodeIdx: make(map[*Node]int), lvarIdx: make(map[*LVar]int)}
	root := p.nodeRef(n)
	p.packed.Root = root
	return &p.packed
}

func (p *packer) nodeRef(n *Node) int {
	if n == nil {
		return 0
	}
	if idx, ok := p.nodeIdx[n]; ok {
		return idx + 1
	}
	idx := len(p.packed.Nodes)
	p.packed.Nodes = append(p.packed.Nodes, packedNode{})
	p.nodeIdx[n] = idx

	pn := packedNode{
		Tag: uint8(n.Tag), Sym: uint32(n.Sym), DefFlags: uint8(n.DefFlags),
		Kind: uint8(n.Kind), ReqArgs: n.ReqArgs, OptArg: n.OptArg,
		CallFlagV: uint8(n.CallFlagV), LambdaFlagV: uint8(n.LambdaFlagV),
		LabelID: n.LabelID, InsnOpcode: n.InsnV.Opcode,
		InsnOperand: n.InsnV.Operands, InsnNOperand: n.InsnV.NOperand,
	}
	if n.Value != nil {
		pn.Value = packDatum(n.Value)
	}
	pn.LVarIdx = p.lvarRef(n.LVarRef)
	pn.ExprIdx = p.nodeRef(n.Expr)
	pn.TestIdx = p.nodeRef(n.Test)
	pn.ThenIdx = p.nodeRef(n.Then)
	pn.ElseIdx = p.nodeRef(n.Else)
	pn.Arg0Idx = p.nodeRef(n.Arg0)
	pn.Arg1Idx = p.nodeRef(n.Arg1)
	pn.ProcIdx = p.nodeRef(n.Proc)
	pn.BodyIdx = p.nodeRef(n.Body)
	pn.ProducerIdx = p.nodeRef(n.Producer)
	pn.LVarsIdx = p.lvarsRef(n.LVars)
	pn.InitsIdx = p.nodesRef(n.Inits)
	pn.ItemsIdx = p.nodesRef(n.Items)
	pn.ArgsIdx = p.nodesRef(n.Args)

	p.packed.Nodes[idx] = pn
	return idx + 1
}

func (p *packer) nodesRef(ns []*Node) []int {
	if len(ns) == 0 {
		return nil
	}
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = p.nodeRef(n)
	}
	return out
}

func (p *packer) lvarRef(v *LVar) int {
	if v == nil {
		return 0
	}
	if idx, ok := p.lvarIdx[v]; ok {
		return idx + 1
	}
	idx := len(p.packed.LVars)
	p.lvarIdx[v] = idx
	p.packed.LVars = append(p.packed.LVars, packedLVar{Name: uint32(v.Name)})
	return idx + 1
}

func (p *packer) lvarsRef(vs []*LVar) []int {
	if len(vs) == 0 {
		return nil
	}
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = p.lvarRef(v)
	}
	return out
}

// unpacker rebuilds a Node tree from a Packed table.
type unpacker struct {
	packed *Packed
	nodes  []*Node
	lvars  []*LVar
}

// Unpack reverses Pack, cloning fresh LVars for every binder in the table
// (spec §4.7: "cloning LVars... while preserving topology and LABEL
// sharing via a memo table" — here the memo table is simply the nodes
// slice, indexed once up front so cycles through LABEL resolve correctly).
func Unpack(p *Packed) (*Node, error) {
	if p.Root == 0 {
		return nil, nil
	}
	u := &unpacker{packed: p}
	u.lvars = make([]*LVar, len(p.LVars))
	for i, pl := range p.LVars {
		u.lvars[i] = NewLVar(sexp.Symbol(pl.Name))
	}
	u.nodes = make([]*Node, len(p.Nodes))
	for i := range p.Nodes {
		u.nodes[i] = &Node{}
	}
	for i, pn := range p.Nodes {
		if int(pn.Tag) >= int(tagCount) {
			return nil, fmt.Errorf("ir: unpack: unknown tag %d", pn.Tag)
		}
		n := u.nodes[i]
		n.Tag = Tag(pn.Tag)
		n.Sym = sexp.Symbol(pn.Sym)
		n.DefFlags = DefineFlag(pn.DefFlags)
		n.Kind = LetKind(pn.Kind)
		n.ReqArgs = pn.ReqArgs
		n.OptArg = pn.OptArg
		n.CallFlagV = CallFlag(pn.CallFlagV)
		n.LambdaFlagV = LambdaFlag(pn.LambdaFlagV)
		n.LabelID = pn.LabelID
		n.InsnV = Insn{Opcode: pn.InsnOpcode, Operands: pn.InsnOperand, NOperand: pn.InsnNOperand}
		if pn.Value != nil {
			n.Value = unpackDatum(pn.Value)
		}
		n.LVarRef = u.lvarAt(pn.LVarIdx)
		n.Expr = u.nodeAt(pn.ExprIdx)
		n.Test = u.nodeAt(pn.TestIdx)
		n.Then = u.nodeAt(pn.ThenIdx)
		n.Else = u.nodeAt(pn.ElseIdx)
		n.Arg0 = u.nodeAt(pn.Arg0Idx)
		n.Arg1 = u.nodeAt(pn.Arg1Idx)
		n.Proc = u.nodeAt(pn.ProcIdx)
		n.Body = u.nodeAt(pn.BodyIdx)
		n.Producer = u.nodeAt(pn.ProducerIdx)
		n.LVars = u.lvarsAt(pn.LVarsIdx)
		n.Inits = u.nodesAt(pn.InitsIdx)
		n.Items = u.nodesAt(pn.ItemsIdx)
		n.Args = u.nodesAt(pn.ArgsIdx)
	}
	root := u.nodeAt(p.Root)
	recomputeCounts(root)
	return root, nil
}

func (u *unpacker) nodeAt(idx int) *Node {
	if idx == 0 {
		return nil
	}
	return u.nodes[idx-1]
}

func (u *unpacker) nodesAt(idx []int) []*Node {
	if len(idx) == 0 {
		return nil
	}
	out := make([]*Node, len(idx))
	for i, ix := range idx {
		out[i] = u.nodeAt(ix)
	}
	return out
}

func (u *unpacker) lvarAt(idx int) *LVar {
	if idx == 0 {
		return nil
	}
	return u.lvars[idx-1]
}

func (u *unpacker) lvarsAt(idx []int) []*LVar {
	if len(idx) == 0 {
		return nil
	}
	out := make([]*LVar, len(idx))
	for i, ix := range idx {
		out[i] = u.lvarAt(ix)
	}
	return out
}

// recomputeCounts resets and rebuilds every LVar's ref/set counters from
// the unpacked tree, since the wire format doesn't carry counters
// directly — it carries the LREF/LSET occurrences they must equal (spec
// §8 invariant 1).
func recomputeCounts(root *Node) {
	seenLVars := make(map[*LVar]bool)
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Tag {
		case TagLref:
			resetOnce(n.LVarRef, seenLVars)
			n.LVarRef.refCount++
		case TagLset:
			resetOnce(n.LVarRef, seenLVars)
			n.LVarRef.setCount++
		}
		for _, v := range n.LVars {
			resetOnce(v, seenLVars)
		}
		for _, c := range Children(n) {
			walk(c)
		}
	}
	walk(root)
}

func resetOnce(v *LVar, seen map[*LVar]bool) {
	if v == nil || seen[v] {
		return
	}
	seen[v] = true
	v.refCount = 0
	v.setCount = 0
}

// Marshal packs n and CBOR-encodes it in one step.
func Marshal(n *Node) ([]byte, error) {
	return cborEncMode.Marshal(Pack(n))
}

// Unmarshal decodes packed CBOR bytes and rebuilds the Node tree.
func Unmarshal(data []byte) (*Node, error) {
	var p Packed
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("ir: unmarshal packed IR: %w", err)
	}
	return Unpack(&p)
}

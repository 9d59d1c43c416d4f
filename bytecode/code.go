package bytecode

import (
	"github.com/chazu/schemec/cerror"
	"github.com/chazu/schemec/sexp"
)

// Insn is one emitted instruction: an opcode, its operands (sign-extended
// into int64 regardless of the VM's native width), and the source form it
// came from for debugging — the same triple chunk.go's byte-oriented Emit/
// EmitWithOperand pair produces, kept as a struct instead of a raw byte
// stream so SetLabel/Finish and the peephole combiner can inspect and replace
// the last instruction without re-decoding it (spec §4.10:
// "compiled-code-current-insn", "compiled-code-replace-insn!").
type Insn struct {
	Op       Opcode
	Operands []int64
	Label    *Label // set instead of a literal operand for branch targets
	Src      *cerror.SourceForm
}

// Label is an opaque token a builder hands out via NewLabel; SetLabel
// records the instruction offset it denotes once the target is reached.
// Unresolved at finalize is an internal error (spec §8, boundary
// behavior 2).
type Label struct {
	id       int
	resolved bool
	target   int // instruction index, not byte offset
}

// CompiledCode is the finished product of one compiled lambda or
// top-level form: the instruction vector, its literal pool, and the
// metadata the VM needs to set up a call frame (spec §2 "instruction
// vector plus literals plus metadata").
type CompiledCode struct {
	Name     sexp.Symbol
	HasName  bool // Symbol 0 is a valid interned name, so a separate flag distinguishes "anonymous"
	ReqArgs  int
	OptArg   int
	Parent   *CompiledCode
	Insns    []Insn
	Literals []sexp.Datum
	MaxStack int

	litIndex map[sexp.Datum]int
}

// Builder accumulates instructions for one CompiledCode. It owns label
// allocation/patching and the one-back peephole ring, mirroring
// chunk.go's Emit/EmitJump/PatchJump trio and spec §4.10's
// "compiled-code-builder" operation set.
type Builder struct {
	reqArgs, optArg int
	name            sexp.Symbol
	hasName         bool
	parent          *CompiledCode
	fromIntform     bool // true when built from an already-resolved packed IR, skipping re-validation

	insns    []Insn
	literals []sexp.Datum
	litIndex map[sexp.Datum]int
	labels   []*Label

	depth, maxDepth int
}

// NewBuilder corresponds to make-compiled-code-builder(reqargs, optargs,
// name, parent, intform).
func NewBuilder(reqArgs, optArg int, name sexp.Symbol, hasName bool, parent *CompiledCode, fromIntform bool) *Builder {
	return &Builder{
		reqArgs:     reqArgs,
		optArg:      optArg,
		name:        name,
		hasName:     hasName,
		parent:      parent,
		fromIntform: fromIntform,
		litIndex:    make(map[sexp.Datum]int),
	}
}

// NewLabel allocates an unresolved label (compiled-code-new-label).
func (b *Builder) NewLabel() *Label {
	l := &Label{id: len(b.labels)}
	b.labels = append(b.labels, l)
	return l
}

// SetLabel records the current emit position as l's target
// (compiled-code-set-label!). A label may be set exactly once.
func (b *Builder) SetLabel(l *Label) {
	if l.resolved {
		panic("bytecode: label set twice")
	}
	l.target = len(b.insns)
	l.resolved = true
}

// CurrentInsn returns the last emitted instruction and true, or the zero
// Insn and false if nothing has been emitted yet
// (compiled-code-current-insn) — the peephole combiner's lookback.
func (b *Builder) CurrentInsn() (Insn, bool) {
	if len(b.insns) == 0 {
		return Insn{}, false
	}
	return b.insns[len(b.insns)-1], true
}

// ReplaceCurrentInsn overwrites the last emitted instruction
// (compiled-code-replace-insn!), used by the peephole combiner to fuse
// two adjacent instructions into one.
func (b *Builder) ReplaceCurrentInsn(in Insn) {
	if len(b.insns) == 0 {
		panic("bytecode: no instruction to replace")
	}
	b.adjustDepth(b.insns[len(b.insns)-1], -1)
	b.insns[len(b.insns)-1] = in
	b.adjustDepth(in, 1)
}

// Put appends in verbatim (compiled-code-put-insn!). Callers that want
// peephole fusion should consult CurrentInsn first and call
// ReplaceCurrentInsn instead when a fusion applies.
func (b *Builder) Put(in Insn) {
	b.insns = append(b.insns, in)
	b.adjustDepth(in, 1)
}

// sign is +1 when adding an instruction, -1 when removing one for
// replacement, so MaxStack stays accurate across peephole fusions.
func (b *Builder) adjustDepth(in Insn, sign int) {
	info := GetOpcodeInfo(in.Op)
	pop := info.StackPop
	if pop < 0 {
		pop = 0 // variable-arity ops (argc in operand) are counted as popping nothing; no caller corrects for them
	}
	b.depth += sign * (info.StackPush - pop)
	if b.depth > b.maxDepth {
		b.maxDepth = b.depth
	}
}

// AddLiteral interns v into the literal pool, returning its index.
// Datum equality is Go `==` on the concrete value, matching sexp.Datum's
// use as a plain `any` over comparable Scheme value representations.
func (b *Builder) AddLiteral(v sexp.Datum) int {
	if idx, ok := b.litIndex[v]; ok {
		return idx
	}
	idx := len(b.literals)
	b.literals = append(b.literals, v)
	b.litIndex[v] = idx
	return idx
}

// Emit appends a plain instruction with no label operand.
func (b *Builder) Emit(op Opcode, src *cerror.SourceForm, operands ...int64) {
	b.Put(Insn{Op: op, Operands: operands, Src: src})
}

// EmitBranch appends a branch instruction targeting l, resolved at
// Finish. extra carries any non-label operand the opcode also needs
// (e.g. BNUMNEI's immediate).
func (b *Builder) EmitBranch(op Opcode, l *Label, src *cerror.SourceForm, extra ...int64) {
	b.Put(Insn{Op: op, Operands: extra, Label: l, Src: src})
}

// Finish corresponds to compiled-code-finish-builder(maxstack): it
// verifies every label was resolved (spec §8 boundary behavior: "For
// every LABEL in post-pass-3 code, the label is resolved... before
// finalization") and produces the immutable CompiledCode.
func (b *Builder) Finish() (*CompiledCode, error) {
	for _, l := range b.labels {
		if !l.resolved {
			return nil, cerror.NewInternalError("label %d never resolved", l.id)
		}
	}
	cc := &CompiledCode{
		Name:     b.name,
		HasName:  b.hasName,
		ReqArgs:  b.reqArgs,
		OptArg:   b.optArg,
		Parent:   b.parent,
		Insns:    b.insns,
		Literals: b.literals,
		MaxStack: b.maxDepth,
	}
	return cc, nil
}

// LabelTarget returns the instruction index l was bound to, or -1 if
// unresolved; the disassembler uses this to print jump targets.
func (l *Label) LabelTarget() int {
	if !l.resolved {
		return -1
	}
	return l.target
}

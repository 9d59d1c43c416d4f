package compile

import (
	"strconv"
	"testing"
	"unicode"

	"github.com/chazu/schemec/cenv"
	"github.com/chazu/schemec/config"
	"github.com/chazu/schemec/host"
	"github.com/chazu/schemec/ir"
	"github.com/chazu/schemec/sexp"
)

// sread is a small test-only s-expression reader, just enough to write
// compiler tests as plain Scheme text instead of building sexp.Pair trees
// by hand. It supports the subset pass 1's own test forms need: lists,
// symbols, integers, strings, quote ('), and booleans (#t/#f).
type sreader struct {
	src []rune
	pos int
	tab *sexp.Table
}

func sread(t *testing.T, tab *sexp.Table, src string) sexp.Datum {
	t.Helper()
	r := &sreader{src: []rune(src), tab: tab}
	r.skipSpace()
	d := r.datum(t)
	return d
}

func (r *sreader) skipSpace() {
	for r.pos < len(r.src) && unicode.IsSpace(r.src[r.pos]) {
		r.pos++
	}
}

func (r *sreader) peek() rune {
	if r.pos >= len(r.src) {
		return 0
	}
	return r.src[r.pos]
}

func (r *sreader) datum(t *testing.T) sexp.Datum {
	t.Helper()
	r.skipSpace()
	switch c := r.peek(); {
	case c == '(':
		r.pos++
		var items []sexp.Datum
		var tail sexp.Datum = sexp.Nil
		for {
			r.skipSpace()
			if r.peek() == ')' {
				r.pos++
				break
			}
			if r.peek() == '.' && r.pos+1 < len(r.src) && (unicode.IsSpace(r.src[r.pos+1]) || r.src[r.pos+1] == '(') {
				r.pos++
				tail = r.datum(t)
				r.skipSpace()
				if r.peek() != ')' {
					t.Fatalf("sread: malformed dotted list in %q", string(r.src))
				}
				r.pos++
				break
			}
			items = append(items, r.datum(t))
		}
		result := tail
		for i := len(items) - 1; i >= 0; i-- {
			result = sexp.NewPair(items[i], result)
		}
		return result
	case c == '\'':
		r.pos++
		return sexp.List(r.tab.Intern("quote"), r.datum(t))
	case c == '"':
		r.pos++
		start := r.pos
		for r.peek() != '"' {
			r.pos++
		}
		s := string(r.src[start:r.pos])
		r.pos++
		return s
	default:
		start := r.pos
		for r.pos < len(r.src) && !unicode.IsSpace(r.src[r.pos]) && r.src[r.pos] != '(' && r.src[r.pos] != ')' {
			r.pos++
		}
		text := string(r.src[start:r.pos])
		switch text {
		case "#t":
			return true
		case "#f":
			return false
		}
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n
		}
		return r.tab.Intern(text)
	}
}

// sreadSeq reads every top-level form in src.
func sreadSeq(t *testing.T, tab *sexp.Table, src string) []sexp.Datum {
	t.Helper()
	r := &sreader{src: []rune(src), tab: tab}
	var forms []sexp.Datum
	for {
		r.skipSpace()
		if r.pos >= len(r.src) {
			return forms
		}
		forms = append(forms, r.datum(t))
	}
}

// newTestPass1 builds a Pass1 bound to a fresh runtime and symbol table,
// every inlinable prelude binding installed (cons, +, <, etc.), mirroring
// the module a real host would hand pass 1 for these forms to resolve
// against.
func newTestPass1(t *testing.T) (*Pass1, *sexp.Table, *cenv.CEnv) {
	t.Helper()
	tab := sexp.NewTable()
	rt := host.NewRuntime()
	rt.InstallPrelude(tab)
	p1 := NewPass1(rt, tab, config.Default().Compiler)
	env := cenv.New(rt.CurrentModule())
	return p1, tab, env
}

func mustCompile(t *testing.T, p1 *Pass1, tab *sexp.Table, env *cenv.CEnv, src string) *ir.Node {
	t.Helper()
	form := sread(t, tab, src)
	node, err := p1.Compile(form, env)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return node
}

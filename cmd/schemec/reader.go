package main

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/chazu/schemec/sexp"
)

// reader is a minimal recursive-descent s-expression reader, good enough
// to drive this CLI's demo compilations. It is deliberately kept out of
// package sexp: the compiler core's own doc comment is explicit that "the
// reader... live[s] outside the core" (sexp/symbol.go) — pass 1 only ever
// sees Datums a host already produced. Vector literals (#(...)) are not
// supported since sexp has no Vector shape yet; callers needing one
// should build it through a future host extension instead.
type reader struct {
	src []rune
	pos int
	tab *sexp.Table
}

func newReader(src string, tab *sexp.Table) *reader {
	return &reader{src: []rune(src), tab: tab}
}

// ReadAll reads every top-level form in src.
func ReadAll(src string, tab *sexp.Table) ([]sexp.Datum, error) {
	r := newReader(src, tab)
	var forms []sexp.Datum
	for {
		r.skipAtmosphere()
		if r.atEOF() {
			return forms, nil
		}
		d, err := r.readDatum()
		if err != nil {
			return nil, err
		}
		forms = append(forms, d)
	}
}

func (r *reader) atEOF() bool { return r.pos >= len(r.src) }

func (r *reader) peek() rune {
	if r.atEOF() {
		return 0
	}
	return r.src[r.pos]
}

func (r *reader) next() rune {
	c := r.peek()
	r.pos++
	return c
}

func (r *reader) skipAtmosphere() {
	for !r.atEOF() {
		c := r.peek()
		switch {
		case unicode.IsSpace(c):
			r.pos++
		case c == ';':
			for !r.atEOF() && r.peek() != '\n' {
				r.pos++
			}
		default:
			return
		}
	}
}

func (r *reader) readDatum() (sexp.Datum, error) {
	r.skipAtmosphere()
	if r.atEOF() {
		return nil, fmt.Errorf("reader: unexpected end of input")
	}
	switch c := r.peek(); {
	case c == '(' || c == '[':
		return r.readList(c)
	case c == ')' || c == ']':
		return nil, fmt.Errorf("reader: unexpected %q", c)
	case c == '\'':
		r.next()
		return r.readWrapped("quote")
	case c == '`':
		r.next()
		return r.readWrapped("quasiquote")
	case c == ',':
		r.next()
		if r.peek() == '@' {
			r.next()
			return r.readWrapped("unquote-splicing")
		}
		return r.readWrapped("unquote")
	case c == '"':
		return r.readString()
	case c == '#':
		return r.readHash()
	default:
		return r.readAtom()
	}
}

func (r *reader) readWrapped(sym string) (sexp.Datum, error) {
	inner, err := r.readDatum()
	if err != nil {
		return nil, err
	}
	return sexp.List(r.tab.Intern(sym), inner), nil
}

func (r *reader) readList(open rune) (sexp.Datum, error) {
	close := ')'
	if open == '[' {
		close = ']'
	}
	r.next() // consume open
	var items []sexp.Datum
	var tail sexp.Datum = sexp.Nil
	for {
		r.skipAtmosphere()
		if r.atEOF() {
			return nil, fmt.Errorf("reader: unterminated list")
		}
		if r.peek() == close {
			r.next()
			break
		}
		if r.peek() == '.' && r.isDelimitedDot() {
			r.next()
			d, err := r.readDatum()
			if err != nil {
				return nil, err
			}
			tail = d
			r.skipAtmosphere()
			if r.atEOF() || r.peek() != close {
				return nil, fmt.Errorf("reader: malformed dotted list")
			}
			r.next()
			break
		}
		d, err := r.readDatum()
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	result := tail
	for i := len(items) - 1; i >= 0; i-- {
		result = sexp.NewPair(items[i], result)
	}
	return result, nil
}

// isDelimitedDot reports whether the '.' at the current position is a
// standalone dotted-pair marker rather than the start of a symbol like
// "..." or a number like ".5".
func (r *reader) isDelimitedDot() bool {
	if r.pos+1 >= len(r.src) {
		return true
	}
	return isDelimiter(r.src[r.pos+1])
}

func isDelimiter(c rune) bool {
	return unicode.IsSpace(c) || c == '(' || c == ')' || c == '[' || c == ']' || c == '"' || c == ';' || c == 0
}

func (r *reader) readString() (sexp.Datum, error) {
	r.next() // opening quote
	var b strings.Builder
	for {
		if r.atEOF() {
			return nil, fmt.Errorf("reader: unterminated string")
		}
		c := r.next()
		if c == '"' {
			return b.String(), nil
		}
		if c == '\\' {
			if r.atEOF() {
				return nil, fmt.Errorf("reader: unterminated escape")
			}
			switch e := r.next(); e {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(e)
			}
			continue
		}
		b.WriteRune(c)
	}
}

func (r *reader) readHash() (sexp.Datum, error) {
	r.next() // '#'
	switch c := r.peek(); c {
	case 't':
		r.next()
		return true, nil
	case 'f':
		r.next()
		return false, nil
	case '(':
		return nil, fmt.Errorf("reader: vector literals are not supported")
	default:
		return nil, fmt.Errorf("reader: unsupported # syntax %q", c)
	}
}

func (r *reader) readAtom() (sexp.Datum, error) {
	start := r.pos
	for !r.atEOF() && !isDelimiter(r.peek()) && r.peek() != '\'' && r.peek() != '`' && r.peek() != ',' {
		r.pos++
	}
	text := string(r.src[start:r.pos])
	if text == "" {
		return nil, fmt.Errorf("reader: empty atom")
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && strings.ContainsAny(text, ".eE") {
		return f, nil
	}
	return r.tab.Intern(text), nil
}

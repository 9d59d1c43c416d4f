package sexp

import "fmt"

// Datum is any Scheme value that can appear in source or as a quoted
// literal: a pair, a symbol, or a self-evaluating atom (number,
// string, character, boolean, the empty list, or the unspecified value).
// It deliberately has no methods beyond Go's own comparability — pass 1
// only needs to recognize shapes (pair vs. symbol vs. atom), not operate
// on Scheme semantics, which is the VM's job.
type Datum interface{}

// Pair is a cons cell. The empty list is represented by the distinguished
// Nil value below, never by a nil *Pair, so that Pair fields are never nil
// when Datum holds a *Pair.
type Pair struct {
	Car Datum
	Cdr Datum
}

// NewPair conses a and d.
func NewPair(a, d Datum) *Pair { return &Pair{Car: a, Cdr: d} }

// sentinel is used for the small set of singleton Scheme constants that
// must be distinguishable from any other Datum by identity.
type sentinel string

const (
	// Nil is the empty list, ().
	Nil sentinel = "()"
	// Undefined is the "undefined value" constant, the value of (begin).
	Undefined sentinel = "#<undef>"
	// EOF marks end of input (not produced by the core, but recognized as
	// a possible CONST payload coming from the reader).
	EOF sentinel = "#<eof>"
)

// IsNil reports whether d is the empty list.
func IsNil(d Datum) bool { s, ok := d.(sentinel); return ok && s == Nil }

// IsUndefined reports whether d is the unspecified-value constant.
func IsUndefined(d Datum) bool { s, ok := d.(sentinel); return ok && s == Undefined }

// IsPair reports whether d is a non-empty pair.
func IsPair(d Datum) bool { _, ok := d.(*Pair); return ok }

// IsSymbol reports whether d is a symbol.
func IsSymbol(d Datum) bool { _, ok := d.(Symbol); return ok }

// List builds a proper list out of data.
func List(data ...Datum) Datum {
	var result Datum = Nil
	for i := len(data) - 1; i >= 0; i-- {
		result = NewPair(data[i], result)
	}
	return result
}

// ToSlice flattens a proper list into a Go slice. It returns ok=false if d
// is not a proper (nil-terminated) list.
func ToSlice(d Datum) (items []Datum, ok bool) {
	for {
		if IsNil(d) {
			return items, true
		}
		p, isPair := d.(*Pair)
		if !isPair {
			return items, false
		}
		items = append(items, p.Car)
		d = p.Cdr
	}
}

// Length returns the length of a proper list, or -1 if d is improper.
func Length(d Datum) int {
	n := 0
	for {
		if IsNil(d) {
			return n
		}
		p, ok := d.(*Pair)
		if !ok {
			return -1
		}
		n++
		d = p.Cdr
	}
}

// Car returns the car of a pair, or Nil if d is not a pair (mirrors Scheme
// semantics loosely enough for pass-1 convenience; the real accessor
// errors belong to the reader/runtime, not the compiler core).
func Car(d Datum) Datum {
	if p, ok := d.(*Pair); ok {
		return p.Car
	}
	return Nil
}

// Cdr returns the cdr of a pair, or Nil if d is not a pair.
func Cdr(d Datum) Datum {
	if p, ok := d.(*Pair); ok {
		return p.Cdr
	}
	return Nil
}

// Write renders d using a table for symbol names, for diagnostics only.
func Write(d Datum, t *Table) string {
	switch v := d.(type) {
	case sentinel:
		return string(v)
	case Symbol:
		return t.Name(v)
	case *Pair:
		return writePair(v, t)
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func writePair(p *Pair, t *Table) string {
	out := "(" + Write(p.Car, t)
	rest := p.Cdr
	for {
		switch v := rest.(type) {
		case sentinel:
			if v == Nil {
				return out + ")"
			}
			return out + " . " + Write(rest, t) + ")"
		case *Pair:
			out += " " + Write(v.Car, t)
			rest = v.Cdr
		default:
			return out + " . " + Write(rest, t) + ")"
		}
	}
}

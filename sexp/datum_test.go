package sexp

import "testing"

func TestListAndToSlice(t *testing.T) {
	items := []Datum{int64(1), int64(2), int64(3)}
	l := List(items...)
	if Length(l) != 3 {
		t.Fatalf("Length = %d, want 3", Length(l))
	}
	got, ok := ToSlice(l)
	if !ok {
		t.Fatalf("ToSlice: not a proper list")
	}
	if len(got) != 3 || got[0] != int64(1) || got[2] != int64(3) {
		t.Fatalf("ToSlice = %v", got)
	}
}

func TestImproperList(t *testing.T) {
	l := NewPair(int64(1), int64(2))
	if Length(l) != -1 {
		t.Fatalf("Length of improper list = %d, want -1", Length(l))
	}
	if _, ok := ToSlice(l); ok {
		t.Fatalf("ToSlice should fail on improper list")
	}
}

func TestNilUndefined(t *testing.T) {
	if !IsNil(Nil) {
		t.Fatal("IsNil(Nil) = false")
	}
	if IsNil(Undefined) {
		t.Fatal("IsNil(Undefined) = true")
	}
	if !IsUndefined(Undefined) {
		t.Fatal("IsUndefined(Undefined) = false")
	}
}

func TestSymbolInterning(t *testing.T) {
	tab := NewTable()
	a := tab.Intern("foo")
	b := tab.Intern("foo")
	c := tab.Intern("bar")
	if a != b {
		t.Fatalf("same name interned to different symbols: %d vs %d", a, b)
	}
	if a == c {
		t.Fatalf("different names interned to same symbol")
	}
	if tab.Name(a) != "foo" {
		t.Fatalf("Name(a) = %q, want foo", tab.Name(a))
	}
	if tab.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tab.Len())
	}
}

func TestWrite(t *testing.T) {
	tab := NewTable()
	s := tab.Intern("a")
	l := List(Datum(s), int64(1), Nil)
	out := Write(l, tab)
	if out != "(a 1 ())" {
		t.Fatalf("Write = %q", out)
	}
}

// Package cerror defines the four typed errors the compiler core can raise
// (spec §7): syntax-error, arity-error, compile-error, and internal-error.
// All four are signaled synchronously from the offending pass-1/pass-2/
// pass-3 handler and unwind the whole pipeline — none of them are meant to
// be recovered from mid-compilation.
package cerror

import (
	"fmt"

	"github.com/google/uuid"
)

// SourceForm is the opaque diagnostic handle IR nodes carry in their `src`
// slot. It is never interpreted by the core beyond producing a
// human-readable location; equality and optimization never look at it.
type SourceForm struct {
	File string
	Line int
	Form string // printed form, truncated by the caller if large
}

func (s *SourceForm) String() string {
	if s == nil {
		return "<unknown location>"
	}
	if s.File == "" {
		return s.Form
	}
	return fmt.Sprintf("%s:%d: %s", s.File, s.Line, s.Form)
}

// id mints a diagnostic correlation ID the way lib/runtime/objectspace.go
// mints object identities: a random UUID, logged and returned but never
// parsed or compared by the core itself.
func id() string { return uuid.NewString() }

// SyntaxError reports a malformed special form: wrong shape, wrong arity,
// or a toplevel-only form used where it isn't allowed.
type SyntaxError struct {
	ID   string
	Form *SourceForm
	Msg  string
}

func NewSyntaxError(form *SourceForm, format string, args ...any) *SyntaxError {
	return &SyntaxError{ID: id(), Form: form, Msg: fmt.Sprintf(format, args...)}
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax-error[%s]: %s at %s", e.ID, e.Msg, e.Form)
}

// ArityError reports an inlined or embedded call invoked with the wrong
// number of arguments, caught at compile time instead of at the call.
type ArityError struct {
	ID       string
	Form     *SourceForm
	Proc     string
	Expected string // e.g. "2", "1 or 2", "at least 3"
	Actual   int
}

func NewArityError(form *SourceForm, proc, expected string, actual int) *ArityError {
	return &ArityError{ID: id(), Form: form, Proc: proc, Expected: expected, Actual: actual}
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("arity-error[%s]: %s expects %s argument(s), got %d at %s",
		e.ID, e.Proc, e.Expected, e.Actual, e.Form)
}

// CompileError wraps any other compilation failure: a host operation that
// errored, an inliner that rejected a call, a packed-IR round trip that
// failed to validate.
type CompileError struct {
	ID   string
	Form *SourceForm
	Err  error
}

func NewCompileError(form *SourceForm, err error) *CompileError {
	return &CompileError{ID: id(), Form: form, Err: err}
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile-error[%s]: %s at %s", e.ID, e.Err, e.Form)
}

func (e *CompileError) Unwrap() error { return e.Err }

// InternalError indicates an invariant violation: an unknown IR tag, a
// malformed packed-IR stream, a LABEL left unresolved at finalize. Its
// presence always means a bug in the core, never a bad input program.
type InternalError struct {
	ID  string
	Msg string
}

func NewInternalError(format string, args ...any) *InternalError {
	return &InternalError{ID: id(), Msg: fmt.Sprintf(format, args...)}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal-error[%s]: %s", e.ID, e.Msg)
}

package host

import (
	"fmt"
	"sync"

	"github.com/chazu/schemec/sexp"
)

// binding is Runtime's concrete Binding: a flat global-binding cell,
// modeled on vm/object.go's slot table but flattened from "object with
// numbered slots" to "module with named bindings," since the core only
// ever needs name -> value lookup, never instance layout.
type binding struct {
	name    sexp.Symbol
	value   sexp.Datum
	isConst bool
	macro   MacroTransformer
	inliner any
}

func (b *binding) Name() sexp.Symbol { return b.name }
func (b *binding) Value() sexp.Datum { return b.value }
func (b *binding) IsConst() bool     { return b.isConst }

func (b *binding) Macro() (MacroTransformer, bool) {
	if b.macro == nil {
		return nil, false
	}
	return b.macro, true
}

func (b *binding) Inliner() (any, bool) {
	if b.inliner == nil {
		return nil, false
	}
	return b.inliner, true
}

// module is Runtime's concrete Module.
type module struct {
	mu       sync.RWMutex
	name     string
	bindings map[sexp.Symbol]*binding
	exported map[sexp.Symbol]bool
	imported []Module
}

func newModule(name string) *module {
	return &module{name: name, bindings: make(map[sexp.Symbol]*binding), exported: make(map[sexp.Symbol]bool)}
}

func (m *module) Name() string { return m.name }

func (m *module) FindBinding(name sexp.Symbol) (Binding, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.bindings[name]; ok {
		return b, true
	}
	for _, imp := range m.imported {
		if b, ok := imp.FindBinding(name); ok {
			return b, true
		}
	}
	return nil, false
}

func (m *module) InsertBinding(name sexp.Symbol, value sexp.Datum, isConst bool) Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &binding{name: name, value: value, isConst: isConst}
	m.bindings[name] = b
	return b
}

func (m *module) ExportSymbols(names []sexp.Symbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		if _, ok := m.bindings[n]; !ok {
			return fmt.Errorf("host: cannot export unbound name %d in module %s", n, m.name)
		}
		m.exported[n] = true
	}
	return nil
}

func (m *module) ImportModules(mods []Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imported = append(m.imported, mods...)
	return nil
}

// InsertMacro registers name as a macro binding (a Runtime-only
// convenience; not part of the Module interface because the spec treats
// macro installation as happening through define-syntax/define-macro
// lowering in pass 1, not as a directly host-exposed mutator).
func (m *module) InsertMacro(name sexp.Symbol, mac MacroTransformer) Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &binding{name: name, value: mac, macro: mac}
	m.bindings[name] = b
	return b
}

// InsertInliner registers name with an inliner descriptor (§4.5).
func (m *module) InsertInliner(name sexp.Symbol, value sexp.Datum, inliner any) Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &binding{name: name, value: value, inliner: inliner}
	m.bindings[name] = b
	return b
}

// Runtime is a minimal, in-memory stand-in for the VM ops of spec §6:
// vm-current-module, vm-set-current-module, vm-eval-situation,
// vm-compiler-flag-is-set?, plus find-module/make-module.
type Runtime struct {
	mu        sync.RWMutex
	modules   map[string]*module
	current   *module
	situation EvalSituation
	flags     map[CompilerFlag]bool
}

// NewRuntime creates a Runtime with a single "user" module current.
func NewRuntime() *Runtime {
	r := &Runtime{modules: make(map[string]*module), flags: make(map[CompilerFlag]bool)}
	r.current = r.makeModule("user")
	return r
}

// FindModule returns an existing module by name (find-module).
func (r *Runtime) FindModule(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// makeModule is MakeModule's concrete-typed counterpart, used internally
// where callers need the extra Runtime-only methods (InsertMacro,
// InsertInliner) rather than the public Module interface.
func (r *Runtime) makeModule(name string) *module {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modules[name]; ok {
		return m
	}
	m := newModule(name)
	r.modules[name] = m
	return m
}

// MakeModule creates (or returns the existing) module by name
// (make-module).
func (r *Runtime) MakeModule(name string) Module {
	return r.makeModule(name)
}

func (r *Runtime) CurrentModule() Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Runtime) SetCurrentModule(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if concrete, ok := m.(*module); ok {
		r.current = concrete
	}
}

func (r *Runtime) EvalSituation() EvalSituation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.situation
}

// SetEvalSituation is test/host-only plumbing; the spec's core only reads
// the situation, never sets it.
func (r *Runtime) SetEvalSituation(s EvalSituation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.situation = s
}

func (r *Runtime) CompilerFlagIsSet(flag CompilerFlag) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags[flag]
}

// SetCompilerFlag is host/test-only plumbing mirroring vm-compiler-flag
// setters in the real VM.
func (r *Runtime) SetCompilerFlag(flag CompilerFlag, set bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[flag] = set
}

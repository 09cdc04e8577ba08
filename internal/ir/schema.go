package ir

import (
	"fmt"
	"strings"
	"sync"
)

// Arg describes one schema argument slot.
type Arg struct {
	Name string
	Kind Kind
	// Default fills the slot when the caller omits it. Nil means required.
	Default Value
}

// Schema is the argument and return convention of an operator.
type Schema struct {
	Name    Symbol
	Args    []Arg
	Returns []Kind
}

// String renders the schema in "ns::op(Kind name, ...) -> Kind" form.
func (s Schema) String() string {
	var b strings.Builder
	b.WriteString(string(s.Name))
	b.WriteByte('(')
	for i, a := range s.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", a.Kind, a.Name)
		if a.Default != nil {
			fmt.Fprintf(&b, "=%s", Describe(a.Default))
		}
	}
	b.WriteString(") -> ")
	if len(s.Returns) == 1 {
		b.WriteString(s.Returns[0].String())
	} else {
		parts := make([]string, len(s.Returns))
		for i, k := range s.Returns {
			parts[i] = k.String()
		}
		b.WriteString("(" + strings.Join(parts, ", ") + ")")
	}
	return b.String()
}

// Operator is the handle identifying which operator is being invoked. Handles
// are created by a Registry and are immutable.
type Operator struct {
	schema Schema
}

// Symbol returns the operator identifier.
func (o *Operator) Symbol() Symbol {
	return o.schema.Name
}

// Schema returns the operator schema.
func (o *Operator) Schema() Schema {
	return o.schema
}

// NumArgs returns the number of stack entries the operator consumes.
func (o *Operator) NumArgs() int {
	return len(o.schema.Args)
}

// NumReturns returns the number of stack entries the operator produces.
func (o *Operator) NumReturns() int {
	return len(o.schema.Returns)
}

func (o *Operator) String() string {
	return o.schema.String()
}

// CheckArgs verifies arity and kinds of a full argument list.
func (o *Operator) CheckArgs(args []Value) error {
	if len(args) != len(o.schema.Args) {
		return NewInvalidInvocationError(o.Symbol(),
			fmt.Sprintf("expected %d arguments, got %d", len(o.schema.Args), len(args)))
	}
	for i, a := range o.schema.Args {
		if !a.Kind.Accepts(args[i]) {
			return NewInvalidInvocationError(o.Symbol(),
				fmt.Sprintf("argument %q: expected %s, got %s", a.Name, a.Kind, Describe(args[i])))
		}
	}
	return nil
}

// WithDefaults appends schema defaults for trailing omitted arguments.
func (o *Operator) WithDefaults(args []Value) ([]Value, error) {
	if len(args) > len(o.schema.Args) {
		return nil, NewInvalidInvocationError(o.Symbol(),
			fmt.Sprintf("expected at most %d arguments, got %d", len(o.schema.Args), len(args)))
	}
	out := append([]Value(nil), args...)
	for _, a := range o.schema.Args[len(args):] {
		if a.Default == nil {
			return nil, NewInvalidInvocationError(o.Symbol(),
				fmt.Sprintf("missing required argument %q", a.Name))
		}
		out = append(out, a.Default)
	}
	return out, nil
}

// Registry maps operator identifiers to handles. It is safe for concurrent
// use; registration normally happens once at startup.
type Registry struct {
	mu    sync.RWMutex
	ops   map[Symbol]*Operator
	order []Symbol
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[Symbol]*Operator)}
}

// Register adds an operator. The schema name is canonicalized.
func (r *Registry) Register(s Schema) (*Operator, error) {
	s.Name = Intern(string(s.Name))
	if s.Name.IsZero() {
		return nil, fmt.Errorf("register operator: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[s.Name]; exists {
		return nil, fmt.Errorf("register operator: %s already registered", s.Name)
	}
	op := &Operator{schema: s}
	r.ops[s.Name] = op
	r.order = append(r.order, s.Name)
	return op, nil
}

// MustRegister is Register that panics on error. For static tables.
func (r *Registry) MustRegister(s Schema) *Operator {
	op, err := r.Register(s)
	if err != nil {
		panic(err)
	}
	return op
}

// Lookup returns the handle for sym.
func (r *Registry) Lookup(sym Symbol) (*Operator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[sym]
	return op, ok
}

// Operators returns every handle in registration order.
func (r *Registry) Operators() []*Operator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Operator, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.ops[s])
	}
	return out
}

// Len returns the number of registered operators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

func unary(name string) Schema {
	return Schema{
		Name:    Symbol(name),
		Args:    []Arg{{Name: "self", Kind: KindTensor}},
		Returns: []Kind{KindTensor},
	}
}

func binary(name string) Schema {
	return Schema{
		Name:    Symbol(name),
		Args:    []Arg{{Name: "self", Kind: KindTensor}, {Name: "other", Kind: KindTensor}},
		Returns: []Kind{KindTensor},
	}
}

func withAlpha(name string) Schema {
	s := binary(name)
	s.Args = append(s.Args, Arg{Name: "alpha", Kind: KindScalar, Default: Int(1)})
	return s
}

// Builtins lists the schemas of the built-in operator set.
func Builtins() []Schema {
	return []Schema{
		withAlpha("aten::add"),
		withAlpha("aten::sub"),
		binary("aten::mul"),
		binary("aten::div"),
		unary("aten::neg"),
		unary("aten::abs"),
		unary("aten::relu"),
		unary("aten::exp"),
		unary("aten::log"),
		unary("aten::sqrt"),
		unary("aten::sigmoid"),
		unary("aten::tanh"),
		{
			Name:    "aten::mm",
			Args:    []Arg{{Name: "self", Kind: KindTensor}, {Name: "mat2", Kind: KindTensor}},
			Returns: []Kind{KindTensor},
		},
		unary("aten::t"),
		unary("aten::sum"),
		unary("aten::mean"),
		{
			Name:    "aten::reshape",
			Args:    []Arg{{Name: "self", Kind: KindTensor}, {Name: "shape", Kind: KindIntList}},
			Returns: []Kind{KindTensor},
		},
		{
			Name: "aten::clamp",
			Args: []Arg{
				{Name: "self", Kind: KindTensor},
				{Name: "min", Kind: KindScalar},
				{Name: "max", Kind: KindScalar},
			},
			Returns: []Kind{KindTensor},
		},
		binary("aten::eq"),
		binary("aten::gt"),
		{
			Name: "aten::where",
			Args: []Arg{
				{Name: "condition", Kind: KindTensor},
				{Name: "self", Kind: KindTensor},
				{Name: "other", Kind: KindTensor},
			},
			Returns: []Kind{KindTensor},
		},
	}
}

// DefaultRegistry returns a new registry holding Builtins.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range Builtins() {
		r.MustRegister(s)
	}
	return r
}

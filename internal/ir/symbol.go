package ir

import (
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// DefaultNamespace is applied to operator names given without a namespace.
const DefaultNamespace = "aten"

// Symbol is an interned operator identifier in canonical "namespace::name"
// form. Two Symbols name the same operator iff they are equal.
//
// The zero Symbol is not a valid operator.
type Symbol string

// symbols interns canonical forms so repeated lookups of hot operator names
// share one string.
var symbols sync.Map // raw string -> Symbol

// Intern returns the canonical Symbol for name.
//
// The name is NFC normalized and trimmed. A name without "::" is placed in
// DefaultNamespace. Intern never fails; validity of the operator is decided by
// a Registry, not here. An empty name yields the zero Symbol.
func Intern(name string) Symbol {
	if s, ok := symbols.Load(name); ok {
		return s.(Symbol)
	}

	canonical := canonicalize(name)
	s, _ := symbols.LoadOrStore(name, canonical)
	return s.(Symbol)
}

func canonicalize(name string) Symbol {
	n := strings.TrimSpace(norm.NFC.String(name))
	if n == "" {
		return ""
	}
	if !strings.Contains(n, "::") {
		n = DefaultNamespace + "::" + n
	}
	return Symbol(n)
}

// String returns the canonical form.
func (s Symbol) String() string {
	return string(s)
}

// IsZero reports whether s is the zero Symbol.
func (s Symbol) IsZero() bool {
	return s == ""
}

// Namespace returns the part before "::".
func (s Symbol) Namespace() string {
	ns, _, _ := strings.Cut(string(s), "::")
	return ns
}

// Name returns the unqualified operator name.
func (s Symbol) Name() string {
	_, name, ok := strings.Cut(string(s), "::")
	if !ok {
		return string(s)
	}
	return name
}

// InternAll interns every name, dropping empty entries.
func InternAll(names []string) []Symbol {
	out := make([]Symbol, 0, len(names))
	for _, n := range names {
		if s := Intern(n); !s.IsZero() {
			out = append(out, s)
		}
	}
	return out
}

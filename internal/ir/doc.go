// Package ir provides the operator-dispatch vocabulary shared by every other
// package: operator identifiers, operator schemas and the registry that hands
// out operator handles, the invocation record (Stack) with its values, the
// error taxonomy, and the canonical JSON used for digests and traces.
//
// ir imports only the tensor package. Backends, the reference engine, the
// fallback gate and the dispatcher all depend on ir; ir depends on none of
// them.
//
// Key constraints:
//   - Symbols are canonical: Intern("add") == Intern("aten::add")
//   - A Stack is owned by one caller and is not safe for concurrent use
//   - Canonical JSON forbids floats; callers format them as strings
//   - All JSON tags use snake_case
package ir

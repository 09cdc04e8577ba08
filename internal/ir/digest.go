package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/ltc/internal/tensor"
)

// DomainInvocation prefixes invocation digests. The version suffix allows
// the encoding to change without colliding with old digests.
const DomainInvocation = "ltc/invocation/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ArgsDigest computes a content digest of an invocation: the operator and its
// arguments. Equivalent invocation records produce equal digests.
//
// Host tensors contribute their data. Backend-resident tensors contribute
// only metadata, since reading their data would force materialization.
func ArgsDigest(op Symbol, args []Value) (string, error) {
	list := make([]any, len(args))
	for i, a := range args {
		cv, err := canonicalValue(a)
		if err != nil {
			return "", fmt.Errorf("ArgsDigest: argument %d: %w", i, err)
		}
		list[i] = cv
	}

	canonical, err := MarshalCanonical(map[string]any{
		"op":   string(op),
		"args": list,
	})
	if err != nil {
		return "", fmt.Errorf("ArgsDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainInvocation, canonical), nil
}

// canonicalValue converts a stack value into canonical-JSON-safe form.
func canonicalValue(v Value) (any, error) {
	switch x := v.(type) {
	case None:
		return map[string]any{"kind": "None"}, nil
	case Int:
		return map[string]any{"kind": "int", "value": int64(x)}, nil
	case Float:
		return map[string]any{"kind": "float", "value": FormatFloat(float64(x))}, nil
	case Bool:
		return map[string]any{"kind": "bool", "value": bool(x)}, nil
	case String:
		return map[string]any{"kind": "str", "value": string(x)}, nil
	case IntList:
		return map[string]any{"kind": "int[]", "value": x}, nil
	case TensorValue:
		if x.Tensor == nil {
			return nil, fmt.Errorf("nil tensor")
		}
		return canonicalTensor(x.Tensor), nil
	case TensorList:
		items := make([]any, len(x))
		for i, t := range x {
			if t == nil {
				return nil, fmt.Errorf("nil tensor at list index %d", i)
			}
			items[i] = canonicalTensor(t)
		}
		return map[string]any{"kind": "Tensor[]", "items": items}, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func canonicalTensor(t Tensor) map[string]any {
	m := map[string]any{
		"kind":   "Tensor",
		"shape":  t.Shape(),
		"dtype":  t.DType().String(),
		"device": t.Device().String(),
	}
	if host, ok := t.(*tensor.Tensor); ok {
		data := make([]string, host.NumElems())
		for i := range data {
			data[i] = FormatFloat(host.At(i))
		}
		m["data"] = data
	}
	return m
}

package ir

import (
	"context"
	"fmt"

	"github.com/roach88/ltc/internal/tensor"
)

// Importer converts a host tensor into a backend-resident tensor.
type Importer interface {
	Import(ctx context.Context, t *tensor.Tensor) (Tensor, error)
}

// Exporter converts a backend-resident tensor into a host tensor.
type Exporter interface {
	Export(ctx context.Context, t Tensor) (*tensor.Tensor, error)
}

// TensorSpec is the serialized form of a tensor used by scenario files, the
// CLI and the HTTP API.
type TensorSpec struct {
	Shape  []int     `json:"shape" yaml:"shape"`
	DType  string    `json:"dtype,omitempty" yaml:"dtype,omitempty"`
	Device string    `json:"device,omitempty" yaml:"device,omitempty"`
	Data   []float64 `json:"data" yaml:"data"`
}

// ValueSpec is the serialized form of a stack value. Exactly one field is set.
type ValueSpec struct {
	Tensor  *TensorSpec  `json:"tensor,omitempty" yaml:"tensor,omitempty"`
	Tensors []TensorSpec `json:"tensors,omitempty" yaml:"tensors,omitempty"`
	Int     *int64       `json:"int,omitempty" yaml:"int,omitempty"`
	Float   *float64     `json:"float,omitempty" yaml:"float,omitempty"`
	Bool    *bool        `json:"bool,omitempty" yaml:"bool,omitempty"`
	Str     *string      `json:"str,omitempty" yaml:"str,omitempty"`
	Ints    []int64      `json:"ints,omitempty" yaml:"ints,omitempty"`
	None    bool         `json:"none,omitempty" yaml:"none,omitempty"`
}

// Build creates the host tensor described by s and, when s names the lazy
// device, imports it through imp.
func (s TensorSpec) Build(ctx context.Context, imp Importer) (Tensor, error) {
	dtype, err := tensor.ParseDType(s.DType)
	if err != nil {
		return nil, err
	}
	device, err := tensor.ParseDevice(s.Device)
	if err != nil {
		return nil, err
	}
	host, err := tensor.FromValues(s.Shape, dtype, s.Data)
	if err != nil {
		return nil, err
	}
	if device == tensor.CPU {
		return host, nil
	}
	if imp == nil {
		return nil, fmt.Errorf("no importer for device %s", device)
	}
	return imp.Import(ctx, host)
}

// Build converts s into a stack value.
func (s ValueSpec) Build(ctx context.Context, imp Importer) (Value, error) {
	switch {
	case s.Tensor != nil:
		t, err := s.Tensor.Build(ctx, imp)
		if err != nil {
			return nil, err
		}
		return NewTensor(t), nil
	case s.Tensors != nil:
		list := make(TensorList, len(s.Tensors))
		for i, ts := range s.Tensors {
			t, err := ts.Build(ctx, imp)
			if err != nil {
				return nil, fmt.Errorf("tensors[%d]: %w", i, err)
			}
			list[i] = t
		}
		return list, nil
	case s.Int != nil:
		return Int(*s.Int), nil
	case s.Float != nil:
		return Float(*s.Float), nil
	case s.Bool != nil:
		return Bool(*s.Bool), nil
	case s.Str != nil:
		return String(*s.Str), nil
	case s.Ints != nil:
		return IntList(s.Ints), nil
	case s.None:
		return None{}, nil
	default:
		return nil, fmt.Errorf("empty value spec")
	}
}

// SpecOfTensor serializes t, exporting it through exp when it is not a host
// tensor. The reported device is the tensor's own device.
func SpecOfTensor(ctx context.Context, t Tensor, exp Exporter) (TensorSpec, error) {
	host, ok := t.(*tensor.Tensor)
	if !ok {
		if exp == nil {
			return TensorSpec{}, fmt.Errorf("no exporter for device %s", t.Device())
		}
		var err error
		host, err = exp.Export(ctx, t)
		if err != nil {
			return TensorSpec{}, err
		}
	}
	return TensorSpec{
		Shape:  host.Shape(),
		DType:  host.DType().String(),
		Device: t.Device().String(),
		Data:   host.Values(),
	}, nil
}

// SpecOf serializes a stack value.
func SpecOf(ctx context.Context, v Value, exp Exporter) (ValueSpec, error) {
	switch x := v.(type) {
	case TensorValue:
		ts, err := SpecOfTensor(ctx, x.Tensor, exp)
		if err != nil {
			return ValueSpec{}, err
		}
		return ValueSpec{Tensor: &ts}, nil
	case TensorList:
		list := make([]TensorSpec, len(x))
		for i, t := range x {
			ts, err := SpecOfTensor(ctx, t, exp)
			if err != nil {
				return ValueSpec{}, fmt.Errorf("tensors[%d]: %w", i, err)
			}
			list[i] = ts
		}
		return ValueSpec{Tensors: list}, nil
	case Int:
		n := int64(x)
		return ValueSpec{Int: &n}, nil
	case Float:
		f := float64(x)
		return ValueSpec{Float: &f}, nil
	case Bool:
		b := bool(x)
		return ValueSpec{Bool: &b}, nil
	case String:
		s := string(x)
		return ValueSpec{Str: &s}, nil
	case IntList:
		return ValueSpec{Ints: []int64(x)}, nil
	case None:
		return ValueSpec{None: true}, nil
	default:
		return ValueSpec{}, fmt.Errorf("unsupported value %T", v)
	}
}

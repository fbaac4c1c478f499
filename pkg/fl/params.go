package fl

import (
	"fmt"
	"math"
	"slices"
)

type Tensor struct {
	Name  string    `json:"name" cbor:"1,keyasint"`
	Shape []int     `json:"shape" cbor:"2,keyasint"`
	Data  []float64 `json:"data" cbor:"3,keyasint"`
}

// ParameterVector is an ordered set of tensors. Methods never modify the
// receiver; anything that changes values returns a new vector.
type ParameterVector struct {
	Tensors []Tensor `json:"tensors" cbor:"1,keyasint"`
}

// NewTensor copies data so the caller may keep using its buffer.
func NewTensor(name string, shape []int, data []float64) (Tensor, error) {
	size := 1
	for _, d := range shape {
		if d <= 0 {
			return Tensor{}, fmt.Errorf("%w: tensor %q has non-positive dimension %d", ErrShapeMismatch, name, d)
		}
		size *= d
	}
	if size != len(data) {
		return Tensor{}, fmt.Errorf("%w: tensor %q shape %v holds %d values, got %d", ErrShapeMismatch, name, shape, size, len(data))
	}

	return Tensor{
		Name:  name,
		Shape: slices.Clone(shape),
		Data:  slices.Clone(data),
	}, nil
}

func NewParameterVector(tensors ...Tensor) ParameterVector {
	pv := ParameterVector{Tensors: make([]Tensor, len(tensors))}
	for i, t := range tensors {
		pv.Tensors[i] = t.clone()
	}

	return pv
}

func (t Tensor) clone() Tensor {
	return Tensor{
		Name:  t.Name,
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

func (pv ParameterVector) Clone() ParameterVector {
	return NewParameterVector(pv.Tensors...)
}

func (pv ParameterVector) Len() int {
	n := 0
	for _, t := range pv.Tensors {
		n += len(t.Data)
	}

	return n
}

func (pv ParameterVector) Empty() bool {
	return len(pv.Tensors) == 0
}

// Flatten returns all values in tensor order in a freshly allocated slice.
func (pv ParameterVector) Flatten() []float64 {
	flat := make([]float64, 0, pv.Len())
	for _, t := range pv.Tensors {
		flat = append(flat, t.Data...)
	}

	return flat
}

// WithFlat builds a vector with the receiver's layout and the given values.
func (pv ParameterVector) WithFlat(flat []float64) (ParameterVector, error) {
	if len(flat) != pv.Len() {
		return ParameterVector{}, fmt.Errorf("%w: layout holds %d values, got %d", ErrShapeMismatch, pv.Len(), len(flat))
	}

	out := ParameterVector{Tensors: make([]Tensor, len(pv.Tensors))}
	offset := 0
	for i, t := range pv.Tensors {
		n := len(t.Data)
		out.Tensors[i] = Tensor{
			Name:  t.Name,
			Shape: slices.Clone(t.Shape),
			Data:  slices.Clone(flat[offset : offset+n]),
		}
		offset += n
	}

	return out, nil
}

func (pv ParameterVector) SameLayout(other ParameterVector) bool {
	if len(pv.Tensors) != len(other.Tensors) {
		return false
	}
	for i := range pv.Tensors {
		a, b := pv.Tensors[i], other.Tensors[i]
		if a.Name != b.Name || !slices.Equal(a.Shape, b.Shape) || len(a.Data) != len(b.Data) {
			return false
		}
	}

	return true
}

func (pv ParameterVector) IsFinite() bool {
	for _, t := range pv.Tensors {
		if !finite(t.Data) {
			return false
		}
	}

	return true
}

// Layout describes the tensors without their values.
func (pv ParameterVector) Layout() []TensorLayout {
	layout := make([]TensorLayout, len(pv.Tensors))
	for i, t := range pv.Tensors {
		layout[i] = TensorLayout{Name: t.Name, Shape: slices.Clone(t.Shape)}
	}

	return layout
}

type TensorLayout struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}

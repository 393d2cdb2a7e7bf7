// Package cpu implements the pure-Go reference backend for Graft tensors.
//
// Operations are straightforward loops with no SIMD or parallelism; the
// backend exists to make adapter semantics testable, not to be fast.
package cpu

import (
	"fmt"

	"github.com/graft-ml/graft/internal/tensor"
)

// Backend is the CPU compute backend.
type Backend struct {
	device tensor.Device
}

// New creates a CPU backend.
func New() *Backend {
	return &Backend{device: tensor.CPU}
}

// NewOn creates a backend computing on CPU whose tensors are tagged with the
// given device. Tests use this to fabricate parameters that report non-CPU
// placement without a device runtime.
func NewOn(device tensor.Device) *Backend {
	return &Backend{device: device}
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "cpu"
}

// Device returns the device new tensors are tagged with.
func (b *Backend) Device() tensor.Device {
	return b.device
}

func (b *Backend) newRaw(shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	raw, err := tensor.NewRaw(shape, dtype, b.device)
	if err != nil {
		panic(fmt.Sprintf("cpu: %v", err))
	}
	return raw
}

// broadcastStrides returns per-dimension strides for reading src as if it had
// the target shape, with size-1 and missing leading dimensions repeated.
// Panics if src is not broadcastable to the target.
func broadcastStrides(src, target tensor.Shape) []int {
	offset := len(target) - len(src)
	if offset < 0 {
		panic(fmt.Sprintf("cpu: cannot broadcast %v to %v", src, target))
	}
	srcStrides := src.ComputeStrides()
	strides := make([]int, len(target))
	for i := range target {
		j := i - offset
		switch {
		case j < 0 || src[j] == 1:
			strides[i] = 0
		case src[j] == target[i]:
			strides[i] = srcStrides[j]
		default:
			panic(fmt.Sprintf("cpu: cannot broadcast %v to %v", src, target))
		}
	}
	return strides
}

func (b *Backend) binaryOp(a, x *tensor.RawTensor, op func(p, q float32) float32) *tensor.RawTensor {
	out := b.newRaw(a.Shape().Clone(), a.DType())
	ad := a.AsFloat32()
	od := out.AsFloat32()

	if a.Shape().Equal(x.Shape()) {
		xd := x.AsFloat32()
		for i := range od {
			od[i] = op(ad[i], xd[i])
		}
		return out
	}

	shape := a.Shape()
	xStrides := broadcastStrides(x.Shape(), shape)
	xd := x.AsFloat32()
	idx := make([]int, len(shape))
	for i := range od {
		xi := 0
		for d := range idx {
			xi += idx[d] * xStrides[d]
		}
		od[i] = op(ad[i], xd[xi])
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// Add returns a + x element-wise, broadcasting x to a's shape.
func (b *Backend) Add(a, x *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp(a, x, func(p, q float32) float32 { return p + q })
}

// Sub returns a - x element-wise, broadcasting x to a's shape.
func (b *Backend) Sub(a, x *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp(a, x, func(p, q float32) float32 { return p - q })
}

// Mul returns a * x element-wise, broadcasting x to a's shape.
func (b *Backend) Mul(a, x *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp(a, x, func(p, q float32) float32 { return p * q })
}

// MulScalar multiplies every element by a scalar.
func (b *Backend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	out := b.newRaw(x.Shape().Clone(), x.DType())
	xd := x.AsFloat32()
	od := out.AsFloat32()
	s := float32(scalar)
	for i := range od {
		od[i] = xd[i] * s
	}
	return out
}

// Reshape returns a copy of t under a new shape with the same element count.
func (b *Backend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if newShape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("cpu: cannot reshape %v to %v", t.Shape(), newShape))
	}
	out := b.newRaw(newShape.Clone(), t.DType())
	copy(out.Data(), t.Data())
	return out
}

// Transpose returns the transpose of a 2D tensor.
func (b *Backend) Transpose(t *tensor.RawTensor) *tensor.RawTensor {
	shape := t.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cpu: Transpose expects 2D tensor, got %v", shape))
	}
	rows, cols := shape[0], shape[1]
	out := b.newRaw(tensor.Shape{cols, rows}, t.DType())
	td := t.AsFloat32()
	od := out.AsFloat32()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			od[j*rows+i] = td[i*cols+j]
		}
	}
	return out
}

// ReLU applies max(0, x) element-wise.
func (b *Backend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	out := b.newRaw(x.Shape().Clone(), x.DType())
	xd := x.AsFloat32()
	od := out.AsFloat32()
	for i := range od {
		if xd[i] > 0 {
			od[i] = xd[i]
		}
	}
	return out
}

// Lookup gathers rows of a [num, dim] table by int32 indices.
func (b *Backend) Lookup(table, indices *tensor.RawTensor) *tensor.RawTensor {
	shape := table.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cpu: Lookup expects 2D table, got %v", shape))
	}
	num, dim := shape[0], shape[1]
	idx := indices.AsInt32()
	out := b.newRaw(tensor.Shape{len(idx), dim}, table.DType())
	td := table.AsFloat32()
	od := out.AsFloat32()
	for i, ix := range idx {
		if ix < 0 || int(ix) >= num {
			panic(fmt.Sprintf("cpu: Lookup index %d out of range [0, %d)", ix, num))
		}
		copy(od[i*dim:(i+1)*dim], td[int(ix)*dim:(int(ix)+1)*dim])
	}
	return out
}

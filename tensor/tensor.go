// Copyright 2025 the Graft Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/graft-ml/graft/internal/tensor"
)

// Type aliases for public API

// DType is a constraint for tensor data types.
// Supported types: float32, int32.
type DType = tensor.DType

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Int32   DataType = tensor.Int32
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	CUDA   Device = tensor.CUDA
	Vulkan Device = tensor.Vulkan
	Metal  Device = tensor.Metal
	WebGPU Device = tensor.WebGPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// RawTensor is the untyped tensor backing store. Most code works with
// the generic Tensor; adapter merge paths mutate RawTensors in place.
type RawTensor = tensor.RawTensor

// Tensor is a generic type-safe tensor.
//
// T is the data type (float32, int32).
// B is the backend implementation.
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// New wraps a RawTensor in a typed Tensor.
func New[T DType, B Backend](raw *RawTensor, backend B) *Tensor[T, B] {
	return tensor.New[T](raw, backend)
}

// FromSlice creates a tensor from a data slice and shape.
func FromSlice[T DType, B Backend](data []T, shape Shape, backend B) (*Tensor[T, B], error) {
	return tensor.FromSlice(data, shape, backend)
}

// Zeros creates a zero-filled tensor.
func Zeros[T DType, B Backend](shape Shape, backend B) *Tensor[T, B] {
	return tensor.Zeros[T](shape, backend)
}

// Ones creates a one-filled float32 tensor.
func Ones[B Backend](shape Shape, backend B) *Tensor[float32, B] {
	return tensor.Ones(shape, backend)
}

// Full creates a float32 tensor filled with value.
func Full[B Backend](shape Shape, value float32, backend B) *Tensor[float32, B] {
	return tensor.Full(shape, value, backend)
}

// Randn creates a float32 tensor with standard normal entries.
func Randn[B Backend](shape Shape, backend B) *Tensor[float32, B] {
	return tensor.Randn(shape, backend)
}

// Arange creates an int32 index tensor [0, 1, ..., n-1].
func Arange[B Backend](n int, backend B) (*Tensor[int32, B], error) {
	return tensor.Arange(n, backend)
}

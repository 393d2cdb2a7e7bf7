// Copyright 2025 the Graft Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides type-safe tensor operations for the Graft
// adapter toolkit.
//
// # Overview
//
// Tensors carry the weights and activations that adapter layers read,
// scale and fold. This package provides:
//   - Generic type-safe tensors (Tensor[T, B])
//   - NumPy-style broadcasting
//   - Device abstraction (CPU today, GPU backends pluggable)
//
// # Basic Usage
//
//	import (
//	    "github.com/graft-ml/graft/backend/cpu"
//	    "github.com/graft-ml/graft/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	    y := tensor.Ones(tensor.Shape{2, 3}, backend)
//	    z := x.Add(y)
//	    _ = z.MatMul(y.Transpose())
//	}
//
// # Supported Data Types
//
// The DType constraint covers float32 for weights and activations and
// int32 for embedding indices.
//
// # Broadcasting
//
// Element-wise operations follow NumPy broadcasting rules:
//
//	a := tensor.Zeros[float32](tensor.Shape{3, 1}, backend) // (3, 1)
//	b := tensor.Ones(tensor.Shape{3, 4}, backend)           // (3, 4)
//	c := a.Add(b)                                           // (3, 4)
package tensor

// Copyright 2025 the Graft Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU compute backend.
//
// The CPU backend implements every tensor operation the adapter layers
// need without cgo or SIMD intrinsics, which makes it the reference
// implementation and the backend used throughout the test suite.
package cpu

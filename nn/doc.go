// Copyright 2025 the Graft Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the neural network building blocks adapters
// attach to: layers, containers and the named module tree.
//
// Modules form a tree through the Container interface. Every module
// reachable from the root has a dotted path ("encoder.layers.0.fc"),
// which is the namespace adapter targeting operates on.
//
//	backend := cpu.New()
//	model := nn.NewSequential[*cpu.Backend](
//	    nn.NewLinear(4, 8, backend),
//	    nn.NewReLU[*cpu.Backend](),
//	    nn.NewLinear(8, 2, backend),
//	)
//	out := model.Forward(x)
package nn

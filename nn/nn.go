// Copyright 2025 the Graft Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// Module is the common interface for all neural network modules.
type Module[B tensor.Backend] = nn.Module[B]

// Container is implemented by modules with named children; it is what
// makes a module tree walkable and rewritable.
type Container[B tensor.Backend] = nn.Container[B]

// NamedModule pairs a module with its dotted path from the tree root.
type NamedModule[B tensor.Backend] = nn.NamedModule[B]

// Parameter represents a trainable parameter in a neural network.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// NamedModules walks the tree in pre-order and returns every module
// with its path. The root has the empty path.
func NamedModules[B tensor.Backend](root Module[B]) []NamedModule[B] {
	return nn.NamedModules(root)
}

// ModuleAt resolves a dotted path to a module.
func ModuleAt[B tensor.Backend](root Module[B], path string) (Module[B], bool) {
	return nn.ModuleAt(root, path)
}

// ReplaceAt swaps the module at a dotted path for another.
func ReplaceAt[B tensor.Backend](root Module[B], path string, m Module[B]) error {
	return nn.ReplaceAt(root, path, m)
}

// Layers

// Linear represents a fully connected layer with weight [out, in].
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a linear layer with Xavier initialization and bias.
//
// Example:
//
//	backend := cpu.New()
//	layer := nn.NewLinear(784, 128, backend)
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, backend)
}

// NewLinearWithBias creates a linear layer with an optional bias.
func NewLinearWithBias[B tensor.Backend](inFeatures, outFeatures int, useBias bool, backend B) *Linear[B] {
	return nn.NewLinearWithBias(inFeatures, outFeatures, useBias, backend)
}

// TransposedLinear is a linear layer with weight stored [in, out],
// the layout used by GPT-2 style checkpoints.
type TransposedLinear[B tensor.Backend] = nn.TransposedLinear[B]

// NewTransposedLinear creates a transposed linear layer.
func NewTransposedLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *TransposedLinear[B] {
	return nn.NewTransposedLinear(inFeatures, outFeatures, backend)
}

// Embedding is a lookup table mapping int32 indices to vectors.
type Embedding[B tensor.Backend] = nn.Embedding[B]

// NewEmbedding creates an embedding table [numEmbeddings, embeddingDim].
func NewEmbedding[B tensor.Backend](numEmbeddings, embeddingDim int, backend B) *Embedding[B] {
	return nn.NewEmbedding(numEmbeddings, embeddingDim, backend)
}

// Conv2D represents a 2D convolutional layer over NCHW input.
type Conv2D[B tensor.Backend] = nn.Conv2D[B]

// NewConv2D creates a Conv2D layer.
func NewConv2D[B tensor.Backend](inChannels, outChannels, kernelH, kernelW, stride, padding int, useBias bool, backend B) *Conv2D[B] {
	return nn.NewConv2D(inChannels, outChannels, kernelH, kernelW, stride, padding, useBias, backend)
}

// ReLU applies the rectified linear unit element-wise.
type ReLU[B tensor.Backend] = nn.ReLU[B]

// NewReLU creates a ReLU activation module.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return nn.NewReLU[B]()
}

// Containers

// Sequential chains modules; children are named "0", "1", ...
type Sequential[B tensor.Backend] = nn.Sequential[B]

// NewSequential creates a sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential(modules...)
}

// ModuleDict is an ordered, named container.
type ModuleDict[B tensor.Backend] = nn.ModuleDict[B]

// NewModuleDict creates an empty module dict.
func NewModuleDict[B tensor.Backend]() *ModuleDict[B] {
	return nn.NewModuleDict[B]()
}

// Pipeline groups independent networks, e.g. an encoder plus a decoder.
// It is deliberately opaque to tree walks.
type Pipeline[B tensor.Backend] = nn.Pipeline[B]

// NewPipeline creates an empty pipeline.
func NewPipeline[B tensor.Backend]() *Pipeline[B] {
	return nn.NewPipeline[B]()
}

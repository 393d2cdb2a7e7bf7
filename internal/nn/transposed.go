package nn

import (
	"fmt"

	"github.com/graft-ml/graft/internal/tensor"
)

// TransposedLinear is a dense layer that stores its weight transposed:
// [in_features, out_features] instead of Linear's [out_features, in_features].
//
// GPT-2 style architectures use this layout (the module GPT-2 checkpoints
// call Conv1D). It computes the same transformation as Linear,
// y = x @ W + b, but anything that folds deltas into the weight has to
// respect the flipped layout, which is why it is a distinct module kind.
type TransposedLinear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B] // [in_features, out_features]
	bias        *Parameter[B] // [out_features] or nil
	backend     B
}

// NewTransposedLinear creates a TransposedLinear layer with a bias term.
func NewTransposedLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *TransposedLinear[B] {
	weight := NewParameter("weight", Xavier(inFeatures, outFeatures, tensor.Shape{inFeatures, outFeatures}, backend))
	bias := NewParameter("bias", Zeros(tensor.Shape{outFeatures}, backend))

	return &TransposedLinear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      weight,
		bias:        bias,
		backend:     backend,
	}
}

// Forward computes y = x @ W + b.
//
// Input shape: [batch_size, in_features]
// Output shape: [batch_size, out_features]
func (l *TransposedLinear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("TransposedLinear.Forward: expected 2D input [batch, features], got shape %v", shape))
	}
	if shape[1] != l.inFeatures {
		panic(fmt.Sprintf("TransposedLinear.Forward: expected input with %d features, got %d", l.inFeatures, shape[1]))
	}

	output := input.MatMul(l.weight.Tensor())
	if l.bias != nil {
		output = output.Add(l.bias.Tensor().Reshape(1, l.outFeatures))
	}
	return output
}

// Parameters returns [weight, bias] if bias is present, otherwise [weight].
func (l *TransposedLinear[B]) Parameters() []*Parameter[B] {
	if l.bias != nil {
		return []*Parameter[B]{l.weight, l.bias}
	}
	return []*Parameter[B]{l.weight}
}

// Weight returns the weight parameter.
func (l *TransposedLinear[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *TransposedLinear[B]) Bias() *Parameter[B] {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *TransposedLinear[B]) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *TransposedLinear[B]) OutFeatures() int {
	return l.outFeatures
}

// Backend returns the layer's compute backend.
func (l *TransposedLinear[B]) Backend() B {
	return l.backend
}

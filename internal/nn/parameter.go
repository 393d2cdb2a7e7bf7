package nn

import (
	"github.com/graft-ml/graft/internal/tensor"
)

// Parameter represents a tensor owned by a module.
//
// Parameters carry a trainability flag: frozen parameters keep their values
// during fine-tuning while trainable ones receive updates. Freezing the
// base model and training only adapter parameters is the whole point of
// parameter-efficient fine-tuning, so the flag is first-class here.
type Parameter[B tensor.Backend] struct {
	name      string
	tensor    *tensor.Tensor[float32, B]
	trainable bool
}

// NewParameter creates a trainable parameter.
//
// The tensor is held by reference: external mutation of its storage is
// visible through the parameter, and vice versa.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:      name,
		tensor:    t,
		trainable: true,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// SetTensor rebinds the parameter to a different tensor.
func (p *Parameter[B]) SetTensor(t *tensor.Tensor[float32, B]) {
	p.tensor = t
}

// Trainable reports whether the parameter receives training updates.
func (p *Parameter[B]) Trainable() bool {
	return p.trainable
}

// SetTrainable marks the parameter as trainable or frozen.
func (p *Parameter[B]) SetTrainable(trainable bool) {
	p.trainable = trainable
}

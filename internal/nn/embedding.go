package nn

import (
	"fmt"

	"github.com/graft-ml/graft/internal/tensor"
)

// Embedding is a lookup table mapping discrete indices to dense vectors.
//
// Weight shape: [num_embeddings, embedding_dim]. Lookup is the typed entry
// point; Forward exists to satisfy Module and interprets its float32 input
// values as indices so that embeddings participate in the module tree like
// any other layer.
type Embedding[B tensor.Backend] struct {
	numEmbeddings int
	embeddingDim  int
	weight        *Parameter[B] // [num_embeddings, embedding_dim]
	backend       B
}

// NewEmbedding creates an Embedding layer with N(0, 1) initialized weights.
func NewEmbedding[B tensor.Backend](numEmbeddings, embeddingDim int, backend B) *Embedding[B] {
	weight := NewParameter("weight", tensor.Randn(tensor.Shape{numEmbeddings, embeddingDim}, backend))
	return &Embedding[B]{
		numEmbeddings: numEmbeddings,
		embeddingDim:  embeddingDim,
		weight:        weight,
		backend:       backend,
	}
}

// Lookup gathers embedding rows for the given indices.
//
// Indices shape: [n]; output shape: [n, embedding_dim].
func (e *Embedding[B]) Lookup(indices *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	raw := e.backend.Lookup(e.weight.Tensor().Raw(), indices.Raw())
	return tensor.New[float32, B](raw, e.backend)
}

// Forward interprets the input values as indices and performs a lookup.
func (e *Embedding[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	data := input.Data()
	indices := make([]int32, len(data))
	for i, v := range data {
		indices[i] = int32(v)
	}
	idx, err := tensor.FromSlice[int32](indices, tensor.Shape{len(indices)}, e.backend)
	if err != nil {
		panic(fmt.Sprintf("Embedding.Forward: %v", err))
	}
	return e.Lookup(idx)
}

// Parameters returns the embedding weight.
func (e *Embedding[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{e.weight}
}

// Weight returns the weight parameter.
func (e *Embedding[B]) Weight() *Parameter[B] {
	return e.weight
}

// NumEmbeddings returns the table size.
func (e *Embedding[B]) NumEmbeddings() int {
	return e.numEmbeddings
}

// EmbeddingDim returns the embedding vector size.
func (e *Embedding[B]) EmbeddingDim() int {
	return e.embeddingDim
}

// Backend returns the layer's compute backend.
func (e *Embedding[B]) Backend() B {
	return e.backend
}

// StateDict returns a map of parameter names to raw tensors.
func (e *Embedding[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{"weight": e.weight.Tensor().Raw()}
}

// LoadStateDict copies parameters from a state dictionary.
func (e *Embedding[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	weight, ok := sd["weight"]
	if !ok {
		return fmt.Errorf("missing weight in state dict")
	}
	if err := e.weight.Tensor().Raw().CopyFrom(weight); err != nil {
		return fmt.Errorf("weight: %w", err)
	}
	return nil
}

package adapt

import (
	"fmt"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// LoRAEmbedding wraps an Embedding with low-rank adapters.
//
// Per adapter: A [rank, num_embeddings], B [dim, rank]; the forward
// contribution gathers rows of A.T for the looked-up indices and projects
// them through B.T, scaled by alpha/rank. The mergeable delta over the
// embedding table is (B @ A).T.
type LoRAEmbedding[B tensor.Backend] struct {
	layerState
	base    *nn.Embedding[B]
	backend B

	embA      map[string]*nn.Parameter[B]
	embB      map[string]*nn.Parameter[B]
	scaling   map[string]float64
	snapshots map[string][]*tensor.RawTensor
}

func newLoRAEmbedding[B tensor.Backend](base *nn.Embedding[B], name string, cfg *LoRAConfig) (*LoRAEmbedding[B], error) {
	l := &LoRAEmbedding[B]{
		layerState: layerState{set: newAdapterSet()},
		base:       base,
		backend:    base.Backend(),
		embA:       make(map[string]*nn.Parameter[B]),
		embB:       make(map[string]*nn.Parameter[B]),
		scaling:    make(map[string]float64),
		snapshots:  make(map[string][]*tensor.RawTensor),
	}
	if err := l.AddAdapter(name, cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// Lookup gathers adapted embeddings for the given indices.
func (l *LoRAEmbedding[B]) Lookup(indices *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	output := l.base.Lookup(indices)
	if !l.set.enabled {
		return output
	}
	for _, name := range l.set.active {
		a, ok := l.embA[name]
		if !ok || l.set.isMerged(name) {
			continue
		}
		// gather rows of A.T [num, rank], then project through B.T [rank, dim]
		rows := l.backend.Lookup(l.backend.Transpose(a.Tensor().Raw()), indices.Raw())
		h := tensor.New[float32, B](rows, l.backend)
		h = h.MatMul(l.embB[name].Tensor().Transpose())
		output = output.Add(h.Scale(l.scaling[name]))
	}
	return output
}

// Forward interprets the input values as indices and performs a lookup,
// mirroring the base Embedding.
func (l *LoRAEmbedding[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	data := input.Data()
	indices := make([]int32, len(data))
	for i, v := range data {
		indices[i] = int32(v)
	}
	idx, err := tensor.FromSlice[int32](indices, tensor.Shape{len(indices)}, l.backend)
	if err != nil {
		panic(fmt.Sprintf("LoRAEmbedding.Forward: %v", err))
	}
	return l.Lookup(idx)
}

// Parameters returns the base parameters followed by every adapter's
// parameters in insertion order.
func (l *LoRAEmbedding[B]) Parameters() []*nn.Parameter[B] {
	params := append([]*nn.Parameter[B](nil), l.base.Parameters()...)
	for _, name := range l.set.order {
		params = append(params, l.embA[name], l.embB[name])
	}
	return params
}

// Base returns the wrapped module.
func (l *LoRAEmbedding[B]) Base() nn.Module[B] { return l.base }

// ModuleType returns the variant tag.
func (l *LoRAEmbedding[B]) ModuleType() string { return "lora.Embedding" }

func (l *LoRAEmbedding[B]) delta(name string) *tensor.RawTensor {
	ba := l.backend.MatMul(l.embB[name].Tensor().Raw(), l.embA[name].Tensor().Raw())
	return l.backend.Transpose(l.backend.MulScalar(ba, l.scaling[name]))
}

// Merge folds the named adapters into the embedding table in place.
func (l *LoRAEmbedding[B]) Merge(names ...string) error {
	weight := l.base.Weight().Tensor().Raw()
	mergeAdapters(&l.set, l.snapshots, []*tensor.RawTensor{weight}, func(name string) {
		addInPlace(weight, l.delta(name))
	}, names)
	return nil
}

// Unmerge exactly restores the pre-merge embedding table state.
func (l *LoRAEmbedding[B]) Unmerge(names ...string) error {
	weight := l.base.Weight().Tensor().Raw()
	return unmergeAdapters(&l.set, l.snapshots, []*tensor.RawTensor{weight}, func(name string) {
		addInPlace(weight, l.delta(name))
	}, names)
}

// AddAdapter creates low-rank parameters for a new adapter name. As for
// the original implementation, the embedding variant zero-initializes A
// rather than B.
func (l *LoRAEmbedding[B]) AddAdapter(name string, cfg Config) error {
	lora, ok := cfg.(*LoRAConfig)
	if !ok {
		return fmt.Errorf("%w: %s config on %s", ErrInvalidConfig, cfg.Type(), l.ModuleType())
	}
	if err := l.set.add(name); err != nil {
		return err
	}

	num, dim := l.base.NumEmbeddings(), l.base.EmbeddingDim()
	var a *tensor.Tensor[float32, B]
	if lora.InitWeights {
		a = nn.Zeros(tensor.Shape{lora.Rank, num}, l.backend)
	} else {
		a = tensor.Randn(tensor.Shape{lora.Rank, num}, l.backend)
	}
	l.embA[name] = nn.NewParameter("lora_embedding_A", a)
	l.embB[name] = nn.NewParameter("lora_embedding_B", tensor.Randn(tensor.Shape{dim, lora.Rank}, l.backend))
	l.scaling[name] = lora.Scaling()
	return nil
}

// DeleteAdapter removes the named adapter. The adapter must be unmerged.
func (l *LoRAEmbedding[B]) DeleteAdapter(name string) error {
	if !l.set.has(name) {
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	if l.set.isMerged(name) {
		return fmt.Errorf("cannot delete merged adapter %q, unmerge it first", name)
	}
	l.set.remove(name)
	delete(l.embA, name)
	delete(l.embB, name)
	delete(l.scaling, name)
	delete(l.snapshots, name)
	return nil
}

// AdapterParameters returns the named adapter's [A, B] parameters.
func (l *LoRAEmbedding[B]) AdapterParameters(name string) []*nn.Parameter[B] {
	if !l.set.has(name) {
		return nil
	}
	return []*nn.Parameter[B]{l.embA[name], l.embB[name]}
}

// SetAdapterTrainable marks the named adapter's parameters.
func (l *LoRAEmbedding[B]) SetAdapterTrainable(name string, trainable bool) {
	for _, p := range l.AdapterParameters(name) {
		p.SetTrainable(trainable)
	}
}

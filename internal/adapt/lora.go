package adapt

import (
	"fmt"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// LoRALinear wraps a Linear or TransposedLinear with low-rank adapters.
//
// Per adapter: A [rank, in], B [out, rank]; the forward contribution is
// x @ A.T @ B.T scaled by alpha/rank, and the mergeable weight delta is
// B @ A (transposed for a TransposedLinear base).
type LoRALinear[B tensor.Backend] struct {
	layerState
	base       nn.Module[B]
	weight     *nn.Parameter[B] // base weight, by reference
	transposed bool
	inF, outF  int
	backend    B

	loraA     map[string]*nn.Parameter[B]
	loraB     map[string]*nn.Parameter[B]
	scaling   map[string]float64
	snapshots map[string][]*tensor.RawTensor
}

func newLoRALinear[B tensor.Backend](base *nn.Linear[B], name string, cfg *LoRAConfig) (*LoRALinear[B], error) {
	l := &LoRALinear[B]{
		layerState: layerState{set: newAdapterSet()},
		base:       base,
		weight:     base.Weight(),
		inF:        base.InFeatures(),
		outF:       base.OutFeatures(),
		backend:    base.Backend(),
		loraA:      make(map[string]*nn.Parameter[B]),
		loraB:      make(map[string]*nn.Parameter[B]),
		scaling:    make(map[string]float64),
		snapshots:  make(map[string][]*tensor.RawTensor),
	}
	if err := l.AddAdapter(name, cfg); err != nil {
		return nil, err
	}
	return l, nil
}

func newLoRATransposedLinear[B tensor.Backend](base *nn.TransposedLinear[B], name string, cfg *LoRAConfig) (*LoRALinear[B], error) {
	l := &LoRALinear[B]{
		layerState: layerState{set: newAdapterSet()},
		base:       base,
		weight:     base.Weight(),
		transposed: true,
		inF:        base.InFeatures(),
		outF:       base.OutFeatures(),
		backend:    base.Backend(),
		loraA:      make(map[string]*nn.Parameter[B]),
		loraB:      make(map[string]*nn.Parameter[B]),
		scaling:    make(map[string]float64),
		snapshots:  make(map[string][]*tensor.RawTensor),
	}
	if err := l.AddAdapter(name, cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// Forward computes the base output plus every active, unmerged adapter's
// low-rank contribution.
func (l *LoRALinear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := l.base.Forward(input)
	if !l.set.enabled {
		return output
	}
	for _, name := range l.set.active {
		a, ok := l.loraA[name]
		if !ok || l.set.isMerged(name) {
			continue
		}
		h := input.MatMul(a.Tensor().Transpose())
		h = h.MatMul(l.loraB[name].Tensor().Transpose())
		output = output.Add(h.Scale(l.scaling[name]))
	}
	return output
}

// Parameters returns the base parameters followed by every adapter's
// parameters in insertion order.
func (l *LoRALinear[B]) Parameters() []*nn.Parameter[B] {
	params := append([]*nn.Parameter[B](nil), l.base.Parameters()...)
	for _, name := range l.set.order {
		params = append(params, l.loraA[name], l.loraB[name])
	}
	return params
}

// Base returns the wrapped module.
func (l *LoRALinear[B]) Base() nn.Module[B] { return l.base }

// ModuleType returns the variant tag.
func (l *LoRALinear[B]) ModuleType() string {
	if l.transposed {
		return "lora.TransposedLinear"
	}
	return "lora.Linear"
}

// delta computes the scaled weight delta for one adapter, in the base
// weight's layout.
func (l *LoRALinear[B]) delta(name string) *tensor.RawTensor {
	ba := l.backend.MatMul(l.loraB[name].Tensor().Raw(), l.loraA[name].Tensor().Raw())
	scaled := l.backend.MulScalar(ba, l.scaling[name])
	if l.transposed {
		return l.backend.Transpose(scaled)
	}
	return scaled
}

// Merge folds the named adapters into the base weight in place.
func (l *LoRALinear[B]) Merge(names ...string) error {
	weight := l.weight.Tensor().Raw()
	mergeAdapters(&l.set, l.snapshots, []*tensor.RawTensor{weight}, func(name string) {
		addInPlace(weight, l.delta(name))
	}, names)
	return nil
}

// Unmerge exactly restores the pre-merge base weight state.
func (l *LoRALinear[B]) Unmerge(names ...string) error {
	weight := l.weight.Tensor().Raw()
	return unmergeAdapters(&l.set, l.snapshots, []*tensor.RawTensor{weight}, func(name string) {
		addInPlace(weight, l.delta(name))
	}, names)
}

// AddAdapter creates low-rank parameters for a new adapter name.
func (l *LoRALinear[B]) AddAdapter(name string, cfg Config) error {
	lora, ok := cfg.(*LoRAConfig)
	if !ok {
		return fmt.Errorf("%w: %s config on %s", ErrInvalidConfig, cfg.Type(), l.ModuleType())
	}
	if err := l.set.add(name); err != nil {
		return err
	}

	a := nn.KaimingUniform(l.inF, tensor.Shape{lora.Rank, l.inF}, l.backend)
	var b *tensor.Tensor[float32, B]
	if lora.InitWeights {
		b = nn.Zeros(tensor.Shape{l.outF, lora.Rank}, l.backend)
	} else {
		b = tensor.Randn(tensor.Shape{l.outF, lora.Rank}, l.backend)
	}
	l.loraA[name] = nn.NewParameter("lora_A", a)
	l.loraB[name] = nn.NewParameter("lora_B", b)
	l.scaling[name] = lora.Scaling()
	return nil
}

// DeleteAdapter removes the named adapter. The adapter must be unmerged.
func (l *LoRALinear[B]) DeleteAdapter(name string) error {
	if !l.set.has(name) {
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	if l.set.isMerged(name) {
		return fmt.Errorf("cannot delete merged adapter %q, unmerge it first", name)
	}
	l.set.remove(name)
	delete(l.loraA, name)
	delete(l.loraB, name)
	delete(l.scaling, name)
	delete(l.snapshots, name)
	return nil
}

// AdapterParameters returns the named adapter's [A, B] parameters.
func (l *LoRALinear[B]) AdapterParameters(name string) []*nn.Parameter[B] {
	if !l.set.has(name) {
		return nil
	}
	return []*nn.Parameter[B]{l.loraA[name], l.loraB[name]}
}

// SetAdapterTrainable marks the named adapter's parameters.
func (l *LoRALinear[B]) SetAdapterTrainable(name string, trainable bool) {
	for _, p := range l.AdapterParameters(name) {
		p.SetTrainable(trainable)
	}
}

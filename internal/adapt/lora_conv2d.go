package adapt

import (
	"fmt"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// LoRAConv2D wraps a Conv2D with low-rank adapters.
//
// Per adapter: A is a [rank, in_channels, kh, kw] kernel sharing the base
// stride and padding, B is a [out_channels, rank, 1, 1] pointwise kernel.
// The forward contribution is conv(conv(x, A), B) scaled by alpha/rank,
// and the mergeable delta reshapes B_mat @ A_mat back into kernel shape.
type LoRAConv2D[B tensor.Backend] struct {
	layerState
	base    *nn.Conv2D[B]
	backend B

	convA     map[string]*nn.Parameter[B]
	convB     map[string]*nn.Parameter[B]
	scaling   map[string]float64
	snapshots map[string][]*tensor.RawTensor
}

func newLoRAConv2D[B tensor.Backend](base *nn.Conv2D[B], name string, cfg *LoRAConfig) (*LoRAConv2D[B], error) {
	l := &LoRAConv2D[B]{
		layerState: layerState{set: newAdapterSet()},
		base:       base,
		backend:    base.Backend(),
		convA:      make(map[string]*nn.Parameter[B]),
		convB:      make(map[string]*nn.Parameter[B]),
		scaling:    make(map[string]float64),
		snapshots:  make(map[string][]*tensor.RawTensor),
	}
	if err := l.AddAdapter(name, cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// Forward computes the base convolution plus the active adapter branches.
func (l *LoRAConv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := l.base.Forward(input)
	if !l.set.enabled {
		return output
	}
	for _, name := range l.set.active {
		a, ok := l.convA[name]
		if !ok || l.set.isMerged(name) {
			continue
		}
		h := l.backend.Conv2D(input.Raw(), a.Tensor().Raw(), l.base.Stride(), l.base.Padding())
		h = l.backend.Conv2D(h, l.convB[name].Tensor().Raw(), 1, 0)
		delta := tensor.New[float32, B](l.backend.MulScalar(h, l.scaling[name]), l.backend)
		output = output.Add(delta)
	}
	return output
}

// Parameters returns the base parameters followed by every adapter's
// parameters in insertion order.
func (l *LoRAConv2D[B]) Parameters() []*nn.Parameter[B] {
	params := append([]*nn.Parameter[B](nil), l.base.Parameters()...)
	for _, name := range l.set.order {
		params = append(params, l.convA[name], l.convB[name])
	}
	return params
}

// Base returns the wrapped module.
func (l *LoRAConv2D[B]) Base() nn.Module[B] { return l.base }

// ModuleType returns the variant tag.
func (l *LoRAConv2D[B]) ModuleType() string { return "lora.Conv2D" }

// delta flattens both kernels to matrices, multiplies them and reshapes
// the product back into the base kernel shape.
func (l *LoRAConv2D[B]) delta(name string) *tensor.RawTensor {
	kh, kw := l.base.Kernel()
	inC, outC := l.base.InChannels(), l.base.OutChannels()
	rank := l.convA[name].Tensor().Shape()[0]

	aMat := l.backend.Reshape(l.convA[name].Tensor().Raw(), tensor.Shape{rank, inC * kh * kw})
	bMat := l.backend.Reshape(l.convB[name].Tensor().Raw(), tensor.Shape{outC, rank})
	prod := l.backend.MatMul(bMat, aMat)
	kernel := l.backend.Reshape(prod, tensor.Shape{outC, inC, kh, kw})
	return l.backend.MulScalar(kernel, l.scaling[name])
}

// Merge folds the named adapters into the base kernel in place.
func (l *LoRAConv2D[B]) Merge(names ...string) error {
	weight := l.base.Weight().Tensor().Raw()
	mergeAdapters(&l.set, l.snapshots, []*tensor.RawTensor{weight}, func(name string) {
		addInPlace(weight, l.delta(name))
	}, names)
	return nil
}

// Unmerge exactly restores the pre-merge kernel state.
func (l *LoRAConv2D[B]) Unmerge(names ...string) error {
	weight := l.base.Weight().Tensor().Raw()
	return unmergeAdapters(&l.set, l.snapshots, []*tensor.RawTensor{weight}, func(name string) {
		addInPlace(weight, l.delta(name))
	}, names)
}

// AddAdapter creates kernel parameters for a new adapter name. B starts
// at zero so a fresh adapter leaves the forward pass untouched.
func (l *LoRAConv2D[B]) AddAdapter(name string, cfg Config) error {
	lora, ok := cfg.(*LoRAConfig)
	if !ok {
		return fmt.Errorf("%w: %s config on %s", ErrInvalidConfig, cfg.Type(), l.ModuleType())
	}
	if err := l.set.add(name); err != nil {
		return err
	}

	kh, kw := l.base.Kernel()
	inC, outC := l.base.InChannels(), l.base.OutChannels()
	fanIn := inC * kh * kw
	l.convA[name] = nn.NewParameter("lora_A",
		nn.KaimingUniform(fanIn, tensor.Shape{lora.Rank, inC, kh, kw}, l.backend))
	var b *tensor.Tensor[float32, B]
	if lora.InitWeights {
		b = nn.Zeros(tensor.Shape{outC, lora.Rank, 1, 1}, l.backend)
	} else {
		b = tensor.Randn(tensor.Shape{outC, lora.Rank, 1, 1}, l.backend)
	}
	l.convB[name] = nn.NewParameter("lora_B", b)
	l.scaling[name] = lora.Scaling()
	return nil
}

// DeleteAdapter removes the named adapter. The adapter must be unmerged.
func (l *LoRAConv2D[B]) DeleteAdapter(name string) error {
	if !l.set.has(name) {
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	if l.set.isMerged(name) {
		return fmt.Errorf("cannot delete merged adapter %q, unmerge it first", name)
	}
	l.set.remove(name)
	delete(l.convA, name)
	delete(l.convB, name)
	delete(l.scaling, name)
	delete(l.snapshots, name)
	return nil
}

// AdapterParameters returns the named adapter's [A, B] parameters.
func (l *LoRAConv2D[B]) AdapterParameters(name string) []*nn.Parameter[B] {
	if !l.set.has(name) {
		return nil
	}
	return []*nn.Parameter[B]{l.convA[name], l.convB[name]}
}

// SetAdapterTrainable marks the named adapter's parameters.
func (l *LoRAConv2D[B]) SetAdapterTrainable(name string, trainable bool) {
	for _, p := range l.AdapterParameters(name) {
		p.SetTrainable(trainable)
	}
}

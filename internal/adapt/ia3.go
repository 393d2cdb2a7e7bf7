package adapt

import (
	"fmt"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// IA3Linear wraps a Linear or TransposedLinear with learned gating
// vectors.
//
// Per adapter: a single vector "ia3_l". For a feedforward module the
// vector has in_features elements and rescales the input before the base
// computation; otherwise it has out_features elements and rescales the
// output. Merging multiplies the gate into the base weight (and bias,
// for the output-side variant) element-wise.
type IA3Linear[B tensor.Backend] struct {
	layerState
	base        nn.Module[B]
	weight      *nn.Parameter[B] // base weight, by reference
	bias        *nn.Parameter[B] // base bias, or nil
	transposed  bool
	feedforward bool
	inF, outF   int
	backend     B

	gates     map[string]*nn.Parameter[B]
	snapshots map[string][]*tensor.RawTensor
}

func newIA3Linear[B tensor.Backend](base *nn.Linear[B], name string, cfg *IA3Config, feedforward bool) (*IA3Linear[B], error) {
	l := &IA3Linear[B]{
		layerState:  layerState{set: newAdapterSet()},
		base:        base,
		weight:      base.Weight(),
		bias:        base.Bias(),
		feedforward: feedforward,
		inF:         base.InFeatures(),
		outF:        base.OutFeatures(),
		backend:     base.Backend(),
		gates:       make(map[string]*nn.Parameter[B]),
		snapshots:   make(map[string][]*tensor.RawTensor),
	}
	if err := l.AddAdapter(name, cfg); err != nil {
		return nil, err
	}
	return l, nil
}

func newIA3TransposedLinear[B tensor.Backend](base *nn.TransposedLinear[B], name string, cfg *IA3Config, feedforward bool) (*IA3Linear[B], error) {
	l := &IA3Linear[B]{
		layerState:  layerState{set: newAdapterSet()},
		base:        base,
		weight:      base.Weight(),
		bias:        base.Bias(),
		transposed:  true,
		feedforward: feedforward,
		inF:         base.InFeatures(),
		outF:        base.OutFeatures(),
		backend:     base.Backend(),
		gates:       make(map[string]*nn.Parameter[B]),
		snapshots:   make(map[string][]*tensor.RawTensor),
	}
	if err := l.AddAdapter(name, cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// Forward applies every active, unmerged gate: input-side for
// feedforward modules, output-side otherwise.
func (l *IA3Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !l.set.enabled {
		return l.base.Forward(input)
	}
	if l.feedforward {
		scaled := input
		for _, name := range l.set.active {
			g, ok := l.gates[name]
			if !ok || l.set.isMerged(name) {
				continue
			}
			scaled = scaled.Mul(g.Tensor().Reshape(1, l.inF))
		}
		return l.base.Forward(scaled)
	}
	output := l.base.Forward(input)
	for _, name := range l.set.active {
		g, ok := l.gates[name]
		if !ok || l.set.isMerged(name) {
			continue
		}
		output = output.Mul(g.Tensor().Reshape(1, l.outF))
	}
	return output
}

// Parameters returns the base parameters followed by every adapter's
// gate in insertion order.
func (l *IA3Linear[B]) Parameters() []*nn.Parameter[B] {
	params := append([]*nn.Parameter[B](nil), l.base.Parameters()...)
	for _, name := range l.set.order {
		params = append(params, l.gates[name])
	}
	return params
}

// Base returns the wrapped module.
func (l *IA3Linear[B]) Base() nn.Module[B] { return l.base }

// ModuleType returns the variant tag.
func (l *IA3Linear[B]) ModuleType() string {
	if l.transposed {
		return "ia3.TransposedLinear"
	}
	return "ia3.Linear"
}

// fold multiplies the named gate into the base weight rows or columns,
// and into the bias for the output-side variant.
func (l *IA3Linear[B]) fold(name string) {
	gate := l.gates[name].Tensor()

	// Orient the gate so broadcasting hits the weight's in- or
	// out-feature axis. Linear weight is [out, in], TransposedLinear
	// weight is [in, out].
	var shaped *tensor.Tensor[float32, B]
	switch {
	case l.feedforward && !l.transposed:
		shaped = gate.Reshape(1, l.inF)
	case l.feedforward && l.transposed:
		shaped = gate.Reshape(l.inF, 1)
	case !l.feedforward && !l.transposed:
		shaped = gate.Reshape(l.outF, 1)
	default:
		shaped = gate.Reshape(1, l.outF)
	}

	w := l.weight.Tensor().Raw()
	scaled := l.backend.Mul(w, shaped.Raw())
	if err := w.CopyFrom(scaled); err != nil {
		panic(fmt.Sprintf("ia3: folding gate %q: %v", name, err))
	}

	if !l.feedforward && l.bias != nil {
		b := l.bias.Tensor().Raw()
		scaledBias := l.backend.Mul(b, gate.Raw())
		if err := b.CopyFrom(scaledBias); err != nil {
			panic(fmt.Sprintf("ia3: folding gate %q into bias: %v", name, err))
		}
	}
}

func (l *IA3Linear[B]) mergeTargets() []*tensor.RawTensor {
	targets := []*tensor.RawTensor{l.weight.Tensor().Raw()}
	if !l.feedforward && l.bias != nil {
		targets = append(targets, l.bias.Tensor().Raw())
	}
	return targets
}

// Merge folds the named gates into the base weights in place.
func (l *IA3Linear[B]) Merge(names ...string) error {
	mergeAdapters(&l.set, l.snapshots, l.mergeTargets(), l.fold, names)
	return nil
}

// Unmerge exactly restores the pre-merge weight (and bias) state.
func (l *IA3Linear[B]) Unmerge(names ...string) error {
	return unmergeAdapters(&l.set, l.snapshots, l.mergeTargets(), l.fold, names)
}

// AddAdapter creates a gate vector for a new adapter name. The gate
// starts at ones so a fresh adapter reproduces the base output exactly.
func (l *IA3Linear[B]) AddAdapter(name string, cfg Config) error {
	ia3, ok := cfg.(*IA3Config)
	if !ok {
		return fmt.Errorf("%w: %s config on %s", ErrInvalidConfig, cfg.Type(), l.ModuleType())
	}
	if err := l.set.add(name); err != nil {
		return err
	}

	n := l.outF
	if l.feedforward {
		n = l.inF
	}
	var g *tensor.Tensor[float32, B]
	if ia3.InitWeights {
		g = nn.Ones(tensor.Shape{n}, l.backend)
	} else {
		g = tensor.Randn(tensor.Shape{n}, l.backend)
	}
	l.gates[name] = nn.NewParameter("ia3_l", g)
	return nil
}

// DeleteAdapter removes the named adapter. The adapter must be unmerged.
func (l *IA3Linear[B]) DeleteAdapter(name string) error {
	if !l.set.has(name) {
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	if l.set.isMerged(name) {
		return fmt.Errorf("cannot delete merged adapter %q, unmerge it first", name)
	}
	l.set.remove(name)
	delete(l.gates, name)
	delete(l.snapshots, name)
	return nil
}

// AdapterParameters returns the named adapter's gate parameter.
func (l *IA3Linear[B]) AdapterParameters(name string) []*nn.Parameter[B] {
	if !l.set.has(name) {
		return nil
	}
	return []*nn.Parameter[B]{l.gates[name]}
}

// SetAdapterTrainable marks the named adapter's gate.
func (l *IA3Linear[B]) SetAdapterTrainable(name string, trainable bool) {
	for _, p := range l.AdapterParameters(name) {
		p.SetTrainable(trainable)
	}
}

// Feedforward reports whether this layer scales its input rather than
// its output.
func (l *IA3Linear[B]) Feedforward() bool { return l.feedforward }

package adapt

import (
	"fmt"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// AdapterLayer is the contract every adapter-wrapped module implements.
//
// A layer wraps exactly one base module and owns, per adapter name, a set
// of adapter parameters plus merge state. A layer may hold adapters that
// are not active, and the model-wide active adapter may be absent from a
// given layer entirely; both are valid states, reported by the status
// inspector rather than rejected.
type AdapterLayer[B tensor.Backend] interface {
	nn.Module[B]

	// Base returns the wrapped base module.
	Base() nn.Module[B]

	// ModuleType returns the concrete variant tag, e.g. "lora.Linear".
	ModuleType() string

	// AvailableAdapters returns adapter names in insertion order.
	AvailableAdapters() []string

	// HasAdapter reports whether the layer holds the named adapter.
	HasAdapter(name string) bool

	// ActiveAdapters returns the adapters used in forward computation.
	ActiveAdapters() []string

	// SetActiveAdapters sets the active set to the intersection of names
	// with the layer's own adapter set. An empty result is valid.
	SetActiveAdapters(names []string)

	// Enabled reports the layer's global enable flag. When false, forward
	// computation bypasses all adapters and reproduces the base module.
	Enabled() bool

	// SetEnabled toggles the enable flag.
	SetEnabled(enabled bool)

	// MergedAdapters returns merged adapter names in merge order.
	MergedAdapters() []string

	// Merged reports whether the named adapter is folded into the base
	// weights.
	Merged(name string) bool

	// Merge folds the named adapters (default: all available) into the
	// base weight in place. Already-merged names are no-ops.
	Merge(names ...string) error

	// Unmerge exactly restores the base weight state before the named
	// adapters (default: all merged) were folded. Never-merged names are
	// no-ops.
	Unmerge(names ...string) error

	// AddAdapter creates parameters for a new adapter name on this layer.
	AddAdapter(name string, cfg Config) error

	// DeleteAdapter removes the named adapter's parameters and state.
	// The adapter must not be merged.
	DeleteAdapter(name string) error

	// AdapterParameters returns the named adapter's parameter subset.
	AdapterParameters(name string) []*nn.Parameter[B]

	// SetAdapterTrainable marks the named adapter's parameters.
	SetAdapterTrainable(name string, trainable bool)
}

// layerState implements the bookkeeping half of AdapterLayer and is
// embedded by every variant; parameter storage stays with the variant.
type layerState struct {
	set adapterSet
}

// AvailableAdapters returns adapter names in insertion order.
func (s *layerState) AvailableAdapters() []string {
	return append([]string(nil), s.set.order...)
}

// HasAdapter reports whether the layer holds the named adapter.
func (s *layerState) HasAdapter(name string) bool {
	return s.set.has(name)
}

// ActiveAdapters returns the adapters used in forward computation.
func (s *layerState) ActiveAdapters() []string {
	return append([]string(nil), s.set.active...)
}

// SetActiveAdapters intersects names with the layer's own adapter set.
func (s *layerState) SetActiveAdapters(names []string) {
	s.set.setActive(names)
}

// Enabled reports the layer's enable flag.
func (s *layerState) Enabled() bool {
	return s.set.enabled
}

// SetEnabled toggles the enable flag.
func (s *layerState) SetEnabled(enabled bool) {
	s.set.enabled = enabled
}

// MergedAdapters returns merged adapter names in merge order.
func (s *layerState) MergedAdapters() []string {
	return append([]string(nil), s.set.merged...)
}

// Merged reports whether the named adapter is folded into the weights.
func (s *layerState) Merged(name string) bool {
	return s.set.isMerged(name)
}

// adapterSet tracks the bookkeeping shared by all adapter layer variants:
// which adapters exist (in insertion order), which are active, which are
// merged (in merge order), and the layer's enable flag.
type adapterSet struct {
	order   []string
	active  []string
	merged  []string
	enabled bool
}

func newAdapterSet() adapterSet {
	return adapterSet{enabled: true}
}

func (s *adapterSet) has(name string) bool {
	return containsString(s.order, name)
}

func (s *adapterSet) add(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty adapter name", ErrInvalidConfig)
	}
	if s.has(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateAdapter, name)
	}
	s.order = append(s.order, name)
	return nil
}

func (s *adapterSet) remove(name string) {
	s.order = removeString(s.order, name)
	s.active = removeString(s.active, name)
	s.merged = removeString(s.merged, name)
}

// setActive intersects the requested names with the layer's own set,
// preserving request order.
func (s *adapterSet) setActive(names []string) {
	var active []string
	for _, name := range names {
		if s.has(name) {
			active = append(active, name)
		}
	}
	s.active = active
}

func (s *adapterSet) isMerged(name string) bool {
	return containsString(s.merged, name)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// resolveNames defaults an empty request to every available adapter.
func resolveNames(requested, available []string) []string {
	if len(requested) == 0 {
		return append([]string(nil), available...)
	}
	return requested
}

// mergeAdapters folds the requested adapters into the weights in place
// via apply, snapshotting the weight bytes before each fold so that
// unmerge can restore them exactly.
func mergeAdapters(set *adapterSet, snapshots map[string][]*tensor.RawTensor, weights []*tensor.RawTensor, apply func(name string), names []string) {
	for _, name := range resolveNames(names, set.order) {
		if !set.has(name) || set.isMerged(name) {
			continue
		}
		snapshots[name] = cloneAll(weights)
		apply(name)
		set.merged = append(set.merged, name)
	}
}

// unmergeAdapters restores the weight state from before the requested
// adapters were folded. It rolls the merge stack back to the earliest
// requested name and re-folds the survivors, so a merge/unmerge round
// trip is exact for any previously-unmerged weight.
func unmergeAdapters(set *adapterSet, snapshots map[string][]*tensor.RawTensor, weights []*tensor.RawTensor, apply func(name string), names []string) error {
	requested := resolveNames(names, set.merged)

	first := -1
	for i, name := range set.merged {
		if containsString(requested, name) {
			first = i
			break
		}
	}
	if first < 0 {
		return nil // nothing requested is merged; silent no-op
	}

	for i, snap := range snapshots[set.merged[first]] {
		if err := weights[i].CopyFrom(snap); err != nil {
			return fmt.Errorf("restoring pre-merge weights: %w", err)
		}
	}

	tail := append([]string(nil), set.merged[first:]...)
	set.merged = set.merged[:first]
	for _, name := range tail {
		delete(snapshots, name)
	}
	for _, name := range tail {
		if containsString(requested, name) {
			continue
		}
		snapshots[name] = cloneAll(weights)
		apply(name)
		set.merged = append(set.merged, name)
	}
	return nil
}

func cloneAll(weights []*tensor.RawTensor) []*tensor.RawTensor {
	clones := make([]*tensor.RawTensor, len(weights))
	for i, w := range weights {
		clones[i] = w.Clone()
	}
	return clones
}

// addInPlace accumulates delta into dst: dst += delta.
func addInPlace(dst, delta *tensor.RawTensor) {
	dd := dst.AsFloat32()
	xd := delta.AsFloat32()
	if len(dd) != len(xd) {
		panic(fmt.Sprintf("adapt: delta size %d does not match weight size %d", len(xd), len(dd)))
	}
	for i := range dd {
		dd[i] += xd[i]
	}
}

package adapt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// Irregular is the sentinel reported when a per-layer attribute does not
// aggregate to a single model-wide value.
const Irregular = "irregular"

// BoolOrIrregular is a bool that may also be irregular across layers.
type BoolOrIrregular int

const (
	BoolFalse BoolOrIrregular = iota
	BoolTrue
	BoolIrregular
)

func (b BoolOrIrregular) String() string {
	switch b {
	case BoolFalse:
		return "false"
	case BoolTrue:
		return "true"
	default:
		return Irregular
	}
}

func boolStatus(v bool) BoolOrIrregular {
	if v {
		return BoolTrue
	}
	return BoolFalse
}

// StringsOrIrregular is a string list that may be irregular across
// layers. When Irregular is true, Values is nil.
type StringsOrIrregular struct {
	Values    []string
	Irregular bool
}

func (s StringsOrIrregular) String() string {
	if s.Irregular {
		return Irregular
	}
	return "[" + strings.Join(s.Values, " ") + "]"
}

// LayerStatus reports one adapter layer's state.
type LayerStatus struct {
	// Name is the module path of the wrapped base module.
	Name string
	// ModuleType is the adapter variant tag, e.g. "lora.Linear".
	ModuleType string
	Enabled    bool
	// ActiveAdapters is the layer's own active set, which may be any
	// subset of AvailableAdapters including none.
	ActiveAdapters    []string
	MergedAdapters    []string
	AvailableAdapters []string
	// RequiresGrad maps each available adapter to whether its
	// parameters train, per adapter irregular when they disagree.
	RequiresGrad map[string]BoolOrIrregular
	// Devices maps each available adapter to the devices its
	// parameters live on, sorted and deduplicated.
	Devices map[string][]tensor.Device
}

// ModelStatus aggregates layer state over the whole tree. Attributes
// that are uniform across layers report the shared value; attributes
// that differ report the irregular sentinel instead of guessing.
type ModelStatus struct {
	BaseModuleType   string
	AdapterModelType string
	// PeftTypes maps adapter names to their method, when known from a
	// managing model's registry.
	PeftTypes map[string]PeftType
	// TrainableParams and TotalParams count tensor elements, each
	// underlying tensor exactly once even when shared between modules.
	TrainableParams   int
	TotalParams       int
	NumAdapterLayers  int
	Enabled           BoolOrIrregular
	ActiveAdapters    StringsOrIrregular
	MergedAdapters    StringsOrIrregular
	AvailableAdapters []string
	RequiresGrad      map[string]BoolOrIrregular
	Devices           map[string][]tensor.Device
}

// GetLayerStatus walks the model tree and reports one LayerStatus per
// adapter layer, in tree walk order. It rejects prompt-tuned and mixed
// models, and trees without a single adapter layer.
func GetLayerStatus[B tensor.Backend](model nn.Module[B]) ([]LayerStatus, error) {
	root, err := statusRoot(model)
	if err != nil {
		return nil, err
	}

	var out []LayerStatus
	for _, nm := range nn.NamedModules(root) {
		layer, ok := nm.Module.(AdapterLayer[B])
		if !ok {
			continue
		}
		status := LayerStatus{
			Name:              nm.Path,
			ModuleType:        layer.ModuleType(),
			Enabled:           layer.Enabled(),
			ActiveAdapters:    layer.ActiveAdapters(),
			MergedAdapters:    layer.MergedAdapters(),
			AvailableAdapters: layer.AvailableAdapters(),
			RequiresGrad:      make(map[string]BoolOrIrregular),
			Devices:           make(map[string][]tensor.Device),
		}
		for _, name := range status.AvailableAdapters {
			params := layer.AdapterParameters(name)
			status.RequiresGrad[name] = aggregateTrainable(params)
			status.Devices[name] = nn.SortedUniqueDevices(params)
		}
		out = append(out, status)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: model has no adapter layers", ErrNoAdapterLayers)
	}
	return out, nil
}

// GetModelStatus aggregates GetLayerStatus over the whole tree, plus
// parameter counts and, for a managed model, registry information.
func GetModelStatus[B tensor.Backend](model nn.Module[B]) (ModelStatus, error) {
	layers, err := GetLayerStatus(model)
	if err != nil {
		return ModelStatus{}, err
	}
	root, _ := statusRoot(model)

	status := ModelStatus{
		BaseModuleType:   moduleTypeName(root),
		AdapterModelType: "None",
		NumAdapterLayers: len(layers),
		RequiresGrad:     make(map[string]BoolOrIrregular),
		Devices:          make(map[string][]tensor.Device),
	}

	var activeFallback []string
	if m, ok := model.(*Model[B]); ok {
		status.AdapterModelType = moduleTypeName(model)
		status.PeftTypes = make(map[string]PeftType, len(m.order))
		for _, name := range m.order {
			status.PeftTypes[name] = m.configs[name].Type()
		}
		activeFallback = m.ActiveAdapters()
	}

	status.TrainableParams, status.TotalParams = countParams(root.Parameters())

	enabled := make([]bool, len(layers))
	active := make([][]string, len(layers))
	availableSet := map[string]bool{}
	gradByAdapter := map[string][]BoolOrIrregular{}
	devicesByAdapter := map[string][]tensor.Device{}
	for i, l := range layers {
		enabled[i] = l.Enabled
		active[i] = l.ActiveAdapters
		for _, name := range l.AvailableAdapters {
			availableSet[name] = true
			gradByAdapter[name] = append(gradByAdapter[name], l.RequiresGrad[name])
			devicesByAdapter[name] = append(devicesByAdapter[name], l.Devices[name]...)
		}
	}

	status.Enabled = aggregateBools(enabled)
	status.ActiveAdapters = aggregateStrings(active, activeFallback)
	status.MergedAdapters = aggregateMerged(layers)
	for name := range availableSet {
		status.AvailableAdapters = append(status.AvailableAdapters, name)
		status.RequiresGrad[name] = aggregateGrad(gradByAdapter[name])
		status.Devices[name] = sortUniqueDevices(devicesByAdapter[name])
	}
	sort.Strings(status.AvailableAdapters)
	return status, nil
}

// statusRoot unwraps a managed model to its module tree and rejects
// model kinds the inspectors do not cover.
func statusRoot[B tensor.Backend](model nn.Module[B]) (nn.Module[B], error) {
	switch m := model.(type) {
	case *PromptModel[B]:
		return nil, fmt.Errorf("%w: prompt-tuned models have no adapter layers to inspect", ErrInvalidModel)
	case *MixedModel[B]:
		return nil, fmt.Errorf("%w: mixed-adapter models are not supported by the status inspector", ErrInvalidModel)
	case *Model[B]:
		return m.base, nil
	default:
		return model, nil
	}
}

// countParams counts trainable and total elements, each underlying
// tensor exactly once even when a parameter is shared between modules.
func countParams[B tensor.Backend](params []*nn.Parameter[B]) (trainable, total int) {
	seen := make(map[*tensor.RawTensor]bool)
	for _, p := range params {
		raw := p.Tensor().Raw()
		if seen[raw] {
			continue
		}
		seen[raw] = true
		n := raw.Shape().NumElements()
		total += n
		if p.Trainable() {
			trainable += n
		}
	}
	return trainable, total
}

// aggregateTrainable folds one adapter's parameter trainability within a
// single layer: uniform flags reduce to the bool, mixed flags are
// irregular.
func aggregateTrainable[B tensor.Backend](params []*nn.Parameter[B]) BoolOrIrregular {
	if len(params) == 0 {
		return BoolFalse
	}
	first := boolStatus(params[0].Trainable())
	for _, p := range params[1:] {
		if boolStatus(p.Trainable()) != first {
			return BoolIrregular
		}
	}
	return first
}

func aggregateBools(values []bool) BoolOrIrregular {
	first := boolStatus(values[0])
	for _, v := range values[1:] {
		if boolStatus(v) != first {
			return BoolIrregular
		}
	}
	return first
}

func aggregateGrad(values []BoolOrIrregular) BoolOrIrregular {
	first := values[0]
	for _, v := range values[1:] {
		if v != first {
			return BoolIrregular
		}
	}
	return first
}

// aggregateStrings reduces per-layer string lists: layers with empty
// lists are skipped, a single distinct non-empty value wins, and
// disagreement is irregular. When every layer's list is empty the
// fallback (the model registry's active set, or nil) is reported.
func aggregateStrings(lists [][]string, fallback []string) StringsOrIrregular {
	var distinct [][]string
	for _, l := range lists {
		if len(l) == 0 {
			continue
		}
		dup := false
		for _, d := range distinct {
			if equalStrings(d, l) {
				dup = true
				break
			}
		}
		if !dup {
			distinct = append(distinct, l)
		}
	}
	switch len(distinct) {
	case 0:
		return StringsOrIrregular{Values: append([]string(nil), fallback...)}
	case 1:
		return StringsOrIrregular{Values: append([]string(nil), distinct[0]...)}
	default:
		return StringsOrIrregular{Irregular: true}
	}
}

// aggregateMerged reduces per-layer merged sets adapter by adapter.
// Layers that do not hold an adapter are neutral for it; an adapter
// merged on some holding layers but not all is irregular. Adapters
// merged everywhere they exist are reported in first-merged order.
func aggregateMerged(layers []LayerStatus) StringsOrIrregular {
	mergedOn := map[string]int{}
	heldOn := map[string]int{}
	var order []string
	for _, l := range layers {
		for _, name := range l.AvailableAdapters {
			heldOn[name]++
		}
		for _, name := range l.MergedAdapters {
			if mergedOn[name] == 0 {
				order = append(order, name)
			}
			mergedOn[name]++
		}
	}
	var values []string
	for _, name := range order {
		if mergedOn[name] < heldOn[name] {
			return StringsOrIrregular{Irregular: true}
		}
		values = append(values, name)
	}
	return StringsOrIrregular{Values: values}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortUniqueDevices(devices []tensor.Device) []tensor.Device {
	seen := make(map[tensor.Device]bool)
	var out []tensor.Device
	for _, d := range devices {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// moduleTypeName reports a module's concrete type without package paths
// or type parameters, e.g. "Sequential" or "Model".
func moduleTypeName(m any) string {
	name := fmt.Sprintf("%T", m)
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

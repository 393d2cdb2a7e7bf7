package adapt

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// Model owns a base module tree with injected adapter layers and the
// registry of adapter configs. It is the entry point for the adapter
// lifecycle: adding, activating, enabling, merging and deleting
// adapters.
//
// Model is not safe for concurrent mutation. Forward passes may run
// concurrently as long as no lifecycle operation runs at the same time.
type Model[B tensor.Backend] struct {
	base     nn.Module[B]
	configs  map[string]Config
	order    []string
	active   []string
	targeted map[string][]string
	logger   zerolog.Logger
}

// Option configures model construction.
type Option func(*options)

type options struct {
	name   string
	logger zerolog.Logger
}

// WithAdapterName overrides the initial adapter name (default "default").
func WithAdapterName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger used for injection and lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New injects the config's adapter into base and returns the managing
// model. The initial adapter is active and trainable; all base
// parameters are frozen.
func New[B tensor.Backend](base nn.Module[B], cfg Config, opts ...Option) (*Model[B], error) {
	o := options{name: "default", logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if _, ok := cfg.(*PromptConfig); ok {
		return nil, fmt.Errorf("%w: prompt tuning does not inject layers, use NewPromptModel", ErrInvalidConfig)
	}

	m := &Model[B]{
		base:     base,
		configs:  make(map[string]Config),
		targeted: make(map[string][]string),
		logger:   o.logger,
	}
	paths, err := applyAdapter(base, o.name, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	m.configs[o.name] = cfg
	m.order = append(m.order, o.name)
	m.targeted[o.name] = paths
	m.setActive([]string{o.name})
	return m, nil
}

// AddAdapter injects a further adapter under a new name. The new adapter
// is registered but not activated; the active set is unchanged. The
// config must be the same adapter kind as the existing ones.
func (m *Model[B]) AddAdapter(name string, cfg Config) error {
	if _, ok := m.configs[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAdapter, name)
	}
	for _, existing := range m.order {
		if m.configs[existing].Type() != cfg.Type() {
			return fmt.Errorf("%w: cannot mix %s with %s, use a MixedModel",
				ErrInvalidConfig, cfg.Type(), m.configs[existing].Type())
		}
	}
	paths, err := applyAdapter(m.base, name, cfg, m.logger)
	if err != nil {
		return err
	}
	m.configs[name] = cfg
	m.order = append(m.order, name)
	m.targeted[name] = paths
	m.refreshTrainability()
	m.logger.Info().Str("adapter", name).Int("modules", len(paths)).Msg("adapter added")
	return nil
}

// SetAdapter activates the named adapters. Every name must be
// registered; each layer intersects the set with its own adapters, so a
// layer missing one of the names simply runs without it.
func (m *Model[B]) SetAdapter(names ...string) error {
	for _, name := range names {
		if _, ok := m.configs[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
		}
	}
	m.setActive(names)
	return nil
}

func (m *Model[B]) setActive(names []string) {
	m.active = append([]string(nil), names...)
	for _, layer := range m.adapterLayers() {
		layer.SetActiveAdapters(names)
	}
	m.refreshTrainability()
}

// refreshTrainability freezes every parameter, then marks the active
// adapters' parameters trainable.
func (m *Model[B]) refreshTrainability() {
	for _, p := range m.base.Parameters() {
		p.SetTrainable(false)
	}
	for _, layer := range m.adapterLayers() {
		for _, name := range m.active {
			if layer.HasAdapter(name) {
				layer.SetAdapterTrainable(name, true)
			}
		}
	}
}

// EnableAdapterLayers turns adapter computation back on for every layer.
func (m *Model[B]) EnableAdapterLayers() {
	for _, layer := range m.adapterLayers() {
		layer.SetEnabled(true)
	}
}

// DisableAdapterLayers bypasses adapter computation on every layer; the
// model reproduces the base module until re-enabled.
func (m *Model[B]) DisableAdapterLayers() {
	for _, layer := range m.adapterLayers() {
		layer.SetEnabled(false)
	}
}

// WithAdaptersDisabled runs fn with all adapter layers disabled and
// restores each layer's previous enable state afterwards, also on panic.
func (m *Model[B]) WithAdaptersDisabled(fn func()) {
	layers := m.adapterLayers()
	prev := make([]bool, len(layers))
	for i, layer := range layers {
		prev[i] = layer.Enabled()
		layer.SetEnabled(false)
	}
	defer func() {
		for i, layer := range layers {
			layer.SetEnabled(prev[i])
		}
	}()
	fn()
}

// MergeAdapter folds the named adapters (default: all) into the base
// weights on every layer.
func (m *Model[B]) MergeAdapter(names ...string) error {
	for _, layer := range m.adapterLayers() {
		if err := layer.Merge(names...); err != nil {
			return err
		}
	}
	m.logger.Debug().Strs("adapters", names).Msg("adapters merged")
	return nil
}

// UnmergeAdapter exactly restores pre-merge weights on every layer.
func (m *Model[B]) UnmergeAdapter(names ...string) error {
	for _, layer := range m.adapterLayers() {
		if err := layer.Unmerge(names...); err != nil {
			return err
		}
	}
	m.logger.Debug().Strs("adapters", names).Msg("adapters unmerged")
	return nil
}

// DeleteAdapter removes the named adapter from every layer and from the
// registry. If the deleted adapter was active, the earliest remaining
// adapter becomes active.
func (m *Model[B]) DeleteAdapter(name string) error {
	if _, ok := m.configs[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	for _, layer := range m.adapterLayers() {
		if !layer.HasAdapter(name) {
			continue
		}
		if err := layer.DeleteAdapter(name); err != nil {
			return err
		}
	}
	delete(m.configs, name)
	m.order = removeString(m.order, name)
	delete(m.targeted, name)

	if containsString(m.active, name) {
		remaining := removeString(append([]string(nil), m.active...), name)
		if len(remaining) == 0 && len(m.order) > 0 {
			remaining = m.order[:1]
		}
		m.setActive(remaining)
	}
	m.logger.Info().Str("adapter", name).Msg("adapter deleted")
	return nil
}

// Forward runs the adapted module tree.
func (m *Model[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return m.base.Forward(input)
}

// Parameters returns all parameters of the adapted tree.
func (m *Model[B]) Parameters() []*nn.Parameter[B] {
	return m.base.Parameters()
}

// TrainableParameters returns the parameters that currently train.
func (m *Model[B]) TrainableParameters() []*nn.Parameter[B] {
	var out []*nn.Parameter[B]
	for _, p := range m.base.Parameters() {
		if p.Trainable() {
			out = append(out, p)
		}
	}
	return out
}

// Base returns the adapted module tree.
func (m *Model[B]) Base() nn.Module[B] { return m.base }

// ActiveAdapters returns the model-level active adapter names.
func (m *Model[B]) ActiveAdapters() []string {
	return append([]string(nil), m.active...)
}

// AdapterNames returns registered adapter names in insertion order.
func (m *Model[B]) AdapterNames() []string {
	return append([]string(nil), m.order...)
}

// Config returns the registered config for an adapter name.
func (m *Model[B]) Config(name string) (Config, bool) {
	cfg, ok := m.configs[name]
	return cfg, ok
}

// TargetedModuleNames returns the module paths the named adapter was
// injected into, in tree walk order.
func (m *Model[B]) TargetedModuleNames(name string) []string {
	return append([]string(nil), m.targeted[name]...)
}

// adapterLayers walks the tree and collects every adapter layer.
func (m *Model[B]) adapterLayers() []AdapterLayer[B] {
	var layers []AdapterLayer[B]
	for _, nm := range nn.NamedModules(m.base) {
		if layer, ok := nm.Module.(AdapterLayer[B]); ok {
			layers = append(layers, layer)
		}
	}
	return layers
}

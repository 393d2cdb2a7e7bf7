package adapt

import (
	"fmt"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// MixedModel manages adapters of different kinds on one base tree, e.g.
// LoRA on the attention projections and IA3 on the feedforwards. The
// status inspector does not apply to it; everything else behaves like
// Model.
type MixedModel[B tensor.Backend] struct {
	Model[B]
}

// NewMixed injects the config's adapter into base and returns a model
// that accepts further adapters of any kind.
func NewMixed[B tensor.Backend](base nn.Module[B], cfg Config, opts ...Option) (*MixedModel[B], error) {
	m, err := New(base, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &MixedModel[B]{Model: *m}, nil
}

// AddAdapter injects a further adapter under a new name. Unlike
// Model.AddAdapter, the config may be a different adapter kind than the
// existing ones.
func (m *MixedModel[B]) AddAdapter(name string, cfg Config) error {
	if _, ok := m.configs[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAdapter, name)
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

package adapt

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// applyAdapter walks the module tree, wraps every module matched by the
// config's target spec in the appropriate adapter layer (or adds the
// adapter to an existing layer of the same kind) and freezes the base
// parameters. It returns the targeted module paths in tree walk order.
func applyAdapter[B tensor.Backend](root nn.Module[B], name string, cfg Config, logger zerolog.Logger) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec := cfg.Target()
	if spec == nil {
		return nil, fmt.Errorf("%w: %s config does not target modules", ErrInvalidConfig, cfg.Type())
	}
	if spec.AllLinear {
		expanded, err := expandAllLinear(spec, root)
		if err != nil {
			return nil, err
		}
		spec = expanded
	}

	// Collect first; wrapping mutates the tree under the walk.
	var matched []nn.NamedModule[B]
	for _, nm := range nn.NamedModules(root) {
		if nm.Path == "" {
			continue
		}
		if spec.Matches(nm.Path) {
			matched = append(matched, nm)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: spec matched nothing in the model", ErrNoTargetModules)
	}

	paths := make([]string, 0, len(matched))
	for _, nm := range matched {
		if layer, ok := nm.Module.(AdapterLayer[B]); ok {
			if err := layer.AddAdapter(name, cfg); err != nil {
				return nil, fmt.Errorf("adding adapter to %s: %w", nm.Path, err)
			}
			logger.Debug().Str("module", nm.Path).Str("adapter", name).Msg("added adapter to existing layer")
			paths = append(paths, nm.Path)
			continue
		}

		layer, err := wrapModule(nm.Module, nm.Path, name, cfg)
		if err != nil {
			return nil, err
		}
		if err := nn.ReplaceAt(root, nm.Path, layer); err != nil {
			return nil, fmt.Errorf("replacing %s: %w", nm.Path, err)
		}
		logger.Debug().Str("module", nm.Path).Str("adapter", name).Str("type", layer.ModuleType()).Msg("wrapped module")
		paths = append(paths, nm.Path)
	}

	// Only adapter parameters train.
	for _, p := range root.Parameters() {
		p.SetTrainable(false)
	}
	for _, nm := range nn.NamedModules(root) {
		if layer, ok := nm.Module.(AdapterLayer[B]); ok {
			layer.SetAdapterTrainable(name, true)
		}
	}
	return paths, nil
}

// wrapModule builds the adapter layer variant for a matched base module.
func wrapModule[B tensor.Backend](m nn.Module[B], path, name string, cfg Config) (AdapterLayer[B], error) {
	switch c := cfg.(type) {
	case *LoRAConfig:
		switch base := m.(type) {
		case *nn.Linear[B]:
			return newLoRALinear(base, name, c)
		case *nn.TransposedLinear[B]:
			return newLoRATransposedLinear(base, name, c)
		case *nn.Embedding[B]:
			return newLoRAEmbedding(base, name, c)
		case *nn.Conv2D[B]:
			return newLoRAConv2D(base, name, c)
		}
	case *IA3Config:
		switch base := m.(type) {
		case *nn.Linear[B]:
			return newIA3Linear(base, name, c, c.feedforward(path))
		case *nn.TransposedLinear[B]:
			return newIA3TransposedLinear(base, name, c, c.feedforward(path))
		}
	}
	return nil, fmt.Errorf("%w: cannot apply %s to %s (%T)", ErrUnsupportedModule, cfg.Type(), path, m)
}

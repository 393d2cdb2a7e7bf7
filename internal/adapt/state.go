package adapt

import (
	"fmt"

	"github.com/graft-ml/graft/internal/nn"
)

// AdapterStateDict extracts the named adapter's parameters from every
// layer, keyed "<module path>.<param name>", e.g.
// "0.lora_A". The base weights are not included.
func (m *Model[B]) AdapterStateDict(name string) (map[string]*nn.Parameter[B], error) {
	if _, ok := m.configs[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	out := make(map[string]*nn.Parameter[B])
	for _, nm := range nn.NamedModules(m.base) {
		layer, ok := nm.Module.(AdapterLayer[B])
		if !ok || !layer.HasAdapter(name) {
			continue
		}
		for _, p := range layer.AdapterParameters(name) {
			out[nm.Path+"."+p.Name()] = p
		}
	}
	return out, nil
}

// LoadAdapterStateDict copies tensor data into the named adapter's
// parameters from a dict keyed like AdapterStateDict. Every key must
// resolve to an existing adapter parameter with a matching shape.
func (m *Model[B]) LoadAdapterStateDict(name string, sd map[string]*nn.Parameter[B]) error {
	have, err := m.AdapterStateDict(name)
	if err != nil {
		return err
	}
	for key, src := range sd {
		dst, ok := have[key]
		if !ok {
			return fmt.Errorf("unexpected adapter state key %q", key)
		}
		if err := dst.Tensor().Raw().CopyFrom(src.Tensor().Raw()); err != nil {
			return fmt.Errorf("loading %q: %w", key, err)
		}
	}
	return nil
}

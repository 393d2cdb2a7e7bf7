package nn

import (
	"fmt"

	"github.com/graft-ml/graft/internal/tensor"
)

// Pipeline bundles several independent networks into one object, the way
// multi-component generative pipelines combine an encoder, a denoiser and
// a decoder. It is deliberately NOT a Container: the components are
// separate models, not sub-modules of one tree, so module-path targeting
// (and in particular the all-linear shorthand) does not apply to it.
type Pipeline[B tensor.Backend] struct {
	order      []string
	components map[string]Module[B]
}

// NewPipeline creates an empty Pipeline.
func NewPipeline[B tensor.Backend]() *Pipeline[B] {
	return &Pipeline[B]{components: make(map[string]Module[B])}
}

// AddComponent registers a named component network.
func (p *Pipeline[B]) AddComponent(name string, m Module[B]) *Pipeline[B] {
	if _, ok := p.components[name]; ok {
		panic(fmt.Sprintf("Pipeline.AddComponent: duplicate component %q", name))
	}
	p.order = append(p.order, name)
	p.components[name] = m
	return p
}

// Component returns the named component network.
func (p *Pipeline[B]) Component(name string) (Module[B], bool) {
	m, ok := p.components[name]
	return m, ok
}

// ComponentNames returns the component names in registration order.
func (p *Pipeline[B]) ComponentNames() []string {
	return append([]string(nil), p.order...)
}

// Forward applies the components in registration order.
func (p *Pipeline[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, name := range p.order {
		output = p.components[name].Forward(output)
	}
	return output
}

// Parameters returns the parameters of all components.
func (p *Pipeline[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, name := range p.order {
		params = append(params, p.components[name].Parameters()...)
	}
	return params
}

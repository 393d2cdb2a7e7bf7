package nn

import (
	"fmt"

	"github.com/graft-ml/graft/internal/tensor"
)

// ModuleDict is an ordered, named container. It is the general-purpose way
// to build module trees with meaningful paths: a ModuleDict with children
// "attn" and "mlp", each holding further ModuleDicts or layers, yields
// paths such as "attn.q_proj".
//
// Forward applies children in insertion order, so a ModuleDict with a
// linear chain of children behaves like Sequential with named stages.
type ModuleDict[B tensor.Backend] struct {
	order   []string
	modules map[string]Module[B]
}

// NewModuleDict creates an empty ModuleDict.
func NewModuleDict[B tensor.Backend]() *ModuleDict[B] {
	return &ModuleDict[B]{modules: make(map[string]Module[B])}
}

// Add inserts a named child at the end of the order. Panics if the name is
// already taken; children are identities, not slots to overwrite silently.
func (d *ModuleDict[B]) Add(name string, m Module[B]) *ModuleDict[B] {
	if name == "" {
		panic("ModuleDict.Add: empty child name")
	}
	if _, ok := d.modules[name]; ok {
		panic(fmt.Sprintf("ModuleDict.Add: duplicate child %q", name))
	}
	d.order = append(d.order, name)
	d.modules[name] = m
	return d
}

// Forward applies children in insertion order.
func (d *ModuleDict[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, name := range d.order {
		output = d.modules[name].Forward(output)
	}
	return output
}

// Parameters returns the parameters of all children in insertion order.
func (d *ModuleDict[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, name := range d.order {
		params = append(params, d.modules[name].Parameters()...)
	}
	return params
}

// Len returns the number of children.
func (d *ModuleDict[B]) Len() int {
	return len(d.order)
}

// ChildNames returns the child names in insertion order.
func (d *ModuleDict[B]) ChildNames() []string {
	return append([]string(nil), d.order...)
}

// Child returns the named child.
func (d *ModuleDict[B]) Child(name string) (Module[B], bool) {
	m, ok := d.modules[name]
	return m, ok
}

// ReplaceChild swaps the named child, keeping its position.
func (d *ModuleDict[B]) ReplaceChild(name string, m Module[B]) error {
	if _, ok := d.modules[name]; !ok {
		return fmt.Errorf("no child %q in ModuleDict", name)
	}
	d.modules[name] = m
	return nil
}

package nn

import (
	"fmt"
	"strconv"

	"github.com/graft-ml/graft/internal/tensor"
)

// Sequential is a container that chains modules; each module's output
// becomes the next module's input. Children are named by their index:
// "0", "1", ... which makes paths like "blocks.1.weight" addressable.
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

// NewSequential creates a Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{modules: modules}
}

// Forward applies all modules in order.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Parameters returns the parameters of all modules in order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Add appends a module to the sequence.
func (s *Sequential[B]) Add(module Module[B]) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// Module returns the module at the given index. Panics if out of bounds.
func (s *Sequential[B]) Module(index int) Module[B] {
	if index < 0 || index >= len(s.modules) {
		panic("Sequential.Module: index out of bounds")
	}
	return s.modules[index]
}

// ChildNames returns the module indices as strings, in order.
func (s *Sequential[B]) ChildNames() []string {
	names := make([]string, len(s.modules))
	for i := range s.modules {
		names[i] = strconv.Itoa(i)
	}
	return names
}

// Child returns the module at the named index.
func (s *Sequential[B]) Child(name string) (Module[B], bool) {
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 || i >= len(s.modules) {
		return nil, false
	}
	return s.modules[i], true
}

// ReplaceChild swaps the module at the named index.
func (s *Sequential[B]) ReplaceChild(name string, m Module[B]) error {
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 || i >= len(s.modules) {
		return fmt.Errorf("no child %q in Sequential of length %d", name, len(s.modules))
	}
	s.modules[i] = m
	return nil
}

// Package nn implements neural network modules for the Graft library.
//
// This package provides the building blocks adapter injection operates on:
//   - Module interface: base interface for all NN components
//   - Container interface: modules with named, replaceable children
//   - Parameter: trainable parameters with a trainability flag
//   - Linear, TransposedLinear, Embedding, Conv2D, ReLU layers
//   - Sequential and ModuleDict containers
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
// Unlike reflective named_modules walking, the module tree is explicit:
// containers enumerate children by name and support a typed replace
// operation, which is what lets the adapt package swap modules for
// adapter-wrapped equivalents.
package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/graft-ml/graft/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module,
	// including nested module parameters. Modules without parameters
	// return an empty slice.
	Parameters() []*Parameter[B]
}

// Container is implemented by modules that own named children.
//
// Children are ordered; ChildNames returns them in a deterministic order
// that ReplaceChild preserves. The dotted concatenation of child names
// down the tree forms the module path used for adapter targeting.
type Container[B tensor.Backend] interface {
	Module[B]

	// ChildNames returns the names of immediate children in order.
	ChildNames() []string

	// Child returns the named child, or false if absent.
	Child(name string) (Module[B], bool)

	// ReplaceChild swaps the named child for m, keeping its position.
	ReplaceChild(name string, m Module[B]) error
}

// NamedModule pairs a module with its dotted path from the walk root.
type NamedModule[B tensor.Backend] struct {
	Path   string
	Module Module[B]
}

// NamedModules walks the module tree in pre-order and returns every module
// with its dotted path. The root itself is included with an empty path.
// The walk descends only through Containers, so wrapper modules that hide
// their internals (such as adapter layers) terminate their branch.
func NamedModules[B tensor.Backend](root Module[B]) []NamedModule[B] {
	var out []NamedModule[B]
	var walk func(prefix string, m Module[B])
	walk = func(prefix string, m Module[B]) {
		out = append(out, NamedModule[B]{Path: prefix, Module: m})
		c, ok := m.(Container[B])
		if !ok {
			return
		}
		for _, name := range c.ChildNames() {
			child, ok := c.Child(name)
			if !ok {
				continue
			}
			path := name
			if prefix != "" {
				path = prefix + "." + name
			}
			walk(path, child)
		}
	}
	walk("", root)
	return out
}

// ModuleAt resolves a dotted path from root. An empty path returns root.
func ModuleAt[B tensor.Backend](root Module[B], path string) (Module[B], bool) {
	if path == "" {
		return root, true
	}
	current := root
	for _, seg := range strings.Split(path, ".") {
		c, ok := current.(Container[B])
		if !ok {
			return nil, false
		}
		child, ok := c.Child(seg)
		if !ok {
			return nil, false
		}
		current = child
	}
	return current, true
}

// ReplaceAt swaps the module at a dotted path for m. The path must name a
// child of a Container; the root itself cannot be replaced.
func ReplaceAt[B tensor.Backend](root Module[B], path string, m Module[B]) error {
	if path == "" {
		return fmt.Errorf("cannot replace the root module")
	}
	parentPath, childName := "", path
	if i := strings.LastIndex(path, "."); i >= 0 {
		parentPath, childName = path[:i], path[i+1:]
	}
	parent, ok := ModuleAt(root, parentPath)
	if !ok {
		return fmt.Errorf("no module at path %q", parentPath)
	}
	c, ok := parent.(Container[B])
	if !ok {
		return fmt.Errorf("module at path %q has no named children", parentPath)
	}
	return c.ReplaceChild(childName, m)
}

// SortedUniqueDevices returns the distinct devices of the given parameters,
// sorted by name.
func SortedUniqueDevices[B tensor.Backend](params []*Parameter[B]) []tensor.Device {
	seen := make(map[tensor.Device]bool)
	var out []tensor.Device
	for _, p := range params {
		d := p.Tensor().Device()
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

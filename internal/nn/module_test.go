package nn

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/graft-ml/graft/internal/backend/cpu"
	"github.com/graft-ml/graft/internal/tensor"
)

// TestNamedModulesWalk verifies pre-order paths over nested containers.
func TestNamedModulesWalk(t *testing.T) {
	backend := cpu.New()
	model := NewModuleDict[*cpu.Backend]().
		Add("encoder", NewSequential[*cpu.Backend](
			NewLinear(4, 8, backend),
			NewReLU[*cpu.Backend](),
		)).
		Add("head", NewLinear(8, 2, backend))

	var paths []string
	for _, nm := range NamedModules(Module[*cpu.Backend](model)) {
		paths = append(paths, nm.Path)
	}
	want := []string{"", "encoder", "encoder.0", "encoder.1", "head"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("walk paths mismatch (-want +got):\n%s", diff)
	}
}

// TestModuleAt verifies dotted path resolution.
func TestModuleAt(t *testing.T) {
	backend := cpu.New()
	inner := NewLinear(4, 8, backend)
	model := NewModuleDict[*cpu.Backend]().
		Add("encoder", NewSequential[*cpu.Backend](inner))

	got, ok := ModuleAt(Module[*cpu.Backend](model), "encoder.0")
	if !ok || got != Module[*cpu.Backend](inner) {
		t.Errorf("ModuleAt(encoder.0) = %v, %v", got, ok)
	}
	if _, ok := ModuleAt(Module[*cpu.Backend](model), "encoder.7"); ok {
		t.Error("ModuleAt should fail for a missing child")
	}
	if _, ok := ModuleAt(Module[*cpu.Backend](model), "encoder.0.weight"); ok {
		t.Error("ModuleAt should not descend into leaf modules")
	}
}

// TestReplaceAt verifies swapping a module inside a nested tree.
func TestReplaceAt(t *testing.T) {
	backend := cpu.New()
	model := NewModuleDict[*cpu.Backend]().
		Add("encoder", NewSequential[*cpu.Backend](
			NewLinear(4, 8, backend),
		))

	replacement := NewLinear(4, 8, backend)
	if err := ReplaceAt(Module[*cpu.Backend](model), "encoder.0", Module[*cpu.Backend](replacement)); err != nil {
		t.Fatalf("ReplaceAt failed: %v", err)
	}
	got, _ := ModuleAt(Module[*cpu.Backend](model), "encoder.0")
	if got != Module[*cpu.Backend](replacement) {
		t.Error("ReplaceAt did not install the replacement")
	}

	if err := ReplaceAt(Module[*cpu.Backend](model), "missing.0", Module[*cpu.Backend](replacement)); err == nil {
		t.Error("ReplaceAt should fail for an unknown path")
	}
}

// TestModuleDictDuplicatePanics verifies the duplicate-name guard.
func TestModuleDictDuplicatePanics(t *testing.T) {
	backend := cpu.New()
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate child name")
		}
	}()
	NewModuleDict[*cpu.Backend]().
		Add("fc", NewLinear(2, 2, backend)).
		Add("fc", NewLinear(2, 2, backend))
}

// TestLinearForward verifies y = x @ W.T + b with known weights.
func TestLinearForward(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear(2, 3, backend)

	w := layer.Weight().Tensor().Raw().AsFloat32() // [3, 2]
	copy(w, []float32{1, 0, 0, 1, 1, 1})
	b := layer.Bias().Tensor().Raw().AsFloat32()
	copy(b, []float32{0.5, -0.5, 0})

	input, err := tensor.FromSlice([]float32{2, 3}, tensor.Shape{1, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	got := layer.Forward(input).Data()
	want := []float32{2.5, 2.5, 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("forward mismatch (-want +got):\n%s", diff)
	}
}

// TestTransposedLinearMatchesLinear verifies that a TransposedLinear
// with the transposed weight computes the same function as a Linear.
func TestTransposedLinearMatchesLinear(t *testing.T) {
	backend := cpu.New()
	lin := NewLinear(3, 2, backend)
	tlin := NewTransposedLinear(3, 2, backend)

	// Copy lin's weight [2, 3] transposed into tlin's weight [3, 2].
	lw := lin.Weight().Tensor().Raw().AsFloat32()
	tw := tlin.Weight().Tensor().Raw().AsFloat32()
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			tw[j*2+i] = lw[i*3+j]
		}
	}
	copy(tlin.Bias().Tensor().Raw().AsFloat32(), lin.Bias().Tensor().Raw().AsFloat32())

	input := tensor.Randn(tensor.Shape{4, 3}, backend)
	a := lin.Forward(input).Data()
	b := tlin.Forward(input).Data()
	for i := range a {
		diff := float64(a[i] - b[i])
		if diff > 1e-5 || diff < -1e-5 {
			t.Fatalf("outputs diverge at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

// TestEmbeddingLookup verifies row gathering.
func TestEmbeddingLookup(t *testing.T) {
	backend := cpu.New()
	embed := NewEmbedding(4, 2, backend)
	w := embed.Weight().Tensor().Raw().AsFloat32()
	copy(w, []float32{0, 1, 2, 3, 4, 5, 6, 7})

	indices, err := tensor.FromSlice([]int32{3, 0, 3}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatal(err)
	}
	got := embed.Lookup(indices).Data()
	want := []float32{6, 7, 0, 1, 6, 7}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lookup mismatch (-want +got):\n%s", diff)
	}
}

// TestParameterTrainableFlag verifies the default and the toggle.
func TestParameterTrainableFlag(t *testing.T) {
	backend := cpu.New()
	p := NewParameter("w", tensor.Randn(tensor.Shape{2, 2}, backend))
	if !p.Trainable() {
		t.Error("new parameters should default to trainable")
	}
	p.SetTrainable(false)
	if p.Trainable() {
		t.Error("SetTrainable(false) did not stick")
	}
}

// TestSortedUniqueDevices verifies deduplication across backends.
func TestSortedUniqueDevices(t *testing.T) {
	cpuBackend := cpu.New()
	gpuBackend := cpu.NewOn(tensor.CUDA)

	params := []*Parameter[*cpu.Backend]{
		NewParameter("a", tensor.Randn(tensor.Shape{2}, gpuBackend)),
		NewParameter("b", tensor.Randn(tensor.Shape{2}, cpuBackend)),
		NewParameter("c", tensor.Randn(tensor.Shape{2}, cpuBackend)),
	}
	got := SortedUniqueDevices(params)
	want := []tensor.Device{tensor.CPU, tensor.CUDA}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}
}

// TestPipelineOpaque verifies that tree walks stop at pipelines.
func TestPipelineOpaque(t *testing.T) {
	backend := cpu.New()
	p := NewPipeline[*cpu.Backend]().
		AddComponent("encoder", NewLinear(4, 4, backend))

	entries := NamedModules(Module[*cpu.Backend](p))
	if len(entries) != 1 || entries[0].Path != "" {
		t.Errorf("pipeline should be opaque to walks, got %d entries", len(entries))
	}
}

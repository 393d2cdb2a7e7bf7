package adapt

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/graft-ml/graft/internal/backend/cpu"
	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// newTrainedModel injects a LoRA adapter with random (non-identity)
// weights on lin0 and lin1, so merging has a visible effect.
func newTrainedModel(t *testing.T, backend *cpu.Backend) *Model[*cpu.Backend] {
	t.Helper()
	cfg := NewLoRAConfig()
	cfg.Modules = []string{"lin0", "lin1"}
	cfg.InitWeights = false
	model, err := New(nn.Module[*cpu.Backend](newMLP(backend)), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return model
}

// TestSetAdapterIntersection verifies that activating an adapter only
// affects layers that hold it, and that layers without it run bare.
func TestSetAdapterIntersection(t *testing.T) {
	backend := cpu.New()
	cfg := NewLoRAConfig()
	cfg.Modules = []string{"lin0", "lin1"}
	model, err := New(nn.Module[*cpu.Backend](newMLP(backend)), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// "extra" exists only on lin0.
	extra := NewLoRAConfig()
	extra.Modules = []string{"lin0"}
	if err := model.AddAdapter("extra", extra); err != nil {
		t.Fatalf("AddAdapter failed: %v", err)
	}
	if err := model.SetAdapter("extra"); err != nil {
		t.Fatalf("SetAdapter failed: %v", err)
	}

	lin0, _ := nn.ModuleAt(model.Base(), "lin0")
	lin1, _ := nn.ModuleAt(model.Base(), "lin1")
	if diff := cmp.Diff([]string{"extra"}, lin0.(AdapterLayer[*cpu.Backend]).ActiveAdapters()); diff != "" {
		t.Errorf("lin0 active adapters (-want +got):\n%s", diff)
	}
	if got := lin1.(AdapterLayer[*cpu.Backend]).ActiveAdapters(); len(got) != 0 {
		t.Errorf("lin1 active adapters = %v, want none", got)
	}
}

// TestSetAdapterUnknown verifies rejection of unregistered names.
func TestSetAdapterUnknown(t *testing.T) {
	backend := cpu.New()
	model := newTrainedModel(t, backend)
	if err := model.SetAdapter("ghost"); !errors.Is(err, ErrUnknownAdapter) {
		t.Errorf("expected ErrUnknownAdapter, got %v", err)
	}
	// A failed activation leaves the active set unchanged.
	if diff := cmp.Diff([]string{"default"}, model.ActiveAdapters()); diff != "" {
		t.Errorf("active adapters (-want +got):\n%s", diff)
	}
}

// TestSetAdapterTrainability verifies that activation re-points which
// adapter trains.
func TestSetAdapterTrainability(t *testing.T) {
	backend := cpu.New()
	cfg := NewLoRAConfig()
	cfg.Modules = []string{"lin0"}
	model, err := New(nn.Module[*cpu.Backend](newMLP(backend)), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	other := NewLoRAConfig()
	other.Modules = []string{"lin0"}
	if err := model.AddAdapter("other", other); err != nil {
		t.Fatalf("AddAdapter failed: %v", err)
	}
	if err := model.SetAdapter("other"); err != nil {
		t.Fatalf("SetAdapter failed: %v", err)
	}

	lin0, _ := nn.ModuleAt(model.Base(), "lin0")
	layer := lin0.(AdapterLayer[*cpu.Backend])
	for _, p := range layer.AdapterParameters("default") {
		if p.Trainable() {
			t.Error("inactive adapter parameters should be frozen")
		}
	}
	for _, p := range layer.AdapterParameters("other") {
		if !p.Trainable() {
			t.Error("active adapter parameters should be trainable")
		}
	}
}

// TestDisableRestoresBaseOutput verifies the disabled path reproduces
// the base module exactly, even with trained adapter weights.
func TestDisableRestoresBaseOutput(t *testing.T) {
	backend := cpu.New()
	base := newMLP(backend)
	input := tensor.Randn(tensor.Shape{4, 10}, backend)
	before := base.Forward(input).Data()

	cfg := NewLoRAConfig()
	cfg.Modules = []string{"lin0", "lin1"}
	cfg.InitWeights = false
	model, err := New(nn.Module[*cpu.Backend](base), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	adapted := model.Forward(input).Data()
	if sameBits(before, adapted) {
		t.Fatal("random-initialized adapter should change the output")
	}

	model.DisableAdapterLayers()
	if got := model.Forward(input).Data(); !sameBits(before, got) {
		t.Error("disabled adapters should reproduce the base output exactly")
	}

	model.EnableAdapterLayers()
	if got := model.Forward(input).Data(); !sameBits(adapted, got) {
		t.Error("re-enabled adapters should restore the adapted output")
	}
}

// TestWithAdaptersDisabled verifies scoped disabling, including restore
// after a panic inside the callback.
func TestWithAdaptersDisabled(t *testing.T) {
	backend := cpu.New()
	model := newTrainedModel(t, backend)
	input := tensor.Randn(tensor.Shape{2, 10}, backend)
	adapted := model.Forward(input).Data()

	model.WithAdaptersDisabled(func() {
		for _, layer := range model.adapterLayers() {
			if layer.Enabled() {
				t.Error("layer still enabled inside WithAdaptersDisabled")
			}
		}
	})
	if got := model.Forward(input).Data(); !sameBits(adapted, got) {
		t.Error("enable state not restored after WithAdaptersDisabled")
	}

	func() {
		defer func() { _ = recover() }()
		model.WithAdaptersDisabled(func() { panic("boom") })
	}()
	for _, layer := range model.adapterLayers() {
		if !layer.Enabled() {
			t.Error("enable state not restored after panic in callback")
		}
	}
}

// TestMergeUnmergeRoundTrip verifies that merging changes the base
// weights, preserves the forward output, and that unmerging restores
// the original weight bytes exactly.
func TestMergeUnmergeRoundTrip(t *testing.T) {
	backend := cpu.New()
	model := newTrainedModel(t, backend)
	input := tensor.Randn(tensor.Shape{4, 10}, backend)

	lin0, _ := nn.ModuleAt(model.Base(), "lin0")
	weight := lin0.(*LoRALinear[*cpu.Backend]).weight.Tensor().Raw()
	originalWeight := append([]float32(nil), weight.AsFloat32()...)
	adapted := model.Forward(input).Data()

	if err := model.MergeAdapter(); err != nil {
		t.Fatalf("MergeAdapter failed: %v", err)
	}
	if sameBits(originalWeight, weight.AsFloat32()) {
		t.Fatal("merge did not change the base weight")
	}

	merged := model.Forward(input).Data()
	for i := range adapted {
		diff := float64(adapted[i] - merged[i])
		if diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("merged output diverged at %d: %v vs %v", i, adapted[i], merged[i])
		}
	}

	if err := model.UnmergeAdapter(); err != nil {
		t.Fatalf("UnmergeAdapter failed: %v", err)
	}
	if !sameBits(originalWeight, weight.AsFloat32()) {
		t.Error("unmerge did not restore the base weight bit-for-bit")
	}
	if got := model.Forward(input).Data(); !sameBits(adapted, got) {
		t.Error("unmerge did not restore the adapted output")
	}
}

// TestPartialUnmerge verifies rollback with two merged adapters where
// only the first merged one is unmerged.
func TestPartialUnmerge(t *testing.T) {
	backend := cpu.New()
	cfg := NewLoRAConfig()
	cfg.Modules = []string{"lin0"}
	cfg.InitWeights = false
	model, err := New(nn.Module[*cpu.Backend](newMLP(backend)), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	second := NewLoRAConfig()
	second.Modules = []string{"lin0"}
	second.InitWeights = false
	if err := model.AddAdapter("second", second); err != nil {
		t.Fatalf("AddAdapter failed: %v", err)
	}

	lin0, _ := nn.ModuleAt(model.Base(), "lin0")
	layer := lin0.(*LoRALinear[*cpu.Backend])
	original := append([]float32(nil), layer.weight.Tensor().Raw().AsFloat32()...)

	if err := model.MergeAdapter("default", "second"); err != nil {
		t.Fatalf("MergeAdapter failed: %v", err)
	}
	if err := model.UnmergeAdapter("default"); err != nil {
		t.Fatalf("UnmergeAdapter failed: %v", err)
	}
	if diff := cmp.Diff([]string{"second"}, layer.MergedAdapters()); diff != "" {
		t.Errorf("merged adapters (-want +got):\n%s", diff)
	}

	// Unmerging the survivor as well must restore the original bytes.
	if err := model.UnmergeAdapter(); err != nil {
		t.Fatalf("UnmergeAdapter failed: %v", err)
	}
	if !sameBits(original, layer.weight.Tensor().Raw().AsFloat32()) {
		t.Error("full unmerge after partial unmerge did not restore the weight")
	}
}

// TestIA3MergeBias verifies that output-side gate merging folds into
// both the weight and the bias exactly.
func TestIA3MergeBias(t *testing.T) {
	backend := cpu.New()
	base := nn.NewModuleDict[*cpu.Backend]().
		Add("fc", nn.NewLinear(6, 4, backend))
	// Give the bias non-zero values so folding it matters.
	fc, _ := nn.ModuleAt(nn.Module[*cpu.Backend](base), "fc")
	bias := fc.(*nn.Linear[*cpu.Backend]).Bias().Tensor().Raw().AsFloat32()
	for i := range bias {
		bias[i] = float32(i + 1)
	}

	cfg := NewIA3Config()
	cfg.Modules = []string{"fc"}
	cfg.InitWeights = false
	model, err := New(nn.Module[*cpu.Backend](base), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	input := tensor.Randn(tensor.Shape{3, 6}, backend)
	adapted := model.Forward(input).Data()
	originalBias := append([]float32(nil), bias...)

	if err := model.MergeAdapter(); err != nil {
		t.Fatalf("MergeAdapter failed: %v", err)
	}
	merged := model.Forward(input).Data()
	for i := range adapted {
		diff := float64(adapted[i] - merged[i])
		if diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("merged output diverged at %d: %v vs %v", i, adapted[i], merged[i])
		}
	}

	if err := model.UnmergeAdapter(); err != nil {
		t.Fatalf("UnmergeAdapter failed: %v", err)
	}
	if !sameBits(originalBias, bias) {
		t.Error("unmerge did not restore the bias bit-for-bit")
	}
	if got := model.Forward(input).Data(); !sameBits(adapted, got) {
		t.Error("unmerge did not restore the adapted output")
	}
}

// TestDeleteAdapter verifies removal, merge protection and active-set
// fallback.
func TestDeleteAdapter(t *testing.T) {
	backend := cpu.New()
	model := newTrainedModel(t, backend)
	second := NewLoRAConfig()
	second.Modules = []string{"lin0"}
	if err := model.AddAdapter("second", second); err != nil {
		t.Fatalf("AddAdapter failed: %v", err)
	}

	if err := model.DeleteAdapter("ghost"); !errors.Is(err, ErrUnknownAdapter) {
		t.Errorf("expected ErrUnknownAdapter, got %v", err)
	}

	// A merged adapter refuses deletion.
	if err := model.MergeAdapter("default"); err != nil {
		t.Fatalf("MergeAdapter failed: %v", err)
	}
	if err := model.DeleteAdapter("default"); err == nil {
		t.Error("expected error deleting a merged adapter")
	}
	if err := model.UnmergeAdapter("default"); err != nil {
		t.Fatalf("UnmergeAdapter failed: %v", err)
	}

	// Deleting the active adapter falls back to the earliest remaining.
	if err := model.DeleteAdapter("default"); err != nil {
		t.Fatalf("DeleteAdapter failed: %v", err)
	}
	if diff := cmp.Diff([]string{"second"}, model.ActiveAdapters()); diff != "" {
		t.Errorf("active adapters after delete (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"second"}, model.AdapterNames()); diff != "" {
		t.Errorf("adapter names after delete (-want +got):\n%s", diff)
	}
}

// TestDuplicateAdapterName verifies rejection at the model level and at
// the layer level.
func TestDuplicateAdapterName(t *testing.T) {
	backend := cpu.New()
	model := newTrainedModel(t, backend)
	cfg := NewLoRAConfig()
	cfg.Modules = []string{"lin0"}
	if err := model.AddAdapter("default", cfg); !errors.Is(err, ErrDuplicateAdapter) {
		t.Errorf("expected ErrDuplicateAdapter, got %v", err)
	}
}

// TestMixedKindsRejected verifies that Model refuses to mix adapter
// methods while MixedModel accepts them.
func TestMixedKindsRejected(t *testing.T) {
	backend := cpu.New()
	model := newTrainedModel(t, backend)
	ia3 := NewIA3Config()
	ia3.Modules = []string{"lin1"}
	if err := model.AddAdapter("gates", ia3); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig mixing kinds, got %v", err)
	}

	lora := NewLoRAConfig()
	lora.Modules = []string{"lin0"}
	mixed, err := NewMixed(nn.Module[*cpu.Backend](newMLP(backend)), lora)
	if err != nil {
		t.Fatalf("NewMixed failed: %v", err)
	}
	gates := NewIA3Config()
	gates.Modules = []string{"lin1"}
	if err := mixed.AddAdapter("gates", gates); err != nil {
		t.Errorf("MixedModel should accept a different adapter kind: %v", err)
	}
}

// TestAdapterStateDictRoundTrip verifies export and reload of one
// adapter's parameters.
func TestAdapterStateDictRoundTrip(t *testing.T) {
	backend := cpu.New()
	model := newTrainedModel(t, backend)
	sd, err := model.AdapterStateDict("default")
	if err != nil {
		t.Fatalf("AdapterStateDict failed: %v", err)
	}
	// lin0 and lin1 each contribute lora_A and lora_B.
	if len(sd) != 4 {
		t.Fatalf("state dict has %d entries, want 4", len(sd))
	}
	if _, ok := sd["lin0.lora_A"]; !ok {
		t.Errorf("missing key lin0.lora_A, have %v", keysOf(sd))
	}

	// Snapshot, scramble, reload, compare.
	snapshot := make(map[string][]float32)
	for key, p := range sd {
		snapshot[key] = append([]float32(nil), p.Tensor().Data()...)
	}
	for _, p := range sd {
		data := p.Tensor().Raw().AsFloat32()
		for i := range data {
			data[i] = -1
		}
	}
	restore := make(map[string]*nn.Parameter[*cpu.Backend])
	for key, values := range snapshot {
		shape := sd[key].Tensor().Shape()
		tens, err := tensor.FromSlice(values, shape, backend)
		if err != nil {
			t.Fatal(err)
		}
		restore[key] = nn.NewParameter(sd[key].Name(), tens)
	}
	if err := model.LoadAdapterStateDict("default", restore); err != nil {
		t.Fatalf("LoadAdapterStateDict failed: %v", err)
	}
	for key, p := range sd {
		if !sameBits(snapshot[key], p.Tensor().Data()) {
			t.Errorf("parameter %q not restored", key)
		}
	}

	bogus := map[string]*nn.Parameter[*cpu.Backend]{"nope": restore["lin0.lora_A"]}
	if err := model.LoadAdapterStateDict("default", bogus); err == nil {
		t.Error("expected error for unknown state key")
	}
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// TestPromptModelForward verifies the virtual-token prepend and that
// the base tree is left unwrapped.
func TestPromptModelForward(t *testing.T) {
	backend := cpu.New()
	base := nn.NewSequential[*cpu.Backend](nn.NewLinear(4, 2, backend))
	cfg := &PromptConfig{NumVirtualTokens: 3, TokenDim: 4}
	model, err := NewPromptModel(nn.Module[*cpu.Backend](base), backend, cfg)
	if err != nil {
		t.Fatalf("NewPromptModel failed: %v", err)
	}

	input := tensor.Randn(tensor.Shape{5, 4}, backend)
	out := model.Forward(input)
	if got := out.Shape(); got[0] != 8 || got[1] != 2 {
		t.Errorf("output shape = %v, want [8 2]", got)
	}

	for _, nm := range nn.NamedModules(model.Base()) {
		if _, ok := nm.Module.(AdapterLayer[*cpu.Backend]); ok {
			t.Error("prompt tuning must not wrap base modules")
		}
	}
	for _, p := range model.Base().Parameters() {
		if p.Trainable() {
			t.Error("base parameters should be frozen")
		}
	}
	prompt, ok := model.PromptEmbeddings("default")
	if !ok || !prompt.Trainable() {
		t.Error("prompt table should exist and be trainable")
	}
}

package adapt

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/graft-ml/graft/internal/backend/cpu"
	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// newStatusModel injects a default LoRA adapter on lin0 and lin1 of the
// small MLP. Parameter counts for reference, with rank 8:
//
//	lin0: weight 200 + bias 20, adapter 80 + 160
//	lin1: weight  40 + bias  2, adapter 160 + 16
func newStatusModel(t *testing.T, backend *cpu.Backend) *Model[*cpu.Backend] {
	t.Helper()
	cfg := NewLoRAConfig()
	cfg.Modules = []string{"lin0", "lin1"}
	model, err := New(nn.Module[*cpu.Backend](newMLP(backend)), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return model
}

// TestGetLayerStatus verifies per-layer reporting on a fresh model.
func TestGetLayerStatus(t *testing.T) {
	backend := cpu.New()
	model := newStatusModel(t, backend)

	layers, err := GetLayerStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetLayerStatus failed: %v", err)
	}
	want := []LayerStatus{
		{
			Name:              "lin0",
			ModuleType:        "lora.Linear",
			Enabled:           true,
			ActiveAdapters:    []string{"default"},
			AvailableAdapters: []string{"default"},
			RequiresGrad:      map[string]BoolOrIrregular{"default": BoolTrue},
			Devices:           map[string][]tensor.Device{"default": {tensor.CPU}},
		},
		{
			Name:              "lin1",
			ModuleType:        "lora.Linear",
			Enabled:           true,
			ActiveAdapters:    []string{"default"},
			AvailableAdapters: []string{"default"},
			RequiresGrad:      map[string]BoolOrIrregular{"default": BoolTrue},
			Devices:           map[string][]tensor.Device{"default": {tensor.CPU}},
		},
	}
	if diff := cmp.Diff(want, layers); diff != "" {
		t.Errorf("layer status mismatch (-want +got):\n%s", diff)
	}
}

// TestGetModelStatus verifies aggregation and parameter counting on a
// uniform model.
func TestGetModelStatus(t *testing.T) {
	backend := cpu.New()
	model := newStatusModel(t, backend)

	status, err := GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}

	if status.BaseModuleType != "ModuleDict" {
		t.Errorf("base module type = %q, want ModuleDict", status.BaseModuleType)
	}
	if status.AdapterModelType != "Model" {
		t.Errorf("adapter model type = %q, want Model", status.AdapterModelType)
	}
	if diff := cmp.Diff(map[string]PeftType{"default": PeftLoRA}, status.PeftTypes); diff != "" {
		t.Errorf("peft types (-want +got):\n%s", diff)
	}
	if status.NumAdapterLayers != 2 {
		t.Errorf("num adapter layers = %d, want 2", status.NumAdapterLayers)
	}
	if status.TotalParams != 678 {
		t.Errorf("total params = %d, want 678", status.TotalParams)
	}
	if status.TrainableParams != 416 {
		t.Errorf("trainable params = %d, want 416", status.TrainableParams)
	}
	if status.Enabled != BoolTrue {
		t.Errorf("enabled = %v, want true", status.Enabled)
	}
	if diff := cmp.Diff([]string{"default"}, status.ActiveAdapters.Values); diff != "" {
		t.Errorf("active adapters (-want +got):\n%s", diff)
	}
	if status.MergedAdapters.Irregular || len(status.MergedAdapters.Values) != 0 {
		t.Errorf("merged adapters = %v, want none", status.MergedAdapters)
	}
	if diff := cmp.Diff([]string{"default"}, status.AvailableAdapters); diff != "" {
		t.Errorf("available adapters (-want +got):\n%s", diff)
	}
}

// TestModelStatusIrregularEnabled verifies the sentinel when layers
// disagree on the enable flag.
func TestModelStatusIrregularEnabled(t *testing.T) {
	backend := cpu.New()
	model := newStatusModel(t, backend)
	model.adapterLayers()[0].SetEnabled(false)

	status, err := GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if status.Enabled != BoolIrregular {
		t.Errorf("enabled = %v, want irregular", status.Enabled)
	}
	if status.Enabled.String() != Irregular {
		t.Errorf("enabled string = %q, want %q", status.Enabled.String(), Irregular)
	}
}

// TestModelStatusIrregularActive verifies the sentinel when layers
// disagree on the active set, and the skip of empty layer sets.
func TestModelStatusIrregularActive(t *testing.T) {
	backend := cpu.New()
	model := newStatusModel(t, backend)
	extra := NewLoRAConfig()
	extra.Modules = []string{"lin0"}
	if err := model.AddAdapter("extra", extra); err != nil {
		t.Fatalf("AddAdapter failed: %v", err)
	}

	// Activating "extra" leaves lin1 with an empty active set, which is
	// not a disagreement: the aggregate reports ["extra"].
	if err := model.SetAdapter("extra"); err != nil {
		t.Fatalf("SetAdapter failed: %v", err)
	}
	status, err := GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if status.ActiveAdapters.Irregular {
		t.Fatal("empty layer active sets must not force irregular")
	}
	if diff := cmp.Diff([]string{"extra"}, status.ActiveAdapters.Values); diff != "" {
		t.Errorf("active adapters (-want +got):\n%s", diff)
	}

	// Forcing genuinely different non-empty sets is irregular.
	model.adapterLayers()[0].SetActiveAdapters([]string{"extra"})
	model.adapterLayers()[1].SetActiveAdapters([]string{"default"})
	status, err = GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if !status.ActiveAdapters.Irregular {
		t.Errorf("active adapters = %v, want irregular", status.ActiveAdapters)
	}
	if status.ActiveAdapters.String() != Irregular {
		t.Errorf("active adapters string = %q, want %q", status.ActiveAdapters.String(), Irregular)
	}
}

// TestModelStatusIrregularRequiresGrad verifies the per-adapter
// sentinel when one layer's parameters train and another's do not.
func TestModelStatusIrregularRequiresGrad(t *testing.T) {
	backend := cpu.New()
	model := newStatusModel(t, backend)
	model.adapterLayers()[1].SetAdapterTrainable("default", false)

	status, err := GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if got := status.RequiresGrad["default"]; got != BoolIrregular {
		t.Errorf("requires grad = %v, want irregular", got)
	}
}

// TestLayerStatusIrregularTrainability verifies the per-layer sentinel
// when one adapter's parameters within a single layer disagree on
// trainability.
func TestLayerStatusIrregularTrainability(t *testing.T) {
	backend := cpu.New()
	model := newStatusModel(t, backend)
	params := model.adapterLayers()[0].AdapterParameters("default")
	if len(params) < 2 {
		t.Fatalf("expected at least 2 adapter parameters, got %d", len(params))
	}
	params[0].SetTrainable(false)

	layers, err := GetLayerStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetLayerStatus failed: %v", err)
	}
	if got := layers[0].RequiresGrad["default"]; got != BoolIrregular {
		t.Errorf("layer requires grad = %v, want irregular", got)
	}
	if got := layers[1].RequiresGrad["default"]; got != BoolTrue {
		t.Errorf("untouched layer requires grad = %v, want true", got)
	}

	status, err := GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if got := status.RequiresGrad["default"]; got != BoolIrregular {
		t.Errorf("model requires grad = %v, want irregular", got)
	}
}

// TestModelStatusIrregularMerged verifies that an adapter merged on
// only some of the layers holding it is irregular, while an adapter
// merged everywhere it exists stays uniform.
func TestModelStatusIrregularMerged(t *testing.T) {
	backend := cpu.New()
	model := newStatusModel(t, backend)
	extra := NewLoRAConfig()
	extra.Modules = []string{"lin0"}
	if err := model.AddAdapter("extra", extra); err != nil {
		t.Fatalf("AddAdapter failed: %v", err)
	}

	// "extra" exists only on lin0; merging it there is a full merge.
	if err := model.MergeAdapter("extra"); err != nil {
		t.Fatalf("MergeAdapter failed: %v", err)
	}
	status, err := GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if status.MergedAdapters.Irregular {
		t.Fatal("merging an adapter on every layer holding it must not be irregular")
	}
	if diff := cmp.Diff([]string{"extra"}, status.MergedAdapters.Values); diff != "" {
		t.Errorf("merged adapters (-want +got):\n%s", diff)
	}

	// "default" exists on both layers; merging it on one of them is a
	// partial merge.
	if err := model.adapterLayers()[0].Merge("default"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	status, err = GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if !status.MergedAdapters.Irregular {
		t.Errorf("merged adapters = %v, want irregular", status.MergedAdapters)
	}

	// Completing the merge on the second layer restores uniformity.
	if err := model.adapterLayers()[1].Merge("default"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	status, err = GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if status.MergedAdapters.Irregular {
		t.Errorf("merged adapters = %v, want uniform", status.MergedAdapters)
	}
	if diff := cmp.Diff([]string{"extra", "default"}, status.MergedAdapters.Values); diff != "" {
		t.Errorf("merged adapters (-want +got):\n%s", diff)
	}
}

// TestStatusDeviceAggregation verifies sorted, de-duplicated device
// reporting when one adapter parameter lives on another device.
func TestStatusDeviceAggregation(t *testing.T) {
	backend := cpu.New()
	model := newStatusModel(t, backend)
	cuda := cpu.NewOn(tensor.CUDA)
	p := model.adapterLayers()[0].AdapterParameters("default")[0]
	p.SetTensor(tensor.Randn(p.Tensor().Shape(), cuda))

	layers, err := GetLayerStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetLayerStatus failed: %v", err)
	}
	want := []tensor.Device{tensor.CPU, tensor.CUDA}
	if diff := cmp.Diff(want, layers[0].Devices["default"]); diff != "" {
		t.Errorf("layer devices (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]tensor.Device{tensor.CPU}, layers[1].Devices["default"]); diff != "" {
		t.Errorf("untouched layer devices (-want +got):\n%s", diff)
	}

	status, err := GetModelStatus[*cpu.Backend](model)
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if diff := cmp.Diff(want, status.Devices["default"]); diff != "" {
		t.Errorf("model devices (-want +got):\n%s", diff)
	}
}

// TestCountParamsSharedTensor verifies that a tensor referenced by two
// parameters is counted once.
func TestCountParamsSharedTensor(t *testing.T) {
	backend := cpu.New()
	shared := tensor.Randn(tensor.Shape{3, 4}, backend)
	p1 := nn.NewParameter("a", shared)
	p2 := nn.NewParameter("b", shared)
	p2.SetTrainable(false)

	trainable, total := countParams([]*nn.Parameter[*cpu.Backend]{p1, p2})
	if total != 12 {
		t.Errorf("total = %d, want 12", total)
	}
	if trainable != 12 {
		t.Errorf("trainable = %d, want 12", trainable)
	}
}

// TestStatusRejectsUnsupportedModels verifies the error cases.
func TestStatusRejectsUnsupportedModels(t *testing.T) {
	backend := cpu.New()

	prompt, err := NewPromptModel(
		nn.Module[*cpu.Backend](nn.NewSequential[*cpu.Backend](nn.NewLinear(4, 2, backend))),
		backend, &PromptConfig{NumVirtualTokens: 2, TokenDim: 4})
	if err != nil {
		t.Fatalf("NewPromptModel failed: %v", err)
	}
	if _, err := GetLayerStatus[*cpu.Backend](prompt); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("expected ErrInvalidModel for prompt model, got %v", err)
	}

	lora := NewLoRAConfig()
	lora.Modules = []string{"lin0"}
	mixed, err := NewMixed(nn.Module[*cpu.Backend](newMLP(backend)), lora)
	if err != nil {
		t.Fatalf("NewMixed failed: %v", err)
	}
	if _, err := GetModelStatus[*cpu.Backend](mixed); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("expected ErrInvalidModel for mixed model, got %v", err)
	}

	if _, err := GetLayerStatus(nn.Module[*cpu.Backend](newMLP(backend))); !errors.Is(err, ErrNoAdapterLayers) {
		t.Errorf("expected ErrNoAdapterLayers, got %v", err)
	}
}

// TestStatusOnRawTree verifies inspection of an adapted tree accessed
// without its managing model.
func TestStatusOnRawTree(t *testing.T) {
	backend := cpu.New()
	model := newStatusModel(t, backend)

	status, err := GetModelStatus(model.Base())
	if err != nil {
		t.Fatalf("GetModelStatus failed: %v", err)
	}
	if status.AdapterModelType != "None" {
		t.Errorf("adapter model type = %q, want None", status.AdapterModelType)
	}
	if len(status.PeftTypes) != 0 {
		t.Errorf("peft types = %v, want empty for a raw tree", status.PeftTypes)
	}
	if diff := cmp.Diff([]string{"default"}, status.ActiveAdapters.Values); diff != "" {
		t.Errorf("active adapters (-want +got):\n%s", diff)
	}
}

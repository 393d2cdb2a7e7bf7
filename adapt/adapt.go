// Copyright 2025 the Graft Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package adapt

import (
	"github.com/rs/zerolog"

	"github.com/graft-ml/graft/internal/adapt"
	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// Configuration

// PeftType identifies an adapter method.
type PeftType = adapt.PeftType

// Adapter method tags.
const (
	PeftLoRA   PeftType = adapt.PeftLoRA
	PeftIA3    PeftType = adapt.PeftIA3
	PeftPrompt PeftType = adapt.PeftPrompt
)

// Config is the common interface of adapter configurations.
type Config = adapt.Config

// TargetSpec selects the modules an adapter attaches to.
type TargetSpec = adapt.TargetSpec

// LoRAConfig configures low-rank adapters.
type LoRAConfig = adapt.LoRAConfig

// NewLoRAConfig returns a LoRAConfig with the standard defaults:
// rank 8, alpha 8, zero-initialized.
func NewLoRAConfig() *LoRAConfig {
	return adapt.NewLoRAConfig()
}

// IA3Config configures learned gating-vector adapters.
type IA3Config = adapt.IA3Config

// NewIA3Config returns an IA3Config with identity initialization.
func NewIA3Config() *IA3Config {
	return adapt.NewIA3Config()
}

// PromptConfig configures prompt tuning.
type PromptConfig = adapt.PromptConfig

// LoadConfig reads an adapter config from a .json, .yaml or .yml file.
func LoadConfig(path string) (Config, error) {
	return adapt.LoadConfig(path)
}

// SaveConfig writes an adapter config to a .json, .yaml or .yml file.
func SaveConfig(path string, cfg Config) error {
	return adapt.SaveConfig(path, cfg)
}

// Models

// Model owns a base module tree with injected adapter layers.
type Model[B tensor.Backend] = adapt.Model[B]

// Option configures model construction.
type Option = adapt.Option

// WithAdapterName overrides the initial adapter name (default "default").
func WithAdapterName(name string) Option {
	return adapt.WithAdapterName(name)
}

// WithLogger sets the logger used for injection and lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return adapt.WithLogger(logger)
}

// New injects the config's adapter into base and returns the managing
// model.
func New[B tensor.Backend](base nn.Module[B], cfg Config, opts ...Option) (*Model[B], error) {
	return adapt.New(base, cfg, opts...)
}

// MixedModel manages adapters of different kinds on one base tree.
type MixedModel[B tensor.Backend] = adapt.MixedModel[B]

// NewMixed injects the config's adapter into base and returns a model
// that accepts further adapters of any kind.
func NewMixed[B tensor.Backend](base nn.Module[B], cfg Config, opts ...Option) (*MixedModel[B], error) {
	return adapt.NewMixed(base, cfg, opts...)
}

// PromptModel implements prompt tuning over an unmodified base tree.
type PromptModel[B tensor.Backend] = adapt.PromptModel[B]

// NewPromptModel creates a prompt-tuned model over base.
func NewPromptModel[B tensor.Backend](base nn.Module[B], backend B, cfg *PromptConfig, opts ...Option) (*PromptModel[B], error) {
	return adapt.NewPromptModel(base, backend, cfg, opts...)
}

// AdapterLayer is the contract every adapter-wrapped module implements.
type AdapterLayer[B tensor.Backend] = adapt.AdapterLayer[B]

// OutputHeadModel is implemented by models that designate one module as
// their output projection, excluded from all-linear targeting.
type OutputHeadModel = adapt.OutputHeadModel

// Status inspection

// LayerStatus reports one adapter layer's state.
type LayerStatus = adapt.LayerStatus

// ModelStatus aggregates layer state over the whole tree.
type ModelStatus = adapt.ModelStatus

// BoolOrIrregular is a bool that may be irregular across layers.
type BoolOrIrregular = adapt.BoolOrIrregular

// BoolOrIrregular values.
const (
	BoolFalse     BoolOrIrregular = adapt.BoolFalse
	BoolTrue      BoolOrIrregular = adapt.BoolTrue
	BoolIrregular BoolOrIrregular = adapt.BoolIrregular
)

// StringsOrIrregular is a string list that may be irregular across
// layers.
type StringsOrIrregular = adapt.StringsOrIrregular

// Irregular is the sentinel reported when a per-layer attribute does
// not aggregate to a single model-wide value.
const Irregular = adapt.Irregular

// GetLayerStatus reports one LayerStatus per adapter layer in tree walk
// order.
func GetLayerStatus[B tensor.Backend](model nn.Module[B]) ([]LayerStatus, error) {
	return adapt.GetLayerStatus(model)
}

// GetModelStatus aggregates GetLayerStatus over the whole tree.
func GetModelStatus[B tensor.Backend](model nn.Module[B]) (ModelStatus, error) {
	return adapt.GetModelStatus(model)
}

// Errors

// Sentinel errors, matched with errors.Is.
var (
	ErrInvalidConfig     = adapt.ErrInvalidConfig
	ErrNoTargetModules   = adapt.ErrNoTargetModules
	ErrDuplicateAdapter  = adapt.ErrDuplicateAdapter
	ErrUnknownAdapter    = adapt.ErrUnknownAdapter
	ErrUnsupportedModule = adapt.ErrUnsupportedModule
	ErrInvalidModel      = adapt.ErrInvalidModel
	ErrNoAdapterLayers   = adapt.ErrNoAdapterLayers
)

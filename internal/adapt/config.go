// Package adapt implements parameter-efficient fine-tuning for Graft.
//
// It attaches small sets of trainable parameters (adapters) to frozen base
// models built from nn modules. The package covers:
//   - module targeting: deciding which module paths receive an adapter
//   - adapter layers: LoRA and IA3 wrappers around Linear, TransposedLinear,
//     Embedding and Conv2D modules
//   - the adapter lifecycle: add, activate, enable/disable, merge, unmerge,
//     delete, for any number of named adapters that may overlap across the
//     module tree
//   - status inspection: per-layer and aggregate reporting, with explicit
//     "irregular" sentinels for valid but non-uniform states
//
// All operations are synchronous and single-threaded; callers must
// serialize mutations of one model's adapter set.
package adapt

import "fmt"

// PeftType identifies an adapter family.
type PeftType string

// Supported adapter families.
const (
	PeftLoRA   PeftType = "LORA"
	PeftIA3    PeftType = "IA3"
	PeftPrompt PeftType = "PROMPT_TUNING"
)

// Config is implemented by every adapter configuration.
type Config interface {
	// Type returns the adapter family.
	Type() PeftType

	// Target returns the module targeting spec, or nil for adapter
	// families that do not wrap individual modules.
	Target() *TargetSpec

	// Validate checks the configuration for internal consistency.
	Validate() error
}

// LoRAConfig configures low-rank adapters.
//
// The adapter learns a rank-r decomposition B @ A of the weight delta,
// scaled by Alpha/Rank. With InitWeights (the default), B starts at zero
// so the adapter contributes exactly nothing until trained.
type LoRAConfig struct {
	TargetSpec

	// Rank of the decomposition.
	Rank int

	// Alpha is the scaling numerator; the effective scale is Alpha/Rank.
	Alpha float64

	// InitWeights selects zero-initialization of B (identity behavior at
	// injection time). Disable only to exercise merging with non-trivial
	// deltas, e.g. in tests.
	InitWeights bool
}

// NewLoRAConfig returns a LoRAConfig with the standard defaults:
// rank 8, alpha 8, zero-initialized.
func NewLoRAConfig() *LoRAConfig {
	return &LoRAConfig{Rank: 8, Alpha: 8, InitWeights: true}
}

// Type returns PeftLoRA.
func (c *LoRAConfig) Type() PeftType { return PeftLoRA }

// Target returns the module targeting spec.
func (c *LoRAConfig) Target() *TargetSpec { return &c.TargetSpec }

// Validate checks rank positivity and the targeting spec.
func (c *LoRAConfig) Validate() error {
	if c.Rank <= 0 {
		return fmt.Errorf("%w: rank must be positive, got %d", ErrInvalidConfig, c.Rank)
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("%w: alpha must be positive, got %v", ErrInvalidConfig, c.Alpha)
	}
	return c.TargetSpec.validate()
}

// Scaling returns the effective delta scale Alpha/Rank.
func (c *LoRAConfig) Scaling() float64 {
	return c.Alpha / float64(c.Rank)
}

// IA3Config configures learned gating-vector adapters.
//
// Each adapted layer learns one vector that rescales activations
// element-wise. Feedforward layers scale their input, all others their
// output. Vectors start at ones, which is an exact identity.
type IA3Config struct {
	TargetSpec

	// FeedforwardModules lists the name suffixes (or, if FeedforwardRegex
	// is set instead, a regex) of targeted modules whose input rather
	// than output is gated. Must be a subset of the targeted modules.
	FeedforwardModules []string

	// FeedforwardRegex is the regex alternative to FeedforwardModules.
	FeedforwardRegex string

	// InitWeights selects ones-initialization (identity behavior).
	InitWeights bool
}

// NewIA3Config returns an IA3Config with identity initialization.
func NewIA3Config() *IA3Config {
	return &IA3Config{InitWeights: true}
}

// Type returns PeftIA3.
func (c *IA3Config) Type() PeftType { return PeftIA3 }

// Target returns the module targeting spec.
func (c *IA3Config) Target() *TargetSpec { return &c.TargetSpec }

// Validate checks the targeting spec and the feedforward subset spec.
func (c *IA3Config) Validate() error {
	if err := c.TargetSpec.validate(); err != nil {
		return err
	}
	ff := TargetSpec{Modules: c.FeedforwardModules, Regex: c.FeedforwardRegex}
	return ff.validate()
}

// feedforward reports whether the module at path is gated on its input.
func (c *IA3Config) feedforward(path string) bool {
	ff := TargetSpec{Modules: c.FeedforwardModules, Regex: c.FeedforwardRegex}
	return ff.Matches(path)
}

// PromptConfig configures prompt tuning: a block of trainable virtual
// token embeddings prepended to the input sequence. Prompt tuning wraps
// no individual modules, so models built with it do not support
// per-layer status inspection.
type PromptConfig struct {
	// NumVirtualTokens is the number of learned prompt vectors.
	NumVirtualTokens int

	// TokenDim is the embedding dimension of the wrapped model.
	TokenDim int
}

// Type returns PeftPrompt.
func (c *PromptConfig) Type() PeftType { return PeftPrompt }

// Target returns nil; prompt tuning has no module targets.
func (c *PromptConfig) Target() *TargetSpec { return nil }

// Validate checks the dimensions.
func (c *PromptConfig) Validate() error {
	if c.NumVirtualTokens <= 0 {
		return fmt.Errorf("%w: num virtual tokens must be positive, got %d", ErrInvalidConfig, c.NumVirtualTokens)
	}
	if c.TokenDim <= 0 {
		return fmt.Errorf("%w: token dim must be positive, got %d", ErrInvalidConfig, c.TokenDim)
	}
	return nil
}

package adapt

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// PromptModel implements prompt tuning: a learned table of virtual token
// embeddings is prepended to the input sequence before the base module
// runs. No layer in the base tree is wrapped, which is why the status
// inspector does not apply to it.
type PromptModel[B tensor.Backend] struct {
	base    nn.Module[B]
	backend B
	configs map[string]*PromptConfig
	prompts map[string]*nn.Parameter[B]
	order   []string
	active  string
	logger  zerolog.Logger
}

// NewPromptModel creates a prompt-tuned model over base. Input to
// Forward must be [seq, token_dim] with token_dim matching the config.
func NewPromptModel[B tensor.Backend](base nn.Module[B], backend B, cfg *PromptConfig, opts ...Option) (*PromptModel[B], error) {
	o := options{name: "default", logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &PromptModel[B]{
		base:    base,
		backend: backend,
		configs: make(map[string]*PromptConfig),
		prompts: make(map[string]*nn.Parameter[B]),
		logger:  o.logger,
	}
	if err := m.AddAdapter(o.name, cfg); err != nil {
		return nil, err
	}
	m.active = o.name

	for _, p := range base.Parameters() {
		p.SetTrainable(false)
	}
	return m, nil
}

// AddAdapter registers a further prompt table under a new name without
// activating it.
func (m *PromptModel[B]) AddAdapter(name string, cfg *PromptConfig) error {
	if _, ok := m.configs[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAdapter, name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	table := tensor.Randn(tensor.Shape{cfg.NumVirtualTokens, cfg.TokenDim}, m.backend)
	m.prompts[name] = nn.NewParameter("prompt_embeddings", table)
	m.configs[name] = cfg
	m.order = append(m.order, name)
	m.logger.Debug().Str("adapter", name).Int("virtual_tokens", cfg.NumVirtualTokens).Msg("prompt table added")
	return nil
}

// SetAdapter activates the named prompt table.
func (m *PromptModel[B]) SetAdapter(name string) error {
	if _, ok := m.configs[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	m.active = name
	return nil
}

// Forward prepends the active prompt table's rows to the input sequence
// and runs the base module on the extended sequence.
func (m *PromptModel[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	prompt := m.prompts[m.active]
	cfg := m.configs[m.active]

	shape := input.Shape()
	if len(shape) != 2 || shape[1] != cfg.TokenDim {
		panic(fmt.Sprintf("PromptModel.Forward: expected [seq, %d] input, got shape %v", cfg.TokenDim, shape))
	}

	promptData := prompt.Tensor().Data()
	inputData := input.Data()
	extended := make([]float32, 0, len(promptData)+len(inputData))
	extended = append(extended, promptData...)
	extended = append(extended, inputData...)

	t, err := tensor.FromSlice(extended, tensor.Shape{cfg.NumVirtualTokens + shape[0], cfg.TokenDim}, m.backend)
	if err != nil {
		panic(fmt.Sprintf("PromptModel.Forward: %v", err))
	}
	return m.base.Forward(t)
}

// Parameters returns the base parameters followed by every prompt table
// in insertion order.
func (m *PromptModel[B]) Parameters() []*nn.Parameter[B] {
	params := append([]*nn.Parameter[B](nil), m.base.Parameters()...)
	for _, name := range m.order {
		params = append(params, m.prompts[name])
	}
	return params
}

// Base returns the unmodified base module.
func (m *PromptModel[B]) Base() nn.Module[B] { return m.base }

// ActiveAdapter returns the active prompt table name.
func (m *PromptModel[B]) ActiveAdapter() string { return m.active }

// AdapterNames returns registered prompt names in insertion order.
func (m *PromptModel[B]) AdapterNames() []string {
	return append([]string(nil), m.order...)
}

// PromptEmbeddings returns the named prompt table parameter.
func (m *PromptModel[B]) PromptEmbeddings(name string) (*nn.Parameter[B], bool) {
	p, ok := m.prompts[name]
	return p, ok
}

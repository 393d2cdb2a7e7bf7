package adapt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk adapter config schema. Field names follow
// the convention of the common adapter checkpoint format so configs can
// be exchanged with other tooling: target_modules holds either a name
// list, a regex string, or the literal "all-linear".
type fileConfig struct {
	PeftType           string  `json:"peft_type" yaml:"peft_type"`
	TargetModules      any     `json:"target_modules,omitempty" yaml:"target_modules,omitempty"`
	LayersToTransform  []int   `json:"layers_to_transform,omitempty" yaml:"layers_to_transform,omitempty"`
	LayersPattern      any     `json:"layers_pattern,omitempty" yaml:"layers_pattern,omitempty"`
	Rank               int     `json:"r,omitempty" yaml:"r,omitempty"`
	Alpha              float64 `json:"lora_alpha,omitempty" yaml:"lora_alpha,omitempty"`
	InitLoraWeights    *bool   `json:"init_lora_weights,omitempty" yaml:"init_lora_weights,omitempty"`
	FeedforwardModules any     `json:"feedforward_modules,omitempty" yaml:"feedforward_modules,omitempty"`
	InitIA3Weights     *bool   `json:"init_ia3_weights,omitempty" yaml:"init_ia3_weights,omitempty"`
	NumVirtualTokens   int     `json:"num_virtual_tokens,omitempty" yaml:"num_virtual_tokens,omitempty"`
	TokenDim           int     `json:"token_dim,omitempty" yaml:"token_dim,omitempty"`
}

const allLinearToken = "all-linear"

// LoadConfig reads an adapter config from a .json, .yaml or .yml file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading adapter config: %w", err)
	}

	var fc fileConfig
	switch ext := filepath.Ext(path); ext {
	case ".json":
		err = json.Unmarshal(data, &fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		return nil, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing adapter config: %w", err)
	}
	return fc.toConfig()
}

// SaveConfig writes an adapter config to a .json, .yaml or .yml file.
func SaveConfig(path string, cfg Config) error {
	fc, err := toFileConfig(cfg)
	if err != nil {
		return err
	}

	var data []byte
	switch ext := filepath.Ext(path); ext {
	case ".json":
		data, err = json.MarshalIndent(fc, "", "  ")
		data = append(data, '\n')
	case ".yaml", ".yml":
		data, err = yaml.Marshal(fc)
	default:
		return fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, ext)
	}
	if err != nil {
		return fmt.Errorf("encoding adapter config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (fc *fileConfig) toConfig() (Config, error) {
	switch PeftType(fc.PeftType) {
	case PeftLoRA:
		cfg := NewLoRAConfig()
		if err := fc.fillTarget(&cfg.TargetSpec); err != nil {
			return nil, err
		}
		if fc.Rank > 0 {
			cfg.Rank = fc.Rank
		}
		if fc.Alpha > 0 {
			cfg.Alpha = fc.Alpha
		}
		if fc.InitLoraWeights != nil {
			cfg.InitWeights = *fc.InitLoraWeights
		}
		return cfg, nil

	case PeftIA3:
		cfg := NewIA3Config()
		if err := fc.fillTarget(&cfg.TargetSpec); err != nil {
			return nil, err
		}
		switch ff := fc.FeedforwardModules.(type) {
		case nil:
		case string:
			cfg.FeedforwardRegex = ff
		case []any:
			names, err := stringList(ff)
			if err != nil {
				return nil, err
			}
			cfg.FeedforwardModules = names
		default:
			return nil, fmt.Errorf("%w: feedforward_modules must be a string or list, got %T", ErrInvalidConfig, ff)
		}
		if fc.InitIA3Weights != nil {
			cfg.InitWeights = *fc.InitIA3Weights
		}
		return cfg, nil

	case PeftPrompt:
		return &PromptConfig{
			NumVirtualTokens: fc.NumVirtualTokens,
			TokenDim:         fc.TokenDim,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown peft_type %q", ErrInvalidConfig, fc.PeftType)
	}
}

func (fc *fileConfig) fillTarget(spec *TargetSpec) error {
	switch tm := fc.TargetModules.(type) {
	case nil:
	case string:
		if tm == allLinearToken {
			spec.AllLinear = true
		} else {
			spec.Regex = tm
		}
	case []any:
		names, err := stringList(tm)
		if err != nil {
			return err
		}
		spec.Modules = names
	default:
		return fmt.Errorf("%w: target_modules must be a string or list, got %T", ErrInvalidConfig, tm)
	}
	spec.LayersToTransform = fc.LayersToTransform
	switch lp := fc.LayersPattern.(type) {
	case nil:
	case string:
		spec.LayersPattern = []string{lp}
	case []any:
		names, err := stringList(lp)
		if err != nil {
			return err
		}
		spec.LayersPattern = names
	default:
		return fmt.Errorf("%w: layers_pattern must be a string or list, got %T", ErrInvalidConfig, lp)
	}
	return nil
}

func stringList(list []any) ([]string, error) {
	out := make([]string, len(list))
	for i, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string list entry, got %T", ErrInvalidConfig, v)
		}
		out[i] = s
	}
	return out, nil
}

func toFileConfig(cfg Config) (*fileConfig, error) {
	fc := &fileConfig{PeftType: string(cfg.Type())}
	switch c := cfg.(type) {
	case *LoRAConfig:
		fc.Rank = c.Rank
		fc.Alpha = c.Alpha
		init := c.InitWeights
		fc.InitLoraWeights = &init
		encodeTarget(fc, &c.TargetSpec)
	case *IA3Config:
		init := c.InitWeights
		fc.InitIA3Weights = &init
		if c.FeedforwardRegex != "" {
			fc.FeedforwardModules = c.FeedforwardRegex
		} else if len(c.FeedforwardModules) > 0 {
			fc.FeedforwardModules = c.FeedforwardModules
		}
		encodeTarget(fc, &c.TargetSpec)
	case *PromptConfig:
		fc.NumVirtualTokens = c.NumVirtualTokens
		fc.TokenDim = c.TokenDim
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrInvalidConfig, cfg)
	}
	return fc, nil
}

func encodeTarget(fc *fileConfig, spec *TargetSpec) {
	switch {
	case spec.AllLinear:
		fc.TargetModules = allLinearToken
	case spec.Regex != "":
		fc.TargetModules = spec.Regex
	case len(spec.Modules) > 0:
		fc.TargetModules = spec.Modules
	}
	fc.LayersToTransform = spec.LayersToTransform
	if len(spec.LayersPattern) > 0 {
		fc.LayersPattern = spec.LayersPattern
	}
}

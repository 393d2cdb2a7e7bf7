package adapt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"

	"github.com/graft-ml/graft/internal/nn"
	"github.com/graft-ml/graft/internal/tensor"
)

// TargetSpec decides which module paths of a model receive an adapter.
//
// Exactly one naming mode applies:
//   - Modules: explicit name list; a path matches if it equals an entry or
//     ends with "." + entry. An empty list matches nothing.
//   - Regex: search-semantics regex (a match anywhere in the path counts).
//   - AllLinear: shorthand for every linear-like module except the model's
//     output head; resolved against a concrete model before matching.
//
// LayersToTransform optionally restricts matches to specific layer indices:
// the first integer path segment immediately following a segment equal to
// one of LayersPattern (or the first integer segment anywhere, if the
// pattern list is empty) must be in the set. Paths without such a segment
// are rejected whenever LayersToTransform is non-empty.
type TargetSpec struct {
	Modules           []string
	Regex             string
	AllLinear         bool
	LayersToTransform []int
	LayersPattern     []string
}

var regexCache sync.Map // pattern string -> *regexp2.Regexp

func compiledRegex(pattern string) (*regexp2.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp2.Regexp), nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// Matches reports whether the module at path is targeted. It is a pure
// function of (path, spec); AllLinear specs must be resolved to a name
// list first and match nothing here.
func (s *TargetSpec) Matches(path string) bool {
	if path == "" || !s.nameMatch(path) {
		return false
	}
	if len(s.LayersToTransform) == 0 {
		return true
	}
	index, ok := s.layerIndex(path)
	if !ok {
		return false
	}
	for _, want := range s.LayersToTransform {
		if index == want {
			return true
		}
	}
	return false
}

func (s *TargetSpec) nameMatch(path string) bool {
	if len(s.Modules) > 0 {
		for _, entry := range s.Modules {
			if path == entry || strings.HasSuffix(path, "."+entry) {
				return true
			}
		}
		return false
	}
	if s.Regex != "" {
		re, err := compiledRegex(s.Regex)
		if err != nil {
			return false
		}
		m, err := re.FindStringMatch(path)
		return err == nil && m != nil
	}
	return false
}

// layerIndex extracts the layer index governed by LayersPattern.
func (s *TargetSpec) layerIndex(path string) (int, bool) {
	segments := strings.Split(path, ".")
	if len(s.LayersPattern) == 0 {
		for _, seg := range segments {
			if n, ok := parseIndex(seg); ok {
				return n, true
			}
		}
		return 0, false
	}
	for i := 0; i < len(segments)-1; i++ {
		if !containsString(s.LayersPattern, segments[i]) {
			continue
		}
		if n, ok := parseIndex(segments[i+1]); ok {
			return n, true
		}
	}
	return 0, false
}

func parseIndex(segment string) (int, bool) {
	if segment == "" {
		return 0, false
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(segment)
	if err != nil {
		return 0, false
	}
	return n, true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// validate checks that the regex compiles and the modes are consistent.
func (s *TargetSpec) validate() error {
	if s.Regex != "" {
		if _, err := compiledRegex(s.Regex); err != nil {
			return fmt.Errorf("%w: bad target regex %q: %v", ErrInvalidConfig, s.Regex, err)
		}
	}
	for _, entry := range s.Modules {
		if entry == "" {
			return fmt.Errorf("%w: empty target module name", ErrInvalidConfig)
		}
	}
	return nil
}

// OutputHeadModel is implemented by models that designate one module as
// their output projection. The all-linear shorthand excludes that module.
type OutputHeadModel interface {
	// OutputHead returns the dotted path of the output projection.
	OutputHead() string
}

// outputHeadName is excluded from all-linear expansion by name even when
// the model does not designate a head explicitly.
const outputHeadName = "lm_head"

// expandAllLinear resolves the all-linear shorthand against a concrete
// model, returning a spec whose Modules list names the suffix of every
// linear-like module minus the output head. Non-AllLinear specs pass
// through unchanged.
func expandAllLinear[B tensor.Backend](spec *TargetSpec, root nn.Module[B]) (*TargetSpec, error) {
	if !spec.AllLinear {
		return spec, nil
	}
	if _, ok := root.(*nn.Pipeline[B]); ok {
		return nil, fmt.Errorf("%w: all-linear targeting requires a single network, not a multi-component pipeline", ErrInvalidConfig)
	}

	headPath := ""
	if h, ok := root.(OutputHeadModel); ok {
		headPath = h.OutputHead()
	}

	seen := make(map[string]bool)
	for _, entry := range nn.NamedModules(root) {
		switch entry.Module.(type) {
		case *nn.Linear[B], *nn.TransposedLinear[B]:
		default:
			continue
		}
		if entry.Path == headPath {
			continue
		}
		suffix := entry.Path
		if i := strings.LastIndex(suffix, "."); i >= 0 {
			suffix = suffix[i+1:]
		}
		if suffix == outputHeadName {
			continue
		}
		seen[suffix] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return &TargetSpec{
		Modules:           names,
		LayersToTransform: spec.LayersToTransform,
		LayersPattern:     spec.LayersPattern,
	}, nil
}

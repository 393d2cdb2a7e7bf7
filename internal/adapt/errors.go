package adapt

import "errors"

// Sentinel errors returned by the adapt package. All are raised at the
// call that detects the condition; nothing is deferred or retried.
var (
	// ErrInvalidConfig indicates an adapter config that cannot be applied,
	// such as the all-linear shorthand on a multi-component pipeline or a
	// regex that does not compile.
	ErrInvalidConfig = errors.New("invalid adapter config")

	// ErrNoTargetModules indicates that a target spec resolved to zero
	// modules of the base model.
	ErrNoTargetModules = errors.New("target modules not found in the base model")

	// ErrDuplicateAdapter indicates an adapter name collision on add.
	ErrDuplicateAdapter = errors.New("adapter name already in use")

	// ErrUnknownAdapter indicates an adapter name that was never added.
	ErrUnknownAdapter = errors.New("no adapter with this name")

	// ErrUnsupportedModule indicates a matched module whose concrete type
	// has no adapter layer implementation.
	ErrUnsupportedModule = errors.New("module kind has no adapter layer implementation")

	// ErrInvalidModel indicates status inspection on a model kind that does
	// not expose per-module adapter layers (prompt-based or mixed models).
	ErrInvalidModel = errors.New("invalid model instance for status inspection")

	// ErrNoAdapterLayers indicates status inspection on a model holding no
	// adapter layers at all.
	ErrNoAdapterLayers = errors.New("no adapter layers found in the model")
)

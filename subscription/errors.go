package subscription

import "errors"

// Sentinel errors for the subscription system.
var (
	// ErrInvalidConfig is returned when a Config is neither a leaf
	// nor a derived form.
	ErrInvalidConfig = errors.New("subscription config must set either Compute or Deps with Combine")

	// ErrCyclicDependency is reported when dependency resolution
	// re-enters a subscription already being resolved.
	ErrCyclicDependency = errors.New("cyclic subscription dependency")

	// ErrComputePanic is reported when a compute or combine function
	// panics.
	ErrComputePanic = errors.New("subscription computation panicked")
)

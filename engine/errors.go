package engine

import "github.com/pkg/errors"

// Error taxonomy of the engine. All failures are synchronous and local to the
// call that triggered them; nothing is retried internally. Callers match with
// errors.Is; the wrapped message carries the specifics (and a stack trace,
// courtesy of github.com/pkg/errors).
var (
	// ErrBuild reports that the graph failed to compile into a Computation.
	// Fatal: there is nothing to execute.
	ErrBuild = errors.New("computation build failed")

	// ErrInvalidShape reports a caller-supplied shape or range that violates
	// the declared argument metadata. Recoverable: fix the shape and retry.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrShapeOutOfRange reports a concrete runtime shape outside the
	// registered [min, max] range. Recoverable: fix the shape and retry.
	ErrShapeOutOfRange = errors.New("shape out of registered range")

	// ErrUnresolvedDynamicShape reports a bind or execute attempted before
	// every required runtime shape (or shape range) was supplied.
	ErrUnresolvedDynamicShape = errors.New("unresolved dynamic shape")

	// ErrSizeMismatch reports a buffer whose byte length disagrees with the
	// resolved shape it is bound to.
	ErrSizeMismatch = errors.New("buffer size mismatch")

	// ErrNotReady reports an operation invoked out of state-machine order.
	ErrNotReady = errors.New("context not ready")

	// ErrExecution reports a failure inside the compute backend during
	// Execute. The context transitions to Failed and its output buffers are
	// undefined; re-execution requires a fresh context.
	ErrExecution = errors.New("execution failed")

	// ErrUseAfterFree reports use of a Computation or ExecutionContext after
	// its Destroy.
	ErrUseAfterFree = errors.New("use after free")

	// ErrUnsupportedOption reports an unrecognized configuration item.
	ErrUnsupportedOption = errors.New("unsupported option")
)

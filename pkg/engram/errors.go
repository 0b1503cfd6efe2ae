package engram

import "errors"

// Error taxonomy per spec.md §7. Components wrap these sentinels with
// fmt.Errorf("...: %w", ErrX) for context; callers use errors.Is to match.
var (
	// Validation
	ErrInvalidField     = errors.New("engram: invalid field")
	ErrUnknownOperation = errors.New("engram: unknown operation")
	ErrMissingArgument  = errors.New("engram: missing argument")

	// NotFound
	ErrNoSuchEngram = errors.New("engram: no such engram")

	// State
	ErrAlreadySuperseded = errors.New("engram: already superseded")
	ErrCycle             = errors.New("engram: supersession cycle")
	ErrProtected         = errors.New("engram: engram is protected")

	// Capacity
	ErrFileTooLarge   = errors.New("engram: file too large")
	ErrTooManyChunks  = errors.New("engram: too many chunks")
	ErrIndexFull      = errors.New("engram: index full")

	// Transient
	ErrEmbedderUnavailable = errors.New("engram: embedder unavailable")
	ErrWriteTimeout        = errors.New("engram: write timeout")
	ErrIndexStale          = errors.New("engram: index stale")

	// Fatal
	ErrStorageIO    = errors.New("engram: storage I/O error")
	ErrCorruption   = errors.New("engram: storage corruption detected")

	// Operational
	ErrTimeout = errors.New("engram: operation timed out")
)

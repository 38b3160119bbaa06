package engine

import "errors"

// Error kinds surfaced at the foreign boundary (spec.md §7).
var (
	// ErrInvalidInput covers bad paths, bad page ids, oversize blobs,
	// and bad transaction ids.
	ErrInvalidInput = errors.New("engine: invalid input")

	// ErrNotFound covers missing paths, documents, and free pages.
	ErrNotFound = errors.New("engine: not found")

	// ErrInvalidData covers bad magic, CRC mismatch, malformed
	// serialized records, and non-UTF-8 stored paths.
	ErrInvalidData = errors.New("engine: invalid data")

	// ErrCapacity is returned when the configured page limit is
	// exceeded.
	ErrCapacity = errors.New("engine: capacity exceeded")
)

// Io wraps an underlying file-system error so callers can still
// errors.Is against the concrete os/syscall error while the engine
// reports it as the Io kind (spec.md §7).
type Io struct {
	Op  string
	Err error
}

func (e *Io) Error() string { return "engine: io: " + e.Op + ": " + e.Err.Error() }

func (e *Io) Unwrap() error { return e.Err }

func wrapIo(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Io{Op: op, Err: err}
}

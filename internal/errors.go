package internal

import "github.com/cockroachdb/errors"

// Configuration errors. A spec that trips one of these aborts the whole batch
// before anything is published.
var (
	ErrUnknownOperation = errors.New("unknown usage fetch operation")
	ErrUnknownSetter    = errors.New("unknown setter")
	ErrUnknownInsert    = errors.New("unknown insert step")
	ErrSpecNotFound     = errors.New("transform spec not found")
	ErrInvalidSpec      = errors.New("invalid transform spec")
)

// Data and runtime errors.
var (
	// ErrEmptyGroup is returned by FetchUsage for an empty window. Callers skip
	// the group; it never surfaces from a batch.
	ErrEmptyGroup = errors.New("empty usage group")

	// ErrTransport marks send failures. The batch is retried as a whole.
	ErrTransport = errors.New("transport error")

	// ErrLedger marks offset ledger read/write failures.
	ErrLedger = errors.New("offset ledger error")
)

// IsConfigError reports whether err was caused by a misconfigured spec.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownOperation) ||
		errors.Is(err, ErrUnknownSetter) ||
		errors.Is(err, ErrUnknownInsert) ||
		errors.Is(err, ErrSpecNotFound) ||
		errors.Is(err, ErrInvalidSpec)
}

// IsRetryable reports whether reprocessing the same batch may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrLedger)
}

// MarkTransport wraps a sink failure so IsRetryable recognizes it.
func MarkTransport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrTransport)
}

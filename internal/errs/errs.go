// Package errs defines the sentinel error kinds shared across the
// detection-and-clustering core. Call sites wrap these with fmt.Errorf's
// %w so callers can still errors.Is against the kind.
package errs

import "errors"

var (
	// ErrInvalidTrip marks a malformed trip document: missing ids, no
	// samples, or fewer than 50 usable (gyro-bearing) samples.
	ErrInvalidTrip = errors.New("invalid trip")

	// ErrProcessingTimeout marks a trip whose detection exceeded its
	// per-trip budget. No partial detections are written.
	ErrProcessingTimeout = errors.New("processing timeout")

	// ErrStoreUnavailable marks a trip or detection store I/O failure.
	// Callers should retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidQuery marks an unrecognized or out-of-range query filter.
	ErrInvalidQuery = errors.New("invalid query")
)

package repo

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateVerdict indicates a verdict id was persisted twice.
	// Verdicts are append-only, so the original record is untouched.
	ErrDuplicateVerdict = errors.New("duplicate verdict")

	// ErrSnapshotConflict indicates a snapshot binding lost the conditional
	// write and the winning row was not readable back yet.
	ErrSnapshotConflict = errors.New("snapshot binding conflict")

	// ErrUnavailable indicates the backing store could not serve the call.
	ErrUnavailable = errors.New("storage unavailable")
)

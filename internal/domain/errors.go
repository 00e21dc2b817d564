package domain

import "errors"

var (
	// ErrNotFound is returned by stores when no job exists for an id.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned by stores when a status change
	// would violate the monotonic lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoArtifact is returned by the artifact resolver when the tool
	// exited cleanly but left no servable output behind.
	ErrNoArtifact = errors.New("download succeeded but no output file was found")
)

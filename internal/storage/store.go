package storage

import (
	"context"

	"github.com/you/fetchd/internal/domain"
)

// DefaultListLimit caps a listing when the caller does not ask for one.
const DefaultListLimit = 50

// Store persists job metadata (source of truth).
//
// Transition is the only mutation primitive after Create: it writes the new
// status, the status-specific field, and updated_at as one atomic unit, and
// rejects anything the monotonic lifecycle forbids with
// domain.ErrInvalidTransition. Get and List return consistent snapshots.
type Store interface {
	Create(ctx context.Context, url string) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, limit, offset int) ([]domain.Job, error)
	Transition(ctx context.Context, id string, next domain.Status, fields domain.TransitionFields) error
}

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/fetchd/internal/domain"
)

// Memory is a mutex-guarded in-process Store. It holds the same contract as
// the postgres backend but is volatile, so it is the development and test
// backend.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	seq  map[string]uint64
	next uint64
}

func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]domain.Job),
		seq:  make(map[string]uint64),
	}
}

func (m *Memory) Create(ctx context.Context, url string) (domain.Job, error) {
	now := time.Now().UTC()
	j := domain.Job{
		ID:        uuid.NewString(),
		URL:       url,
		Status:    domain.Pending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.next++
	m.seq[j.ID] = m.next
	m.mu.Unlock()
	return j, nil
}

func (m *Memory) Get(ctx context.Context, id string) (domain.Job, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (m *Memory) List(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	m.mu.RLock()
	all := make([]domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		all = append(all, j)
	}
	seq := make(map[string]uint64, len(all))
	for id, n := range m.seq {
		seq[id] = n
	}
	m.mu.RUnlock()

	// Creation order matches createdAt order and stays stable when two
	// jobs land on the same timestamp.
	sort.Slice(all, func(i, k int) bool {
		return seq[all[i].ID] > seq[all[k].ID]
	})

	if offset >= len(all) {
		return []domain.Job{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) Transition(ctx context.Context, id string, next domain.Status, fields domain.TransitionFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !j.Status.CanTransition(next) {
		return domain.ErrInvalidTransition
	}

	j.Status = next
	j.UpdatedAt = time.Now().UTC()
	switch next {
	case domain.Completed:
		j.ArtifactName = fields.ArtifactName
	case domain.Failed:
		j.ErrorMessage = domain.TruncateError(fields.ErrorMessage)
	}
	m.jobs[id] = j
	return nil
}

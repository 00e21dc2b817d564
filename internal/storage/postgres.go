package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/you/fetchd/internal/domain"
)

// Postgres backs the Store with a jobs table. The schema lives in the goose
// migrations under migrations/.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{db: db} }

func (s *Postgres) Create(ctx context.Context, url string) (domain.Job, error) {
	id := uuid.NewString()
	row := s.db.QueryRow(ctx, `insert into jobs(id, url, status, created_at, updated_at)
values ($1, $2, $3, now(), now())
returning id, url, status, coalesce(artifact_name,''), coalesce(error_message,''), created_at, updated_at`,
		id, url, string(domain.Pending))
	return scanJob(row)
}

func (s *Postgres) Get(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRow(ctx, `select id, url, status, coalesce(artifact_name,''), coalesce(error_message,''), created_at, updated_at
from jobs where id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, err
}

func (s *Postgres) List(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `select id, url, status, coalesce(artifact_name,''), coalesce(error_message,''), created_at, updated_at
from jobs order by created_at desc, id desc limit $1 offset $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Postgres) Transition(ctx context.Context, id string, next domain.Status, fields domain.TransitionFields) error {
	var artifact, errMsg *string
	switch next {
	case domain.Completed:
		artifact = &fields.ArtifactName
	case domain.Failed:
		msg := domain.TruncateError(fields.ErrorMessage)
		errMsg = &msg
	}

	// The status predicate makes monotonicity hold even when two callers
	// race on the same row.
	tag, err := s.db.Exec(ctx, `update jobs
set status = $2, artifact_name = coalesce($3, artifact_name),
    error_message = coalesce($4, error_message), updated_at = now()
where id = $1 and status = any($5)`,
		id, string(next), artifact, errMsg, priorStatuses(next))
	if err != nil {
		return fmt.Errorf("transition %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `select exists(select 1 from jobs where id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("transition %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

func priorStatuses(next domain.Status) []string {
	switch next {
	case domain.Downloading:
		return []string{string(domain.Pending)}
	case domain.Completed:
		return []string{string(domain.Downloading)}
	case domain.Failed:
		return []string{string(domain.Pending), string(domain.Downloading)}
	default:
		return nil
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (domain.Job, error) {
	var j domain.Job
	err := r.Scan(&j.ID, &j.URL, &j.Status, &j.ArtifactName, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/leadprobe/internal/domain"
)

// CreateRun inserts a new Run row, assigning an ID if unset.
func (s *Store) CreateRun(ctx context.Context, r *domain.Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	options, err := json.Marshal(r.Options)
	if err != nil {
		return fmt.Errorf("store: marshal run options: %w", err)
	}
	progress, err := json.Marshal(r.Progress)
	if err != nil {
		return fmt.Errorf("store: marshal run progress: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, tenant_id, status, domains, options, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, r.ID, r.TenantID, string(r.Status), pq.Array(r.Domains), options, progress)
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// UpdateRunStatus transitions a Run's status, recording errMsg when
// non-empty and stamping started_at/finished_at on the matching
// transitions.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status      = $1,
			error       = NULLIF($2, ''),
			started_at  = CASE WHEN $1 = $3 THEN COALESCE(started_at, NOW()) ELSE started_at END,
			finished_at = CASE WHEN $1 IN ($4, $5, $6) THEN NOW() ELSE finished_at END
		WHERE id = $7
	`, string(status), errMsg, string(domain.RunRunning),
		string(domain.RunSucceeded), string(domain.RunFailed), string(domain.RunCancelled), runID)
	if err != nil {
		return fmt.Errorf("store: update run status: %w", err)
	}
	return nil
}

// UpdateRunProgress persists an updated progress counter bag.
func (s *Store) UpdateRunProgress(ctx context.Context, runID string, progress domain.RunProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("store: marshal run progress: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET progress = $1 WHERE id = $2`, data, runID)
	if err != nil {
		return fmt.Errorf("store: update run progress: %w", err)
	}
	return nil
}

// GetRun reads a single Run by ID, returning nil, nil when it doesn't exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var r domain.Run
	var status string
	var domains pq.StringArray
	var options, progress []byte
	var errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, status, domains, options, progress, COALESCE(error, ''),
		       created_at, started_at, finished_at
		FROM runs WHERE id = $1
	`, runID).Scan(&r.ID, &r.TenantID, &status, &domains, &options, &progress, &errMsg,
		&r.CreatedAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run %s: %w", runID, err)
	}

	r.Status = domain.RunStatus(status)
	r.Domains = []string(domains)
	r.Error = errMsg.String
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	if err := json.Unmarshal(options, &r.Options); err != nil {
		return nil, fmt.Errorf("store: unmarshal run options: %w", err)
	}
	if err := json.Unmarshal(progress, &r.Progress); err != nil {
		return nil, fmt.Errorf("store: unmarshal run progress: %w", err)
	}
	return &r, nil
}

// Package queue is the durable, Postgres-backed work queue driving every
// pipeline stage (crawl, extract, generate, resolve_mx, detect_catchall,
// verify). It is grounded on the teacher's worker.SendWorkerPool
// claimBatch (the FOR UPDATE SKIP LOCKED claim query and worker
// registration/heartbeat loop) and worker.QueueRecoveryWorker (the
// stale-claim requeue and max-retries dead-letter sweep), generalized
// from a single send queue to an arbitrary typed task queue with
// dependency ordering.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/leadprobe/internal/pkg/logger"
)

// Status is the lifecycle state of a queue task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusClaimed    Status = "claimed"
	StatusRunning    Status = "running"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// TaskType enumerates the pipeline stages a task can drive.
type TaskType string

const (
	TaskCrawl          TaskType = "crawl"
	TaskExtract        TaskType = "extract"
	TaskGenerateEmails TaskType = "generate_emails"
	TaskResolveMX      TaskType = "resolve_mx"
	TaskDetectCatchAll TaskType = "detect_catchall"
	TaskVerify         TaskType = "verify"
)

// Task is one unit of work. DependsOn names sibling task IDs that must
// reach StatusDone before this task becomes eligible for Reserve.
type Task struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	RunID       uuid.UUID
	Type        TaskType
	Payload     json.RawMessage
	Status      Status
	DependsOn   []uuid.UUID
	Attempts    int
	MaxAttempts int
	Priority    int
	ScheduledAt time.Time
	ClaimedAt   *time.Time
	LeaseUntil  *time.Time
	WorkerID    string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Queue is a Postgres-backed FIFO-with-priority task queue.
type Queue struct {
	db       *sql.DB
	workerID string
}

// New creates a Queue bound to db. workerID identifies this process in
// claim/heartbeat records.
func New(db *sql.DB, workerID string) *Queue {
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	return &Queue{db: db, workerID: workerID}
}

// Enqueue inserts a new task, defaulting ScheduledAt to now and
// MaxAttempts to 5 when unset.
func (q *Queue) Enqueue(ctx context.Context, t Task) (uuid.UUID, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = time.Now().UTC()
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = 5
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_tasks
			(id, tenant_id, run_id, task_type, payload, status, depends_on,
			 attempts, max_attempts, priority, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, NOW(), NOW())
	`, t.ID, t.TenantID, t.RunID, string(t.Type), []byte(t.Payload), StatusQueued,
		pq.Array(uuidStrings(t.DependsOn)), t.MaxAttempts, t.Priority, t.ScheduledAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	return t.ID, nil
}

// Reserve claims up to batchSize eligible tasks of the given types,
// skipping any whose dependencies have not all reached StatusDone, and
// marks them StatusClaimed with a lease expiring after leaseFor.
func (q *Queue) Reserve(ctx context.Context, taskTypes []TaskType, batchSize int, leaseFor time.Duration) ([]Task, error) {
	types := make([]string, len(taskTypes))
	for i, t := range taskTypes {
		types[i] = string(t)
	}

	rows, err := q.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE queue_tasks
			SET status = $1,
			    worker_id = $2,
			    claimed_at = NOW(),
			    lease_until = NOW() + $3::interval,
			    updated_at = NOW()
			WHERE id IN (
				SELECT t.id FROM queue_tasks t
				WHERE t.status = $4
				  AND t.task_type = ANY($5)
				  AND t.scheduled_at <= NOW()
				  AND NOT EXISTS (
					SELECT 1 FROM queue_tasks dep
					WHERE dep.id = ANY(t.depends_on) AND dep.status <> $6
				  )
				ORDER BY t.priority DESC, t.scheduled_at ASC
				LIMIT $7
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, tenant_id, run_id, task_type, payload, status, depends_on,
			          attempts, max_attempts, priority, scheduled_at, claimed_at,
			          lease_until, worker_id, last_error, created_at, updated_at
		)
		SELECT * FROM claimed
	`, StatusClaimed, q.workerID, leaseFor.String(), StatusQueued, pq.Array(types), StatusDone, batchSize)
	if err != nil {
		return nil, fmt.Errorf("queue: reserve: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan reserved task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Complete marks a task StatusDone.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_tasks SET status = $1, updated_at = NOW() WHERE id = $2
	`, StatusDone, id)
	if err != nil {
		return fmt.Errorf("queue: complete %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. Once attempts reaches max_attempts the
// task moves to StatusDeadLetter instead of being retried.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_tasks
		SET status = CASE WHEN attempts + 1 >= max_attempts THEN $1 ELSE $2 END,
		    attempts = attempts + 1,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $4
	`, StatusDeadLetter, StatusFailed, reason, id)
	if err != nil {
		return fmt.Errorf("queue: fail %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("queue: fail %s: no such task", id)
	}
	return nil
}

// Requeue moves a failed (not dead-lettered) task back to StatusQueued
// so it becomes eligible for Reserve again.
func (q *Queue) Requeue(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_tasks
		SET status = $1, worker_id = '', claimed_at = NULL, lease_until = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, StatusQueued, id, StatusFailed)
	if err != nil {
		return fmt.Errorf("queue: requeue %s: %w", id, err)
	}
	return nil
}

// ReviveDeadLetter moves a dead-lettered task back to StatusQueued with
// its attempt counter reset, for operator-triggered DLQ requeue.
func (q *Queue) ReviveDeadLetter(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_tasks
		SET status = $1, attempts = 0, worker_id = '', claimed_at = NULL, lease_until = NULL, scheduled_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, StatusQueued, id, StatusDeadLetter)
	if err != nil {
		return fmt.Errorf("queue: revive dead letter %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("queue: revive dead letter %s: no such dead-lettered task", id)
	}
	return nil
}

// RecoverStale reclaims tasks whose lease expired without a Complete or
// Fail call (the owning worker crashed), requeuing those under
// max_attempts and dead-lettering the rest.
func (q *Queue) RecoverStale(ctx context.Context) (requeued, deadLettered int64, err error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_tasks
		SET status = $1, worker_id = '', claimed_at = NULL, lease_until = NULL,
		    attempts = attempts + 1, updated_at = NOW()
		WHERE status IN ($2, $3)
		  AND lease_until IS NOT NULL AND lease_until < NOW()
		  AND attempts < max_attempts
	`, StatusQueued, StatusClaimed, StatusRunning)
	if err != nil {
		return 0, 0, fmt.Errorf("queue: recover requeue: %w", err)
	}
	requeued, _ = res.RowsAffected()

	res, err = q.db.ExecContext(ctx, `
		UPDATE queue_tasks
		SET status = $1, updated_at = NOW()
		WHERE status IN ($2, $3)
		  AND lease_until IS NOT NULL AND lease_until < NOW()
		  AND attempts >= max_attempts
	`, StatusDeadLetter, StatusClaimed, StatusRunning)
	if err != nil {
		return requeued, 0, fmt.Errorf("queue: recover dead-letter: %w", err)
	}
	deadLettered, _ = res.RowsAffected()

	if requeued > 0 || deadLettered > 0 {
		logger.Info("queue recovery swept stale leases", "requeued", requeued, "dead_lettered", deadLettered)
	}
	return requeued, deadLettered, nil
}

// Heartbeat extends a claimed task's lease, letting long-running stages
// (a slow crawl, a tarpit MX) avoid being reclaimed as stale.
func (q *Queue) Heartbeat(ctx context.Context, id uuid.UUID, extendBy time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_tasks SET lease_until = NOW() + $1::interval, updated_at = NOW()
		WHERE id = $2
	`, extendBy.String(), id)
	if err != nil {
		return fmt.Errorf("queue: heartbeat %s: %w", id, err)
	}
	return nil
}

// CountByRun returns the number of runID's tasks of taskType currently
// in status, used by the orchestrator to aggregate run progress without
// a separate materialized view.
func (q *Queue) CountByRun(ctx context.Context, runID uuid.UUID, taskType TaskType, status Status) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_tasks WHERE run_id = $1 AND task_type = $2 AND status = $3
	`, runID, string(taskType), string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: count by run %s: %w", runID, err)
	}
	return n, nil
}

func scanTask(rows *sql.Rows) (Task, error) {
	var t Task
	var taskType, status string
	var dependsOn pq.StringArray
	var payload []byte
	var claimedAt, leaseUntil sql.NullTime
	var workerID, lastError sql.NullString

	err := rows.Scan(
		&t.ID, &t.TenantID, &t.RunID, &taskType, &payload, &status, &dependsOn,
		&t.Attempts, &t.MaxAttempts, &t.Priority, &t.ScheduledAt, &claimedAt,
		&leaseUntil, &workerID, &lastError, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}

	t.Type = TaskType(taskType)
	t.Status = Status(status)
	t.Payload = payload
	t.WorkerID = workerID.String
	t.LastError = lastError.String
	if claimedAt.Valid {
		t.ClaimedAt = &claimedAt.Time
	}
	if leaseUntil.Valid {
		t.LeaseUntil = &leaseUntil.Time
	}
	for _, s := range dependsOn {
		if id, err := uuid.Parse(s); err == nil {
			t.DependsOn = append(t.DependsOn, id)
		}
	}
	return t, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Package observability aggregates the pipeline's operational surface:
// queue-depth and worker-heartbeat snapshots, per-MX
// behavior snapshots, and dead-letter queue inspection/requeue. It is
// grounded on worker.RealtimeMetricsWorker's ticker-driven
// collect-and-cache loop shape (Start/Stop/runLoop over a
// context.CancelFunc + sync.WaitGroup) and worker.JourneyMetrics'
// snapshot-then-read pattern, retargeted from campaign send metrics to
// run/queue/MX-host metrics.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadprobe/internal/domain"
	"github.com/ignite/leadprobe/internal/mxresolve"
	"github.com/ignite/leadprobe/internal/pkg/logger"
	"github.com/ignite/leadprobe/internal/queue"
)

// DLQEntry is one dead-lettered task surfaced for operator inspection.
type DLQEntry struct {
	JobID     uuid.UUID       `json:"job_id"`
	Queue     queue.TaskType  `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error"`
	FirstSeen time.Time       `json:"first_seen"`
}

// QueueDepthSnapshot is the count of tasks in one (type, status) bucket
// at the moment it was taken.
type QueueDepthSnapshot struct {
	TaskType queue.TaskType `json:"task_type"`
	Status   queue.Status   `json:"status"`
	Count    int            `json:"count"`
}

// WorkerHeartbeat reports the most recently observed claim activity for
// one worker ID, used to detect workers that have gone silent.
type WorkerHeartbeat struct {
	WorkerID    string    `json:"worker_id"`
	LastSeen    time.Time `json:"last_seen"`
	ActiveTasks int       `json:"active_tasks"`
}

// Snapshot is the aggregate read surface: the queue-wide depth and
// worker-heartbeat snapshots plus the tracked MX hosts' behavior.
type Snapshot struct {
	TakenAt    time.Time             `json:"taken_at"`
	QueueDepth []QueueDepthSnapshot  `json:"queue_depth"`
	Workers    []WorkerHeartbeat     `json:"workers"`
	MXBehavior []domain.MXBehavior   `json:"mx_behavior"`
}

// Requeuer is the subset of queue.Queue the dead-letter inspection
// endpoint needs to retry an entry.
type Requeuer interface {
	ReviveDeadLetter(ctx context.Context, id uuid.UUID) error
}

// Collector polls the queue storage and MX behavior cache on an
// interval and caches the latest Snapshot for cheap concurrent reads
// from the status API.
type Collector struct {
	db       *sql.DB
	behavior mxresolve.BehaviorSink
	queue    Requeuer

	pollInterval time.Duration

	mu       sync.Mutex
	last     Snapshot
	running  bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Collector.
func New(db *sql.DB, behavior mxresolve.BehaviorSink, q Requeuer, pollInterval time.Duration) *Collector {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Collector{db: db, behavior: behavior, queue: q, pollInterval: pollInterval}
}

// Start begins the polling loop. trackedMXHosts is the set of hosts whose
// behavior cache entries are included in each Snapshot.
func (c *Collector) Start(ctx context.Context, trackedMXHosts []string) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFn = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runLoop(ctx, trackedMXHosts)

	logger.Info("observability collector started", "poll_interval", c.pollInterval.String())
}

// Stop cancels the polling loop and waits for it to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel := c.cancelFn
	c.running = false
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Collector) runLoop(ctx context.Context, trackedMXHosts []string) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.collect(ctx, trackedMXHosts)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx, trackedMXHosts)
		}
	}
}

func (c *Collector) collect(ctx context.Context, trackedMXHosts []string) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	depth, err := c.queueDepth(queryCtx)
	if err != nil {
		logger.Error("observability: queue depth collection failed", "error", err)
		depth = nil
	}

	workers, err := c.workerHeartbeats(queryCtx)
	if err != nil {
		logger.Error("observability: worker heartbeat collection failed", "error", err)
		workers = nil
	}

	var mxSnaps []domain.MXBehavior
	if snapper, ok := c.behavior.(interface {
		Snapshot([]string) []domain.MXBehavior
	}); ok {
		mxSnaps = snapper.Snapshot(trackedMXHosts)
	}

	c.mu.Lock()
	c.last = Snapshot{TakenAt: time.Now(), QueueDepth: depth, Workers: workers, MXBehavior: mxSnaps}
	c.mu.Unlock()
}

// Latest returns the most recently collected Snapshot.
func (c *Collector) Latest() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Collector) queueDepth(ctx context.Context) ([]QueueDepthSnapshot, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT task_type, status, COUNT(*) FROM queue_tasks GROUP BY task_type, status
	`)
	if err != nil {
		return nil, fmt.Errorf("observability: queue depth query: %w", err)
	}
	defer rows.Close()

	var out []QueueDepthSnapshot
	for rows.Next() {
		var s QueueDepthSnapshot
		var taskType, status string
		if err := rows.Scan(&taskType, &status, &s.Count); err != nil {
			return nil, fmt.Errorf("observability: scan queue depth row: %w", err)
		}
		s.TaskType = queue.TaskType(taskType)
		s.Status = queue.Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Collector) workerHeartbeats(ctx context.Context) ([]WorkerHeartbeat, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT worker_id, MAX(claimed_at), COUNT(*) FILTER (WHERE status = 'running')
		FROM queue_tasks
		WHERE worker_id IS NOT NULL AND worker_id <> ''
		GROUP BY worker_id
	`)
	if err != nil {
		return nil, fmt.Errorf("observability: worker heartbeat query: %w", err)
	}
	defer rows.Close()

	var out []WorkerHeartbeat
	for rows.Next() {
		var h WorkerHeartbeat
		if err := rows.Scan(&h.WorkerID, &h.LastSeen, &h.ActiveTasks); err != nil {
			return nil, fmt.Errorf("observability: scan worker heartbeat row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeadLetters lists dead-lettered tasks, optionally filtered to a
// single run, for the `{job_id, queue, payload, attempts, last_error,
// first_seen}` DLQ inspection surface.
func (c *Collector) DeadLetters(ctx context.Context, runID *uuid.UUID) ([]DLQEntry, error) {
	query := `
		SELECT id, task_type, payload, attempts, COALESCE(last_error, ''), created_at
		FROM queue_tasks WHERE status = $1`
	args := []any{string(queue.StatusDeadLetter)}
	if runID != nil {
		query += " AND run_id = $2"
		args = append(args, *runID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: dead letters query: %w", err)
	}
	defer rows.Close()

	var out []DLQEntry
	for rows.Next() {
		var e DLQEntry
		var taskType string
		var payload []byte
		if err := rows.Scan(&e.JobID, &taskType, &payload, &e.Attempts, &e.LastError, &e.FirstSeen); err != nil {
			return nil, fmt.Errorf("observability: scan dead letter row: %w", err)
		}
		e.Queue = queue.TaskType(taskType)
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

// Requeue retries a single dead-lettered task.
func (c *Collector) Requeue(ctx context.Context, jobID uuid.UUID) error {
	if err := c.queue.ReviveDeadLetter(ctx, jobID); err != nil {
		return fmt.Errorf("observability: requeue %s: %w", jobID, err)
	}
	return nil
}

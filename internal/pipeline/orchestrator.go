// Package pipeline owns Run lifecycle: enforcing the tenant's 24-hour
// company budget at start_run, fanning a run's domains out into
// per-domain stage chains wired through the work queue's depends_on,
// and aggregating per-domain completion back onto the Run's progress
// counters. It is grounded on engine.Orchestrator's Start/Stop
// cancel-and-WaitGroup lifecycle and background-loop shape, retargeted
// from ISP-agent decision dispatch to run/domain/stage lifecycle.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadprobe/internal/config"
	"github.com/ignite/leadprobe/internal/domain"
	"github.com/ignite/leadprobe/internal/pipelineerr"
	"github.com/ignite/leadprobe/internal/pkg/logger"
	"github.com/ignite/leadprobe/internal/queue"
	"github.com/ignite/leadprobe/internal/ratelimit"
)

// RunStore is the subset of store.Store the Orchestrator needs for Run
// and Company persistence.
type RunStore interface {
	CreateRun(ctx context.Context, r *domain.Run) error
	UpsertCompany(ctx context.Context, c *domain.Company) error
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error
	UpdateRunProgress(ctx context.Context, runID string, progress domain.RunProgress) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
}

// TaskQueue is the subset of queue.Queue the Orchestrator drives.
type TaskQueue interface {
	Enqueue(ctx context.Context, t queue.Task) (uuid.UUID, error)
	RecoverStale(ctx context.Context) (requeued, deadLettered int64, err error)
	CountByRun(ctx context.Context, runID uuid.UUID, taskType queue.TaskType, status queue.Status) (int, error)
}

// Limiter is the subset of ratelimit.Limiter the Orchestrator enforces
// the tenant daily budget with.
type Limiter interface {
	ConsumeWindow(ctx context.Context, scopeKey, windowKey string, limit, cost int, ttl time.Duration) (allowed bool, current int64, err error)
}

// Locker is the subset of distlock.DistLock the Orchestrator uses to
// ensure only one process runs the stale-lease recovery sweep at a time
// when the API and worker processes both start an Orchestrator against
// the same queue. Nil means single-process operation: every tick sweeps
// unconditionally.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Orchestrator coordinates Run creation, domain fan-out, and the
// background stale-lease recovery sweep.
type Orchestrator struct {
	store   RunStore
	queue   TaskQueue
	limiter Limiter
	cfg     config.OrchestratorConfig
	locker  Locker

	mu       sync.Mutex
	running  bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// New builds an Orchestrator.
func New(store RunStore, q TaskQueue, limiter Limiter, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{store: store, queue: q, limiter: limiter, cfg: cfg}
}

// SetRecoverySweepLock installs a distributed lock the recovery sweep
// must hold before calling RecoverStale. Call before Start; a nil
// locker (the default) leaves the sweep unguarded.
func (o *Orchestrator) SetRecoverySweepLock(l Locker) {
	o.locker = l
}

// Start begins the background recovery sweep loop.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelFn = cancel
	o.running = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.runRecoveryLoop(ctx)

	logger.Info("pipeline orchestrator started")
}

// Stop cancels the background loops and waits for them to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancelFn
	o.running = false
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) runRecoveryLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runRecoverySweep(ctx)
		}
	}
}

// runRecoverySweep runs one RecoverStale pass, guarded by o.locker if one
// is installed so that only one of several concurrently running
// Orchestrators performs the sweep on a given tick.
func (o *Orchestrator) runRecoverySweep(ctx context.Context) {
	if o.locker != nil {
		acquired, err := o.locker.Acquire(ctx)
		if err != nil {
			logger.Error("recovery sweep lock acquire failed", "error", err)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := o.locker.Release(ctx); err != nil {
				logger.Error("recovery sweep lock release failed", "error", err)
			}
		}()
	}

	requeued, dead, err := o.queue.RecoverStale(ctx)
	if err != nil {
		logger.Error("recovery sweep failed", "error", err)
		return
	}
	if requeued > 0 || dead > 0 {
		logger.Info("recovery sweep reclaimed stale tasks", "requeued", requeued, "dead_lettered", dead)
	}
}

// StartRun enforces the tenant's 24h company budget, creates the Run
// row, and fans each domain out into its stage chain. The budget check
// and Run creation happen before any task is enqueued so a denied
// budget never leaves partial queue state behind.
func (o *Orchestrator) StartRun(ctx context.Context, tenantID string, domains []string, opts domain.RunOptions) (*domain.Run, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("pipeline: %w: no domains supplied", pipelineerr.ErrValidation)
	}

	if o.cfg.TenantDailyCompanyBudget > 0 {
		windowKey := ratelimit.TenantDailyKey(time.Now().UTC().Format("2006-01-02"))
		allowed, _, err := o.limiter.ConsumeWindow(ctx, "tenant:"+tenantID, windowKey,
			o.cfg.TenantDailyCompanyBudget, len(domains), 25*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("pipeline: budget check: %w", err)
		}
		if !allowed {
			return nil, pipelineerr.ErrBudgetExceeded
		}
	}

	run := &domain.Run{
		TenantID: tenantID,
		Status:   domain.RunQueued,
		Domains:  domains,
		Options:  opts,
		Progress: domain.RunProgress{DomainsTotal: len(domains)},
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("pipeline: create run: %w", err)
	}

	for _, d := range domains {
		if err := o.fanOutDomain(ctx, run, d, opts); err != nil {
			return run, fmt.Errorf("pipeline: fan out domain %s: %w", d, err)
		}
	}

	return run, nil
}

// domainPayload is the queue task payload shared by every stage of one
// domain's chain.
type domainPayload struct {
	CompanyID string `json:"company_id"`
	Domain    string `json:"domain"`
}

// fanOutDomain creates the domain's Company row and enqueues its stage
// chain: crawl → extract feeds generate_emails; resolve_mx → catch-all
// detection runs independently; verify waits on both generate_emails and
// catch-all detection, matching the ordering guarantee that
// autodiscovery → generate → verify within one domain while resolve_mx
// has no upstream dependency.
func (o *Orchestrator) fanOutDomain(ctx context.Context, run *domain.Run, domainName string, opts domain.RunOptions) error {
	company := &domain.Company{TenantID: run.TenantID, RunID: run.ID, Name: domainName, SuppliedDomain: domainName}
	if err := o.store.UpsertCompany(ctx, company); err != nil {
		return fmt.Errorf("upsert company: %w", err)
	}

	tenantID, err := uuid.Parse(run.TenantID)
	if err != nil {
		return fmt.Errorf("parse tenant id: %w", err)
	}
	runID, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("parse run id: %w", err)
	}
	payload, err := json.Marshal(domainPayload{CompanyID: company.ID, Domain: domainName})
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}

	enqueue := func(taskType queue.TaskType, dependsOn ...uuid.UUID) (uuid.UUID, error) {
		return o.queue.Enqueue(ctx, queue.Task{
			TenantID:  tenantID,
			RunID:     runID,
			Type:      taskType,
			Payload:   payload,
			DependsOn: dependsOn,
		})
	}

	var extractID uuid.UUID
	if opts.Mode.RunsAutodiscovery() && !opts.SkipCrawl {
		crawlID, err := enqueue(queue.TaskCrawl)
		if err != nil {
			return fmt.Errorf("enqueue crawl: %w", err)
		}
		if extractID, err = enqueue(queue.TaskExtract, crawlID); err != nil {
			return fmt.Errorf("enqueue extract: %w", err)
		}
	}

	var generateID uuid.UUID
	if opts.Mode.RunsGenerate() {
		var deps []uuid.UUID
		if extractID != uuid.Nil {
			deps = append(deps, extractID)
		}
		if generateID, err = enqueue(queue.TaskGenerateEmails, deps...); err != nil {
			return fmt.Errorf("enqueue generate_emails: %w", err)
		}
	}

	if opts.Mode.RunsVerify() && !opts.SkipVerify {
		resolveMXID, err := enqueue(queue.TaskResolveMX)
		if err != nil {
			return fmt.Errorf("enqueue resolve_mx: %w", err)
		}
		catchallID, err := enqueue(queue.TaskDetectCatchAll, resolveMXID)
		if err != nil {
			return fmt.Errorf("enqueue detect_catchall: %w", err)
		}

		verifyDeps := []uuid.UUID{catchallID}
		if generateID != uuid.Nil {
			verifyDeps = append(verifyDeps, generateID)
		}
		if _, err := enqueue(queue.TaskVerify, verifyDeps...); err != nil {
			return fmt.Errorf("enqueue verify: %w", err)
		}
	}

	return nil
}

// RefreshProgress recomputes DomainsCompleted from the queue's terminal
// task counts for run and persists it, flipping the Run to succeeded
// once every domain's chain is done. terminalType names whichever stage
// marks a domain complete for this run's mode (verify, or
// generate_emails/extract when verify/generate were skipped).
func (o *Orchestrator) RefreshProgress(ctx context.Context, run *domain.Run) error {
	terminalType := terminalStageFor(run.Options)

	runID, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("pipeline: parse run id: %w", err)
	}

	done, err := o.queue.CountByRun(ctx, runID, terminalType, queue.StatusDone)
	if err != nil {
		return fmt.Errorf("pipeline: count completed domains: %w", err)
	}

	run.Progress.DomainsCompleted = done
	if err := o.store.UpdateRunProgress(ctx, run.ID, run.Progress); err != nil {
		return fmt.Errorf("pipeline: update run progress: %w", err)
	}

	if run.Progress.Complete() {
		if err := o.store.UpdateRunStatus(ctx, run.ID, domain.RunSucceeded, ""); err != nil {
			return fmt.Errorf("pipeline: mark run succeeded: %w", err)
		}
		run.Status = domain.RunSucceeded
	}
	return nil
}

func terminalStageFor(opts domain.RunOptions) queue.TaskType {
	switch {
	case opts.Mode.RunsVerify() && !opts.SkipVerify:
		return queue.TaskVerify
	case opts.Mode.RunsGenerate():
		return queue.TaskGenerateEmails
	default:
		return queue.TaskExtract
	}
}

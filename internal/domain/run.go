package domain

import "time"

// RunStatus enumerates the lifecycle states of a Run. Terminal states are
// irreversible.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunMode selects which stages a Run exercises.
type RunMode string

const (
	ModeFull           RunMode = "full"
	ModeAutodiscovery  RunMode = "autodiscovery"
	ModeGenerate       RunMode = "generate"
	ModeVerify         RunMode = "verify"
)

// RunOptions is the typed replacement for a dynamic options bag: every
// recognized option is a field here, not a free-form map.
type RunOptions struct {
	Mode            RunMode `json:"mode" db:"mode"`
	SkipCrawl       bool    `json:"skip_crawl" db:"skip_crawl"`
	SkipVerify      bool    `json:"skip_verify" db:"skip_verify"`
	AIEnabled       bool    `json:"ai_enabled" db:"ai_enabled"`
	ForceDiscovery  bool    `json:"force_discovery" db:"force_discovery"`
	CompanyLimit    int     `json:"company_limit" db:"company_limit"`
}

// RunsAutodiscovery reports whether this mode runs the crawl/extract stage.
func (m RunMode) RunsAutodiscovery() bool { return m == ModeFull || m == ModeAutodiscovery }

// RunsGenerate reports whether this mode runs the email-generation stage.
func (m RunMode) RunsGenerate() bool { return m == ModeFull || m == ModeGenerate }

// RunsVerify reports whether this mode runs the verification stage.
func (m RunMode) RunsVerify() bool { return m == ModeFull || m == ModeVerify }

// RunProgress is the typed counter bag tracked on a Run.
type RunProgress struct {
	DomainsTotal     int `json:"domains_total" db:"domains_total"`
	DomainsCompleted int `json:"domains_completed" db:"domains_completed"`
	EmailsFound      int `json:"emails_found" db:"emails_found"`
	EmailsVerified   int `json:"emails_verified" db:"emails_verified"`
	ValidCount       int `json:"valid_count" db:"valid_count"`
	RiskyCount       int `json:"risky_count" db:"risky_count"`
	InvalidCount     int `json:"invalid_count" db:"invalid_count"`
	UnknownCount     int `json:"unknown_count" db:"unknown_count"`
}

// Complete reports whether every domain has reached a terminal per-domain
// state. DomainsCompleted never exceeds DomainsTotal; equality marks the
// run's work as done.
func (p RunProgress) Complete() bool {
	return p.DomainsTotal > 0 && p.DomainsCompleted >= p.DomainsTotal
}

// Run represents a single user-requested batch of domains progressing
// through the pipeline.
type Run struct {
	ID         string      `json:"id" db:"id"`
	TenantID   string      `json:"tenant_id" db:"tenant_id"`
	Status     RunStatus   `json:"status" db:"status"`
	Domains    []string    `json:"domains" db:"domains"`
	Options    RunOptions  `json:"options" db:"options"`
	Progress   RunProgress `json:"progress" db:"progress"`
	Error      string      `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty" db:"finished_at"`
}

// IsTerminal reports whether the Run has reached an irreversible state.
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

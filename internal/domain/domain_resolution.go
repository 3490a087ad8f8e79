package domain

import "time"

// CatchAllStatus enumerates the possible catch-all verdicts.
type CatchAllStatus string

const (
	CatchAllYes     CatchAllStatus = "catch_all"
	CatchAllNo      CatchAllStatus = "not_catch_all"
	CatchAllTemp    CatchAllStatus = "tempfail"
	CatchAllNoMX    CatchAllStatus = "no_mx"
	CatchAllError   CatchAllStatus = "error"
)

// MXBehavior is the per-MX-host behavior record used to adapt SMTP Prober
// timeouts.
type MXBehavior struct {
	Host         string  `json:"host" db:"host"`
	AvgLatencyMS float64 `json:"avg_latency_ms" db:"avg_latency_ms"`
	LastCode     int     `json:"last_code,omitempty" db:"last_code"`
	LastCategory string  `json:"last_category,omitempty" db:"last_category"`
	LastError    string  `json:"last_error,omitempty" db:"last_error"`
	ProbeCount   int     `json:"probe_count" db:"probe_count"`
}

// DomainResolution is an append-only audit row recording a domain's MX
// resolution and catch-all verdict; the most recent row is authoritative.
type DomainResolution struct {
	ID                 string       `json:"id" db:"id"`
	TenantID           string       `json:"tenant_id" db:"tenant_id"`
	CompanyID          string       `json:"company_id" db:"company_id"`
	ChosenDomain       string       `json:"chosen_domain" db:"chosen_domain"`
	Method             string       `json:"method" db:"method"` // mx | implicit_a | no_mx | freemail
	Confidence         int          `json:"confidence" db:"confidence"`
	MXHosts            []string     `json:"mx_hosts" db:"mx_hosts"`
	LowestMX           string       `json:"lowest_mx,omitempty" db:"lowest_mx"`
	MXBehavior         []MXBehavior `json:"mx_behavior,omitempty" db:"mx_behavior"`
	CatchAllStatus     CatchAllStatus `json:"catch_all_status,omitempty" db:"catch_all_status"`
	CatchAllCheckedAt  *time.Time   `json:"catch_all_checked_at,omitempty" db:"catch_all_checked_at"`
	CatchAllLocalpart  string       `json:"catch_all_localpart,omitempty" db:"catch_all_localpart"`
	CatchAllSMTPCode   int          `json:"catch_all_smtp_code,omitempty" db:"catch_all_smtp_code"`
	ResolvedAt         time.Time   `json:"resolved_at" db:"resolved_at"`
}

// IsTarpit reports whether the host's recent average latency suggests an
// adaptive-timeout "tarpit" classification.
func (b MXBehavior) IsTarpit() bool {
	return b.ProbeCount >= 3 && b.AvgLatencyMS > 8000
}

// IsFast reports whether the host has a consistently fast, clean history.
func (b MXBehavior) IsFast() bool {
	return b.ProbeCount >= 3 && b.AvgLatencyMS < 1500 && b.LastCategory == "accept"
}

// Freemail reports whether this resolution short-circuited on the freemail
// denylist.
func (d DomainResolution) Freemail() bool { return d.Method == "freemail" }

// NoMX reports whether no MX (or implicit A/AAAA fallback) was found.
func (d DomainResolution) NoMX() bool { return d.Method == "no_mx" }

package domain

import "time"

// SuppressionReason enumerates why an email or domain was suppressed from
// further verification/crawl work.
type SuppressionReason string

const (
	ReasonHardFail    SuppressionReason = "hard_fail"
	ReasonRoleBased   SuppressionReason = "role_based"
	ReasonDisposable  SuppressionReason = "disposable"
	ReasonManual      SuppressionReason = "manual"
	ReasonRobotsBlock SuppressionReason = "robots_blocked_domain"
)

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceVerifyResult SuppressionSource = "verify_result"
	SourceManualEntry  SuppressionSource = "manual"
	SourceImport       SuppressionSource = "import"
)

// Suppression holds at least one of Email/Domain non-empty.
type Suppression struct {
	ID        string            `json:"id" db:"id"`
	TenantID  string            `json:"tenant_id" db:"tenant_id"`
	Email     string            `json:"email,omitempty" db:"email"`
	Domain    string            `json:"domain,omitempty" db:"domain"`
	Reason    SuppressionReason `json:"reason" db:"reason"`
	Source    SuppressionSource `json:"source" db:"source"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// Valid reports whether the suppression row satisfies the "at least one of
// email/domain non-null" invariant.
func (s Suppression) Valid() bool {
	return s.Email != "" || s.Domain != ""
}

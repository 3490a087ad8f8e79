package domain

import "time"

// Email is unique per (tenant_id, email). PersonID is a weak back-reference:
// nulled if the person is deleted, the Email row persists.
type Email struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	CompanyID string    `json:"company_id" db:"company_id"`
	PersonID  string    `json:"person_id,omitempty" db:"person_id"`
	Email     string    `json:"email" db:"email"`
	IsPublished bool    `json:"is_published" db:"is_published"`
	SourceURL string    `json:"source_url,omitempty" db:"source_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// CurrentVerificationID replaces a materialized "latest per email" view:
	// it is the id of the VerificationResult row this Email's latest-view
	// lookup should return, updated atomically by append_verification.
	CurrentVerificationID string `json:"current_verification_id,omitempty" db:"current_verification_id"`
}

// Package store is the tenant-scoped, idempotent persistence layer for
// companies, people, emails, and verification results. It is grounded
// on repository/postgres.SuppressionRepo's ON CONFLICT upsert pattern,
// generalized from a single suppressions table to the full entity set
// and to the append-only VerificationResult/current_verification_id
// design.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/leadprobe/internal/domain"
)

// Store is a Postgres-backed idempotent writer for the pipeline's core
// entities. All writes are scoped by tenant ID and safe to retry.
type Store struct {
	db *sql.DB
}

// New creates a Store bound to db.
func New(db *sql.DB) *Store { return &Store{db: db} }

// UpsertCompany inserts a company, or updates one in place if a matching
// row already exists. The conflict key depends on what's known:
//   - official_domain set: this is a confident-resolution update,
//     coalesced onto whichever row (if any) already carries that
//     official domain.
//   - otherwise, supplied_domain set: this is the run fan-out's
//     creation call, keyed on (tenant_id, supplied_domain) so
//     re-submitting the same domain in a later run reuses the row
//     instead of inserting a duplicate.
//   - otherwise: falls back to (tenant_id, name).
func (s *Store) UpsertCompany(ctx context.Context, c *domain.Company) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	attrs, err := json.Marshal(c.Attrs)
	if err != nil {
		return fmt.Errorf("store: marshal company attrs: %w", err)
	}

	var officialDomain any
	if c.OfficialDomain != "" {
		officialDomain = c.OfficialDomain
	}
	var suppliedDomain any
	if c.SuppliedDomain != "" {
		suppliedDomain = c.SuppliedDomain
	}

	var conflictTarget string
	switch {
	case c.OfficialDomain != "":
		conflictTarget = "(tenant_id, official_domain) WHERE official_domain IS NOT NULL"
	case c.SuppliedDomain != "":
		conflictTarget = "(tenant_id, supplied_domain) WHERE supplied_domain IS NOT NULL"
	default:
		conflictTarget = "(tenant_id, name) WHERE supplied_domain IS NULL"
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO companies
			(id, tenant_id, run_id, name, supplied_domain, official_domain,
			 official_confidence, official_source, attrs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT `+conflictTarget+`
		DO UPDATE SET
			name                = EXCLUDED.name,
			official_domain      = COALESCE(EXCLUDED.official_domain, companies.official_domain),
			official_confidence = GREATEST(companies.official_confidence, EXCLUDED.official_confidence),
			official_source     = COALESCE(EXCLUDED.official_source, companies.official_source),
			attrs                = companies.attrs || EXCLUDED.attrs
		RETURNING id
	`, c.ID, c.TenantID, nullableString(c.RunID), c.Name, suppliedDomain,
		officialDomain, c.OfficialConfidence, nullableString(c.OfficialSource), attrs).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("store: upsert company: %w", err)
	}
	return nil
}

// AddSource records a fetched page for a company. Sources are
// append-only; repeated fetches of the same URL are kept as separate
// history rows.
func (s *Store) AddSource(ctx context.Context, src *domain.Source) error {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, tenant_id, company_id, url, html, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, src.ID, src.TenantID, src.CompanyID, src.URL, src.HTML, src.FetchedAt)
	if err != nil {
		return fmt.Errorf("store: add source: %w", err)
	}
	return nil
}

// UpsertPerson inserts a person, or refreshes title/seniority/ICP score
// in place when the same (company_id, full name) was already extracted.
func (s *Store) UpsertPerson(ctx context.Context, p *domain.Person) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO people
			(id, tenant_id, company_id, first, last, "full", title, title_norm,
			 role_family, seniority, source_url, icp_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (company_id, "full") DO UPDATE SET
			title       = EXCLUDED.title,
			title_norm  = EXCLUDED.title_norm,
			role_family = EXCLUDED.role_family,
			seniority   = EXCLUDED.seniority,
			icp_score   = GREATEST(people.icp_score, EXCLUDED.icp_score)
		RETURNING id
	`, p.ID, p.TenantID, p.CompanyID, nullableString(p.First), nullableString(p.Last), p.Full,
		nullableString(p.Title), nullableString(p.TitleNorm), nullableString(p.RoleFamily),
		nullableString(p.Seniority), nullableString(p.SourceURL), p.ICPScore).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("store: upsert person: %w", err)
	}
	return nil
}

// UpsertEmail inserts an email, or is a no-op beyond returning the
// existing row's ID when (tenant_id, email) already exists — an email's
// identity and history belong to append_verification, not this call.
func (s *Store) UpsertEmail(ctx context.Context, e *domain.Email) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	var currentVerificationID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO emails (id, tenant_id, company_id, person_id, email, is_published, source_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, email) DO UPDATE SET
			person_id    = COALESCE(EXCLUDED.person_id, emails.person_id),
			is_published = emails.is_published OR EXCLUDED.is_published
		RETURNING id, current_verification_id
	`, e.ID, e.TenantID, e.CompanyID, nullableString(e.PersonID), e.Email, e.IsPublished, nullableString(e.SourceURL)).
		Scan(&e.ID, &currentVerificationID)
	if err != nil {
		return fmt.Errorf("store: upsert email: %w", err)
	}
	e.CurrentVerificationID = currentVerificationID.String
	return nil
}

// AppendVerification inserts a new append-only VerificationResult row
// and atomically repoints the owning Email's current_verification_id at
// it, replacing a materialized "latest verification" view with a
// column kept current by every write.
func (s *Store) AppendVerification(ctx context.Context, v *domain.VerificationResult) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append verification begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verification_results
			(id, tenant_id, email_id, mx_host, smtp_code, smtp_reason, checked_at,
			 fallback_status, fallback_at, verify_status, verify_reason, verified_mx, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, v.ID, v.TenantID, v.EmailID, nullableString(v.MXHost), nullableInt(v.SMTPCode),
		nullableString(v.SMTPReason), v.CheckedAt, nullableString(v.FallbackStatus), v.FallbackAt,
		string(v.VerifyStatus), v.VerifyReason, nullableString(v.VerifiedMX), v.VerifiedAt)
	if err != nil {
		return fmt.Errorf("store: insert verification result: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE emails SET current_verification_id = $1 WHERE id = $2
	`, v.ID, v.EmailID)
	if err != nil {
		return fmt.Errorf("store: repoint current verification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: append verification commit: %w", err)
	}
	return nil
}

// LatestVerification reads the VerificationResult an email's
// current_verification_id points at.
func (s *Store) LatestVerification(ctx context.Context, emailID string) (*domain.VerificationResult, error) {
	var v domain.VerificationResult
	err := s.db.QueryRowContext(ctx, `
		SELECT vr.id, vr.tenant_id, vr.email_id, COALESCE(vr.mx_host, ''), COALESCE(vr.smtp_code, 0),
		       COALESCE(vr.smtp_reason, ''), vr.checked_at, COALESCE(vr.fallback_status, ''),
		       vr.fallback_at, vr.verify_status, vr.verify_reason, COALESCE(vr.verified_mx, ''), vr.verified_at
		FROM emails e
		JOIN verification_results vr ON vr.id = e.current_verification_id
		WHERE e.id = $1
	`, emailID).Scan(&v.ID, &v.TenantID, &v.EmailID, &v.MXHost, &v.SMTPCode, &v.SMTPReason,
		&v.CheckedAt, &v.FallbackStatus, &v.FallbackAt, &v.VerifyStatus, &v.VerifyReason, &v.VerifiedMX, &v.VerifiedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest verification for email %s: %w", emailID, err)
	}
	return &v, nil
}

// IsSuppressed reports whether email or its domain has an active
// suppression entry for the tenant.
func (s *Store) IsSuppressed(ctx context.Context, tenantID, email, domainName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM suppressions
			WHERE tenant_id = $1 AND (email = $2 OR domain = $3)
		)
	`, tenantID, email, domainName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check suppression: %w", err)
	}
	return exists, nil
}

// Suppress records a new suppression entry, idempotent on the email or
// domain it targets.
func (s *Store) Suppress(ctx context.Context, sup *domain.Suppression) error {
	if !sup.Valid() {
		return fmt.Errorf("store: suppression must target an email or a domain")
	}
	if sup.ID == "" {
		sup.ID = uuid.New().String()
	}

	var err error
	if sup.Email != "" {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO suppressions (id, tenant_id, email, domain, reason, source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (tenant_id, email) WHERE email IS NOT NULL
			DO UPDATE SET reason = EXCLUDED.reason, source = EXCLUDED.source
		`, sup.ID, sup.TenantID, sup.Email, nullableString(sup.Domain), string(sup.Reason), string(sup.Source))
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO suppressions (id, tenant_id, email, domain, reason, source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (tenant_id, domain) WHERE domain IS NOT NULL
			DO UPDATE SET reason = EXCLUDED.reason, source = EXCLUDED.source
		`, sup.ID, sup.TenantID, nullableString(sup.Email), sup.Domain, string(sup.Reason), string(sup.Source))
	}
	if err != nil {
		return fmt.Errorf("store: suppress: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}


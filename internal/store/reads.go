package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/leadprobe/internal/domain"
)

// GetCompany reads a single Company by ID, returning nil, nil when it
// doesn't exist.
func (s *Store) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	var c domain.Company
	var runID, suppliedDomain, officialDomain, officialSource sql.NullString
	var attrs []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, COALESCE(run_id::text, ''), name, COALESCE(supplied_domain, ''),
		       COALESCE(official_domain, ''), official_confidence, COALESCE(official_source, ''), attrs
		FROM companies WHERE id = $1
	`, companyID).Scan(&c.ID, &c.TenantID, &runID, &c.Name, &suppliedDomain,
		&officialDomain, &c.OfficialConfidence, &officialSource, &attrs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get company %s: %w", companyID, err)
	}

	c.RunID = runID.String
	c.SuppliedDomain = suppliedDomain.String
	c.OfficialDomain = officialDomain.String
	c.OfficialSource = officialSource.String
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attrs); err != nil {
			return nil, fmt.Errorf("store: unmarshal company attrs: %w", err)
		}
	}
	return &c, nil
}

// ListSources returns every page fetched for a company, most recent
// first.
func (s *Store) ListSources(ctx context.Context, companyID string) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, company_id, url, COALESCE(html, ''), fetched_at
		FROM sources WHERE company_id = $1 ORDER BY fetched_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("store: list sources for company %s: %w", companyID, err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		var src domain.Source
		if err := rows.Scan(&src.ID, &src.TenantID, &src.CompanyID, &src.URL, &src.HTML, &src.FetchedAt); err != nil {
			return nil, fmt.Errorf("store: scan source row: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// ListPeople returns every person extracted for a company.
func (s *Store) ListPeople(ctx context.Context, companyID string) ([]domain.Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, company_id, COALESCE(first, ''), COALESCE(last, ''), "full",
		       COALESCE(title, ''), COALESCE(title_norm, ''), COALESCE(role_family, ''),
		       COALESCE(seniority, ''), COALESCE(source_url, ''), icp_score
		FROM people WHERE company_id = $1
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("store: list people for company %s: %w", companyID, err)
	}
	defer rows.Close()

	var out []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.TenantID, &p.CompanyID, &p.First, &p.Last, &p.Full,
			&p.Title, &p.TitleNorm, &p.RoleFamily, &p.Seniority, &p.SourceURL, &p.ICPScore); err != nil {
			return nil, fmt.Errorf("store: scan person row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListEmails returns every email on file for a company.
func (s *Store) ListEmails(ctx context.Context, companyID string) ([]domain.Email, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, company_id, COALESCE(person_id, ''), email, is_published,
		       COALESCE(source_url, ''), created_at, COALESCE(current_verification_id::text, '')
		FROM emails WHERE company_id = $1
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("store: list emails for company %s: %w", companyID, err)
	}
	defer rows.Close()

	var out []domain.Email
	for rows.Next() {
		var e domain.Email
		if err := rows.Scan(&e.ID, &e.TenantID, &e.CompanyID, &e.PersonID, &e.Email, &e.IsPublished,
			&e.SourceURL, &e.CreatedAt, &e.CurrentVerificationID); err != nil {
			return nil, fmt.Errorf("store: scan email row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

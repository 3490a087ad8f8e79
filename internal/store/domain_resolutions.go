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

// SaveResolution inserts a new append-only DomainResolution row; the
// most recent row per company is authoritative, read back by
// LatestResolution.
func (s *Store) SaveResolution(ctx context.Context, res *domain.DomainResolution) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	mxBehavior, err := json.Marshal(res.MXBehavior)
	if err != nil {
		return fmt.Errorf("store: marshal mx behavior: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO domain_resolutions
			(id, tenant_id, company_id, chosen_domain, method, confidence, mx_hosts, lowest_mx,
			 mx_behavior, catch_all_status, catch_all_checked_at, catch_all_localpart,
			 catch_all_smtp_code, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	`, res.ID, res.TenantID, res.CompanyID, res.ChosenDomain, res.Method, res.Confidence,
		pq.Array(res.MXHosts), nullableString(res.LowestMX), mxBehavior,
		nullableString(string(res.CatchAllStatus)), res.CatchAllCheckedAt,
		nullableString(res.CatchAllLocalpart), nullableInt(res.CatchAllSMTPCode))
	if err != nil {
		return fmt.Errorf("store: save domain resolution: %w", err)
	}
	return nil
}

// LatestResolution returns the most recently saved DomainResolution for
// a company, or nil, nil when none exists.
func (s *Store) LatestResolution(ctx context.Context, tenantID, companyID string) (*domain.DomainResolution, error) {
	var res domain.DomainResolution
	var mxHosts pq.StringArray
	var mxBehavior []byte
	var lowestMX, catchAllStatus, catchAllLocalpart sql.NullString
	var catchAllSMTPCode sql.NullInt64
	var catchAllCheckedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, company_id, chosen_domain, method, confidence, mx_hosts, lowest_mx,
		       mx_behavior, catch_all_status, catch_all_checked_at, catch_all_localpart,
		       catch_all_smtp_code, resolved_at
		FROM domain_resolutions
		WHERE tenant_id = $1 AND company_id = $2
		ORDER BY resolved_at DESC
		LIMIT 1
	`, tenantID, companyID).Scan(&res.ID, &res.TenantID, &res.CompanyID, &res.ChosenDomain,
		&res.Method, &res.Confidence, &mxHosts, &lowestMX, &mxBehavior, &catchAllStatus,
		&catchAllCheckedAt, &catchAllLocalpart, &catchAllSMTPCode, &res.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest resolution for company %s: %w", companyID, err)
	}

	res.MXHosts = []string(mxHosts)
	res.LowestMX = lowestMX.String
	res.CatchAllStatus = domain.CatchAllStatus(catchAllStatus.String)
	res.CatchAllLocalpart = catchAllLocalpart.String
	res.CatchAllSMTPCode = int(catchAllSMTPCode.Int64)
	if catchAllCheckedAt.Valid {
		res.CatchAllCheckedAt = &catchAllCheckedAt.Time
	}
	if len(mxBehavior) > 0 {
		if err := json.Unmarshal(mxBehavior, &res.MXBehavior); err != nil {
			return nil, fmt.Errorf("store: unmarshal mx behavior: %w", err)
		}
	}
	return &res, nil
}

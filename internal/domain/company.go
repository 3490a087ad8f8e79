package domain

import "time"

// CompanyAttrs is the typed replacement for a dynamic "attrs" JSON bag.
type CompanyAttrs struct {
	Industry          string   `json:"industry,omitempty" db:"industry"`
	SizeBucket        string   `json:"size_bucket,omitempty" db:"size_bucket"`
	TechKeywords      []string `json:"tech_keywords,omitempty" db:"tech_keywords"`
	AIPeopleExtracted bool     `json:"ai_people_extracted" db:"ai_people_extracted"`
}

// Company is a B2B organization being worked by a Run.
type Company struct {
	ID                  string       `json:"id" db:"id"`
	TenantID            string       `json:"tenant_id" db:"tenant_id"`
	RunID               string       `json:"run_id,omitempty" db:"run_id"`
	Name                string       `json:"name" db:"name"`
	SuppliedDomain      string       `json:"supplied_domain,omitempty" db:"supplied_domain"`
	OfficialDomain      string       `json:"official_domain,omitempty" db:"official_domain"`
	OfficialConfidence  int          `json:"official_confidence" db:"official_confidence"` // [0,100]
	OfficialSource      string       `json:"official_source,omitempty" db:"official_source"`
	Attrs               CompanyAttrs `json:"attrs" db:"attrs"`
}

// Source is a single successfully fetched page belonging to a Company.
type Source struct {
	ID        string `json:"id" db:"id"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	CompanyID string `json:"company_id" db:"company_id"`
	URL       string    `json:"url" db:"url"`
	HTML      string    `json:"html,omitempty" db:"html"`
	FetchedAt time.Time `json:"fetched_at" db:"fetched_at"`
}

package domain

import "time"

// Tenant is the root of all multi-tenant scoping. Every user-owned row
// carries a TenantID.
type Tenant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

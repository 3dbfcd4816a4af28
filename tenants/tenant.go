package tenants

import "time"

// Status is a tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant represents an isolated unit of data and access ownership within an
// application boundary. Created just-in-time on first login and managed by
// the tenancy admin API.
type Tenant struct {
	ID                  string     `json:"id"`
	AppID               string     `json:"app_id"`
	Name                string     `json:"name"`
	Status              Status     `json:"status"`
	CredentialVersion   int        `json:"credential_version"`
	CredentialRotatedAt *time.Time `json:"credential_rotated_at,omitempty"`
	OnboardedAt         time.Time  `json:"onboarded_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Suspended reports whether the tenant is blocked from serving traffic.
func (t *Tenant) Suspended() bool {
	return t.Status == StatusSuspended
}

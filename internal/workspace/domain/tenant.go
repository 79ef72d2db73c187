package domain

import "time"

// TenantID identifies a tenant. Repository methods take it by type so a
// query without a tenant filter does not compile.
type TenantID string

// LocalTenant namespaces the offline store. It never names a server tenant.
const LocalTenant TenantID = "local"

func (id TenantID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id TenantID) IsZero() bool { return id == "" }

// Tenant is the one-per-user data partition.
type Tenant struct {
	ID        TenantID       `json:"id"`
	UserID    string         `json:"user_id"`
	Name      string         `json:"name"`
	Settings  map[string]any `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// WorkspaceName is the display name given to a new user's tenant.
func WorkspaceName(email string) string {
	u := User{Email: email}
	return u.LocalPart() + "'s Workspace"
}

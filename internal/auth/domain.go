package auth

import "time"

// Account is the credential view of a user.
type Account struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Membership holds the tenant ids attached to an account, stored into the
// session at login and read by the authorization gate.
type Membership struct {
	ClientID  int64
	CompanyID int64
	ProjectID int64
}

package types

import "time"

// Role is the fixed identity class that controls operation access.
type Role string

const (
	// RoleTechnician uploads and manages their own scans.
	RoleTechnician Role = "technician"

	// RoleDentist browses and views scans.
	RoleDentist Role = "dentist"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleTechnician || r == RoleDentist
}

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the user's login address. It is unique and compared
	// exactly as stored.
	Email string `json:"email" db:"email"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Role indicates the user's authorization level. Exactly one role
	// is assigned and it does not change after creation.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// PublicUser is the redacted view of a User returned to clients.
type PublicUser struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
}

// Public returns the client-facing view of the user.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:    u.ID,
		Email: u.Email,
		Role:  u.Role,
		Name:  u.Name,
	}
}

// Identity is the trusted caller derived from a verified session token.
type Identity struct {
	ID   int    `json:"id"`
	Role Role   `json:"role"`
	Name string `json:"name"`
}

// HasRole reports whether the identity holds any of the given roles.
// An empty role list admits every identity.
func (i Identity) HasRole(roles ...Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if i.Role == role {
			return true
		}
	}
	return false
}

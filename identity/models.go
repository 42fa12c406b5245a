package identity

import "time"

type Role string

const (
	RoleEmployer   Role = "employer"
	RoleFreelancer Role = "freelancer"
)

// Account mirrors the accounts table. Role and Verified are written by the
// credential issuer; this service only reads them.
type Account struct {
	Address      string
	PasswordHash string
	Role         Role
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the answer of a registry lookup.
type Identity struct {
	Account  string
	Role     Role
	Verified bool
}

// Registered reports whether the lookup found a usable record.
func (i Identity) Registered() bool {
	return i.Role != "" && i.Verified
}

// Holds reports whether the identity is verified and carries role.
func (i Identity) Holds(role Role) bool {
	return i.Verified && i.Role == role
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

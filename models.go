package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the account model. Records are created inactive by a pending
// registration and flipped to active by redeeming an activation token.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email          string     `bun:"email,notnull" json:"email,omitempty"`
	FirstName      string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName       string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	IsActive       bool       `bun:"is_active,notnull" json:"is_active"`
	IsSuperuser    bool       `bun:"is_superuser,notnull" json:"is_superuser"`
	LoginAttempts  int        `bun:"login_attempts,notnull" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	ActivatedAt    *time.Time `bun:"activated_at,nullzero" json:"activated_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// FullName returns first and last name joined, or the email when both are empty
func (u *User) FullName() string {
	if u == nil {
		return ""
	}

	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// CanAccess reports whether u may view or edit the account with the given id
func (u *User) CanAccess(id uuid.UUID) bool {
	if u == nil {
		return false
	}
	return u.IsSuperuser || u.ID == id
}

// PasswordResetStep step on password reset
type PasswordResetStep = string

const (
	// ResetUnknown the request could not be found or has expired
	ResetUnknown PasswordResetStep = "unknown"
	// ResetInit is the initial step
	ResetInit PasswordResetStep = "show-reset"
	// AccountVerification notification sent
	AccountVerification PasswordResetStep = "email-sent"
	// ChangingPassword user will change password
	ChangingPassword PasswordResetStep = "change-password"
	// ChangeFinalized processing change
	ChangeFinalized PasswordResetStep = "password-changed"
)

const (
	// ResetRequestedStatus is the requested status
	ResetRequestedStatus = "requested"
	// ResetChangedStatus is the changed status
	ResetChangedStatus = "changed"
)

// PasswordReset tracks a single password reset request
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_reset,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	ResetedAt     *time.Time `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// MarkPasswordAsReseted returns the partial record used to close a reset
func MarkPasswordAsReseted(id uuid.UUID, at time.Time) *PasswordReset {
	return &PasswordReset{
		ID:        id,
		Status:    ResetChangedStatus,
		ResetedAt: &at,
		UpdatedAt: &at,
	}
}

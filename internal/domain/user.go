package domain

import (
	"context"
	"errors"
)

// User is the authenticated principal acting on the ledger.
type User struct {
	ID             string
	Email          string
	CongregationID string
	Role           Role
}

// Role represents a user's access level
type Role string

const (
	// RoleGlobalAdmin has full access to every congregation
	RoleGlobalAdmin Role = "global_admin"

	// RoleDirector can approve and delete across congregations
	RoleDirector Role = "director"

	// RoleTreasurer can approve and edit transactions of their congregation
	RoleTreasurer Role = "treasurer"

	RolePastor Role = "pastor"
	RoleWorker Role = "worker"
	RoleMember Role = "member"
)

var validRoles = map[Role]bool{
	RoleGlobalAdmin: true,
	RoleDirector:    true,
	RoleTreasurer:   true,
	RolePastor:      true,
	RoleWorker:      true,
	RoleMember:      true,
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	return validRoles[r]
}

// CanApprove checks if the role can confirm pending transactions
func (r Role) CanApprove() bool {
	return r == RoleGlobalAdmin || r == RoleDirector || r == RoleTreasurer
}

// CanDelete checks if the role can delete transactions
func (r Role) CanDelete() bool {
	return r == RoleGlobalAdmin || r == RoleDirector
}

// CanEditAny checks if the role can edit transactions it is not responsible for
func (r Role) CanEditAny() bool {
	return r.CanApprove()
}

// CanViewAllCongregations checks if the role is not scoped to one congregation
func (r Role) CanViewAllCongregations() bool {
	return r == RoleGlobalAdmin || r == RoleDirector
}

// SystemUserID identifies writes made without an authenticated user.
const SystemUserID = "system"

// Authentication errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInsufficientRole = errors.New("insufficient role for this operation")
	ErrForbiddenScope   = errors.New("resource belongs to another congregation")
)

type userContextKey struct{}

// ContextWithUser returns a copy of ctx carrying user.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext extracts the authenticated user, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*User)
	return user, ok && user != nil
}

// ActorID returns the acting user's ID or SystemUserID.
func ActorID(ctx context.Context) string {
	if user, ok := UserFromContext(ctx); ok {
		return user.ID
	}
	return SystemUserID
}

// CanAccessCongregation reports whether the user in ctx may see data of the
// given congregation. Requests without a user are trusted.
func CanAccessCongregation(ctx context.Context, congregationID string) bool {
	user, ok := UserFromContext(ctx)
	if !ok {
		return true
	}
	return user.Role.CanViewAllCongregations() || user.CongregationID == congregationID
}

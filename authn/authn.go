// Package authn holds the identity types and error taxonomy shared by the
// session and service-token authenticators.
package authn

import (
	"context"
	"errors"
)

var (
	// ErrUnauthenticated covers every missing or invalid credential, session
	// or token. Callers surface it as a generic "unauthorized".
	ErrUnauthenticated = errors.New("unauthorized")
	// ErrForbidden indicates a valid identity without the required role.
	ErrForbidden = errors.New("forbidden")
)

// Role is the closed set of roles an identity claim may carry.
type Role string

const (
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role. Unknown roles never authorize.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin:
		return true
	default:
		return false
	}
}

// Identity is an authenticated human operator.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the administrator role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// ScopeKind distinguishes the resources a service token may be bound to.
type ScopeKind string

const (
	ScopeEnvironment ScopeKind = "environment"
	ScopeProject     ScopeKind = "project"
)

// Valid reports whether k is a known scope kind.
func (k ScopeKind) Valid() bool {
	return k == ScopeEnvironment || k == ScopeProject
}

// ScopeBinding is what a validated service token resolves to. It never
// carries the token itself.
type ScopeBinding struct {
	TokenID       string `json:"tokenId"`
	EnvironmentID string `json:"environmentId,omitempty"`
	ProjectID     string `json:"projectId"`
}

type contextKey int

const (
	identityKey contextKey = iota
	scopeKey
)

// ContextWithIdentity returns a copy of ctx carrying id.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the operator identity attached by the session
// middleware, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// ContextWithScope returns a copy of ctx carrying the token's scope binding.
func ContextWithScope(ctx context.Context, b ScopeBinding) context.Context {
	return context.WithValue(ctx, scopeKey, b)
}

// ScopeFromContext returns the scope binding attached by the bearer-token
// middleware, if any.
func ScopeFromContext(ctx context.Context) (ScopeBinding, bool) {
	b, ok := ctx.Value(scopeKey).(ScopeBinding)
	return b, ok
}

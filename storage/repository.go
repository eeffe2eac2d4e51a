// Package storage defines the narrow repository the authenticators use to
// persist service tokens and resolve the scopes they are bound to.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/togglehq/gatehouse/authn"
)

var (
	// ErrNotFound is returned when a token or scope does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when inserting a token whose ID or hash is
	// already present.
	ErrConflict = errors.New("conflict")
)

// TokenRecord is the persisted form of a service token. The plaintext is
// never stored.
type TokenRecord struct {
	ID        string     `json:"id"`
	ScopeID   string     `json:"scope_id"`
	Name      string     `json:"name,omitempty"`
	Prefix    string     `json:"prefix"`
	TokenHash string     `json:"token_hash"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the token has been soft-revoked.
func (t *TokenRecord) Revoked() bool {
	return t.RevokedAt != nil
}

// Clone returns a deep copy of t.
func (t *TokenRecord) Clone() *TokenRecord {
	if t == nil {
		return nil
	}
	cp := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		cp.RevokedAt = &at
	}
	return &cp
}

// Scope is an environment or a project a token may be bound to. For a
// project, ProjectID equals ID.
type Scope struct {
	ID        string          `json:"id"`
	Kind      authn.ScopeKind `json:"kind"`
	ProjectID string          `json:"project_id"`
}

// Repository is the subset of the application store the authenticators
// need. Implementations must not cache positive token lookups.
type Repository interface {
	FindTokenByHash(ctx context.Context, hash string) (*TokenRecord, error)
	FindScopeByID(ctx context.Context, id string) (*Scope, error)
	InsertToken(ctx context.Context, t *TokenRecord) error
	RevokeToken(ctx context.Context, id string, at time.Time) error
	DeleteToken(ctx context.Context, id string) error
	ListTokens(ctx context.Context, scopeID string) ([]TokenRecord, error)
	PutScope(ctx context.Context, s *Scope) error
}

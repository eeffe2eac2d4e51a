// Package token issues and authenticates scoped service tokens used by
// SDK clients.
//
// A token is "gh_st_" followed by 32 random bytes in unpadded base64url.
// Only its SHA-256 digest is persisted. Tokens are high-entropy and never
// chosen by a person, so a fast digest is sufficient.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/internal/util"
	"github.com/togglehq/gatehouse/internal/uuid"
	"github.com/togglehq/gatehouse/storage"
)

const (
	// Prefix marks every service token. Bearer values without it are
	// rejected before any store lookup.
	Prefix = "gh_st_"

	secretBytes = 32
	// displayLen is how much of the plaintext is kept for identification.
	displayLen = len(Prefix) + 6

	maxNameLen = 128
)

// RevokeMode selects how Revoke removes a token.
type RevokeMode int

const (
	// RevokeSoft records a revocation timestamp and keeps the record.
	RevokeSoft RevokeMode = iota
	// RevokeHard deletes the record.
	RevokeHard
)

// ErrInvalidName is returned by Issue for an over-long name.
var ErrInvalidName = errors.New("token name too long")

// Issued is returned once, at issuance. Plaintext is not recoverable later.
type Issued struct {
	ID        string    `json:"id"`
	ScopeID   string    `json:"scopeId"`
	Name      string    `json:"name,omitempty"`
	Prefix    string    `json:"prefix"`
	Plaintext string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary describes a stored token without its plaintext or hash.
type Summary struct {
	ID        string     `json:"id"`
	ScopeID   string     `json:"scopeId"`
	Name      string     `json:"name,omitempty"`
	Prefix    string     `json:"prefix"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Service issues, authenticates, revokes and lists service tokens.
type Service struct {
	repo   storage.Repository
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService returns a Service backed by repo.
func NewService(repo storage.Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	s.logger = s.logger.With("component", "token")
	return s
}

// Hash returns the persisted digest of a plaintext token.
func Hash(plaintext string) string {
	return util.SHA256Hex(plaintext)
}

// Issue mints a token bound to scopeID. The scope must exist.
func (s *Service) Issue(ctx context.Context, scopeID, name string) (Issued, error) {
	name = strings.TrimSpace(name)
	if len(name) > maxNameLen {
		return Issued{}, ErrInvalidName
	}
	if _, err := s.repo.FindScopeByID(ctx, scopeID); err != nil {
		return Issued{}, fmt.Errorf("resolving scope %s: %w", scopeID, err)
	}

	secret, err := util.RandomURLToken(secretBytes)
	if err != nil {
		return Issued{}, err
	}
	plaintext := Prefix + secret
	rec := &storage.TokenRecord{
		ID:        uuid.New(),
		ScopeID:   scopeID,
		Name:      name,
		Prefix:    plaintext[:displayLen],
		TokenHash: Hash(plaintext),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertToken(ctx, rec); err != nil {
		return Issued{}, fmt.Errorf("storing token: %w", err)
	}
	s.logger.Info("service token issued", "token_id", rec.ID, "scope_id", scopeID)

	return Issued{
		ID:        rec.ID,
		ScopeID:   rec.ScopeID,
		Name:      rec.Name,
		Prefix:    rec.Prefix,
		Plaintext: plaintext,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// ParseBearer extracts the token from an Authorization header value. It
// reports false for a wrong scheme, an empty token, or a token without
// Prefix.
func ParseBearer(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	if len(tok) <= len(Prefix) || !strings.HasPrefix(tok, Prefix) || strings.ContainsAny(tok, " \t") {
		return "", false
	}
	return tok, true
}

// Authenticate resolves an Authorization header to the token's scope.
// Every failure is authn.ErrUnauthenticated, except store errors other
// than not-found, which are returned wrapped. Each call queries the store.
func (s *Service) Authenticate(ctx context.Context, header string) (authn.ScopeBinding, error) {
	tok, ok := ParseBearer(header)
	if !ok {
		return authn.ScopeBinding{}, authn.ErrUnauthenticated
	}

	rec, err := s.repo.FindTokenByHash(ctx, Hash(tok))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return authn.ScopeBinding{}, authn.ErrUnauthenticated
		}
		return authn.ScopeBinding{}, fmt.Errorf("looking up token: %w", err)
	}
	if rec.Revoked() {
		return authn.ScopeBinding{}, authn.ErrUnauthenticated
	}

	scope, err := s.repo.FindScopeByID(ctx, rec.ScopeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The scope was removed after issuance.
			return authn.ScopeBinding{}, authn.ErrUnauthenticated
		}
		return authn.ScopeBinding{}, fmt.Errorf("resolving token scope: %w", err)
	}
	return bind(rec.ID, scope), nil
}

func bind(tokenID string, scope *storage.Scope) authn.ScopeBinding {
	b := authn.ScopeBinding{TokenID: tokenID, ProjectID: scope.ProjectID}
	if scope.Kind == authn.ScopeEnvironment {
		b.EnvironmentID = scope.ID
	}
	return b
}

// Revoke removes token id. It returns storage.ErrNotFound when the token
// does not exist. Soft-revoking an already revoked token succeeds.
func (s *Service) Revoke(ctx context.Context, id string, mode RevokeMode) error {
	var err error
	switch mode {
	case RevokeHard:
		err = s.repo.DeleteToken(ctx, id)
	default:
		err = s.repo.RevokeToken(ctx, id, s.now().UTC())
	}
	if err != nil {
		return fmt.Errorf("revoking token %s: %w", id, err)
	}
	s.logger.Info("service token revoked", "token_id", id, "hard", mode == RevokeHard)
	return nil
}

// List returns the tokens bound to scopeID, oldest first.
func (s *Service) List(ctx context.Context, scopeID string) ([]Summary, error) {
	recs, err := s.repo.ListTokens(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	out := make([]Summary, 0, len(recs))
	for _, r := range recs {
		out = append(out, Summary{
			ID:        r.ID,
			ScopeID:   r.ScopeID,
			Name:      r.Name,
			Prefix:    r.Prefix,
			CreatedAt: r.CreatedAt,
			RevokedAt: r.RevokedAt,
		})
	}
	return out, nil
}

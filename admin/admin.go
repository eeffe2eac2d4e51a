// Package admin resolves the single administrator identity of a deployment
// from configuration and checks login credentials against it.
package admin

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/credential"
	"github.com/togglehq/gatehouse/internal/config"
)

const (
	// UserID is the fixed subject of the administrator identity.
	UserID = "admin"

	DefaultEmail    = "admin@localhost"
	DefaultPassword = "admin"
)

// Credential is the configured secret for the administrator. When Hash is
// set it takes precedence over Password.
type Credential struct {
	Hash     string
	Password string
}

func (c Credential) stored() string {
	if c.Hash != "" {
		return c.Hash
	}
	return c.Password
}

// Resolver reads the administrator identity from configuration. It is safe
// for concurrent use.
type Resolver struct {
	cfg    config.Config
	hasher *credential.Hasher
	logger *slog.Logger
	warn   sync.Once
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for the default-credentials warning.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithHasher sets the hasher used to verify login passwords.
func WithHasher(h *credential.Hasher) Option {
	return func(r *Resolver) {
		r.hasher = h
	}
}

// NewResolver returns a Resolver over cfg. In production mode it fails
// immediately when the administrator is not fully configured.
func NewResolver(cfg config.Config, opts ...Option) (*Resolver, error) {
	r := &Resolver{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	r.logger = r.logger.With("component", "admin")
	if r.hasher == nil {
		r.hasher = credential.NewHasher()
	}
	_, cred, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	if cfg.Production && !credential.IsHashed(cred.stored()) {
		r.logger.Warn("administrator password is configured in plaintext", "hint", "use gatehouse hash-password")
	}
	return r, nil
}

// Resolve returns the administrator identity and its credential. Outside
// production, unset values fall back to DefaultEmail and DefaultPassword
// and a warning is logged the first time this happens.
func (r *Resolver) Resolve() (authn.Identity, Credential, error) {
	email := r.cfg.AdminEmail
	cred := Credential{Hash: r.cfg.AdminPasswordHash, Password: r.cfg.AdminPassword}

	if r.cfg.Production {
		if email == "" {
			return authn.Identity{}, Credential{}, &config.Error{Key: config.EnvAdminEmail, Msg: "required in production"}
		}
		if cred.stored() == "" {
			return authn.Identity{}, Credential{}, &config.Error{
				Key: config.EnvAdminPasswordHash,
				Msg: "either " + config.EnvAdminPasswordHash + " or " + config.EnvAdminPassword + " is required in production",
			}
		}
	} else if email == "" || cred.stored() == "" {
		if email == "" {
			email = DefaultEmail
		}
		if cred.stored() == "" {
			cred.Password = DefaultPassword
		}
		r.warn.Do(func() {
			r.logger.Warn("administrator credentials not configured, using development defaults",
				"email", email,
				"hint", "set "+config.EnvAdminEmail+" and "+config.EnvAdminPasswordHash,
			)
		})
	}

	return authn.Identity{UserID: UserID, Email: email, Role: authn.RoleAdmin}, cred, nil
}

// VerifyCredentials checks email and password against the configured
// administrator. The email must match exactly. The returned error is
// non-nil only for configuration problems or when ctx ends while waiting
// for a hashing slot; a mismatch is reported through ok.
func (r *Resolver) VerifyCredentials(ctx context.Context, email, password string) (authn.Identity, bool, error) {
	id, cred, err := r.Resolve()
	if err != nil {
		return authn.Identity{}, false, err
	}
	if email != id.Email {
		return authn.Identity{}, false, nil
	}
	ok, err := r.hasher.Verify(ctx, password, cred.stored())
	if err != nil || !ok {
		return authn.Identity{}, false, err
	}
	return id, true, nil
}

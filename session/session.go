// Package session issues and validates the administrator session cookie.
//
// The cookie value is a compact JWE (direct encryption, A256GCM) carrying
// the subject and role claims. There is no server-side session table: a
// session ends when the cookie expires, the client discards it, or the
// configured secret changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/awnumar/memguard"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/internal/config"
	"github.com/togglehq/gatehouse/internal/util"
	"github.com/togglehq/gatehouse/ratelimit"
)

const (
	CookieName = "gatehouse_session"

	// MinSecretLen is the shortest secret accepted in production.
	MinSecretLen = 32

	keyInfo = "gatehouse/session/v1"
)

// ErrRateLimited is returned by Login when the limiter rejects the attempt.
var ErrRateLimited = errors.New("too many login attempts")

// LimitError carries the limiter's retry hint. It matches ErrRateLimited
// under errors.Is.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string { return ErrRateLimited.Error() }
func (e *LimitError) Unwrap() error { return ErrRateLimited }

// Claims is the sealed cookie payload.
type Claims struct {
	jwt.Claims
	Role authn.Role `json:"role"`
}

// CredentialVerifier checks login credentials. *admin.Resolver satisfies it.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (authn.Identity, bool, error)
}

// Authenticator issues and validates session cookies.
type Authenticator struct {
	verifier CredentialVerifier
	limiter  ratelimit.Limiter
	key      *memguard.Enclave
	ttl      time.Duration
	secure   bool
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// New builds an Authenticator from cfg. In production a missing or short
// SessionSecret is a *config.Error. Outside production a missing secret is
// replaced by a random one, so sessions do not survive a restart.
func New(cfg config.Config, verifier CredentialVerifier, limiter ratelimit.Limiter, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{
		verifier: verifier,
		limiter:  limiter,
		ttl:      cfg.SessionTTL,
		secure:   cfg.Production,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.logger = a.logger.With("component", "session")
	if a.ttl <= 0 {
		a.ttl = 7 * 24 * time.Hour
	}

	secret := []byte(cfg.SessionSecret)
	switch {
	case cfg.Production && len(secret) == 0:
		return nil, &config.Error{Key: config.EnvSessionSecret, Msg: "required in production"}
	case cfg.Production && len(secret) < MinSecretLen:
		return nil, &config.Error{Key: config.EnvSessionSecret, Msg: fmt.Sprintf("must be at least %d characters", MinSecretLen)}
	case len(secret) == 0:
		random, err := util.RandomBytes(32)
		if err != nil {
			return nil, err
		}
		secret = random
		a.logger.Warn("session secret not configured, using an ephemeral key", "hint", "set "+config.EnvSessionSecret)
	}

	key, err := util.HKDF(secret, nil, []byte(keyInfo))
	if err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	a.key = memguard.NewEnclave(key)
	return a, nil
}

// Login checks the limiter for limitKey, then the credentials. A rejected
// attempt never reaches the credential check. Bad credentials yield
// authn.ErrUnauthenticated whether the email or the password was wrong.
func (a *Authenticator) Login(ctx context.Context, limitKey, email, password string) (authn.Identity, *http.Cookie, error) {
	d, err := a.limiter.Allow(ctx, limitKey)
	if err != nil {
		return authn.Identity{}, nil, fmt.Errorf("checking login limiter: %w", err)
	}
	if !d.Allowed {
		return authn.Identity{}, nil, &LimitError{RetryAfter: d.RetryAfter}
	}

	id, ok, err := a.verifier.VerifyCredentials(ctx, email, password)
	if err != nil {
		return authn.Identity{}, nil, err
	}
	if !ok {
		return authn.Identity{}, nil, authn.ErrUnauthenticated
	}

	now := a.now()
	exp := now.Add(a.ttl)
	value, err := a.seal(Claims{
		Claims: jwt.Claims{
			Subject:  id.UserID,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(exp),
		},
		Role: id.Role,
	})
	if err != nil {
		return authn.Identity{}, nil, err
	}
	return id, a.cookie(value, exp), nil
}

// Authenticate validates the session cookie on r.
func (a *Authenticator) Authenticate(r *http.Request) (authn.Identity, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return authn.Identity{}, authn.ErrUnauthenticated
	}
	return a.AuthenticateValue(c.Value)
}

// AuthenticateValue validates a raw cookie value. Anything that does not
// decrypt, has expired, or lacks a claim is authn.ErrUnauthenticated. A
// valid session whose role is not admin is authn.ErrForbidden.
func (a *Authenticator) AuthenticateValue(value string) (authn.Identity, error) {
	if value == "" {
		return authn.Identity{}, authn.ErrUnauthenticated
	}
	claims, err := a.open(value)
	if err != nil {
		a.logger.Debug("rejecting session cookie", "error", err)
		return authn.Identity{}, authn.ErrUnauthenticated
	}
	if claims.Subject == "" || claims.Role == "" || claims.Expiry == nil {
		return authn.Identity{}, authn.ErrUnauthenticated
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Time: a.now()}, 0); err != nil {
		return authn.Identity{}, authn.ErrUnauthenticated
	}
	if !claims.Role.Valid() || claims.Role != authn.RoleAdmin {
		return authn.Identity{}, authn.ErrForbidden
	}
	return authn.Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// Logout writes an expired session cookie. It is safe to call without a
// session.
func (a *Authenticator) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func (a *Authenticator) cookie(value string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  exp,
		MaxAge:   int(a.ttl.Seconds()),
	}
}

func (a *Authenticator) seal(c Claims) (string, error) {
	buf, err := a.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening session key: %w", err)
	}
	defer buf.Destroy()

	enc, err := jose.NewEncrypter(jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: buf.Bytes()},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating session encrypter: %w", err)
	}
	value, err := jwt.Encrypted(enc).Claims(c).Serialize()
	if err != nil {
		return "", fmt.Errorf("sealing session: %w", err)
	}
	return value, nil
}

func (a *Authenticator) open(value string) (Claims, error) {
	tok, err := jwt.ParseEncrypted(value,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return Claims{}, err
	}
	buf, err := a.key.Open()
	if err != nil {
		return Claims{}, fmt.Errorf("opening session key: %w", err)
	}
	defer buf.Destroy()

	var c Claims
	if err := tok.Claims(buf.Bytes(), &c); err != nil {
		return Claims{}, err
	}
	return c, nil
}

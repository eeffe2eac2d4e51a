package admin

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/credential"
	"github.com/togglehq/gatehouse/internal/config"
	"github.com/togglehq/gatehouse/internal/util"
)

func fastHasher() *credential.Hasher {
	return credential.NewHasher(credential.WithParams(util.Argon2idParams{
		Time: 1, MemoryKiB: util.MinArgon2MemoryKiB, Parallelism: 1, KeyLen: 32,
	}))
}

// syncBuffer guards a bytes.Buffer for loggers shared across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestResolver(t *testing.T, cfg config.Config) (*Resolver, *syncBuffer) {
	t.Helper()
	var logs syncBuffer
	r, err := NewResolver(cfg,
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
		WithHasher(fastHasher()),
	)
	require.NoError(t, err)
	return r, &logs
}

func TestResolveDevelopmentDefaults(t *testing.T) {
	r, logs := newTestResolver(t, config.Config{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, cred, err := r.Resolve()
			assert.NoError(t, err)
			assert.Equal(t, DefaultEmail, id.Email)
			assert.Equal(t, DefaultPassword, cred.Password)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, strings.Count(logs.String(), "development defaults"))
	assert.Contains(t, logs.String(), `"component":"admin"`)
}

func TestResolveWarnsPerResolver(t *testing.T) {
	_, first := newTestResolver(t, config.Config{})
	_, second := newTestResolver(t, config.Config{})
	assert.Equal(t, 1, strings.Count(first.String(), "development defaults"))
	assert.Equal(t, 1, strings.Count(second.String(), "development defaults"))
}

func TestResolveConfiguredDoesNotWarn(t *testing.T) {
	r, logs := newTestResolver(t, config.Config{AdminEmail: "ops@example.com", AdminPassword: "pw"})
	id, cred, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, authn.Identity{UserID: UserID, Email: "ops@example.com", Role: authn.RoleAdmin}, id)
	assert.Equal(t, "pw", cred.Password)
	assert.Empty(t, logs.String())
}

func TestResolvePartialDevelopmentConfig(t *testing.T) {
	r, logs := newTestResolver(t, config.Config{AdminEmail: "ops@example.com"})
	id, cred, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", id.Email)
	assert.Equal(t, DefaultPassword, cred.Password)
	assert.Contains(t, logs.String(), "development defaults")
}

func TestResolveProductionFailsFast(t *testing.T) {
	cases := map[string]config.Config{
		"NothingSet":    {Production: true},
		"MissingEmail":  {Production: true, AdminPasswordHash: "argon2id:x:y"},
		"MissingSecret": {Production: true, AdminEmail: "ops@example.com"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewResolver(cfg)
			require.Error(t, err)
			assert.True(t, config.IsConfigError(err))
		})
	}
}

func TestResolveProductionConfigured(t *testing.T) {
	hash, err := fastHasher().Hash(context.Background(), "s3cret", nil)
	require.NoError(t, err)

	r, logs := newTestResolver(t, config.Config{Production: true, AdminEmail: "ops@example.com", AdminPasswordHash: hash})
	_, cred, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, hash, cred.Hash)
	assert.Empty(t, logs.String())
}

func TestVerifyCredentials(t *testing.T) {
	ctx := context.Background()
	hash, err := fastHasher().Hash(ctx, "hashed-pw", nil)
	require.NoError(t, err)

	t.Run("Plaintext", func(t *testing.T) {
		r, _ := newTestResolver(t, config.Config{AdminEmail: "ops@example.com", AdminPassword: "plain-pw"})

		id, ok, err := r.VerifyCredentials(ctx, "ops@example.com", "plain-pw")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, authn.RoleAdmin, id.Role)

		_, ok, err = r.VerifyCredentials(ctx, "ops@example.com", "wrong")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("EmailIsCaseSensitive", func(t *testing.T) {
		r, _ := newTestResolver(t, config.Config{AdminEmail: "ops@example.com", AdminPassword: "plain-pw"})
		_, ok, err := r.VerifyCredentials(ctx, "OPS@example.com", "plain-pw")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("HashTakesPrecedence", func(t *testing.T) {
		r, _ := newTestResolver(t, config.Config{
			AdminEmail:        "ops@example.com",
			AdminPassword:     "plain-pw",
			AdminPasswordHash: hash,
		})

		_, ok, err := r.VerifyCredentials(ctx, "ops@example.com", "hashed-pw")
		require.NoError(t, err)
		assert.True(t, ok)

		_, ok, err = r.VerifyCredentials(ctx, "ops@example.com", "plain-pw")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DevelopmentDefaults", func(t *testing.T) {
		r, _ := newTestResolver(t, config.Config{})
		_, ok, err := r.VerifyCredentials(ctx, DefaultEmail, DefaultPassword)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

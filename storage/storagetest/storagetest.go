// Package storagetest holds the behavioural suite every storage.Repository
// implementation must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/storage"
)

// Run exercises repo. newRepo must return an empty repository each call.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Run("Scopes", func(t *testing.T) { testScopes(t, newRepo(t)) })
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newRepo(t)) })
	t.Run("Conflicts", func(t *testing.T) { testConflicts(t, newRepo(t)) })
	t.Run("Revoke", func(t *testing.T) { testRevoke(t, newRepo(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newRepo(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, newRepo(t)) })
}

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func token(id, scopeID string, offset time.Duration) *storage.TokenRecord {
	return &storage.TokenRecord{
		ID:        id,
		ScopeID:   scopeID,
		Name:      "name-" + id,
		Prefix:    "gh_st_" + id,
		TokenHash: "hash-" + id,
		CreatedAt: base.Add(offset),
	}
}

func seedScope(t *testing.T, repo storage.Repository, id string) {
	t.Helper()
	require.NoError(t, repo.PutScope(context.Background(), &storage.Scope{
		ID: id, Kind: authn.ScopeEnvironment, ProjectID: "proj-" + id,
	}))
}

func testScopes(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	_, err := repo.FindScopeByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	env := &storage.Scope{ID: "env-1", Kind: authn.ScopeEnvironment, ProjectID: "proj-1"}
	proj := &storage.Scope{ID: "proj-1", Kind: authn.ScopeProject, ProjectID: "proj-1"}
	require.NoError(t, repo.PutScope(ctx, env))
	require.NoError(t, repo.PutScope(ctx, proj))

	got, err := repo.FindScopeByID(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, *env, *got)

	got, err = repo.FindScopeByID(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, *proj, *got)

	// PutScope replaces.
	env.ProjectID = "proj-2"
	require.NoError(t, repo.PutScope(ctx, env))
	got, err = repo.FindScopeByID(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-2", got.ProjectID)
}

func testInsertAndFind(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedScope(t, repo, "env-1")

	_, err := repo.FindTokenByHash(ctx, "hash-t1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec := token("t1", "env-1", 0)
	require.NoError(t, repo.InsertToken(ctx, rec))

	got, err := repo.FindTokenByHash(ctx, "hash-t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "env-1", got.ScopeID)
	assert.Equal(t, "name-t1", got.Name)
	assert.Equal(t, "gh_st_t1", got.Prefix)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.RevokedAt)

	// Mutating the returned record must not affect the store.
	got.ScopeID = "other"
	again, err := repo.FindTokenByHash(ctx, "hash-t1")
	require.NoError(t, err)
	assert.Equal(t, "env-1", again.ScopeID)
}

func testConflicts(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedScope(t, repo, "env-1")
	require.NoError(t, repo.InsertToken(ctx, token("t1", "env-1", 0)))

	dupID := token("t1", "env-1", time.Second)
	assert.ErrorIs(t, repo.InsertToken(ctx, dupID), storage.ErrConflict)

	dupHash := token("t2", "env-1", time.Second)
	dupHash.TokenHash = "hash-t1"
	assert.ErrorIs(t, repo.InsertToken(ctx, dupHash), storage.ErrConflict)
}

func testRevoke(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedScope(t, repo, "env-1")
	require.NoError(t, repo.InsertToken(ctx, token("t1", "env-1", 0)))

	assert.ErrorIs(t, repo.RevokeToken(ctx, "missing", base), storage.ErrNotFound)

	at := base.Add(time.Hour)
	require.NoError(t, repo.RevokeToken(ctx, "t1", at))
	got, err := repo.FindTokenByHash(ctx, "hash-t1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, at.Equal(*got.RevokedAt))
	assert.True(t, got.Revoked())

	// Revoking again keeps the first timestamp.
	require.NoError(t, repo.RevokeToken(ctx, "t1", at.Add(time.Hour)))
	got, err = repo.FindTokenByHash(ctx, "hash-t1")
	require.NoError(t, err)
	assert.True(t, at.Equal(*got.RevokedAt))
}

func testDelete(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedScope(t, repo, "env-1")
	require.NoError(t, repo.InsertToken(ctx, token("t1", "env-1", 0)))

	require.NoError(t, repo.DeleteToken(ctx, "t1"))
	_, err := repo.FindTokenByHash(ctx, "hash-t1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteToken(ctx, "t1"), storage.ErrNotFound)

	// The hash is free again after a hard delete.
	require.NoError(t, repo.InsertToken(ctx, token("t1", "env-1", 0)))
}

func testList(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedScope(t, repo, "env-1")
	seedScope(t, repo, "env-2")

	empty, err := repo.ListTokens(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.InsertToken(ctx, token("b", "env-1", 2*time.Second)))
	require.NoError(t, repo.InsertToken(ctx, token("a", "env-1", time.Second)))
	require.NoError(t, repo.InsertToken(ctx, token("c", "env-2", 0)))
	require.NoError(t, repo.RevokeToken(ctx, "b", base.Add(time.Minute)))

	list, err := repo.ListTokens(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Nil(t, list[0].RevokedAt)
	assert.NotNil(t, list[1].RevokedAt)
}

func testConcurrent(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedScope(t, repo, "env-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%02d", i)
			assert.NoError(t, repo.InsertToken(ctx, token(id, "env-1", time.Duration(i)*time.Second)))
			_, err := repo.FindTokenByHash(ctx, "hash-"+id)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list, err := repo.ListTokens(ctx, "env-1")
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/togglehq/gatehouse/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu     sync.RWMutex
	tokens map[string]*storage.TokenRecord
	byHash map[string]string
	scopes map[string]storage.Scope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		tokens: make(map[string]*storage.TokenRecord),
		byHash: make(map[string]string),
		scopes: make(map[string]storage.Scope),
	}
}

func (r *Repository) FindTokenByHash(_ context.Context, hash string) (*storage.TokenRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.tokens[id].Clone(), nil
}

func (r *Repository) FindScopeByID(_ context.Context, id string) (*storage.Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scopes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &s, nil
}

func (r *Repository) InsertToken(_ context.Context, t *storage.TokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[t.ID]; ok {
		return storage.ErrConflict
	}
	if _, ok := r.byHash[t.TokenHash]; ok {
		return storage.ErrConflict
	}
	r.tokens[t.ID] = t.Clone()
	r.byHash[t.TokenHash] = t.ID
	return nil
}

func (r *Repository) RevokeToken(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	if t.RevokedAt == nil {
		at = at.UTC()
		t.RevokedAt = &at
	}
	return nil
}

func (r *Repository) DeleteToken(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(r.byHash, t.TokenHash)
	delete(r.tokens, id)
	return nil
}

func (r *Repository) ListTokens(_ context.Context, scopeID string) ([]storage.TokenRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []storage.TokenRecord{}
	for _, t := range r.tokens {
		if t.ScopeID == scopeID {
			out = append(out, *t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Repository) PutScope(_ context.Context, s *storage.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes[s.ID] = *s
	return nil
}

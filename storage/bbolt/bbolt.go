// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/togglehq/gatehouse/storage"
)

var (
	bucketTokens      = []byte("tokens")
	bucketTokenHashes = []byte("token_hashes")
	bucketScopes      = []byte("scopes")
	// bucketScopeTokens indexes token IDs by scope: key "<scopeID>\x00<tokenID>".
	bucketScopeTokens = []byte("scope_tokens")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database,
// creating its buckets if needed.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketTokens, bucketTokenHashes, bucketScopes, bucketScopeTokens} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scopeIndexKey(scopeID, tokenID string) []byte {
	return []byte(scopeID + "\x00" + tokenID)
}

func getToken(tx *bbolt.Tx, id string) (*storage.TokenRecord, error) {
	data := tx.Bucket(bucketTokens).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("token %s: %w", id, storage.ErrNotFound)
	}
	var rec storage.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding token %s: %w", id, err)
	}
	return &rec, nil
}

func putToken(tx *bbolt.Tx, rec *storage.TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTokens).Put([]byte(rec.ID), data)
}

func (s *Store) FindTokenByHash(_ context.Context, hash string) (*storage.TokenRecord, error) {
	var rec *storage.TokenRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketTokenHashes).Get([]byte(hash))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		rec, err = getToken(tx, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) FindScopeByID(_ context.Context, id string) (*storage.Scope, error) {
	var scope storage.Scope
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketScopes).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("scope %s: %w", id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &scope)
	})
	if err != nil {
		return nil, err
	}
	return &scope, nil
}

func (s *Store) InsertToken(_ context.Context, rec *storage.TokenRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketTokens).Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("token %s: %w", rec.ID, storage.ErrConflict)
		}
		hashes := tx.Bucket(bucketTokenHashes)
		if hashes.Get([]byte(rec.TokenHash)) != nil {
			return fmt.Errorf("token hash: %w", storage.ErrConflict)
		}
		if err := putToken(tx, rec); err != nil {
			return err
		}
		if err := hashes.Put([]byte(rec.TokenHash), []byte(rec.ID)); err != nil {
			return err
		}
		return tx.Bucket(bucketScopeTokens).Put(scopeIndexKey(rec.ScopeID, rec.ID), nil)
	})
}

func (s *Store) RevokeToken(_ context.Context, id string, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		rec, err := getToken(tx, id)
		if err != nil {
			return err
		}
		if rec.RevokedAt != nil {
			return nil
		}
		at = at.UTC()
		rec.RevokedAt = &at
		return putToken(tx, rec)
	})
}

func (s *Store) DeleteToken(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		rec, err := getToken(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTokenHashes).Delete([]byte(rec.TokenHash)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketScopeTokens).Delete(scopeIndexKey(rec.ScopeID, rec.ID)); err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Delete([]byte(id))
	})
}

func (s *Store) ListTokens(_ context.Context, scopeID string) ([]storage.TokenRecord, error) {
	out := []storage.TokenRecord{}
	prefix := []byte(scopeID + "\x00")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketScopeTokens).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			rec, err := getToken(tx, string(k[len(prefix):]))
			if err != nil {
				return err
			}
			out = append(out, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) PutScope(_ context.Context, scope *storage.Scope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(scope)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketScopes).Put([]byte(scope.ID), data)
	})
}

// Package sqlstore implements storage.Repository on PostgreSQL or SQLite
// through uptrace/bun.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/storage"
)

type tokenRow struct {
	bun.BaseModel `bun:"table:service_tokens,alias:st"`

	ID        string     `bun:"id,pk"`
	ScopeID   string     `bun:"scope_id,notnull"`
	Name      string     `bun:"name,notnull"`
	Prefix    string     `bun:"prefix,notnull"`
	TokenHash string     `bun:"token_hash,notnull,unique"`
	CreatedAt time.Time  `bun:"created_at,notnull"`
	RevokedAt *time.Time `bun:"revoked_at"`
}

func (r *tokenRow) record() storage.TokenRecord {
	rec := storage.TokenRecord{
		ID:        r.ID,
		ScopeID:   r.ScopeID,
		Name:      r.Name,
		Prefix:    r.Prefix,
		TokenHash: r.TokenHash,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.RevokedAt != nil {
		at := r.RevokedAt.UTC()
		rec.RevokedAt = &at
	}
	return rec
}

type scopeRow struct {
	bun.BaseModel `bun:"table:token_scopes,alias:sc"`

	ID        string `bun:"id,pk"`
	Kind      string `bun:"kind,notnull"`
	ProjectID string `bun:"project_id,notnull"`
}

// Store implements storage.Repository over a bun.DB.
type Store struct {
	db *bun.DB
}

var _ storage.Repository = (*Store)(nil)

// New returns a Store over db and creates its tables if absent.
func New(ctx context.Context, db *bun.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.createSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open connects to dsn and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema(ctx context.Context) error {
	for _, model := range []any{(*tokenRow)(nil), (*scopeRow)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, err := s.db.NewCreateIndex().
		Model((*tokenRow)(nil)).
		Index("service_tokens_scope_id_idx").
		Column("scope_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create scope index: %w", err)
	}
	return nil
}

func (s *Store) FindTokenByHash(ctx context.Context, hash string) (*storage.TokenRecord, error) {
	row := new(tokenRow)
	err := s.db.NewSelect().Model(row).Where("token_hash = ?", hash).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find token by hash: %w", err)
	}
	rec := row.record()
	return &rec, nil
}

func (s *Store) FindScopeByID(ctx context.Context, id string) (*storage.Scope, error) {
	row := new(scopeRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scope %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("find scope: %w", err)
	}
	return &storage.Scope{ID: row.ID, Kind: authn.ScopeKind(row.Kind), ProjectID: row.ProjectID}, nil
}

func (s *Store) InsertToken(ctx context.Context, t *storage.TokenRecord) error {
	row := &tokenRow{
		ID:        t.ID,
		ScopeID:   t.ScopeID,
		Name:      t.Name,
		Prefix:    t.Prefix,
		TokenHash: t.TokenHash,
		CreatedAt: t.CreatedAt.UTC(),
	}
	if t.RevokedAt != nil {
		at := t.RevokedAt.UTC()
		row.RevokedAt = &at
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("token %s: %w", t.ID, storage.ErrConflict)
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *Store) RevokeToken(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*tokenRow)(nil)).
		Set("revoked_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	exists, err := s.db.NewSelect().Model((*tokenRow)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if !exists {
		return fmt.Errorf("token %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().Model((*tokenRow)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("token %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListTokens(ctx context.Context, scopeID string) ([]storage.TokenRecord, error) {
	var rows []tokenRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("scope_id = ?", scopeID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	out := make([]storage.TokenRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].record())
	}
	return out, nil
}

func (s *Store) PutScope(ctx context.Context, sc *storage.Scope) error {
	row := &scopeRow{ID: sc.ID, Kind: string(sc.Kind), ProjectID: sc.ProjectID}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Set("project_id = EXCLUDED.project_id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put scope: %w", err)
	}
	return nil
}

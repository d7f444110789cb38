package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore backs persistent per-visitor state in ui_preferences.
type PostgresStore struct {
	pool rowQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("storage: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithExec(exec rowQuerier) *PostgresStore {
	if exec == nil {
		panic("storage: exec required")
	}
	return &PostgresStore{pool: exec}
}

func (s *PostgresStore) Get(ctx context.Context, owner, key string) (string, bool, error) {
	query := `SELECT value FROM ui_preferences WHERE owner_id = $1 AND key = $2`
	var value string
	if err := s.pool.QueryRow(ctx, query, owner, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: preference get: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, owner, key, value string) error {
	query := `
		INSERT INTO ui_preferences (owner_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, owner, key, value); err != nil {
		return fmt.Errorf("storage: preference set: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, owner, key string) error {
	query := `DELETE FROM ui_preferences WHERE owner_id = $1 AND key = $2`
	if _, err := s.pool.Exec(ctx, query, owner, key); err != nil {
		return fmt.Errorf("storage: preference delete: %w", err)
	}
	return nil
}

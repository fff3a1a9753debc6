// Package postgres is the storage.Repository used by the postgres backend.
// All records live in one terminguard_records table keyed by (namespace,
// record_type, record_id), the same key space as the other backends.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/terminguard/storage"
)

const (
	upsertRecord = `
INSERT INTO terminguard_records (namespace, record_type, record_id, ver, scheme, nonce, ciphertext)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (namespace, record_type, record_id)
DO UPDATE SET ver = EXCLUDED.ver, scheme = EXCLUDED.scheme, nonce = EXCLUDED.nonce,
              ciphertext = EXCLUDED.ciphertext, updated_at = now()`

	updateRecord = `
UPDATE terminguard_records
SET ver = $4, scheme = $5, nonce = $6, ciphertext = $7, updated_at = now()
WHERE namespace = $1 AND record_type = $2 AND record_id = $3`

	selectRecord = `
SELECT ver, scheme, nonce, ciphertext FROM terminguard_records
WHERE namespace = $1 AND record_type = $2 AND record_id = $3`

	selectRecordIDs = `
SELECT record_id FROM terminguard_records
WHERE namespace = $1 AND record_type = $2 ORDER BY record_id`

	deleteRecord = `
DELETE FROM terminguard_records
WHERE namespace = $1 AND record_type = $2 AND record_id = $3`
)

// Store implements storage.Repository on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository wraps an existing pool. The schema must already exist.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN connects, verifies the connection and ensures the
// schema exists.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func notFound(namespace, recordType, recordID string) error {
	return fmt.Errorf("%s/%s/%s: %w", namespace, recordType, recordID, storage.ErrNotFound)
}

func (s *Store) Put(ctx context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	_, err := s.pool.Exec(ctx, upsertRecord, namespace, recordType, recordID,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext)
	if err != nil {
		return fmt.Errorf("storing %s/%s: %w", recordType, recordID, err)
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	tag, err := s.pool.Exec(ctx, updateRecord, namespace, recordType, recordID,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext)
	if err != nil {
		return fmt.Errorf("replacing %s/%s: %w", recordType, recordID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(namespace, recordType, recordID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, namespace, recordType, recordID string) (*storage.Envelope, error) {
	var env storage.Envelope
	err := s.pool.QueryRow(ctx, selectRecord, namespace, recordType, recordID).
		Scan(&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, notFound(namespace, recordType, recordID)
	case err != nil:
		return nil, fmt.Errorf("loading %s/%s: %w", recordType, recordID, err)
	}
	return &env, nil
}

func (s *Store) List(ctx context.Context, namespace, recordType string) ([]string, error) {
	rows, err := s.pool.Query(ctx, selectRecordIDs, namespace, recordType)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", recordType, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Delete(ctx context.Context, namespace, recordType, recordID string) error {
	tag, err := s.pool.Exec(ctx, deleteRecord, namespace, recordType, recordID)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", recordType, recordID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(namespace, recordType, recordID)
	}
	return nil
}

// Package bbolt is the single-file storage.Repository used by the bolt
// backend.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/terminguard/storage"
)

// Store keeps every namespace in a top-level bucket with one nested bucket
// per record type, keyed by record id.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository wraps an open database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens (or creates) the database at path. A nil
// options value waits at most one second for the file lock so a second
// server on the same data directory fails fast.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bolt database %s: %w", path, err)
	}
	return NewRepository(db), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var errNoBucket = errors.New("no bucket")

// typeBucket returns the nested bucket for namespace/recordType or
// errNoBucket when either level is absent.
func typeBucket(tx *bbolt.Tx, namespace, recordType string) (*bbolt.Bucket, error) {
	ns := tx.Bucket([]byte(namespace))
	if ns == nil {
		return nil, errNoBucket
	}
	b := ns.Bucket([]byte(recordType))
	if b == nil {
		return nil, errNoBucket
	}
	return b, nil
}

func notFound(namespace, recordType, recordID string) error {
	return fmt.Errorf("%s/%s/%s: %w", namespace, recordType, recordID, storage.ErrNotFound)
}

func (s *Store) Put(_ context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		ns, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		b, err := ns.CreateBucketIfNotExists([]byte(recordType))
		if err != nil {
			return err
		}
		return b.Put([]byte(recordID), data)
	})
}

func (s *Store) Replace(_ context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := typeBucket(tx, namespace, recordType)
		if err != nil || b.Get([]byte(recordID)) == nil {
			return notFound(namespace, recordType, recordID)
		}
		return b.Put([]byte(recordID), data)
	})
}

func (s *Store) Get(_ context.Context, namespace, recordType, recordID string) (*storage.Envelope, error) {
	var env storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := typeBucket(tx, namespace, recordType)
		if err != nil {
			return notFound(namespace, recordType, recordID)
		}
		data := b.Get([]byte(recordID))
		if data == nil {
			return notFound(namespace, recordType, recordID)
		}
		return json.Unmarshal(data, &env)
	})
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// List returns the record ids in key order.
func (s *Store) List(_ context.Context, namespace, recordType string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := typeBucket(tx, namespace, recordType)
		if err != nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *Store) Delete(_ context.Context, namespace, recordType, recordID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := typeBucket(tx, namespace, recordType)
		if err != nil || b.Get([]byte(recordID)) == nil {
			return notFound(namespace, recordType, recordID)
		}
		return b.Delete([]byte(recordID))
	})
}

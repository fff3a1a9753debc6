// Package storage provides the record storage abstraction shared by the
// session store, the user store and the audit trail.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for namespaced record storage. Records are
// addressed by (namespace, recordType, recordID) and stored as Envelopes.
type Repository interface {
	Put(ctx context.Context, namespace, recordType, recordID string, envelope *Envelope) error
	// Replace overwrites an existing record and returns ErrNotFound, writing
	// nothing, when the record is absent.
	Replace(ctx context.Context, namespace, recordType, recordID string, envelope *Envelope) error
	Get(ctx context.Context, namespace, recordType, recordID string) (*Envelope, error)
	List(ctx context.Context, namespace, recordType string) ([]string, error)
	Delete(ctx context.Context, namespace, recordType, recordID string) error
}

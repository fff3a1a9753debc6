// Package memory is the process-local storage.Repository used for the
// memory storage backend and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmcleod/terminguard/storage"
)

type recordKey struct {
	namespace  string
	recordType string
	recordID   string
}

// Repository keeps envelopes in a map. Envelopes are copied on the way in
// and out so callers never share buffers with the store.
type Repository struct {
	mu      sync.RWMutex
	records map[recordKey]storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{records: make(map[recordKey]storage.Envelope)}
}

func copyEnvelope(env storage.Envelope) storage.Envelope {
	env.Nonce = append([]byte(nil), env.Nonce...)
	env.Ciphertext = append([]byte(nil), env.Ciphertext...)
	return env
}

func notFound(k recordKey) error {
	return fmt.Errorf("%s/%s/%s: %w", k.namespace, k.recordType, k.recordID, storage.ErrNotFound)
}

func (r *Repository) Put(_ context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	r.records[recordKey{namespace, recordType, recordID}] = copyEnvelope(*envelope)
	r.mu.Unlock()
	return nil
}

func (r *Repository) Replace(_ context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	k := recordKey{namespace, recordType, recordID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[k]; !ok {
		return notFound(k)
	}
	r.records[k] = copyEnvelope(*envelope)
	return nil
}

func (r *Repository) Get(_ context.Context, namespace, recordType, recordID string) (*storage.Envelope, error) {
	k := recordKey{namespace, recordType, recordID}
	r.mu.RLock()
	env, ok := r.records[k]
	r.mu.RUnlock()
	if !ok {
		return nil, notFound(k)
	}
	out := copyEnvelope(env)
	return &out, nil
}

func (r *Repository) List(_ context.Context, namespace, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for k := range r.records {
		if k.namespace == namespace && k.recordType == recordType {
			ids = append(ids, k.recordID)
		}
	}
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, namespace, recordType, recordID string) error {
	k := recordKey{namespace, recordType, recordID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[k]; !ok {
		return notFound(k)
	}
	delete(r.records, k)
	return nil
}

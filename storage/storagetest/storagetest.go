// Package storagetest holds the conformance suite every storage.Repository
// backend is expected to pass.
package storagetest

import (
	"bytes"
	"errors"
	"sort"
	"testing"

	"github.com/jmcleod/terminguard/storage"
)

// Run exercises repo with the common Put/Get/List/Delete contract. The
// namespace is used as given so backends sharing a server can isolate runs.
func Run(t *testing.T, repo storage.Repository, namespace string) {
	t.Helper()
	ctx := t.Context()
	env := &storage.Envelope{
		Ver:        1,
		Scheme:     storage.SchemeAESGCM,
		Nonce:      []byte("nonce1234567"),
		Ciphertext: []byte("ciphertext"),
	}

	t.Run("PutAndGet", func(t *testing.T) {
		if err := repo.Put(ctx, namespace, "SESSION", "id1", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ctx, namespace, "SESSION", "id1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Ver != env.Ver || got.Scheme != env.Scheme ||
			!bytes.Equal(got.Nonce, env.Nonce) || !bytes.Equal(got.Ciphertext, env.Ciphertext) {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, namespace+"-missing", "SESSION", "id1")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing namespace, got %v", err)
		}
		_, err = repo.Get(ctx, namespace, "SESSION", "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing record, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		updated := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Ciphertext: []byte(`{"v":2}`)}
		if err := repo.Put(ctx, namespace, "USER", "alice", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := repo.Put(ctx, namespace, "USER", "alice", updated); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ctx, namespace, "USER", "alice")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Scheme != storage.SchemePlainJSON || string(got.Ciphertext) != `{"v":2}` {
			t.Errorf("overwrite not applied: %+v", got)
		}
	})

	t.Run("Replace", func(t *testing.T) {
		replaced := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Ciphertext: []byte(`{"v":3}`)}
		if err := repo.Replace(ctx, namespace, "USER", "alice", replaced); err != nil {
			t.Fatalf("Replace failed: %v", err)
		}
		got, err := repo.Get(ctx, namespace, "USER", "alice")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Ciphertext) != `{"v":3}` {
			t.Errorf("replace not applied: %+v", got)
		}
	})

	t.Run("ReplaceMissing", func(t *testing.T) {
		err := repo.Replace(ctx, namespace, "USER", "nobody", env)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound replacing a missing record, got %v", err)
		}
		if _, err := repo.Get(ctx, namespace, "USER", "nobody"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Replace must not create a record, got %v", err)
		}
		err = repo.Replace(ctx, namespace+"-missing", "USER", "alice", env)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing namespace, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		if err := repo.Put(ctx, namespace, "SESSION", "id2", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ids, err := repo.List(ctx, namespace, "SESSION")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		sort.Strings(ids)
		if len(ids) != 2 || ids[0] != "id1" || ids[1] != "id2" {
			t.Errorf("expected [id1 id2], got %v", ids)
		}

		ids, err = repo.List(ctx, namespace+"-missing", "SESSION")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected no ids for missing namespace, got %v", ids)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, namespace, "SESSION", "id1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, namespace, "SESSION", "id1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, namespace, "SESSION", "id1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/terminguard/internal/util"
	"github.com/jmcleod/terminguard/storage"
)

const (
	sessionNamespace      = "__sessions"
	sessionRecordType     = "SESSION"
	sessionKeyType        = "SESSION_KEY"
	sessionKeyID          = "current"
	sessionAADPrefix      = "session:"
	sessionKeyWrappingAAD = "terminguard:session_master_key:v1"
)

// RepositoryStore stores sessions in a storage.Repository, encrypted at rest
// using AES-256-GCM. Sessions survive server restarts and, with a shared
// backend, are visible to every instance.
//
// The session encryption key is sealed with an externally provided wrapping
// key before being stored, so a repository compromise alone cannot recover
// session data. In memory the key lives in a memguard enclave.
type RepositoryStore struct {
	// mu serializes Update and Delete within this process. Across
	// instances, Update relies on Repository.Replace never recreating a
	// deleted record.
	mu   sync.Mutex
	repo storage.Repository
	key  *memguard.Enclave
	now  func() time.Time
}

var (
	_ Store   = (*RepositoryStore)(nil)
	_ Sweeper = (*RepositoryStore)(nil)
)

// NewRepositoryStore creates a session store backed by repo. wrappingKey
// must be 32 bytes; it is never written to the repository.
func NewRepositoryStore(ctx context.Context, repo storage.Repository, wrappingKey []byte) (*RepositoryStore, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", util.AESKeySize, len(wrappingKey))
	}
	key, err := loadOrCreateSessionKey(ctx, repo, wrappingKey)
	if err != nil {
		return nil, err
	}
	return &RepositoryStore{
		repo: repo,
		key:  memguard.NewEnclave(key),
		now:  time.Now,
	}, nil
}

func (s *RepositoryStore) open(id string, env *storage.Envelope) (*Session, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session key enclave: %w", err)
	}
	defer buf.Destroy()

	data, err := storage.OpenRecord(buf.Bytes(), env, []byte(sessionAADPrefix+id))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RepositoryStore) Get(ctx context.Context, id string) (*Session, error) {
	env, err := s.repo.Get(ctx, sessionNamespace, sessionRecordType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	sess, err := s.open(id, env)
	if err != nil {
		// Unreadable records (rotated wrapping key, tampering) are dropped.
		_ = s.repo.Delete(ctx, sessionNamespace, sessionRecordType, id)
		return nil, ErrNotFound
	}
	if s.now().After(sess.ExpiresAt) {
		_ = s.repo.Delete(ctx, sessionNamespace, sessionRecordType, id)
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *RepositoryStore) seal(sess *Session) (*storage.Envelope, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	defer util.WipeBytes(data)

	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session key enclave: %w", err)
	}
	defer buf.Destroy()

	env, err := storage.SealRecord(buf.Bytes(), data, []byte(sessionAADPrefix+sess.ID))
	if err != nil {
		return nil, fmt.Errorf("sealing session: %w", err)
	}
	return env, nil
}

func (s *RepositoryStore) Put(ctx context.Context, sess *Session) error {
	env, err := s.seal(sess)
	if err != nil {
		return err
	}
	if err := s.repo.Put(ctx, sessionNamespace, sessionRecordType, sess.ID, env); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}

func (s *RepositoryStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	sess.ID = id
	env, err := s.seal(sess)
	if err != nil {
		return nil, err
	}
	err = s.repo.Replace(ctx, sessionNamespace, sessionRecordType, id, env)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	return sess, nil
}

func (s *RepositoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.repo.Delete(ctx, sessionNamespace, sessionRecordType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Sweep removes expired and unreadable sessions from the repository.
func (s *RepositoryStore) Sweep(ctx context.Context) (int, error) {
	ids, err := s.repo.List(ctx, sessionNamespace, sessionRecordType)
	if err != nil {
		return 0, err
	}
	now := s.now()
	removed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		env, err := s.repo.Get(ctx, sessionNamespace, sessionRecordType, id)
		if err != nil {
			continue
		}
		sess, err := s.open(id, env)
		if err == nil && !now.After(sess.ExpiresAt) {
			continue
		}
		if err := s.repo.Delete(ctx, sessionNamespace, sessionRecordType, id); err == nil {
			removed++
		}
	}
	return removed, nil
}

// loadOrCreateSessionKey loads the session encryption key from storage,
// unsealing it with the wrapping key. If no key exists, or the wrapping key
// has changed, a new random key is generated, sealed and persisted. In the
// latter case all existing sessions become unreadable.
func loadOrCreateSessionKey(ctx context.Context, repo storage.Repository, wrappingKey []byte) ([]byte, error) {
	aad := []byte(sessionKeyWrappingAAD)

	env, err := repo.Get(ctx, sessionNamespace, sessionKeyType, sessionKeyID)
	if err == nil {
		key, openErr := storage.OpenRecord(wrappingKey, env, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading session key: %w", err)
	}

	key, err := util.RandomBytes(util.AESKeySize)
	if err != nil {
		return nil, err
	}
	sealed, err := storage.SealRecord(wrappingKey, key, aad)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing new session key: %w", err)
	}
	if err := repo.Put(ctx, sessionNamespace, sessionKeyType, sessionKeyID, sealed); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("persisting session key: %w", err)
	}
	return key, nil
}

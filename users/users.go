// Package users is the credential store consulted at login: user records
// persisted in a storage.Repository and bcrypt password verification.
package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmcleod/terminguard/internal/util"
	"github.com/jmcleod/terminguard/internal/uuid"
	"github.com/jmcleod/terminguard/session"
	"github.com/jmcleod/terminguard/storage"
)

const (
	usersNamespace = "__users"
	userRecordType = "USER"

	// DefaultBcryptCost matches the cost used for the bootstrap admin.
	DefaultBcryptCost = 12
)

var (
	// ErrNotFound is returned when no user has the requested username.
	ErrNotFound = errors.New("user not found")
	// ErrExists is returned when creating a user whose username is taken.
	ErrExists = errors.New("user already exists")
)

// User is a stored account.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	PasswordHash string       `json:"password_hash"`
	Role         session.Role `json:"role"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Store persists users as plain JSON records keyed by normalized username.
type Store struct {
	repo   storage.Repository
	hasher *BcryptHasher
	now    func() time.Time
}

// NewStore returns a Store on repo hashing new passwords with hasher.
func NewStore(repo storage.Repository, hasher *BcryptHasher) *Store {
	if hasher == nil {
		hasher = NewBcryptHasher(DefaultBcryptCost)
	}
	return &Store{repo: repo, hasher: hasher, now: time.Now}
}

// Create validates and stores a new user.
func (s *Store) Create(ctx context.Context, username, password string, role session.Role) (*User, error) {
	username = util.NormalizeUsername(username)
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if _, err := s.Lookup(ctx, username); err == nil {
		return nil, fmt.Errorf("%s: %w", username, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	u := &User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.put(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetPassword replaces the password of an existing user.
func (s *Store) SetPassword(ctx context.Context, username, password string) error {
	u, err := s.Lookup(ctx, username)
	if err != nil {
		return err
	}
	if err := ValidateCredentials(u.Username, password); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	u.PasswordHash = hash
	return s.put(ctx, u)
}

func (s *Store) put(ctx context.Context, u *User) error {
	env, err := storage.EncodeJSON(u)
	if err != nil {
		return err
	}
	if err := s.repo.Put(ctx, usersNamespace, userRecordType, u.Username, env); err != nil {
		return fmt.Errorf("persisting user: %w", err)
	}
	return nil
}

// Lookup returns the user with the given username.
func (s *Store) Lookup(ctx context.Context, username string) (*User, error) {
	username = util.NormalizeUsername(username)
	env, err := s.repo.Get(ctx, usersNamespace, userRecordType, username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	var u User
	if err := storage.DecodeJSON(env, &u); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	return &u, nil
}

// Verify reports whether password matches u's stored hash.
func (s *Store) Verify(u *User, password string) bool {
	return s.hasher.Compare(u.PasswordHash, password) == nil
}

// List returns all users ordered by username.
func (s *Store) List(ctx context.Context) ([]*User, error) {
	names, err := s.repo.List(ctx, usersNamespace, userRecordType)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]*User, 0, len(names))
	for _, name := range names {
		u, err := s.Lookup(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Delete removes a user.
func (s *Store) Delete(ctx context.Context, username string) error {
	username = util.NormalizeUsername(username)
	err := s.repo.Delete(ctx, usersNamespace, userRecordType, username)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", username, ErrNotFound)
	}
	return err
}

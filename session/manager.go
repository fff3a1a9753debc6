package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultTTL is the rolling lifetime of a session record.
	DefaultTTL = 2 * time.Hour
	// DefaultSweepInterval is how often expired sessions are purged.
	DefaultSweepInterval = 5 * time.Minute
)

// Manager creates, loads, persists and destroys sessions on top of a Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL sets the rolling lifetime applied on every Save.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used by the background sweep.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager backed by store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured rolling session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// New returns a fresh, unpersisted session.
func (m *Manager) New() (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	now := m.now()
	return &Session{
		ID:             id,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(m.ttl),
		isNew:          true,
	}, nil
}

// Load returns the stored session for id, or a fresh session when id is
// empty, unknown or expired. Store failures are returned as errors.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return m.New()
	}
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return m.New()
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Save persists the whole of s and extends its rolling expiry. It is meant
// for sessions created during the current request; loaded sessions are
// written through Update.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	now := m.now()
	s.LastAccessedAt = now
	s.ExpiresAt = now.Add(m.ttl)
	if err := m.store.Put(ctx, s); err != nil {
		return err
	}
	s.isNew = false
	return nil
}

// Update applies fn to the stored copy of s, extends the rolling expiry and
// refreshes s from the stored result. Fields fn leaves alone keep their
// stored values. ErrNotFound means the session was destroyed or expired
// since it was loaded; it is not recreated.
func (m *Manager) Update(ctx context.Context, s *Session, fn func(*Session) error) error {
	if s.isNew {
		return ErrNotFound
	}
	now := m.now()
	stored, err := m.store.Update(ctx, s.ID, func(cur *Session) error {
		if fn != nil {
			if err := fn(cur); err != nil {
				return err
			}
		}
		cur.LastAccessedAt = now
		cur.ExpiresAt = now.Add(m.ttl)
		return nil
	})
	if err != nil {
		return err
	}
	*s = *stored
	s.isNew = false
	return nil
}

// Touch extends the rolling expiry of a persisted session without changing
// anything else.
func (m *Manager) Touch(ctx context.Context, s *Session) error {
	return m.Update(ctx, s, nil)
}

// Regenerate replaces old with a new session carrying p. The new session is
// persisted before old is removed, so a failure never leaves the caller
// without a valid session. The new session has no CSRF token.
func (m *Manager) Regenerate(ctx context.Context, old *Session, p *Principal) (*Session, error) {
	s, err := m.New()
	if err != nil {
		return nil, err
	}
	s.Principal = p
	if err := m.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("saving regenerated session: %w", err)
	}
	if old != nil && !old.isNew {
		if err := m.store.Delete(ctx, old.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("removing previous session: %w", err)
		}
	}
	return s, nil
}

// Destroy removes s from the store. Destroying an unpersisted or already
// removed session is not an error.
func (m *Manager) Destroy(ctx context.Context, s *Session) error {
	if s == nil || s.isNew {
		return nil
	}
	if err := m.store.Delete(ctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Sweep purges expired sessions when the store supports it.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	sw, ok := m.store.(Sweeper)
	if !ok {
		return 0, nil
	}
	return sw.Sweep(ctx)
}

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Debug("swept expired sessions", "removed", n)
			}
		}
	}
}

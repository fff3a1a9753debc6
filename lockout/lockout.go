// Package lockout implements the brute-force guard for credential
// verification: per (IP, username) attempt counters with escalating,
// capped lockout and idle garbage collection.
package lockout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/jmcleod/terminguard/internal/util"
)

const (
	// DefaultMaxAttempts is the failure count at which lockout begins.
	DefaultMaxAttempts = 5
	// DefaultStep is the lockout added per recorded failure.
	DefaultStep = 2 * time.Minute
	// DefaultMax caps the lockout duration.
	DefaultMax = 30 * time.Minute
	// DefaultIdle is how long after the last failure an entry is collected.
	DefaultIdle = 15 * time.Minute
	// DefaultSweepInterval is how often idle entries are collected.
	DefaultSweepInterval = 10 * time.Minute
)

// Attempt is the failure history of one key.
type Attempt struct {
	Count int       `json:"count"`
	First time.Time `json:"first"`
	Last  time.Time `json:"last"`
}

// Store persists attempt counters. Implementations must make Incr atomic
// per key.
type Store interface {
	// Get returns the attempt for key; ok is false when none exists.
	Get(ctx context.Context, key string) (a Attempt, ok bool, err error)
	// Incr records one failure at now and returns the updated attempt.
	Incr(ctx context.Context, key string, now time.Time) (Attempt, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Sweep removes entries whose last failure is before cutoff.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Config tunes a Guard. Zero values select the defaults.
type Config struct {
	MaxAttempts   int
	Step          time.Duration
	Max           time.Duration
	Idle          time.Duration
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Step <= 0 {
		c.Step = DefaultStep
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Idle <= 0 {
		c.Idle = DefaultIdle
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Guard applies the lockout policy on top of a Store.
type Guard struct {
	store  Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger used by the background sweep.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New returns a Guard backed by store.
func New(store Store, cfg Config, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Key derives the counter key for a login attempt. The username is
// normalized so that visually identical spellings share a counter; the raw
// values never reach the store.
func Key(ip, username string) string {
	sum := sha256.Sum256([]byte(ip + "\x00" + util.NormalizeUsername(username)))
	return hex.EncodeToString(sum[:])
}

// Duration returns the lockout duration for a failure count, or zero below
// the threshold.
func (g *Guard) Duration(count int) time.Duration {
	if count < g.cfg.MaxAttempts {
		return 0
	}
	return min(time.Duration(count)*g.cfg.Step, g.cfg.Max)
}

// RecordFailure counts one failed attempt for key.
func (g *Guard) RecordFailure(ctx context.Context, key string) (Attempt, error) {
	return g.store.Incr(ctx, key, g.now())
}

// IsLocked reports whether key is locked and, if so, for how much longer.
func (g *Guard) IsLocked(ctx context.Context, key string) (bool, time.Duration, error) {
	a, ok, err := g.store.Get(ctx, key)
	if err != nil || !ok {
		return false, 0, err
	}
	d := g.Duration(a.Count)
	if d == 0 {
		return false, 0, nil
	}
	elapsed := g.now().Sub(a.Last)
	if elapsed >= d {
		return false, 0, nil
	}
	return true, d - elapsed, nil
}

// RecordSuccess resets the counter for key.
func (g *Guard) RecordSuccess(ctx context.Context, key string) error {
	return g.store.Delete(ctx, key)
}

// Sweep removes entries idle for longer than the configured window,
// regardless of lockout state.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	return g.store.Sweep(ctx, g.now().Add(-g.cfg.Idle))
}

// Run sweeps on the configured interval until ctx is cancelled.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := g.Sweep(ctx)
			if err != nil {
				g.logger.Warn("attempt counter sweep failed", "error", err)
				continue
			}
			if n > 0 {
				g.logger.Debug("swept idle attempt counters", "removed", n)
			}
		}
	}
}

package api

import (
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/terminguard/lockout"
	"github.com/jmcleod/terminguard/session"
	"github.com/jmcleod/terminguard/storage/memory"
	"github.com/jmcleod/terminguard/users"
)

// newTestAPI returns an API on in-memory stores with a controllable clock.
func newTestAPI(t *testing.T, opts ...Option) (*API, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	sessions := session.NewManager(session.NewMemoryStore())
	creds := users.NewStore(memory.NewRepository(), users.NewBcryptHasher(bcrypt.MinCost))
	guard := lockout.New(lockout.NewMemoryStore(), lockout.Config{}, lockout.WithClock(clock.now))
	base := []Option{
		WithClock(clock.now),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithUnknownUserDelay(0, 0),
	}
	return New(sessions, creds, guard, append(base, opts...)...), clock
}

// Package session holds browser sessions: the typed session record, the
// stores that persist it and the Manager that drives its lifecycle.
package session

import (
	"maps"
	"time"

	"github.com/jmcleod/terminguard/internal/util"
)

// IDBytes is the number of random bytes in a session identifier.
const IDBytes = 32

// Role is the authorization level of a Principal.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Principal is the authenticated identity attached to a session at login.
type Principal struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	LoginAt   time.Time `json:"login_at"`
	LoginIP   string    `json:"login_ip"`
	UserAgent string    `json:"user_agent"`
}

// Session is the server-side state for one browser session.
type Session struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	Principal      *Principal        `json:"principal,omitempty"`
	CSRFToken      string            `json:"csrf_token,omitempty"`
	Values         map[string]string `json:"values,omitempty"`

	isNew bool
}

// IsNew reports whether the session was created during the current request
// and has not been loaded from a store.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Authenticated reports whether a Principal is attached.
func (s *Session) Authenticated() bool {
	return s.Principal != nil
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	if s.Principal != nil {
		p := *s.Principal
		c.Principal = &p
	}
	c.Values = maps.Clone(s.Values)
	return &c
}

// NewID returns a fresh 256-bit session identifier in hex.
func NewID() (string, error) {
	return util.RandomHex(IDBytes)
}

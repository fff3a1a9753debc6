package gate

import (
	"time"

	"github.com/jmcleod/terminguard/session"
)

// DefaultMaxAge is the absolute lifetime of an authenticated principal.
const DefaultMaxAge = 2 * time.Hour

// RequestInfo is the part of the request the Authenticator inspects.
type RequestInfo struct {
	IP        string
	UserAgent string
}

// Authenticator validates the principal of a session against the class of
// the requested route.
type Authenticator struct {
	// MaxAge bounds the time since login. Zero means DefaultMaxAge.
	MaxAge time.Duration
	// CheckIP rejects requests whose client IP differs from the login IP.
	CheckIP bool
	// CheckUserAgent rejects requests whose User-Agent differs from the
	// one seen at login.
	CheckUserAgent bool
	// Now overrides time.Now, for tests.
	Now func() time.Time
}

func (a Authenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a Authenticator) maxAge() time.Duration {
	if a.MaxAge > 0 {
		return a.MaxAge
	}
	return DefaultMaxAge
}

// Authenticate decides whether p may access a route of class c. Checks run
// in a fixed order: presence, role, age, origin consistency. Expired and
// conflicting principals carry DestroySession.
func (a Authenticator) Authenticate(p *session.Principal, c Class, req RequestInfo) Decision {
	if c == Public {
		return Allow
	}
	if p == nil {
		return Deny(ReasonNoSession)
	}
	if c == RequiresAdminRole && p.Role != session.RoleAdmin {
		return Deny(ReasonInsufficientRole)
	}
	if a.now().Sub(p.LoginAt) > a.maxAge() {
		return Decision{Reason: ReasonSessionExpired, DestroySession: true}
	}
	if a.CheckIP && p.LoginIP != req.IP {
		return Decision{Reason: ReasonSecurityConflict, DestroySession: true}
	}
	if a.CheckUserAgent && p.UserAgent != req.UserAgent {
		return Decision{Reason: ReasonSecurityConflict, DestroySession: true}
	}
	return Allow
}

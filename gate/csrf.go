package gate

import (
	"crypto/subtle"
	"strings"

	"github.com/jmcleod/terminguard/internal/util"
	"github.com/jmcleod/terminguard/session"
)

const (
	// TokenBytes is the amount of randomness in a CSRF token.
	TokenBytes = 32
	// HeaderName is the request header that carries the CSRF token.
	HeaderName = "X-CSRF-Token"
	// FormField is the body field that carries the CSRF token.
	FormField = "_csrf"
)

// IsSafeMethod reports whether method cannot change server state.
func IsSafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS", "TRACE":
		return true
	default:
		return false
	}
}

// IssueToken returns the session's CSRF token, generating one if the session
// has none. created reports whether s was modified and must be saved.
func IssueToken(s *session.Session) (token string, created bool, err error) {
	if s.CSRFToken != "" {
		return s.CSRFToken, false, nil
	}
	token, err = util.RandomHex(TokenBytes)
	if err != nil {
		return "", false, err
	}
	s.CSRFToken = token
	return token, true, nil
}

// VerifyCSRF checks candidate against the token stored in s. Safe methods
// are always allowed.
func VerifyCSRF(s *session.Session, method, candidate string) Decision {
	if IsSafeMethod(method) {
		return Allow
	}
	if candidate == "" {
		return Deny(ReasonCSRFMissing)
	}
	if s == nil || s.CSRFToken == "" {
		return Deny(ReasonCSRFSessionInvalid)
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(s.CSRFToken)) != 1 {
		return Deny(ReasonCSRFMismatch)
	}
	return Allow
}

package gate

import "net/http"

// Reason is the machine-readable code attached to every denial.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNoSession          Reason = "NO_SESSION"
	ReasonInsufficientRole   Reason = "INSUFFICIENT_ROLE"
	ReasonSessionExpired     Reason = "SESSION_EXPIRED"
	ReasonSecurityConflict   Reason = "SECURITY_CONFLICT"
	ReasonCSRFMissing        Reason = "CSRF_MISSING"
	ReasonCSRFSessionInvalid Reason = "CSRF_SESSION_INVALID"
	ReasonCSRFMismatch       Reason = "CSRF_MISMATCH"
	ReasonLockedOut          Reason = "LOCKED_OUT"
	ReasonSessionStoreError  Reason = "SESSION_STORE_ERROR"
)

// Status maps a denial reason to its HTTP status code.
func (r Reason) Status() int {
	switch r {
	case ReasonNoSession, ReasonSessionExpired, ReasonSecurityConflict:
		return http.StatusUnauthorized
	case ReasonInsufficientRole, ReasonCSRFMissing, ReasonCSRFSessionInvalid, ReasonCSRFMismatch:
		return http.StatusForbidden
	case ReasonLockedOut:
		return http.StatusTooManyRequests
	case ReasonSessionStoreError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// Message returns the user-facing text for r.
func (r Reason) Message() string {
	switch r {
	case ReasonNoSession:
		return "Authentifizierung erforderlich"
	case ReasonInsufficientRole:
		return "Unzureichende Berechtigung"
	case ReasonSessionExpired:
		return "Session abgelaufen - Bitte erneut anmelden"
	case ReasonSecurityConflict:
		return "Sicherheitskonflikt erkannt"
	case ReasonCSRFMissing:
		return "CSRF-Token fehlt. Seite neu laden und erneut versuchen."
	case ReasonCSRFSessionInvalid:
		return "Session ungültig. Seite neu laden und erneut versuchen."
	case ReasonCSRFMismatch:
		return "CSRF-Token ungültig. Seite neu laden und erneut versuchen."
	case ReasonLockedOut:
		return "Account temporär gesperrt"
	case ReasonSessionStoreError:
		return "Session-Fehler"
	default:
		return ""
	}
}

// RequiresLogin reports whether the client must authenticate (again) to
// recover from r.
func (r Reason) RequiresLogin() bool {
	return r == ReasonNoSession || r == ReasonSessionExpired || r == ReasonSecurityConflict
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool
	Reason  Reason
	// DestroySession is set when the session must be invalidated
	// server-side before the denial is returned.
	DestroySession bool
}

// Allow is the zero-reason permitting decision.
var Allow = Decision{Allowed: true}

// Deny returns a denying decision for r.
func Deny(r Reason) Decision {
	return Decision{Reason: r}
}

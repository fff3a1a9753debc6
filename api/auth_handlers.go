package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/jmcleod/terminguard/audit"
	"github.com/jmcleod/terminguard/gate"
	"github.com/jmcleod/terminguard/internal/util"
	"github.com/jmcleod/terminguard/lockout"
	"github.com/jmcleod/terminguard/session"
	"github.com/jmcleod/terminguard/users"
)

const (
	maxAuthBodySize = 16 << 10

	loginRedirectPath = "/admin"
	msgLoginSuccess   = "Login erfolgreich"
	msgBadCredentials = "Ungültige Anmeldedaten"
	msgLogoutSuccess  = "Erfolgreich abgemeldet"
)

// decodeJSON decodes a size-limited JSON body into T, answering 400 itself
// when the body is malformed.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "Ungültige Anfrage")
		return v, false
	}
	return v, true
}

// decodeLoginRequest accepts both JSON and form-encoded login bodies.
func decodeLoginRequest(w http.ResponseWriter, r *http.Request) (LoginRequest, bool) {
	if mt, err := contenttype.GetMediaType(r); err == nil && mt.Type == "application" && mt.Subtype == "json" {
		return decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodySize)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Ungültige Anfrage")
		return LoginRequest{}, false
	}
	return LoginRequest{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
		CSRF:     r.PostFormValue(gate.FormField),
	}, true
}

// CSRFToken handles GET /csrf-token. The token is created on first use and
// returned unchanged afterwards. For a stored session the token is read and
// issued on the stored copy, so concurrent tabs all receive the same token.
func (a *API) CSRFToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFromContext(ctx)
	var (
		token   string
		created bool
	)
	issue := func(s *session.Session) error {
		var err error
		token, created, err = gate.IssueToken(s)
		return err
	}

	if !sess.IsNew() {
		err := a.sessions.Update(ctx, sess, issue)
		switch {
		case err == nil:
			a.writeSessionCookie(w, r, sess.ID, sess.ExpiresAt)
		case errors.Is(err, session.ErrNotFound):
			// Destroyed since it was loaded; continue on a fresh session.
			if sess, err = a.sessions.New(); err != nil {
				writeInternalError(w, "failed to create session", err)
				return
			}
		default:
			a.storeFailure(w, r, gate.Public, a.clientIP(r), err)
			return
		}
	}
	if sess.IsNew() {
		if err := issue(sess); err != nil {
			writeInternalError(w, "failed to generate csrf token", err)
			return
		}
		if err := a.saveSession(ctx, w, r, sess); err != nil {
			a.storeFailure(w, r, gate.Public, a.clientIP(r), err)
			return
		}
	}
	if created {
		a.metrics.tokensIssued.Inc()
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, CSRFTokenResponse{Success: true, CSRFToken: token})
}

// LoginPage handles GET /login. An admin with a valid session is sent to the
// dashboard; everyone else gets the login page from the backend.
func (a *API) LoginPage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess.Principal != nil {
		d := a.authn.Authenticate(sess.Principal, gate.RequiresAdminRole, gate.RequestInfo{
			IP:        a.clientIP(r),
			UserAgent: r.UserAgent(),
		})
		if d.Allowed {
			http.Redirect(w, r, loginRedirectPath, http.StatusFound)
			return
		}
	}
	a.backend.ServeHTTP(w, r)
}

// Login handles POST /login. The CSRF gate has already run. Order: input
// validation, address throttle, lockout, credential lookup, password check,
// counter reset, session regeneration.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeLoginRequest(w, r)
	if !ok {
		return
	}
	username := util.NormalizeUsername(req.Username)
	if err := users.ValidateCredentials(username, req.Password); err != nil {
		var fe *users.FieldError
		if errors.As(err, &fe) {
			writeFieldError(w, http.StatusBadRequest, fe.Field, fe.Message)
			return
		}
		writeError(w, http.StatusBadRequest, "Ungültige Eingabe")
		return
	}

	ip := a.clientIP(r)
	if blocked, retryAfter := a.ipLimiter.check(ip); blocked {
		a.audit.log(r, auditRecord{event: audit.EventLoginRateLimited, ip: ip, username: username, reason: codeRateLimited})
		a.metrics.login("rate_limited")
		writeRateLimited(w, retryAfter)
		return
	}

	key := lockout.Key(ip, username)
	locked, remaining, err := a.guard.IsLocked(ctx, key)
	if err != nil {
		writeInternalError(w, "failed to read attempt counter", err)
		return
	}
	if locked {
		a.audit.log(r, auditRecord{event: audit.EventLoginLocked, ip: ip, username: username, reason: string(gate.ReasonLockedOut)},
			slog.Duration("remaining", remaining))
		a.metrics.login("locked")
		writeLockedOut(w, remaining)
		return
	}

	user, err := a.users.Lookup(ctx, username)
	if errors.Is(err, users.ErrNotFound) {
		a.unknownUserDelay(ctx)
		a.loginFailed(w, r, key, ip, username, "unknown_user")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to look up user", err)
		return
	}
	if !a.users.Verify(user, req.Password) {
		a.loginFailed(w, r, key, ip, username, "bad_password")
		return
	}

	if err := a.guard.RecordSuccess(ctx, key); err != nil {
		slog.Warn("failed to reset attempt counter", "error", err)
	}
	a.ipLimiter.recordSuccess(ip)
	a.audit.log(r, auditRecord{event: audit.EventLockoutReset, ip: ip, username: user.Username})

	principal := &session.Principal{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		LoginAt:   a.now(),
		LoginIP:   ip,
		UserAgent: r.UserAgent(),
	}
	sess, err := a.sessions.Regenerate(ctx, sessionFromContext(ctx), principal)
	if err != nil {
		slog.Error("session regeneration failed", "error", err)
		a.audit.log(r, auditRecord{event: audit.EventSessionError, ip: ip, username: user.Username, reason: string(gate.ReasonSessionStoreError)})
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Message: "Session-Fehler beim Login",
			Code:    string(gate.ReasonSessionStoreError),
		})
		return
	}
	a.writeSessionCookie(w, r, sess.ID, sess.ExpiresAt)

	a.audit.log(r, auditRecord{event: audit.EventLoginSuccess, ip: ip, username: user.Username},
		slog.String("user_id", user.ID), slog.String("role", string(user.Role)))
	a.metrics.login("success")
	writeJSON(w, http.StatusOK, LoginResponse{
		Success:  true,
		Redirect: loginRedirectPath,
		Message:  msgLoginSuccess,
	})
}

func (a *API) loginFailed(w http.ResponseWriter, r *http.Request, key, ip, username, reason string) {
	attempt, err := a.guard.RecordFailure(r.Context(), key)
	if err != nil {
		writeInternalError(w, "failed to record login failure", err)
		return
	}
	a.ipLimiter.recordFailure(ip)
	a.audit.log(r, auditRecord{event: audit.EventLoginFailure, ip: ip, username: username, reason: reason},
		slog.Int("attempts", attempt.Count))
	a.metrics.login("failure")
	writeError(w, http.StatusUnauthorized, msgBadCredentials)
}

// Logout handles POST /logout. It always succeeds for the client unless the
// session store fails.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	ip := a.clientIP(r)
	if err := a.sessions.Destroy(r.Context(), sess); err != nil {
		slog.Error("session destroy failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Message: "Abmeldung fehlgeschlagen",
			Code:    string(gate.ReasonSessionStoreError),
		})
		return
	}
	a.clearSessionCookie(w, r)
	if sess.Principal != nil {
		a.audit.log(r, auditRecord{event: audit.EventLogout, ip: ip, username: sess.Principal.Username})
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: msgLogoutSuccess})
}

// SessionInfo handles GET /session.
func (a *API) SessionInfo(w http.ResponseWriter, r *http.Request) {
	p := sessionFromContext(r.Context()).Principal
	if p == nil {
		// Unreachable behind the gate; kept for custom route tables.
		writeDenied(w, r, gate.ReasonNoSession)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Success: true,
		User: SessionUser{
			ID:        p.UserID,
			Username:  p.Username,
			Role:      strings.ToLower(string(p.Role)),
			LoginTime: p.LoginAt.UTC().Format(time.RFC3339),
		},
	})
}

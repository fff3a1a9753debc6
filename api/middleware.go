package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/jmcleod/terminguard/audit"
	"github.com/jmcleod/terminguard/gate"
	"github.com/jmcleod/terminguard/session"
)

type contextKey int

const sessionKey contextKey = iota

// maxCSRFBodySize bounds how much of a request body is buffered to look for
// the _csrf field.
const maxCSRFBodySize = 1 << 20

// csrfExempt lists mutating routes that skip the CSRF gate. Logout only
// destroys state and must succeed for a session whose token was lost.
var csrfExempt = map[gate.Route]struct{}{
	{Method: http.MethodPost, Path: "/logout"}: {},
}

func sessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}

// routeSecurity is the per-request gate pipeline: load the session, classify
// the route, authenticate protected routes, then verify the CSRF token of
// mutating requests. The request reaches the next handler only when every
// gate allows it.
func (a *API) routeSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		class := a.classifier.Classify(r.Method, r.URL.Path)
		ip := a.clientIP(r)
		safe := gate.IsSafeMethod(r.Method)

		sess, err := a.loadSession(r)
		if err != nil {
			if class != gate.Public || !safe {
				a.storeFailure(w, r, class, ip, err)
				return
			}
			// Public reads do not depend on the stored session.
			slog.Warn("session load failed, continuing with a fresh session", "path", r.URL.Path, "error", err)
			if sess, err = a.sessions.New(); err != nil {
				writeInternalError(w, "failed to create session", err)
				return
			}
		}

		decision := a.authn.Authenticate(sess.Principal, class, gate.RequestInfo{IP: ip, UserAgent: r.UserAgent()})
		if !decision.Allowed {
			if decision.DestroySession {
				if err := a.sessions.Destroy(ctx, sess); err != nil {
					a.storeFailure(w, r, class, ip, err)
					return
				}
				a.clearSessionCookie(w, r)
				a.audit.log(r, auditRecord{
					event:    audit.EventSessionDestroyed,
					ip:       ip,
					username: sess.Principal.Username,
					reason:   string(decision.Reason),
				})
			}
			a.deny(w, r, class, ip, sess, decision.Reason, audit.EventAccessDenied)
			return
		}

		if class != gate.Public {
			// Authenticated access extends the rolling session lifetime.
			err := a.sessions.Touch(ctx, sess)
			if errors.Is(err, session.ErrNotFound) || (err == nil && sess.Principal == nil) {
				// Destroyed by a concurrent request such as a logout.
				a.clearSessionCookie(w, r)
				a.deny(w, r, class, ip, nil, gate.ReasonNoSession, audit.EventAccessDenied)
				return
			}
			if err != nil {
				a.storeFailure(w, r, class, ip, err)
				return
			}
			a.writeSessionCookie(w, r, sess.ID, sess.ExpiresAt)
			a.audit.log(r, auditRecord{
				event:    audit.EventAccessGranted,
				ip:       ip,
				username: sess.Principal.Username,
			}, slog.String("user_id", sess.Principal.UserID))
		}

		if !safe && !isCSRFExempt(r) {
			d := gate.VerifyCSRF(sess, r.Method, csrfCandidate(r))
			if !d.Allowed {
				a.deny(w, r, class, ip, sess, d.Reason, audit.EventCSRFRejected)
				return
			}
		}

		a.metrics.decision(class.String(), "")
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey, sess)))
	})
}

// loadSession resolves the session cookie. A missing, unknown or expired
// cookie yields a fresh, unpersisted session.
func (a *API) loadSession(r *http.Request) (*session.Session, error) {
	var id string
	if c, err := r.Cookie(a.cookieName); err == nil {
		id = c.Value
	}
	return a.sessions.Load(r.Context(), id)
}

func (a *API) deny(w http.ResponseWriter, r *http.Request, class gate.Class, ip string, sess *session.Session, reason gate.Reason, event audit.Event) {
	rec := auditRecord{event: event, ip: ip, reason: string(reason)}
	if sess != nil && sess.Principal != nil {
		rec.username = sess.Principal.Username
	}
	a.audit.log(r, rec, slog.String("class", class.String()))
	a.metrics.decision(class.String(), string(reason))
	writeDenied(w, r, reason)
}

func (a *API) storeFailure(w http.ResponseWriter, r *http.Request, class gate.Class, ip string, err error) {
	slog.Error("session store failure", "path", r.URL.Path, "error", err)
	a.deny(w, r, class, ip, nil, gate.ReasonSessionStoreError, audit.EventSessionError)
}

func isCSRFExempt(r *http.Request) bool {
	p := strings.ToLower(r.URL.Path)
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	_, ok := csrfExempt[gate.Route{Method: strings.ToUpper(r.Method), Path: p}]
	return ok
}

// csrfCandidate extracts the client's CSRF token: the X-CSRF-Token header
// first, then the _csrf field of a JSON or form body. The body is restored
// so that handlers can read it again.
func csrfCandidate(r *http.Request) string {
	if v := r.Header.Get(gate.HeaderName); v != "" {
		return v
	}
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	mt, err := contenttype.GetMediaType(r)
	if err != nil {
		return ""
	}
	isJSON := mt.Type == "application" && (mt.Subtype == "json" || strings.HasSuffix(mt.Subtype, "+json"))
	isForm := (mt.Type == "application" && mt.Subtype == "x-www-form-urlencoded") ||
		(mt.Type == "multipart" && mt.Subtype == "form-data")
	if !isJSON && !isForm {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCSRFBodySize+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
	if err != nil || len(body) > maxCSRFBodySize {
		return ""
	}

	if isJSON {
		var v struct {
			CSRF string `json:"_csrf"`
		}
		if json.Unmarshal(body, &v) != nil {
			return ""
		}
		return v.CSRF
	}
	clone := r.Clone(r.Context())
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return clone.PostFormValue(gate.FormField)
}

// saveSession persists a session created during this request and sets its
// cookie.
func (a *API) saveSession(ctx context.Context, w http.ResponseWriter, r *http.Request, s *session.Session) error {
	if err := a.sessions.Save(ctx, s); err != nil {
		return err
	}
	a.writeSessionCookie(w, r, s.ID, s.ExpiresAt)
	return nil
}

func (a *API) writeSessionCookie(w http.ResponseWriter, r *http.Request, id string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cookieSecure || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cookieSecure || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

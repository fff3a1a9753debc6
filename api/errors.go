package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"

	"github.com/jmcleod/terminguard/gate"
)

var (
	htmlMediaType = contenttype.NewMediaType("text/html")
	jsonMediaType = contenttype.NewMediaType("application/json")
	// Order matters: an absent or wildcard Accept header selects HTML.
	responseMediaTypes = []contenttype.MediaType{htmlMediaType, jsonMediaType}
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg})
}

func writeFieldError(w http.ResponseWriter, status int, field, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg, Field: field})
}

// writeInternalError logs err and answers with a generic 500 so internal
// details never reach the client.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "Interner Serverfehler")
}

// wantsJSON reports whether the client expects a JSON answer rather than a
// browser redirect: XHR requests, /api paths and clients whose Accept
// header prefers JSON over HTML.
func wantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	mt, _, err := contenttype.GetAcceptableMediaType(r, responseMediaTypes)
	if err != nil {
		return false
	}
	return mt.Type == jsonMediaType.Type && mt.Subtype == jsonMediaType.Subtype
}

// loginRedirect builds the login URL for a browser that was denied,
// preserving the requested path for the post-login redirect.
func loginRedirect(r *http.Request, reason gate.Reason) string {
	q := url.Values{}
	if r.Method == http.MethodGet {
		q.Set("redirect", r.URL.RequestURI())
	}
	switch reason {
	case gate.ReasonSessionExpired:
		q.Set("message", "session_expired")
	case gate.ReasonSecurityConflict:
		q.Set("message", "security_conflict")
	}
	if len(q) == 0 {
		return "/login"
	}
	return "/login?" + q.Encode()
}

// msgAdminRequired is the plain-text page shown to a browser whose user
// lacks the admin role.
const msgAdminRequired = "Zugriff verweigert - Admin-Berechtigung erforderlich"

// writeDenied answers a gate denial: a structured JSON error for API
// clients, a redirect to the login page for browser navigations that need
// to (re)authenticate and a 403 text page for browsers lacking the admin
// role.
func writeDenied(w http.ResponseWriter, r *http.Request, reason gate.Reason) {
	if !wantsJSON(r) {
		switch {
		case reason.RequiresLogin():
			http.Redirect(w, r, loginRedirect(r, reason), http.StatusFound)
			return
		case reason == gate.ReasonInsufficientRole:
			http.Error(w, msgAdminRequired, http.StatusForbidden)
			return
		}
	}
	writeJSON(w, reason.Status(), ErrorResponse{Message: reason.Message(), Code: string(reason)})
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/jmcleod/terminguard/audit"
)

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListAudit handles GET /admin/audit. Entries are returned newest first and
// paginated with limit/offset.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	var entries []audit.Entry
	if a.trail != nil {
		var err error
		entries, err = a.trail.All(r.Context())
		if err != nil {
			writeInternalError(w, "failed to list audit entries", err)
			return
		}
	}

	window, pgMeta := newestFirst(entries, pageFromQuery(r))
	resp := make([]AuditEntry, 0, len(window))
	for _, e := range window {
		resp = append(resp, AuditEntry{
			ID:        e.ID,
			Event:     string(e.Event),
			Username:  e.Username,
			IP:        e.IP,
			Method:    e.Method,
			Path:      e.Path,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, AuditListResponse{
		Success:        true,
		Entries:        resp,
		PaginationMeta: pgMeta,
	})
}

// ExportAudit handles GET /admin/audit/export. The full chain is returned
// oldest first, signed with the configured audit key when one is set.
func (a *API) ExportAudit(w http.ResponseWriter, r *http.Request) {
	if a.trail == nil {
		writeError(w, http.StatusNotFound, "Kein Audit-Protokoll konfiguriert")
		return
	}
	exp, err := a.trail.Export(r.Context(), a.auditKey)
	if err != nil {
		writeInternalError(w, "failed to export audit trail", err)
		return
	}

	var username string
	if p := sessionFromContext(r.Context()).Principal; p != nil {
		username = p.Username
	}
	a.audit.log(r, auditRecord{event: audit.EventTrailExported, ip: a.clientIP(r), username: username},
		slog.Int("entries", len(exp.Entries)))

	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.json"`)
	writeJSON(w, http.StatusOK, exp)
}

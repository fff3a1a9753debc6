package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/terminguard/audit"
)

// auditLogger writes security events to the structured log and, when a
// trail is configured, to the persisted hash chain. Every event also feeds
// the security monitor.
type auditLogger struct {
	logger  *slog.Logger
	trail   *audit.Trail
	monitor *securityMonitor
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// auditRecord is the actor and target of one security event.
type auditRecord struct {
	event    audit.Event
	ip       string
	username string
	reason   string
}

// log records rec for the request r.
func (al *auditLogger) log(r *http.Request, rec auditRecord, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(rec.event)),
		slog.String("ip", rec.ip),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if rec.username != "" {
		baseAttrs = append(baseAttrs, slog.String("username", rec.username))
	}
	if rec.reason != "" {
		baseAttrs = append(baseAttrs, slog.String("reason", rec.reason))
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)

	if al.trail != nil {
		// The trail outlives a cancelled request.
		ctx := context.WithoutCancel(r.Context())
		_, err := al.trail.Append(ctx, audit.Entry{
			Event:    rec.event,
			Username: rec.username,
			IP:       rec.ip,
			Method:   r.Method,
			Path:     r.URL.Path,
			Reason:   rec.reason,
		})
		if err != nil {
			al.logger.Error("audit trail append failed", "event", string(rec.event), "error", err)
		}
	}
	al.monitor.recordEvent(rec.event, rec.ip)
}

// alert logs a monitor alert at error level.
func (al *auditLogger) alert(evt AlertEvent) {
	al.logger.Error("security alert",
		"type", string(evt.Type),
		"ip", evt.IP,
		"count", evt.Count,
		"threshold", evt.Threshold,
		"message", evt.Message,
	)
}

package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/terminguard/audit"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailures      AlertType = "login_failures"
	AlertRateLimitHits      AlertType = "rate_limit_hits"
	AlertUnauthorizedAccess AlertType = "unauthorized_access"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	IP        string    `json:"ip"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultMonitorWindow         = 10 * time.Minute
	defaultMonitorCleanup        = 30 * time.Minute
	defaultLoginFailureThreshold = 5
	defaultRateLimitHitThreshold = 10
	defaultUnauthorizedThreshold = 3
)

type monitorKey struct {
	kind AlertType
	ip   string
}

// securityMonitor keeps a sliding window of security events per client IP
// and raises an alert when one kind of event crosses its threshold.
type securityMonitor struct {
	mu         sync.Mutex
	events     map[monitorKey][]time.Time
	window     time.Duration
	thresholds map[AlertType]int
	now        func() time.Time

	alertFn AlertFunc
}

func newSecurityMonitor(alertFn AlertFunc, now func() time.Time) *securityMonitor {
	if now == nil {
		now = time.Now
	}
	return &securityMonitor{
		events: make(map[monitorKey][]time.Time),
		window: defaultMonitorWindow,
		thresholds: map[AlertType]int{
			AlertLoginFailures:      defaultLoginFailureThreshold,
			AlertRateLimitHits:      defaultRateLimitHitThreshold,
			AlertUnauthorizedAccess: defaultUnauthorizedThreshold,
		},
		now:     now,
		alertFn: alertFn,
	}
}

func alertTypeFor(event audit.Event) (AlertType, bool) {
	switch event {
	case audit.EventLoginFailure:
		return AlertLoginFailures, true
	case audit.EventLoginLocked, audit.EventLoginRateLimited:
		return AlertRateLimitHits, true
	case audit.EventAccessDenied, audit.EventCSRFRejected:
		return AlertUnauthorizedAccess, true
	default:
		return "", false
	}
}

// recordEvent inspects an audit event and updates the relevant window.
func (m *securityMonitor) recordEvent(event audit.Event, ip string) {
	if m == nil || m.alertFn == nil {
		return
	}
	kind, ok := alertTypeFor(event)
	if !ok {
		return
	}

	m.mu.Lock()
	now := m.now()
	key := monitorKey{kind: kind, ip: ip}
	times := trimWindow(append(m.events[key], now), now, m.window)
	threshold := m.thresholds[kind]
	var alert *AlertEvent
	if len(times) >= threshold {
		alert = &AlertEvent{
			Type:      kind,
			IP:        ip,
			Message:   alertMessage(kind, ip, len(times)),
			Count:     len(times),
			Threshold: threshold,
			Timestamp: now,
		}
		// Reset to avoid repeated alerts within the same spike.
		delete(m.events, key)
	} else {
		m.events[key] = times
	}
	m.mu.Unlock()

	if alert != nil {
		m.alertFn(*alert)
	}
}

func alertMessage(kind AlertType, ip string, count int) string {
	switch kind {
	case AlertLoginFailures:
		return fmt.Sprintf("%d fehlgeschlagene Login-Versuche von IP %s in den letzten 10 Minuten", count, ip)
	case AlertRateLimitHits:
		return fmt.Sprintf("%d Rate-Limit-Überschreitungen von IP %s in den letzten 10 Minuten", count, ip)
	default:
		return fmt.Sprintf("Wiederholte unbefugte Zugriffe von IP %s", ip)
	}
}

// cleanup drops windows that no longer hold recent events.
func (m *securityMonitor) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, times := range m.events {
		times = trimWindow(times, now, m.window)
		if len(times) == 0 {
			delete(m.events, key)
			continue
		}
		m.events[key] = times
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && !times[start].After(cutoff) {
		start++
	}
	return times[start:]
}

package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/terminguard/audit"
	"github.com/jmcleod/terminguard/gate"
	"github.com/jmcleod/terminguard/internal/util"
	"github.com/jmcleod/terminguard/lockout"
	"github.com/jmcleod/terminguard/session"
	"github.com/jmcleod/terminguard/users"
)

const (
	// DefaultCookieName is the session cookie name.
	DefaultCookieName = "sid"

	// Bounds of the artificial delay on logins for unknown usernames.
	unknownUserDelayMin = 100 * time.Millisecond
	unknownUserDelayMax = 200 * time.Millisecond
)

// API holds the dependencies of the route security layer and its handlers.
type API struct {
	sessions   *session.Manager
	users      *users.Store
	guard      *lockout.Guard
	classifier *gate.Classifier
	authn      gate.Authenticator

	audit     *auditLogger
	trail     *audit.Trail
	auditKey  []byte
	metrics   *metrics
	monitor   *securityMonitor
	ipLimiter *ipRateLimiter
	alertFns  []AlertFunc

	trustedProxies []netip.Prefix
	cookieName     string
	cookieSecure   bool
	backend        http.Handler

	now        func() time.Time
	sleep      func(context.Context, time.Duration)
	delayRange [2]time.Duration
}

//go:embed openapi.yaml
var openapiDocument []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithClassifier replaces the default route tables.
func WithClassifier(c *gate.Classifier) Option {
	return func(a *API) { a.classifier = c }
}

// WithAuthenticator configures principal age and origin checks.
func WithAuthenticator(authn gate.Authenticator) Option {
	return func(a *API) { a.authn = authn }
}

// WithAuditTrail persists audit events to trail. key signs exports served
// by GET /admin/audit/export; it may be nil.
func WithAuditTrail(trail *audit.Trail, key []byte) Option {
	return func(a *API) {
		a.trail = trail
		a.auditKey = key
	}
}

// WithCookie sets the session cookie name and forces the Secure attribute.
// Without force, Secure follows the request scheme.
func WithCookie(name string, forceSecure bool) Option {
	return func(a *API) {
		if name != "" {
			a.cookieName = name
		}
		a.cookieSecure = forceSecure
	}
}

// WithBackend sets the handler that serves every request the security
// layer does not answer itself (appointment handlers, static files).
func WithBackend(h http.Handler) Option {
	return func(a *API) { a.backend = h }
}

// WithAlertFunc adds a receiver for security monitor alerts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		if fn != nil {
			a.alertFns = append(a.alertFns, fn)
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// WithUnknownUserDelay sets the bounds of the random delay applied when a
// login names a user that does not exist.
func WithUnknownUserDelay(lo, hi time.Duration) Option {
	return func(a *API) { a.delayRange = [2]time.Duration{lo, hi} }
}

// WithTrustedProxies returns an Option that trusts proxy headers from the
// given CIDRs. A bare IP is treated as a single-host prefix.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return func(a *API) { a.trustedProxies = prefixes }, nil
}

// New creates a new API instance.
func New(sessions *session.Manager, credentials *users.Store, guard *lockout.Guard, opts ...Option) *API {
	a := &API{
		sessions:   sessions,
		users:      credentials,
		guard:      guard,
		classifier: gate.NewClassifier(gate.DefaultRules()),
		metrics:    newMetrics(),
		cookieName: DefaultCookieName,
		backend:    http.NotFoundHandler(),
		now:        time.Now,
		sleep:      sleepContext,
		delayRange: [2]time.Duration{unknownUserDelayMin, unknownUserDelayMax},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if a.authn.Now == nil {
		a.authn.Now = a.now
	}
	a.ipLimiter = newIPRateLimiter(a.now)
	a.monitor = newSecurityMonitor(a.dispatchAlert, a.now)
	a.audit.trail = a.trail
	a.audit.monitor = a.monitor
	return a
}

func (a *API) dispatchAlert(evt AlertEvent) {
	a.audit.alert(evt)
	a.metrics.alerts.WithLabelValues(string(evt.Type)).Inc()
	for _, fn := range a.alertFns {
		fn(evt)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Router returns a chi.Router with the security middleware and the session
// endpoints mounted. Unmatched requests pass through the same middleware
// before reaching the backend.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.securityHeaders)
	r.Use(a.routeSecurity)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiDocument)
	})
	r.Handle("/docs", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	r.Handle("/redoc", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/health", a.Health)
	r.Get("/csrf-token", a.CSRFToken)
	r.Get("/login", a.LoginPage)
	r.Post("/login", a.Login)
	r.Post("/logout", a.Logout)
	r.Get("/session", a.SessionInfo)

	r.Get("/admin/audit", a.ListAudit)
	r.Get("/admin/audit/export", a.ExportAudit)
	r.Method(http.MethodGet, "/metrics", a.metrics.handler())

	r.NotFound(a.backend.ServeHTTP)
	r.MethodNotAllowed(a.backend.ServeHTTP)
	return r
}

// Run performs the periodic housekeeping of the in-process state that
// belongs to the API until ctx is cancelled.
func (a *API) Run(ctx context.Context) error {
	ticker := time.NewTicker(defaultMonitorCleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.monitor.cleanup()
			a.metrics.swept("ip_limiter", a.ipLimiter.sweep())
		}
	}
}

func (a *API) unknownUserDelay(ctx context.Context) {
	a.sleep(ctx, util.RandomDuration(a.delayRange[0], a.delayRange[1]))
}

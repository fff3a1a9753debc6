package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/terminguard/api"
	"github.com/jmcleod/terminguard/audit"
	"github.com/jmcleod/terminguard/gate"
	"github.com/jmcleod/terminguard/internal/config"
	"github.com/jmcleod/terminguard/lockout"
	"github.com/jmcleod/terminguard/session"
	"github.com/jmcleod/terminguard/users"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(ctx context.Context, c *config.Config) error {
	b, err := openBackend(ctx, c)
	if err != nil {
		return err
	}
	defer b.Close()

	sessions, err := newSessionManager(ctx, c, b)
	if err != nil {
		return err
	}
	guard := newGuard(c, b)
	credentials := users.NewStore(b.repo, users.NewBcryptHasher(c.BcryptRounds))
	warnWithoutUsers(ctx, credentials)

	opts, err := apiOptions(c, b)
	if err != nil {
		return err
	}
	if c.AlertWebhookURL != "" {
		webhook := api.NewAlertWebhook(c.AlertWebhookURL, c.AlertWebhookAuth)
		defer webhook.Close()
		opts = append(opts, api.WithAlertFunc(webhook.Notify))
	}
	a := api.New(sessions, credentials, guard, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", a.Router())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if c.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(c.TLSCert, c.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	printBanner(os.Stdout)
	slog.Info("starting server",
		"port", c.Port,
		"storage", c.Storage,
		"lockout_store", c.LockoutStore,
		"tls", c.TLSEnabled(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if c.TLSEnabled() {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error { return sessions.Run(gctx, c.SessionSweepInterval) })
	g.Go(func() error { return guard.Run(gctx) })
	g.Go(func() error { return a.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// newSessionManager keeps sessions in memory for the memory backend and
// sealed in the repository otherwise.
func newSessionManager(ctx context.Context, c *config.Config, b *backend) (*session.Manager, error) {
	var store session.Store = session.NewMemoryStore()
	if c.Storage != config.StorageMemory {
		key, err := c.SessionWrappingKey()
		if err != nil {
			return nil, fmt.Errorf("deriving session key: %w", err)
		}
		rs, err := session.NewRepositoryStore(ctx, b.repo, key)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		store = rs
	}
	return session.NewManager(store,
		session.WithTTL(c.SessionTTL),
		session.WithLogger(slog.Default().With("component", "sessions")),
	), nil
}

func newGuard(c *config.Config, b *backend) *lockout.Guard {
	var store lockout.Store = lockout.NewMemoryStore()
	if c.LockoutStore == config.StorageRedis {
		store = lockout.NewRedisStore(b.redis, redisLockoutPrefix, c.AttemptIdle)
	}
	return lockout.New(store, lockout.Config{
		MaxAttempts:   c.MaxLoginAttempts,
		Step:          c.LockoutStep,
		Max:           c.LockoutMax,
		Idle:          c.AttemptIdle,
		SweepInterval: c.AttemptSweepInterval,
	}, lockout.WithLogger(slog.Default().With("component", "lockout")))
}

const redisLockoutPrefix = "terminguard:lockout:"

func apiOptions(c *config.Config, b *backend) ([]api.Option, error) {
	auditKey, err := auditKeyFor(c)
	if err != nil {
		return nil, err
	}
	proxies, err := api.WithTrustedProxies(c.TrustedProxies)
	if err != nil {
		return nil, err
	}
	opts := []api.Option{
		api.WithLogger(slog.Default()),
		api.WithAuthenticator(gate.Authenticator{
			MaxAge:         c.SessionMaxAge,
			CheckIP:        c.CheckIPConsistency,
			CheckUserAgent: c.CheckUserAgent,
		}),
		api.WithAuditTrail(audit.NewTrail(b.repo), auditKey),
		api.WithCookie(c.SessionCookie, c.CookieSecure),
		proxies,
	}
	if c.StaticDir != "" {
		opts = append(opts, api.WithBackend(http.FileServer(http.Dir(c.StaticDir))))
	}
	return opts, nil
}

// auditKeyFor returns the export signing key, or nil when no session secret
// is configured.
func auditKeyFor(c *config.Config) ([]byte, error) {
	if c.SessionSecret == "" {
		return nil, nil
	}
	key, err := c.AuditKey()
	if err != nil {
		return nil, fmt.Errorf("deriving audit key: %w", err)
	}
	return key, nil
}

func warnWithoutUsers(ctx context.Context, credentials *users.Store) {
	list, err := credentials.List(ctx)
	if err != nil {
		slog.Warn("failed to list users", "error", err)
		return
	}
	if len(list) == 0 {
		slog.Warn("no users configured; create one with `terminguard user create`")
	}
}

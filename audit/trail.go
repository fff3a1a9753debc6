// Package audit persists security events as a hash-chained trail and
// verifies exported chains offline.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmcleod/terminguard/storage"
)

const (
	// Namespace holds all audit records in the repository.
	Namespace = "__audit"

	recordType     = "AUDIT"
	headRecordType = "AUDIT_HEAD"
	headRecordID   = "current"
)

// GenesisHash is the prev_hash of the first entry in every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event identifies the type of security-relevant action being recorded.
type Event string

const (
	EventLoginSuccess     Event = "login_success"
	EventLoginFailure     Event = "login_failure"
	EventLoginLocked      Event = "login_locked"
	EventLoginRateLimited Event = "login_rate_limited"
	EventLockoutReset     Event = "lockout_reset"
	EventLogout           Event = "logout"
	EventAccessGranted    Event = "access_granted"
	EventAccessDenied     Event = "access_denied"
	EventCSRFRejected     Event = "csrf_rejected"
	EventSessionDestroyed Event = "session_destroyed"
	EventSessionError     Event = "session_store_error"
	EventUserCreated      Event = "user_created"
	EventTrailExported    Event = "audit_exported"
)

// Entry is one link of the audit chain.
type Entry struct {
	ID        string `json:"id"`
	Event     Event  `json:"event"`
	Username  string `json:"username,omitempty"`
	IP        string `json:"ip,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
	PrevHash  string `json:"prev_hash"`
}

// Export is the signed, self-contained form of a trail.
type Export struct {
	ExportedAt string  `json:"exported_at"`
	Head       string  `json:"head"`
	Entries    []Entry `json:"entries"`
	Signature  string  `json:"signature,omitempty"`
}

type head struct {
	Seq  uint64 `json:"seq"`
	Hash string `json:"hash"`
}

// ChainHash computes the link from an entry to its successor:
//
//	hash = SHA-256( prevHash || JSON(entry with prev_hash emptied) )
//
// The JSON encoding of Entry has a fixed field order, so every recorded
// field is covered and the hash is stable across processes.
func ChainHash(e Entry) string {
	prev := e.PrevHash
	e.PrevHash = ""
	body, _ := json.Marshal(e) // string fields only; cannot fail
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Trail appends entries to a repository-backed hash chain. Appends are
// serialized within the process; the chain head is persisted after every
// entry so restarts continue the same chain.
type Trail struct {
	repo storage.Repository
	now  func() time.Time

	mu     sync.Mutex
	head   head
	loaded bool
}

// Option configures a Trail.
type Option func(*Trail)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// NewTrail creates a Trail on top of repo.
func NewTrail(repo storage.Repository, opts ...Option) *Trail {
	t := &Trail{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Trail) loadHead(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	env, err := t.repo.Get(ctx, Namespace, headRecordType, headRecordID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		t.head = head{Hash: GenesisHash}
	case err != nil:
		return fmt.Errorf("loading audit head: %w", err)
	default:
		if err := storage.DecodeJSON(env, &t.head); err != nil {
			return fmt.Errorf("decoding audit head: %w", err)
		}
	}
	t.loaded = true
	return nil
}

// Append stores e as the next link in the chain. ID, CreatedAt and PrevHash
// are assigned by the trail; the stored entry is returned.
func (t *Trail) Append(ctx context.Context, e Entry) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadHead(ctx); err != nil {
		return Entry{}, err
	}

	next := head{Seq: t.head.Seq + 1}
	e.ID = fmt.Sprintf("%016d", next.Seq)
	e.CreatedAt = t.now().UTC().Format(time.RFC3339Nano)
	e.PrevHash = t.head.Hash
	next.Hash = ChainHash(e)

	env, err := storage.EncodeJSON(e)
	if err != nil {
		return Entry{}, err
	}
	if err := t.repo.Put(ctx, Namespace, recordType, e.ID, env); err != nil {
		return Entry{}, fmt.Errorf("storing audit entry: %w", err)
	}
	headEnv, err := storage.EncodeJSON(next)
	if err != nil {
		return Entry{}, err
	}
	if err := t.repo.Put(ctx, Namespace, headRecordType, headRecordID, headEnv); err != nil {
		return Entry{}, fmt.Errorf("storing audit head: %w", err)
	}
	t.head = next
	return e, nil
}

// All returns every entry in chain order.
func (t *Trail) All(ctx context.Context) ([]Entry, error) {
	ids, err := t.repo.List(ctx, Namespace, recordType)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		env, err := t.repo.Get(ctx, Namespace, recordType, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := storage.DecodeJSON(env, &e); err != nil {
			return nil, fmt.Errorf("decoding audit entry %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Export returns the whole trail. When key is non-empty the export carries
// an HMAC-SHA256 signature over its entries.
func (t *Trail) Export(ctx context.Context, key []byte) (*Export, error) {
	entries, err := t.All(ctx)
	if err != nil {
		return nil, err
	}
	exp := &Export{
		ExportedAt: t.now().UTC().Format(time.RFC3339),
		Head:       GenesisHash,
		Entries:    entries,
	}
	if n := len(entries); n > 0 {
		exp.Head = ChainHash(entries[n-1])
	}
	if len(key) > 0 {
		sig, err := Sign(exp.Entries, key)
		if err != nil {
			return nil, err
		}
		exp.Signature = sig
	}
	return exp, nil
}

// Sign returns the hex HMAC-SHA256 of the JSON encoding of entries.
func Sign(entries []Entry, key []byte) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

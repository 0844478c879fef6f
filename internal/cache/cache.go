// Package cache is a small SQLite-backed store for provider responses. Entries
// carry a TTL and may be served stale within a caller-supplied budget when a
// refresh fails.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Namespaces used by the quote pipeline.
const (
	NamespacePrices = "prices"
	NamespaceQuotes = "quotes"
	NamespaceTokens = "tokens"
	NamespaceGas    = "gas"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

// Usable reports whether the entry may be served under the stale budget.
func (r Result) Usable() bool {
	return r.Hit && !r.TooStale
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS bridge_cache (
			key TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			value BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			ttl_seconds INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS bridge_cache_namespace ON bridge_cache(namespace);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath), now: time.Now}
	_ = store.Prune()
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Key derives a stable cache key inside namespace from parts. Parts are
// joined in order, so callers must pass them in a canonical order.
func Key(namespace string, parts ...any) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%v\x1f", part)
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Prune deletes entries whose TTL has fully expired.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec("DELETE FROM bridge_cache WHERE created_at + ttl_seconds < ?", s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// Invalidate drops every entry of namespace.
func (s *Store) Invalidate(namespace string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.withLock(func() error {
		if _, err := s.db.Exec("DELETE FROM bridge_cache WHERE namespace = ?", namespace); err != nil {
			return fmt.Errorf("invalidate cache: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(key string, maxStale time.Duration) (Result, error) {
	var value []byte
	var createdUnix int64
	var ttlSeconds int64
	err := s.db.QueryRow("SELECT value, created_at, ttl_seconds FROM bridge_cache WHERE key = ?", key).Scan(&value, &createdUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	age := max(s.now().UTC().Sub(time.Unix(createdUnix, 0).UTC()), 0)
	ttl := time.Duration(ttlSeconds) * time.Second
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}, nil
}

// GetJSON reads key and decodes it into out when the entry is usable.
func (s *Store) GetJSON(key string, maxStale time.Duration, out any) (Result, error) {
	res, err := s.Get(key, maxStale)
	if err != nil || !res.Usable() {
		return res, err
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return Result{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return res, nil
}

func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	ttlSeconds := max(int64(ttl.Seconds()), 1)
	namespace, _, _ := strings.Cut(key, ":")
	return s.withLock(func() error {
		_, err := s.db.Exec(`
			INSERT INTO bridge_cache (key, namespace, value, created_at, ttl_seconds)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value=excluded.value,
				created_at=excluded.created_at,
				ttl_seconds=excluded.ttl_seconds
		`, key, namespace, value, s.now().UTC().Unix(), ttlSeconds)
		if err != nil {
			return fmt.Errorf("cache write: %w", err)
		}
		return nil
	})
}

func (s *Store) SetJSON(key string, value any, ttl time.Duration) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return s.Set(key, buf, ttl)
}

func (s *Store) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

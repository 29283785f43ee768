// ABOUTME: SQLite-backed response cache for the model client, wired in as llm middleware.
// ABOUTME: Keys are a digest of model, messages, sampling settings, and the caller's cache salt.
package llmcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/2389-research/stampede/llm"
)

const schema = `
CREATE TABLE IF NOT EXISTS responses (
	key        TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_created ON responses(created_at);
`

// Store memoizes completion responses in a local SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens a cache database at the given path. Use ":memory:"
// for an ephemeral cache.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key computes the cache key for a request: a hex digest over the model,
// full message list, sampling settings, and the caller-supplied salt.
func Key(req llm.Request) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(struct {
		Model       string
		Messages    []llm.Message
		Temperature *float64
		MaxTokens   *int
		Effort      string
		Salt        string
	}{req.Model, req.Messages, req.Temperature, req.MaxTokens, req.ReasoningEffort, req.CacheSalt})
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response for key, or (nil, nil) on a miss.
func (s *Store) Get(key string) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var body string
	err := s.db.QueryRow(`SELECT body FROM responses WHERE key = ?`, key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	var resp llm.Response
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

// Put stores a response under key, replacing any existing entry.
func (s *Store) Put(key string, resp *llm.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO responses (key, model, body, created_at) VALUES (?, ?, ?, ?)`,
		key, resp.Model, string(body), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Prune deletes entries older than the given age and returns how many were
// removed.
func (s *Store) Prune(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM responses WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Middleware returns llm middleware that serves completions from the cache
// and stores misses on the way out. Failures to read or write the cache are
// swallowed; the call proceeds uncached.
func (s *Store) Middleware() llm.Middleware {
	return func(ctx context.Context, req llm.Request, next llm.NextFunc) (*llm.Response, error) {
		key := Key(req)
		if cached, err := s.Get(key); err == nil && cached != nil {
			return cached, nil
		}
		resp, err := next(ctx, req)
		if err != nil {
			return nil, err
		}
		_ = s.Put(key, resp)
		return resp, nil
	}
}

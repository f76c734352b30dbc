// Package idempotency replays responses for repeated Idempotency-Key
// requests against the invoice endpoints.
package idempotency

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"lukechampine.com/blake3"
)

// HeaderKey is the request header carrying the client-chosen key.
const HeaderKey = "Idempotency-Key"

// ErrMismatch is returned when a key is reused with a different request.
var ErrMismatch = errors.New("idempotency key reuse with different request body")

// StoredResponse is a cached response.
type StoredResponse struct {
	Status int
	Body   []byte
}

// Store keeps responses in SQLite for ttl.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens the store at path; ":memory:" works for tests.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("idempotency: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	store := &Store{db: db, ttl: ttl, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS idempotency_keys (
            scope TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at INTEGER NOT NULL,
            PRIMARY KEY(scope, idempotency_key)
        );`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("idempotency: init: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Fingerprint hashes method, path and body with BLAKE3.
func Fingerprint(method, path string, body []byte) string {
	h := blake3.New(32, nil)
	_, _ = io.WriteString(h, strings.ToUpper(method))
	_, _ = h.Write([]byte{0})
	_, _ = io.WriteString(h, path)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the stored response for key, nil when absent or expired,
// and ErrMismatch when key was used for a different request.
func (s *Store) Lookup(ctx context.Context, scope, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash, created_at FROM idempotency_keys WHERE scope = ? AND idempotency_key = ?`
	var (
		resp      StoredResponse
		hash      string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, scope, key).Scan(&resp.Status, &resp.Body, &hash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: lookup: %w", err)
	}
	if s.now().Sub(time.Unix(0, createdAt)) > s.ttl {
		return nil, nil
	}
	if hash != requestHash {
		return nil, ErrMismatch
	}
	return &resp, nil
}

// Save stores a response, replacing an expired entry for the same key.
func (s *Store) Save(ctx context.Context, scope, key, requestHash string, resp StoredResponse) error {
	const stmt = `INSERT INTO idempotency_keys (scope, idempotency_key, request_hash, response_status, response_body, created_at)
            VALUES (?, ?, ?, ?, ?, ?)
            ON CONFLICT(scope, idempotency_key) DO UPDATE SET
                request_hash = excluded.request_hash,
                response_status = excluded.response_status,
                response_body = excluded.response_body,
                created_at = excluded.created_at`
	if _, err := s.db.ExecContext(ctx, stmt, scope, key, requestHash, resp.Status, resp.Body, s.now().UnixNano()); err != nil {
		return fmt.Errorf("idempotency: save: %w", err)
	}
	return nil
}

// Prune deletes entries older than the ttl.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("idempotency: prune: %w", err)
	}
	return res.RowsAffected()
}

// Middleware replays stored responses for requests carrying HeaderKey.
// Only 2xx responses are stored so failed attempts can be retried.
func (s *Store) Middleware(scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderKey))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 128 {
				http.Error(w, "idempotency key too long", http.StatusBadRequest)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				http.Error(w, "read body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := Fingerprint(r.Method, r.URL.Path, body)

			stored, err := s.Lookup(r.Context(), scope, key, hash)
			switch {
			case errors.Is(err, ErrMismatch):
				http.Error(w, err.Error(), http.StatusConflict)
				return
			case err != nil:
				logger.Error("idempotency lookup failed", slog.String("scope", scope), slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			case stored != nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < 200 || rec.status >= 300 {
				return
			}
			if err := s.Save(r.Context(), scope, key, hash, StoredResponse{Status: rec.status, Body: rec.buf.Bytes()}); err != nil {
				logger.Warn("idempotency save failed", slog.String("scope", scope), slog.Any("error", err))
			}
		})
	}
}

type recorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

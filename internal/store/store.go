package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hoopadvisors/courtside/internal/telemetry"

	_ "modernc.org/sqlite"
)

// Store is a durable string-keyed blob store backed by SQLite. Game records
// are written through it on every mutation; the in-memory maps in the scope
// actors are rebuilt from it at startup, never the reverse.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `CREATE TABLE IF NOT EXISTS kv (
	k          TEXT PRIMARY KEY,
	v          BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init kv schema: %w", err)
	}

	var size int64
	db.QueryRow(`SELECT COALESCE(page_count * page_size, 0) FROM pragma_page_count(), pragma_page_size()`).Scan(&size)
	var rows int64
	db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&rows)

	telemetry.Plainf("store: opened %s  size=%s  keys=%d", path, humanize.Bytes(uint64(size)), rows)
	return &Store{db: db}, nil
}

// Get returns the value for a key, with found=false when the key is absent.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v []byte
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return v, true, nil
}

// Put upserts a key. The write is durable once this returns (WAL + single
// connection), so callers may broadcast immediately after.
func (s *Store) Put(key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO kv (k, v, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		key, val, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		telemetry.Metrics.PersistErrors.Inc()
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	telemetry.Metrics.PersistLatency.Record(time.Since(start))
	return nil
}

// List returns every key/value pair whose key starts with prefix.
func (s *Store) List(prefix string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT k, v FROM kv WHERE k >= ? AND k < ?`, prefix, prefixEnd(prefix))
	if err != nil {
		return nil, fmt.Errorf("kv list %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("kv list scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// DeleteAll removes every key under prefix. Used by scope resets.
func (s *Store) DeleteAll(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM kv WHERE k >= ? AND k < ?`, prefix, prefixEnd(prefix)); err != nil {
		telemetry.Metrics.PersistErrors.Inc()
		return fmt.Errorf("kv delete %s: %w", prefix, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// prefixEnd returns the smallest string greater than every string with the
// given prefix, for half-open range scans on the primary key index.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return string(append(b, 0xff))
}

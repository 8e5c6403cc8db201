package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore is a SQL-backed snapshot store using SQLite syntax. It creates
// its table on first use:
//
//	CREATE TABLE IF NOT EXISTS tablesync_snapshots (
//	    id TEXT PRIMARY KEY,
//	    data BLOB NOT NULL,
//	    updated_at INTEGER NOT NULL
//	);
type SQLStore struct {
	db        *sql.DB
	tableName string
	ownsDB    bool
	now       func() time.Time

	mu     sync.Mutex
	closed bool
}

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tableName string
	now       func() time.Time
}

// WithSQLTableName sets the table name for snapshot storage.
// Default: "tablesync_snapshots".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.tableName = name
	}
}

// WithSQLClock sets the clock used for updated_at.
func WithSQLClock(now func() time.Time) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.now = now
	}
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sqlitePragmas are applied by the driver to every new connection.
const sqlitePragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// OpenSQLite opens the SQLite database at path and returns a store that
// closes it on Close.
func OpenSQLite(ctx context.Context, path string, opts ...SQLStoreOption) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + sqlitePragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite db: %w", err)
	}
	s, err := NewSQLStore(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLStore returns a store on db and creates its table if missing. The
// caller keeps ownership of db.
func NewSQLStore(ctx context.Context, db *sql.DB, opts ...SQLStoreOption) (*SQLStore, error) {
	cfg := &sqlStoreConfig{
		tableName: "tablesync_snapshots",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if !tableNamePattern.MatchString(cfg.tableName) {
		return nil, fmt.Errorf("store: invalid table name %q", cfg.tableName)
	}

	s := &SQLStore{db: db, tableName: cfg.tableName, now: cfg.now}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`, s.tableName)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("store: create table: %w", err)
	}
	return s, nil
}

func (s *SQLStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Save upserts data under key.
func (s *SQLStore) Save(ctx context.Context, key string, data []byte) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, s.tableName)
	_, err := s.db.ExecContext(ctx, query, key, data, s.now().UTC().UnixMilli())
	return err
}

// Load returns the data saved under key.
func (s *SQLStore) Load(ctx context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, s.tableName)
	var data []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// UpdatedAt returns when key was last saved.
func (s *SQLStore) UpdatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	if s.isClosed() {
		return time.Time{}, false, ErrStoreClosed
	}
	query := fmt.Sprintf(`SELECT updated_at FROM %s WHERE id = ?`, s.tableName)
	var ms int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// Delete removes key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.tableName)
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

// Close closes the store, and the database if the store opened it.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Package store persists timewall state in SQLite behind a typed
// repository. Two partitions mirror the browser storage split: a
// single-row settings table (user policy) and a single-row local state
// table (live counters, session pointer, idle flags, history, insights
// cache). Writers fan change notifications out to registered listeners.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Partition identifies which storage partition a change touched.
type Partition string

const (
	PartitionSettings Partition = "settings"
	PartitionLocal    Partition = "local"
)

// ChangeEvent describes a completed write.
type ChangeEvent struct {
	Partition Partition
	Keys      []string
}

// Listener receives change notifications after successful writes.
type Listener func(ChangeEvent)

// Config holds database configuration.
type Config struct {
	Path     string // SQLite database file, or ":memory:" for tests
	MaxConns int    // max open connections (default 4)
	LogLevel logger.LogLevel
}

// Store is the SQLite-backed repository.
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB

	mu        sync.RWMutex
	listeners []Listener
}

// NewStore opens the database, runs migrations, and seeds the singleton
// settings and state rows. WAL mode and a busy timeout keep concurrent
// reads from the HTTP layer cheap.
func NewStore(cfg Config) (*Store, error) {
	dsn := cfg.Path + "?_foreign_keys=ON"

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, sqlDB: sqlDB}
	if err := s.seedRows(); err != nil {
		return nil, fmt.Errorf("seed rows: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.sqlDB.Ping()
}

// OnChange registers a listener for change notifications. Listeners run
// synchronously after the triggering write commits.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(ev ChangeEvent) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

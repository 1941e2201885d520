// Package sqlstore implements the key-value port on database/sql for the
// sqlite and mysql drivers
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/domain"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect selects driver-specific SQL
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

func (d Dialect) upsert() string {
	switch d {
	case DialectMySQL:
		return `INSERT INTO kv_store (kv_key, kv_value, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE kv_value = VALUES(kv_value), updated_at = VALUES(updated_at)`
	default:
		return `INSERT INTO kv_store (kv_key, kv_value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(kv_key) DO UPDATE SET kv_value = excluded.kv_value, updated_at = excluded.updated_at`
	}
}

// Store implements domain.KVStore on a kv_store table
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// OpenSQLite opens (creating if needed) a sqlite database file
func OpenSQLite(ctx context.Context, cfg config.StorageConfig) (domain.KVStore, error) {
	path := cfg.SQLite.Path
	if path == "" {
		return nil, fmt.Errorf("database file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, DialectSQLite), nil
}

// OpenMySQL connects to a mysql server
func OpenMySQL(ctx context.Context, cfg config.StorageConfig) (domain.KVStore, error) {
	db, err := sql.Open("mysql", cfg.MySQL.MySQLDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MySQL.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MySQL.MaxConns))
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, DialectMySQL), nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT kv_value FROM kv_store WHERE kv_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert(), key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE kv_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

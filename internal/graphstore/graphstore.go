// Package graphstore persists the code graph behind a typed API. It is the
// only package that knows the storage dialect; callers operate on entities
// and relationships. Two backends are supported: an embedded sqlite file
// and a Dolt repository for versioned deployments.
package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/dolthub/driver"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/config"
)

// Store manages the graph database.
type Store struct {
	db           *sql.DB
	backend      string
	queryTimeout time.Duration
	logger       *zap.Logger
}

// Open opens or creates the graph database for the configured backend and
// initializes the schema. Index creation failures are logged but non-fatal.
func Open(cfg config.StorageConfig, logger *zap.Logger) (*Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Backend {
	case "dolt":
		db, err = openDolt(cfg.Path)
	default:
		db, err = openSQLite(cfg.Path)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnection, "open graph database", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &Store{
		db:           db,
		backend:      cfg.Backend,
		queryTimeout: time.Duration(cfg.QueryTimeoutMS) * time.Millisecond,
		logger:       logger,
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.CodeDBQuery, "init graph schema", err)
	}
	s.ensureIndexes()

	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

func openDolt(path string) (*sql.DB, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create dolt directory: %w", err)
	}

	initDSN := fmt.Sprintf("file://%s?commitname=Atlas&commitemail=atlas@local", path)
	initDB, err := sql.Open("dolt", initDSN)
	if err != nil {
		return nil, fmt.Errorf("open dolt for init: %w", err)
	}
	if _, err := initDB.Exec("CREATE DATABASE IF NOT EXISTS atlas"); err != nil {
		initDB.Close()
		return nil, fmt.Errorf("create database: %w", err)
	}
	initDB.Close()

	dsn := fmt.Sprintf("file://%s?commitname=Atlas&commitemail=atlas@local&database=atlas", path)
	db, err := sql.Open("dolt", dsn)
	if err != nil {
		return nil, fmt.Errorf("open dolt db: %w", err)
	}
	return db, nil
}

// ensureIndexes runs idempotent DDL for every index, logging failures.
func (s *Store) ensureIndexes() {
	for _, ddl := range indexSQL {
		if _, err := s.db.Exec(ddl); err != nil {
			s.logger.Warn("index creation failed", zap.String("ddl", ddl), zap.Error(err))
		}
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// opContext bounds one operation with the configured query timeout.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// inTransaction runs fn inside a transaction that commits on nil return and
// rolls back on error. Partial success is never observable.
func (s *Store) inTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Package store is the persistence gateway: repositories over a relational
// database with row-level locking and atomic multi-statement execution. No
// code outside the transaction engine may write coins or parcel ownership.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
	d  dialect

	Players   *PlayerRepo
	Parcels   *ParcelRepo
	Catalog   *CatalogRepo
	Objects   *ObjectRepo
	Inventory *InventoryRepo
	EconLog   *EconLogRepo
}

// Open connects to the gateway. driver is "sqlite" or "mysql"; for sqlite the
// dsn is a file path and the write lock is taken at transaction begin.
func Open(driver, dsn string) (*Store, error) {
	var (
		d   dialect
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite", "":
		d = sqliteDialect{}
		if dsn == "" {
			return nil, fmt.Errorf("empty sqlite path")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
		// _txlock=immediate makes BEGIN take the write lock up front, so
		// concurrent purchase transactions queue instead of failing late.
		if !strings.Contains(dsn, "_txlock") {
			dsn = "file:" + dsn + "?_txlock=immediate"
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if err := initSQLitePragmas(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	case "mysql":
		d = mysqlDialect{}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(30 * time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}

	if err := initSchema(db, d); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, d: d}
	s.Players = &PlayerRepo{db: db, d: d}
	s.Parcels = &ParcelRepo{db: db, d: d}
	s.Catalog = &CatalogRepo{db: db, d: d}
	s.Objects = &ObjectRepo{db: db, d: d}
	s.Inventory = &InventoryRepo{db: db, d: d}
	s.EconLog = &EconLogRepo{db: db, d: d}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// BeginTx starts an atomic multi-statement transaction against the gateway.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func initSQLitePragmas(db *sql.DB) error {
	// WAL keeps readers unblocked during purchase transactions.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB, d dialect) error {
	for _, stmt := range d.schema() {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func now() int64 { return time.Now().UTC().Unix() }

package store

import "strings"

// dialect abstracts the two supported gateways: embedded sqlite (default)
// and mysql, which offers true row-level locks via SELECT ... FOR UPDATE.
// With sqlite the transaction itself takes the database write lock at BEGIN
// IMMEDIATE, which subsumes per-row locking for our single-writer workload.
type dialect interface {
	name() string
	schema() []string
	// forUpdate is appended to row-lock SELECTs; empty on sqlite.
	forUpdate() string
	// insertIgnore is the INSERT prefix that skips duplicate-key rows.
	insertIgnore() string
	isUniqueViolation(err error) bool
}

type sqliteDialect struct{}

func (sqliteDialect) name() string      { return "sqlite" }
func (sqliteDialect) forUpdate() string { return "" }
func (sqliteDialect) insertIgnore() string {
	return "INSERT OR IGNORE"
}
func (sqliteDialect) isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (sqliteDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			coins INTEGER NOT NULL CHECK (coins >= 0),
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS parcels (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			owner_id INTEGER REFERENCES players(id),
			is_system INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE (x, y)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_parcels_owner ON parcels(owner_id);`,
		`CREATE TABLE IF NOT EXISTS catalog_objects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			width INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			price INTEGER NOT NULL,
			is_free INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS placed_objects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parcel_id INTEGER NOT NULL REFERENCES parcels(id),
			object_id INTEGER NOT NULL REFERENCES catalog_objects(id),
			local_x INTEGER NOT NULL,
			local_y INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_placed_parcel ON placed_objects(parcel_id);`,
		`CREATE TABLE IF NOT EXISTS inventory_unlocks (
			player_id INTEGER NOT NULL REFERENCES players(id),
			object_id INTEGER NOT NULL REFERENCES catalog_objects(id),
			created_at INTEGER NOT NULL,
			PRIMARY KEY (player_id, object_id)
		);`,
		`CREATE TABLE IF NOT EXISTS economy_log (
			id TEXT PRIMARY KEY,
			player_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			amount INTEGER NOT NULL,
			balance_before INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			meta TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_econlog_player ON economy_log(player_id, created_at);`,
	}
}

type mysqlDialect struct{}

func (mysqlDialect) name() string      { return "mysql" }
func (mysqlDialect) forUpdate() string { return " FOR UPDATE" }
func (mysqlDialect) insertIgnore() string {
	return "INSERT IGNORE"
}
func (mysqlDialect) isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Error 1062")
}

func (mysqlDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS players (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(64) NOT NULL UNIQUE,
			coins BIGINT NOT NULL CHECK (coins >= 0),
			created_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS parcels (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			x INT NOT NULL,
			y INT NOT NULL,
			owner_id BIGINT NULL,
			is_system TINYINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			UNIQUE KEY uq_parcels_xy (x, y),
			KEY idx_parcels_owner (owner_id),
			FOREIGN KEY (owner_id) REFERENCES players(id)
		);`,
		`CREATE TABLE IF NOT EXISTS catalog_objects (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(64) NOT NULL UNIQUE,
			width INT NOT NULL,
			depth INT NOT NULL,
			price BIGINT NOT NULL,
			is_free TINYINT NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS placed_objects (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			parcel_id BIGINT NOT NULL,
			object_id BIGINT NOT NULL,
			local_x INT NOT NULL,
			local_y INT NOT NULL,
			created_at BIGINT NOT NULL,
			KEY idx_placed_parcel (parcel_id),
			FOREIGN KEY (parcel_id) REFERENCES parcels(id),
			FOREIGN KEY (object_id) REFERENCES catalog_objects(id)
		);`,
		`CREATE TABLE IF NOT EXISTS inventory_unlocks (
			player_id BIGINT NOT NULL,
			object_id BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (player_id, object_id),
			FOREIGN KEY (player_id) REFERENCES players(id),
			FOREIGN KEY (object_id) REFERENCES catalog_objects(id)
		);`,
		`CREATE TABLE IF NOT EXISTS economy_log (
			id VARCHAR(36) PRIMARY KEY,
			player_id BIGINT NOT NULL,
			action VARCHAR(32) NOT NULL,
			amount BIGINT NOT NULL,
			balance_before BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			meta TEXT NOT NULL,
			origin VARCHAR(64) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			KEY idx_econlog_player (player_id, created_at)
		);`,
	}
}

package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// NormalizeDriver maps accepted driver spellings to the registered sql driver name.
func NormalizeDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		return "sqlite3"
	default:
		return strings.ToLower(driver)
	}
}

// Open connects to the ledger database.
func Open(driver, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch NormalizeDriver(driver) {
	case "sqlite3":
		if dsn == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one connection keeps :memory: databases shared and serialises writers
		db.SetMaxOpenConns(1)
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("mysql dsn must be provided")
		}
		normalized, err := MySQLDSN(dsn)
		if err != nil {
			return nil, err
		}
		db, err = sql.Open("mysql", normalized)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// MySQLDSN makes the driver scan DATETIME columns into time.Time in UTC.
func MySQLDSN(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}

// Migrate creates the uploads table if needed.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch NormalizeDriver(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS uploads (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				file_name TEXT NOT NULL,
				stored_path TEXT NOT NULL,
				size INTEGER NOT NULL,
				status TEXT NOT NULL,
				error TEXT,
				created_at DATETIME NOT NULL,
				finished_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_uploads_session ON uploads(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_uploads_finished ON uploads(finished_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS uploads (
				id VARCHAR(36) NOT NULL,
				session_id VARCHAR(255) NOT NULL,
				file_name VARCHAR(255) NOT NULL,
				stored_path TEXT NOT NULL,
				size BIGINT NOT NULL,
				status VARCHAR(50) NOT NULL,
				error TEXT,
				created_at DATETIME(3) NOT NULL,
				finished_at DATETIME(3) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_uploads_session (session_id),
				INDEX idx_uploads_finished (finished_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

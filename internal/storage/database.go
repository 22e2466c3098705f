package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"docvoice/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver type.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				owner_id INTEGER NOT NULL,
				document_ref TEXT NOT NULL,
				document_name TEXT NOT NULL,
				language TEXT NOT NULL,
				summarize INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				result_text TEXT,
				audio_ref TEXT,
				timestamps_json TEXT,
				markers TEXT,
				failure_reason TEXT,
				created_at DATETIME NOT NULL,
				completed_at DATETIME
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				id VARCHAR(64) NOT NULL,
				owner_id BIGINT NOT NULL,
				document_ref VARCHAR(255) NOT NULL,
				document_name VARCHAR(255) NOT NULL,
				language VARCHAR(16) NOT NULL,
				summarize TINYINT(1) NOT NULL DEFAULT 0,
				status VARCHAR(16) NOT NULL,
				result_text MEDIUMTEXT,
				audio_ref VARCHAR(255),
				timestamps_json MEDIUMTEXT,
				markers TEXT,
				failure_reason TEXT,
				created_at DATETIME NOT NULL,
				completed_at DATETIME,
				PRIMARY KEY (id),
				INDEX idx_jobs_owner (owner_id),
				INDEX idx_jobs_status (status)
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

package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"virtualgo/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database selected by dbType using the matching config entry.
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
		// An in-memory database exists per connection, so the pool must not
		// grow past the connection that ran the migrations.
		if strings.Contains(dbCfg.DSN, ":memory:") {
			db.SetMaxOpenConns(1)
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
//
// chat_memory holds one row per conversation: conversation_id is the durable
// identity, (user_id, agent_id) is the directory index, and messages is the
// encoded history blob. Both uniqueness constraints are load-bearing; the
// directory relies on uniq_user_agent to reject duplicate conversations minted
// by concurrent first turns.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				nickname TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL,
				status INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chat_memory (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				last_role TEXT NOT NULL DEFAULT '',
				last_content TEXT NOT NULL DEFAULT '',
				messages TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uniq_conversation_id ON chat_memory(conversation_id)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uniq_user_agent ON chat_memory(user_id, agent_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				username VARCHAR(255) NOT NULL UNIQUE,
				nickname VARCHAR(255) NOT NULL DEFAULT '',
				password_hash VARCHAR(255) NOT NULL,
				status TINYINT NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chat_memory (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				conversation_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				agent_id VARCHAR(64) NOT NULL,
				last_role VARCHAR(50) NOT NULL DEFAULT '',
				last_content TEXT NOT NULL,
				messages MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_conversation_id (conversation_id),
				UNIQUE KEY uniq_user_agent (user_id, agent_id)
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

package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
	_ "modernc.org/sqlite"
)

// openSQLite opens a SQLite database connection using the pure-Go
// modernc.org/sqlite driver (no CGO required).
func openSQLite(cfg domain.StoreConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./smartunderwrite.db"
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	if path == ":memory:" {
		// cache=shared keeps the single in-process connection pool
		// pointed at the same in-memory database across opens.
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows only one writer at a time; keep the pool small so
	// callers block on database/sql rather than hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return db, nil
}

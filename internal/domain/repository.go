// Package domain defines the core interfaces and types for SmartUnderwrite.
package domain

import (
	"context"
	"time"
)

// RuleStore persists Rule and RuleVersion rows (spec §4.3/§6). Implementations
// must serialize mutations per originalRuleId so version numbers stay
// monotonic under concurrent requests (spec §5).
type RuleStore interface {
	GetActive(ctx context.Context) ([]*Rule, error)
	GetByID(ctx context.Context, id int64) (*Rule, error)
	GetAll(ctx context.Context) ([]*Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id int64) error

	GetHistory(ctx context.Context, originalRuleID int64) ([]*RuleVersion, error)
	GetLatestVersion(ctx context.Context, originalRuleID int64) (*RuleVersion, error)
	CreateVersion(ctx context.Context, version *RuleVersion) (*RuleVersion, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for RuleStore initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

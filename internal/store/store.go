package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// maxVersionConflictRetries bounds the retry loop in CreateVersion; a
// UNIQUE(original_rule_id, version) violation there means two concurrent
// mutations raced for the same originalRuleId.
const maxVersionConflictRetries = 5

// SQLStore implements domain.RuleStore over database/sql, supporting both
// SQLite and PostgreSQL behind the same queries via rebind.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New opens a store based on cfg.Driver and runs schema migration.
func New(cfg domain.StoreConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}

	if cfg.MaxOpenConns > 0 && cfg.Driver == "postgres" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migration failed: %v", domain.ErrInternal, err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, stmt := range schemasFor(s.driver) {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			out = append(out, '$')
			out = append(out, fmt.Sprintf("%d", n)...)
			n++
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func boolToInt(driver string, b bool) any {
	if driver == "postgres" {
		return b
	}
	if b {
		return 1
	}
	return 0
}

func (s *SQLStore) GetActive(ctx context.Context) ([]*domain.Rule, error) {
	query := s.rebind(`
		SELECT id, name, description, priority, active, definition, created_at, updated_at
		FROM rules WHERE active = ? ORDER BY priority ASC, id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, boolToInt(s.driver, true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *SQLStore) GetAll(ctx context.Context) ([]*domain.Rule, error) {
	query := `SELECT id, name, description, priority, active, definition, created_at, updated_at FROM rules ORDER BY priority ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func scanRules(rows *sql.Rows) ([]*domain.Rule, error) {
	var out []*domain.Rule
	for rows.Next() {
		r, active, err := scanRuleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		r.Active = active
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRuleRow(row scanner) (*domain.Rule, bool, error) {
	var r domain.Rule
	var activeVal any
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Priority, &activeVal, &r.Definition, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, false, err
	}
	return &r, toBool(activeVal), nil
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	default:
		return false
	}
}

func (s *SQLStore) GetByID(ctx context.Context, id int64) (*domain.Rule, error) {
	query := s.rebind(`SELECT id, name, description, priority, active, definition, created_at, updated_at FROM rules WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, query, id)
	r, active, err := scanRuleRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	r.Active = active
	return r, nil
}

func (s *SQLStore) Create(ctx context.Context, rule *domain.Rule) error {
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := s.rebind(`
		INSERT INTO rules (name, description, priority, active, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if s.driver == "postgres" {
		query += " RETURNING id"
		var id int64
		err := s.db.QueryRowContext(ctx, query, rule.Name, rule.Description, rule.Priority,
			boolToInt(s.driver, rule.Active), rule.Definition, now, now).Scan(&id)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		rule.ID = id
		return nil
	}

	result, err := s.db.ExecContext(ctx, query, rule.Name, rule.Description, rule.Priority,
		boolToInt(s.driver, rule.Active), rule.Definition, now, now)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	rule.ID = id
	return nil
}

func (s *SQLStore) Update(ctx context.Context, rule *domain.Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	query := s.rebind(`
		UPDATE rules SET name = ?, description = ?, priority = ?, active = ?, definition = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.ExecContext(ctx, query, rule.Name, rule.Description, rule.Priority,
		boolToInt(s.driver, rule.Active), rule.Definition, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return mustAffectOne(result)
}

func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return mustAffectOne(result)
}

func mustAffectOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetHistory(ctx context.Context, originalRuleID int64) ([]*domain.RuleVersion, error) {
	query := s.rebind(`
		SELECT id, original_rule_id, name, description, definition, priority, active, version, created_at, created_by, change_reason
		FROM rule_versions WHERE original_rule_id = ? ORDER BY version ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, originalRuleID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	defer rows.Close()

	var out []*domain.RuleVersion
	for rows.Next() {
		v, active, err := scanVersionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		v.Active = active
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVersionRow(row scanner) (*domain.RuleVersion, bool, error) {
	var v domain.RuleVersion
	var activeVal any
	if err := row.Scan(&v.ID, &v.OriginalRuleID, &v.Name, &v.Description, &v.Definition,
		&v.Priority, &activeVal, &v.Version, &v.CreatedAt, &v.CreatedBy, &v.ChangeReason); err != nil {
		return nil, false, err
	}
	return &v, toBool(activeVal), nil
}

func (s *SQLStore) GetLatestVersion(ctx context.Context, originalRuleID int64) (*domain.RuleVersion, error) {
	query := s.rebind(`
		SELECT id, original_rule_id, name, description, definition, priority, active, version, created_at, created_by, change_reason
		FROM rule_versions WHERE original_rule_id = ? ORDER BY version DESC LIMIT 1
	`)
	row := s.db.QueryRowContext(ctx, query, originalRuleID)
	v, active, err := scanVersionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	v.Active = active
	return v, nil
}

// CreateVersion assigns the next monotonic version number for
// version.OriginalRuleID inside a transaction and inserts the snapshot.
// A UNIQUE(original_rule_id, version) violation under concurrent writers
// is retried a bounded number of times before surfacing domain.ErrConflict.
func (s *SQLStore) CreateVersion(ctx context.Context, version *domain.RuleVersion) (*domain.RuleVersion, error) {
	var created *domain.RuleVersion
	for attempt := 0; attempt < maxVersionConflictRetries; attempt++ {
		var err error
		created, err = s.createVersionOnce(ctx, version)
		if err == nil {
			return created, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
	}
	return nil, fmt.Errorf("%w: exhausted retries allocating version for rule %d", domain.ErrConflict, version.OriginalRuleID)
}

func (s *SQLStore) createVersionOnce(ctx context.Context, version *domain.RuleVersion) (*domain.RuleVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var maxVersion int
	row := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(version), 0) FROM rule_versions WHERE original_rule_id = ?`), version.OriginalRuleID)
	if err := row.Scan(&maxVersion); err != nil {
		return nil, err
	}
	version.Version = maxVersion + 1
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	query := s.rebind(`
		INSERT INTO rule_versions (original_rule_id, name, description, definition, priority, active, version, created_at, created_by, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if s.driver == "postgres" {
		query += " RETURNING id"
		var id int64
		err = tx.QueryRowContext(ctx, query, version.OriginalRuleID, version.Name, version.Description, version.Definition,
			version.Priority, boolToInt(s.driver, version.Active), version.Version, version.CreatedAt, version.CreatedBy, version.ChangeReason).Scan(&id)
		if err != nil {
			return nil, err
		}
		version.ID = id
	} else {
		result, execErr := tx.ExecContext(ctx, query, version.OriginalRuleID, version.Name, version.Description, version.Definition,
			version.Priority, boolToInt(s.driver, version.Active), version.Version, version.CreatedAt, version.CreatedBy, version.ChangeReason)
		if execErr != nil {
			return nil, execErr
		}
		id, idErr := result.LastInsertId()
		if idErr != nil {
			return nil, idErr
		}
		version.ID = id
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return version, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value violates unique constraint")
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// SaveDecision upserts a decision row. Used both for the initial Submitted
// record and for every subsequent status transition (Evaluated, override).
func (s *SQLStore) SaveDecision(ctx context.Context, d *domain.Decision) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	var resultJSON []byte
	if d.Result != nil {
		var err error
		resultJSON, err = json.Marshal(d.Result)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
	}

	query := s.rebind(`
		INSERT INTO decisions (id, application_id, affiliate_id, status, result, overridden_by, override_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if s.driver == "postgres" {
		query += ` ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, result = EXCLUDED.result,
			overridden_by = EXCLUDED.overridden_by, override_reason = EXCLUDED.override_reason, updated_at = EXCLUDED.updated_at`
	} else {
		query += ` ON CONFLICT(id) DO UPDATE SET status = excluded.status, result = excluded.result,
			overridden_by = excluded.overridden_by, override_reason = excluded.override_reason, updated_at = excluded.updated_at`
	}

	_, err := s.db.ExecContext(ctx, query, d.ID, d.ApplicationID, d.AffiliateID, string(d.Status),
		nullableString(resultJSON), nullableString([]byte(d.OverriddenBy)), nullableString([]byte(d.OverrideReason)),
		d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return nil
}

// GetDecision loads a decision by ID.
func (s *SQLStore) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	query := s.rebind(`
		SELECT id, application_id, affiliate_id, status, result, overridden_by, override_reason, created_at, updated_at
		FROM decisions WHERE id = ?
	`)
	row := s.db.QueryRowContext(ctx, query, id)

	var d domain.Decision
	var resultJSON, overriddenBy, overrideReason sql.NullString
	err := row.Scan(&d.ID, &d.ApplicationID, &d.AffiliateID, &d.Status, &resultJSON, &overriddenBy, &overrideReason, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}

	d.OverriddenBy = overriddenBy.String
	d.OverrideReason = overrideReason.String
	if resultJSON.Valid && resultJSON.String != "" {
		var result domain.EvaluationResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		d.Result = &result
	}
	return &d, nil
}

// ListDecisions returns all decisions recorded for an affiliate, most
// recent first.
func (s *SQLStore) ListDecisions(ctx context.Context, affiliateID string) ([]*domain.Decision, error) {
	query := s.rebind(`
		SELECT id, application_id, affiliate_id, status, result, overridden_by, override_reason, created_at, updated_at
		FROM decisions WHERE affiliate_id = ? ORDER BY created_at DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	defer rows.Close()

	var out []*domain.Decision
	for rows.Next() {
		var d domain.Decision
		var resultJSON, overriddenBy, overrideReason sql.NullString
		if err := rows.Scan(&d.ID, &d.ApplicationID, &d.AffiliateID, &d.Status, &resultJSON, &overriddenBy, &overrideReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		d.OverriddenBy = overriddenBy.String
		d.OverrideReason = overrideReason.String
		if resultJSON.Valid && resultJSON.String != "" {
			var result domain.EvaluationResult
			if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
			}
			d.Result = &result
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/dayboard/internal/model"
)

type OverrideStore struct {
	db *sql.DB
}

func NewOverrideStore(db *sql.DB) *OverrideStore {
	return &OverrideStore{db: db}
}

func scanOverride(scanner interface{ Scan(...any) error }) (*model.FeatureOverride, error) {
	var o model.FeatureOverride
	var createdBy sql.NullInt64
	err := scanner.Scan(&o.ID, &o.Scope, &o.TargetID, &o.Capability, &o.Granted, &createdBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.CreatedBy = nullInt64(createdBy)
	return &o, nil
}

const overrideCols = `id, scope, target_id, capability, granted, created_by, created_at, updated_at`

// Set creates or replaces the override for (scope, target, capability).
func (s *OverrideStore) Set(scope string, targetID int64, capability string, granted bool, createdBy int64) (*model.FeatureOverride, error) {
	_, err := s.db.Exec(
		`INSERT INTO feature_overrides (scope, target_id, capability, granted, created_by)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (scope, target_id, capability)
		 DO UPDATE SET granted = excluded.granted, created_by = excluded.created_by, updated_at = CURRENT_TIMESTAMP`,
		scope, targetID, capability, granted, createdBy,
	)
	if err != nil {
		return nil, fmt.Errorf("set override: %w", err)
	}
	return s.Get(scope, targetID, capability)
}

func (s *OverrideStore) Get(scope string, targetID int64, capability string) (*model.FeatureOverride, error) {
	row := s.db.QueryRow(
		`SELECT `+overrideCols+` FROM feature_overrides WHERE scope = ? AND target_id = ? AND capability = ?`,
		scope, targetID, capability,
	)
	o, err := scanOverride(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	return o, nil
}

// Delete removes an override and reports whether one existed.
func (s *OverrideStore) Delete(scope string, targetID int64, capability string) (bool, error) {
	result, err := s.db.Exec(
		`DELETE FROM feature_overrides WHERE scope = ? AND target_id = ? AND capability = ?`,
		scope, targetID, capability,
	)
	if err != nil {
		return false, fmt.Errorf("delete override: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListForHousehold returns the household's own overrides and those of its
// members' user scope.
func (s *OverrideStore) ListForHousehold(householdID int64) ([]model.FeatureOverride, error) {
	rows, err := s.db.Query(
		`SELECT `+overrideCols+` FROM feature_overrides
		 WHERE (scope = 'household' AND target_id = ?)
		    OR (scope = 'user' AND target_id IN (SELECT user_id FROM profiles WHERE household_id = ?))
		 ORDER BY scope ASC, target_id ASC, capability ASC`,
		householdID, householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var out []model.FeatureOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

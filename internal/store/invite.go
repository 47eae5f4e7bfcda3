package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/dayboard/internal/model"
)

// InviteTTL is how long an unused household invite stays valid.
const InviteTTL = 7 * 24 * time.Hour

var (
	ErrInviteInvalid      = errors.New("invite is invalid or expired")
	ErrAlreadyInHousehold = errors.New("already a member of a household")
)

type InviteStore struct {
	db *sql.DB
}

func NewInviteStore(db *sql.DB) *InviteStore {
	return &InviteStore{db: db}
}

func scanInvite(scanner interface{ Scan(...any) error }) (*model.Invite, error) {
	var inv model.Invite
	var usedBy sql.NullInt64
	var usedAt sql.NullTime
	err := scanner.Scan(&inv.ID, &inv.Token, &inv.HouseholdID, &inv.Role, &inv.CreatedBy,
		&inv.ExpiresAt, &usedBy, &usedAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	if usedBy.Valid {
		inv.UsedBy = &usedBy.Int64
	}
	if usedAt.Valid {
		inv.UsedAt = &usedAt.Time
	}
	return &inv, nil
}

const inviteCols = `id, token, household_id, role, created_by, expires_at, used_by, used_at, created_at`

// Create issues a single-use invite into householdID that expires after ttl.
func (s *InviteStore) Create(householdID, createdBy int64, role string, ttl time.Duration) (*model.Invite, error) {
	result, err := s.db.Exec(
		`INSERT INTO household_invites (token, household_id, role, created_by, expires_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), householdID, role, createdBy, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return nil, fmt.Errorf("insert invite: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+inviteCols+` FROM household_invites WHERE id = ?`, id)
	return scanInvite(row)
}

// Redeem consumes token for userID and moves them into the invite's household
// with the invite's role. A super_admin keeps their role. The caller must not
// already belong to a household.
func (s *InviteStore) Redeem(token string, userID int64) (*model.Invite, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	inv, err := scanInvite(tx.QueryRow(
		`SELECT `+inviteCols+` FROM household_invites WHERE token = ? AND used_at IS NULL AND expires_at > ?`,
		token, now,
	))
	if err == sql.ErrNoRows {
		return nil, ErrInviteInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("get invite: %w", err)
	}

	var current sql.NullInt64
	err = tx.QueryRow(`SELECT household_id FROM profiles WHERE user_id = ?`, userID).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile household: %w", err)
	}
	if current.Valid {
		return nil, ErrAlreadyInHousehold
	}

	res, err := tx.Exec(
		`UPDATE household_invites SET used_by = ?, used_at = ? WHERE id = ? AND used_at IS NULL`,
		userID, now, inv.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark invite used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInviteInvalid
	}

	if _, err := tx.Exec(
		`UPDATE profiles SET household_id = ?,
			role = CASE WHEN role = 'super_admin' THEN role ELSE ? END,
			updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ?`,
		inv.HouseholdID, inv.Role, userID,
	); err != nil {
		return nil, fmt.Errorf("join household: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit invite: %w", err)
	}
	inv.UsedBy, inv.UsedAt = &userID, &now
	return inv, nil
}

func (s *InviteStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM household_invites WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired invites: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

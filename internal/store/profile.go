package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/dayboard/internal/model"
)

// ErrProfileNotFound is returned by Mutate when the profile does not exist.
var ErrProfileNotFound = errors.New("profile not found")

type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func scanProfile(scanner interface{ Scan(...any) error }) (*model.Profile, error) {
	var p model.Profile
	var (
		preferredName, phone, dob, bio, tz, lang sql.NullString
		dietary, allergies, avatar, pinHash      sql.NullString
		householdID                              sql.NullInt64
	)
	err := scanner.Scan(
		&p.UserID, &p.DisplayName, &preferredName, &p.Role, &householdID,
		&phone, &dob, &bio, &tz, &lang, &dietary, &allergies, &avatar,
		&p.Notifications.Email, &p.Notifications.Push, &p.Notifications.SMS, &p.Notifications.BackupContact,
		&pinHash, &p.CompletionPercentage, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PreferredName = nullString(preferredName)
	p.HouseholdID = nullInt64(householdID)
	p.Phone = nullString(phone)
	p.DateOfBirth = nullString(dob)
	p.Bio = nullString(bio)
	p.Timezone = nullString(tz)
	p.Language = nullString(lang)
	p.AvatarRef = nullString(avatar)
	p.HasPIN = pinHash.Valid && pinHash.String != ""
	if p.DietaryPreferences, err = decodeList(dietary); err != nil {
		return nil, err
	}
	if p.Allergies, err = decodeList(allergies); err != nil {
		return nil, err
	}
	return &p, nil
}

const profileCols = `user_id, display_name, preferred_name, role, household_id,
	phone, date_of_birth, bio, timezone, language, dietary_preferences, allergies, avatar_ref,
	notify_email, notify_push, notify_sms, notify_backup_contact,
	pin_hash, profile_completion_percentage, is_active, created_at, updated_at`

// Create inserts a profile for a freshly authenticated user.
func (s *ProfileStore) Create(userID int64, displayName, role string, completion int) (*model.Profile, error) {
	_, err := s.db.Exec(
		`INSERT INTO profiles (user_id, display_name, role, profile_completion_percentage) VALUES (?, ?, ?, ?)`,
		userID, displayName, role, completion,
	)
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return s.GetByUserID(userID)
}

func (s *ProfileStore) GetByUserID(userID int64) (*model.Profile, error) {
	row := s.db.QueryRow(`SELECT `+profileCols+` FROM profiles WHERE user_id = ?`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *ProfileStore) ListByHousehold(householdID int64) ([]model.Profile, error) {
	return s.list(`SELECT `+profileCols+` FROM profiles WHERE household_id = ? ORDER BY display_name ASC`, householdID)
}

// List returns every profile, active or not.
func (s *ProfileStore) List() ([]model.Profile, error) {
	return s.list(`SELECT ` + profileCols + ` FROM profiles ORDER BY user_id ASC`)
}

func (s *ProfileStore) list(query string, args ...any) ([]model.Profile, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// Mutate loads the profile, hands it to fn, and writes every editable field
// plus the completion percentage back in the same transaction. Nothing is
// written if fn returns an error.
func (s *ProfileStore) Mutate(userID int64, fn func(p *model.Profile) error) (*model.Profile, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := scanProfile(tx.QueryRow(`SELECT `+profileCols+` FROM profiles WHERE user_id = ?`, userID))
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	if err := fn(p); err != nil {
		return nil, err
	}

	dietary, err := encodeList(p.DietaryPreferences)
	if err != nil {
		return nil, err
	}
	allergies, err := encodeList(p.Allergies)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(
		`UPDATE profiles SET
			display_name = ?, preferred_name = ?, phone = ?, date_of_birth = ?, bio = ?,
			timezone = ?, language = ?, dietary_preferences = ?, allergies = ?, avatar_ref = ?,
			notify_email = ?, notify_push = ?, notify_sms = ?, notify_backup_contact = ?,
			profile_completion_percentage = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?`,
		p.DisplayName, p.PreferredName, p.Phone, p.DateOfBirth, p.Bio,
		p.Timezone, p.Language, dietary, allergies, p.AvatarRef,
		p.Notifications.Email, p.Notifications.Push, p.Notifications.SMS, p.Notifications.BackupContact,
		p.CompletionPercentage, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	updated, err := scanProfile(tx.QueryRow(`SELECT `+profileCols+` FROM profiles WHERE user_id = ?`, userID))
	if err != nil {
		return nil, fmt.Errorf("reload profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit profile: %w", err)
	}
	return updated, nil
}

// SetCompletion overwrites the stored percentage; used by bulk recalculation.
func (s *ProfileStore) SetCompletion(userID int64, pct int) error {
	_, err := s.db.Exec(
		`UPDATE profiles SET profile_completion_percentage = ? WHERE user_id = ?`,
		pct, userID,
	)
	if err != nil {
		return fmt.Errorf("set completion: %w", err)
	}
	return nil
}

func (s *ProfileStore) SetRole(userID int64, role string) (*model.Profile, error) {
	_, err := s.db.Exec(
		`UPDATE profiles SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		role, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	return s.GetByUserID(userID)
}

func (s *ProfileStore) SetActive(userID int64, active bool) (*model.Profile, error) {
	_, err := s.db.Exec(
		`UPDATE profiles SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		active, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}
	return s.GetByUserID(userID)
}

// SetHousehold points the profile at a household, or clears the reference
// when householdID is nil.
func (s *ProfileStore) SetHousehold(userID int64, householdID *int64) error {
	_, err := s.db.Exec(
		`UPDATE profiles SET household_id = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		householdID, userID,
	)
	if err != nil {
		return fmt.Errorf("set household: %w", err)
	}
	return nil
}

// SetPINHash stores a bcrypt hash, or clears the PIN when hash is nil.
func (s *ProfileStore) SetPINHash(userID int64, hash *string) error {
	_, err := s.db.Exec(`UPDATE profiles SET pin_hash = ? WHERE user_id = ?`, hash, userID)
	if err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

// GetPINHash returns the stored hash, or "" when no PIN is set.
func (s *ProfileStore) GetPINHash(userID int64) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRow(`SELECT pin_hash FROM profiles WHERE user_id = ?`, userID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get pin: %w", err)
	}
	return hash.String, nil
}

// ClearDanglingHouseholds nulls household references whose household row no
// longer exists and returns how many profiles were repaired.
func (s *ProfileStore) ClearDanglingHouseholds() (int64, error) {
	result, err := s.db.Exec(
		`UPDATE profiles SET household_id = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE household_id IS NOT NULL
		   AND household_id NOT IN (SELECT id FROM households)`,
	)
	if err != nil {
		return 0, fmt.Errorf("clear dangling households: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/dayboard/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var subject sql.NullString
	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &subject, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.OIDCSubject = nullString(subject)
	return &u, nil
}

const userCols = `id, email, name, oidc_subject, created_at, updated_at`

// normalizeEmail is applied on every write and lookup; providers differ in
// how they case addresses.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserStore) Create(email, name string) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (email, name) VALUES (?, ?)`,
		normalizeEmail(email), name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	return s.getOne(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	return s.getOne(`SELECT `+userCols+` FROM users WHERE email = ?`, normalizeEmail(email))
}

func (s *UserStore) GetBySubject(subject string) (*model.User, error) {
	return s.getOne(`SELECT `+userCols+` FROM users WHERE oidc_subject = ?`, subject)
}

func (s *UserStore) getOne(query string, arg any) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// LinkSubject binds an identity-provider subject to an existing user.
func (s *UserStore) LinkSubject(id int64, subject string) error {
	_, err := s.db.Exec(
		`UPDATE users SET oidc_subject = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		subject, id,
	)
	if err != nil {
		return fmt.Errorf("link subject: %w", err)
	}
	return nil
}

func (s *UserStore) Update(id int64, email, name string) (*model.User, error) {
	_, err := s.db.Exec(
		`UPDATE users SET email = ?, name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		normalizeEmail(email), name, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByID(id)
}

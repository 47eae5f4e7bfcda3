package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/dayboard/internal/model"
)

type HouseholdStore struct {
	db *sql.DB
}

func NewHouseholdStore(db *sql.DB) *HouseholdStore {
	return &HouseholdStore{db: db}
}

func scanHousehold(scanner interface{ Scan(...any) error }) (*model.Household, error) {
	var h model.Household
	var lat, lon sql.NullFloat64
	var customerID sql.NullString
	err := scanner.Scan(&h.ID, &h.Name, &h.Address, &lat, &lon, &customerID, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.Latitude = nullFloat64(lat)
	h.Longitude = nullFloat64(lon)
	h.StripeCustomerID = nullString(customerID)
	return &h, nil
}

const householdCols = `id, name, address, latitude, longitude, stripe_customer_id, created_at, updated_at`

type HouseholdInput struct {
	Name      string
	Address   string
	Latitude  *float64
	Longitude *float64
}

func (s *HouseholdStore) Create(in HouseholdInput) (*model.Household, error) {
	result, err := s.db.Exec(
		`INSERT INTO households (name, address, latitude, longitude) VALUES (?, ?, ?, ?)`,
		in.Name, in.Address, in.Latitude, in.Longitude,
	)
	if err != nil {
		return nil, fmt.Errorf("insert household: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// CreateForOwner creates a household, seeds its settings and moves the owner
// into it as admin in a single transaction. A super_admin keeps their role.
func (s *HouseholdStore) CreateForOwner(ownerID int64, in HouseholdInput) (*model.Household, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO households (name, address, latitude, longitude) VALUES (?, ?, ?, ?)`,
		in.Name, in.Address, in.Latitude, in.Longitude,
	)
	if err != nil {
		return nil, fmt.Errorf("insert household: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := seedSettings(tx, id); err != nil {
		return nil, err
	}

	res, err := tx.Exec(
		`UPDATE profiles SET household_id = ?,
			role = CASE WHEN role = 'super_admin' THEN role ELSE 'admin' END,
			updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ?`,
		id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("attach owner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrProfileNotFound
	}

	h, err := scanHousehold(tx.QueryRow(`SELECT `+householdCols+` FROM households WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload household: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit household: %w", err)
	}
	return h, nil
}

func (s *HouseholdStore) GetByID(id int64) (*model.Household, error) {
	row := s.db.QueryRow(`SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	h, err := scanHousehold(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return h, nil
}

func (s *HouseholdStore) Update(id int64, in HouseholdInput) (*model.Household, error) {
	_, err := s.db.Exec(
		`UPDATE households SET name = ?, address = ?, latitude = ?, longitude = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		in.Name, in.Address, in.Latitude, in.Longitude, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update household: %w", err)
	}
	return s.GetByID(id)
}

func (s *HouseholdStore) SetStripeCustomerID(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE households SET stripe_customer_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		customerID, id,
	)
	if err != nil {
		return fmt.Errorf("set stripe customer: %w", err)
	}
	return nil
}

// ClearStripeCustomer detaches a deleted Stripe customer from whichever
// household referenced it and reports whether one did.
func (s *HouseholdStore) ClearStripeCustomer(customerID string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE households SET stripe_customer_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE stripe_customer_id = ?`,
		customerID,
	)
	if err != nil {
		return false, fmt.Errorf("clear stripe customer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes the household. Member profiles keep existing with their
// household reference cleared by the foreign key.
func (s *HouseholdStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM households WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete household: %w", err)
	}
	return nil
}

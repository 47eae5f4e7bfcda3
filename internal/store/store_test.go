package store

import (
	"database/sql"
	"testing"

	"github.com/dukerupert/dayboard/internal/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedMember creates a user with a profile and returns the user id.
func seedMember(t *testing.T, db *sql.DB, email, role string) int64 {
	t.Helper()
	u, err := NewUserStore(db).Create(email, email)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := NewProfileStore(db).Create(u.ID, email, role, 10); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return u.ID
}

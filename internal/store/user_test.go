package store

import "testing"

func TestUserCreateAndGet(t *testing.T) {
	us := NewUserStore(openTestDB(t))

	u, err := us.Create("alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if u.OIDCSubject != nil {
		t.Errorf("subject = %v, want nil", *u.OIDCSubject)
	}

	got, err := us.GetByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("get by email = %+v, want id %d", got, u.ID)
	}
}

func TestUserGetNotFound(t *testing.T) {
	us := NewUserStore(openTestDB(t))

	u, err := us.GetByID(999)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if u != nil {
		t.Error("expected nil for nonexistent user")
	}
	u, err = us.GetBySubject("nobody")
	if err != nil {
		t.Fatalf("get by subject: %v", err)
	}
	if u != nil {
		t.Error("expected nil for unknown subject")
	}
}

func TestUserLinkSubject(t *testing.T) {
	us := NewUserStore(openTestDB(t))

	u, _ := us.Create("alice@example.com", "Alice")
	if err := us.LinkSubject(u.ID, "sub-123"); err != nil {
		t.Fatalf("link subject: %v", err)
	}

	got, err := us.GetBySubject("sub-123")
	if err != nil {
		t.Fatalf("get by subject: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("get by subject = %+v, want id %d", got, u.ID)
	}
	if got.OIDCSubject == nil || *got.OIDCSubject != "sub-123" {
		t.Errorf("subject = %v, want sub-123", got.OIDCSubject)
	}
}

func TestUserDuplicateEmail(t *testing.T) {
	us := NewUserStore(openTestDB(t))

	if _, err := us.Create("alice@example.com", "Alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := us.Create("alice@example.com", "Other"); err == nil {
		t.Error("expected unique constraint error")
	}
}

func TestUserEmailCaseInsensitive(t *testing.T) {
	us := NewUserStore(openTestDB(t))

	u, err := us.Create("  Alice@Example.COM ", "Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", u.Email)
	}
	got, err := us.GetByEmail("ALICE@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Errorf("lookup = %+v, want user %d", got, u.ID)
	}
}

package store

import (
	"testing"
	"time"
)

func TestSessionCreate(t *testing.T) {
	db := openTestDB(t)
	ss, us := NewSessionStore(db), NewUserStore(db)

	u, err := us.Create("alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sess, err := ss.Create(u.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}
	if sess.UserID != u.ID {
		t.Errorf("user_id = %d, want %d", sess.UserID, u.ID)
	}
	if time.Until(sess.ExpiresAt) < SessionTTL-time.Minute {
		t.Errorf("expires_at = %v, want about %v from now", sess.ExpiresAt, SessionTTL)
	}
}

func TestSessionGetByToken(t *testing.T) {
	db := openTestDB(t)
	ss, us := NewSessionStore(db), NewUserStore(db)

	u, _ := us.Create("alice@example.com", "Alice")
	created, _ := ss.Create(u.ID)

	sess, err := ss.GetByToken(created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.ID != created.ID {
		t.Errorf("id = %d, want %d", sess.ID, created.ID)
	}

	sess, err = ss.GetByToken("nonexistent")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for nonexistent token")
	}
}

func TestSessionExpired(t *testing.T) {
	db := openTestDB(t)
	ss, us := NewSessionStore(db), NewUserStore(db)

	u, _ := us.Create("alice@example.com", "Alice")
	created, _ := ss.Create(u.ID)
	if _, err := db.Exec(`UPDATE sessions SET expires_at = ? WHERE id = ?`, time.Now().UTC().Add(-time.Hour), created.ID); err != nil {
		t.Fatalf("expire session: %v", err)
	}

	sess, err := ss.GetByToken(created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for expired session")
	}

	n, err := ss.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestSessionDeleteByUserID(t *testing.T) {
	db := openTestDB(t)
	ss, us := NewSessionStore(db), NewUserStore(db)

	u, _ := us.Create("alice@example.com", "Alice")
	ss.Create(u.ID)
	ss.Create(u.ID)

	if err := ss.DeleteByUserID(u.ID); err != nil {
		t.Fatalf("delete by user id: %v", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE user_id = ?`, u.ID).Scan(&count)
	if count != 0 {
		t.Errorf("expected 0 sessions, got %d", count)
	}
}

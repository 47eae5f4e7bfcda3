package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukerupert/dayboard/internal/database"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// seedDB creates a database file with one user and profile and returns its path.
func seedDB(t *testing.T, email string) (string, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dayboard.db")
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	u, err := store.NewUserStore(db).Create(email, "Sam")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := store.NewProfileStore(db).Create(u.ID, "Sam", "member", 0); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return path, u.ID
}

func TestCatalogValidate(t *testing.T) {
	out, err := run(t, "catalog", "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "catalog ok:") || !strings.Contains(out, "super_admin") {
		t.Errorf("output = %q", out)
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "catalog", "validate", "--file", empty); !errors.Is(err, permission.ErrEmptyCatalog) {
		t.Errorf("validate empty file error = %v, want ErrEmptyCatalog", err)
	}
}

func TestCatalogGen(t *testing.T) {
	out := filepath.Join(t.TempDir(), "capability_gen.go")
	if _, err := run(t, "catalog", "gen", "--out", out); err != nil {
		t.Fatalf("gen: %v", err)
	}
	src, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read generated file: %v", err)
	}
	for _, want := range []string{
		"package permission",
		`CapHouseholdManagement Capability = "household_management"`,
		"var AllCapabilities = []Capability{",
	} {
		if !bytes.Contains(src, []byte(want)) {
			t.Errorf("generated file missing %q", want)
		}
	}
}

func TestProfilesRecalc(t *testing.T) {
	path, uid := seedDB(t, "sam@example.com")

	out, err := run(t, "--db", path, "profiles", "recalc", "--fields", "name,phone")
	if err != nil {
		t.Fatalf("recalc: %v", err)
	}
	if !strings.Contains(out, "1 profiles updated") {
		t.Errorf("output = %q", out)
	}

	db, err := database.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	p, _ := store.NewProfileStore(db).GetByUserID(uid)
	if p.CompletionPercentage != 50 {
		t.Errorf("completion = %d, want 50", p.CompletionPercentage)
	}

	if _, err := run(t, "--db", path, "profiles", "recalc", "--fields", "shoe_size"); err == nil {
		t.Error("expected an error for an unknown checklist item")
	}
}

func TestProfilesSetRole(t *testing.T) {
	path, _ := seedDB(t, "boss@example.com")

	out, err := run(t, "--db", path, "profiles", "set-role", "boss@example.com", "super_admin")
	if err != nil {
		t.Fatalf("set-role: %v", err)
	}
	if !strings.Contains(out, "is now super_admin") {
		t.Errorf("output = %q", out)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"unknown role", []string{"boss@example.com", "owner"}},
		{"unknown user", []string{"nobody@example.com", "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--db", path, "profiles", "set-role"}, tt.args...)
			if _, err := run(t, args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestHouseholdsRepair(t *testing.T) {
	path, uid := seedDB(t, "sam@example.com")

	db, err := database.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := db.Conn(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(t.Context(), "PRAGMA foreign_keys = OFF"); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(t.Context(), "UPDATE profiles SET household_id = 999 WHERE user_id = ?", uid); err != nil {
		t.Fatalf("dangle household: %v", err)
	}
	conn.Close()
	db.Close()

	out, err := run(t, "--db", path, "households", "repair")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !strings.Contains(out, "1 profiles repaired") {
		t.Errorf("output = %q", out)
	}
}

package permission

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"testing"
)

func TestIdent(t *testing.T) {
	tests := map[Capability]string{
		"dashboard":            "CapDashboard",
		"household_management": "CapHouseholdManagement",
		"debug_tools":          "CapDebugTools",
		"a__b":                 "CapAB",
	}
	for key, want := range tests {
		if got := Ident(key); got != want {
			t.Errorf("Ident(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestGenerateGo(t *testing.T) {
	c, err := LoadDefault()
	if err != nil {
		t.Fatalf("load default catalog: %v", err)
	}
	src, err := GenerateGo(c, "permission")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	f, err := parser.ParseFile(token.NewFileSet(), "capability_gen.go", src, 0)
	if err != nil {
		t.Fatalf("parse generated source: %v", err)
	}

	consts := make(map[string]string)
	for _, decl := range f.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.CONST {
			continue
		}
		for _, spec := range gd.Specs {
			vs := spec.(*ast.ValueSpec)
			lit := vs.Values[0].(*ast.BasicLit)
			v, err := strconv.Unquote(lit.Value)
			if err != nil {
				t.Fatalf("unquote %s: %v", lit.Value, err)
			}
			consts[vs.Names[0].Name] = v
		}
	}

	if len(consts) != len(c.Keys()) {
		t.Fatalf("generated %d constants, want %d", len(consts), len(c.Keys()))
	}
	for _, key := range c.Keys() {
		if consts[Ident(key)] != string(key) {
			t.Errorf("%s = %q, want %q", Ident(key), consts[Ident(key)], key)
		}
	}
}

func TestGenerateGoIdentifierCollision(t *testing.T) {
	src := `
groups:
  - name: core
    capabilities:
      - key: meal_plan
        grants: {member: true, admin: true, super_admin: true}
      - key: meal__plan
        grants: {member: true, admin: true, super_admin: true}
`
	c, err := LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := GenerateGo(c, "permission"); err == nil {
		t.Fatal("expected collision error")
	}
}

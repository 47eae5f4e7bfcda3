package handler

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/dayboard/internal/gate"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/websocket"
)

//go:embed templates/*.html
var templateFS embed.FS

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Notifier pushes change events to connected browsers. *websocket.Hub
// satisfies it.
type Notifier interface {
	BroadcastHousehold(householdID int64, msg websocket.Message)
	SendUser(userID int64, msg websocket.Message)
	MoveUser(userID, householdID int64)
}

// GateSlots are the gated regions used by the page templates.
func GateSlots() []gate.Slot {
	return []gate.Slot{
		{Name: "nav-meals", Capability: permission.CapMeals, Children: "nav-meals"},
		{Name: "nav-lists", Capability: permission.CapLists, Children: "nav-lists"},
		{Name: "nav-budget", Capability: permission.CapBudget, Children: "nav-budget"},
		{Name: "nav-entertainment", Capability: permission.CapEntertainment, Children: "nav-entertainment"},
		{Name: "nav-settings", Capability: permission.CapSettings, Children: "nav-settings"},
		{Name: "nav-permissions", Capability: permission.CapPermissionsManagement, Children: "nav-permissions"},
		{Name: "billing", Capability: permission.CapBilling, Children: "billing-manage", ShowDisabled: true},
		{Name: "members", Capability: permission.CapHouseholdManagement, Children: "members-admin", Fallback: "members-hidden"},
		{Name: "debug-panel", Capability: permission.CapDebugTools, Children: "debug-panel"},
	}
}

// Templates is the parsed page set plus the gate renderer that shares it.
type Templates struct {
	set      *template.Template
	gates    *gate.Renderer
	registry *gate.Registry
	logger   *slog.Logger
}

func ParseTemplates(registry *gate.Registry, logger *slog.Logger) (*Templates, error) {
	t := &Templates{registry: registry, logger: logger}
	set, err := template.New("").Funcs(template.FuncMap{
		"gate":               t.placeholder,
		"join":               strings.Join,
		"accessEvents":       func() []string { return websocket.AccessEvents },
		"accessChangedEvent": func() string { return gate.AccessChangedEvent },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	t.set = set
	t.gates = gate.NewRenderer(set)
	return t, nil
}

// placeholder renders a gate in Loading for a page drawn under the access
// fingerprint dep.
func (t *Templates) placeholder(name, dep string) (template.HTML, error) {
	slot, ok := t.registry.Lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown gate slot %q", name)
	}
	return t.gates.Placeholder(slot, dep)
}

// render executes a full page into a buffer first so a template error never
// leaves a half-written response.
func (t *Templates) render(w http.ResponseWriter, status int, name string, data map[string]any) {
	var buf bytes.Buffer
	if err := t.set.ExecuteTemplate(&buf, name, data); err != nil {
		t.logger.Error("template error", "template", name, "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (t *Templates) renderPartial(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.set.ExecuteTemplate(w, name, data); err != nil {
		t.logger.Error("template error", "template", name, "error", err)
		fmt.Fprint(w, `<div class="alert alert-error">Template error</div>`)
	}
}

// ErrorPage renders the shared error page; the guard uses it for 403 and 503.
func (t *Templates) ErrorPage(w http.ResponseWriter, r *http.Request, status int) {
	data := map[string]any{
		"Title":    "Not available",
		"SignedIn": false,
		"Heading":  "Not available",
		"Message":  "You do not have access to this page.",
	}
	if status >= 500 {
		data["Heading"] = "Temporarily unavailable"
		data["Message"] = "Please try again in a moment."
	}
	t.render(w, status, "page-error", data)
}

func parseUserIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("user_id"), 10, 64)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

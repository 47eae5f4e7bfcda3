package gate

import (
	"bytes"
	"html/template"
	"strings"
	"testing"

	"github.com/dukerupert/dayboard/internal/permission"
)

func TestMachineTransitions(t *testing.T) {
	m := NewMachine()
	if m.State() != Idle {
		t.Fatalf("state = %s, want idle", m.State())
	}

	m.Begin("1:member")
	if m.State() != Loading {
		t.Fatalf("state = %s, want loading", m.State())
	}
	if !m.Settle("1:member", true) {
		t.Fatal("settle should apply")
	}
	if m.State() != Granted {
		t.Fatalf("state = %s, want granted", m.State())
	}

	// Same dependency: stays settled.
	m.Begin("1:member")
	if m.State() != Granted {
		t.Errorf("state = %s, want granted after Begin with same dependency", m.State())
	}

	// Role changed: back to loading, then denied.
	m.Begin("1:guest")
	if m.State() != Loading {
		t.Fatalf("state = %s, want loading after dependency change", m.State())
	}
	m.Settle("1:guest", false)
	if m.State() != Denied {
		t.Errorf("state = %s, want denied", m.State())
	}
}

func TestMachineDiscardsStaleResult(t *testing.T) {
	m := NewMachine()
	m.Begin("1:admin")
	m.Begin("1:member")

	if m.Settle("1:admin", true) {
		t.Error("stale result should be discarded")
	}
	if m.State() != Loading {
		t.Errorf("state = %s, want loading", m.State())
	}
	if !m.Settle("1:member", false) {
		t.Error("current result should apply")
	}
}

func TestMachineSettleWithoutBegin(t *testing.T) {
	m := NewMachine()
	if m.Settle("", true) {
		t.Error("settle from idle should not apply")
	}
	if m.State() != Idle {
		t.Errorf("state = %s, want idle", m.State())
	}
}

func TestChoose(t *testing.T) {
	slot := Slot{Name: "nav-meals", Capability: permission.CapMeals, Children: "nav-meals", Fallback: "nav-meals-upsell"}
	bare := Slot{Name: "nav-budget", Capability: permission.CapBudget, Children: "nav-budget"}
	disabled := Slot{Name: "btn", Capability: permission.CapSettings, Children: "btn", ShowDisabled: true, Loading: "spinner"}

	tests := []struct {
		name  string
		state State
		slot  Slot
		want  View
	}{
		{"loading default", Loading, slot, View{Template: DefaultLoadingTemplate}},
		{"idle renders loading", Idle, slot, View{Template: DefaultLoadingTemplate}},
		{"custom loading", Loading, disabled, View{Template: "spinner"}},
		{"granted", Granted, slot, View{Template: "nav-meals"}},
		{"denied fallback", Denied, slot, View{Template: "nav-meals-upsell"}},
		{"denied nothing", Denied, bare, View{}},
		{"denied disabled", Denied, disabled, View{Template: "btn", Disabled: true}},
		{"granted not disabled", Granted, disabled, View{Template: "btn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Choose(tt.state, tt.slot); got != tt.want {
				t.Errorf("Choose = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func testTemplates(t *testing.T) *template.Template {
	t.Helper()
	return template.Must(template.New("").Parse(`
{{define "nav-meals"}}<a href="/meals">Meals</a>{{end}}
{{define "nav-meals-upsell"}}<em>Ask an admin</em>{{end}}
{{define "gate-loading"}}<span class="spinner">…</span>{{end}}
`))
}

func render(t *testing.T, r *Renderer, slot Slot, s State) string {
	t.Helper()
	var buf bytes.Buffer
	if err := r.Render(&buf, slot, s, "", nil); err != nil {
		t.Fatalf("render: %v", err)
	}
	return buf.String()
}

func TestRenderStates(t *testing.T) {
	r := NewRenderer(testTemplates(t))
	slot := Slot{Name: "nav-meals", Capability: permission.CapMeals, Children: "nav-meals"}

	loading := render(t, r, slot, Loading)
	if !strings.Contains(loading, `class="spinner"`) {
		t.Errorf("loading output missing spinner: %s", loading)
	}
	if strings.Contains(loading, "Meals") {
		t.Errorf("loading output leaked children: %s", loading)
	}
	if !strings.Contains(loading, `hx-trigger="load, dayboard:access-changed from:body"`) {
		t.Errorf("loading output should load itself: %s", loading)
	}

	granted := render(t, r, slot, Granted)
	if !strings.Contains(granted, `<a href="/meals">Meals</a>`) {
		t.Errorf("granted output missing children: %s", granted)
	}
	if strings.Contains(granted, "load, ") {
		t.Errorf("settled gate should not reload on render: %s", granted)
	}

	denied := render(t, r, slot, Denied)
	if strings.Contains(denied, "Meals") || strings.Contains(denied, "spinner") {
		t.Errorf("denied output without fallback should be empty: %s", denied)
	}
	if !strings.Contains(denied, `data-gate-state="denied"`) {
		t.Errorf("denied output missing state: %s", denied)
	}
}

func TestRenderFallbackAndDisabled(t *testing.T) {
	r := NewRenderer(testTemplates(t))

	withFallback := Slot{Name: "a", Capability: permission.CapMeals, Children: "nav-meals", Fallback: "nav-meals-upsell"}
	if out := render(t, r, withFallback, Denied); !strings.Contains(out, "Ask an admin") {
		t.Errorf("expected fallback: %s", out)
	}

	showDisabled := Slot{Name: "b", Capability: permission.CapMeals, Children: "nav-meals", ShowDisabled: true}
	out := render(t, r, showDisabled, Denied)
	if !strings.Contains(out, `<fieldset class="gate-disabled" disabled aria-disabled="true"><a href="/meals">Meals</a></fieldset>`) {
		t.Errorf("expected disabled children: %s", out)
	}
}

func TestRenderBuiltinLoading(t *testing.T) {
	r := NewRenderer(template.Must(template.New("").Parse(`{{define "x"}}x{{end}}`)))
	slot := Slot{Name: "x", Capability: permission.CapMeals, Children: "x"}

	html, err := r.Placeholder(slot, "")
	if err != nil {
		t.Fatalf("placeholder: %v", err)
	}
	if !strings.Contains(string(html), `aria-busy="true"`) {
		t.Errorf("expected built-in loading markup: %s", html)
	}
	if !strings.Contains(string(html), `hx-get="/partials/gate/x"`) {
		t.Errorf("expected partial URL: %s", html)
	}
}

func TestPlaceholderCarriesDependency(t *testing.T) {
	r := NewRenderer(testTemplates(t))
	slot := Slot{Name: "nav-meals", Capability: permission.CapMeals, Children: "nav-meals"}

	html, err := r.Placeholder(slot, "abc123")
	if err != nil {
		t.Fatalf("placeholder: %v", err)
	}
	if want := `hx-get="/partials/gate/nav-meals?dep=abc123"`; !strings.Contains(string(html), want) {
		t.Errorf("placeholder = %s, want %s", html, want)
	}
	if got := URL(slot, ""); got != "/partials/gate/nav-meals" {
		t.Errorf("URL without dependency = %q", got)
	}
}

func TestRegistry(t *testing.T) {
	c, err := permission.LoadDefault()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	reg, err := NewRegistry(c,
		Slot{Name: "nav-meals", Capability: permission.CapMeals, Children: "nav-meals"},
		Slot{Name: "nav-budget", Capability: permission.CapBudget, Children: "nav-budget"},
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, ok := reg.Lookup("nav-meals"); !ok {
		t.Error("expected nav-meals slot")
	}
	if _, ok := reg.Lookup("nope"); ok {
		t.Error("unexpected slot")
	}
	if slots := reg.Slots(); len(slots) != 2 || slots[0].Name != "nav-budget" {
		t.Errorf("slots = %+v, want sorted by name", slots)
	}

	bad := []Slot{
		{Name: "x", Capability: "time_travel", Children: "x"},
		{Name: "", Capability: permission.CapMeals, Children: "x"},
		{Name: "x", Capability: permission.CapMeals},
	}
	for _, s := range bad {
		if _, err := NewRegistry(c, s); err == nil {
			t.Errorf("NewRegistry(%+v) should fail", s)
		}
	}
	if _, err := NewRegistry(c,
		Slot{Name: "x", Capability: permission.CapMeals, Children: "x"},
		Slot{Name: "x", Capability: permission.CapLists, Children: "x"},
	); err == nil {
		t.Error("duplicate slot names should fail")
	}
}

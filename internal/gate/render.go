package gate

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/url"
)

// AccessChangedEvent is the client-side event that sends every gate on the
// page back to Loading.
const AccessChangedEvent = "dayboard:access-changed"

// PartialPath is where a slot's resolved view is served.
const PartialPath = "/partials/gate/"

// DepParam carries the access fingerprint a gate was rendered for back to
// PartialPath.
const DepParam = "dep"

const builtinLoading = `<span class="gate-loading" aria-busy="true"></span>`

var frame = template.Must(template.New("gate-frame").Parse(
	`<div id="gate-{{.Name}}" class="gate" data-gate-state="{{.State}}" hx-get="{{.URL}}" hx-trigger="{{.Trigger}}" hx-swap="outerHTML">` +
		`{{if .Disabled}}<fieldset class="gate-disabled" disabled aria-disabled="true">{{.Body}}</fieldset>{{else}}{{.Body}}{{end}}` +
		`</div>`))

// Renderer executes slot templates from a page template set.
type Renderer struct {
	templates *template.Template
}

func NewRenderer(templates *template.Template) *Renderer {
	return &Renderer{templates: templates}
}

// URL is the partial endpoint for slot, tagged with the access fingerprint
// dep when one is known.
func URL(slot Slot, dep string) string {
	u := PartialPath + url.PathEscape(slot.Name)
	if dep != "" {
		u += "?" + url.Values{DepParam: {dep}}.Encode()
	}
	return u
}

// Render writes slot in state s for the access fingerprint dep. Unsettled
// gates load themselves on render; settled gates only reload when access
// changes.
func (r *Renderer) Render(w io.Writer, slot Slot, s State, dep string, data any) error {
	view := Choose(s, slot)

	var body bytes.Buffer
	switch {
	case view.Template == "":
	case r.templates.Lookup(view.Template) == nil && view.Template == DefaultLoadingTemplate:
		body.WriteString(builtinLoading)
	default:
		if err := r.templates.ExecuteTemplate(&body, view.Template, data); err != nil {
			return fmt.Errorf("render gate %s: %w", slot.Name, err)
		}
	}

	trigger := AccessChangedEvent + " from:body"
	if s == Idle || s == Loading {
		trigger = "load, " + trigger
	}

	return frame.Execute(w, map[string]any{
		"Name":     slot.Name,
		"State":    s.String(),
		"URL":      URL(slot, dep),
		"Trigger":  trigger,
		"Disabled": view.Disabled,
		"Body":     template.HTML(body.String()),
	})
}

// Placeholder renders slot in Loading for the first paint of a page rendered
// under the access fingerprint dep.
func (r *Renderer) Placeholder(slot Slot, dep string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, slot, Loading, dep, nil); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

package permission

import (
	"bytes"
	"fmt"
	"go/format"
	"strings"
	"text/template"
)

//go:generate go run ../../cmd/dayboardctl catalog gen --out capability_gen.go

var genTemplate = template.Must(template.New("capabilities").Funcs(template.FuncMap{"ident": Ident}).Parse(`// Code generated by dayboardctl catalog gen. DO NOT EDIT.

package {{.Package}}

const (
{{- range $i, $g := .Groups}}
{{if $i}}
{{end}}	// {{$g.Label}}
{{- range $g.Entries}}

	// {{ident .Key}}: {{.Description}}
	{{ident .Key}} Capability = {{printf "%q" .Key}}
{{- end}}
{{- end}}
)

// AllCapabilities lists every catalog key in declaration order.
var AllCapabilities = []Capability{
{{- range .Keys}}
	{{ident .}},
{{- end}}
}
`))

// Ident is the Go identifier generated for a capability key,
// e.g. "household_management" becomes CapHouseholdManagement.
func Ident(key Capability) string {
	var b strings.Builder
	b.WriteString("Cap")
	for _, part := range strings.Split(string(key), "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// GenerateGo renders the typed constant set for a validated catalog.
func GenerateGo(c *Catalog, pkg string) ([]byte, error) {
	seen := make(map[string]Capability, len(c.keys))
	for _, key := range c.keys {
		id := Ident(key)
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: %q and %q both generate %s", ErrDuplicateKey, prev, key, id)
		}
		seen[id] = key
	}

	var buf bytes.Buffer
	err := genTemplate.Execute(&buf, map[string]any{
		"Package": pkg,
		"Groups":  c.groups,
		"Keys":    c.keys,
	})
	if err != nil {
		return nil, fmt.Errorf("render capabilities: %w", err)
	}

	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format capabilities: %w", err)
	}
	return out, nil
}

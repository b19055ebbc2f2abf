package tile

import (
	"fmt"
	"strings"

	"github.com/yosida95/uritemplate/v3"
)

// Template is a parsed tile URL template such as
// "https://{s}.tile.example.com/{z}/{x}/{y}.png".
type Template struct {
	raw  string
	tmpl *uritemplate.Template
}

// ParseTemplate parses a tile URL template
func ParseTemplate(raw string) (*Template, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty url template")
	}
	t, err := uritemplate.New(reserved(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url template %q: %w", raw, err)
	}
	return &Template{raw: raw, tmpl: t}, nil
}

// reserved turns plain {name} expressions into {+name} so values are
// substituted as given instead of being percent-encoded. Expressions with
// an explicit operator are left alone.
func reserved(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 8)
	for i := 0; i < len(raw); i++ {
		b.WriteByte(raw[i])
		if raw[i] == '{' && i+1 < len(raw) && !strings.ContainsRune("+#./;?&=,!@|}", rune(raw[i+1])) {
			b.WriteByte('+')
		}
	}
	return b.String()
}

func (t *Template) String() string {
	return t.raw
}

// Variables lists the variable names referenced by the template
func (t *Template) Variables() []string {
	return t.tmpl.Varnames()
}

// Expand substitutes vars into the template. Every variable the template
// references must be present in vars.
func (t *Template) Expand(vars map[string]string) (string, error) {
	values := uritemplate.Values{}
	for _, name := range t.tmpl.Varnames() {
		v, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingVariable, name)
		}
		values.Set(name, uritemplate.String(v))
	}
	return t.tmpl.Expand(values)
}

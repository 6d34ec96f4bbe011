package channel

import (
	"maps"
	"slices"
	"strings"

	"github.com/k3a/html2text"
)

// Render substitutes {{name}} placeholders. Unknown placeholders are left
// untouched.
func Render(tmpl string, vars map[string]string) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	// Sorted so overlapping keys resolve the same way on every call.
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Compose renders the channel's templates. Empty templates fall back to
// defaultTitle and defaultBody. Plaintext kinds get markup stripped.
func Compose(c *Channel, vars map[string]string, defaultTitle, defaultBody string) (title, body string) {
	title = Render(c.TemplateTitle, vars)
	if title == "" {
		title = defaultTitle
	}
	body = Render(c.TemplateMessage, vars)
	if body == "" {
		body = defaultBody
	}
	if c.Kind.Plaintext() {
		title = PlainText(title)
		body = PlainText(body)
	}
	return title, body
}

// PlainText converts an HTML fragment to text. Strings without markup are
// returned unchanged.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	return strings.TrimSpace(html2text.HTML2Text(s))
}

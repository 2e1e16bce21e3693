package variables

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// Render replaces {{variable_id}} placeholders in text with bound values.
// Dotted ids walk into object values. Unbound placeholders are left as is.
func Render(text string, vars map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		id := placeholder.FindStringSubmatch(m)[1]
		v, ok := lookup(vars, id)
		if !ok {
			return m
		}
		return Stringify(v)
	})
}

// RenderURL renders an endpoint template. Values are inserted as is before
// the path begins, so a placeholder may carry a base URL. Inside the path
// they are path-escaped, in the query string query-escaped and in the
// fragment path-escaped again.
func RenderURL(tmpl string, vars map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	var b strings.Builder
	last := 0
	for _, loc := range placeholder.FindAllStringSubmatchIndex(tmpl, -1) {
		b.WriteString(tmpl[last:loc[0]])
		last = loc[1]
		v, ok := lookup(vars, tmpl[loc[2]:loc[3]])
		if !ok {
			b.WriteString(tmpl[loc[0]:loc[1]])
			continue
		}
		b.WriteString(urlEscaper(tmpl[:loc[0]])(Stringify(v)))
	}
	b.WriteString(tmpl[last:])
	return b.String()
}

// urlEscaper picks the escaping for a value that follows prefix in a URL
// template.
func urlEscaper(prefix string) func(string) string {
	switch {
	case strings.Contains(prefix, "#"):
		return url.PathEscape
	case strings.Contains(prefix, "?"):
		return url.QueryEscape
	}
	if _, rest, ok := strings.Cut(prefix, "://"); ok {
		prefix = rest
	}
	if strings.Contains(prefix, "/") {
		return url.PathEscape
	}
	return func(s string) string { return s }
}

// RenderValue substitutes placeholders inside a decoded JSON document. A
// string that is exactly one placeholder is replaced by the typed value;
// other strings are rendered as text.
func RenderValue(doc any, vars map[string]any) any {
	switch x := doc.(type) {
	case string:
		if m := placeholder.FindStringSubmatch(strings.TrimSpace(x)); m != nil && m[0] == strings.TrimSpace(x) {
			if v, ok := lookup(vars, m[1]); ok {
				return v
			}
			return x
		}
		return Render(x, vars)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[k] = RenderValue(v, vars)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			out[i] = RenderValue(v, vars)
		}
		return out
	default:
		return doc
	}
}

// Stringify formats a variable value for inclusion in text.
func Stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func lookup(vars map[string]any, id string) (any, bool) {
	if v, ok := vars[id]; ok && v != nil {
		return v, true
	}
	parts := strings.Split(id, ".")
	cur, ok := vars[parts[0]]
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

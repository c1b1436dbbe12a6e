package application

import (
	"fmt"
	"regexp"
	"sort"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render substitutes {{name}} placeholders from vars. Unknown placeholders are
// left as written; unused variables are ignored.
func Render(tpl string, vars map[string]any) string {
	if tpl == "" || len(vars) == 0 {
		return tpl
	}
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok || v == nil {
			return m
		}
		return fmt.Sprint(v)
	})
}

// Placeholders lists the distinct variable names referenced by the given
// templates, sorted.
func Placeholders(templates ...string) []string {
	seen := make(map[string]struct{})
	for _, tpl := range templates {
		for _, m := range placeholder.FindAllStringSubmatch(tpl, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

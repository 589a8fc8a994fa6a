// internal/routes/routes.go
//
// Named-route table and resolver.
//
// Context
// -------
// Redirect rules may target an internal route by name ("node.view") instead
// of a literal URL, so renaming a page's path updates every rule pointing at
// it.  The Table maps route names to path patterns with `{param}` segments
// and substitutes parameters on resolve.
//
// TryResolve is the reverse direction: given a concrete path, find the route
// it would hit.  It returns an explicit (Route, ok) pair; callers branch on
// ok, never on a recovered panic or a sentinel error.  The dispatcher uses it
// to learn whether a matched path is flagged administrative, and the record
// store warns through ServesPath when a redirect source shadows a live page.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package routes

import (
	"fmt"
	"strings"
)

// Route is one named path pattern.  Admin routes are excluded from redirect
// processing unless the global_admin_paths option is on.
type Route struct {
	Name    string
	Pattern string // "/node/{id}", segments only, no query
	Admin   bool
}

// Table holds the route set.  Immutable after New; safe for concurrent reads.
type Table struct {
	byName map[string]Route
	all    []Route
}

// New builds a Table from route definitions.  Later duplicates of a name win,
// matching config-overlay semantics.
func New(defs []Route) *Table {
	t := &Table{byName: make(map[string]Route, len(defs))}
	for _, d := range defs {
		if _, dup := t.byName[d.Name]; dup {
			for i := range t.all {
				if t.all[i].Name == d.Name {
					t.all[i] = d
					break
				}
			}
		} else {
			t.all = append(t.all, d)
		}
		t.byName[d.Name] = d
	}
	return t
}

// Resolve substitutes params into the named route's pattern and returns the
// resulting path.  Unknown route names and missing parameters are errors.
func (t *Table) Resolve(name string, params map[string]string) (string, error) {
	r, ok := t.byName[name]
	if !ok {
		return "", fmt.Errorf("routes: unknown route %q", name)
	}

	segs := strings.Split(strings.TrimPrefix(r.Pattern, "/"), "/")
	for i, s := range segs {
		if !isParam(s) {
			continue
		}
		key := s[1 : len(s)-1]
		v, ok := params[key]
		if !ok {
			return "", fmt.Errorf("routes: route %q missing parameter %q", name, key)
		}
		segs[i] = v
	}
	return "/" + strings.Join(segs, "/"), nil
}

// ServesPath reports whether path belongs to a live, non-admin route.  The
// record store uses it at save time to warn when a new redirect source would
// shadow a page the site still serves.
func (t *Table) ServesPath(path string) bool {
	r, ok := t.TryResolve(path)
	return ok && !r.Admin
}

// TryResolve matches a concrete path against the table and reports the route
// it belongs to.  ok is false when no pattern matches.
func (t *Table) TryResolve(path string) (Route, bool) {
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for _, r := range t.all {
		if matchPattern(r.Pattern, segs) {
			return r, true
		}
	}
	return Route{}, false
}

func matchPattern(pattern string, segs []string) bool {
	psegs := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	if len(psegs) != len(segs) {
		return false
	}
	for i, p := range psegs {
		if isParam(p) {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if p != segs[i] {
			return false
		}
	}
	return true
}

func isParam(s string) bool {
	return len(s) > 2 && s[0] == '{' && s[len(s)-1] == '}'
}

// internal/redirect/record.go
//
// The redirect rule and its target union.
//
// Context
// -------
// A Record maps one (source path, source query, language) triple to a target.
// The target is a real sum type: either a named internal route with
// parameters, or a literal URL.  Call sites type-switch on Target instead of
// probing a nullable route-name field.
//
// The canonical Hash must never be stale: Normalize recomputes it from the
// current triple, and the store calls Normalize on every write.  A Record
// whose triple changed without a Normalize pass is a bug.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package redirect

import (
	"net/url"
	"strings"
	"time"

	"github.com/yanizio/reroute/internal/hashkey"
)

// LanguageNeutral marks a rule that applies to any request language unless a
// language-specific rule exists for the same path and query.
const LanguageNeutral = "und"

// Allowed non-zero status codes.  Zero means "use the configured default."
var validStatus = map[int]bool{0: true, 301: true, 302: true, 303: true, 307: true, 308: true}

// Target is the destination of a rule: RouteTarget or URLTarget.
type Target interface {
	isTarget()
}

// RouteTarget points at a named internal route plus its parameters.
type RouteTarget struct {
	Name   string
	Params map[string]string
}

func (RouteTarget) isTarget() {}

// URLTarget points at a literal relative or absolute URL.
type URLTarget struct {
	URL string
}

func (URLTarget) isTarget() {}

// RouteResolver turns a named route and its parameters into a URL path.  The
// concrete implementation lives outside this package.
type RouteResolver interface {
	Resolve(name string, params map[string]string) (string, error)
}

// Record is one stored redirect rule.
type Record struct {
	ID           int64
	SourcePath   string // no leading slash, no embedded query
	SourceQuery  url.Values
	Target       Target
	TargetQuery  url.Values // merged into the target on dispatch
	Language     string
	StatusCode   int // 0 = use the configured default
	HitCount     int64
	LastAccessed time.Time
	Hash         string
}

// New builds a validated, normalized Record.  The resolver is needed to
// detect self-redirects against route targets; it may be nil when the target
// is a URL.
func New(source string, sourceQuery url.Values, target Target, language string, res RouteResolver) (*Record, error) {
	r := &Record{
		SourcePath:  strings.TrimPrefix(source, "/"),
		SourceQuery: sourceQuery,
		Target:      target,
		Language:    language,
	}
	if r.Language == "" {
		r.Language = LanguageNeutral
	}
	if err := r.Validate(res); err != nil {
		return nil, err
	}
	r.Normalize()
	return r, nil
}

// Validate checks the construction-time invariants.  It is also invoked by
// the store before every insert and update.
func (r *Record) Validate(res RouteResolver) error {
	if r.SourcePath == "" {
		return &InvalidSourceError{Source: r.SourcePath, Reason: "empty path"}
	}
	if strings.Contains(r.SourcePath, "#") {
		return &InvalidSourceError{Source: r.SourcePath, Reason: "fragment anchors are not allowed"}
	}
	if strings.Contains(r.SourcePath, "?") {
		return &InvalidSourceError{Source: r.SourcePath, Reason: "query must be stored separately"}
	}
	if !validStatus[r.StatusCode] {
		return &InvalidSourceError{Source: r.SourcePath, Reason: "unsupported status code"}
	}

	if tp, ok := r.TargetPath(res); ok && tp == r.SourcePath {
		return &SelfRedirectError{Source: r.SourcePath}
	}
	return nil
}

// Normalize recomputes Hash from the current (path, query, language) triple.
func (r *Record) Normalize() {
	r.Hash = hashkey.Compute(r.SourcePath, r.SourceQuery, r.Language)
}

// TargetPath resolves the target to a bare path without leading slash or
// query.  ok is false when a route target cannot be resolved; callers decide
// whether that is fatal.
func (r *Record) TargetPath(res RouteResolver) (path string, ok bool) {
	switch t := r.Target.(type) {
	case URLTarget:
		u, err := url.Parse(t.URL)
		if err != nil {
			return "", false
		}
		return strings.TrimPrefix(u.Path, "/"), true
	case RouteTarget:
		if res == nil {
			return "", false
		}
		p, err := res.Resolve(t.Name, t.Params)
		if err != nil {
			return "", false
		}
		return strings.TrimPrefix(p, "/"), true
	default:
		return "", false
	}
}

// internal/guard/checker.go
//
// Request admission for redirect processing.
//
// Context
// -------
// Not every request is allowed to be redirected.  The Checker answers one
// question, CanRedirect, and says no when:
//
//   • the request is not a normal page view (asset path, or a request marked
//     as an internal sub-request),
//   • the method is anything but GET or HEAD (HEAD mirrors GET, so the two
//     must be treated identically or cached HEAD responses diverge),
//   • the system is in maintenance mode,
//   • the path belongs to an admin route and global_admin_paths is off.
//
// Maintenance state is read through an injected func, not a config field,
// because it flips at runtime without a reload.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package guard

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/yanizio/reroute/internal/routes"
)

// Asset extensions that never redirect.  Keep sorted.
var assetExt = map[string]bool{
	".css": true, ".gif": true, ".ico": true, ".jpeg": true, ".jpg": true,
	".js": true, ".map": true, ".png": true, ".svg": true, ".txt": true,
	".webp": true, ".woff": true, ".woff2": true,
}

// Checker decides whether redirect processing may run for a request.
type Checker struct {
	table       *routes.Table
	allowAdmin  bool        // global_admin_paths
	maintenance func() bool // live system state, may be nil
}

// NewChecker wires a Checker.  table may be nil when no routes are flagged
// administrative; maintenance may be nil when the deployment has no offline
// switch.
func NewChecker(table *routes.Table, allowAdmin bool, maintenance func() bool) *Checker {
	return &Checker{table: table, allowAdmin: allowAdmin, maintenance: maintenance}
}

// CanRedirect reports whether the request is admitted to the redirect
// pipeline.  A false return means "leave the request alone," never an error.
func (c *Checker) CanRedirect(r *http.Request) bool {
	if IsSubRequest(r.Context()) || isAsset(r.URL.Path) {
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if c.maintenance != nil && c.maintenance() {
		return false
	}
	if !c.allowAdmin && c.table != nil {
		if rt, ok := c.table.TryResolve(r.URL.Path); ok && rt.Admin {
			return false
		}
	}
	return true
}

func isAsset(p string) bool {
	return assetExt[strings.ToLower(path.Ext(p))]
}

/*──────────────────────── sub-request marker ──────────────────────────────*/

type subRequestKey struct{}

// MarkSubRequest flags a context as an internal sub-request so nested
// handler invocations never re-enter the redirect pipeline.
func MarkSubRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, subRequestKey{}, true)
}

// IsSubRequest reports whether MarkSubRequest was applied upstream.
func IsSubRequest(ctx context.Context) bool {
	v, _ := ctx.Value(subRequestKey{}).(bool)
	return v
}

// internal/dispatch/dispatcher.go
//
// Redirect middleware: admission → match → loop check → response.
//
// Context
// -------
// The Dispatcher sits early in the handler chain, before routing, the way a
// path-alias rewriter would.  Per request it runs a fixed pipeline:
//
//	admission fails        → pass through untouched
//	no matching rule       → pass through untouched
//	loop guard trips       → 503 Service Unavailable, warning logged
//	otherwise              → Location + status + X-Redirect-ID
//
// The X-Redirect-ID header is the marker that usage accounting keys on.  The
// hit-counter write runs after the response is handed to the client, off the
// request's critical path; a failed write costs a counter tick, never a
// redirect.
//
// Query passthrough merges the incoming request's parameters into the target
// with the rule's own parameters winning on collision: the rule fills intent,
// the request fills gaps.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package dispatch

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/reroute/internal/guard"
	"github.com/yanizio/reroute/internal/metrics"
	"github.com/yanizio/reroute/internal/redirect"
	"github.com/yanizio/reroute/internal/reqinfo"
)

// MarkerHeader carries the matched record id on redirect responses.  It is
// an internal signaling contract for deferred usage accounting, not a header
// clients should interpret.
const MarkerHeader = "X-Redirect-ID"

const usageWriteTimeout = 5 * time.Second

// Settings are the dispatcher's configuration knobs.
type Settings struct {
	PassthroughQuerystring bool
	DefaultStatusCode      int // used when a rule's status code is 0
}

// Dispatcher composes redirect responses for matched requests.
type Dispatcher struct {
	repo    *redirect.Repository
	checker *guard.Checker
	flood   *guard.Flood
	routes  redirect.RouteResolver
	cfg     Settings

	// usage is the post-response accounting hook.  Tests replace it to run
	// synchronously.
	usage func(id int64)
}

// New wires a Dispatcher.
func New(repo *redirect.Repository, checker *guard.Checker, flood *guard.Flood, routes redirect.RouteResolver, cfg Settings) *Dispatcher {
	if cfg.DefaultStatusCode == 0 {
		cfg.DefaultStatusCode = http.StatusMovedPermanently
	}
	d := &Dispatcher{
		repo:    repo,
		checker: checker,
		flood:   flood,
		routes:  routes,
		cfg:     cfg,
	}
	d.usage = func(id int64) { go d.recordUsage(id) }
	return d
}

// Middleware wraps next with the redirect pipeline.
func (d *Dispatcher) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.checker.CanRedirect(r) {
			next.ServeHTTP(w, r)
			return
		}

		info := reqinfo.FromRequest(r)
		lang := info.Language
		if lang == "" {
			lang = redirect.LanguageNeutral
		}

		rec, err := d.repo.FindMatchingRedirect(r.Context(), r.URL.Path, r.URL.Query(), lang)
		if err != nil {
			// Store failure is fatal for this request; do not fall through
			// to a page the rule may have been retiring.
			zap.L().Error("redirect lookup failed",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			next.ServeHTTP(w, r)
			return
		}
		metrics.RedirectMatchTotal.Inc()

		if d.flood.IsLoop(info.CallerID) {
			metrics.RedirectLoopTotal.WithLabelValues(strconv.FormatBool(info.IsBot)).Inc()
			zap.L().Warn("redirect loop identified",
				zap.String("path", r.URL.RequestURI()),
				zap.Int64("redirect_id", rec.ID),
				zap.String("caller", info.CallerID),
				zap.Bool("bot", info.IsBot))
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		loc, err := d.targetURL(rec, r.URL.Query())
		if err != nil {
			// A rule pointing at a route that no longer exists is an operator
			// problem; serve the page normally rather than break it.
			zap.L().Error("redirect target unresolvable",
				zap.Int64("redirect_id", rec.ID),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		status := rec.StatusCode
		if status == 0 {
			status = d.cfg.DefaultStatusCode
		}

		w.Header().Set("Location", loc)
		w.Header().Set(MarkerHeader, strconv.FormatInt(rec.ID, 10))
		w.WriteHeader(status)

		metrics.RedirectServedTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		zap.L().Debug("redirect served",
			zap.String("from", r.URL.Path),
			zap.String("to", loc),
			zap.Int("status", status))

		// Response is written; account for the hit off the critical path.
		d.usage(rec.ID)
	})
}

// targetURL resolves the rule's target and applies query merging.
func (d *Dispatcher) targetURL(rec *redirect.Record, reqQuery url.Values) (string, error) {
	var u *url.URL

	switch t := rec.Target.(type) {
	case redirect.RouteTarget:
		p, err := d.routes.Resolve(t.Name, t.Params)
		if err != nil {
			return "", err
		}
		u = &url.URL{Path: p}
	case redirect.URLTarget:
		parsed, err := url.Parse(t.URL)
		if err != nil {
			return "", err
		}
		u = parsed
	}

	// Precedence, highest first: rule's configured query, query already
	// embedded in a URL target, then the incoming request when passthrough
	// is on.
	merged := u.Query()
	for k, vs := range rec.TargetQuery {
		merged[k] = vs
	}
	if d.cfg.PassthroughQuerystring {
		for k, vs := range reqQuery {
			if _, taken := merged[k]; !taken {
				merged[k] = vs
			}
		}
	}
	u.RawQuery = merged.Encode()

	return u.String(), nil
}

// recordUsage persists one hit against the matched rule.
func (d *Dispatcher) recordUsage(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
	defer cancel()

	if err := d.repo.RecordUsage(ctx, id); err != nil {
		metrics.UsageWriteErrorsTotal.Inc()
		zap.L().Warn("redirect usage write failed",
			zap.Int64("redirect_id", id),
			zap.Error(err))
	}
}

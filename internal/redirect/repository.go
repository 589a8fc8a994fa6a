// internal/redirect/repository.go
//
// Match resolution with a read-through cache.
//
// Context
// -------
// FindMatchingRedirect is the one store read on the request critical path.
// The repository fronts it with a small TTL'd LRU keyed by the full hash set,
// and collapses concurrent identical lookups through singleflight so a burst
// of requests for the same path costs one query.
//
// Language fallback happens here: the hash set is [specific, neutral] in that
// order, and the store prefers a non-neutral match, so a rule created for the
// request's exact language always wins over an "all languages" rule.
//
// Matching is a pure read; it never mutates a record.  Both cache hits and
// known misses are remembered, which keeps hot 404 paths from re-querying,
// at the cost of a rule edit taking up to one TTL to become visible.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package redirect

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yanizio/reroute/internal/cache"
	"github.com/yanizio/reroute/internal/hashkey"
)

// Static defaults.  Override via RepositoryOptions if desired.
const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 30 * time.Second
)

// lookupTimeout bounds a detached in-flight store read.
const lookupTimeout = 5 * time.Second

// Storage is the slice of Store the repository needs.  *Store satisfies it;
// tests substitute an in-memory fake.
type Storage interface {
	GetByHash(ctx context.Context, hashes ...string) (*Record, error)
	FindBySourcePath(ctx context.Context, path string) ([]*Record, error)
	LoadByID(ctx context.Context, id int64) (*Record, error)
	RecordUsage(ctx context.Context, id int64) error
}

// Repository answers "which rule matches this request" for the dispatcher.
type Repository struct {
	store Storage
	sfg   singleflight.Group

	mu  sync.Mutex
	lru *cache.LRU
	ttl time.Duration
}

type entry struct {
	rec *Record // nil = known miss
	exp time.Time
}

// NewRepository builds a Repository with default cache sizing.
func NewRepository(store Storage) *Repository {
	return &Repository{
		store: store,
		lru:   cache.New(DefaultCacheSize),
		ttl:   DefaultCacheTTL,
	}
}

// FindMatchingRedirect returns the best rule for (path, query, language), or
// nil when nothing matches.  A nil result is the normal "serve the page as
// usual" outcome, not an error.
func (rep *Repository) FindMatchingRedirect(ctx context.Context, path string, query url.Values, language string) (*Record, error) {
	path = strings.TrimPrefix(path, "/")

	hashes := []string{hashkey.Compute(path, query, language)}
	if language != LanguageNeutral {
		hashes = append(hashes, hashkey.Compute(path, query, LanguageNeutral))
	}
	key := strings.Join(hashes, "|")

	if rec, ok := rep.cached(key); ok {
		return rec, nil
	}

	v, err, _ := rep.sfg.Do(key, func() (any, error) {
		// The flight serves every caller that piled onto this key, not just
		// the one that opened it, so it must outlive the leader's context.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		rec, err := rep.store.GetByHash(fctx, hashes...)
		if err != nil {
			return nil, err
		}
		rep.remember(key, rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*Record)
	return rec, nil
}

// FindBySourcePath surfaces every rule registered for a source path.  Editor
// hinting only; it bypasses the cache.
func (rep *Repository) FindBySourcePath(ctx context.Context, path string) ([]*Record, error) {
	return rep.store.FindBySourcePath(ctx, strings.TrimPrefix(path, "/"))
}

// Load returns one rule by id, or nil.
func (rep *Repository) Load(ctx context.Context, id int64) (*Record, error) {
	return rep.store.LoadByID(ctx, id)
}

// RecordUsage forwards a usage tick to the store.  The cached copy keeps its
// stale counters until the TTL expires; counters are advisory, rules are not.
func (rep *Repository) RecordUsage(ctx context.Context, id int64) error {
	return rep.store.RecordUsage(ctx, id)
}

// Invalidate drops every cached lookup.  Call after bulk rule edits when the
// TTL delay is not acceptable.
func (rep *Repository) Invalidate() {
	rep.mu.Lock()
	rep.lru.Reset()
	rep.mu.Unlock()
}

func (rep *Repository) cached(key string) (*Record, bool) {
	rep.mu.Lock()
	defer rep.mu.Unlock()

	v, ok := rep.lru.Get(key)
	if !ok {
		return nil, false
	}
	ent := v.(entry)
	if time.Now().After(ent.exp) {
		rep.lru.Remove(key)
		return nil, false
	}
	return ent.rec, true
}

func (rep *Repository) remember(key string, rec *Record) {
	rep.mu.Lock()
	rep.lru.Add(key, entry{rec: rec, exp: time.Now().Add(rep.ttl)})
	rep.mu.Unlock()
}

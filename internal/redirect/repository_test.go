// internal/redirect/repository_test.go
//
// Unit-tests for match resolution and language fallback.
//
// Context
// -------
// A fake in-memory Storage stands in for the MySQL store.  It honours the
// same contract GetByHash does: first hash in the set wins, and a
// language-specific record beats a neutral one.
//
// Run: go test ./internal/redirect -v

package redirect

import (
	"context"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/yanizio/reroute/internal/hashkey"
)

// fakeStorage indexes records by hash.
type fakeStorage struct {
	byHash  map[string]*Record
	lookups int64
}

func newFakeStorage(recs ...*Record) *fakeStorage {
	f := &fakeStorage{byHash: make(map[string]*Record)}
	for _, r := range recs {
		r.Normalize()
		f.byHash[r.Hash] = r
	}
	return f
}

func (f *fakeStorage) GetByHash(ctx context.Context, hashes ...string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	atomic.AddInt64(&f.lookups, 1)

	// Non-neutral language first, mirroring the store's ORDER BY.
	for _, h := range hashes {
		if r, ok := f.byHash[h]; ok && r.Language != LanguageNeutral {
			return r, nil
		}
	}
	for _, h := range hashes {
		if r, ok := f.byHash[h]; ok {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) FindBySourcePath(_ context.Context, path string) ([]*Record, error) {
	var out []*Record
	for _, r := range f.byHash {
		if r.SourcePath == path {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStorage) LoadByID(_ context.Context, id int64) (*Record, error) {
	for _, r := range f.byHash {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) RecordUsage(_ context.Context, id int64) error {
	for _, r := range f.byHash {
		if r.ID == id {
			atomic.AddInt64(&r.HitCount, 1)
			return nil
		}
	}
	return ErrNotFound
}

func TestFindMatchingRedirect_SpecificLanguageWins(t *testing.T) {
	specific := &Record{ID: 1, SourcePath: "a", Language: "en",
		Target: URLTarget{URL: "/en-target"}}
	neutral := &Record{ID: 2, SourcePath: "a", Language: LanguageNeutral,
		Target: URLTarget{URL: "/any-target"}}
	rep := NewRepository(newFakeStorage(specific, neutral))

	got, err := rep.FindMatchingRedirect(context.Background(), "a", nil, "en")
	if err != nil {
		t.Fatalf("FindMatchingRedirect error: %v", err)
	}
	if got == nil || got.ID != 1 {
		t.Fatalf("got %+v, want language-specific record 1", got)
	}
}

func TestFindMatchingRedirect_NeutralFallback(t *testing.T) {
	neutral := &Record{ID: 2, SourcePath: "a", Language: LanguageNeutral,
		Target: URLTarget{URL: "/any-target"}}
	rep := NewRepository(newFakeStorage(neutral))

	got, err := rep.FindMatchingRedirect(context.Background(), "a", nil, "en")
	if err != nil {
		t.Fatalf("FindMatchingRedirect error: %v", err)
	}
	if got == nil || got.ID != 2 {
		t.Fatalf("got %+v, want neutral record 2", got)
	}
}

func TestFindMatchingRedirect_NoMatch(t *testing.T) {
	rep := NewRepository(newFakeStorage())

	got, err := rep.FindMatchingRedirect(context.Background(), "nonexistent", nil, "en")
	if err != nil {
		t.Fatalf("FindMatchingRedirect error: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestFindMatchingRedirect_QueryAware(t *testing.T) {
	q := url.Values{"page": {"2"}}
	withQuery := &Record{ID: 3, SourcePath: "list", SourceQuery: q, Language: LanguageNeutral,
		Target: URLTarget{URL: "/archive"}}
	rep := NewRepository(newFakeStorage(withQuery))

	if got, _ := rep.FindMatchingRedirect(context.Background(), "list", nil, "en"); got != nil {
		t.Fatalf("bare path matched query-bound record: %+v", got)
	}
	got, _ := rep.FindMatchingRedirect(context.Background(), "list", q, "en")
	if got == nil || got.ID != 3 {
		t.Fatalf("got %+v, want record 3", got)
	}
}

func TestFindMatchingRedirect_CachesLookups(t *testing.T) {
	store := newFakeStorage(&Record{ID: 1, SourcePath: "a", Language: LanguageNeutral,
		Target: URLTarget{URL: "/b"}})
	rep := NewRepository(store)

	for i := 0; i < 5; i++ {
		if _, err := rep.FindMatchingRedirect(context.Background(), "a", nil, "en"); err != nil {
			t.Fatalf("FindMatchingRedirect error: %v", err)
		}
	}
	if n := atomic.LoadInt64(&store.lookups); n != 1 {
		t.Fatalf("store lookups = %d, want 1", n)
	}
}

func TestFindMatchingRedirect_LeadingSlashNormalized(t *testing.T) {
	rep := NewRepository(newFakeStorage(&Record{ID: 1, SourcePath: "old-page",
		Language: LanguageNeutral, Target: URLTarget{URL: "/new"}}))

	got, _ := rep.FindMatchingRedirect(context.Background(), "/old-page", nil, "en")
	if got == nil || got.ID != 1 {
		t.Fatalf("got %+v, want record 1", got)
	}
}

// The in-flight store read is shared by every caller piled onto the same
// key, so it must not die with the first caller's context.
func TestFindMatchingRedirect_SurvivesCallerCancel(t *testing.T) {
	rep := NewRepository(newFakeStorage(&Record{ID: 1, SourcePath: "a",
		Language: LanguageNeutral, Target: URLTarget{URL: "/b"}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := rep.FindMatchingRedirect(ctx, "a", nil, "en")
	if err != nil {
		t.Fatalf("FindMatchingRedirect error: %v", err)
	}
	if got == nil || got.ID != 1 {
		t.Fatalf("got %+v, want record 1", got)
	}
}

// Guard against hash drift between repository and hashkey.
func TestFindMatchingRedirect_UsesCanonicalHash(t *testing.T) {
	rec := &Record{ID: 4, SourcePath: "p", Language: "de", Target: URLTarget{URL: "/z"}}
	rec.Normalize()
	if rec.Hash != hashkey.Compute("p", nil, "de") {
		t.Fatal("record hash does not match canonical key")
	}
}

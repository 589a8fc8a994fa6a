// internal/redirect/store_test.go
//
// Unit-tests for the MySQL store using sqlmock.
//
// Context
// -------
// The store is exercised against a mocked driver: uniqueness rejection,
// missing-id reporting, the language-preference ordering of GetByHash, and
// the atomic usage update.  Row-mapping round-trips ride along via the
// returned records.
//
// Run: go test ./internal/redirect -v

package redirect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/reroute/internal/hashkey"
)

var storeCols = []string{"rid", "hash", "source_path", "source_query", "route_name",
	"route_params", "target_url", "target_query", "language", "status_code", "count", "access"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	return newMockStoreWith(t, nil)
}

func newMockStoreWith(t *testing.T, res RouteResolver) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "mysql"), res), mock
}

// shadowResolver marks a fixed set of paths as live pages.  Resolve is never
// reached by URL targets.
type shadowResolver map[string]bool

func (s shadowResolver) Resolve(name string, _ map[string]string) (string, error) {
	return "", fmt.Errorf("unknown route %q", name)
}

func (s shadowResolver) ServesPath(p string) bool { return s[p] }

func TestInsert_DuplicateRejected(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT rid FROM redirect WHERE hash = \? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"rid"}).AddRow(int64(7)))

	r := &Record{SourcePath: "old-page", Target: URLTarget{URL: "/new-page"},
		Language: LanguageNeutral}
	err := s.Insert(context.Background(), r)

	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateError", err)
	}
	if dup.ConflictID != 7 {
		t.Fatalf("conflict id = %d, want 7", dup.ConflictID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestInsert_AssignsID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT rid FROM redirect WHERE hash = \? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"rid"}))
	mock.ExpectExec(`INSERT INTO redirect`).
		WillReturnResult(sqlmock.NewResult(12, 1))

	r := &Record{SourcePath: "old-page", Target: URLTarget{URL: "/new-page"},
		Language: "en"}
	if err := s.Insert(context.Background(), r); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if r.ID != 12 {
		t.Fatalf("id = %d, want 12", r.ID)
	}
	if r.Hash == "" {
		t.Fatal("hash not populated on insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestDeleteByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM redirect WHERE rid = \?`).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteByID(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetByHash_ReturnsMappedRecord(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT.+FROM redirect.+WHERE hash IN.+ORDER BY language = \?.+LIMIT 1`).
		WillReturnRows(sqlmock.NewRows(storeCols).AddRow(
			int64(3), "abc", "old-page", nil, "node.view", `{"id":"5"}`,
			nil, nil, "en", 301, int64(9), int64(1700000000)))

	rec, err := s.GetByHash(context.Background(), "abc", "def")
	if err != nil {
		t.Fatalf("GetByHash error: %v", err)
	}
	if rec == nil || rec.ID != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	rt, ok := rec.Target.(RouteTarget)
	if !ok {
		t.Fatalf("target = %T, want RouteTarget", rec.Target)
	}
	if rt.Name != "node.view" || rt.Params["id"] != "5" {
		t.Fatalf("unexpected route target: %+v", rt)
	}
	if rec.HitCount != 9 {
		t.Fatalf("hit count = %d, want 9", rec.HitCount)
	}
	if rec.LastAccessed.Unix() != 1700000000 {
		t.Fatalf("last accessed = %v", rec.LastAccessed)
	}
}

func TestGetByHash_NoMatchIsNil(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT.+FROM redirect.+WHERE hash IN`).
		WillReturnRows(sqlmock.NewRows(storeCols))

	rec, err := s.GetByHash(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("GetByHash error: %v", err)
	}
	if rec != nil {
		t.Fatalf("record = %+v, want nil", rec)
	}
}

func TestRecordUsage_AtomicIncrement(t *testing.T) {
	s, mock := newMockStore(t)
	fixed := time.Unix(1700000123, 0)
	s.now = func() time.Time { return fixed }

	mock.ExpectExec(`UPDATE redirect SET count = count \+ 1, access = \? WHERE rid = \?`).
		WithArgs(fixed.Unix(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.RecordUsage(context.Background(), 3); err != nil {
		t.Fatalf("RecordUsage error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestUpdate_UnknownID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM redirect WHERE rid = \?`).
		WithArgs(int64(55)).
		WillReturnRows(sqlmock.NewRows(storeCols))

	_, err := s.Update(context.Background(), 55, func(*Record) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdate_RecomputesHash(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM redirect WHERE rid = \?`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(storeCols).AddRow(
			int64(5), "stale-hash", "old", nil, nil, nil,
			"/new", nil, LanguageNeutral, 301, int64(0), int64(0)))
	mock.ExpectQuery(`SELECT rid FROM redirect WHERE hash = \? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"rid"}))

	wantHash := hashkey.Compute("moved", nil, LanguageNeutral)
	mock.ExpectExec(`(?s)UPDATE redirect.+SET hash = \?.+WHERE rid = \?`).
		WithArgs(wantHash, "moved", nil, nil, nil, "/new", nil,
			LanguageNeutral, 301, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.Update(context.Background(), 5, func(r *Record) error {
		r.SourcePath = "moved"
		return nil
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got.Hash != wantHash {
		t.Fatalf("hash = %q, want recomputed %q", got.Hash, wantHash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestUpdate_CollisionWithOtherRecord(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM redirect WHERE rid = \?`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(storeCols).AddRow(
			int64(5), "stale-hash", "old", nil, nil, nil,
			"/new", nil, LanguageNeutral, 301, int64(0), int64(0)))

	// Another record already owns the post-mutation hash.
	mock.ExpectQuery(`SELECT rid FROM redirect WHERE hash = \? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"rid"}).AddRow(int64(9)))

	_, err := s.Update(context.Background(), 5, func(r *Record) error {
		r.SourcePath = "taken"
		return nil
	})

	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateError", err)
	}
	if dup.ConflictID != 9 {
		t.Fatalf("conflict id = %d, want 9", dup.ConflictID)
	}
}

func TestUpdate_SelfCollisionAllowed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM redirect WHERE rid = \?`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(storeCols).AddRow(
			int64(5), "h", "old", nil, nil, nil,
			"/new", nil, LanguageNeutral, 301, int64(0), int64(0)))
	mock.ExpectQuery(`SELECT rid FROM redirect WHERE hash = \? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"rid"}).AddRow(int64(5)))
	mock.ExpectExec(`(?s)UPDATE redirect`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Mutation leaves the source triple alone; the record collides only with
	// itself, which is not a conflict.
	if _, err := s.Update(context.Background(), 5, func(r *Record) error {
		r.StatusCode = 302
		return nil
	}); err != nil {
		t.Fatalf("Update error: %v", err)
	}
}

func TestLoadMany_SkipsUnknownIDs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT.+FROM redirect WHERE rid IN`).
		WillReturnRows(sqlmock.NewRows(storeCols).
			AddRow(int64(1), "h1", "a", nil, nil, nil, "/x", nil,
				LanguageNeutral, 301, int64(0), int64(0)).
			AddRow(int64(4), "h4", "b", nil, "node.view", `{"id":"2"}`, nil, nil,
				"en", 302, int64(3), int64(0)))

	recs, err := s.LoadMany(context.Background(), []int64{1, 4, 99})
	if err != nil {
		t.Fatalf("LoadMany error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2 (unknown id skipped)", len(recs))
	}
	if recs[0].ID != 1 || recs[1].ID != 4 {
		t.Fatalf("ids = %d, %d; want 1, 4", recs[0].ID, recs[1].ID)
	}
	if rt, ok := recs[1].Target.(RouteTarget); !ok || rt.Params["id"] != "2" {
		t.Fatalf("record 4 target = %+v, want route target", recs[1].Target)
	}

	if recs, err := s.LoadMany(context.Background(), nil); err != nil || recs != nil {
		t.Fatalf("empty id set: recs = %v, err = %v", recs, err)
	}
}

func TestInsert_WarnsWhenSourceShadowsLiveRoute(t *testing.T) {
	s, mock := newMockStoreWith(t, shadowResolver{"/about": true})

	var warned []string
	s.warnShadow = func(source string) { warned = append(warned, source) }

	mock.ExpectQuery(`SELECT rid FROM redirect WHERE hash = \? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"rid"}))
	mock.ExpectExec(`INSERT INTO redirect`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := &Record{SourcePath: "about", Target: URLTarget{URL: "/about-page"},
		Language: LanguageNeutral}
	if err := s.Insert(context.Background(), r); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if len(warned) != 1 || warned[0] != "about" {
		t.Fatalf("warnings = %v, want [about]", warned)
	}

	// A source no route serves stays quiet.
	mock.ExpectQuery(`SELECT rid FROM redirect WHERE hash = \? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"rid"}))
	mock.ExpectExec(`INSERT INTO redirect`).
		WillReturnResult(sqlmock.NewResult(2, 1))

	r2 := &Record{SourcePath: "gone-page", Target: URLTarget{URL: "/elsewhere"},
		Language: LanguageNeutral}
	if err := s.Insert(context.Background(), r2); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if len(warned) != 1 {
		t.Fatalf("warnings = %v, want no new entries", warned)
	}
}

func TestRecordUsage_UnknownID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE redirect SET count = count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RecordUsage(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

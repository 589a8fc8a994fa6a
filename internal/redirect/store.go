// internal/redirect/store.go
//
// MySQL-backed record store.
//
// Context
// -------
// One table, `redirect`, keyed by auto-increment rid with a UNIQUE index on
// hash.  The hash uniqueness invariant is enforced twice: a pre-write lookup
// that can name the conflicting record for the editor, and the index itself
// as the race backstop (two concurrent inserts of the same rule cannot both
// land).  Query maps and route parameters are stored as JSON text.
//
// Matching is read-only and runs concurrently without coordination.  The one
// hot write, the hit counter, is a single atomic `count = count + 1` so
// concurrent dispatches of the same rule never lose updates.
//
// Schema
// ------
//
//	CREATE TABLE redirect (
//	  rid          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
//	  hash         VARCHAR(64)  NOT NULL,
//	  source_path  VARCHAR(560) NOT NULL,
//	  source_query TEXT         NULL,
//	  route_name   VARCHAR(255) NULL,
//	  route_params TEXT         NULL,
//	  target_url   VARCHAR(560) NULL,
//	  target_query TEXT         NULL,
//	  language     VARCHAR(12)  NOT NULL DEFAULT 'und',
//	  status_code  INT          NOT NULL DEFAULT 0,
//	  count        BIGINT       NOT NULL DEFAULT 0,
//	  access       BIGINT       NOT NULL DEFAULT 0,
//	  UNIQUE KEY redirect_hash (hash),
//	  KEY redirect_source (source_path)
//	);
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package redirect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const selectCols = `rid, hash, source_path, source_query, route_name, route_params,
       target_url, target_query, language, status_code, count, access`

// PathMatcher is the optional slice of the route table consulted on writes:
// a source path that a live route still serves gets a warning, since the new
// rule will shadow that page.  *routes.Table satisfies it.
type PathMatcher interface {
	ServesPath(path string) bool
}

// Store persists Records in MySQL.  Safe for concurrent use.
type Store struct {
	db  *sqlx.DB
	res RouteResolver
	now func() time.Time

	// warnShadow reports a saved source that hides a live page.  Tests
	// replace it.
	warnShadow func(source string)
}

// NewStore wires a Store to a pooled connection.  The resolver is used for
// self-redirect validation on route targets; nil disables that check for
// route targets only.
func NewStore(db *sqlx.DB, res RouteResolver) *Store {
	return &Store{
		db:  db,
		res: res,
		now: time.Now,
		warnShadow: func(source string) {
			zap.L().Warn("redirect source shadows a live route",
				zap.String("source", source))
		},
	}
}

// noteShadow flags a write whose source a live route still serves.  Advisory
// only; the rule wins at dispatch, which is usually what a retiring page
// wants, but the operator should know.
func (s *Store) noteShadow(r *Record) {
	m, ok := s.res.(PathMatcher)
	if !ok || !m.ServesPath("/"+r.SourcePath) {
		return
	}
	s.warnShadow(r.SourcePath)
}

// row mirrors one redirect table row.
type row struct {
	RID         int64          `db:"rid"`
	Hash        string         `db:"hash"`
	SourcePath  string         `db:"source_path"`
	SourceQuery sql.NullString `db:"source_query"`
	RouteName   sql.NullString `db:"route_name"`
	RouteParams sql.NullString `db:"route_params"`
	TargetURL   sql.NullString `db:"target_url"`
	TargetQuery sql.NullString `db:"target_query"`
	Language    string         `db:"language"`
	StatusCode  int            `db:"status_code"`
	HitCount    int64          `db:"count"`
	Access      int64          `db:"access"`
}

// Insert validates, normalizes, and persists a new record.  The record's ID
// and Hash are filled in on success.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	if err := r.Validate(s.res); err != nil {
		return err
	}
	r.Normalize()
	s.noteShadow(r)

	if err := s.checkDuplicate(ctx, r.Hash, 0); err != nil {
		return err
	}

	rw, err := toRow(r)
	if err != nil {
		return err
	}
	const q = `
	    INSERT INTO redirect
	           (hash, source_path, source_query, route_name, route_params,
	            target_url, target_query, language, status_code, count, access)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		rw.Hash, rw.SourcePath, rw.SourceQuery, rw.RouteName, rw.RouteParams,
		rw.TargetURL, rw.TargetQuery, rw.Language, rw.StatusCode, rw.HitCount, rw.Access)
	if err != nil {
		return translateDup(err, r.Hash)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// Update loads the record, applies mutate, revalidates, recomputes the hash,
// and persists.  A hash collision with a different record is rejected.
func (s *Store) Update(ctx context.Context, id int64, mutate func(*Record) error) (*Record, error) {
	r, err := s.LoadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNotFound
	}

	if err := mutate(r); err != nil {
		return nil, err
	}
	if err := r.Validate(s.res); err != nil {
		return nil, err
	}
	r.Normalize()
	s.noteShadow(r)

	if err := s.checkDuplicate(ctx, r.Hash, id); err != nil {
		return nil, err
	}

	rw, err := toRow(r)
	if err != nil {
		return nil, err
	}
	const q = `
	    UPDATE redirect
	       SET hash = ?, source_path = ?, source_query = ?, route_name = ?,
	           route_params = ?, target_url = ?, target_query = ?,
	           language = ?, status_code = ?
	     WHERE rid = ?`
	if _, err := s.db.ExecContext(ctx, q,
		rw.Hash, rw.SourcePath, rw.SourceQuery, rw.RouteName, rw.RouteParams,
		rw.TargetURL, rw.TargetQuery, rw.Language, rw.StatusCode, id); err != nil {
		return nil, translateDup(err, r.Hash)
	}
	return r, nil
}

// DeleteByID removes one record.  Unknown ids report ErrNotFound rather than
// succeeding silently.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM redirect WHERE rid = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByHash returns the first record whose hash is in hashes, or nil.  A
// language-specific record sorts ahead of a neutral one, which implements
// the "specific language overrides all languages" rule when the caller
// passes [specific, neutral].
func (s *Store) GetByHash(ctx context.Context, hashes ...string) (*Record, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`
	    SELECT `+selectCols+`
	      FROM redirect
	     WHERE hash IN (?)
	     ORDER BY language = ?
	     LIMIT 1`, hashes, LanguageNeutral)
	if err != nil {
		return nil, err
	}

	var rw row
	err = s.db.GetContext(ctx, &rw, s.db.Rebind(q), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&rw)
}

// FindBySourcePath returns every record whose source path equals path
// exactly, regardless of query or language.  Used for editor hinting.
func (s *Store) FindBySourcePath(ctx context.Context, path string) ([]*Record, error) {
	const q = `
	    SELECT ` + selectCols + `
	      FROM redirect
	     WHERE source_path = ?
	     ORDER BY rid`
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, q, path); err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		r, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadByID returns one record or nil when absent.
func (s *Store) LoadByID(ctx context.Context, id int64) (*Record, error) {
	var rw row
	err := s.db.GetContext(ctx, &rw,
		`SELECT `+selectCols+` FROM redirect WHERE rid = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&rw)
}

// LoadMany returns the records for ids, skipping unknown ones.
func (s *Store) LoadMany(ctx context.Context, ids []int64) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT `+selectCols+` FROM redirect WHERE rid IN (?) ORDER BY rid`, ids)
	if err != nil {
		return nil, err
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		r, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// RecordUsage bumps the hit counter and access timestamp in one atomic
// statement.  Runs after the response has been sent, off the critical path.
func (s *Store) RecordUsage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE redirect SET count = count + 1, access = ? WHERE rid = ?`,
		s.now().Unix(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// checkDuplicate rejects a write whose hash is already owned by a record
// other than selfID.
func (s *Store) checkDuplicate(ctx context.Context, hash string, selfID int64) error {
	var rid int64
	err := s.db.GetContext(ctx, &rid,
		`SELECT rid FROM redirect WHERE hash = ? LIMIT 1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if rid != selfID {
		return &DuplicateError{Hash: hash, ConflictID: rid}
	}
	return nil
}

// translateDup maps a MySQL duplicate-key violation (the race the pre-check
// cannot close) onto DuplicateError.
func translateDup(err error, hash string) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return &DuplicateError{Hash: hash}
	}
	return err
}

/*──────────────────────────── row mapping ─────────────────────────────────*/

func toRow(r *Record) (*row, error) {
	rw := &row{
		RID:        r.ID,
		Hash:       r.Hash,
		SourcePath: r.SourcePath,
		Language:   r.Language,
		StatusCode: r.StatusCode,
		HitCount:   r.HitCount,
	}
	if !r.LastAccessed.IsZero() {
		rw.Access = r.LastAccessed.Unix()
	}

	var err error
	if rw.SourceQuery, err = marshalValues(r.SourceQuery); err != nil {
		return nil, err
	}
	if rw.TargetQuery, err = marshalValues(r.TargetQuery); err != nil {
		return nil, err
	}

	switch t := r.Target.(type) {
	case RouteTarget:
		rw.RouteName = sql.NullString{String: t.Name, Valid: true}
		if len(t.Params) > 0 {
			enc, err := json.Marshal(t.Params)
			if err != nil {
				return nil, err
			}
			rw.RouteParams = sql.NullString{String: string(enc), Valid: true}
		}
	case URLTarget:
		rw.TargetURL = sql.NullString{String: t.URL, Valid: true}
	}
	return rw, nil
}

func fromRow(rw *row) (*Record, error) {
	r := &Record{
		ID:         rw.RID,
		Hash:       rw.Hash,
		SourcePath: rw.SourcePath,
		Language:   rw.Language,
		StatusCode: rw.StatusCode,
		HitCount:   rw.HitCount,
	}
	if rw.Access > 0 {
		r.LastAccessed = time.Unix(rw.Access, 0)
	}

	var err error
	if r.SourceQuery, err = unmarshalValues(rw.SourceQuery); err != nil {
		return nil, err
	}
	if r.TargetQuery, err = unmarshalValues(rw.TargetQuery); err != nil {
		return nil, err
	}

	if rw.RouteName.Valid {
		t := RouteTarget{Name: rw.RouteName.String}
		if rw.RouteParams.Valid {
			if err := json.Unmarshal([]byte(rw.RouteParams.String), &t.Params); err != nil {
				return nil, err
			}
		}
		r.Target = t
	} else if rw.TargetURL.Valid {
		r.Target = URLTarget{URL: rw.TargetURL.String}
	}
	return r, nil
}

func marshalValues(v map[string][]string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	enc, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(enc), Valid: true}, nil
}

func unmarshalValues(ns sql.NullString) (map[string][]string, error) {
	if !ns.Valid {
		return nil, nil
	}
	var v map[string][]string
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

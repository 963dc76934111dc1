// Package mirror implements the local queryable store holding the latest
// fully-replaced snapshot of the external source. The record set is
// installed a whole generation at a time; readers observe either the
// previous generation or the new one, never a mix.
package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/projectpulse/projectpulse/internal/model"
)

// projectColumnsDDL is shared between the durable table and the shadow
// table built during a replace, so both carry the autoincrement id that
// default ordering relies on.
const projectColumnsDDL = `
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	enterprise TEXT,
	kind TEXT,
	district TEXT,
	zone TEXT,
	total_value REAL,
	yearly_value REAL,
	size TEXT,
	partner TEXT,
	partner_country TEXT,
	status TEXT,
	problem TEXT,
	agency_owner TEXT,
	region_owner TEXT,
	problem_due TEXT
`

const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (` + projectColumnsDDL + `);
CREATE TABLE IF NOT EXISTS daily_works (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	district TEXT NOT NULL,
	task TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	entry_date TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS generations (
	generation TEXT PRIMARY KEY,
	record_count INTEGER NOT NULL,
	installed_at TIMESTAMP NOT NULL
);`

// Index set mirrors the read paths: every categorical dimension the
// aggregate queries group or filter on, plus the due-date column.
var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_projects_size ON projects(size)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_district ON projects(district)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_enterprise ON projects(enterprise)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_kind ON projects(kind)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_problem ON projects(problem)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_due ON projects(problem_due)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_agency ON projects(agency_owner)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_region ON projects(region_owner)`,
}

var worksIndexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_daily_works_district ON daily_works(district)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_works_date ON daily_works(entry_date)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_works_status ON daily_works(status)`,
}

const insertColumns = `name, enterprise, kind, district, zone, total_value, yearly_value,
	size, partner, partner_country, status, problem, agency_owner, region_owner, problem_due`

// Store is the mirror store. ReplaceAll is single-writer (only the sync
// engine calls it); reads go through the bounded handle pool.
type Store struct {
	db   *sql.DB
	pool *Pool
	log  zerolog.Logger
}

// NewStore wires a Store over an open database and ensures the schema.
func NewStore(db *sql.DB, poolSize int, log zerolog.Logger) (*Store, error) {
	s := &Store{db: db, pool: NewPool(db, poolSize), log: log}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	for _, set := range [][]string{indexDDL, worksIndexDDL} {
		for _, ddl := range set {
			if _, err := s.db.Exec(ddl); err != nil {
				return fmt.Errorf("ensure index: %w", err)
			}
		}
	}
	return nil
}

// Close releases pooled handles and the database.
func (s *Store) Close() error {
	s.pool.Close()
	return s.db.Close()
}

// ReplaceAll atomically discards the prior generation and installs records
// as the new one. The swap happens inside a single transaction via a shadow
// table, so concurrent readers see the old set right up to commit and the
// complete new set after. On any error the transaction rolls back and the
// previous generation stays intact.
func (s *Store) ReplaceAll(ctx context.Context, records []model.Record) (string, error) {
	gen := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	// The shadow table carries the full column DDL. Deriving it from the
	// live table with CREATE TABLE AS would lose the primary key, and with
	// it the insert-order id that default ordering sorts by.
	if _, err := tx.ExecContext(ctx, `CREATE TABLE projects_next (`+projectColumnsDDL+`)`); err != nil {
		return "", fmt.Errorf("create shadow table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO projects_next (`+insertColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return "", err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		var due interface{}
		if r.ProblemDue != "" {
			due = string(r.ProblemDue)
		}
		if _, err := stmt.ExecContext(ctx,
			r.Name, r.Enterprise, r.Kind, r.District, r.Zone,
			r.TotalValue, r.YearlyValue, nullableSize(r.Size), r.Partner, r.PartnerCountry,
			r.Status, r.Problem, r.AgencyOwner, r.RegionOwner, due,
		); err != nil {
			return "", fmt.Errorf("insert record %q: %w", r.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE projects`); err != nil {
		return "", fmt.Errorf("drop prior generation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE projects_next RENAME TO projects`); err != nil {
		return "", fmt.Errorf("install new generation: %w", err)
	}
	for _, ddl := range indexDDL {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return "", fmt.Errorf("rebuild index: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM generations`); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO generations (generation, record_count, installed_at) VALUES (?,?,?)`,
		gen, len(records), time.Now().UTC()); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit replace: %w", err)
	}

	s.log.Info().Str("generation", gen).Int("records", len(records)).Msg("mirror generation installed")
	return gen, nil
}

// Generation returns the id and record count of the installed generation.
// model.ErrNotFound before the first successful replace.
func (s *Store) Generation(ctx context.Context) (string, int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT generation, record_count FROM generations LIMIT 1`)
	var gen string
	var n int
	if err := row.Scan(&gen, &n); err != nil {
		if err == sql.ErrNoRows {
			return "", 0, model.ErrNotFound
		}
		return "", 0, err
	}
	return gen, n, nil
}

func nullableSize(sz model.SizeClass) interface{} {
	if sz == model.SizeUnset {
		return nil
	}
	return string(sz)
}

// Filter narrows a Query. Zero-valued fields are ignored. Substr matches as
// a substring against the name, status and problem free-text columns.
type Filter struct {
	Size         model.SizeClass
	District     string
	Enterprise   string
	KindContains string
	ProblemsOnly bool
	Substr       string
	OrderBy      string // one of: name, total_value, yearly_value, problem_due
	Desc         bool
	Limit        int
	Offset       int
}

var orderColumns = map[string]string{
	"name":         "name",
	"total_value":  "total_value",
	"yearly_value": "yearly_value",
	"problem_due":  "problem_due",
}

func (f Filter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.Size != model.SizeUnset {
		conds = append(conds, "size = ?")
		args = append(args, string(f.Size))
	}
	if f.District != "" {
		conds = append(conds, "district = ?")
		args = append(args, f.District)
	}
	if f.Enterprise != "" {
		conds = append(conds, "enterprise = ?")
		args = append(args, f.Enterprise)
	}
	if f.KindContains != "" {
		conds = append(conds, "kind LIKE ?")
		args = append(args, "%"+f.KindContains+"%")
	}
	if f.ProblemsOnly {
		conds = append(conds, "problem != ? AND problem != '' AND problem != ?")
		args = append(args, model.NoProblem, model.Unknown)
	}
	if f.Substr != "" {
		conds = append(conds, "(name LIKE ? OR status LIKE ? OR problem LIKE ?)")
		pat := "%" + f.Substr + "%"
		args = append(args, pat, pat, pat)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns records of the current generation matching f.
func (s *Store) Query(ctx context.Context, f Filter) ([]model.Record, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(conn)

	q := `SELECT ` + insertColumns + ` FROM projects`
	where, args := f.where()
	q += where
	if col, ok := orderColumns[f.OrderBy]; ok {
		q += " ORDER BY " + col
		if f.Desc {
			q += " DESC"
		}
	} else {
		q += " ORDER BY id"
	}
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HealthPing probes the database through the read pool.
func (s *Store) HealthPing(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(conn)
	var one int
	return conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Count returns the number of records matching f in the current generation.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Release(conn)

	where, args := f.where()
	row := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`+where, args...)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanRecord(rows *sql.Rows) (model.Record, error) {
	var r model.Record
	var size, due sql.NullString
	err := rows.Scan(&r.Name, &r.Enterprise, &r.Kind, &r.District, &r.Zone,
		&r.TotalValue, &r.YearlyValue, &size, &r.Partner, &r.PartnerCountry,
		&r.Status, &r.Problem, &r.AgencyOwner, &r.RegionOwner, &due)
	if err != nil {
		return model.Record{}, err
	}
	if size.Valid {
		r.Size = model.SizeClass(size.String)
	}
	if due.Valid {
		r.ProblemDue = model.Date(due.String)
	}
	return r, nil
}

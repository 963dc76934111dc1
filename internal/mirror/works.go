package mirror

import (
	"context"
	"database/sql"

	"github.com/projectpulse/projectpulse/internal/model"
)

// ReplaceWorks discards the stored daily works set and installs items in
// its place, inside one transaction so readers never see a partial set.
func (s *Store) ReplaceWorks(ctx context.Context, items []model.WorkItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_works`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_works (district, task, status, entry_date) VALUES (?,?,?,?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, w := range items {
		if _, err := stmt.ExecContext(ctx, w.District, w.Task, w.Status, string(w.EntryDate)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Info().Int("items", len(items)).Msg("daily works installed")
	return nil
}

// WorkSummary aggregates the daily works set for its most recent entry
// date.
type WorkSummary struct {
	LastDate        model.Date // zero when no works are stored
	TotalTasks      int
	CompletedTasks  int
	ActiveDistricts int
}

// WorkStats computes the works aggregate: the latest entry date present
// and, for that date, task counts and the number of reporting districts.
func (s *Store) WorkStats(ctx context.Context) (WorkSummary, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return WorkSummary{}, err
	}
	defer s.pool.Release(conn)

	var last string
	err = conn.QueryRowContext(ctx, `SELECT entry_date FROM daily_works ORDER BY entry_date DESC LIMIT 1`).Scan(&last)
	if err == sql.ErrNoRows {
		return WorkSummary{}, nil
	}
	if err != nil {
		return WorkSummary{}, err
	}

	sum := WorkSummary{LastDate: model.Date(last)}
	row := conn.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(CASE WHEN status != '' THEN 1 END),
	COUNT(DISTINCT district)
FROM daily_works
WHERE entry_date = ?`, last)
	if err := row.Scan(&sum.TotalTasks, &sum.CompletedTasks, &sum.ActiveDistricts); err != nil {
		return WorkSummary{}, err
	}
	return sum, nil
}

// WorksForDate lists items stamped with date, grouped by district in
// insert order.
func (s *Store) WorksForDate(ctx context.Context, date model.Date) ([]model.WorkItem, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(conn)

	rows, err := conn.QueryContext(ctx, `
SELECT district, task, status, entry_date
FROM daily_works
WHERE entry_date = ?
ORDER BY district, id`, string(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WorkItem
	for rows.Next() {
		var w model.WorkItem
		var entry string
		if err := rows.Scan(&w.District, &w.Task, &w.Status, &entry); err != nil {
			return nil, err
		}
		w.EntryDate = model.Date(entry)
		out = append(out, w)
	}
	return out, rows.Err()
}

package mirror

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/projectpulse/projectpulse/internal/model"
)

// Token fragments that distinguish project kinds in the source sheet's
// free-text kind column ("newly starting" vs "carrying over year to year").
const (
	newKindToken       = "янг"
	carryoverKindToken = "йил"
)

// Summary is the headline aggregate over the whole mirror.
type Summary struct {
	TotalCount     int
	TotalValue     float64
	YearlyValue    float64
	NewCount       int
	NewValue       float64
	CarryoverCount int
	CarryoverValue float64
	ProblemCount   int
}

// GroupStat is one bucket of a categorical breakdown.
type GroupStat struct {
	Key   string
	Count int
	Sum   float64
}

// DueStats summarizes open-problem due dates relative to a reference date.
type DueStats struct {
	WithDue int
	Overdue int
	DueSoon int // due within the next 3 days, reference date exclusive
}

// Dimension names accepted by GroupBy, mapped to their columns.
var groupColumns = map[string]string{
	"size":            "size",
	"enterprise":      "enterprise",
	"district":        "district",
	"kind":            "kind",
	"zone":            "zone",
	"partner_country": "partner_country",
	"status":          "status",
	"agency_owner":    "agency_owner",
	"region_owner":    "region_owner",
}

// Summary computes the headline aggregate in a single pass.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return Summary{}, err
	}
	defer s.pool.Release(conn)

	row := conn.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(total_value), 0),
	COALESCE(SUM(yearly_value), 0),
	COUNT(CASE WHEN kind LIKE '%`+newKindToken+`%' THEN 1 END),
	COALESCE(SUM(CASE WHEN kind LIKE '%`+newKindToken+`%' THEN yearly_value ELSE 0 END), 0),
	COUNT(CASE WHEN kind LIKE '%`+carryoverKindToken+`%' THEN 1 END),
	COALESCE(SUM(CASE WHEN kind LIKE '%`+carryoverKindToken+`%' THEN yearly_value ELSE 0 END), 0),
	COUNT(CASE WHEN problem != ? AND problem != '' AND problem != ? THEN 1 END)
FROM projects`, model.NoProblem, model.Unknown)

	var sum Summary
	if err := row.Scan(&sum.TotalCount, &sum.TotalValue, &sum.YearlyValue,
		&sum.NewCount, &sum.NewValue, &sum.CarryoverCount, &sum.CarryoverValue,
		&sum.ProblemCount); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// GroupBy returns count and total-value sums grouped by the named
// dimension, largest buckets first. Unknown-sentinel buckets are skipped.
func (s *Store) GroupBy(ctx context.Context, dimension string) ([]GroupStat, error) {
	col, ok := groupColumns[dimension]
	if !ok {
		return nil, fmt.Errorf("%w: unknown dimension %q", model.ErrValidation, dimension)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(conn)

	rows, err := conn.QueryContext(ctx, `
SELECT `+col+`, COUNT(*), COALESCE(SUM(total_value), 0)
FROM projects
WHERE `+col+` IS NOT NULL AND `+col+` != '' AND `+col+` != ?
GROUP BY `+col+`
ORDER BY COUNT(*) DESC, `+col, model.Unknown)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupStat
	for rows.Next() {
		var g GroupStat
		if err := rows.Scan(&g.Key, &g.Count, &g.Sum); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DueStats buckets open-problem due dates against today. Records without a
// parsable due date are excluded from all buckets.
func (s *Store) DueStats(ctx context.Context, today model.Date) (DueStats, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return DueStats{}, err
	}
	defer s.pool.Release(conn)

	soon := model.DateOf(today.Time().AddDate(0, 0, 3))
	row := conn.QueryRowContext(ctx, `
SELECT
	COUNT(problem_due),
	COUNT(CASE WHEN problem_due < ? THEN 1 END),
	COUNT(CASE WHEN problem_due >= ? AND problem_due <= ? THEN 1 END)
FROM projects
WHERE problem_due IS NOT NULL`, string(today), string(today), string(soon))

	var d DueStats
	if err := row.Scan(&d.WithDue, &d.Overdue, &d.DueSoon); err != nil {
		if err == sql.ErrNoRows {
			return DueStats{}, nil
		}
		return DueStats{}, err
	}
	return d, nil
}

// Package syncer rebuilds the mirror from the external source on a fixed
// interval.
package syncer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/projectpulse/projectpulse/internal/cache"
	"github.com/projectpulse/projectpulse/internal/mirror"
	"github.com/projectpulse/projectpulse/internal/model"
	"github.com/projectpulse/projectpulse/internal/source"
)

// Column offsets of the source sheet.
const (
	colName           = 1
	colEnterprise     = 2
	colKind           = 3
	colDistrict       = 5
	colZone           = 6
	colPartner        = 11
	colPartnerCountry = 12
	colTotalValue     = 13
	colSize           = 14
	colYearlyValue    = 16
	colStatus         = 27
	colProblem        = 28
	colAgencyOwner    = 29
	colRegionOwner    = 30
	colProblemDue     = 32
)

// Per-field length caps applied before insert.
const (
	maxNameLen    = 500
	maxCatLen     = 200
	maxShortLen   = 100
	maxStatusLen  = 500
	maxProblemLen = 1000
)

// Candidate due-date layouts, most frequent first. First match wins.
var dateLayouts = []string{
	"02.01.2006", "02/01/2006", "02-01-2006",
	"2006-01-02", "2006.01.02", "2006/01/02",
	"02.01.06", "02/01/06", "02-01-06",
}

// Engine pulls snapshots, transforms rows into mirror records and installs
// them as a new generation, then clears the aggregate cache.
type Engine struct {
	fetcher source.Fetcher
	store   *mirror.Store
	cache   *cache.Cache
	log     zerolog.Logger
}

// New constructs an Engine from its dependencies.
func New(f source.Fetcher, st *mirror.Store, c *cache.Cache, log zerolog.Logger) *Engine {
	return &Engine{fetcher: f, store: st, cache: c, log: log}
}

// RunCycle performs one full sync cycle. On any failure the previous
// generation stays untouched and the error is returned; malformed rows are
// logged and skipped rather than failing the cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	start := time.Now()

	rows, err := e.fetcher.FetchSnapshot(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("sync: snapshot fetch failed")
		return err
	}

	records := make([]model.Record, 0, len(rows))
	skipped := 0
	for i, row := range rows {
		rec, ok := transformRow(row)
		if !ok {
			skipped++
			e.log.Warn().Int("row", i).Msg("sync: skipping malformed row")
			continue
		}
		records = append(records, rec)
	}

	gen, err := e.store.ReplaceAll(ctx, records)
	if err != nil {
		e.log.Error().Err(err).Msg("sync: mirror replace failed, prior generation retained")
		return err
	}

	// Invalidate after the new generation is visible so cached readers
	// never recompute against the old one.
	e.cache.Clear()

	e.log.Info().
		Str("generation", gen).
		Int("records", len(records)).
		Int("skipped", skipped).
		Dur("took", time.Since(start)).
		Msg("sync cycle complete")
	return nil
}

// Start runs an immediate cycle and then repeats on the given interval
// until ctx is canceled. It runs in its own goroutine context so a slow or
// failing cycle never blocks read traffic.
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	e.log.Info().Dur("interval", interval).Msg("sync engine starting")

	if err := e.RunCycle(ctx); err != nil {
		e.log.Error().Err(err).Msg("initial sync cycle failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("sync engine stopping")
			return
		case <-ticker.C:
			if err := e.RunCycle(ctx); err != nil {
				e.log.Error().Err(err).Msg("sync cycle failed")
			}
		}
	}
}

// transformRow normalizes one sheet row into a Record. A row without a
// usable name column is malformed.
func transformRow(row []string) (model.Record, bool) {
	if len(row) <= colName {
		return model.Record{}, false
	}
	name := truncate(source.Cell(row, colName), maxNameLen)
	if name == "" {
		return model.Record{}, false
	}

	return model.Record{
		Name:           name,
		Enterprise:     catField(row, colEnterprise, maxCatLen),
		Kind:           catField(row, colKind, maxCatLen),
		District:       catField(row, colDistrict, maxShortLen),
		Zone:           catField(row, colZone, maxShortLen),
		TotalValue:     parseAmount(source.Cell(row, colTotalValue)),
		YearlyValue:    parseAmount(source.Cell(row, colYearlyValue)),
		Size:           classifySize(source.Cell(row, colSize)),
		Partner:        catField(row, colPartner, maxCatLen),
		PartnerCountry: catField(row, colPartnerCountry, maxShortLen),
		Status:         orUnknown(truncate(source.Cell(row, colStatus), maxStatusLen)),
		Problem:        orNone(truncate(source.Cell(row, colProblem), maxProblemLen)),
		AgencyOwner:    catField(row, colAgencyOwner, maxCatLen),
		RegionOwner:    catField(row, colRegionOwner, maxCatLen),
		ProblemDue:     parseDueDate(source.Cell(row, colProblemDue)),
	}, true
}

func catField(row []string, idx, max int) string {
	return orUnknown(truncate(source.Cell(row, idx), max))
}

func orUnknown(v string) string {
	if v == "" {
		return model.Unknown
	}
	return v
}

func orNone(v string) string {
	if v == "" {
		return model.NoProblem
	}
	return v
}

func truncate(v string, max int) string {
	if len(v) <= max {
		return v
	}
	// cut on a rune boundary
	r := []rune(v)
	if len(r) > max {
		r = r[:max]
	}
	return string(r)
}

// parseAmount coerces the sheet's numeric strings, which mix thousands
// separators and stray spaces. Unparsable values become 0.
func parseAmount(v string) float64 {
	clean := strings.NewReplacer(" ", "", ",", "", "\u00a0", "").Replace(v)
	if clean == "" {
		return 0
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// Size keywords as they appear in the sheet's free-text size column.
var sizeKeywords = []struct {
	token string
	class model.SizeClass
}{
	{"кичик", model.SizeSmall},
	{"small", model.SizeSmall},
	{"ўрта", model.SizeMedium},
	{"орта", model.SizeMedium},
	{"medium", model.SizeMedium},
	{"йирик", model.SizeLarge},
	{"large", model.SizeLarge},
}

func classifySize(v string) model.SizeClass {
	lower := strings.ToLower(v)
	for _, kw := range sizeKeywords {
		if strings.Contains(lower, kw.token) {
			return kw.class
		}
	}
	return model.SizeUnset
}

// parseDueDate tries each candidate layout in order; unparsable or absent
// dates come back as the zero Date and are excluded from date-driven
// queries.
func parseDueDate(v string) model.Date {
	if v == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return model.DateOf(t)
		}
	}
	return ""
}

package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/projectpulse/projectpulse/internal/cache"
	"github.com/projectpulse/projectpulse/internal/mirror"
	"github.com/projectpulse/projectpulse/internal/model"
	"github.com/projectpulse/projectpulse/internal/source"
)

// Column offsets of the daily works sheet.
const (
	colWorkTask     = 1
	colWorkStatus   = 2
	colWorkDistrict = 3
)

const (
	maxDistrictLen   = 200
	maxTaskLen       = 1000
	maxWorkStatusLen = 500
)

// statusPlaceholder is what the works sheet shows in the status column
// before a district reports anything.
const statusPlaceholder = "—"

// Works mirrors the daily works sheet the way Engine mirrors the project
// sheet: every cycle replaces the whole stored set, stamped with the
// cycle's calendar date.
type Works struct {
	fetcher source.Fetcher
	store   *mirror.Store
	cache   *cache.Cache
	clock   func() time.Time
	log     zerolog.Logger
}

// NewWorks constructs the works sync engine. A nil clock means wall time.
func NewWorks(f source.Fetcher, st *mirror.Store, c *cache.Cache, clock func() time.Time, log zerolog.Logger) *Works {
	if clock == nil {
		clock = time.Now
	}
	return &Works{fetcher: f, store: st, cache: c, clock: clock, log: log}
}

// RunCycle performs one works sync cycle. Rows without a task or a
// district are skipped; on any failure the prior set stays installed.
func (w *Works) RunCycle(ctx context.Context) error {
	rows, err := w.fetcher.FetchSnapshot(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("works sync: snapshot fetch failed")
		return err
	}

	entryDate := model.DateOf(w.clock())
	items := make([]model.WorkItem, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		item, ok := transformWorkRow(row, entryDate)
		if !ok {
			skipped++
			continue
		}
		items = append(items, item)
	}

	if err := w.store.ReplaceWorks(ctx, items); err != nil {
		w.log.Error().Err(err).Msg("works sync: replace failed, prior set retained")
		return err
	}
	w.cache.Clear()

	w.log.Info().
		Str("entry_date", string(entryDate)).
		Int("items", len(items)).
		Int("skipped", skipped).
		Msg("works sync cycle complete")
	return nil
}

// Start runs an immediate cycle and then repeats on the given interval
// until ctx is canceled.
func (w *Works) Start(ctx context.Context, interval time.Duration) {
	w.log.Info().Dur("interval", interval).Msg("works sync engine starting")

	if err := w.RunCycle(ctx); err != nil {
		w.log.Error().Err(err).Msg("initial works sync cycle failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("works sync engine stopping")
			return
		case <-ticker.C:
			if err := w.RunCycle(ctx); err != nil {
				w.log.Error().Err(err).Msg("works sync cycle failed")
			}
		}
	}
}

// transformWorkRow normalizes one works sheet row. A row is usable only
// with both a task and a district; the status placeholder means "not
// reported" and maps to the empty status.
func transformWorkRow(row []string, entryDate model.Date) (model.WorkItem, bool) {
	task := truncate(source.Cell(row, colWorkTask), maxTaskLen)
	district := truncate(source.Cell(row, colWorkDistrict), maxDistrictLen)
	if task == "" || district == "" {
		return model.WorkItem{}, false
	}
	status := truncate(source.Cell(row, colWorkStatus), maxWorkStatusLen)
	if status == statusPlaceholder || status == "-" {
		status = ""
	}
	return model.WorkItem{
		District:  district,
		Task:      task,
		Status:    status,
		EntryDate: entryDate,
	}, true
}

// Package reports is the cached read layer over the mirror: every
// aggregate the presentation side consumes goes through here so repeated
// queries inside a TTL window cost one mirror scan.
package reports

import (
	"context"
	"time"

	"github.com/projectpulse/projectpulse/internal/cache"
	"github.com/projectpulse/projectpulse/internal/mirror"
	"github.com/projectpulse/projectpulse/internal/model"
)

// Service memoizes mirror aggregates. Volatile headline numbers get a
// short TTL; categorical breakdowns change only on sync and get a longer
// one. The sync engine clears the shared cache after each generation, so
// a TTL is an upper bound, never a staleness guarantee.
type Service struct {
	store        *mirror.Store
	cache        *cache.Cache
	volatileTTL  time.Duration
	breakdownTTL time.Duration
	pageSize     int
	clock        func() time.Time
}

// Config carries the Service knobs.
type Config struct {
	VolatileTTL  time.Duration
	BreakdownTTL time.Duration
	PageSize     int
	Clock        func() time.Time
}

// New creates a Service over the given store and shared cache.
func New(store *mirror.Store, c *cache.Cache, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		store:        store,
		cache:        c,
		volatileTTL:  cfg.VolatileTTL,
		breakdownTTL: cfg.BreakdownTTL,
		pageSize:     cfg.PageSize,
		clock:        cfg.Clock,
	}
}

// Summary returns the headline aggregate.
func (s *Service) Summary(ctx context.Context) (mirror.Summary, error) {
	v, err := s.cache.GetOrCompute(cache.Key("summary"), s.volatileTTL, func() (interface{}, error) {
		return s.store.Summary(ctx)
	})
	if err != nil {
		return mirror.Summary{}, err
	}
	return v.(mirror.Summary), nil
}

// GroupBy returns the categorical breakdown for dimension.
func (s *Service) GroupBy(ctx context.Context, dimension string) ([]mirror.GroupStat, error) {
	v, err := s.cache.GetOrCompute(cache.Key("group_by", dimension), s.breakdownTTL, func() (interface{}, error) {
		return s.store.GroupBy(ctx, dimension)
	})
	if err != nil {
		return nil, err
	}
	return v.([]mirror.GroupStat), nil
}

// DueStats buckets open-problem due dates against the current date.
func (s *Service) DueStats(ctx context.Context) (mirror.DueStats, error) {
	today := model.DateOf(s.clock())
	v, err := s.cache.GetOrCompute(cache.Key("due_stats", today), s.volatileTTL, func() (interface{}, error) {
		return s.store.DueStats(ctx, today)
	})
	if err != nil {
		return mirror.DueStats{}, err
	}
	return v.(mirror.DueStats), nil
}

// WorkStats returns the daily works aggregate for the latest entry date.
func (s *Service) WorkStats(ctx context.Context) (mirror.WorkSummary, error) {
	v, err := s.cache.GetOrCompute(cache.Key("work_stats"), s.volatileTTL, func() (interface{}, error) {
		return s.store.WorkStats(ctx)
	})
	if err != nil {
		return mirror.WorkSummary{}, err
	}
	return v.(mirror.WorkSummary), nil
}

// Page is one page of records plus the unpaginated match count.
type Page struct {
	Records []model.Record
	Total   int
	Page    int
	Pages   int
}

// Search returns one page of records matching the free-text substring.
// Pages are 1-based.
func (s *Service) Search(ctx context.Context, substr string, page int) (Page, error) {
	return s.page(ctx, mirror.Filter{Substr: substr, OrderBy: "name"}, cache.Key("search", substr, page), page)
}

// Problems returns one page of records with an open problem, ordered by
// due date so the most urgent come first.
func (s *Service) Problems(ctx context.Context, page int) (Page, error) {
	f := mirror.Filter{ProblemsOnly: true, OrderBy: "problem_due"}
	return s.page(ctx, f, cache.Key("problems", page), page)
}

func (s *Service) page(ctx context.Context, f mirror.Filter, key string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	v, err := s.cache.GetOrCompute(key, s.volatileTTL, func() (interface{}, error) {
		total, err := s.store.Count(ctx, f)
		if err != nil {
			return nil, err
		}
		f.Limit = s.pageSize
		f.Offset = (page - 1) * s.pageSize
		recs, err := s.store.Query(ctx, f)
		if err != nil {
			return nil, err
		}
		pages := (total + s.pageSize - 1) / s.pageSize
		return Page{Records: recs, Total: total, Page: page, Pages: pages}, nil
	})
	if err != nil {
		return Page{}, err
	}
	return v.(Page), nil
}

// Generation reports the installed mirror generation id and record count.
func (s *Service) Generation(ctx context.Context) (string, int, error) {
	return s.store.Generation(ctx)
}

// Package jobs holds the scheduler-bound work: due-date reminder sweeps
// and the daily problem/plan digests.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/projectpulse/projectpulse/internal/model"
	"github.com/projectpulse/projectpulse/internal/notify"
	"github.com/projectpulse/projectpulse/internal/plans"
	"github.com/projectpulse/projectpulse/internal/reports"
)

// urgentWindowDays is how far ahead the sweep warns about approaching
// due dates.
const urgentWindowDays = 3

// urgentMaxEntries caps how many entries one urgent notice lists.
const urgentMaxEntries = 5

// Reminder sweeps the plan store for due work. A due-today entry is
// notified at most once, tracked durably by the entry's notified flag.
// Approaching-deadline notices are deduplicated per owner per day in
// memory only, so a restart re-sends at worst one extra notice.
type Reminder struct {
	plans    *plans.Store
	notifier notify.Notifier
	clock    func() time.Time
	log      zerolog.Logger

	mu         sync.Mutex
	urgentSent map[string]struct{}
}

// NewReminder builds the sweep job.
func NewReminder(p *plans.Store, n notify.Notifier, clock func() time.Time, log zerolog.Logger) *Reminder {
	if clock == nil {
		clock = time.Now
	}
	return &Reminder{
		plans:      p,
		notifier:   n,
		clock:      clock,
		log:        log,
		urgentSent: make(map[string]struct{}),
	}
}

// Sweep sends due-today reminders and approaching-deadline notices.
// Per-recipient failures are logged and the batch continues; a failed
// send leaves the notified flag unset so the next sweep retries.
func (r *Reminder) Sweep(ctx context.Context) error {
	today := model.DateOf(r.clock())

	sent := 0
	for _, e := range r.plans.DueToday() {
		if e.Plan.Notified {
			continue
		}
		text := fmt.Sprintf("Reminder: %q is due today.", e.Plan.Text)
		if err := r.notifier.Send(ctx, e.Plan.Owner, text); err != nil {
			r.log.Error().Err(err).Int64("owner", e.Plan.Owner).Msg("due-today reminder failed")
			continue
		}
		r.plans.MarkNotified(e.Plan.Owner, e.Date, e.Plan.Seq)
		sent++
	}

	urgent := r.sendUrgentNotices(ctx, today)

	r.log.Info().
		Str("date", string(today)).
		Int("due_reminders", sent).
		Int("urgent_notices", urgent).
		Msg("reminder sweep complete")
	return nil
}

// sendUrgentNotices groups not-completed plans due within the window by
// owner and sends each owner one capped listing, once per day.
func (r *Reminder) sendUrgentNotices(ctx context.Context, today model.Date) int {
	// keys from earlier days never dedupe anything again, drop them
	r.mu.Lock()
	suffix := "/" + string(today)
	for k := range r.urgentSent {
		if !strings.HasSuffix(k, suffix) {
			delete(r.urgentSent, k)
		}
	}
	r.mu.Unlock()

	byOwner := make(map[int64][]model.Plan)
	for _, p := range r.plans.UpcomingAll() {
		days := p.DueDate.DaysUntil(today)
		if days < 1 || days > urgentWindowDays {
			continue
		}
		byOwner[p.Owner] = append(byOwner[p.Owner], p)
	}

	sent := 0
	for owner, entries := range byOwner {
		key := fmt.Sprintf("%d/%s", owner, today)
		r.mu.Lock()
		_, dup := r.urgentSent[key]
		if !dup {
			r.urgentSent[key] = struct{}{}
		}
		r.mu.Unlock()
		if dup {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "You have %d plan(s) due within %d days:\n", len(entries), urgentWindowDays)
		for i, p := range entries {
			if i >= urgentMaxEntries {
				fmt.Fprintf(&b, "...and %d more\n", len(entries)-urgentMaxEntries)
				break
			}
			fmt.Fprintf(&b, "- %s (due %s)\n", p.Text, p.DueDate)
		}
		if err := r.notifier.Send(ctx, owner, b.String()); err != nil {
			r.log.Error().Err(err).Int64("owner", owner).Msg("urgent notice failed")
			r.mu.Lock()
			delete(r.urgentSent, key)
			r.mu.Unlock()
			continue
		}
		sent++
	}
	return sent
}

// Digests fans report texts out to a fixed recipient set.
type Digests struct {
	reports    *reports.Service
	plans      *plans.Store
	notifier   notify.Notifier
	recipients []int64
	clock      func() time.Time
	log        zerolog.Logger
}

// NewDigests builds the digest jobs. The recipient list is deduplicated.
func NewDigests(rep *reports.Service, p *plans.Store, n notify.Notifier, recipients []int64, clock func() time.Time, log zerolog.Logger) *Digests {
	if clock == nil {
		clock = time.Now
	}
	seen := make(map[int64]struct{}, len(recipients))
	var uniq []int64
	for _, id := range recipients {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	return &Digests{reports: rep, plans: p, notifier: n, recipients: uniq, clock: clock, log: log}
}

// SendProblemDigest builds and fans out the daily problem report.
func (d *Digests) SendProblemDigest(ctx context.Context) error {
	text, err := d.reports.ProblemDigest(ctx)
	if err != nil {
		return fmt.Errorf("problem digest: %w", err)
	}
	d.fanOut(ctx, "problem digest", text)
	return nil
}

// SendWorksDigest builds and fans out the daily works report.
func (d *Digests) SendWorksDigest(ctx context.Context) error {
	text, err := d.reports.WorksDigest(ctx)
	if err != nil {
		return fmt.Errorf("works digest: %w", err)
	}
	d.fanOut(ctx, "works digest", text)
	return nil
}

// SendPlanDigest builds and fans out the daily plan report for today.
func (d *Digests) SendPlanDigest(ctx context.Context) error {
	today := model.DateOf(d.clock())
	text := reports.PlanDigest(today, d.plans.AllForDate(today))
	d.fanOut(ctx, "plan digest", text)
	return nil
}

func (d *Digests) fanOut(ctx context.Context, name, text string) {
	for _, id := range d.recipients {
		if err := d.notifier.Send(ctx, id, text); err != nil {
			d.log.Error().Err(err).Int64("recipient", id).Msgf("%s delivery failed", name)
		}
	}
}

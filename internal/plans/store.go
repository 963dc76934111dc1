// Package plans is the per-user daily task log. State lives in memory and
// every mutation schedules a crash-safe full-document write through a
// single background writer.
package plans

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/projectpulse/projectpulse/internal/model"
)

// document is the durable shape: calendar date, then owner id (decimal
// string, JSON object keys), then the owner's entries in display order.
// This layout round-trips across restarts and must not change.
type document map[string]map[string][]model.Plan

// Store keeps all plan entries keyed by (date, owner). A viewer may read
// and mutate their own scope; a privileged viewer may reach every scope.
type Store struct {
	mu      sync.Mutex
	data    document
	nextSeq map[string]int // scope key -> next stable seq

	clock      func() time.Time
	privileged func(viewer int64) bool
	writer     *writer
	log        zerolog.Logger
}

// Option tweaks Store construction. Used by tests to pin the clock.
type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// Load reads the durable document at path (absent file means empty state)
// and starts the background writer. privileged decides which viewers may
// cross scope boundaries.
func Load(path string, privileged func(int64) bool, log zerolog.Logger, opts ...Option) (*Store, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}

	s := &Store{
		data:       doc,
		nextSeq:    make(map[string]int),
		clock:      time.Now,
		privileged: privileged,
		writer:     newWriter(path, log),
		log:        log,
	}
	for _, o := range opts {
		o(s)
	}

	// Seed seq counters past anything already on disk so stable ids are
	// never reused within a scope.
	for date, owners := range doc {
		for owner, entries := range owners {
			key := date + "/" + owner
			for _, p := range entries {
				if p.Seq >= s.nextSeq[key] {
					s.nextSeq[key] = p.Seq + 1
				}
			}
		}
	}
	return s, nil
}

// Close flushes pending writes and stops the background writer.
func (s *Store) Close() error {
	return s.writer.close()
}

func scopeKey(date model.Date, owner int64) string {
	return string(date) + "/" + strconv.FormatInt(owner, 10)
}

// Add appends a new entry to owner's scope for date and returns its
// display id. An empty date means today. The due date is optional. The
// viewer must own the scope or be privileged; otherwise model.ErrDenied.
func (s *Store) Add(owner int64, text string, due model.Date, date model.Date, viewer int64) (int, error) {
	if !s.canMutate(owner, viewer) {
		return 0, fmt.Errorf("%w: scope belongs to another user", model.ErrDenied)
	}
	if text == "" {
		return 0, fmt.Errorf("%w: empty plan text", model.ErrValidation)
	}
	if due != "" && !due.Valid() {
		return 0, fmt.Errorf("%w: bad due date %q", model.ErrValidation, due)
	}
	if date == "" {
		date = model.DateOf(s.clock())
	}
	if !date.Valid() {
		return 0, fmt.Errorf("%w: bad date %q", model.ErrValidation, date)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ownerKey := strconv.FormatInt(owner, 10)
	if s.data[string(date)] == nil {
		s.data[string(date)] = make(map[string][]model.Plan)
	}
	entries := s.data[string(date)][ownerKey]

	key := scopeKey(date, owner)
	if s.nextSeq[key] == 0 {
		s.nextSeq[key] = 1
	}
	p := model.Plan{
		ID:        len(entries) + 1,
		Seq:       s.nextSeq[key],
		Text:      text,
		DueDate:   due,
		CreatedAt: s.clock().Format(time.RFC3339),
		Owner:     owner,
	}
	s.nextSeq[key]++
	s.data[string(date)][ownerKey] = append(entries, p)

	s.scheduleSaveLocked()
	return p.ID, nil
}

// List returns owner's entries for date. A privileged viewer gets the
// union across all owners for that date; any other viewer sees only their
// own scope.
func (s *Store) List(owner int64, date model.Date, viewer int64) []model.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	owners := s.data[string(date)]
	if owners == nil {
		return nil
	}

	if s.privileged(viewer) {
		var out []model.Plan
		keys := make([]string, 0, len(owners))
		for k := range owners {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, owners[k]...)
		}
		return out
	}

	if viewer != owner {
		return nil
	}
	entries := owners[strconv.FormatInt(owner, 10)]
	out := make([]model.Plan, len(entries))
	copy(out, entries)
	return out
}

func (s *Store) canMutate(owner, viewer int64) bool {
	return viewer == owner || s.privileged(viewer)
}

// Toggle flips the completion flag of the entry at display id. Returns
// false when the entry does not exist or the viewer may not touch it.
func (s *Store) Toggle(owner int64, date model.Date, id int, viewer int64) bool {
	if !s.canMutate(owner, viewer) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.data[string(date)][strconv.FormatInt(owner, 10)]
	if id < 1 || id > len(entries) {
		return false
	}
	p := &entries[id-1]
	p.Completed = !p.Completed
	if p.Completed {
		p.CompletedAt = s.clock().Format(time.RFC3339)
		p.CompletedBy = viewer
	} else {
		p.CompletedAt = ""
		p.CompletedBy = 0
	}

	s.scheduleSaveLocked()
	return true
}

// Delete removes the entry at display id and renumbers the remaining
// entries 1..n-1 in their original order. Stable seqs are untouched.
func (s *Store) Delete(owner int64, date model.Date, id int, viewer int64) bool {
	if !s.canMutate(owner, viewer) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ownerKey := strconv.FormatInt(owner, 10)
	entries := s.data[string(date)][ownerKey]
	if id < 1 || id > len(entries) {
		return false
	}

	entries = append(entries[:id-1], entries[id:]...)
	for i := range entries {
		entries[i].ID = i + 1
	}
	if len(entries) == 0 {
		delete(s.data[string(date)], ownerKey)
		if len(s.data[string(date)]) == 0 {
			delete(s.data, string(date))
		}
	} else {
		s.data[string(date)][ownerKey] = entries
	}

	s.scheduleSaveLocked()
	return true
}

// Clear removes all of the viewer's own entries for date. It is
// owner-only even for privileged viewers; see ClearFor.
func (s *Store) Clear(owner int64, date model.Date, viewer int64) bool {
	if viewer != owner {
		return false
	}
	return s.clearScope(owner, date)
}

// ClearFor removes all of target's entries for date on behalf of a
// privileged viewer.
func (s *Store) ClearFor(target int64, date model.Date, viewer int64) bool {
	if !s.privileged(viewer) {
		return false
	}
	return s.clearScope(target, date)
}

func (s *Store) clearScope(owner int64, date model.Date) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ownerKey := strconv.FormatInt(owner, 10)
	if _, ok := s.data[string(date)][ownerKey]; !ok {
		return false
	}
	delete(s.data[string(date)], ownerKey)
	if len(s.data[string(date)]) == 0 {
		delete(s.data, string(date))
	}

	s.scheduleSaveLocked()
	return true
}

// Upcoming returns not-completed entries with a set due date, sorted by
// due date ascending. Visibility follows the List rule.
func (s *Store) Upcoming(owner int64, viewer int64) []model.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.privileged(viewer)
	if !all && viewer != owner {
		return nil
	}
	ownerKey := strconv.FormatInt(owner, 10)

	var out []model.Plan
	for _, owners := range s.data {
		for k, entries := range owners {
			if !all && k != ownerKey {
				continue
			}
			for _, p := range entries {
				if p.DueDate != "" && !p.Completed {
					out = append(out, p)
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out
}

// UpcomingAll returns every owner's not-completed entries with a set due
// date, ascending by due date. Viewerless variant of Upcoming for the
// scheduler's jobs.
func (s *Store) UpcomingAll() []model.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Plan
	for _, owners := range s.data {
		for _, entries := range owners {
			for _, p := range entries {
				if p.DueDate != "" && !p.Completed {
					out = append(out, p)
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out
}

// DueEntry pairs a plan with the scope date it was logged under, so
// callers can address it again through (owner, date, seq).
type DueEntry struct {
	Date model.Date
	Plan model.Plan
}

// DueToday returns every owner's not-completed entries whose due date is
// the current calendar date. Reminder sweeps consume this.
func (s *Store) DueToday() []DueEntry {
	today := model.DateOf(s.clock())

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []DueEntry
	for date, owners := range s.data {
		for _, entries := range owners {
			for _, p := range entries {
				if p.DueDate == today && !p.Completed {
					out = append(out, DueEntry{Date: model.Date(date), Plan: p})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Plan.Owner != out[j].Plan.Owner {
			return out[i].Plan.Owner < out[j].Plan.Owner
		}
		return out[i].Plan.Seq < out[j].Plan.Seq
	})
	return out
}

// AllForDate returns every owner's entries logged under date, ordered by
// owner then display id. Digest jobs consume this without a viewer.
func (s *Store) AllForDate(date model.Date) []model.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Plan
	for _, entries := range s.data[string(date)] {
		out = append(out, entries...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkNotified flips the notified flag of the entry with the given stable
// seq from false to true. Returns false when the entry is gone or was
// already notified, so a reminder fires at most once.
func (s *Store) MarkNotified(owner int64, date model.Date, seq int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.data[string(date)][strconv.FormatInt(owner, 10)]
	for i := range entries {
		if entries[i].Seq == seq {
			if entries[i].Notified {
				return false
			}
			entries[i].Notified = true
			s.scheduleSaveLocked()
			return true
		}
	}
	return false
}

// Stats returns owner's total and completed entry counts across all dates.
func (s *Store) Stats(owner int64) (total, completed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ownerKey := strconv.FormatInt(owner, 10)
	for _, owners := range s.data {
		for _, p := range owners[ownerKey] {
			total++
			if p.Completed {
				completed++
			}
		}
	}
	return total, completed
}

// HealthPing verifies the durable path is writable by forcing a save.
func (s *Store) HealthPing(ctx context.Context) error {
	s.mu.Lock()
	promise := s.writer.save(snapshot(s.data))
	s.mu.Unlock()
	select {
	case err := <-promise:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every save scheduled so far has hit the disk.
func (s *Store) Flush() error {
	s.mu.Lock()
	promise := s.writer.save(snapshot(s.data))
	s.mu.Unlock()
	return <-promise
}

// scheduleSaveLocked snapshots state and hands it to the background
// writer. Callers hold s.mu. Write failures are logged by the writer and
// healed by the save of the next mutation.
func (s *Store) scheduleSaveLocked() {
	s.writer.save(snapshot(s.data))
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpulse/projectpulse/internal/cache"
	"github.com/projectpulse/projectpulse/internal/mirror"
	"github.com/projectpulse/projectpulse/internal/model"
	"github.com/projectpulse/projectpulse/internal/plans"
	"github.com/projectpulse/projectpulse/internal/reports"
)

var testNow = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type sentMsg struct {
	to   int64
	text string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMsg
	fail map[int64]error
}

func (r *recordingNotifier) Send(ctx context.Context, userID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[userID]; err != nil {
		return err
	}
	r.sent = append(r.sent, sentMsg{to: userID, text: text})
	return nil
}

func (r *recordingNotifier) messages() []sentMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentMsg, len(r.sent))
	copy(out, r.sent)
	return out
}

func newTestPlans(t *testing.T) *plans.Store {
	t.Helper()
	s, err := plans.Load(
		filepath.Join(t.TempDir(), "plans.json"),
		func(id int64) bool { return id == 99 },
		zerolog.Nop(),
		plans.WithClock(testClock),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSweepNotifiesDueTodayOnce(t *testing.T) {
	ctx := context.Background()
	ps := newTestPlans(t)
	today := model.DateOf(testNow)
	_, err := ps.Add(42, "sign contract", today, "2024-01-10", 42)
	require.NoError(t, err)

	n := &recordingNotifier{}
	r := NewReminder(ps, n, testClock, zerolog.Nop())

	require.NoError(t, r.Sweep(ctx))
	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 42, msgs[0].to)
	assert.Contains(t, msgs[0].text, "sign contract")

	// second sweep the same day is silent
	require.NoError(t, r.Sweep(ctx))
	assert.Len(t, n.messages(), 1)
}

func TestSweepRetriesAfterSendFailure(t *testing.T) {
	ctx := context.Background()
	ps := newTestPlans(t)
	today := model.DateOf(testNow)
	_, _ = ps.Add(42, "task", today, today, 42)

	n := &recordingNotifier{fail: map[int64]error{42: errors.New("blocked")}}
	r := NewReminder(ps, n, testClock, zerolog.Nop())

	require.NoError(t, r.Sweep(ctx))
	assert.Empty(t, n.messages())

	// transport recovers, the notified flag was never set
	n.fail = nil
	require.NoError(t, r.Sweep(ctx))
	assert.Len(t, n.messages(), 1)
}

func TestSweepUrgentNoticeCappedAndDeduped(t *testing.T) {
	ctx := context.Background()
	ps := newTestPlans(t)
	today := model.DateOf(testNow)
	for i := 0; i < 7; i++ {
		due := model.DateOf(testNow.AddDate(0, 0, 1+i%3))
		_, err := ps.Add(42, fmt.Sprintf("task %d", i), due, today, 42)
		require.NoError(t, err)
	}
	// outside the window, not listed
	_, _ = ps.Add(42, "far away", model.DateOf(testNow.AddDate(0, 0, 30)), today, 42)

	n := &recordingNotifier{}
	r := NewReminder(ps, n, testClock, zerolog.Nop())

	require.NoError(t, r.Sweep(ctx))
	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "7 plan(s) due within 3 days")
	assert.Contains(t, msgs[0].text, "...and 2 more")
	assert.NotContains(t, msgs[0].text, "far away")

	// hourly re-sweep the same day stays silent
	require.NoError(t, r.Sweep(ctx))
	assert.Len(t, n.messages(), 1)
}

// Dedupe state from earlier days must not pile up across sweeps.
func TestSweepDropsStaleUrgentState(t *testing.T) {
	ctx := context.Background()
	ps := newTestPlans(t)
	today := model.DateOf(testNow)
	_, _ = ps.Add(42, "near", model.DateOf(testNow.AddDate(0, 0, 2)), today, 42)
	_, _ = ps.Add(7, "also near", model.DateOf(testNow.AddDate(0, 0, 2)), today, 7)

	now := testNow
	n := &recordingNotifier{}
	r := NewReminder(ps, n, func() time.Time { return now }, zerolog.Nop())

	require.NoError(t, r.Sweep(ctx))
	r.mu.Lock()
	assert.Len(t, r.urgentSent, 2)
	r.mu.Unlock()

	now = testNow.AddDate(0, 0, 1)
	require.NoError(t, r.Sweep(ctx))
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.urgentSent, 2)
	_, stale := r.urgentSent[fmt.Sprintf("42/%s", model.DateOf(testNow))]
	assert.False(t, stale, "prior-day key retained")
	_, fresh := r.urgentSent[fmt.Sprintf("42/%s", model.DateOf(now))]
	assert.True(t, fresh)
}

func newTestReports(t *testing.T, records []model.Record) *reports.Service {
	t.Helper()
	db, err := mirror.Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	st, err := mirror.NewStore(db, 2, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.ReplaceAll(context.Background(), records)
	require.NoError(t, err)
	return reports.New(st, cache.New(), reports.Config{
		VolatileTTL:  time.Minute,
		BreakdownTTL: time.Minute,
		PageSize:     5,
		Clock:        testClock,
	})
}

func TestDigestsFanOutDeduplicated(t *testing.T) {
	ctx := context.Background()
	rep := newTestReports(t, []model.Record{
		{Name: "P1", Problem: "stalled", ProblemDue: "2024-01-16", Status: model.Unknown},
	})
	ps := newTestPlans(t)
	_, _ = ps.Add(42, "call partner", "", model.DateOf(testNow), 42)

	n := &recordingNotifier{}
	d := NewDigests(rep, ps, n, []int64{7, 8, 7}, testClock, zerolog.Nop())

	require.NoError(t, d.SendProblemDigest(ctx))
	msgs := n.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].text, "Daily problem report")

	n.sent = nil
	require.NoError(t, d.SendPlanDigest(ctx))
	msgs = n.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].text, "Daily plan report")
	assert.Contains(t, msgs[0].text, "call partner")
}

func TestWorksDigestFanOut(t *testing.T) {
	ctx := context.Background()
	db, err := mirror.Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	st, err := mirror.NewStore(db, 2, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ReplaceWorks(ctx, []model.WorkItem{
		{District: "North", Task: "inspect site", Status: "done", EntryDate: "2024-01-15"},
		{District: "South", Task: "file permits", EntryDate: "2024-01-15"},
	}))
	rep := reports.New(st, cache.New(), reports.Config{
		VolatileTTL: time.Minute, BreakdownTTL: time.Minute, PageSize: 5, Clock: testClock,
	})

	n := &recordingNotifier{}
	d := NewDigests(rep, newTestPlans(t), n, []int64{7, 8}, testClock, zerolog.Nop())

	require.NoError(t, d.SendWorksDigest(ctx))
	msgs := n.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].text, "Daily works report")
	assert.Contains(t, msgs[0].text, "Districts reporting: 2")
}

func TestDigestFailureDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	rep := newTestReports(t, nil)
	ps := newTestPlans(t)

	n := &recordingNotifier{fail: map[int64]error{7: errors.New("blocked")}}
	d := NewDigests(rep, ps, n, []int64{7, 8}, testClock, zerolog.Nop())

	require.NoError(t, d.SendProblemDigest(ctx))
	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 8, msgs[0].to)
}
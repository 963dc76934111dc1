package plans

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpulse/projectpulse/internal/model"
)

const privilegedID int64 = 99

func isPrivileged(id int64) bool { return id == privilegedID }

var testNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.json")
	s, err := Load(path, isPrivileged, zerolog.Nop(), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestAddListToggleDelete(t *testing.T) {
	s, _ := newTestStore(t)
	const owner int64 = 42
	date := model.Date("2024-01-15")

	id, err := s.Add(owner, "Draft contract", "2024-01-20", date, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	got := s.List(owner, date, owner)
	require.Len(t, got, 1)
	assert.Equal(t, "Draft contract", got[0].Text)
	assert.Equal(t, model.Date("2024-01-20"), got[0].DueDate)
	assert.False(t, got[0].Completed)

	assert.True(t, s.Toggle(owner, date, 1, owner))
	got = s.List(owner, date, owner)
	require.Len(t, got, 1)
	assert.True(t, got[0].Completed)
	assert.Equal(t, owner, got[0].CompletedBy)

	assert.True(t, s.Delete(owner, date, 1, owner))
	assert.Empty(t, s.List(owner, date, owner))
}

func TestAddValidation(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Add(1, "", "", "2024-01-15", 1)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = s.Add(1, "x", "20.01.2024", "2024-01-15", 1)
	assert.ErrorIs(t, err, model.ErrValidation)

	// empty date defaults to today
	id, err := s.Add(1, "x", "", "", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Len(t, s.List(1, model.DateOf(testNow), 1), 1)
}

func TestAddDeniedOutsideOwnScope(t *testing.T) {
	s, _ := newTestStore(t)
	date := model.Date("2024-01-15")

	_, err := s.Add(1, "not yours", "", date, 2)
	assert.ErrorIs(t, err, model.ErrDenied)
	assert.Empty(t, s.List(1, date, 1))

	// a privileged viewer may add to any scope
	_, err = s.Add(1, "assigned", "", date, privilegedID)
	require.NoError(t, err)
	assert.Len(t, s.List(1, date, 1), 1)
}

func TestListScoping(t *testing.T) {
	s, _ := newTestStore(t)
	date := model.Date("2024-01-15")
	_, _ = s.Add(1, "a-plan", "", date, 1)
	_, _ = s.Add(2, "b-plan", "", date, 2)

	own := s.List(1, date, 1)
	require.Len(t, own, 1)
	assert.EqualValues(t, 1, own[0].Owner)

	// non-owner, non-privileged viewer sees nothing
	assert.Empty(t, s.List(1, date, 2))

	union := s.List(0, date, privilegedID)
	assert.Len(t, union, 2)
}

func TestDeleteRenumbersKeepsSeq(t *testing.T) {
	s, _ := newTestStore(t)
	const owner int64 = 7
	date := model.Date("2024-01-15")
	for _, text := range []string{"one", "two", "three"} {
		_, err := s.Add(owner, text, "", date, owner)
		require.NoError(t, err)
	}

	require.True(t, s.Delete(owner, date, 2, owner))

	got := s.List(owner, date, owner)
	require.Len(t, got, 2)
	assert.Equal(t, []int{1, 2}, []int{got[0].ID, got[1].ID})
	assert.Equal(t, []string{"one", "three"}, []string{got[0].Text, got[1].Text})
	// stable seqs survive the renumbering
	assert.Equal(t, []int{1, 3}, []int{got[0].Seq, got[1].Seq})

	// seqs are never reused in the scope
	_, err := s.Add(owner, "four", "", date, owner)
	require.NoError(t, err)
	got = s.List(owner, date, owner)
	assert.Equal(t, 4, got[2].Seq)
}

func TestMutationPermissions(t *testing.T) {
	s, _ := newTestStore(t)
	date := model.Date("2024-01-15")
	_, _ = s.Add(1, "mine", "", date, 1)

	assert.False(t, s.Toggle(1, date, 1, 2))
	assert.False(t, s.Delete(1, date, 1, 2))
	assert.True(t, s.Toggle(1, date, 1, privilegedID))
	assert.True(t, s.Delete(1, date, 1, privilegedID))
}

func TestClearIsOwnerOnly(t *testing.T) {
	s, _ := newTestStore(t)
	date := model.Date("2024-01-15")
	_, _ = s.Add(1, "mine", "", date, 1)

	assert.False(t, s.Clear(1, date, privilegedID))
	assert.Len(t, s.List(1, date, 1), 1)

	assert.True(t, s.ClearFor(1, date, privilegedID))
	assert.Empty(t, s.List(1, date, 1))

	_, _ = s.Add(1, "again", "", date, 1)
	assert.False(t, s.ClearFor(1, date, 2))
	assert.True(t, s.Clear(1, date, 1))
	assert.Empty(t, s.List(1, date, 1))
}

func TestUpcomingSortedAndScoped(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Add(1, "later", "2024-02-01", "2024-01-15", 1)
	_, _ = s.Add(1, "sooner", "2024-01-18", "2024-01-14", 1)
	_, _ = s.Add(1, "no-due", "", "2024-01-15", 1)
	_, _ = s.Add(2, "other", "2024-01-16", "2024-01-15", 2)
	require.True(t, s.Toggle(1, "2024-01-15", 1, 1)) // "later" completed

	got := s.Upcoming(1, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "sooner", got[0].Text)

	all := s.Upcoming(0, privilegedID)
	require.Len(t, all, 2)
	assert.Equal(t, "other", all[0].Text)
	assert.Equal(t, "sooner", all[1].Text)
}

func TestDueTodayAndMarkNotified(t *testing.T) {
	s, _ := newTestStore(t)
	today := model.DateOf(testNow)
	_, _ = s.Add(1, "due now", today, today, 1)
	_, _ = s.Add(1, "due later", "2024-02-01", today, 1)
	_, _ = s.Add(2, "also due", today, today, 2)

	due := s.DueToday()
	require.Len(t, due, 2)

	e := due[0]
	assert.Equal(t, today, e.Date)
	assert.True(t, s.MarkNotified(e.Plan.Owner, e.Date, e.Plan.Seq))
	// second sweep the same day must not re-notify
	assert.False(t, s.MarkNotified(e.Plan.Owner, e.Date, e.Plan.Seq))
}

func TestAllForDate(t *testing.T) {
	s, _ := newTestStore(t)
	date := model.Date("2024-01-15")
	_, _ = s.Add(2, "b", "", date, 2)
	_, _ = s.Add(1, "a", "", date, 1)
	_, _ = s.Add(1, "other day", "", "2024-01-14", 1)

	got := s.AllForDate(date)
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0].Owner)
	assert.EqualValues(t, 2, got[1].Owner)
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Add(1, "a", "", "2024-01-14", 1)
	_, _ = s.Add(1, "b", "", "2024-01-15", 1)
	_, _ = s.Add(2, "c", "", "2024-01-15", 2)
	require.True(t, s.Toggle(1, "2024-01-15", 1, 1))

	total, completed := s.Stats(1)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, completed)
}

func TestPersistenceRoundTrip(t *testing.T) {
	s, path := newTestStore(t)
	date := model.Date("2024-01-15")
	_, _ = s.Add(42, "Draft contract", "2024-01-20", date, 42)
	_, _ = s.Add(42, "Call partner", "", date, 42)
	require.True(t, s.Delete(42, date, 1, 42))
	require.True(t, s.Toggle(42, date, 1, 42))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	reloaded, err := Load(path, isPrivileged, zerolog.Nop(), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	defer reloaded.Close()

	got := reloaded.List(42, date, 42)
	require.Len(t, got, 1)
	assert.Equal(t, "Call partner", got[0].Text)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, 2, got[0].Seq)
	assert.True(t, got[0].Completed)

	// seq counter picks up past the persisted maximum
	_, err = reloaded.Add(42, "new", "", date, 42)
	require.NoError(t, err)
	got = reloaded.List(42, date, 42)
	assert.Equal(t, 3, got[1].Seq)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "plans.json")
	s, err := Load(path, isPrivileged, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	assert.Empty(t, s.List(1, "2024-01-15", 1))
}

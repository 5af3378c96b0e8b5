package reminder

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/antoniostano/memochat/internal/kv"
	"github.com/antoniostano/memochat/internal/memo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingNotifier struct {
	mu        sync.Mutex
	permitted bool
	notified  []string
	cues      int
	onNotify  func(memo.Memo)
}

func (n *recordingNotifier) Permitted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permitted
}

func (n *recordingNotifier) Notify(_ context.Context, m memo.Memo) {
	n.mu.Lock()
	n.notified = append(n.notified, m.Title)
	hook := n.onNotify
	n.mu.Unlock()
	if hook != nil {
		hook(m)
	}
}

func (n *recordingNotifier) Cue(context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cues++
}

func (n *recordingNotifier) snapshot() ([]string, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notified...), n.cues
}

func setup(t *testing.T, permitted bool) (*Scheduler, *memo.Store, *recordingNotifier) {
	t.Helper()
	store := memo.NewStore(kv.NewMemoryStore(), "memos")
	n := &recordingNotifier{permitted: permitted}
	return New(store, n, WithLocation(time.UTC)), store, n
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation(memo.TimeLayout, value, time.UTC)
	require.NoError(t, err)
	return ts
}

func TestTickFiresDueMemoOnce(t *testing.T) {
	ctx := context.Background()
	s, store, n := setup(t, true)
	created, err := store.Create(ctx, "call mom", "2024-01-01 10:00")
	require.NoError(t, err)

	fired := s.Tick(ctx, at(t, "2024-01-01 10:00"))
	require.Len(t, fired, 1)
	assert.Equal(t, created.ID, fired[0].ID)

	titles, cues := n.snapshot()
	assert.Equal(t, []string{"call mom"}, titles)
	assert.Equal(t, 1, cues)

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.True(t, got.Notified)
	assert.True(t, got.Completed)

	assert.Empty(t, s.Tick(ctx, at(t, "2024-01-01 10:00")))
	titles, cues = n.snapshot()
	assert.Len(t, titles, 1)
	assert.Equal(t, 1, cues)
}

func TestTickDoesNotRefireNextMinute(t *testing.T) {
	ctx := context.Background()
	s, store, n := setup(t, true)
	_, err := store.Create(ctx, "stretch", "2024-01-01 14:00")
	require.NoError(t, err)

	require.Len(t, s.Tick(ctx, at(t, "2024-01-01 14:00")), 1)
	assert.Empty(t, s.Tick(ctx, at(t, "2024-01-01 14:01")))
	assert.Empty(t, s.Tick(ctx, at(t, "2024-01-02 14:00")))

	titles, cues := n.snapshot()
	assert.Equal(t, []string{"stretch"}, titles)
	assert.Equal(t, 1, cues)
}

func TestTickFiresEveryDueMemo(t *testing.T) {
	ctx := context.Background()
	s, store, n := setup(t, true)
	a, err := store.Create(ctx, "call mom", "2024-01-01 10:00")
	require.NoError(t, err)
	b, err := store.Create(ctx, "stand up", "10:00")
	require.NoError(t, err)

	fired := s.Tick(ctx, at(t, "2024-01-01 10:00"))
	require.Len(t, fired, 2)

	titles, cues := n.snapshot()
	assert.ElementsMatch(t, []string{"call mom", "stand up"}, titles)
	assert.Equal(t, 2, cues)
	for _, id := range []string{a.ID, b.ID} {
		got, err := store.Get(id)
		require.NoError(t, err)
		assert.True(t, got.Notified)
		assert.True(t, got.Completed)
	}
}

func TestTickKeepsRescheduleMadeDuringNotify(t *testing.T) {
	ctx := context.Background()
	s, store, n := setup(t, true)
	created, err := store.Create(ctx, "water plants", "2024-01-01 10:00")
	require.NoError(t, err)

	n.onNotify = func(m memo.Memo) {
		_, err := store.Reschedule(ctx, m.ID, "2024-01-02 10:00")
		assert.NoError(t, err)
	}
	assert.Empty(t, s.Tick(ctx, at(t, "2024-01-01 10:00")))

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02 10:00", got.Time)
	assert.True(t, got.Pending())

	n.mu.Lock()
	n.onNotify = nil
	n.mu.Unlock()
	fired := s.Tick(ctx, at(t, "2024-01-02 10:00"))
	require.Len(t, fired, 1)
	assert.Equal(t, created.ID, fired[0].ID)
}

func TestTickSkipsMemoDeletedDuringNotify(t *testing.T) {
	ctx := context.Background()
	s, store, n := setup(t, true)
	_, err := store.Create(ctx, "call mom", "2024-01-01 10:00")
	require.NoError(t, err)

	n.onNotify = func(m memo.Memo) {
		assert.NoError(t, store.Delete(ctx, m.ID))
	}
	assert.Empty(t, s.Tick(ctx, at(t, "2024-01-01 10:00")))
	assert.Zero(t, store.Len())
}

func TestTickWithoutPermissionDoesNothing(t *testing.T) {
	ctx := context.Background()
	s, store, n := setup(t, false)
	created, err := store.Create(ctx, "call mom", "2024-01-01 10:00")
	require.NoError(t, err)

	assert.Empty(t, s.Tick(ctx, at(t, "2024-01-01 10:00")))
	titles, cues := n.snapshot()
	assert.Empty(t, titles)
	assert.Zero(t, cues)

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.False(t, got.Notified)
}

func TestTickMatchesShortClockForm(t *testing.T) {
	ctx := context.Background()
	s, store, _ := setup(t, true)
	_, err := store.Create(ctx, "stretch", "9:05")
	require.NoError(t, err)

	assert.Empty(t, s.Tick(ctx, at(t, "2024-03-02 09:04")))
	fired := s.Tick(ctx, at(t, "2024-03-02 09:05"))
	require.Len(t, fired, 1)
	assert.Equal(t, "stretch", fired[0].Title)
}

func TestTickShortFormContainment(t *testing.T) {
	ctx := context.Background()
	s, store, _ := setup(t, true)
	_, err := store.Create(ctx, "standup", "2024-01-01 10:00")
	require.NoError(t, err)

	// "0:00" is a substring of "10:00".
	fired := s.Tick(ctx, at(t, "2024-01-05 00:00"))
	assert.Len(t, fired, 1)
}

func TestTickSkipsIneligibleMemos(t *testing.T) {
	ctx := context.Background()
	s, store, n := setup(t, true)

	_, err := store.Create(ctx, "no time", "")
	require.NoError(t, err)
	done, err := store.Create(ctx, "done already", "2024-01-01 10:00")
	require.NoError(t, err)
	_, err = store.Update(ctx, done.ID, memo.Patch{Completed: memo.Bool(true)})
	require.NoError(t, err)
	later, err := store.Create(ctx, "later", "2024-01-01 11:30")
	require.NoError(t, err)

	assert.Empty(t, s.Tick(ctx, at(t, "2024-01-01 10:00")))
	titles, _ := n.snapshot()
	assert.Empty(t, titles)

	got, err := store.Get(later.ID)
	require.NoError(t, err)
	assert.True(t, got.Pending())
}

func TestTickUsesSchedulerLocation(t *testing.T) {
	ctx := context.Background()
	taipei, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	store := memo.NewStore(kv.NewMemoryStore(), "memos")
	n := &recordingNotifier{permitted: true}
	s := New(store, n, WithLocation(taipei))
	_, err = store.Create(ctx, "lunch", "2024-01-01 12:00")
	require.NoError(t, err)

	// 04:00 UTC is 12:00 in Taipei.
	fired := s.Tick(ctx, time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC))
	assert.Len(t, fired, 1)
}

func TestTickRearmedByReschedule(t *testing.T) {
	ctx := context.Background()
	s, store, _ := setup(t, true)
	created, err := store.Create(ctx, "water plants", "2024-01-01 10:00")
	require.NoError(t, err)
	require.Len(t, s.Tick(ctx, at(t, "2024-01-01 10:00")), 1)

	_, err = store.Reschedule(ctx, created.ID, "2024-01-02 10:00")
	require.NoError(t, err)
	assert.Len(t, s.Tick(ctx, at(t, "2024-01-02 10:00")), 1)
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	store := memo.NewStore(kv.NewMemoryStore(), "memos")
	n := &recordingNotifier{permitted: true}
	fixed := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s := New(store, n,
		WithLocation(time.UTC),
		WithInterval(5*time.Millisecond),
		WithClock(func() time.Time { return fixed }),
	)
	_, err := store.Create(ctx, "call mom", "2024-01-01 10:00")
	require.NoError(t, err)

	s.Start(ctx)
	s.Start(ctx)
	require.Eventually(t, func() bool {
		titles, _ := n.snapshot()
		return len(titles) == 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	titles, _ := n.snapshot()
	assert.Equal(t, []string{"call mom"}, titles)
}

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/pkg/events"
	"github.com/rankwatch/rankwatch/pkg/storage"
)

type memCheckpoints struct {
	last    map[string]time.Time
	readErr error
}

func newMemCheckpoints() *memCheckpoints { return &memCheckpoints{last: map[string]time.Time{}} }

func (m *memCheckpoints) LastRun(_ context.Context, name string) (time.Time, error) {
	if m.readErr != nil {
		return time.Time{}, m.readErr
	}
	t, ok := m.last[name]
	if !ok {
		return time.Time{}, storage.ErrNoCheckpoint
	}
	return t, nil
}

func (m *memCheckpoints) MarkRun(_ context.Context, name string, at time.Time) error {
	m.last[name] = at
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func counter(name string, n *int, err error) Task {
	return NewTask(name, func(context.Context) error {
		*n++
		return err
	})
}

func TestRecurringInterval(t *testing.T) {
	cp := newMemCheckpoints()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(cp, WithClock(clk.now))
	runs := 0
	s.Register(counter("leaderboard", &runs, nil), Recurring{Interval: 60 * time.Second})
	ctx := context.Background()

	assert.Equal(t, 1, s.Sweep(ctx), "no checkpoint means eligible")
	clk.advance(30 * time.Second)
	assert.Equal(t, 0, s.Sweep(ctx))
	clk.advance(30 * time.Second)
	assert.Equal(t, 1, s.Sweep(ctx))
	assert.Equal(t, 2, runs)
	assert.True(t, cp.last["leaderboard"].Equal(clk.t))
}

func TestFailedRunKeepsCheckpoint(t *testing.T) {
	cp := newMemCheckpoints()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := events.NewDispatcher(nil)
	var failed []events.TaskFailed
	d.Subscribe(events.KindTaskFailed, func(e events.Event) { failed = append(failed, e.(events.TaskFailed)) })

	s := New(cp, WithClock(clk.now), WithDispatcher(d))
	runs := 0
	s.Register(counter("profiles", &runs, errors.New("upstream down")), Recurring{Interval: time.Hour})
	ctx := context.Background()

	s.Sweep(ctx)
	clk.advance(time.Second)
	s.Sweep(ctx)
	assert.Equal(t, 2, runs, "failed task stays eligible")
	_, ok := cp.last["profiles"]
	assert.False(t, ok)
	require.Len(t, failed, 2)
	assert.Equal(t, "profiles", failed[0].Task)
	assert.NotEqual(t, failed[0].RunID, failed[1].RunID)
}

func TestPanicIsIsolated(t *testing.T) {
	cp := newMemCheckpoints()
	s := New(cp)
	runs := 0
	s.Register(NewTask("bad", func(context.Context) error { panic("nil map") }), Recurring{})
	s.Register(counter("good", &runs, nil), Recurring{})

	assert.NotPanics(t, func() { s.Sweep(context.Background()) })
	assert.Equal(t, 1, runs)
	_, ok := cp.last["bad"]
	assert.False(t, ok)
}

func TestStopSkipsRemainingTasks(t *testing.T) {
	cp := newMemCheckpoints()
	s := New(cp, WithSweepInterval(time.Millisecond))
	runs := 0
	s.Register(NewTask("stopper", func(context.Context) error {
		s.Stop()
		return nil
	}), Recurring{})
	s.Register(counter("after", &runs, nil), Recurring{})

	require.NoError(t, s.Run(context.Background()))
	assert.Zero(t, runs)
	assert.True(t, s.Stopped())
}

func TestStopLetsRunningTaskFinish(t *testing.T) {
	cp := newMemCheckpoints()
	s := New(cp, WithSweepInterval(time.Hour))
	started, release := make(chan struct{}), make(chan struct{})
	var taskErr error
	s.Register(NewTask("profiles", func(ctx context.Context) error {
		close(started)
		<-release
		taskErr = ctx.Err()
		return taskErr
	}), Recurring{})
	runs := 0
	s.Register(counter("after", &runs, nil), Recurring{})

	go func() {
		<-started
		s.Stop()
		s.Stop()
		close(release)
	}()
	require.NoError(t, s.Run(context.Background()))
	assert.NoError(t, taskErr)
	_, ok := cp.last["profiles"]
	assert.True(t, ok, "interrupted task still checkpoints")
	assert.Zero(t, runs)
}

func TestStopEndsIdleRun(t *testing.T) {
	s := New(newMemCheckpoints(), WithSweepInterval(time.Hour))
	go s.Stop()
	require.NoError(t, s.Run(context.Background()))
}

func TestRunHonoursContext(t *testing.T) {
	s := New(newMemCheckpoints(), WithSweepInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}

func TestCheckpointReadErrorSkipsTask(t *testing.T) {
	cp := newMemCheckpoints()
	cp.readErr = errors.New("database is locked")
	s := New(cp)
	runs := 0
	s.Register(counter("clans", &runs, nil), Recurring{})
	assert.Equal(t, 0, s.Sweep(context.Background()))
	assert.Zero(t, runs)
}

func TestTimeOfDay(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 1, 2, h, m, 0, 0, time.UTC) }
	four := TimeOfDay{Hour: 4, Grace: time.Hour}
	quarterPast := TimeOfDay{Hour: 0, Minute: 15}

	tests := []struct {
		name    string
		p       TimeOfDay
		now     time.Time
		last    time.Time
		hasLast bool
		want    bool
	}{
		{"inside window, never ran", four, at(3, 30), time.Time{}, false, true},
		{"window edge", four, at(5, 0), time.Time{}, false, true},
		{"outside window", four, at(5, 30), time.Time{}, false, false},
		{"ran 22h ago", four, at(4, 10), at(4, 10).Add(-22 * time.Hour), true, false},
		{"ran 23h30m ago", four, at(4, 10), at(4, 10).Add(-23*time.Hour - 30*time.Minute), true, true},
		{"ran exactly 23h ago", four, at(4, 10), at(4, 10).Add(-23 * time.Hour), true, false},
		{"midnight wrap before", quarterPast, at(23, 30), time.Time{}, false, true},
		{"midnight wrap after", quarterPast, at(1, 0), time.Time{}, false, true},
		{"midnight wrap far", quarterPast, at(22, 0), time.Time{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Eligible(tt.now, tt.last, tt.hasLast))
		})
	}
}

func TestTimeOfDayLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	p := TimeOfDay{Hour: 9, Location: loc}
	assert.True(t, p.Eligible(time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC), time.Time{}, false))
	assert.False(t, p.Eligible(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), time.Time{}, false))
}

func TestParseTimeOfDay(t *testing.T) {
	p, err := ParseTimeOfDay("04:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 4, Minute: 30, Grace: DefaultGrace}, p)

	p, err = ParseTimeOfDay("23:59:30")
	require.NoError(t, err)
	assert.Equal(t, 30, p.Second)

	for _, bad := range []string{"", "24:00", "4", "aa:bb", "01:02:03:04", "12:60"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

package chronos

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/config"
	"quantcore/internal/types"
)

// fakeClock returns a settable instant.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeCalendar marks given dates as non-trading; weekends are always
// non-trading to match the production calendar.
type fakeCalendar struct {
	holidays map[string]bool
}

func (c *fakeCalendar) IsTradingDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[t.Format("2006-01-02")]
}

func testBoundaries(t *testing.T) config.ScheduleBoundaries {
	t.Helper()
	parse := func(s string) types.TimeOfDay {
		tod, err := types.ParseTimeOfDay(s)
		require.NoError(t, err)
		return tod
	}
	return config.ScheduleBoundaries{
		Preparation: parse("08:30"),
		Active:      parse("09:15"),
		Review:      parse("15:05"),
		Evolution:   parse("20:00"),
	}
}

// at builds an instant on the given weekday-bearing date.
func at(day string, hour, minute int) time.Time {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.UTC)
}

// Mon 2026-03-02 is a trading day; Sun 2026-03-01 is not.
const (
	tradingDay = "2026-03-02"
	sunday     = "2026-03-01"
)

func newTestScheduler(t *testing.T, clock *fakeClock, cal TradingCalendar) *Scheduler {
	t.Helper()
	if cal == nil {
		cal = &fakeCalendar{holidays: map[string]bool{}}
	}
	s, err := NewScheduler(Config{
		Boundaries:   testBoundaries(t),
		Location:     time.UTC,
		Calendar:     cal,
		TickInterval: 5 * time.Millisecond,
		Workers:      2,
		Clock:        clock,
	})
	require.NoError(t, err)
	return s
}

func TestNewScheduler_InitialPhaseFollowsClock(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want types.Phase
	}{
		{"before preparation", at(tradingDay, 7, 0), types.PhaseEvolution},
		{"preparation window", at(tradingDay, 8, 45), types.PhasePreparation},
		{"active window", at(tradingDay, 10, 0), types.PhaseActive},
		{"review window", at(tradingDay, 16, 0), types.PhaseReview},
		{"after evolution boundary", at(tradingDay, 21, 0), types.PhaseEvolution},
		{"non-trading day", at(sunday, 10, 0), types.PhaseMaintenance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestScheduler(t, &fakeClock{now: tc.now}, nil)
			assert.Equal(t, tc.want, s.Current())
		})
	}
}

func TestTick_TransitionsThroughTradingDay(t *testing.T) {
	clock := &fakeClock{now: at(tradingDay, 8, 0)}
	s := newTestScheduler(t, clock, nil)
	require.Equal(t, types.PhaseEvolution, s.Current())

	ctx := context.Background()
	steps := []struct {
		hour, minute int
		want         types.Phase
	}{
		{8, 30, types.PhasePreparation},
		{9, 15, types.PhaseActive},
		{15, 5, types.PhaseReview},
		{20, 0, types.PhaseEvolution},
	}
	for _, step := range steps {
		clock.set(at(tradingDay, step.hour, step.minute))
		s.tick(ctx)
		assert.Equal(t, step.want, s.Current())
	}
}

func TestTick_NonTradingDayStaysInEvolution(t *testing.T) {
	cal := &fakeCalendar{holidays: map[string]bool{tradingDay: true}}
	clock := &fakeClock{now: at(tradingDay, 7, 0)}
	s, err := NewScheduler(Config{
		Boundaries: testBoundaries(t),
		Calendar:   cal,
		Clock:      clock,
	})
	require.NoError(t, err)
	require.Equal(t, types.PhaseMaintenance, s.Current())

	// Resume puts a non-trading day into evolution.
	_, err = s.ResumeFromMaintenance(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.PhaseEvolution, s.Current())

	// The 08:30 boundary passes without entering preparation.
	clock.set(at(tradingDay, 8, 30))
	s.tick(context.Background())
	assert.Equal(t, types.PhaseEvolution, s.Current())

	clock.set(at(tradingDay, 12, 0))
	s.tick(context.Background())
	assert.Equal(t, types.PhaseEvolution, s.Current())
}

func TestForceMaintenance_FromAnyPhaseAndClockNeverLeaves(t *testing.T) {
	clock := &fakeClock{now: at(tradingDay, 10, 0)}
	s := newTestScheduler(t, clock, nil)
	require.Equal(t, types.PhaseActive, s.Current())

	s.ForceMaintenance(context.Background())
	assert.Equal(t, types.PhaseMaintenance, s.Current())

	// Ticks do not leave maintenance.
	clock.set(at(tradingDay, 16, 0))
	s.tick(context.Background())
	assert.Equal(t, types.PhaseMaintenance, s.Current())
}

func TestForceMaintenance_HoldsAgainstConcurrentTicks(t *testing.T) {
	clock := &fakeClock{now: at(tradingDay, 10, 0)}
	s := newTestScheduler(t, clock, nil)
	require.Equal(t, types.PhaseActive, s.Current())

	// Hammer the clock-driven path from several goroutines while maintenance
	// is forced. A tick racing the override must not reinstate the natural
	// phase afterwards.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.tick(context.Background())
				}
			}
		}()
	}

	s.ForceMaintenance(context.Background())
	assert.Equal(t, types.PhaseMaintenance, s.Current())

	close(stop)
	wg.Wait()
	assert.Equal(t, types.PhaseMaintenance, s.Current())
}

func TestResumeFromMaintenance_PicksNaturalPhase(t *testing.T) {
	clock := &fakeClock{now: at(tradingDay, 10, 0)}
	s := newTestScheduler(t, clock, nil)
	s.ForceMaintenance(context.Background())

	clock.set(at(tradingDay, 16, 0))
	next, err := s.ResumeFromMaintenance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.PhaseReview, next)
	assert.Equal(t, types.PhaseReview, s.Current())
}

func TestResumeFromMaintenance_ConflictWhenNotInMaintenance(t *testing.T) {
	s := newTestScheduler(t, &fakeClock{now: at(tradingDay, 10, 0)}, nil)

	_, err := s.ResumeFromMaintenance(context.Background())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictState, appErr.Code)
}

func TestOnPhaseChange_HooksObserveTransitions(t *testing.T) {
	clock := &fakeClock{now: at(tradingDay, 8, 0)}
	s := newTestScheduler(t, clock, nil)

	var mu sync.Mutex
	var seen [][2]types.Phase
	s.OnPhaseChange(func(_ context.Context, from, to types.Phase) {
		mu.Lock()
		seen = append(seen, [2]types.Phase{from, to})
		mu.Unlock()
	})

	clock.set(at(tradingDay, 8, 30))
	s.tick(context.Background())
	clock.set(at(tradingDay, 9, 15))
	s.tick(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, [2]types.Phase{types.PhaseEvolution, types.PhasePreparation}, seen[0])
	assert.Equal(t, [2]types.Phase{types.PhasePreparation, types.PhaseActive}, seen[1])
}

func TestRun_TransitionsOnTicker(t *testing.T) {
	clock := &fakeClock{now: at(tradingDay, 8, 0)}
	s := newTestScheduler(t, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	clock.set(at(tradingDay, 9, 30))
	assert.Eventually(t, func() bool {
		return s.Current() == types.PhaseActive
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

package duedate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"libracirc/internal/calendar"
	"libracirc/internal/failure"
	"libracirc/internal/policy"
)

type fakePolicies struct {
	policies map[uuid.UUID]*policy.LoanPolicy
	err      error
}

func (f *fakePolicies) GetLoanPolicy(_ context.Context, id uuid.UUID) (*policy.LoanPolicy, error) {
	if f.err != nil {
		return nil, f.err
	}
	lp, ok := f.policies[id]
	if !ok {
		return nil, failure.Collaborator("policy", failure.ErrPolicyNotFound, nil)
	}
	return lp, nil
}

type fakeCalendars struct {
	days  []calendar.OpeningDay
	err   error
	calls int
	from  calendar.Date
	to    calendar.Date
}

func (f *fakeCalendars) GetOpeningDays(_ context.Context, _ uuid.UUID, from, to calendar.Date) (*calendar.Window, error) {
	f.calls++
	f.from, f.to = from, to
	if f.err != nil {
		return nil, f.err
	}
	return calendar.NewWindow(time.UTC, f.days)
}

// 2026-10-16 is a Friday.
var (
	fri = calendar.Date{Year: 2026, Month: time.October, Day: 16}
	sat = fri.AddDays(1)
	sun = fri.AddDays(2)
	mon = fri.AddDays(3)
)

func weekendClosed() []calendar.OpeningDay {
	return []calendar.OpeningDay{
		calendar.AllDayOpen(fri),
		calendar.ClosedDay(sat),
		calendar.ClosedDay(sun),
		calendar.AllDayOpen(mon),
	}
}

func newCalculator(t *testing.T, lp *policy.LoanPolicy, cal *fakeCalendars) *Calculator {
	t.Helper()
	policies := &fakePolicies{policies: map[uuid.UUID]*policy.LoanPolicy{lp.ID: lp}}
	return NewCalculator(policies, cal, Config{SearchDays: 7}, zaptest.NewLogger(t))
}

func rolling(hours int, closed string) *policy.LoanPolicy {
	return &policy.LoanPolicy{
		ID:                    uuid.New(),
		ProfileID:             policy.ProfileRolling,
		Period:                &policy.PeriodSpec{Duration: hours, IntervalID: "Hours"},
		ClosedLibraryStrategy: closed,
	}
}

func TestCalculateMovesToEndOfPreviousOpenDay(t *testing.T) {
	lp := rolling(24, "MOVE_TO_END_OF_PREVIOUS_OPEN_DAY")
	cal := &fakeCalendars{days: weekendClosed()}
	c := newCalculator(t, lp, cal)

	res, err := c.Explain(context.Background(), fri.At(calendar.TimeOfDay{Hour: 10}, time.UTC), lp.ID, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 10, 16, 23, 59, 59, 999_000_000, time.UTC), res.DueDate)
	assert.Equal(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), res.NaiveDueDate)
	assert.True(t, res.Adjusted)
	assert.Equal(t, "rolling", res.Strategy)
	assert.Equal(t, 1, cal.calls)
	assert.Equal(t, sat.AddDays(-7), cal.from)
	assert.Equal(t, sat.AddDays(7), cal.to)
}

func TestCalculateKeepCurrentDateSkipsCalendar(t *testing.T) {
	lp := rolling(24, "KEEP_CURRENT_DATE")
	cal := &fakeCalendars{days: weekendClosed()}
	c := newCalculator(t, lp, cal)

	due, err := c.Calculate(context.Background(), fri.At(calendar.TimeOfDay{Hour: 10}, time.UTC), lp.ID, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), due)
	assert.Zero(t, cal.calls)
}

func TestCalculateUnrecognisedStrategyUsesDefault(t *testing.T) {
	lp := rolling(24, "MOVE_SOMEWHERE_ELSE")
	cal := &fakeCalendars{days: weekendClosed()}
	policies := &fakePolicies{policies: map[uuid.UUID]*policy.LoanPolicy{lp.ID: lp}}

	keep := NewCalculator(policies, cal, Config{}, zaptest.NewLogger(t))
	due, err := keep.Calculate(context.Background(), fri.At(calendar.TimeOfDay{Hour: 10}, time.UTC), lp.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), due)

	next := NewCalculator(policies, cal, Config{DefaultClosedLibraryStrategy: policy.MoveToEndOfNextOpenDay}, zaptest.NewLogger(t))
	due, err = next.Calculate(context.Background(), fri.At(calendar.TimeOfDay{Hour: 10}, time.UTC), lp.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, mon.EndIn(time.UTC), due)
}

func TestCalculateFailures(t *testing.T) {
	ctx := context.Background()
	loanDate := fri.At(calendar.TimeOfDay{Hour: 10}, time.UTC)

	t.Run("policy lookup failure", func(t *testing.T) {
		c := NewCalculator(&fakePolicies{err: errors.New("connection refused")}, &fakeCalendars{}, Config{}, zaptest.NewLogger(t))

		_, err := c.Calculate(ctx, loanDate, uuid.New(), uuid.New())
		require.Error(t, err)
		assert.True(t, errors.Is(err, failure.ErrPolicyNotFound))
		assert.False(t, failure.IsValidation(err))
	})

	t.Run("unknown profile", func(t *testing.T) {
		lp := &policy.LoanPolicy{ID: uuid.New(), ProfileID: "Indefinite"}
		cal := &fakeCalendars{}
		c := newCalculator(t, lp, cal)

		_, err := c.Calculate(ctx, loanDate, lp.ID, uuid.New())
		require.Error(t, err)
		assert.True(t, errors.Is(err, failure.ErrUnrecognizedProfile))
		assert.True(t, failure.IsValidation(err))
		assert.Zero(t, cal.calls)
	})

	t.Run("calendar unavailable", func(t *testing.T) {
		lp := rolling(24, "MOVE_TO_END_OF_NEXT_OPEN_DAY")
		c := newCalculator(t, lp, &fakeCalendars{err: errors.New("timeout")})

		_, err := c.Calculate(ctx, loanDate, lp.ID, uuid.New())
		require.Error(t, err)
		assert.True(t, errors.Is(err, failure.ErrCalendarUnavailable))
	})
}

func TestCalculateWithoutOpenPeriodKeepsNaiveDate(t *testing.T) {
	lp := rolling(24, "MOVE_TO_BEGINNING_OF_NEXT_OPEN_SERVICE_POINT_HOURS")
	c := newCalculator(t, lp, &fakeCalendars{days: []calendar.OpeningDay{calendar.ClosedDay(sat)}})

	res, err := c.Explain(context.Background(), fri.At(calendar.TimeOfDay{Hour: 10}, time.UTC), lp.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Adjusted)
	assert.Equal(t, res.NaiveDueDate, res.DueDate)
}

func TestCalculateIsDeterministic(t *testing.T) {
	strategies := []string{
		"KEEP_CURRENT_DATE",
		"MOVE_TO_END_OF_PREVIOUS_OPEN_DAY",
		"MOVE_TO_END_OF_NEXT_OPEN_DAY",
		"MOVE_TO_END_OF_CURRENT_SERVICE_POINT_HOURS",
		"MOVE_TO_BEGINNING_OF_NEXT_OPEN_SERVICE_POINT_HOURS",
	}

	rapid.Check(t, func(t *rapid.T) {
		lp := rolling(rapid.IntRange(1, 96).Draw(t, "hours"), rapid.SampledFrom(strategies).Draw(t, "strategy"))
		policies := &fakePolicies{policies: map[uuid.UUID]*policy.LoanPolicy{lp.ID: lp}}
		c := NewCalculator(policies, &fakeCalendars{days: weekendClosed()}, Config{SearchDays: 7}, zap.NewNop())
		loanDate := fri.At(calendar.TimeOfDay{Hour: rapid.IntRange(0, 23).Draw(t, "hour")}, time.UTC)
		sp := uuid.New()

		first, err := c.Calculate(context.Background(), loanDate, lp.ID, sp)
		require.NoError(t, err)
		second, err := c.Calculate(context.Background(), loanDate, lp.ID, sp)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})
}

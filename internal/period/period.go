// Package period implements loan period arithmetic.
package period

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalidPeriod = errors.New("invalid loan period")

// Interval is the unit of a loan period.
type Interval int

const (
	Unknown Interval = iota
	Minutes
	Hours
	Days
	Weeks
	Months
)

var intervalNames = map[Interval]string{
	Minutes: "Minutes",
	Hours:   "Hours",
	Days:    "Days",
	Weeks:   "Weeks",
	Months:  "Months",
}

func (i Interval) String() string {
	if name, ok := intervalNames[i]; ok {
		return name
	}
	return "Unknown"
}

// approxLength is the longest span one unit of an interval can cover.
var approxLength = map[Interval]time.Duration{
	Minutes: time.Minute,
	Hours:   time.Hour,
	Days:    24 * time.Hour,
	Weeks:   7 * 24 * time.Hour,
	Months:  31 * 24 * time.Hour,
}

// MaxDuration is the largest duration of unit whose span still fits in a
// time.Duration, roughly 292 years. It is zero for Unknown.
func MaxDuration(unit Interval) int {
	length, ok := approxLength[unit]
	if !ok {
		return 0
	}
	return int(math.MaxInt64 / int64(length))
}

// ParseInterval resolves an interval token such as "Hours" or "weeks".
// Unrecognised tokens yield Unknown.
func ParseInterval(s string) Interval {
	s = strings.TrimSpace(s)
	for interval, name := range intervalNames {
		if strings.EqualFold(name, s) {
			return interval
		}
	}
	return Unknown
}

// LoanPeriod is an immutable positive duration in a known interval.
type LoanPeriod struct {
	duration int
	interval Interval
}

// NewLoanPeriod validates duration and interval token.
func NewLoanPeriod(duration int, intervalID string) (LoanPeriod, error) {
	interval := ParseInterval(intervalID)
	if interval == Unknown {
		return LoanPeriod{}, fmt.Errorf("%w: interval %q is not recognised", ErrInvalidPeriod, intervalID)
	}
	if duration <= 0 {
		return LoanPeriod{}, fmt.Errorf("%w: duration %d must be positive", ErrInvalidPeriod, duration)
	}
	if limit := MaxDuration(interval); duration > limit {
		return LoanPeriod{}, fmt.Errorf("%w: duration %d exceeds %d %s", ErrInvalidPeriod, duration, limit, interval)
	}
	return LoanPeriod{duration: duration, interval: interval}, nil
}

func (p LoanPeriod) Duration() int      { return p.duration }
func (p LoanPeriod) Interval() Interval { return p.interval }

func (p LoanPeriod) String() string {
	return fmt.Sprintf("%d %s", p.duration, p.interval)
}

// AddTo returns t moved forward by the period.
func (p LoanPeriod) AddTo(t time.Time) time.Time {
	return AddPeriod(t, p.duration, p.interval)
}

// AddPeriod adds duration units to t. Minutes and hours are elapsed time;
// days, weeks and months are calendar units that keep the wall-clock time
// of day in t's location. Adding months clamps to the end of the target
// month, so Jan 31 plus one month is the last day of February. Durations
// above MaxDuration(unit) are clamped to it.
func AddPeriod(t time.Time, duration int, unit Interval) time.Time {
	if limit := MaxDuration(unit); duration > limit {
		duration = limit
	}
	switch unit {
	case Minutes:
		return t.Add(time.Duration(duration) * time.Minute)
	case Hours:
		return t.Add(time.Duration(duration) * time.Hour)
	case Days:
		return t.AddDate(0, 0, duration)
	case Weeks:
		return t.AddDate(0, 0, 7*duration)
	case Months:
		return addMonths(t, duration)
	default:
		return t
	}
}

func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Package calendar models a service point's operating calendar and answers
// questions about when it is open.
package calendar

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var ErrMalformedCalendar = errors.New("malformed calendar")

const dateLayout = "2006-01-02"

// Date is a civil calendar date with no time zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate accepts "2006-01-02" and full timestamps starting with a date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.midnightUTC().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool { return d.midnightUTC().Before(o.midnightUTC()) }
func (d Date) After(o Date) bool  { return d.midnightUTC().After(o.midnightUTC()) }

// At places a time of day on the date in loc.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, tod.Hour, tod.Minute, 0, 0, loc)
}

// StartIn is midnight of the date in loc.
func (d Date) StartIn(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// EndIn is the last millisecond of the date in loc.
func (d Date) EndIn(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 23, 59, 59, int(999*time.Millisecond), loc)
}

// TimeOfDay is a wall-clock time. 24:00 is allowed as a closing time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS" (seconds are dropped).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var tod TimeOfDay
	var sec int
	s = strings.TrimSpace(s)

	var n int
	var err error
	if strings.Count(s, ":") == 2 {
		n, err = fmt.Sscanf(s, "%d:%d:%d", &tod.Hour, &tod.Minute, &sec)
	} else {
		n, err = fmt.Sscanf(s, "%d:%d", &tod.Hour, &tod.Minute)
	}
	if err != nil || n < 2 {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, ErrMalformedCalendar)
	}
	if tod.Minute < 0 || tod.Minute > 59 || tod.Hour < 0 || tod.Hour > 24 || (tod.Hour == 24 && tod.Minute != 0) {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range: %w", s, ErrMalformedCalendar)
	}
	return tod, nil
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// OpeningHour is one open block within a day, [Start, End).
type OpeningHour struct {
	Start TimeOfDay
	End   TimeOfDay
}

// OpeningDay is a single day of a service point calendar. An all-day day is
// open for the whole 24 hours and carries no hour blocks; a day that is
// neither all-day nor has blocks is closed.
type OpeningDay struct {
	Date   Date
	AllDay bool
	Hours  []OpeningHour
}

func (d OpeningDay) Open() bool {
	return d.AllDay || len(d.Hours) > 0
}

// ClosedDay is a convenience constructor.
func ClosedDay(date Date) OpeningDay {
	return OpeningDay{Date: date}
}

// AllDayOpen is a convenience constructor.
func AllDayOpen(date Date) OpeningDay {
	return OpeningDay{Date: date, AllDay: true}
}

// OpenDuring builds a day open during the given blocks.
func OpenDuring(date Date, hours ...OpeningHour) OpeningDay {
	return OpeningDay{Date: date, Hours: hours}
}

func normalize(day OpeningDay) (OpeningDay, error) {
	if day.AllDay {
		day.Hours = nil
		return day, nil
	}

	hours := slices.Clone(day.Hours)
	slices.SortFunc(hours, func(a, b OpeningHour) int {
		return a.Start.minutes() - b.Start.minutes()
	})
	for i, h := range hours {
		if h.End.minutes() <= h.Start.minutes() {
			return OpeningDay{}, fmt.Errorf("%s: block %s-%s ends before it starts: %w", day.Date, h.Start, h.End, ErrMalformedCalendar)
		}
		if i > 0 && h.Start.minutes() < hours[i-1].End.minutes() {
			return OpeningDay{}, fmt.Errorf("%s: block %s-%s overlaps %s-%s: %w",
				day.Date, h.Start, h.End, hours[i-1].Start, hours[i-1].End, ErrMalformedCalendar)
		}
	}
	day.Hours = hours
	return day, nil
}

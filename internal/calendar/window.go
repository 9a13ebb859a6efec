package calendar

import (
	"fmt"
	"slices"
	"time"
)

// Window is an ordered run of opening days for one service point, with the
// location the calendar's wall-clock times are expressed in. Days missing
// from the window are treated as closed, and searches never leave it.
type Window struct {
	loc   *time.Location
	days  []OpeningDay
	index map[Date]int
}

// NewWindow validates and orders days. Hours on all-day days are dropped.
func NewWindow(loc *time.Location, days []OpeningDay) (*Window, error) {
	if loc == nil {
		loc = time.UTC
	}

	w := &Window{
		loc:   loc,
		days:  make([]OpeningDay, 0, len(days)),
		index: make(map[Date]int, len(days)),
	}
	for _, day := range days {
		normalized, err := normalize(day)
		if err != nil {
			return nil, err
		}
		w.days = append(w.days, normalized)
	}

	slices.SortFunc(w.days, func(a, b OpeningDay) int {
		return a.Date.midnightUTC().Compare(b.Date.midnightUTC())
	})
	for i, day := range w.days {
		if _, dup := w.index[day.Date]; dup {
			return nil, fmt.Errorf("%s appears twice: %w", day.Date, ErrMalformedCalendar)
		}
		w.index[day.Date] = i
	}
	return w, nil
}

func (w *Window) Location() *time.Location { return w.loc }

// Days returns a copy of the ordered days.
func (w *Window) Days() []OpeningDay { return slices.Clone(w.days) }

// Day returns the opening day for date, if the window covers it.
func (w *Window) Day(date Date) (OpeningDay, bool) {
	i, ok := w.index[date]
	if !ok {
		return OpeningDay{}, false
	}
	return w.days[i], true
}

func (w *Window) dayOf(t time.Time) (OpeningDay, bool) {
	return w.Day(DateOf(t.In(w.loc)))
}

type block struct {
	start time.Time
	end   time.Time
}

func (b block) contains(t time.Time) bool {
	return !t.Before(b.start) && t.Before(b.end)
}

func (w *Window) blocks(day OpeningDay) []block {
	out := make([]block, 0, len(day.Hours))
	for _, h := range day.Hours {
		out = append(out, block{start: day.Date.At(h.Start, w.loc), end: day.Date.At(h.End, w.loc)})
	}
	return out
}

// closeOf is the instant an open day closes for the last time.
func (w *Window) closeOf(day OpeningDay) time.Time {
	if day.AllDay {
		return day.Date.EndIn(w.loc)
	}
	last := day.Hours[len(day.Hours)-1]
	return day.Date.At(last.End, w.loc)
}

// openingOf is the instant an open day first opens.
func (w *Window) openingOf(day OpeningDay) time.Time {
	if day.AllDay {
		return day.Date.StartIn(w.loc)
	}
	return day.Date.At(day.Hours[0].Start, w.loc)
}

// OpenAt reports whether t falls inside an open block. A block's start is
// open and its end is closed.
func (w *Window) OpenAt(t time.Time) bool {
	day, ok := w.dayOf(t)
	if !ok || !day.Open() {
		return false
	}
	if day.AllDay {
		return true
	}
	for _, b := range w.blocks(day) {
		if b.contains(t) {
			return true
		}
	}
	return false
}

// EndOfCurrentOpenPeriod returns the close of the block containing t, or the
// end of the day when the day is open all day. ok is false when t is closed.
func (w *Window) EndOfCurrentOpenPeriod(t time.Time) (time.Time, bool) {
	day, ok := w.dayOf(t)
	if !ok || !day.Open() {
		return time.Time{}, false
	}
	if day.AllDay {
		return day.Date.EndIn(w.loc), true
	}
	for _, b := range w.blocks(day) {
		if b.contains(t) {
			return b.end, true
		}
	}
	return time.Time{}, false
}

// EndOfPreviousOpenDay scans backward from date, exclusive, for the nearest
// open day and returns its closing instant.
func (w *Window) EndOfPreviousOpenDay(date Date) (time.Time, bool) {
	for i := len(w.days) - 1; i >= 0; i-- {
		day := w.days[i]
		if day.Date.Before(date) && day.Open() {
			return w.closeOf(day), true
		}
	}
	return time.Time{}, false
}

// EndOfNextOpenDay scans forward from date, exclusive, for the nearest open
// day and returns its closing instant.
func (w *Window) EndOfNextOpenDay(date Date) (time.Time, bool) {
	for _, day := range w.days {
		if day.Date.After(date) && day.Open() {
			return w.closeOf(day), true
		}
	}
	return time.Time{}, false
}

// PreviousClose returns the most recent closing instant at or before t: the
// end of the last block on t's own day that has already ended, otherwise the
// close of the nearest earlier open day. For t between two blocks this is the
// close of the earlier block, never the later one.
func (w *Window) PreviousClose(t time.Time) (time.Time, bool) {
	today := DateOf(t.In(w.loc))
	if day, ok := w.Day(today); ok && !day.AllDay {
		blocks := w.blocks(day)
		for i := len(blocks) - 1; i >= 0; i-- {
			if !blocks[i].end.After(t) {
				return blocks[i].end, true
			}
		}
	}
	return w.EndOfPreviousOpenDay(today)
}

// StartOfNextOpenPeriod returns the first opening strictly after t. A later
// block on t's own day wins over any following day.
func (w *Window) StartOfNextOpenPeriod(t time.Time) (time.Time, bool) {
	today := DateOf(t.In(w.loc))
	if day, ok := w.Day(today); ok && !day.AllDay {
		for _, b := range w.blocks(day) {
			if b.start.After(t) {
				return b.start, true
			}
		}
	}
	for _, day := range w.days {
		if day.Date.After(today) && day.Open() {
			return w.openingOf(day), true
		}
	}
	return time.Time{}, false
}

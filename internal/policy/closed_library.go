package policy

import (
	"strings"
	"time"

	"libracirc/internal/calendar"
)

// ClosedLibraryStrategy decides where a due date goes when it lands while the
// service point is closed.
type ClosedLibraryStrategy int

const (
	Unrecognized ClosedLibraryStrategy = iota
	KeepCurrentDate
	MoveToEndOfPreviousOpenDay
	MoveToEndOfNextOpenDay
	MoveToEndOfCurrentServicePointHours
	MoveToBeginningOfNextOpenServicePointHours
)

type strategyNames struct {
	constant string
	display  string
}

var closedLibraryNames = map[ClosedLibraryStrategy]strategyNames{
	KeepCurrentDate: {
		"KEEP_CURRENT_DATE", "Keep the current due date"},
	MoveToEndOfPreviousOpenDay: {
		"MOVE_TO_END_OF_PREVIOUS_OPEN_DAY", "Move to the end of the previous open day"},
	MoveToEndOfNextOpenDay: {
		"MOVE_TO_END_OF_NEXT_OPEN_DAY", "Move to the end of the next open day"},
	MoveToEndOfCurrentServicePointHours: {
		"MOVE_TO_END_OF_CURRENT_SERVICE_POINT_HOURS", "Move to the end of the current service point hours"},
	MoveToBeginningOfNextOpenServicePointHours: {
		"MOVE_TO_BEGINNING_OF_NEXT_OPEN_SERVICE_POINT_HOURS", "Move to the beginning of the next open service point hours"},
}

// aliases seen in stored policies that predate the current names
var closedLibraryAliases = map[string]ClosedLibraryStrategy{
	"KEEP_THE_CURRENT_DUE_DATE":                KeepCurrentDate,
	"KEEP_THE_CURRENT_DUE_DATE_TIME":           KeepCurrentDate,
	"MOVE_TO_THE_END_OF_THE_PREVIOUS_OPEN_DAY": MoveToEndOfPreviousOpenDay,
	"MOVE_TO_THE_END_OF_THE_NEXT_OPEN_DAY":     MoveToEndOfNextOpenDay,
}

func (s ClosedLibraryStrategy) String() string {
	if n, ok := closedLibraryNames[s]; ok {
		return n.constant
	}
	return "UNRECOGNIZED"
}

// ParseClosedLibraryStrategy accepts constant names and display strings,
// case-insensitively. Anything else is Unrecognized.
func ParseClosedLibraryStrategy(s string) ClosedLibraryStrategy {
	s = strings.TrimSpace(s)
	for strategy, n := range closedLibraryNames {
		if strings.EqualFold(s, n.constant) || strings.EqualFold(s, n.display) {
			return strategy
		}
	}
	if strategy, ok := closedLibraryAliases[strings.ToUpper(s)]; ok {
		return strategy
	}
	return Unrecognized
}

// ResolveClosedLibraryStrategy parses s, falling back to def when s is empty
// or unrecognised.
func ResolveClosedLibraryStrategy(s string, def ClosedLibraryStrategy) ClosedLibraryStrategy {
	if strategy := ParseClosedLibraryStrategy(s); strategy != Unrecognized {
		return strategy
	}
	return def
}

// Adjust relocates a due date that falls outside the window's open hours.
// Open due dates are returned untouched. adjusted is false when no change was
// made, including when the window has no qualifying open period to move to.
func Adjust(due time.Time, strategy ClosedLibraryStrategy, w *calendar.Window) (result time.Time, adjusted bool) {
	if w == nil || w.OpenAt(due) {
		return due, false
	}

	var (
		moved time.Time
		ok    bool
	)
	switch strategy {
	case MoveToEndOfPreviousOpenDay:
		moved, ok = w.EndOfPreviousOpenDay(calendar.DateOf(due.In(w.Location())))
	case MoveToEndOfNextOpenDay:
		moved, ok = w.EndOfNextOpenDay(calendar.DateOf(due.In(w.Location())))
	case MoveToEndOfCurrentServicePointHours:
		moved, ok = w.PreviousClose(due)
	case MoveToBeginningOfNextOpenServicePointHours:
		moved, ok = w.StartOfNextOpenPeriod(due)
	default:
		return due, false
	}
	if !ok {
		return due, false
	}
	return moved, true
}

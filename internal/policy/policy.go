// Package policy turns a loan policy into a due date: it selects the due date
// strategy for the policy's profile and relocates due dates that land while
// the library is closed.
package policy

import (
	"time"

	"github.com/google/uuid"
)

// LoanPolicy is the descriptor returned by the policy source.
type LoanPolicy struct {
	ID                    uuid.UUID
	Name                  string
	ProfileID             string
	Period                *PeriodSpec
	FixedScheduleID       *uuid.UUID
	FixedSchedules        []ScheduleEntry
	ClosedLibraryStrategy string
}

// PeriodSpec is the raw loan period as configured. It is validated only when
// a rolling due date is calculated.
type PeriodSpec struct {
	Duration   int
	IntervalID string
}

// ScheduleEntry maps checkouts made within [From, To] to a fixed Due instant.
type ScheduleEntry struct {
	From time.Time
	To   time.Time
	Due  time.Time
}

func (e ScheduleEntry) Covers(t time.Time) bool {
	return !t.Before(e.From) && !t.After(e.To)
}

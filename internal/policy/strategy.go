package policy

import (
	"fmt"
	"strings"
	"time"

	"libracirc/internal/failure"
	"libracirc/internal/period"
)

const (
	ProfileRolling = "Rolling"
	ProfileFixed   = "Fixed"
)

// DueDateStrategy is one of RollingStrategy, FixedScheduleStrategy or
// UnknownStrategy. The set is closed; Calculate switches over all of them.
type DueDateStrategy interface {
	LoanPolicyID() string
	Name() string
	dueDateStrategy()
}

type RollingStrategy struct {
	PolicyID string
	Period   PeriodSpec
}

type FixedScheduleStrategy struct {
	PolicyID  string
	Schedules []ScheduleEntry
}

type UnknownStrategy struct {
	PolicyID  string
	ProfileID string
}

func (s RollingStrategy) LoanPolicyID() string       { return s.PolicyID }
func (s FixedScheduleStrategy) LoanPolicyID() string { return s.PolicyID }
func (s UnknownStrategy) LoanPolicyID() string       { return s.PolicyID }

func (RollingStrategy) Name() string       { return "rolling" }
func (FixedScheduleStrategy) Name() string { return "fixed" }
func (UnknownStrategy) Name() string       { return "unknown" }

func (RollingStrategy) dueDateStrategy()       {}
func (FixedScheduleStrategy) dueDateStrategy() {}
func (UnknownStrategy) dueDateStrategy()       {}

// SelectStrategy picks the strategy for a policy's profile. It never fails:
// an unrecognised profile selects UnknownStrategy, which fails to calculate.
func SelectStrategy(lp *LoanPolicy) DueDateStrategy {
	policyID := lp.ID.String()

	switch {
	case strings.EqualFold(lp.ProfileID, ProfileRolling):
		s := RollingStrategy{PolicyID: policyID}
		if lp.Period != nil {
			s.Period = *lp.Period
		}
		return s
	case strings.EqualFold(lp.ProfileID, ProfileFixed):
		return FixedScheduleStrategy{PolicyID: policyID, Schedules: lp.FixedSchedules}
	default:
		return UnknownStrategy{PolicyID: policyID, ProfileID: lp.ProfileID}
	}
}

// Calculate returns the naive due date for a checkout at loanDate, before any
// closed-library adjustment.
func Calculate(s DueDateStrategy, loanDate time.Time) (time.Time, error) {
	switch s := s.(type) {
	case RollingStrategy:
		lp, err := period.NewLoanPeriod(s.Period.Duration, s.Period.IntervalID)
		if err != nil {
			return time.Time{}, fail(s.PolicyID, failure.ErrInvalidLoanPeriod,
				fmt.Sprintf("the loan period is not recognised (%d %q)", s.Period.Duration, s.Period.IntervalID))
		}
		return lp.AddTo(loanDate), nil

	case FixedScheduleStrategy:
		for _, entry := range s.Schedules {
			if entry.Covers(loanDate) {
				return entry.Due, nil
			}
		}
		return time.Time{}, fail(s.PolicyID, failure.ErrNoApplicableSchedule,
			"loan date is not within a schedule")

	case UnknownStrategy:
		return time.Time{}, fail(s.PolicyID, failure.ErrUnrecognizedProfile,
			fmt.Sprintf("Unrecognised profile - %s", s.ProfileID))

	default:
		panic(fmt.Sprintf("policy: unhandled due date strategy %T", s))
	}
}

func fail(policyID string, kind error, reason string) error {
	return failure.Validation(kind,
		fmt.Sprintf("Loans policy cannot be applied - %s", reason),
		"loanPolicyId", policyID)
}

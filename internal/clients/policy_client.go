// internal/clients/policy_client.go
package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/policy"
)

type loanPolicyRecord struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Loanable    bool      `json:"loanable"`
	LoansPolicy *struct {
		ProfileID string `json:"profileId"`
		Period    *struct {
			Duration   int    `json:"duration"`
			IntervalID string `json:"intervalId"`
		} `json:"period"`
		ClosedLibraryDueDateManagementID string     `json:"closedLibraryDueDateManagementId"`
		FixedDueDateScheduleID           *uuid.UUID `json:"fixedDueDateScheduleId"`
	} `json:"loansPolicy"`
}

type fixedScheduleRecord struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Schedules []struct {
		From time.Time `json:"from"`
		To   time.Time `json:"to"`
		Due  time.Time `json:"due"`
	} `json:"schedules"`
}

// PolicyClient reads loan policies and their fixed due date schedules.
type PolicyClient struct {
	*client
}

func NewPolicyClient(baseURL string, opts Options) *PolicyClient {
	return &PolicyClient{client: newClient("policy", baseURL, opts)}
}

// GetLoanPolicy returns the policy with its fixed schedule resolved, if it
// references one.
func (c *PolicyClient) GetLoanPolicy(ctx context.Context, id uuid.UUID) (*policy.LoanPolicy, error) {
	var rec loanPolicyRecord
	if err := c.get(ctx, fmt.Sprintf("/loan-policy-storage/loan-policies/%s", id), nil, &rec); err != nil {
		return nil, fmt.Errorf("failed to get loan policy %s: %w", id, err)
	}

	lp := &policy.LoanPolicy{ID: rec.ID, Name: rec.Name}
	if rec.LoansPolicy == nil {
		return lp, nil
	}
	lp.ProfileID = rec.LoansPolicy.ProfileID
	lp.ClosedLibraryStrategy = rec.LoansPolicy.ClosedLibraryDueDateManagementID
	if p := rec.LoansPolicy.Period; p != nil {
		lp.Period = &policy.PeriodSpec{Duration: p.Duration, IntervalID: p.IntervalID}
	}

	if scheduleID := rec.LoansPolicy.FixedDueDateScheduleID; scheduleID != nil {
		lp.FixedScheduleID = scheduleID
		schedules, err := c.getFixedSchedule(ctx, *scheduleID)
		if err != nil {
			return nil, err
		}
		lp.FixedSchedules = schedules
	}
	return lp, nil
}

func (c *PolicyClient) getFixedSchedule(ctx context.Context, id uuid.UUID) ([]policy.ScheduleEntry, error) {
	var rec fixedScheduleRecord
	if err := c.get(ctx, fmt.Sprintf("/fixed-due-date-schedule-storage/fixed-due-date-schedules/%s", id), nil, &rec); err != nil {
		return nil, fmt.Errorf("failed to get fixed due date schedule %s: %w", id, err)
	}

	entries := make([]policy.ScheduleEntry, 0, len(rec.Schedules))
	for _, s := range rec.Schedules {
		entries = append(entries, policy.ScheduleEntry{From: s.From, To: s.To, Due: s.Due})
	}
	return entries, nil
}

// Package duedate calculates loan due dates from a loan policy and the
// checkout service point's calendar.
package duedate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libracirc/internal/calendar"
	"libracirc/internal/failure"
	"libracirc/internal/metrics"
	"libracirc/internal/policy"
)

// PolicySource looks up loan policies.
type PolicySource interface {
	GetLoanPolicy(ctx context.Context, id uuid.UUID) (*policy.LoanPolicy, error)
}

// CalendarSource returns the opening days of a service point between two
// dates, inclusive.
type CalendarSource interface {
	GetOpeningDays(ctx context.Context, servicePointID uuid.UUID, from, to calendar.Date) (*calendar.Window, error)
}

// Config is passed to every calculation in place of any global default.
type Config struct {
	// DefaultClosedLibraryStrategy applies when a policy's strategy is
	// missing or unrecognised.
	DefaultClosedLibraryStrategy policy.ClosedLibraryStrategy
	// SearchDays is how far either side of the naive due date the calendar
	// is fetched.
	SearchDays                   int
	// Location is used to derive calendar dates when fetching the window.
	Location                     *time.Location
}

func (c Config) withDefaults() Config {
	if c.DefaultClosedLibraryStrategy == policy.Unrecognized {
		c.DefaultClosedLibraryStrategy = policy.KeepCurrentDate
	}
	if c.SearchDays <= 0 {
		c.SearchDays = 14
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Result explains how a due date was reached.
type Result struct {
	DueDate               time.Time
	NaiveDueDate          time.Time
	Strategy              string
	ClosedLibraryStrategy policy.ClosedLibraryStrategy
	Adjusted              bool
}

type Calculator struct {
	policies  PolicySource
	calendars CalendarSource
	config    Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewCalculator(policies PolicySource, calendars CalendarSource, config Config, logger *zap.Logger) *Calculator {
	return &Calculator{
		policies:  policies,
		calendars: calendars,
		config:    config.withDefaults(),
		logger:    logger,
		tracer:    otel.Tracer("libracirc/duedate"),
	}
}

// Calculate returns the due date of a loan made at checkoutTime under the
// given policy at the given service point.
func (c *Calculator) Calculate(ctx context.Context, checkoutTime time.Time, policyID, servicePointID uuid.UUID) (time.Time, error) {
	res, err := c.Explain(ctx, checkoutTime, policyID, servicePointID)
	if err != nil {
		return time.Time{}, err
	}
	return res.DueDate, nil
}

// Explain is Calculate with the intermediate decisions exposed.
func (c *Calculator) Explain(ctx context.Context, checkoutTime time.Time, policyID, servicePointID uuid.UUID) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "duedate.calculate",
		trace.WithAttributes(
			attribute.String("loan_policy.id", policyID.String()),
			attribute.String("service_point.id", servicePointID.String()),
		),
	)
	defer span.End()

	res, err := c.explain(ctx, checkoutTime, policyID, servicePointID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.OperationErrorsTotal.WithLabelValues("calculate_due_date").Inc()
		return nil, err
	}

	span.SetAttributes(
		attribute.String("due_date.strategy", res.Strategy),
		attribute.String("due_date.closed_library_strategy", res.ClosedLibraryStrategy.String()),
		attribute.Bool("due_date.adjusted", res.Adjusted),
	)
	metrics.DueDatesCalculatedTotal.WithLabelValues(res.Strategy).Inc()
	if res.Adjusted {
		metrics.DueDateAdjustmentsTotal.WithLabelValues(res.ClosedLibraryStrategy.String()).Inc()
	}
	return res, nil
}

func (c *Calculator) explain(ctx context.Context, checkoutTime time.Time, policyID, servicePointID uuid.UUID) (*Result, error) {
	lp, err := c.policies.GetLoanPolicy(ctx, policyID)
	if err != nil {
		return nil, asCollaboratorError("policy", failure.ErrPolicyNotFound, err)
	}

	strategy := policy.SelectStrategy(lp)
	naive, err := policy.Calculate(strategy, checkoutTime)
	if err != nil {
		c.logger.Warn("loan policy cannot be applied",
			zap.String("loan_policy_id", policyID.String()),
			zap.String("strategy", strategy.Name()),
			zap.Error(err),
		)
		return nil, err
	}

	mode := policy.ResolveClosedLibraryStrategy(lp.ClosedLibraryStrategy, c.config.DefaultClosedLibraryStrategy)
	res := &Result{
		DueDate:               naive,
		NaiveDueDate:          naive,
		Strategy:              strategy.Name(),
		ClosedLibraryStrategy: mode,
	}
	if mode == policy.KeepCurrentDate || servicePointID == uuid.Nil {
		return res, nil
	}

	local := calendar.DateOf(naive.In(c.config.Location))
	window, err := c.calendars.GetOpeningDays(ctx, servicePointID,
		local.AddDays(-c.config.SearchDays), local.AddDays(c.config.SearchDays))
	if err != nil {
		return nil, asCollaboratorError("calendar", failure.ErrCalendarUnavailable, err)
	}

	due, adjusted := Resolve(naive, mode, window)
	if !adjusted && !window.OpenAt(naive) {
		c.logger.Warn("no open period in calendar window, keeping due date",
			zap.String("service_point_id", servicePointID.String()),
			zap.Time("due_date", naive),
			zap.Stringer("closed_library_strategy", mode),
		)
	}
	res.DueDate = due
	res.Adjusted = adjusted
	return res, nil
}

// Resolve applies the closed-library strategy to a naive due date. It is a
// pure function of its inputs.
func Resolve(naive time.Time, mode policy.ClosedLibraryStrategy, window *calendar.Window) (time.Time, bool) {
	return policy.Adjust(naive, mode, window)
}

func asCollaboratorError(collaborator string, kind, err error) error {
	var ce *failure.CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return failure.Collaborator(collaborator, kind, err)
}

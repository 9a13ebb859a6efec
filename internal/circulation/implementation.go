// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libracirc/internal/duedate"
	"libracirc/internal/events"
	"libracirc/internal/eventstore"
	"libracirc/internal/failure"
	"libracirc/internal/metrics"
	"libracirc/internal/requests"
)

var (
	ErrLoanNotFound      = errors.New("loan not found")
	ErrLoanAlreadyClosed = errors.New("loan already closed")
)

type DueDateCalculator interface {
	Explain(ctx context.Context, checkoutTime time.Time, policyID, servicePointID uuid.UUID) (*duedate.Result, error)
}

type EventLog interface {
	Append(ctx context.Context, streamID uuid.UUID, streamType string, expectedVersion int, events []eventstore.Event) error
	Load(ctx context.Context, streamID uuid.UUID) ([]eventstore.Event, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, subject uuid.UUID, data any) error
}

// service implements the Service interface.
type service struct {
	dueDates  DueDateCalculator
	eventLog  EventLog
	loans     LoanStore
	requests  requests.Service
	publisher EventPublisher
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService creates a new circulation service instance.
func NewService(dueDates DueDateCalculator, eventLog EventLog, loans LoanStore, reqs requests.Service, publisher EventPublisher, logger *zap.Logger) Service {
	return &service{
		dueDates:  dueDates,
		eventLog:  eventLog,
		loans:     loans,
		requests:  reqs,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("libracirc/circulation"),
		now:       time.Now,
	}
}

func (s *service) CalculateDueDate(ctx context.Context, checkoutTime time.Time, loanPolicyID, servicePointID uuid.UUID) (*DueDate, error) {
	if loanPolicyID == uuid.Nil {
		return nil, failure.Validation(failure.ErrInvalidInput, "Loan policy ID is required", "loanPolicyId", "")
	}
	if checkoutTime.IsZero() {
		checkoutTime = s.now()
	}

	res, err := s.dueDates.Explain(ctx, checkoutTime, loanPolicyID, servicePointID)
	if err != nil {
		return nil, err
	}
	return &DueDate{
		DueDate:               res.DueDate,
		NaiveDueDate:          res.NaiveDueDate,
		Strategy:              res.Strategy,
		ClosedLibraryStrategy: res.ClosedLibraryStrategy.String(),
		Adjusted:              res.Adjusted,
	}, nil
}

// CheckOutItem orchestrates the checkout saga.
func (s *service) CheckOutItem(ctx context.Context, req CheckOut) (loan *Loan, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.check_out",
		trace.WithAttributes(
			attribute.String("item.id", req.ItemID.String()),
			attribute.String("loan_policy.id", req.LoanPolicyID.String()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.OperationErrorsTotal.WithLabelValues("check_out").Inc()
		}
		span.End()
	}()

	if err := validateCheckOut(req); err != nil {
		return nil, err
	}
	loanDate := req.LoanDate
	if loanDate.IsZero() {
		loanDate = s.now()
	}

	// Step 1: Calculate the due date
	due, err := s.dueDates.Explain(ctx, loanDate, req.LoanPolicyID, req.CheckoutServicePoint)
	if err != nil {
		return nil, fmt.Errorf("calculate due date: %w", err)
	}

	// Step 2: Record the loan
	loan = &Loan{
		ID:                    uuid.New(),
		ItemID:                req.ItemID,
		UserID:                req.UserID,
		LoanPolicyID:          req.LoanPolicyID,
		CheckoutServicePoint:  req.CheckoutServicePoint,
		LoanDate:              loanDate,
		DueDate:               due.DueDate,
		DueDateStrategy:       due.Strategy,
		ClosedLibraryStrategy: due.ClosedLibraryStrategy.String(),
		Status:                LoanStatusOpen,
		Version:               1,
	}
	span.SetAttributes(attribute.String("loan.id", loan.ID.String()))

	created := LoanCreatedEvent{
		LoanID:                loan.ID,
		ItemID:                loan.ItemID,
		UserID:                loan.UserID,
		LoanPolicyID:          loan.LoanPolicyID,
		LoanDate:              loan.LoanDate,
		DueDate:               loan.DueDate,
		NaiveDueDate:          due.NaiveDueDate,
		DueDateStrategy:       loan.DueDateStrategy,
		ClosedLibraryStrategy: loan.ClosedLibraryStrategy,
	}
	event, err := eventstore.NewEvent(EventLoanCreated, created, metadata(req))
	if err != nil {
		return nil, err
	}
	if err := s.eventLog.Append(ctx, loan.ID, loanStreamType, 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("append loan event: %w", err)
	}

	// Step 3: Update the read model
	if err := s.loans.InsertLoan(ctx, loan); err != nil {
		s.compensate(ctx, loan.ID, err)
		return nil, fmt.Errorf("update read model: %w", err)
	}

	// Step 4: Announce it
	if err := s.publisher.Publish(ctx, events.TypeLoanCreated, loan.ID, created); err != nil {
		s.logger.Warn("failed to publish loan event",
			zap.String("loan_id", loan.ID.String()),
			zap.Error(err),
		)
	}

	metrics.LoansCreatedTotal.Inc()
	s.logger.Info("loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.String("item_id", loan.ItemID.String()),
		zap.Time("due_date", loan.DueDate),
		zap.String("strategy", loan.DueDateStrategy),
	)
	return loan, nil
}

// compensate cancels a loan whose read model write failed.
func (s *service) compensate(ctx context.Context, loanID uuid.UUID, cause error) {
	s.logger.Warn("compensating for failed checkout", zap.String("loan_id", loanID.String()), zap.Error(cause))

	event, err := eventstore.NewEvent(EventLoanCancelled, LoanCancelledEvent{LoanID: loanID, Reason: cause.Error()}, nil)
	if err == nil {
		err = s.eventLog.Append(ctx, loanID, loanStreamType, 1, []eventstore.Event{event})
	}
	if err != nil {
		s.logger.Error("failed to compensate checkout", zap.String("loan_id", loanID.String()), zap.Error(err))
	}
}

func (s *service) GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	return s.loans.GetLoan(ctx, loanID)
}

// CheckInItem closes an open loan: it records LoanClosed on the loan stream,
// then updates the read model and announces the return.
func (s *service) CheckInItem(ctx context.Context, loanID uuid.UUID, req CheckIn) (loan *Loan, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.check_in",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.OperationErrorsTotal.WithLabelValues("check_in").Inc()
		}
		span.End()
	}()

	// Step 1: Find the open loan
	loan, err = s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanStatusOpen {
		return nil, failure.Validation(ErrLoanAlreadyClosed, "Loan is already closed", "loanId", loanID.String())
	}
	returnDate := req.ReturnDate
	if returnDate.IsZero() {
		returnDate = s.now()
	}
	if returnDate.Before(loan.LoanDate) {
		return nil, failure.Validation(failure.ErrInvalidInput, "Return date must not be before the loan date",
			"returnDate", returnDate.Format(time.RFC3339))
	}

	// Step 2: Record the return
	closed := LoanClosedEvent{
		LoanID:     loan.ID,
		ItemID:     loan.ItemID,
		UserID:     loan.UserID,
		ReturnDate: returnDate,
		Overdue:    returnDate.After(loan.DueDate),
	}
	var meta map[string]string
	if req.CheckInServicePoint != uuid.Nil {
		meta = map[string]string{"checkinServicePointId": req.CheckInServicePoint.String()}
	}
	event, err := eventstore.NewEvent(EventLoanClosed, closed, meta)
	if err != nil {
		return nil, err
	}
	if err := s.eventLog.Append(ctx, loan.ID, loanStreamType, loan.Version, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("append loan event: %w", err)
	}

	// Step 3: Update the read model
	if err := s.loans.CloseLoan(ctx, loan.ID, returnDate, loan.Version+1); err != nil {
		return nil, fmt.Errorf("update read model: %w", err)
	}
	loan.Status = LoanStatusClosed
	loan.ReturnDate = &returnDate
	loan.Version++

	// Step 4: Announce it
	if err := s.publisher.Publish(ctx, events.TypeLoanClosed, loan.ID, closed); err != nil {
		s.logger.Warn("failed to publish loan event",
			zap.String("loan_id", loan.ID.String()),
			zap.Error(err),
		)
	}

	metrics.LoansClosedTotal.Inc()
	s.logger.Info("loan closed",
		zap.String("loan_id", loan.ID.String()),
		zap.String("item_id", loan.ItemID.String()),
		zap.Bool("overdue", closed.Overdue),
	)
	return loan, nil
}

func (s *service) PlaceInstanceRequest(ctx context.Context, req requests.InstanceRequest) (*requests.Request, error) {
	created, err := s.requests.PlaceRequestForInstance(ctx, req)
	if err != nil {
		return nil, err
	}

	placed := RequestPlacedEvent{
		RequestID:   created.ID,
		InstanceID:  req.InstanceID,
		ItemID:      created.ItemID,
		RequesterID: created.RequesterID,
		RequestType: created.RequestType,
	}
	if err := s.publisher.Publish(ctx, events.TypeRequestPlaced, created.ID, placed); err != nil {
		s.logger.Warn("failed to publish request event",
			zap.String("request_id", created.ID.String()),
			zap.Error(err),
		)
	}
	return created, nil
}

// LoanHistory returns the recorded events of a loan, oldest first.
func (s *service) LoanHistory(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	history, err := s.eventLog.Load(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("load loan %s: %w", loanID, err)
	}
	if len(history) == 0 {
		return nil, ErrLoanNotFound
	}
	return history, nil
}

func validateCheckOut(req CheckOut) error {
	switch {
	case req.ItemID == uuid.Nil:
		return failure.Validation(failure.ErrInvalidInput, "Item ID is required", "itemId", "")
	case req.UserID == uuid.Nil:
		return failure.Validation(failure.ErrInvalidInput, "User ID is required", "userId", "")
	case req.LoanPolicyID == uuid.Nil:
		return failure.Validation(failure.ErrInvalidInput, "Loan policy ID is required", "loanPolicyId", "")
	}
	return nil
}

func metadata(req CheckOut) map[string]string {
	if req.CheckoutServicePoint == uuid.Nil {
		return nil
	}
	return map[string]string{"checkoutServicePointId": req.CheckoutServicePoint.String()}
}

package circulation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"libracirc/internal/duedate"
	"libracirc/internal/events"
	"libracirc/internal/eventstore"
	"libracirc/internal/failure"
	"libracirc/internal/policy"
	"libracirc/internal/requests"
)

type fakeDueDates struct {
	result *duedate.Result
	err    error

	gotTime time.Time
}

func (f *fakeDueDates) Explain(_ context.Context, checkoutTime time.Time, _, _ uuid.UUID) (*duedate.Result, error) {
	f.gotTime = checkoutTime
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeEventLog struct {
	mu      sync.Mutex
	streams map[uuid.UUID][]eventstore.Event
	err     error
}

func newFakeEventLog() *fakeEventLog {
	return &fakeEventLog{streams: make(map[uuid.UUID][]eventstore.Event)}
}

func (f *fakeEventLog) Append(_ context.Context, streamID uuid.UUID, streamType string, expectedVersion int, evs []eventstore.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if len(f.streams[streamID]) != expectedVersion {
		return eventstore.ErrConcurrencyConflict
	}
	for i, e := range evs {
		e.StreamID = streamID
		e.StreamType = streamType
		e.Version = expectedVersion + i + 1
		f.streams[streamID] = append(f.streams[streamID], e)
	}
	return nil
}

func (f *fakeEventLog) Load(_ context.Context, streamID uuid.UUID) ([]eventstore.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[streamID], nil
}

type fakeLoans struct {
	loans    map[uuid.UUID]*Loan
	err      error
	closeErr error
}

func (f *fakeLoans) InsertLoan(_ context.Context, loan *Loan) error {
	if f.err != nil {
		return f.err
	}
	if f.loans == nil {
		f.loans = make(map[uuid.UUID]*Loan)
	}
	f.loans[loan.ID] = loan
	return nil
}

func (f *fakeLoans) GetLoan(_ context.Context, id uuid.UUID) (*Loan, error) {
	if loan, ok := f.loans[id]; ok {
		return loan, nil
	}
	return nil, ErrLoanNotFound
}

func (f *fakeLoans) CloseLoan(_ context.Context, id uuid.UUID, returnDate time.Time, version int) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	loan, ok := f.loans[id]
	if !ok || loan.Status != LoanStatusOpen {
		return ErrLoanNotFound
	}
	stored := *loan
	stored.Status = LoanStatusClosed
	stored.ReturnDate = &returnDate
	stored.Version = version
	f.loans[id] = &stored
	return nil
}

type published struct {
	eventType string
	subject   uuid.UUID
	data      any
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, eventType string, subject uuid.UUID, data any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{eventType, subject, data})
	return nil
}

type fakeRequests struct {
	created *requests.Request
	err     error
}

func (f *fakeRequests) PlaceRequestForInstance(_ context.Context, _ requests.InstanceRequest) (*requests.Request, error) {
	return f.created, f.err
}

type fixture struct {
	dueDates  *fakeDueDates
	eventLog  *fakeEventLog
	loans     *fakeLoans
	requests  *fakeRequests
	publisher *fakePublisher
	svc       *service
}

func newFixture(t *testing.T) *fixture {
	due := time.Date(2026, 11, 6, 23, 59, 59, 0, time.UTC)
	f := &fixture{
		dueDates: &fakeDueDates{result: &duedate.Result{
			DueDate:               due,
			NaiveDueDate:          due.AddDate(0, 0, 1),
			Strategy:              "rolling",
			ClosedLibraryStrategy: policy.MoveToEndOfPreviousOpenDay,
			Adjusted:              true,
		}},
		eventLog:  newFakeEventLog(),
		loans:     &fakeLoans{},
		requests:  &fakeRequests{},
		publisher: &fakePublisher{},
	}
	f.svc = NewService(f.dueDates, f.eventLog, f.loans, f.requests, f.publisher, zaptest.NewLogger(t)).(*service)
	f.svc.now = func() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) }
	return f
}

func checkOutRequest() CheckOut {
	return CheckOut{
		ItemID:               uuid.New(),
		UserID:               uuid.New(),
		LoanPolicyID:         uuid.New(),
		CheckoutServicePoint: uuid.New(),
	}
}

func TestCheckOutItem(t *testing.T) {
	f := newFixture(t)
	req := checkOutRequest()

	loan, err := f.svc.CheckOutItem(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, req.ItemID, loan.ItemID)
	assert.Equal(t, time.Date(2026, 11, 6, 23, 59, 59, 0, time.UTC), loan.DueDate)
	assert.Equal(t, "rolling", loan.DueDateStrategy)
	assert.Equal(t, "MOVE_TO_END_OF_PREVIOUS_OPEN_DAY", loan.ClosedLibraryStrategy)
	assert.Equal(t, LoanStatusOpen, loan.Status)
	assert.Equal(t, f.svc.now(), f.dueDates.gotTime, "missing loan date defaults to now")

	history := f.eventLog.streams[loan.ID]
	require.Len(t, history, 1)
	assert.Equal(t, EventLoanCreated, history[0].Type)
	assert.Equal(t, req.CheckoutServicePoint.String(), history[0].Metadata["checkoutServicePointId"])

	var recorded LoanCreatedEvent
	require.NoError(t, json.Unmarshal(history[0].Data, &recorded))
	assert.Equal(t, loan.ID, recorded.LoanID)
	assert.True(t, recorded.NaiveDueDate.After(recorded.DueDate))

	assert.Contains(t, f.loans.loans, loan.ID)

	require.Len(t, f.publisher.sent, 1)
	assert.Equal(t, events.TypeLoanCreated, f.publisher.sent[0].eventType)
	assert.Equal(t, loan.ID, f.publisher.sent[0].subject)
}

func TestCheckOutItemValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*CheckOut)
		parameter string
	}{
		{"missing item", func(c *CheckOut) { c.ItemID = uuid.Nil }, "itemId"},
		{"missing user", func(c *CheckOut) { c.UserID = uuid.Nil }, "userId"},
		{"missing policy", func(c *CheckOut) { c.LoanPolicyID = uuid.Nil }, "loanPolicyId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := checkOutRequest()
			tt.mutate(&req)

			_, err := f.svc.CheckOutItem(context.Background(), req)

			var ve *failure.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.parameter, ve.Parameter)
			assert.Empty(t, f.eventLog.streams)
		})
	}
}

func TestCheckOutItemDueDateFailure(t *testing.T) {
	f := newFixture(t)
	f.dueDates.err = failure.Validation(failure.ErrUnrecognizedProfile,
		"Loans policy cannot be applied - Unrecognised profile", "loanPolicyId", "x")

	_, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())

	assert.ErrorIs(t, err, failure.ErrUnrecognizedProfile)
	assert.True(t, failure.IsValidation(err))
	assert.Empty(t, f.eventLog.streams)
	assert.Empty(t, f.publisher.sent)
}

func TestCheckOutItemCompensatesReadModelFailure(t *testing.T) {
	f := newFixture(t)
	f.loans.err = errors.New("connection reset")

	_, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())
	require.ErrorContains(t, err, "connection reset")

	require.Len(t, f.eventLog.streams, 1)
	for _, history := range f.eventLog.streams {
		require.Len(t, history, 2)
		assert.Equal(t, EventLoanCreated, history[0].Type)
		assert.Equal(t, EventLoanCancelled, history[1].Type)
	}
	assert.Empty(t, f.publisher.sent)
}

func TestCheckOutItemSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	loan, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())
	require.NoError(t, err)
	assert.Contains(t, f.loans.loans, loan.ID)
}

func TestCheckInItem(t *testing.T) {
	f := newFixture(t)
	loan, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())
	require.NoError(t, err)
	returned := time.Date(2026, 11, 9, 12, 0, 0, 0, time.UTC)
	desk := uuid.New()

	closed, err := f.svc.CheckInItem(context.Background(), loan.ID, CheckIn{CheckInServicePoint: desk, ReturnDate: returned})
	require.NoError(t, err)

	assert.Equal(t, LoanStatusClosed, closed.Status)
	require.NotNil(t, closed.ReturnDate)
	assert.True(t, returned.Equal(*closed.ReturnDate))
	assert.Equal(t, 2, closed.Version)

	stored, err := f.svc.GetLoan(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanStatusClosed, stored.Status)
	assert.Equal(t, 2, stored.Version)

	history := f.eventLog.streams[loan.ID]
	require.Len(t, history, 2)
	assert.Equal(t, EventLoanClosed, history[1].Type)
	assert.Equal(t, 2, history[1].Version)
	assert.Equal(t, desk.String(), history[1].Metadata["checkinServicePointId"])

	var recorded LoanClosedEvent
	require.NoError(t, json.Unmarshal(history[1].Data, &recorded))
	assert.True(t, recorded.Overdue, "returned after the due date")

	require.Len(t, f.publisher.sent, 2)
	assert.Equal(t, events.TypeLoanClosed, f.publisher.sent[1].eventType)
	assert.Equal(t, loan.ID, f.publisher.sent[1].subject)
}

func TestCheckInItemDefaultsReturnDateToNow(t *testing.T) {
	f := newFixture(t)
	loan, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())
	require.NoError(t, err)

	closed, err := f.svc.CheckInItem(context.Background(), loan.ID, CheckIn{})
	require.NoError(t, err)

	require.NotNil(t, closed.ReturnDate)
	assert.Equal(t, f.svc.now(), *closed.ReturnDate)
	assert.False(t, f.publisher.sent[1].data.(LoanClosedEvent).Overdue)
}

func TestCheckInItemRejected(t *testing.T) {
	t.Run("unknown loan", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CheckInItem(context.Background(), uuid.New(), CheckIn{})
		assert.ErrorIs(t, err, ErrLoanNotFound)
	})

	t.Run("already closed", func(t *testing.T) {
		f := newFixture(t)
		loan, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())
		require.NoError(t, err)
		_, err = f.svc.CheckInItem(context.Background(), loan.ID, CheckIn{})
		require.NoError(t, err)

		_, err = f.svc.CheckInItem(context.Background(), loan.ID, CheckIn{})

		assert.ErrorIs(t, err, ErrLoanAlreadyClosed)
		assert.True(t, failure.IsValidation(err))
		assert.Len(t, f.eventLog.streams[loan.ID], 2)
	})

	t.Run("return before loan date", func(t *testing.T) {
		f := newFixture(t)
		loan, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())
		require.NoError(t, err)

		_, err = f.svc.CheckInItem(context.Background(), loan.ID, CheckIn{ReturnDate: loan.LoanDate.Add(-time.Hour)})

		var ve *failure.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "returnDate", ve.Parameter)
		assert.Len(t, f.eventLog.streams[loan.ID], 1)
	})

	t.Run("stale read model", func(t *testing.T) {
		f := newFixture(t)
		loan, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())
		require.NoError(t, err)
		f.eventLog.streams[loan.ID] = append(f.eventLog.streams[loan.ID], eventstore.Event{Type: EventLoanClosed, Version: 2})

		_, err = f.svc.CheckInItem(context.Background(), loan.ID, CheckIn{})

		assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
		assert.Len(t, f.publisher.sent, 1)
	})
}

func TestCheckInItemReadModelFailure(t *testing.T) {
	f := newFixture(t)
	loan, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())
	require.NoError(t, err)
	f.loans.closeErr = errors.New("connection reset")

	_, err = f.svc.CheckInItem(context.Background(), loan.ID, CheckIn{})

	require.ErrorContains(t, err, "connection reset")
	assert.Len(t, f.eventLog.streams[loan.ID], 2)
	assert.Len(t, f.publisher.sent, 1, "only the checkout was announced")
}

func TestCalculateDueDate(t *testing.T) {
	f := newFixture(t)

	due, err := f.svc.CalculateDueDate(context.Background(), time.Time{}, uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.True(t, due.Adjusted)
	assert.Equal(t, "MOVE_TO_END_OF_PREVIOUS_OPEN_DAY", due.ClosedLibraryStrategy)
	assert.Equal(t, f.svc.now(), f.dueDates.gotTime)

	_, err = f.svc.CalculateDueDate(context.Background(), time.Now(), uuid.Nil, uuid.New())
	assert.True(t, failure.IsValidation(err))
}

func TestPlaceInstanceRequestPublishesEvent(t *testing.T) {
	f := newFixture(t)
	f.requests.created = &requests.Request{
		ID:          uuid.New(),
		ItemID:      uuid.New(),
		RequesterID: uuid.New(),
		RequestType: requests.RequestTypePage,
	}
	instanceID := uuid.New()

	created, err := f.svc.PlaceInstanceRequest(context.Background(), requests.InstanceRequest{InstanceID: instanceID})
	require.NoError(t, err)
	assert.Equal(t, f.requests.created, created)

	require.Len(t, f.publisher.sent, 1)
	assert.Equal(t, events.TypeRequestPlaced, f.publisher.sent[0].eventType)
	placed := f.publisher.sent[0].data.(RequestPlacedEvent)
	assert.Equal(t, instanceID, placed.InstanceID)
	assert.Equal(t, requests.RequestTypePage, placed.RequestType)
}

func TestPlaceInstanceRequestFailure(t *testing.T) {
	f := newFixture(t)
	f.requests.err = &failure.PlacementExhaustedError{InstanceID: uuid.NewString(), Attempts: 3}

	_, err := f.svc.PlaceInstanceRequest(context.Background(), requests.InstanceRequest{})
	assert.ErrorIs(t, err, failure.ErrPlacementExhausted)
	assert.Empty(t, f.publisher.sent)
}

func TestLoanHistory(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.LoanHistory(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)

	loan, err := f.svc.CheckOutItem(context.Background(), checkOutRequest())
	require.NoError(t, err)

	history, err := f.svc.LoanHistory(context.Background(), loan.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Version)
}

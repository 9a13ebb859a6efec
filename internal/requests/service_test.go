package requests

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"libracirc/internal/failure"
)

type fakeItems struct {
	items []Item
	err   error
	calls int
}

func (f *fakeItems) ItemsByInstance(context.Context, uuid.UUID) ([]Item, error) {
	f.calls++
	return f.items, f.err
}

// fakeServicePoints treats unknown service points as pickup locations.
type fakeServicePoints struct {
	points map[uuid.UUID]*ServicePoint
	err    error
	calls  int
}

func (f *fakeServicePoints) GetServicePoint(_ context.Context, id uuid.UUID) (*ServicePoint, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if sp, ok := f.points[id]; ok {
		return sp, nil
	}
	return &ServicePoint{ID: id, PickupLocation: true}, nil
}

func newTestService(t *testing.T, items ItemSource, queues QueueSource, sink RequestSink) *service {
	t.Helper()
	return newTestServiceWithServicePoints(t, items, &fakeServicePoints{}, queues, sink)
}

func newTestServiceWithServicePoints(t *testing.T, items ItemSource, sps ServicePointSource, queues QueueSource, sink RequestSink) *service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewService(items, sps, NewRanker(queues, logger), NewPlacer(sink, logger), logger).(*service)
}

func TestCandidatesAvailableThenUnavailable(t *testing.T) {
	ir := instanceRequest()
	pickup := ir.PickupServicePointID

	a := item(ItemStatusAvailable, pickup)
	c := item(ItemStatusAvailable)
	x := item("Checked out", pickup)
	b := item(ItemStatusAvailable, pickup)
	y := item("Awaiting pickup")
	queues := &fakeQueues{queues: map[uuid.UUID]*RequestQueue{
		x.ID: queueOf(x.ID, at(1), at(2), at(3)),
		y.ID: queueOf(y.ID, at(4)),
	}}
	s := newTestService(t, &fakeItems{}, queues, &fakeSink{})

	candidates, err := s.Candidates(context.Background(), []Item{c, a, x, b, y}, pickup)
	require.NoError(t, err)

	assert.Equal(t, ids([]Item{a, b, c, y, x}), ids(candidates))
}

func TestPlaceRequestForInstance(t *testing.T) {
	ir := instanceRequest()
	served := item(ItemStatusAvailable, ir.PickupServicePointID)
	elsewhere := item(ItemStatusAvailable)
	sink := &fakeSink{accept: func(r ItemRequest) bool { return r.RequestType == RequestTypePage }}
	s := newTestService(t, &fakeItems{items: []Item{elsewhere, served}}, &fakeQueues{}, sink)

	created, err := s.PlaceRequestForInstance(context.Background(), ir)
	require.NoError(t, err)

	assert.Equal(t, served.ID, created.ItemID)
	assert.Equal(t, RequestTypePage, created.RequestType)
	assert.Equal(t, DefaultFulfilmentPreference, created.FulfilmentPreference)
	assert.Len(t, sink.received, 3)
}

func TestPlaceRequestForInstanceNoItems(t *testing.T) {
	queues := &fakeQueues{}
	sink := &fakeSink{}
	s := newTestService(t, &fakeItems{}, queues, sink)

	_, err := s.PlaceRequestForInstance(context.Background(), instanceRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrEmptyCandidates))

	var ve *failure.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "items", ve.Parameter)
	assert.Zero(t, queues.calls)
	assert.Empty(t, sink.received)
}

func TestPlaceRequestForInstanceInvalidInput(t *testing.T) {
	items := &fakeItems{}
	s := newTestService(t, items, &fakeQueues{}, &fakeSink{})

	ir := instanceRequest()
	ir.RequesterID = uuid.Nil
	_, err := s.PlaceRequestForInstance(context.Background(), ir)

	var ve *failure.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "requesterId", ve.Parameter)
	assert.Zero(t, items.calls)
}

func TestPlaceRequestForInstanceItemsUnavailable(t *testing.T) {
	s := newTestService(t, &fakeItems{err: errors.New("connection reset")}, &fakeQueues{}, &fakeSink{})

	_, err := s.PlaceRequestForInstance(context.Background(), instanceRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrItemsUnavailable))
	assert.False(t, failure.IsValidation(err))
}

func TestPlaceRequestForInstanceNotPickupLocation(t *testing.T) {
	ir := instanceRequest()
	sps := &fakeServicePoints{points: map[uuid.UUID]*ServicePoint{
		ir.PickupServicePointID: {ID: ir.PickupServicePointID, PickupLocation: false},
	}}
	sink := &fakeSink{accept: func(ItemRequest) bool { return true }}
	s := newTestServiceWithServicePoints(t, &fakeItems{items: []Item{item(ItemStatusAvailable), item("Checked out")}},
		sps, &fakeQueues{}, sink)

	_, err := s.PlaceRequestForInstance(context.Background(), ir)

	var ve *failure.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "Service point is not a pickup location", ve.Message)
	assert.Equal(t, "pickupServicePointId", ve.Parameter)
	assert.Equal(t, ir.PickupServicePointID.String(), ve.Value)
	assert.False(t, errors.Is(err, failure.ErrPlacementExhausted))
	assert.Equal(t, 1, sps.calls)
	assert.Empty(t, sink.received)
}

func TestPlaceRequestForInstanceFetchesServicePointOnce(t *testing.T) {
	ir := instanceRequest()
	sps := &fakeServicePoints{}
	sink := &fakeSink{accept: func(r ItemRequest) bool { return r.RequestType == RequestTypePage }}
	s := newTestServiceWithServicePoints(t,
		&fakeItems{items: []Item{item(ItemStatusAvailable), item(ItemStatusAvailable)}}, sps, &fakeQueues{}, sink)

	created, err := s.PlaceRequestForInstance(context.Background(), ir)
	require.NoError(t, err)

	assert.Equal(t, RequestTypePage, created.RequestType)
	assert.Len(t, sink.received, 3)
	assert.Equal(t, 1, sps.calls)
}

func TestPlaceRequestForInstanceServicePointUnavailable(t *testing.T) {
	sps := &fakeServicePoints{err: errors.New("connection reset")}
	sink := &fakeSink{}
	s := newTestServiceWithServicePoints(t, &fakeItems{items: []Item{item(ItemStatusAvailable)}}, sps, &fakeQueues{}, sink)

	_, err := s.PlaceRequestForInstance(context.Background(), instanceRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrServicePointUnavailable))
	assert.False(t, failure.IsValidation(err))
	assert.Empty(t, sink.received)
}

func TestPlaceRequestForInstanceExhausted(t *testing.T) {
	sink := &refusingSink{err: failure.Validation(failure.ErrInvalidInput, "Item is not requestable", "itemId", "x")}
	s := newTestService(t, &fakeItems{items: []Item{item(ItemStatusAvailable), item(ItemStatusAvailable)}}, &fakeQueues{}, sink)

	_, err := s.PlaceRequestForInstance(context.Background(), instanceRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrPlacementExhausted))
	assert.False(t, failure.IsValidation(err))
	assert.Equal(t, 6, sink.calls)
}

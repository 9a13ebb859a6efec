// internal/requests/placement.go
package requests

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libracirc/internal/failure"
	"libracirc/internal/metrics"
)

// RequestFactory builds the payload for one candidate item and request type.
type RequestFactory func(item Item, requestType RequestType) ItemRequest

// FromInstanceRequest returns a factory copying the title-level request onto
// each item.
func FromInstanceRequest(ir InstanceRequest) RequestFactory {
	return func(item Item, requestType RequestType) ItemRequest {
		return ItemRequest{
			ItemID:                item.ID,
			RequestDate:           ir.RequestDate,
			RequesterID:           ir.RequesterID,
			ProxyUserID:           ir.ProxyUserID,
			PickupServicePointID:  ir.PickupServicePointID,
			FulfilmentPreference:  DefaultFulfilmentPreference,
			RequestExpirationDate: ir.RequestExpirationDate,
			RequestType:           requestType,
		}
	}
}

// BuildItemRequests expands candidates into one payload per item and
// non-None request type, in candidate order.
func BuildItemRequests(candidates []Item, factory RequestFactory) ([]ItemRequest, error) {
	if len(candidates) == 0 {
		return nil, failure.Validation(failure.ErrEmptyCandidates,
			"Cannot create request objects when items list is null or empty", "items", "null")
	}

	payloads := make([]ItemRequest, 0, len(candidates)*(len(RequestTypes)-1))
	for _, item := range candidates {
		for _, rt := range RequestTypes {
			if rt == RequestTypeNone {
				continue
			}
			payloads = append(payloads, factory(item, rt))
		}
	}
	return payloads, nil
}

// Placer tries request payloads one at a time until the request service
// accepts one.
type Placer struct {
	sink     RequestSink
	logger   *zap.Logger
	tracer   trace.Tracer
	attempts metric.Int64Counter
}

func NewPlacer(sink RequestSink, logger *zap.Logger) *Placer {
	attempts, err := otel.Meter("libracirc/requests").Int64Counter("requests.placement.attempts",
		metric.WithDescription("Request creation attempts made while placing title-level requests"))
	if err != nil {
		logger.Warn("placement attempt counter unavailable", zap.Error(err))
		attempts = noop.Int64Counter{}
	}

	return &Placer{
		sink:     sink,
		logger:   logger,
		tracer:   otel.Tracer("libracirc/requests"),
		attempts: attempts,
	}
}

// PlaceFirstSucceeding sends payloads for the candidates in order and returns
// the first request created. Attempts never overlap.
func (p *Placer) PlaceFirstSucceeding(ctx context.Context, instanceID uuid.UUID, candidates []Item, factory RequestFactory) (*Request, error) {
	payloads, err := BuildItemRequests(candidates, factory)
	if err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "requests.place_first_succeeding",
		trace.WithAttributes(
			attribute.String("instance.id", instanceID.String()),
			attribute.Int("payloads.count", len(payloads)),
		))
	defer span.End()

	var last error
	for i, payload := range payloads {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("placing request for instance %s: %w", instanceID, err)
		}

		created, err := p.attempt(ctx, payload)
		if err == nil {
			metrics.PlacementAttempts.Observe(float64(i + 1))
			span.SetAttributes(
				attribute.Int("placement.attempts", i+1),
				attribute.String("request.id", created.ID.String()),
			)
			return created, nil
		}

		last = err
		p.logger.Debug("failed to create request",
			zap.String("item_id", payload.ItemID.String()),
			zap.String("request_type", string(payload.RequestType)),
			zap.Error(err),
		)
	}

	metrics.PlacementAttempts.Observe(float64(len(payloads)))
	exhausted := &failure.PlacementExhaustedError{
		InstanceID: instanceID.String(),
		Attempts:   len(payloads),
		Last:       last,
	}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, exhausted.Error())
	return nil, exhausted
}

func (p *Placer) attempt(ctx context.Context, payload ItemRequest) (*Request, error) {
	p.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("request_type", string(payload.RequestType))))
	return p.sink.CreateRequest(ctx, payload)
}

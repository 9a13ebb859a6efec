// internal/requests/service.go
package requests

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"libracirc/internal/failure"
	"libracirc/internal/metrics"
)

// Service places title-level requests.
type Service interface {
	PlaceRequestForInstance(ctx context.Context, req InstanceRequest) (*Request, error)
}

type service struct {
	items         ItemSource
	servicePoints ServicePointSource
	ranker        *Ranker
	placer        *Placer
	logger        *zap.Logger
}

// NewService creates a new request placement service.
func NewService(items ItemSource, servicePoints ServicePointSource, ranker *Ranker, placer *Placer, logger *zap.Logger) Service {
	return &service{
		items:         items,
		servicePoints: servicePoints,
		ranker:        ranker,
		placer:        placer,
		logger:        logger,
	}
}

// PlaceRequestForInstance ranks the title's items and places a request on the
// first one that accepts it.
func (s *service) PlaceRequestForInstance(ctx context.Context, req InstanceRequest) (*Request, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	items, err := s.items.ItemsByInstance(ctx, req.InstanceID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("place_instance_request").Inc()
		var ce *failure.CollaboratorError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, failure.Collaborator("inventory", failure.ErrItemsUnavailable, err)
	}
	if len(items) == 0 {
		return nil, failure.Validation(failure.ErrEmptyCandidates,
			"Items list is null or empty", "items", "null")
	}
	if err := s.checkPickupLocation(ctx, req.PickupServicePointID); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("place_instance_request").Inc()
		return nil, err
	}

	candidates, err := s.Candidates(ctx, items, req.PickupServicePointID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("place_instance_request").Inc()
		return nil, err
	}

	created, err := s.placer.PlaceFirstSucceeding(ctx, req.InstanceID, candidates, FromInstanceRequest(req))
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("place_instance_request").Inc()
		fields := []zap.Field{
			zap.String("instance_id", req.InstanceID.String()),
			zap.Int("candidates", len(candidates)),
			zap.Error(err),
		}
		var pe *failure.PlacementExhaustedError
		if errors.As(err, &pe) && pe.Last != nil {
			fields = append(fields, zap.NamedError("last_attempt", pe.Last))
		}
		s.logger.Info("could not place request for instance", fields...)
		return nil, err
	}

	metrics.RequestsPlacedTotal.WithLabelValues(string(created.RequestType)).Inc()
	s.logger.Info("request placed for instance",
		zap.String("instance_id", req.InstanceID.String()),
		zap.String("item_id", created.ItemID.String()),
		zap.String("request_type", string(created.RequestType)),
	)
	return created, nil
}

// Candidates returns available items ranked by pickup point followed by
// unavailable items ranked by queue.
func (s *service) Candidates(ctx context.Context, items []Item, pickupServicePointID uuid.UUID) ([]Item, error) {
	available, unavailable := Partition(items)

	rankedUnavailable, err := s.ranker.RankUnavailable(ctx, unavailable)
	if err != nil {
		return nil, err
	}
	return append(RankAvailable(available, pickupServicePointID), rankedUnavailable...), nil
}

// checkPickupLocation fetches the pickup service point once per placement.
func (s *service) checkPickupLocation(ctx context.Context, id uuid.UUID) error {
	sp, err := s.servicePoints.GetServicePoint(ctx, id)
	if err != nil {
		var ce *failure.CollaboratorError
		if errors.As(err, &ce) {
			return err
		}
		return failure.Collaborator("inventory", failure.ErrServicePointUnavailable, err)
	}
	if !sp.PickupLocation {
		return failure.Validation(failure.ErrInvalidInput,
			"Service point is not a pickup location", "pickupServicePointId", id.String())
	}
	return nil
}

func validate(req InstanceRequest) error {
	switch {
	case req.InstanceID == uuid.Nil:
		return failure.Validation(failure.ErrInvalidInput, "Instance ID is required", "instanceId", "")
	case req.RequesterID == uuid.Nil:
		return failure.Validation(failure.ErrInvalidInput, "Requester ID is required", "requesterId", "")
	case req.PickupServicePointID == uuid.Nil:
		return failure.Validation(failure.ErrInvalidInput, "Pickup service point ID is required", "pickupServicePointId", "")
	case req.RequestDate.IsZero():
		return failure.Validation(failure.ErrInvalidInput, "Request date is required", "requestDate", "")
	case req.RequestExpirationDate != nil && req.RequestExpirationDate.Before(req.RequestDate):
		return failure.Validation(failure.ErrInvalidInput, "Request expiration date must not be before the request date",
			"requestExpirationDate", req.RequestExpirationDate.Format("2006-01-02T15:04:05.000Z07:00"))
	}
	return nil
}

// internal/requests/domain.go
package requests

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	ItemStatusAvailable = "Available"

	// DefaultFulfilmentPreference is used for every title-level request.
	DefaultFulfilmentPreference = "Hold Shelf"
)

// Request statuses that keep a request in its item's queue.
const (
	StatusOpenNotYetFilled     = "Open - Not yet filled"
	StatusOpenAwaitingPickup   = "Open - Awaiting pickup"
	StatusOpenInTransit        = "Open - In transit"
	StatusOpenAwaitingDelivery = "Open - Awaiting delivery"
)

// RequestType is the kind of request placed against an item.
type RequestType string

const (
	RequestTypeNone   RequestType = ""
	RequestTypeHold   RequestType = "Hold"
	RequestTypeRecall RequestType = "Recall"
	RequestTypePage   RequestType = "Page"
)

// RequestTypes lists every request type in the order placement tries them.
var RequestTypes = []RequestType{RequestTypeNone, RequestTypeHold, RequestTypeRecall, RequestTypePage}

// Location is an item's effective shelving location.
type Location struct {
	ID                    uuid.UUID   `json:"id"`
	Name                  string      `json:"name"`
	PrimaryServicePointID uuid.UUID   `json:"primaryServicePoint"`
	ServicePointIDs       []uuid.UUID `json:"servicePointIds"`
}

// Item is a snapshot of one copy of a title.
type Item struct {
	ID               uuid.UUID `json:"id"`
	HoldingsRecordID uuid.UUID `json:"holdingsRecordId"`
	Barcode          string    `json:"barcode,omitempty"`
	Status           string    `json:"status"`
	Location         *Location `json:"location,omitempty"`
}

func (i Item) Available() bool {
	return i.Status == ItemStatusAvailable
}

// HomeLocationIsServedBy reports whether the item's location lists the
// service point among those serving it.
func (i Item) HomeLocationIsServedBy(servicePointID uuid.UUID) bool {
	if i.Location == nil {
		return false
	}
	return slices.Contains(i.Location.ServicePointIDs, servicePointID)
}

// Request is a request record as stored by the request service.
type Request struct {
	ID                    uuid.UUID   `json:"id"`
	ItemID                uuid.UUID   `json:"itemId"`
	RequesterID           uuid.UUID   `json:"requesterId"`
	RequestType           RequestType `json:"requestType"`
	RequestDate           time.Time   `json:"requestDate"`
	RequestExpirationDate *time.Time  `json:"requestExpirationDate,omitempty"`
	PickupServicePointID  uuid.UUID   `json:"pickupServicePointId"`
	FulfilmentPreference  string      `json:"fulfilmentPreference"`
	Status                string      `json:"status"`
	Position              int         `json:"position"`
}

// RequestQueue is the ordered list of open requests for one item.
type RequestQueue struct {
	ItemID   uuid.UUID
	Requests []Request
}

func (q *RequestQueue) Size() int {
	return len(q.Requests)
}

// LowestPriorityFulfillableRequest returns the last request in the queue that
// has not been filled yet, or nil when there is none.
func (q *RequestQueue) LowestPriorityFulfillableRequest() *Request {
	for i := len(q.Requests) - 1; i >= 0; i-- {
		if q.Requests[i].Status == StatusOpenNotYetFilled {
			return &q.Requests[i]
		}
	}
	return nil
}

// InstanceRequest asks for any copy of a title.
type InstanceRequest struct {
	InstanceID            uuid.UUID  `json:"instanceId"`
	RequesterID           uuid.UUID  `json:"requesterId"`
	PickupServicePointID  uuid.UUID  `json:"pickupServicePointId"`
	RequestDate           time.Time  `json:"requestDate"`
	RequestExpirationDate *time.Time `json:"requestExpirationDate,omitempty"`
	ProxyUserID           *uuid.UUID `json:"proxyUserId,omitempty"`
}

// ItemRequest is the payload sent to the request service for one candidate.
type ItemRequest struct {
	ItemID                uuid.UUID   `json:"itemId"`
	RequestDate           time.Time   `json:"requestDate"`
	RequesterID           uuid.UUID   `json:"requesterId"`
	ProxyUserID           *uuid.UUID  `json:"proxyUserId,omitempty"`
	PickupServicePointID  uuid.UUID   `json:"pickupServicePointId"`
	FulfilmentPreference  string      `json:"fulfilmentPreference"`
	RequestExpirationDate *time.Time  `json:"requestExpirationDate,omitempty"`
	RequestType           RequestType `json:"requestType"`
}

// ServicePoint is the subset of a service point needed for pickup checks.
type ServicePoint struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Code           string    `json:"code"`
	PickupLocation bool      `json:"pickupLocation"`
}

type ItemSource interface {
	ItemsByInstance(ctx context.Context, instanceID uuid.UUID) ([]Item, error)
}

type QueueSource interface {
	RequestQueue(ctx context.Context, itemID uuid.UUID) (*RequestQueue, error)
}

type RequestSink interface {
	CreateRequest(ctx context.Context, r ItemRequest) (*Request, error)
}

type ServicePointSource interface {
	GetServicePoint(ctx context.Context, id uuid.UUID) (*ServicePoint, error)
}

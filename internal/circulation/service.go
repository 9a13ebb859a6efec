// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/eventstore"
	"libracirc/internal/requests"
)

// Service defines the interface for the circulation service.
type Service interface {
	CalculateDueDate(ctx context.Context, checkoutTime time.Time, loanPolicyID, servicePointID uuid.UUID) (*DueDate, error)
	CheckOutItem(ctx context.Context, req CheckOut) (*Loan, error)
	GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	CheckInItem(ctx context.Context, loanID uuid.UUID, req CheckIn) (*Loan, error)
	PlaceInstanceRequest(ctx context.Context, req requests.InstanceRequest) (*requests.Request, error)
	LoanHistory(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error)
}

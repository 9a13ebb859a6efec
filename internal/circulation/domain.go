// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"

	"libracirc/internal/requests"
)

const (
	LoanStatusOpen   = "Open"
	LoanStatusClosed = "Closed"

	loanStreamType = "loan"
)

// Event types recorded in the loan event log.
const (
	EventLoanCreated   = "LoanCreated"
	EventLoanCancelled = "LoanCancelled"
	EventLoanClosed    = "LoanClosed"
)

// Loan represents an item checked out to a patron.
type Loan struct {
	ID                    uuid.UUID  `json:"id"`
	ItemID                uuid.UUID  `json:"itemId"`
	UserID                uuid.UUID  `json:"userId"`
	LoanPolicyID          uuid.UUID  `json:"loanPolicyId"`
	CheckoutServicePoint  uuid.UUID  `json:"checkoutServicePointId"`
	LoanDate              time.Time  `json:"loanDate"`
	DueDate               time.Time  `json:"dueDate"`
	DueDateStrategy       string     `json:"dueDateStrategy"`
	ClosedLibraryStrategy string     `json:"closedLibraryStrategy"`
	ReturnDate            *time.Time `json:"returnDate,omitempty"`
	Status                string     `json:"status"`
	Version               int        `json:"version"`
}

// CheckOut is a request to lend an item.
type CheckOut struct {
	ItemID               uuid.UUID `json:"itemId"`
	UserID               uuid.UUID `json:"userId"`
	LoanPolicyID         uuid.UUID `json:"loanPolicyId"`
	CheckoutServicePoint uuid.UUID `json:"checkoutServicePointId"`
	LoanDate             time.Time `json:"loanDate"`
}

// CheckIn returns a loaned item. A zero ReturnDate means now.
type CheckIn struct {
	CheckInServicePoint uuid.UUID `json:"checkinServicePointId"`
	ReturnDate          time.Time `json:"returnDate"`
}

// DueDate is the outcome of a due date calculation.
type DueDate struct {
	DueDate               time.Time `json:"dueDate"`
	NaiveDueDate          time.Time `json:"naiveDueDate"`
	Strategy              string    `json:"strategy"`
	ClosedLibraryStrategy string    `json:"closedLibraryStrategy"`
	Adjusted              bool      `json:"adjusted"`
}

// LoanCreatedEvent is recorded and published when a loan is created.
type LoanCreatedEvent struct {
	LoanID                uuid.UUID `json:"loanId"`
	ItemID                uuid.UUID `json:"itemId"`
	UserID                uuid.UUID `json:"userId"`
	LoanPolicyID          uuid.UUID `json:"loanPolicyId"`
	LoanDate              time.Time `json:"loanDate"`
	DueDate               time.Time `json:"dueDate"`
	NaiveDueDate          time.Time `json:"naiveDueDate"`
	DueDateStrategy       string    `json:"dueDateStrategy"`
	ClosedLibraryStrategy string    `json:"closedLibraryStrategy"`
}

// LoanCancelledEvent compensates a LoanCreated whose read model could not be
// written.
type LoanCancelledEvent struct {
	LoanID uuid.UUID `json:"loanId"`
	Reason string    `json:"reason"`
}

// LoanClosedEvent is recorded and published when a loaned item is checked in.
type LoanClosedEvent struct {
	LoanID     uuid.UUID `json:"loanId"`
	ItemID     uuid.UUID `json:"itemId"`
	UserID     uuid.UUID `json:"userId"`
	ReturnDate time.Time `json:"returnDate"`
	Overdue    bool      `json:"overdue"`
}

// RequestPlacedEvent is published when an instance-level request lands on an
// item.
type RequestPlacedEvent struct {
	RequestID   uuid.UUID            `json:"requestId"`
	InstanceID  uuid.UUID            `json:"instanceId"`
	ItemID      uuid.UUID            `json:"itemId"`
	RequesterID uuid.UUID            `json:"requesterId"`
	RequestType requests.RequestType `json:"requestType"`
}

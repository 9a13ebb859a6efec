// internal/circulation/store.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const loansSchema = `
CREATE TABLE IF NOT EXISTS loans (
	id UUID PRIMARY KEY,
	item_id UUID NOT NULL,
	user_id UUID NOT NULL,
	loan_policy_id UUID NOT NULL,
	checkout_service_point_id UUID,
	loan_date TIMESTAMPTZ NOT NULL,
	due_date TIMESTAMPTZ NOT NULL,
	due_date_strategy TEXT NOT NULL,
	closed_library_strategy TEXT NOT NULL,
	return_date TIMESTAMPTZ,
	status TEXT NOT NULL,
	version INT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// LoanStore is the loan read model.
type LoanStore interface {
	InsertLoan(ctx context.Context, loan *Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	CloseLoan(ctx context.Context, id uuid.UUID, returnDate time.Time, version int) error
}

type PostgresLoanStore struct {
	db *sql.DB
}

func NewPostgresLoanStore(db *sql.DB) *PostgresLoanStore {
	return &PostgresLoanStore{db: db}
}

func (s *PostgresLoanStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, loansSchema); err != nil {
		return fmt.Errorf("create loans: %w", err)
	}
	return nil
}

func (s *PostgresLoanStore) InsertLoan(ctx context.Context, loan *Loan) error {
	query := `
		INSERT INTO loans (id, item_id, user_id, loan_policy_id, checkout_service_point_id,
			loan_date, due_date, due_date_strategy, closed_library_strategy, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		loan.ID, loan.ItemID, loan.UserID, loan.LoanPolicyID, nullUUID(loan.CheckoutServicePoint),
		loan.LoanDate, loan.DueDate, loan.DueDateStrategy, loan.ClosedLibraryStrategy, loan.Status, loan.Version)
	if err != nil {
		return fmt.Errorf("insert loan %s: %w", loan.ID, err)
	}
	return nil
}

// GetLoan reads a loan back from the read model.
func (s *PostgresLoanStore) GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error) {
	query := `
		SELECT id, item_id, user_id, loan_policy_id, checkout_service_point_id,
			loan_date, due_date, due_date_strategy, closed_library_strategy, return_date, status, version
		FROM loans
		WHERE id = $1
	`
	var (
		loan     Loan
		sp       uuid.NullUUID
		returned sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&loan.ID, &loan.ItemID, &loan.UserID, &loan.LoanPolicyID, &sp,
		&loan.LoanDate, &loan.DueDate, &loan.DueDateStrategy, &loan.ClosedLibraryStrategy, &returned, &loan.Status, &loan.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan %s: %w", id, err)
	}
	loan.CheckoutServicePoint = sp.UUID
	if returned.Valid {
		loan.ReturnDate = &returned.Time
	}
	return &loan, nil
}

// CloseLoan marks an open loan returned. It fails with ErrLoanNotFound when
// no open loan with that ID exists.
func (s *PostgresLoanStore) CloseLoan(ctx context.Context, id uuid.UUID, returnDate time.Time, version int) error {
	query := `
		UPDATE loans
		SET status = $1, return_date = $2, version = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`
	res, err := s.db.ExecContext(ctx, query, LoanStatusClosed, returnDate, version, id, LoanStatusOpen)
	if err != nil {
		return fmt.Errorf("close loan %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close loan %s: %w", id, err)
	}
	if n == 0 {
		return ErrLoanNotFound
	}
	return nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

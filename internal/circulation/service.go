// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/reservation"
)

// Service is the lending coordinator. Every denial is returned as an
// *outcome.Error; any other error is an infrastructure failure.
type Service interface {
	Borrow(ctx context.Context, user, item string) (ledger.Loan, error)
	Return(ctx context.Context, user, item string) (ledger.Loan, error)
	Revoke(ctx context.Context, user, item string) (ledger.Loan, error)
	Reserve(ctx context.Context, user, item string) (Reservation, error)
	CancelReservation(ctx context.Context, user, item string) (reservation.Hold, error)

	PlaceUnderReview(ctx context.Context, item string) (catalog.Item, error)
	ReleaseReview(ctx context.Context, item string) (catalog.Item, error)
	CompleteLoan(ctx context.Context, loanID uuid.UUID) (ledger.Loan, error)

	SweepExpiredHolds(ctx context.Context) int
	MarkOverdue(ctx context.Context) []ledger.Loan
	SendDueReminders(ctx context.Context) int

	Item(ctx context.Context, item string) (ItemView, error)
	Loans(ctx context.Context, user string) ([]ledger.Loan, error)
	Audit(ctx context.Context, item string) error
	AuditAll(ctx context.Context) error
}

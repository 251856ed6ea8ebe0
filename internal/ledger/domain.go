// internal/ledger/domain.go
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the state of a loan record.
type Status int

const (
	Active Status = iota
	Overdue
	Returned
	Revoked
	Completed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Overdue:
		return "OVERDUE"
	case Returned:
		return "RETURNED"
	case Revoked:
		return "REVOKED"
	case Completed:
		return "COMPLETED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outstanding reports whether the item is still out on this loan. OVERDUE is
// only a persisted reporting flag on an otherwise active loan.
func (s Status) Outstanding() bool {
	return s == Active || s == Overdue
}

// Loan records an item checked out by a user. Loans are never deleted.
type Loan struct {
	ID         uuid.UUID `json:"id"`
	User       string    `json:"user"`
	Item       string    `json:"item"`
	BorrowedAt time.Time `json:"borrowed_at"`
	DueAt      time.Time `json:"due_at"`
	ReturnedAt time.Time `json:"returned_at,omitempty"`
	RemindedAt time.Time `json:"reminded_at,omitempty"`
	Status     Status    `json:"status"`
}

// IsOverdue derives overdue-ness at now; it does not depend on the persisted
// OVERDUE status.
func (l Loan) IsOverdue(now time.Time) bool {
	return l.Status.Outstanding() && now.After(l.DueAt)
}

// DueSoon reports whether an unreminded active loan falls due within window
// of now.
func (l Loan) DueSoon(now time.Time, window time.Duration) bool {
	return l.Status == Active && l.RemindedAt.IsZero() &&
		!now.After(l.DueAt) && l.DueAt.Sub(now) <= window
}

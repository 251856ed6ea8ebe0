// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/reservation"
)

// Reservation is the result of a successful Reserve.
type Reservation struct {
	Hold     reservation.Hold `json:"hold"`
	Position int              `json:"position"`
}

// ItemView is an item together with its current loan and hold queue.
type ItemView struct {
	Item  catalog.Item       `json:"item"`
	Loan  *ledger.Loan       `json:"loan,omitempty"`
	Queue []reservation.Hold `json:"queue"`
}

// Journal event types, one stream per item.
const (
	EventItemBorrowed   = "ItemBorrowed"
	EventItemReturned   = "ItemReturned"
	EventLoanRevoked    = "LoanRevoked"
	EventLoanCompleted  = "LoanCompleted"
	EventHoldRequested  = "HoldRequested"
	EventHoldActivated  = "HoldActivated"
	EventHoldExpired    = "HoldExpired"
	EventHoldCancelled  = "HoldCancelled"
	EventHoldFulfilled  = "HoldFulfilled"
	EventHoldDemoted    = "HoldDemoted"
	EventReviewStarted  = "ReviewStarted"
	EventReviewReleased = "ReviewReleased"
)

const aggregateType = "item"

// LoanRecorded is the payload of loan events.
type LoanRecorded struct {
	LoanID uuid.UUID `json:"loan_id"`
	User   string    `json:"user"`
	Item   string    `json:"item"`
	Status string    `json:"status"`
	DueAt  time.Time `json:"due_at"`
	At     time.Time `json:"at"`
}

func loanRecorded(l ledger.Loan, at time.Time) LoanRecorded {
	return LoanRecorded{
		LoanID: l.ID,
		User:   l.User,
		Item:   l.Item,
		Status: l.Status.String(),
		DueAt:  l.DueAt,
		At:     at,
	}
}

// HoldRecorded is the payload of hold events.
type HoldRecorded struct {
	HoldID    uuid.UUID `json:"hold_id"`
	User      string    `json:"user"`
	Item      string    `json:"item"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	At        time.Time `json:"at"`
}

func holdRecorded(h reservation.Hold, at time.Time) HoldRecorded {
	return HoldRecorded{
		HoldID:    h.ID,
		User:      h.User,
		Item:      h.Item,
		Status:    h.Status.String(),
		ExpiresAt: h.ExpiresAt,
		At:        at,
	}
}

// ReviewRecorded is the payload of quarantine events.
type ReviewRecorded struct {
	Item   string    `json:"item"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// internal/reservation/domain.go
package reservation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a hold.
type Status int

const (
	Pending Status = iota
	Active
	Expired
	Cancelled
	// Fulfilled marks a hold consumed by its owner's borrow.
	Fulfilled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Active:
		return "ACTIVE"
	case Expired:
		return "EXPIRED"
	case Cancelled:
		return "CANCELLED"
	case Fulfilled:
		return "FULFILLED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the hold has left the queue for good.
func (s Status) Terminal() bool {
	return s == Expired || s == Cancelled || s == Fulfilled
}

// Hold is a user's place in an item's reservation queue. ExpiresAt is set
// only while the hold is ACTIVE.
type Hold struct {
	ID          uuid.UUID `json:"id"`
	User        string    `json:"user"`
	Item        string    `json:"item"`
	RequestedAt time.Time `json:"requested_at"`
	HoldDays    int       `json:"hold_days"`
	Status      Status    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	ClosedAt    time.Time `json:"closed_at,omitempty"`
}

// Expired reports whether an ACTIVE hold's pickup window has passed at now.
func (h Hold) Expired(now time.Time) bool {
	return h.Status == Active && now.After(h.ExpiresAt)
}

// internal/circulation/config.go
package circulation

import (
	"time"

	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/reservation"
)

// Config holds the lending rules that are not part of the role table.
type Config struct {
	// PriorityRole may borrow an item reserved for someone else when
	// PriorityOverride is set. The displaced hold goes back to PENDING.
	PriorityRole     membership.Role
	PriorityOverride bool

	HoldDays     int
	RevokeWindow time.Duration

	// QueueBehindActiveHold lets users queue on a RESERVED item. When false
	// every reserve on a RESERVED item is rejected.
	QueueBehindActiveHold bool

	ReminderWindow time.Duration
	RemindOnReturn bool
}

func DefaultConfig() Config {
	return Config{
		PriorityRole:          membership.Faculty,
		PriorityOverride:      true,
		HoldDays:              reservation.DefaultHoldDays,
		RevokeWindow:          ledger.DefaultRevokeWindow,
		QueueBehindActiveHold: true,
		ReminderWindow:        24 * time.Hour,
		RemindOnReturn:        true,
	}
}

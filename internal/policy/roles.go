// internal/policy/roles.go
package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jules-labs/lending/internal/membership"
)

// Limits are the role-derived lending limits.
type Limits struct {
	BorrowLimit      int `json:"borrow_limit" yaml:"borrow_limit" validate:"gte=0"`
	LoanDurationDays int `json:"loan_duration_days" yaml:"loan_duration_days" validate:"gte=0"`
}

// Validate rejects negative values and a borrow limit without a loan
// period.
func (l Limits) Validate() error {
	if l.BorrowLimit < 0 || l.LoanDurationDays < 0 {
		return errors.New("negative values")
	}
	if l.BorrowLimit > 0 && l.LoanDurationDays < 1 {
		return errors.New("a borrow limit needs a loan duration of at least one day")
	}
	return nil
}

// DefaultLimits are the limits used when no configuration is given.
var DefaultLimits = map[membership.Role]Limits{
	membership.Student:    {BorrowLimit: 3, LoanDurationDays: 14},
	membership.Researcher: {BorrowLimit: 5, LoanDurationDays: 21},
	membership.Faculty:    {BorrowLimit: 7, LoanDurationDays: 30},
	membership.Guest:      {BorrowLimit: 0, LoanDurationDays: 0},
	membership.Librarian:  {BorrowLimit: 10, LoanDurationDays: 60},
}

// RoleTable maps roles to limits. An administrator may change it at runtime;
// readers always see the latest values.
type RoleTable struct {
	mu     sync.RWMutex
	limits map[membership.Role]Limits
}

// NewRoleTable copies limits into a new table. Roles missing from limits get
// zero limits.
func NewRoleTable(limits map[membership.Role]Limits) *RoleTable {
	t := &RoleTable{limits: make(map[membership.Role]Limits, len(limits))}
	for role, l := range limits {
		t.limits[role] = l
	}
	return t
}

// Limits returns the current limits of role.
func (t *RoleTable) Limits(role membership.Role) Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limits[role]
}

// Set replaces the limits of role.
func (t *RoleTable) Set(role membership.Role, l Limits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid limits for %s: %w", role, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[role] = l
	return nil
}

// Snapshot returns a copy of the whole table.
func (t *RoleTable) Snapshot() map[membership.Role]Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[membership.Role]Limits, len(t.limits))
	for role, l := range t.limits {
		out[role] = l
	}
	return out
}

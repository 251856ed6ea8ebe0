// internal/circulation/audit.go
package circulation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/reservation"
)

var ErrInvariantViolated = errors.New("lending invariant violated")

// Audit checks that the item's status agrees with its loans and holds and
// that every borrower carries the item in their loan set.
func (s *service) Audit(ctx context.Context, key string) error {
	unlock := s.lockItem(key)
	defer unlock()
	return s.audit(key)
}

// AuditAll audits every catalog item and joins the violations.
func (s *service) AuditAll(ctx context.Context) error {
	var errs []error
	for _, key := range s.items.Keys() {
		if err := s.Audit(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *service) audit(key string) error {
	item, err := s.loadItem(key)
	if err != nil {
		return err
	}
	violation := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s (%s): %s", ErrInvariantViolated, key, item.Status, fmt.Sprintf(format, args...))
	}

	outstanding := s.loans.Outstanding(key)
	waiting := s.holds.Waiting(key)
	active := 0
	for i, h := range waiting {
		if h.Status == reservation.Active {
			active++
			if i != 0 {
				return violation("active hold of %s is not at the head", h.User)
			}
		}
	}

	if len(outstanding) > 1 {
		return violation("%d outstanding loans", len(outstanding))
	}
	for _, loan := range outstanding {
		user, err := s.users.Get(loan.User)
		if err != nil {
			return violation("borrower %s: %v", loan.User, err)
		}
		if !user.HasLoan(key) {
			return violation("borrower %s does not list the item", loan.User)
		}
	}
	for _, user := range s.users.List() {
		if user.HasLoan(key) && (len(outstanding) == 0 || outstanding[0].User != user.Name) {
			return violation("%s lists the item without an outstanding loan", user.Name)
		}
	}
	if active > 1 {
		return violation("%d active holds", active)
	}

	switch item.Status {
	case catalog.Available:
		if len(outstanding) != 0 || len(waiting) != 0 {
			return violation("%d loans and %d holds on an available item", len(outstanding), len(waiting))
		}
	case catalog.CheckedOut:
		if len(outstanding) != 1 || active != 0 {
			return violation("%d loans and %d active holds", len(outstanding), active)
		}
	case catalog.Reserved:
		if len(outstanding) != 0 || active != 1 {
			return violation("%d loans and %d active holds", len(outstanding), active)
		}
	case catalog.UnderReview:
	}
	return nil
}

// internal/policy/policy.go
package policy

import (
	"fmt"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/outcome"
)

// Decision is the result of an eligibility check.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Code    outcome.Code `json:"code,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// Err converts a denial into an outcome error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return outcome.Deny(d.Code, d.Reason)
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(code outcome.Code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// Policy holds the access rules. Every predicate is side-effect free.
type Policy struct {
	roles      *RoleTable
	restricted map[catalog.Kind]bool
	privileged map[membership.Role]bool
}

// New creates a policy. Restricted kinds may only be borrowed or reserved by
// privileged roles.
func New(roles *RoleTable, restricted []catalog.Kind, privileged []membership.Role) *Policy {
	p := &Policy{
		roles:      roles,
		restricted: make(map[catalog.Kind]bool, len(restricted)),
		privileged: make(map[membership.Role]bool, len(privileged)),
	}
	for _, k := range restricted {
		p.restricted[k] = true
	}
	for _, r := range privileged {
		p.privileged[r] = true
	}
	return p
}

// Roles returns the role table the policy reads from.
func (p *Policy) Roles() *RoleTable {
	return p.roles
}

// CanBorrow decides whether user may borrow item given the loans they hold.
func (p *Policy) CanBorrow(user membership.User, item catalog.Item) Decision {
	if user.Role == membership.Guest {
		return deny(outcome.PermissionDenied, "guests cannot borrow items")
	}
	if p.restricted[item.Kind] && !p.privileged[user.Role] {
		return deny(outcome.PermissionDenied, fmt.Sprintf("only %s may borrow %s items", p.privilegedNames(), item.Kind))
	}
	limit := p.roles.Limits(user.Role).BorrowLimit
	if len(user.CurrentLoans) >= limit {
		return deny(outcome.BorrowLimitExceeded, fmt.Sprintf("borrow limit reached (%d items)", limit))
	}
	return allow()
}

// CanReserve decides whether user may place a hold on item.
func (p *Policy) CanReserve(user membership.User, item catalog.Item) Decision {
	if user.Role == membership.Guest {
		return deny(outcome.PermissionDenied, "guests cannot place reservations")
	}
	if p.restricted[item.Kind] && !p.privileged[user.Role] {
		return deny(outcome.PermissionDenied, fmt.Sprintf("only %s may reserve %s items", p.privilegedNames(), item.Kind))
	}
	return allow()
}

// CanDownload decides whether user may download a digital item.
func (p *Policy) CanDownload(user membership.User, item catalog.Item) Decision {
	if !item.Kind.Digital() {
		return deny(outcome.PermissionDenied, "this item is not available for download")
	}
	if user.Role == membership.Guest {
		return deny(outcome.PermissionDenied, "guests cannot download digital content")
	}
	return allow()
}

// CanRequestPaper decides access to restricted digital collections.
func (p *Policy) CanRequestPaper(user membership.User) Decision {
	switch user.Role {
	case membership.Faculty, membership.Researcher, membership.Librarian:
		return allow()
	}
	return deny(outcome.PermissionDenied, "only faculty, researchers and librarians may request research papers")
}

// CanEditCatalog decides whether user may add items to the catalog.
func (p *Policy) CanEditCatalog(user membership.User) Decision {
	if user.Role == membership.Librarian {
		return allow()
	}
	return deny(outcome.PermissionDenied, "only librarians may edit the catalog")
}

// LoanDuration returns the current loan duration in days for role.
func (p *Policy) LoanDuration(role membership.Role) int {
	return p.roles.Limits(role).LoanDurationDays
}

// BorrowLimit returns the current borrow limit for role.
func (p *Policy) BorrowLimit(role membership.Role) int {
	return p.roles.Limits(role).BorrowLimit
}

func (p *Policy) privilegedNames() string {
	names := ""
	for _, r := range membership.Roles {
		if !p.privileged[r] {
			continue
		}
		if names != "" {
			names += " or "
		}
		names += r.String()
	}
	if names == "" {
		return "nobody"
	}
	return names
}

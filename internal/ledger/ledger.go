// internal/ledger/ledger.go
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRevokeWindow is how long after borrowing a loan may be revoked.
const DefaultRevokeWindow = 2 * time.Hour

var (
	ErrLoanNotFound       = errors.New("loan not found")
	ErrActiveLoanExists   = errors.New("an active loan already exists for this user and item")
	ErrLoanClosed         = errors.New("loan is already closed")
	ErrRevokeWindowPassed = errors.New("revoke window passed")
	ErrInvalidDuration    = errors.New("invalid loan duration")
	ErrAlreadyReminded    = errors.New("reminder already sent")
)

// book holds the loan records of one item in creation order.
type book struct {
	mu    sync.Mutex
	loans []*Loan
}

// Ledger owns every loan record. Records of one item share a lock; the map
// of items is guarded separately so different items do not contend.
type Ledger struct {
	mu    sync.RWMutex
	books map[string]*book
	byID  map[uuid.UUID]string
}

func New() *Ledger {
	return &Ledger{
		books: make(map[string]*book),
		byID:  make(map[uuid.UUID]string),
	}
}

func (l *Ledger) bookFor(item string, create bool) *book {
	l.mu.RLock()
	b, ok := l.books[item]
	l.mu.RUnlock()
	if ok || !create {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[item]; !ok {
		b = &book{}
		l.books[item] = b
	}
	return b
}

// Open creates an ACTIVE loan due durationDays after now.
func (l *Ledger) Open(user, item string, durationDays int, now time.Time) (Loan, error) {
	if durationDays <= 0 {
		return Loan{}, fmt.Errorf("%w: %d days", ErrInvalidDuration, durationDays)
	}

	b := l.bookFor(item, true)
	b.mu.Lock()
	for _, loan := range b.loans {
		if loan.User == user && loan.Status.Outstanding() {
			b.mu.Unlock()
			return Loan{}, ErrActiveLoanExists
		}
	}
	loan := &Loan{
		ID:         uuid.New(),
		User:       user,
		Item:       item,
		BorrowedAt: now,
		DueAt:      now.AddDate(0, 0, durationDays),
		Status:     Active,
	}
	b.loans = append(b.loans, loan)
	b.mu.Unlock()

	l.mu.Lock()
	l.byID[loan.ID] = item
	l.mu.Unlock()
	return *loan, nil
}

// withLoan runs fn on the loan with the given id while holding its item lock.
func (l *Ledger) withLoan(id uuid.UUID, fn func(*Loan) error) (Loan, error) {
	l.mu.RLock()
	item, ok := l.byID[id]
	b := l.books[item]
	l.mu.RUnlock()
	if !ok {
		return Loan{}, fmt.Errorf("%w: %s", ErrLoanNotFound, id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, loan := range b.loans {
		if loan.ID == id {
			if err := fn(loan); err != nil {
				return *loan, err
			}
			return *loan, nil
		}
	}
	return Loan{}, fmt.Errorf("%w: %s", ErrLoanNotFound, id)
}

// Close marks an outstanding loan RETURNED at returnedAt.
func (l *Ledger) Close(id uuid.UUID, returnedAt time.Time) (Loan, error) {
	return l.withLoan(id, func(loan *Loan) error {
		if !loan.Status.Outstanding() {
			return fmt.Errorf("%w: %s", ErrLoanClosed, loan.Status)
		}
		loan.Status = Returned
		loan.ReturnedAt = returnedAt
		return nil
	})
}

// Revoke undoes an ACTIVE loan when now is within window of the borrow
// time. The boundary is inclusive: a revoke at exactly BorrowedAt+window
// succeeds.
func (l *Ledger) Revoke(id uuid.UUID, now time.Time, window time.Duration) (Loan, error) {
	return l.withLoan(id, func(loan *Loan) error {
		if loan.Status != Active {
			return fmt.Errorf("%w: %s", ErrLoanClosed, loan.Status)
		}
		if now.Sub(loan.BorrowedAt) > window {
			return ErrRevokeWindowPassed
		}
		loan.Status = Revoked
		loan.ReturnedAt = now
		return nil
	})
}

// Complete closes a loan administratively. It accepts outstanding and
// RETURNED loans; the return time of an outstanding loan becomes now.
func (l *Ledger) Complete(id uuid.UUID, now time.Time) (Loan, error) {
	return l.withLoan(id, func(loan *Loan) error {
		switch {
		case loan.Status.Outstanding():
			loan.ReturnedAt = now
		case loan.Status == Returned:
		default:
			return fmt.Errorf("%w: %s", ErrLoanClosed, loan.Status)
		}
		loan.Status = Completed
		return nil
	})
}

// MarkReminded records that a due date reminder was sent for the loan. Only
// the first call per loan succeeds.
func (l *Ledger) MarkReminded(id uuid.UUID, now time.Time) (Loan, error) {
	return l.withLoan(id, func(loan *Loan) error {
		if !loan.RemindedAt.IsZero() {
			return ErrAlreadyReminded
		}
		loan.RemindedAt = now
		return nil
	})
}

// Get returns the loan with the given id.
func (l *Ledger) Get(id uuid.UUID) (Loan, error) {
	return l.withLoan(id, func(*Loan) error { return nil })
}

// FindActive returns the outstanding loan for user and item, most recent
// first.
func (l *Ledger) FindActive(user, item string) (Loan, bool) {
	b := l.bookFor(item, false)
	if b == nil {
		return Loan{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.loans) - 1; i >= 0; i-- {
		if loan := b.loans[i]; loan.User == user && loan.Status.Outstanding() {
			return *loan, true
		}
	}
	return Loan{}, false
}

// Outstanding returns every outstanding loan on item.
func (l *Ledger) Outstanding(item string) []Loan {
	b := l.bookFor(item, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Loan
	for _, loan := range b.loans {
		if loan.Status.Outstanding() {
			out = append(out, *loan)
		}
	}
	return out
}

// ForItem returns every loan ever recorded on item, oldest first.
func (l *Ledger) ForItem(item string) []Loan {
	b := l.bookFor(item, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Loan, 0, len(b.loans))
	for _, loan := range b.loans {
		out = append(out, *loan)
	}
	return out
}

// History returns every loan of user, oldest first.
func (l *Ledger) History(user string) []Loan {
	var out []Loan
	l.scan(func(loan *Loan) {
		if loan.User == user {
			out = append(out, *loan)
		}
	})
	sortByBorrowTime(out)
	return out
}

// MarkOverdue persists OVERDUE on every ACTIVE loan past its due time and
// returns the loans it changed.
func (l *Ledger) MarkOverdue(now time.Time) []Loan {
	var changed []Loan
	l.scan(func(loan *Loan) {
		if loan.Status == Active && now.After(loan.DueAt) {
			loan.Status = Overdue
			changed = append(changed, *loan)
		}
	})
	sortByBorrowTime(changed)
	return changed
}

// DueWithin returns outstanding, not yet overdue and not yet reminded loans
// due within window of now.
func (l *Ledger) DueWithin(now time.Time, window time.Duration) []Loan {
	var due []Loan
	l.scan(func(loan *Loan) {
		if loan.DueSoon(now, window) {
			due = append(due, *loan)
		}
	})
	sortByBorrowTime(due)
	return due
}

// scan visits every loan while holding its item lock.
func (l *Ledger) scan(fn func(*Loan)) {
	l.mu.RLock()
	books := make([]*book, 0, len(l.books))
	for _, b := range l.books {
		books = append(books, b)
	}
	l.mu.RUnlock()

	for _, b := range books {
		b.mu.Lock()
		for _, loan := range b.loans {
			fn(loan)
		}
		b.mu.Unlock()
	}
}

func sortByBorrowTime(loans []Loan) {
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].BorrowedAt.Before(loans[j].BorrowedAt)
	})
}

// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/journal"
	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/logger"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/notify"
	"github.com/jules-labs/lending/internal/outcome"
	"github.com/jules-labs/lending/internal/policy"
	"github.com/jules-labs/lending/internal/reservation"
)

const (
	reasonUnderReview       = "item is under review"
	reasonCheckedOut        = "item is already checked out"
	reasonAlreadyAvailable  = "nothing to return, item is already available"
	reasonReservedNotBorrow = "cannot return a reserved item that has not been borrowed"
	reasonNoActiveLoan      = "no active loan for this user and item"
	reasonRevokeWindow      = "revoke window passed"
	reasonAlreadyReserved   = "item is already reserved"
	reasonNothingToCancel   = "no reservation to cancel"
)

// Dependencies are the collaborators the coordinator orchestrates.
type Dependencies struct {
	Items    *catalog.Registry
	Users    *membership.Directory
	Loans    *ledger.Ledger
	Holds    *reservation.Scheduler
	Policy   *policy.Policy
	Notifier notify.Notifier
}

// service implements the Service interface.
type service struct {
	items    *catalog.Registry
	users    *membership.Directory
	loans    *ledger.Ledger
	holds    *reservation.Scheduler
	policy   *policy.Policy
	notifier notify.Notifier
	cfg      Config

	journal journal.Store
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// WithJournal records every state change in store. Journal failures are
// logged and never fail the operation.
func WithJournal(store journal.Store) Option {
	return func(s *service) { s.journal = store }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *service) { s.tracer = t }
}

// NewService creates a new lending coordinator.
func NewService(deps Dependencies, cfg Config, opts ...Option) Service {
	s := &service{
		items:    deps.Items,
		users:    deps.Users,
		loans:    deps.Loans,
		holds:    deps.Holds,
		policy:   deps.Policy,
		notifier: deps.Notifier,
		cfg:      cfg,
		logger:   logger.WithService("circulation"),
		tracer:   otel.Tracer("lending/circulation"),
		metrics:  newMetrics(otel.Meter("lending/circulation")),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.cfg.HoldDays <= 0 {
		s.cfg.HoldDays = reservation.DefaultHoldDays
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockItem serializes every mutation of one item. Locks are created lazily
// and never removed.
func (s *service) lockItem(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *service) loadItem(key string) (catalog.Item, error) {
	item, err := s.items.Get(key)
	if errors.Is(err, catalog.ErrItemNotFound) {
		return catalog.Item{}, outcome.Denyf(outcome.NotFound, "unknown item %s", key)
	}
	if err != nil {
		return catalog.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *service) loadUser(name string) (membership.User, error) {
	user, err := s.users.Get(name)
	if errors.Is(err, membership.ErrUserNotFound) {
		return membership.User{}, outcome.Denyf(outcome.NotFound, "unknown user %s", name)
	}
	if err != nil {
		return membership.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// prepare loads both parties, rejects quarantined items and applies any
// pending hold expiry. The caller must hold the item lock.
func (s *service) prepare(ctx context.Context, userName, key string, now time.Time) (membership.User, catalog.Item, error) {
	user, err := s.loadUser(userName)
	if err != nil {
		return membership.User{}, catalog.Item{}, err
	}
	item, err := s.loadItem(key)
	if err != nil {
		return membership.User{}, catalog.Item{}, err
	}
	if item.Status == catalog.UnderReview {
		return membership.User{}, catalog.Item{}, outcome.Deny(outcome.ItemUnavailable, reasonUnderReview)
	}
	item, err = s.reconcile(ctx, item, now)
	return user, item, err
}

// Borrow checks the item out to user.
func (s *service) Borrow(ctx context.Context, userName, key string) (loan ledger.Loan, err error) {
	ctx, finish := s.observe(ctx, "borrow", userName, key)
	defer func() { finish(err) }()

	unlock := s.lockItem(key)
	defer unlock()

	now := s.now()
	user, item, err := s.prepare(ctx, userName, key, now)
	if err != nil {
		return ledger.Loan{}, err
	}

	if d := s.policy.CanBorrow(user, item); !d.Allowed {
		return ledger.Loan{}, d.Err()
	}

	// claim settles the hold queue once the loan is open.
	var claim func()
	switch item.Status {
	case catalog.Available:
	case catalog.CheckedOut:
		return ledger.Loan{}, outcome.Deny(outcome.ItemUnavailable, reasonCheckedOut)
	case catalog.Reserved:
		head, ok := s.holds.ActiveHold(key)
		switch {
		case ok && head.User == user.Name:
			claim = func() { s.fulfil(ctx, head, now) }
		case s.cfg.PriorityOverride && user.Role == s.cfg.PriorityRole:
			claim = func() { s.override(ctx, user, key, now) }
		default:
			return ledger.Loan{}, outcome.Denyf(outcome.HeldByAnotherUser, "item is reserved for %s", head.User)
		}
	default:
		return ledger.Loan{}, outcome.Denyf(outcome.ItemUnavailable, "item is %s", item.Status)
	}

	days := s.policy.LoanDuration(user.Role)
	if days < 1 {
		return ledger.Loan{}, outcome.Denyf(outcome.PermissionDenied, "%s has no loan period", user.Role)
	}

	limit := s.policy.BorrowLimit(user.Role)
	if err := s.users.AddLoan(user.Name, key, limit); err != nil {
		if errors.Is(err, membership.ErrLoanLimit) {
			return ledger.Loan{}, outcome.Denyf(outcome.BorrowLimitExceeded, "borrow limit reached (%d items)", limit)
		}
		return ledger.Loan{}, fmt.Errorf("add loan to %s: %w", user.Name, err)
	}

	loan, err = s.loans.Open(user.Name, key, days, now)
	if err != nil {
		s.logger.WarnContext(ctx, "compensating failed borrow", "user", user.Name, "item", key, "error", err)
		if rerr := s.users.RemoveLoan(user.Name, key); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to compensate loan set", "user", user.Name, "item", key, "error", rerr)
		}
		return ledger.Loan{}, fmt.Errorf("open loan: %w", err)
	}

	if claim != nil {
		claim()
	}
	if _, err := s.setStatus(ctx, item, catalog.CheckedOut); err != nil {
		return ledger.Loan{}, err
	}
	s.record(ctx, key, EventItemBorrowed, loanRecorded(loan, now))
	return loan, nil
}

// fulfil consumes the holder's hold when they borrow the item.
func (s *service) fulfil(ctx context.Context, head reservation.Hold, now time.Time) {
	h, err := s.holds.Consume(head.User, head.Item, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to consume hold", "user", head.User, "item", head.Item, "error", err)
		return
	}
	s.record(ctx, head.Item, EventHoldFulfilled, holdRecorded(h, now))
}

// override lets a priority user take a reserved item. Their own queued hold
// is dropped and the current holder goes back to waiting at the head.
func (s *service) override(ctx context.Context, user membership.User, key string, now time.Time) {
	if h, _, err := s.holds.Cancel(user.Name, key, now); err == nil {
		s.record(ctx, key, EventHoldCancelled, holdRecorded(h, now))
	}
	if h, ok := s.holds.Demote(key); ok {
		s.logger.InfoContext(ctx, "priority override",
			"user", user.Name, "role", user.Role, "item", key, "displaced", h.User)
		s.record(ctx, key, EventHoldDemoted, holdRecorded(h, now))
	}
}

// Return closes user's outstanding loan on the item and hands it to the next
// hold in line.
func (s *service) Return(ctx context.Context, userName, key string) (loan ledger.Loan, err error) {
	ctx, finish := s.observe(ctx, "return", userName, key)
	defer func() { finish(err) }()

	loan, err = s.endLoan(ctx, userName, key, func(active ledger.Loan, now time.Time) (ledger.Loan, string, error) {
		closed, err := s.loans.Close(active.ID, now)
		if err != nil {
			return ledger.Loan{}, "", fmt.Errorf("close loan: %w", err)
		}
		return closed, EventItemReturned, nil
	})
	if err != nil {
		return ledger.Loan{}, err
	}

	if s.cfg.RemindOnReturn {
		s.remindUser(ctx, userName)
	}
	return loan, nil
}

// Revoke undoes a loan within the revoke window.
func (s *service) Revoke(ctx context.Context, userName, key string) (loan ledger.Loan, err error) {
	ctx, finish := s.observe(ctx, "revoke", userName, key)
	defer func() { finish(err) }()

	return s.endLoan(ctx, userName, key, func(active ledger.Loan, now time.Time) (ledger.Loan, string, error) {
		revoked, err := s.loans.Revoke(active.ID, now, s.cfg.RevokeWindow)
		if errors.Is(err, ledger.ErrRevokeWindowPassed) || errors.Is(err, ledger.ErrLoanClosed) {
			return ledger.Loan{}, "", outcome.Deny(outcome.RevokeWindowExpired, reasonRevokeWindow)
		}
		if err != nil {
			return ledger.Loan{}, "", fmt.Errorf("revoke loan: %w", err)
		}
		return revoked, EventLoanRevoked, nil
	})
}

// endLoan is the shared path of Return and Revoke.
func (s *service) endLoan(ctx context.Context, userName, key string,
	end func(ledger.Loan, time.Time) (ledger.Loan, string, error)) (ledger.Loan, error) {
	unlock := s.lockItem(key)
	defer unlock()

	now := s.now()
	user, item, err := s.prepare(ctx, userName, key, now)
	if err != nil {
		return ledger.Loan{}, err
	}

	active, ok := s.loans.FindActive(user.Name, key)
	if !ok {
		return ledger.Loan{}, noActiveLoan(item)
	}

	loan, eventType, err := end(active, now)
	if err != nil {
		return ledger.Loan{}, err
	}
	if err := s.users.RemoveLoan(user.Name, key); err != nil {
		return ledger.Loan{}, fmt.Errorf("remove loan from %s: %w", user.Name, err)
	}
	s.record(ctx, key, eventType, loanRecorded(loan, now))

	if _, err := s.reconcile(ctx, item, now); err != nil {
		return ledger.Loan{}, err
	}
	return loan, nil
}

func noActiveLoan(item catalog.Item) error {
	switch item.Status {
	case catalog.Available:
		return outcome.Deny(outcome.NoActiveLoan, reasonAlreadyAvailable)
	case catalog.Reserved:
		return outcome.Deny(outcome.NoActiveLoan, reasonReservedNotBorrow)
	default:
		return outcome.Deny(outcome.NoActiveLoan, reasonNoActiveLoan)
	}
}

// Reserve places user in the item's hold queue. On an AVAILABLE item the
// hold is activated at once.
func (s *service) Reserve(ctx context.Context, userName, key string) (res Reservation, err error) {
	ctx, finish := s.observe(ctx, "reserve", userName, key)
	defer func() { finish(err) }()

	unlock := s.lockItem(key)
	defer unlock()

	now := s.now()
	user, item, err := s.prepare(ctx, userName, key, now)
	if err != nil {
		return Reservation{}, err
	}

	if d := s.policy.CanReserve(user, item); !d.Allowed {
		return Reservation{}, d.Err()
	}
	if h, ok := s.holds.HoldFor(user.Name, key); ok {
		if h.Status == reservation.Active {
			return Reservation{}, outcome.Deny(outcome.AlreadyReserved, "item is already reserved for you")
		}
		return Reservation{}, outcome.Deny(outcome.DuplicateReservation, "you already have a reservation for this item")
	}
	if _, ok := s.loans.FindActive(user.Name, key); ok {
		return Reservation{}, outcome.Deny(outcome.DuplicateReservation, "you already have this item on loan")
	}
	if item.Status == catalog.Reserved && !s.cfg.QueueBehindActiveHold {
		return Reservation{}, outcome.Deny(outcome.AlreadyReserved, reasonAlreadyReserved)
	}

	hold, position, err := s.holds.Request(user.Name, key, s.cfg.HoldDays, now)
	if errors.Is(err, reservation.ErrDuplicateHold) {
		return Reservation{}, outcome.Deny(outcome.DuplicateReservation, "you already have a reservation for this item")
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("request hold: %w", err)
	}
	s.record(ctx, key, EventHoldRequested, holdRecorded(hold, now))

	if item.Status == catalog.Available {
		if _, err := s.reconcile(ctx, item, now); err != nil {
			return Reservation{}, err
		}
		if activated, ok := s.holds.HoldFor(user.Name, key); ok {
			hold = activated
		}
	}
	return Reservation{Hold: hold, Position: position}, nil
}

// CancelReservation withdraws user's own hold. Cancelling the head promotes
// the next hold.
func (s *service) CancelReservation(ctx context.Context, userName, key string) (hold reservation.Hold, err error) {
	ctx, finish := s.observe(ctx, "cancel", userName, key)
	defer func() { finish(err) }()

	unlock := s.lockItem(key)
	defer unlock()

	now := s.now()
	_, item, err := s.prepare(ctx, userName, key, now)
	if err != nil {
		return reservation.Hold{}, err
	}

	hold, wasHead, err := s.holds.Cancel(userName, key, now)
	if errors.Is(err, reservation.ErrHoldNotFound) {
		return reservation.Hold{}, outcome.Deny(outcome.NothingToCancel, reasonNothingToCancel)
	}
	if err != nil {
		return reservation.Hold{}, fmt.Errorf("cancel hold: %w", err)
	}
	s.record(ctx, key, EventHoldCancelled, holdRecorded(hold, now))

	if wasHead {
		if _, err := s.reconcile(ctx, item, now); err != nil {
			return reservation.Hold{}, err
		}
	}
	return hold, nil
}

// PlaceUnderReview quarantines an item. Loans and holds are kept.
func (s *service) PlaceUnderReview(ctx context.Context, key string) (item catalog.Item, err error) {
	ctx, finish := s.observe(ctx, "review", "", key)
	defer func() { finish(err) }()

	unlock := s.lockItem(key)
	defer unlock()

	item, err = s.loadItem(key)
	if err != nil || item.Status == catalog.UnderReview {
		return item, err
	}
	item, err = s.setStatus(ctx, item, catalog.UnderReview)
	if err != nil {
		return catalog.Item{}, err
	}
	s.record(ctx, key, EventReviewStarted, ReviewRecorded{Item: key, Status: item.Status.String(), At: s.now()})
	return item, nil
}

// ReleaseReview ends the quarantine and derives the status again from the
// ledger and the hold queue.
func (s *service) ReleaseReview(ctx context.Context, key string) (item catalog.Item, err error) {
	ctx, finish := s.observe(ctx, "release", "", key)
	defer func() { finish(err) }()

	unlock := s.lockItem(key)
	defer unlock()

	item, err = s.loadItem(key)
	if err != nil {
		return catalog.Item{}, err
	}
	if item.Status != catalog.UnderReview {
		return catalog.Item{}, outcome.Deny(outcome.ItemUnavailable, "item is not under review")
	}
	now := s.now()
	item, err = s.reconcile(ctx, item, now)
	if err != nil {
		return catalog.Item{}, err
	}
	s.record(ctx, key, EventReviewReleased, ReviewRecorded{Item: key, Status: item.Status.String(), At: now})
	return item, nil
}

// CompleteLoan closes a loan administratively. An outstanding loan releases
// the item as a return would.
func (s *service) CompleteLoan(ctx context.Context, id uuid.UUID) (loan ledger.Loan, err error) {
	ctx, finish := s.observe(ctx, "complete", "", id.String())
	defer func() { finish(err) }()

	current, err := s.loans.Get(id)
	if errors.Is(err, ledger.ErrLoanNotFound) {
		return ledger.Loan{}, outcome.Denyf(outcome.NotFound, "unknown loan %s", id)
	}
	if err != nil {
		return ledger.Loan{}, fmt.Errorf("get loan: %w", err)
	}

	unlock := s.lockItem(current.Item)
	defer unlock()

	item, err := s.loadItem(current.Item)
	if err != nil {
		return ledger.Loan{}, err
	}
	if item.Status == catalog.UnderReview {
		return ledger.Loan{}, outcome.Deny(outcome.ItemUnavailable, reasonUnderReview)
	}

	now := s.now()
	if current, err = s.loans.Get(id); err != nil {
		return ledger.Loan{}, fmt.Errorf("get loan: %w", err)
	}
	loan, err = s.loans.Complete(id, now)
	if errors.Is(err, ledger.ErrLoanClosed) {
		return ledger.Loan{}, outcome.Denyf(outcome.NoActiveLoan, "loan is already %s", current.Status)
	}
	if err != nil {
		return ledger.Loan{}, fmt.Errorf("complete loan: %w", err)
	}
	s.record(ctx, loan.Item, EventLoanCompleted, loanRecorded(loan, now))

	if current.Status.Outstanding() {
		if err := s.users.RemoveLoan(loan.User, loan.Item); err != nil {
			return ledger.Loan{}, fmt.Errorf("remove loan from %s: %w", loan.User, err)
		}
		if _, err := s.reconcile(ctx, item, now); err != nil {
			return ledger.Loan{}, err
		}
	}
	return loan, nil
}

// SweepExpiredHolds applies hold expiry ahead of the next touching
// operation. Each item is settled under its own lock.
func (s *service) SweepExpiredHolds(ctx context.Context) int {
	now := s.now()
	swept := 0
	for _, key := range s.holds.ExpiringItems(now) {
		if s.sweep(ctx, key, now) {
			swept++
		}
	}
	if swept > 0 {
		s.logger.InfoContext(ctx, "expired holds swept", "count", swept)
	}
	return swept
}

func (s *service) sweep(ctx context.Context, key string, now time.Time) bool {
	unlock := s.lockItem(key)
	defer unlock()

	item, err := s.items.Get(key)
	if err != nil || item.Status == catalog.UnderReview {
		return false
	}
	head, ok := s.holds.Head(key)
	if !ok || !head.Expired(now) {
		return false
	}
	if _, err := s.reconcile(ctx, item, now); err != nil {
		s.logger.ErrorContext(ctx, "hold sweep failed", "item", key, "error", err)
		return false
	}
	return true
}

// MarkOverdue persists OVERDUE on late loans for reporting.
func (s *service) MarkOverdue(ctx context.Context) []ledger.Loan {
	changed := s.loans.MarkOverdue(s.now())
	for _, loan := range changed {
		s.logger.InfoContext(ctx, "loan overdue", "loan", loan.ID, "user", loan.User, "item", loan.Item, "due", loan.DueAt)
	}
	return changed
}

// SendDueReminders emits due_date_approaching once per loan falling due
// within the reminder window.
func (s *service) SendDueReminders(ctx context.Context) int {
	if s.cfg.ReminderWindow <= 0 {
		return 0
	}
	now := s.now()
	sent := 0
	for _, loan := range s.loans.DueWithin(now, s.cfg.ReminderWindow) {
		if s.remind(ctx, loan, now) {
			sent++
		}
	}
	return sent
}

// remindUser sends the due reminders of one user's outstanding loans only.
func (s *service) remindUser(ctx context.Context, userName string) int {
	if s.cfg.ReminderWindow <= 0 {
		return 0
	}
	user, err := s.users.Get(userName)
	if err != nil {
		return 0
	}
	now := s.now()
	sent := 0
	for _, key := range user.CurrentLoans {
		loan, ok := s.loans.FindActive(userName, key)
		if ok && loan.DueSoon(now, s.cfg.ReminderWindow) && s.remind(ctx, loan, now) {
			sent++
		}
	}
	return sent
}

func (s *service) remind(ctx context.Context, loan ledger.Loan, now time.Time) bool {
	if _, err := s.loans.MarkReminded(loan.ID, now); err != nil {
		return false
	}
	s.emit(ctx, notify.DueDateApproaching, loan.User, loan.Item, loan.DueAt, now)
	return true
}

// Item returns the item with its outstanding loan and waiting holds.
func (s *service) Item(ctx context.Context, key string) (ItemView, error) {
	item, err := s.loadItem(key)
	if err != nil {
		return ItemView{}, err
	}
	view := ItemView{Item: item, Queue: s.holds.Waiting(key)}
	if outstanding := s.loans.Outstanding(key); len(outstanding) > 0 {
		view.Loan = &outstanding[0]
	}
	return view, nil
}

// Loans returns the loan history of user.
func (s *service) Loans(ctx context.Context, userName string) ([]ledger.Loan, error) {
	if _, err := s.loadUser(userName); err != nil {
		return nil, err
	}
	return s.loans.History(userName), nil
}

// reconcile applies pending hold expiry and derives the item status from
// the ledger and the hold queue. The caller must hold the item lock.
func (s *service) reconcile(ctx context.Context, item catalog.Item, now time.Time) (catalog.Item, error) {
	key := item.Key
	if expired, ok := s.holds.ExpireHead(key, now); ok {
		s.emit(ctx, notify.ReservationExpired, expired.User, key, time.Time{}, now)
		s.record(ctx, key, EventHoldExpired, holdRecorded(expired, now))
	}

	next := catalog.Available
	if len(s.loans.Outstanding(key)) > 0 {
		next = catalog.CheckedOut
	} else if activated, ok := s.holds.ActivateHead(key, now); ok {
		s.emit(ctx, notify.ReservationAvailable, activated.User, key, activated.ExpiresAt, now)
		s.record(ctx, key, EventHoldActivated, holdRecorded(activated, now))
		next = catalog.Reserved
	} else if _, ok := s.holds.ActiveHold(key); ok {
		next = catalog.Reserved
	}
	return s.setStatus(ctx, item, next)
}

func (s *service) setStatus(ctx context.Context, item catalog.Item, next catalog.Status) (catalog.Item, error) {
	if item.Status == next {
		return item, nil
	}
	updated, err := s.items.SetStatus(item.Key, next)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("set status of %s: %w", item.Key, err)
	}
	s.logger.DebugContext(ctx, "item status changed", "item", item.Key, "from", item.Status, "to", next)
	return updated, nil
}

func (s *service) emit(ctx context.Context, kind notify.Kind, user, key string, due, now time.Time) {
	s.notifier.Notify(ctx, notify.NewEvent(kind, user, key, due, now))
}

// record appends to the item's journal stream. The journal is an audit
// trail; a failed append is logged and the operation still succeeds.
func (s *service) record(ctx context.Context, key, eventType string, payload any) {
	if s.journal == nil {
		return
	}
	event, err := journal.NewEvent(eventType, payload, nil)
	if err == nil {
		var version int
		if version, err = s.journal.CurrentVersion(ctx, key); err == nil {
			_, err = s.journal.Append(ctx, key, aggregateType, version, []journal.Event{event})
		}
	}
	if err != nil {
		s.logger.WarnContext(ctx, "journal append failed", "item", key, "event", eventType, "error", err)
	}
}

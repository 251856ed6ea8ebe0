// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/circulation"
	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/outcome"
	"github.com/jules-labs/lending/internal/policy"
	"github.com/jules-labs/lending/internal/reservation"
)

// Target is the in-process lending system the experiments run against.
type Target struct {
	Service circulation.Service
	Items   *catalog.Registry
	Users   *membership.Directory
	Loans   *ledger.Ledger
	Holds   *reservation.Scheduler
	Policy  *policy.Policy
}

// Options tune the load the experiments generate.
type Options struct {
	Workers     int
	Duration    time.Duration
	SampleEvery time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 50
	}
	if o.Duration <= 0 {
		o.Duration = 2 * time.Second
	}
	if o.SampleEvery <= 0 {
		o.SampleEvery = 250 * time.Millisecond
	}
	return o
}

// RegisterExperiments registers every lending experiment with the engine.
func (e *Engine) RegisterExperiments(t *Target, opts Options) {
	opts = opts.withDefaults()
	e.Register(t.ConcurrentBorrowRace(opts))
	e.Register(t.ReservationStorm(opts))
	e.Register(t.PriorityOverrideUnderLoad(opts))
	e.Register(t.BorrowLimitStorm(opts))
}

// InvariantViolations counts the items whose status disagrees with their
// loans and holds.
func (t *Target) InvariantViolations() Probe {
	return Probe{
		Name: "invariant_violations",
		Query: func(ctx context.Context) (float64, error) {
			err := t.Service.AuditAll(ctx)
			if err == nil {
				return 0, nil
			}
			if joined, ok := err.(interface{ Unwrap() []error }); ok {
				return float64(len(joined.Unwrap())), nil
			}
			return 1, nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// MaxLoansPerItem is the largest number of outstanding loans on one item.
func (t *Target) MaxLoansPerItem() Probe {
	return Probe{
		Name: "max_loans_per_item",
		Query: func(context.Context) (float64, error) {
			most := 0
			for _, key := range t.Items.Keys() {
				most = max(most, len(t.Loans.Outstanding(key)))
			}
			return float64(most), nil
		},
		Threshold: Threshold{Operator: "<=", Value: 1},
	}
}

// MaxActiveHolds is the largest number of ACTIVE holds on one item.
func (t *Target) MaxActiveHolds() Probe {
	return Probe{
		Name: "max_active_holds",
		Query: func(context.Context) (float64, error) {
			most := 0
			for _, key := range t.Items.Keys() {
				active := 0
				for _, h := range t.Holds.Waiting(key) {
					if h.Status == reservation.Active {
						active++
					}
				}
				most = max(most, active)
			}
			return float64(most), nil
		},
		Threshold: Threshold{Operator: "<=", Value: 1},
	}
}

// UsersOverLimit counts users holding more loans than their role allows.
func (t *Target) UsersOverLimit() Probe {
	return Probe{
		Name: "users_over_limit",
		Query: func(context.Context) (float64, error) {
			over := 0
			for _, u := range t.Users.List() {
				if len(u.CurrentLoans) > t.Policy.BorrowLimit(u.Role) {
					over++
				}
			}
			return float64(over), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func counter(name string, n *atomic.Int64, th Threshold) Probe {
	return Probe{
		Name:      name,
		Query:     func(context.Context) (float64, error) { return float64(n.Load()), nil },
		Threshold: th,
	}
}

// ConcurrentBorrowRace has many students borrow the same item at once.
func (t *Target) ConcurrentBorrowRace(opts Options) Experiment {
	const key = "CHAOS-RACE"
	var winners atomic.Int64

	return Experiment{
		Name:       "concurrent-borrow-race",
		Hypothesis: "Exactly one of many simultaneous borrowers gets the item and the rest are told it is unavailable",
		SteadyState: []Probe{
			t.InvariantViolations(),
			t.MaxLoansPerItem(),
			counter("borrow_winners", &winners, Threshold{Operator: "<=", Value: 1}),
		},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "circulation.Borrow",
			Execute: func(ctx context.Context) error {
				winners.Store(0)
				users, err := t.setup(ctx, key, "race", opts.Workers)
				if err != nil {
					return err
				}
				return t.fanOut(users, func(user string) error {
					_, err := t.Service.Borrow(ctx, user, key)
					if err == nil {
						winners.Add(1)
						return nil
					}
					return expect(err, outcome.ItemUnavailable)
				})
			},
		}},
		Rollback: []Action{t.drainAction(key)},
		Validation: []Assertion{
			{Probe: "invariant_violations", Condition: isZero, Message: "Item, loans and holds stay consistent"},
			{Probe: "borrow_winners", Condition: func(v float64) bool { return v == 1 }, Message: "Exactly one borrow succeeds"},
		},
		Duration:    opts.Duration,
		SampleEvery: opts.SampleEvery,
	}
}

// ReservationStorm queues many students on an item while its borrower
// returns it and half of the queue cancels.
func (t *Target) ReservationStorm(opts Options) Experiment {
	const key = "CHAOS-STORM"

	return Experiment{
		Name:        "reservation-storm",
		Hypothesis:  "Queue promotion under concurrent reserve, cancel and return never yields two ACTIVE holds",
		SteadyState: []Probe{t.InvariantViolations(), t.MaxActiveHolds()},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "circulation.Reserve",
			Execute: func(ctx context.Context) error {
				users, err := t.setup(ctx, key, "storm", opts.Workers+1)
				if err != nil {
					return err
				}
				holder, queue := users[0], users[1:]
				if _, err := t.Service.Borrow(ctx, holder, key); err != nil {
					return fmt.Errorf("borrow %s: %w", key, err)
				}

				var wg sync.WaitGroup
				wg.Add(1)
				go func() {
					defer wg.Done()
					time.Sleep(time.Millisecond)
					_, _ = t.Service.Return(ctx, holder, key)
				}()
				err = t.fanOut(queue, func(user string) error {
					if _, err := t.Service.Reserve(ctx, user, key); err != nil {
						return expect(err, outcome.AlreadyReserved)
					}
					if user[len(user)-1]%2 == 0 {
						_, err := t.Service.CancelReservation(ctx, user, key)
						return err
					}
					return nil
				})
				wg.Wait()
				return err
			},
		}},
		Rollback: []Action{t.drainAction(key)},
		Validation: []Assertion{
			{Probe: "invariant_violations", Condition: isZero, Message: "Item, loans and holds stay consistent"},
			{Probe: "max_active_holds", Condition: func(v float64) bool { return v <= 1 }, Message: "At most one ACTIVE hold per item"},
		},
		Duration:    opts.Duration,
		SampleEvery: opts.SampleEvery,
	}
}

// PriorityOverrideUnderLoad has a faculty member borrow an item reserved for
// a student while other students reserve and cancel.
func (t *Target) PriorityOverrideUnderLoad(opts Options) Experiment {
	const key = "CHAOS-PRIORITY"
	var priorityLoans atomic.Int64

	return Experiment{
		Name:       "priority-override-under-load",
		Hypothesis: "The priority borrower takes a reserved item and the displaced hold waits at the head of the queue",
		SteadyState: []Probe{
			t.InvariantViolations(),
			t.MaxActiveHolds(),
			counter("priority_loans", &priorityLoans, Threshold{Operator: "<=", Value: 1}),
		},
		Method: []Action{{
			Type:   "priority-override",
			Target: "circulation.Borrow",
			Execute: func(ctx context.Context) error {
				priorityLoans.Store(0)
				users, err := t.setup(ctx, key, "priority", opts.Workers)
				if err != nil {
					return err
				}
				const faculty = "chaos-faculty"
				if err := t.ensureUser(ctx, faculty, membership.Faculty); err != nil {
					return err
				}
				if _, err := t.Service.Reserve(ctx, users[0], key); err != nil {
					return fmt.Errorf("reserve %s: %w", key, err)
				}

				var wg sync.WaitGroup
				var borrowErr error
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, borrowErr = t.Service.Borrow(ctx, faculty, key); borrowErr == nil {
						priorityLoans.Add(1)
					}
				}()
				err = t.fanOut(users[1:], func(user string) error {
					if _, err := t.Service.Reserve(ctx, user, key); err != nil {
						return expect(err, outcome.AlreadyReserved)
					}
					_, err := t.Service.CancelReservation(ctx, user, key)
					return err
				})
				wg.Wait()
				return errors.Join(borrowErr, err)
			},
		}},
		Rollback: []Action{t.drainAction(key)},
		Validation: []Assertion{
			{Probe: "invariant_violations", Condition: isZero, Message: "Item, loans and holds stay consistent"},
			{Probe: "priority_loans", Condition: func(v float64) bool { return v == 1 }, Message: "The priority borrow succeeds"},
		},
		Duration:    opts.Duration,
		SampleEvery: opts.SampleEvery,
	}
}

// BorrowLimitStorm has one student borrow many items at once.
func (t *Target) BorrowLimitStorm(opts Options) Experiment {
	const user = "chaos-hoarder"
	keys := make([]string, opts.Workers)
	for i := range keys {
		keys[i] = fmt.Sprintf("CHAOS-LIMIT-%03d", i)
	}

	return Experiment{
		Name:        "borrow-limit-storm",
		Hypothesis:  "Concurrent borrows by one user never exceed the role's borrow limit",
		SteadyState: []Probe{t.InvariantViolations(), t.UsersOverLimit()},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "circulation.Borrow",
			Execute: func(ctx context.Context) error {
				if err := t.ensureUser(ctx, user, membership.Student); err != nil {
					return err
				}
				for _, key := range keys {
					if err := t.ensureItem(key); err != nil {
						return err
					}
				}
				return t.fanOut(keys, func(key string) error {
					_, err := t.Service.Borrow(ctx, user, key)
					return expect(err, outcome.BorrowLimitExceeded)
				})
			},
		}},
		Rollback: []Action{{
			Type:   "return-all",
			Target: "circulation.Return",
			Execute: func(ctx context.Context) error {
				var errs []error
				for _, key := range keys {
					errs = append(errs, t.drain(ctx, key))
				}
				return errors.Join(errs...)
			},
		}},
		Validation: []Assertion{
			{Probe: "invariant_violations", Condition: isZero, Message: "Item, loans and holds stay consistent"},
			{Probe: "users_over_limit", Condition: isZero, Message: "No user exceeds the borrow limit"},
		},
		Duration:    opts.Duration,
		SampleEvery: opts.SampleEvery,
	}
}

func isZero(v float64) bool { return v == 0 }

// expect treats a denial with one of the given codes as success.
func expect(err error, codes ...outcome.Code) error {
	if err == nil {
		return nil
	}
	for _, code := range codes {
		if outcome.Is(err, code) {
			return nil
		}
	}
	return err
}

// fanOut runs fn for every input concurrently and joins the errors.
func (t *Target) fanOut(inputs []string, fn func(string) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := make(chan struct{})
	for _, in := range inputs {
		wg.Add(1)
		go func(in string) {
			defer wg.Done()
			<-start
			if err := fn(in); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", in, err))
				mu.Unlock()
			}
		}(in)
	}
	close(start)
	wg.Wait()
	return errors.Join(errs...)
}

// setup ensures key exists and returns n student names.
func (t *Target) setup(ctx context.Context, key, prefix string, n int) ([]string, error) {
	if err := t.ensureItem(key); err != nil {
		return nil, err
	}
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("chaos-%s-%03d", prefix, i)
		if err := t.ensureUser(ctx, users[i], membership.Student); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (t *Target) ensureItem(key string) error {
	_, err := t.Items.Add(catalog.Item{Key: key, Title: "Chaos " + key, Kind: catalog.PrintedBook})
	if err != nil && !errors.Is(err, catalog.ErrDuplicateItem) {
		return err
	}
	return nil
}

func (t *Target) ensureUser(ctx context.Context, name string, role membership.Role) error {
	_, err := t.Users.Register(ctx, name, "", "", role)
	if err != nil && !errors.Is(err, membership.ErrDuplicateUser) {
		return err
	}
	return nil
}

func (t *Target) drainAction(key string) Action {
	return Action{
		Type:    "drain",
		Target:  key,
		Execute: func(ctx context.Context) error { return t.drain(ctx, key) },
	}
}

// drain returns every outstanding loan on key and cancels every hold, so
// the item ends up AVAILABLE.
func (t *Target) drain(ctx context.Context, key string) error {
	var errs []error
	for _, loan := range t.Loans.Outstanding(key) {
		if _, err := t.Service.Return(ctx, loan.User, key); err != nil {
			errs = append(errs, err)
		}
	}
	for _, hold := range t.Holds.Waiting(key) {
		if _, err := t.Service.CancelReservation(ctx, hold.User, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// internal/circulation/fixture_test.go
package circulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/logger"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/notify"
	"github.com/jules-labs/lending/internal/policy"
	"github.com/jules-labs/lending/internal/reservation"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
	Fatalf(format string, args ...any)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    Service
	items  *catalog.Registry
	users  *membership.Directory
	loans  *ledger.Ledger
	holds  *reservation.Scheduler
	policy *policy.Policy
	events *notify.Recorder
	clock  *clock
}

var fixtureUsers = map[string]membership.Role{
	"alice": membership.Student,
	"bob":   membership.Student,
	"u1":    membership.Student,
	"u2":    membership.Student,
	"u3":    membership.Student,
	"carol": membership.Researcher,
	"frank": membership.Faculty,
	"gary":  membership.Guest,
	"lisa":  membership.Librarian,
}

func newFixture(t tb, cfg Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		items:  catalog.NewRegistry(),
		users:  membership.NewDirectory(),
		loans:  ledger.New(),
		holds:  reservation.NewScheduler(),
		events: &notify.Recorder{},
		clock:  &clock{now: t0},
	}
	f.policy = policy.New(
		policy.NewRoleTable(policy.DefaultLimits),
		[]catalog.Kind{catalog.ResearchPaper},
		[]membership.Role{membership.Faculty, membership.Researcher},
	)

	for _, item := range []catalog.Item{
		{Key: "ISBN1", Title: "1984", Kind: catalog.PrintedBook},
		{Key: "ISBN2", Title: "Dune", Kind: catalog.PrintedBook},
		{Key: "ISBN3", Title: "Emma", Kind: catalog.PrintedBook},
		{Key: "ISBN4", Title: "Ulysses", Kind: catalog.PrintedBook},
		{Key: "EBOOK1", Title: "Go in Practice", Kind: catalog.EBook},
		{Key: "PAPER1", Title: "Consensus Revisited", Kind: catalog.ResearchPaper},
	} {
		_, err := f.items.Add(item)
		require.NoError(t, err)
	}
	for name, role := range fixtureUsers {
		_, err := f.users.Register(context.Background(), name, "", "", role)
		require.NoError(t, err)
	}

	opts = append([]Option{WithClock(f.clock.Now), WithLogger(logger.Discard())}, opts...)
	f.svc = NewService(Dependencies{
		Items:    f.items,
		Users:    f.users,
		Loans:    f.loans,
		Holds:    f.holds,
		Policy:   f.policy,
		Notifier: f.events,
	}, cfg, opts...)
	return f
}

func (f *fixture) addStudents(t tb, n int) []string {
	t.Helper()
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("student-%02d", i)
		_, err := f.users.Register(context.Background(), names[i], "", "", membership.Student)
		require.NoError(t, err)
	}
	return names
}

func (f *fixture) status(t tb, key string) catalog.Status {
	t.Helper()
	item, err := f.items.Get(key)
	require.NoError(t, err)
	return item.Status
}

func (f *fixture) user(t tb, name string) membership.User {
	t.Helper()
	u, err := f.users.Get(name)
	require.NoError(t, err)
	return u
}

func (f *fixture) holdOf(t tb, user, key string) reservation.Hold {
	t.Helper()
	holds := f.holds.Holds(key)
	for i := len(holds) - 1; i >= 0; i-- {
		if holds[i].User == user {
			return holds[i]
		}
	}
	t.Fatalf("no hold of %s on %s", user, key)
	return reservation.Hold{}
}

// internal/circulation/implementation_test.go
package circulation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/logger"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/notify"
	"github.com/jules-labs/lending/internal/outcome"
	"github.com/jules-labs/lending/internal/policy"
	"github.com/jules-labs/lending/internal/reservation"
)

func requireDenied(t *testing.T, err error, code outcome.Code, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, outcome.CodeOf(err), err.Error())
	if reason != "" {
		assert.Equal(t, reason, outcome.ReasonOf(err))
	}
}

func TestBorrowThenReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	loan, err := f.svc.Borrow(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Active, loan.Status)
	assert.Equal(t, t0.AddDate(0, 0, 14), loan.DueAt)
	assert.Equal(t, catalog.CheckedOut, f.status(t, "ISBN1"))
	assert.True(t, f.user(t, "alice").HasLoan("ISBN1"))

	_, err = f.svc.Borrow(ctx, "bob", "ISBN1")
	requireDenied(t, err, outcome.ItemUnavailable, "item is already checked out")

	_, err = f.svc.Return(ctx, "bob", "ISBN1")
	requireDenied(t, err, outcome.NoActiveLoan, "no active loan for this user and item")

	f.clock.Advance(time.Hour)
	returned, err := f.svc.Return(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Returned, returned.Status)
	assert.Equal(t, t0.Add(time.Hour), returned.ReturnedAt)
	assert.Equal(t, catalog.Available, f.status(t, "ISBN1"))
	assert.False(t, f.user(t, "alice").HasLoan("ISBN1"))

	_, err = f.svc.Return(ctx, "alice", "ISBN1")
	requireDenied(t, err, outcome.NoActiveLoan, "nothing to return, item is already available")

	assert.Empty(t, f.events.Events())
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestUnknownUserAndItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Borrow(ctx, "nobody", "ISBN1")
	requireDenied(t, err, outcome.NotFound, "unknown user nobody")
	_, err = f.svc.Reserve(ctx, "alice", "missing")
	requireDenied(t, err, outcome.NotFound, "unknown item missing")
	_, err = f.svc.CompleteLoan(ctx, uuid.New())
	requireDenied(t, err, outcome.NotFound, "")
}

func TestRevokeBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()

	t.Run("exactly two hours", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		_, err := f.svc.Borrow(ctx, "alice", "ISBN1")
		require.NoError(t, err)

		f.clock.Advance(2 * time.Hour)
		loan, err := f.svc.Revoke(ctx, "alice", "ISBN1")
		require.NoError(t, err)
		assert.Equal(t, ledger.Revoked, loan.Status)
		assert.Equal(t, catalog.Available, f.status(t, "ISBN1"))
		assert.Empty(t, f.user(t, "alice").CurrentLoans)
	})

	t.Run("one second past two hours", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		_, err := f.svc.Borrow(ctx, "alice", "ISBN1")
		require.NoError(t, err)

		f.clock.Advance(2*time.Hour + time.Second)
		_, err = f.svc.Revoke(ctx, "alice", "ISBN1")
		requireDenied(t, err, outcome.RevokeWindowExpired, "revoke window passed")
		assert.Equal(t, catalog.CheckedOut, f.status(t, "ISBN1"))
		assert.True(t, f.user(t, "alice").HasLoan("ISBN1"))
	})

	t.Run("nothing to revoke", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		_, err := f.svc.Revoke(ctx, "alice", "ISBN1")
		requireDenied(t, err, outcome.NoActiveLoan, "")
	})
}

func TestRevokePromotesNextHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Borrow(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	res, err := f.svc.Reserve(ctx, "bob", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, reservation.Pending, res.Hold.Status)

	_, err = f.svc.Revoke(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"))
	assert.Equal(t, reservation.Active, f.holdOf(t, "bob", "ISBN1").Status)
	require.Len(t, f.events.OfKind(notify.ReservationAvailable), 1)
}

func TestReservationQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	first, err := f.svc.Reserve(ctx, "u1", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, reservation.Active, first.Hold.Status)
	assert.Equal(t, t0.AddDate(0, 0, 3), first.Hold.ExpiresAt)
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"))

	f.clock.Advance(time.Minute)
	second, err := f.svc.Reserve(ctx, "u2", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)
	assert.Equal(t, reservation.Pending, second.Hold.Status)
	assert.True(t, second.Hold.ExpiresAt.IsZero())

	f.clock.Advance(time.Minute)
	third, err := f.svc.Reserve(ctx, "u3", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, 3, third.Position)

	_, err = f.svc.Borrow(ctx, "u2", "ISBN1")
	requireDenied(t, err, outcome.HeldByAnotherUser, "item is reserved for u1")

	_, err = f.svc.Borrow(ctx, "u1", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, reservation.Fulfilled, f.holdOf(t, "u1", "ISBN1").Status)
	assert.Equal(t, reservation.Pending, f.holdOf(t, "u2", "ISBN1").Status)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Return(ctx, "u1", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"))
	assert.Equal(t, reservation.Active, f.holdOf(t, "u2", "ISBN1").Status)
	assert.Equal(t, reservation.Pending, f.holdOf(t, "u3", "ISBN1").Status)

	available := f.events.OfKind(notify.ReservationAvailable)
	require.Len(t, available, 2)
	assert.Equal(t, "u1", available[0].User)
	assert.Equal(t, "u2", available[1].User)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 3), available[1].Due)
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestHoldExpiryIsAppliedOnNextTouch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Reserve(ctx, "u1", "ISBN1")
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, "u2", "ISBN1")
	require.NoError(t, err)

	f.clock.Advance(3*24*time.Hour + time.Second)
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"), "expiry is lazy")

	_, err = f.svc.Borrow(ctx, "bob", "ISBN1")
	requireDenied(t, err, outcome.HeldByAnotherUser, "item is reserved for u2")

	assert.Equal(t, reservation.Expired, f.holdOf(t, "u1", "ISBN1").Status)
	assert.Equal(t, reservation.Active, f.holdOf(t, "u2", "ISBN1").Status)
	expired := f.events.OfKind(notify.ReservationExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "u1", expired[0].User)

	_, err = f.svc.Borrow(ctx, "u1", "ISBN1")
	requireDenied(t, err, outcome.HeldByAnotherUser, "item is reserved for u2")

	f.clock.Advance(3*24*time.Hour + time.Second)
	_, err = f.svc.Borrow(ctx, "bob", "ISBN1")
	require.NoError(t, err, "last hold expired, item is free again")
	assert.Len(t, f.events.OfKind(notify.ReservationExpired), 2)
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestSweepExpiredHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Reserve(ctx, "u1", "ISBN1")
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, "u2", "ISBN2")
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, "u3", "ISBN2")
	require.NoError(t, err)

	assert.Zero(t, f.svc.SweepExpiredHolds(ctx))

	f.clock.Advance(4 * 24 * time.Hour)
	assert.Equal(t, 2, f.svc.SweepExpiredHolds(ctx))
	assert.Equal(t, catalog.Available, f.status(t, "ISBN1"))
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN2"))
	assert.Equal(t, reservation.Active, f.holdOf(t, "u3", "ISBN2").Status)
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Borrow(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, catalog.CheckedOut, f.status(t, "ISBN1"))

	res, err := f.svc.Reserve(ctx, "frank", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, reservation.Pending, res.Hold.Status)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, catalog.CheckedOut, f.status(t, "ISBN1"))

	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.Return(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"))
	assert.Equal(t, reservation.Active, f.holdOf(t, "frank", "ISBN1").Status)
	available := f.events.OfKind(notify.ReservationAvailable)
	require.Len(t, available, 1)
	assert.Equal(t, "frank", available[0].User)

	loan, err := f.svc.Borrow(ctx, "frank", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Active, loan.Status)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 30), loan.DueAt)
	assert.Equal(t, reservation.Fulfilled, f.holdOf(t, "frank", "ISBN1").Status)
	assert.Equal(t, catalog.CheckedOut, f.status(t, "ISBN1"))
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestPriorityOverride(t *testing.T) {
	ctx := context.Background()

	t.Run("faculty takes a reserved item", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())

		_, err := f.svc.Reserve(ctx, "carol", "ISBN1")
		require.NoError(t, err)
		res, err := f.svc.Reserve(ctx, "frank", "ISBN1")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Position)

		loan, err := f.svc.Borrow(ctx, "frank", "ISBN1")
		require.NoError(t, err)
		assert.Equal(t, "frank", loan.User)
		assert.Equal(t, catalog.CheckedOut, f.status(t, "ISBN1"))
		assert.Equal(t, reservation.Cancelled, f.holdOf(t, "frank", "ISBN1").Status)

		displaced := f.holdOf(t, "carol", "ISBN1")
		assert.Equal(t, reservation.Pending, displaced.Status)
		assert.True(t, displaced.ExpiresAt.IsZero())
		assert.Equal(t, 1, f.holds.Position("carol", "ISBN1"))
		require.NoError(t, f.svc.AuditAll(ctx))

		_, err = f.svc.Return(ctx, "frank", "ISBN1")
		require.NoError(t, err)
		assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"))
		assert.Equal(t, reservation.Active, f.holdOf(t, "carol", "ISBN1").Status)
		assert.Len(t, f.events.OfKind(notify.ReservationAvailable), 2)
	})

	t.Run("override disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PriorityOverride = false
		f := newFixture(t, cfg)

		_, err := f.svc.Reserve(ctx, "carol", "ISBN1")
		require.NoError(t, err)
		_, err = f.svc.Borrow(ctx, "frank", "ISBN1")
		requireDenied(t, err, outcome.HeldByAnotherUser, "item is reserved for carol")
	})

	t.Run("priority role is configuration", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PriorityRole = membership.Librarian
		f := newFixture(t, cfg)

		_, err := f.svc.Reserve(ctx, "carol", "ISBN1")
		require.NoError(t, err)
		_, err = f.svc.Borrow(ctx, "frank", "ISBN1")
		requireDenied(t, err, outcome.HeldByAnotherUser, "")
		_, err = f.svc.Borrow(ctx, "lisa", "ISBN1")
		require.NoError(t, err)
	})
}

func TestGuestCannotReserveOrBorrow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	_, err := f.svc.Reserve(ctx, "u1", "ISBN2")
	require.NoError(t, err)
	f.events.Reset()

	for _, key := range []string{"ISBN1", "ISBN2", "EBOOK1", "PAPER1"} {
		before := f.status(t, key)
		holdsBefore := len(f.holds.Holds(key))

		_, err := f.svc.Reserve(ctx, "gary", key)
		requireDenied(t, err, outcome.PermissionDenied, "guests cannot place reservations")
		_, err = f.svc.Borrow(ctx, "gary", key)
		requireDenied(t, err, outcome.PermissionDenied, "guests cannot borrow items")

		assert.Equal(t, before, f.status(t, key))
		assert.Len(t, f.holds.Holds(key), holdsBefore)
		assert.Empty(t, f.loans.ForItem(key))
	}
	assert.Empty(t, f.user(t, "gary").CurrentLoans)
	assert.Empty(t, f.events.Events())
}

func TestRestrictedKinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Borrow(ctx, "alice", "PAPER1")
	requireDenied(t, err, outcome.PermissionDenied, "only RESEARCHER or FACULTY may borrow RESEARCH_PAPER items")
	_, err = f.svc.Reserve(ctx, "lisa", "PAPER1")
	requireDenied(t, err, outcome.PermissionDenied, "")

	_, err = f.svc.Borrow(ctx, "carol", "PAPER1")
	require.NoError(t, err)
}

func TestBorrowLimitReadsCurrentRoleTable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	for _, key := range []string{"ISBN1", "ISBN2", "ISBN3"} {
		_, err := f.svc.Borrow(ctx, "alice", key)
		require.NoError(t, err)
	}
	_, err := f.svc.Borrow(ctx, "alice", "ISBN4")
	requireDenied(t, err, outcome.BorrowLimitExceeded, "borrow limit reached (3 items)")
	assert.Equal(t, catalog.Available, f.status(t, "ISBN4"))

	require.NoError(t, f.policy.Roles().Set(membership.Student, policy.Limits{BorrowLimit: 4, LoanDurationDays: 7}))
	loan, err := f.svc.Borrow(ctx, "alice", "ISBN4")
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, 7), loan.DueAt)
}

func TestReserveRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("holder and queued user", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		_, err := f.svc.Reserve(ctx, "u1", "ISBN1")
		require.NoError(t, err)
		_, err = f.svc.Reserve(ctx, "u2", "ISBN1")
		require.NoError(t, err)

		_, err = f.svc.Reserve(ctx, "u1", "ISBN1")
		requireDenied(t, err, outcome.AlreadyReserved, "item is already reserved for you")
		_, err = f.svc.Reserve(ctx, "u2", "ISBN1")
		requireDenied(t, err, outcome.DuplicateReservation, "you already have a reservation for this item")
	})

	t.Run("borrower", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		_, err := f.svc.Borrow(ctx, "alice", "ISBN1")
		require.NoError(t, err)
		_, err = f.svc.Reserve(ctx, "alice", "ISBN1")
		requireDenied(t, err, outcome.DuplicateReservation, "you already have this item on loan")
	})

	t.Run("strict reserved state", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.QueueBehindActiveHold = false
		f := newFixture(t, cfg)
		_, err := f.svc.Reserve(ctx, "u1", "ISBN1")
		require.NoError(t, err)
		_, err = f.svc.Reserve(ctx, "u2", "ISBN1")
		requireDenied(t, err, outcome.AlreadyReserved, "item is already reserved")
		assert.Len(t, f.holds.Holds("ISBN1"), 1)
	})
}

func TestReturnReasonsFollowItemState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Reserve(ctx, "u1", "ISBN1")
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, "u1", "ISBN1")
	requireDenied(t, err, outcome.NoActiveLoan, "cannot return a reserved item that has not been borrowed")
}

func TestCancelReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.CancelReservation(ctx, "u1", "ISBN1")
	requireDenied(t, err, outcome.NothingToCancel, "no reservation to cancel")

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := f.svc.Reserve(ctx, u, "ISBN1")
		require.NoError(t, err)
	}

	hold, err := f.svc.CancelReservation(ctx, "u3", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, reservation.Cancelled, hold.Status)
	assert.Equal(t, reservation.Active, f.holdOf(t, "u1", "ISBN1").Status)

	_, err = f.svc.CancelReservation(ctx, "u1", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"))
	assert.Equal(t, reservation.Active, f.holdOf(t, "u2", "ISBN1").Status)

	_, err = f.svc.CancelReservation(ctx, "u2", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, catalog.Available, f.status(t, "ISBN1"))

	_, err = f.svc.CancelReservation(ctx, "u2", "ISBN1")
	requireDenied(t, err, outcome.NothingToCancel, "")
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestUnderReviewRejectsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Borrow(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, "bob", "ISBN1")
	require.NoError(t, err)

	item, err := f.svc.PlaceUnderReview(ctx, "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, catalog.UnderReview, item.Status)

	_, err = f.svc.Borrow(ctx, "u1", "ISBN1")
	requireDenied(t, err, outcome.ItemUnavailable, "item is under review")
	_, err = f.svc.Return(ctx, "alice", "ISBN1")
	requireDenied(t, err, outcome.ItemUnavailable, "item is under review")
	_, err = f.svc.Revoke(ctx, "alice", "ISBN1")
	requireDenied(t, err, outcome.ItemUnavailable, "item is under review")
	_, err = f.svc.Reserve(ctx, "u1", "ISBN1")
	requireDenied(t, err, outcome.ItemUnavailable, "item is under review")
	_, err = f.svc.CancelReservation(ctx, "bob", "ISBN1")
	requireDenied(t, err, outcome.ItemUnavailable, "item is under review")

	_, err = f.svc.ReleaseReview(ctx, "ISBN2")
	requireDenied(t, err, outcome.ItemUnavailable, "item is not under review")

	item, err = f.svc.ReleaseReview(ctx, "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, catalog.CheckedOut, item.Status)

	_, err = f.svc.Return(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"))
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestCompleteLoan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	loan, err := f.svc.Borrow(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, "bob", "ISBN1")
	require.NoError(t, err)

	done, err := f.svc.CompleteLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Completed, done.Status)
	assert.False(t, f.user(t, "alice").HasLoan("ISBN1"))
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"))

	_, err = f.svc.CompleteLoan(ctx, loan.ID)
	requireDenied(t, err, outcome.NoActiveLoan, "loan is already COMPLETED")

	second, err := f.svc.Borrow(ctx, "bob", "ISBN1")
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, "bob", "ISBN1")
	require.NoError(t, err)
	archived, err := f.svc.CompleteLoan(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Completed, archived.Status)
	assert.Equal(t, catalog.Available, f.status(t, "ISBN1"))
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestOverdueAndReminders(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RemindOnReturn = false
	f := newFixture(t, cfg)

	_, err := f.svc.Borrow(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, "frank", "ISBN2")
	require.NoError(t, err)

	f.clock.Advance(13*24*time.Hour + time.Hour)
	assert.Equal(t, 1, f.svc.SendDueReminders(ctx))
	assert.Zero(t, f.svc.SendDueReminders(ctx))

	reminders := f.events.OfKind(notify.DueDateApproaching)
	require.Len(t, reminders, 1)
	assert.Equal(t, "alice", reminders[0].User)
	assert.Equal(t, t0.AddDate(0, 0, 14), reminders[0].Due)
	assert.Empty(t, f.svc.MarkOverdue(ctx))

	f.clock.Advance(2 * 24 * time.Hour)
	overdue := f.svc.MarkOverdue(ctx)
	require.Len(t, overdue, 1)
	assert.Equal(t, ledger.Overdue, overdue[0].Status)

	loan, err := f.svc.Return(ctx, "alice", "ISBN1")
	require.NoError(t, err, "overdue loans are still returnable")
	assert.Equal(t, ledger.Returned, loan.Status)
}

func TestRemindOnReturnOnlyCoversTheReturningUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Borrow(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, "bob", "ISBN2")
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, "bob", "ISBN3")
	require.NoError(t, err)

	f.clock.Advance(13*24*time.Hour + time.Hour)
	_, err = f.svc.Return(ctx, "bob", "ISBN2")
	require.NoError(t, err)

	reminders := f.events.OfKind(notify.DueDateApproaching)
	require.Len(t, reminders, 1)
	assert.Equal(t, "bob", reminders[0].User)
	assert.Equal(t, "ISBN3", reminders[0].Item)

	assert.Equal(t, 1, f.svc.SendDueReminders(ctx), "alice is left to the scheduled run")
	assert.Zero(t, f.svc.SendDueReminders(ctx))
}

func TestBorrowWithoutLoanPeriodIsDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	roles := policy.NewRoleTable(map[membership.Role]policy.Limits{
		membership.Student: {BorrowLimit: 3, LoanDurationDays: 0},
	})
	svc := NewService(Dependencies{
		Items:    f.items,
		Users:    f.users,
		Loans:    f.loans,
		Holds:    f.holds,
		Policy:   policy.New(roles, nil, nil),
		Notifier: f.events,
	}, DefaultConfig(), WithClock(f.clock.Now), WithLogger(logger.Discard()))

	_, err := svc.Borrow(ctx, "alice", "ISBN1")
	requireDenied(t, err, outcome.PermissionDenied, "STUDENT has no loan period")
	assert.Empty(t, f.user(t, "alice").CurrentLoans)
	assert.Empty(t, f.loans.History("alice"))
	assert.Equal(t, catalog.Available, f.status(t, "ISBN1"))
}

func TestItemAndLoanViews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.Borrow(ctx, "alice", "ISBN1")
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, "bob", "ISBN1")
	require.NoError(t, err)

	view, err := f.svc.Item(ctx, "ISBN1")
	require.NoError(t, err)
	require.NotNil(t, view.Loan)
	assert.Equal(t, "alice", view.Loan.User)
	require.Len(t, view.Queue, 1)
	assert.Equal(t, "bob", view.Queue[0].User)

	loans, err := f.svc.Loans(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, loans, 1)

	_, err = f.svc.Loans(ctx, "nobody")
	requireDenied(t, err, outcome.NotFound, "")
}

func TestAuditDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	_, err := f.items.SetStatus("ISBN1", catalog.Reserved)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Audit(ctx, "ISBN1"), ErrInvariantViolated)

	require.NoError(t, f.users.AddLoan("alice", "ISBN2", 3))
	err = f.svc.AuditAll(ctx)
	assert.ErrorIs(t, err, ErrInvariantViolated)
	assert.Contains(t, err.Error(), "alice lists the item")
}

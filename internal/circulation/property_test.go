// internal/circulation/property_test.go
package circulation

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/outcome"
)

func TestInvariantsHoldUnderRandomOperations(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		cfg := DefaultConfig()
		cfg.PriorityOverride = rapid.Bool().Draw(rt, "override")
		cfg.QueueBehindActiveHold = rapid.Bool().Draw(rt, "queueBehind")
		f := newFixture(rt, cfg)

		users := []string{"alice", "bob", "carol", "frank", "gary", "lisa"}
		items := []string{"ISBN1", "ISBN2", "PAPER1"}

		steps := rapid.IntRange(1, 80).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			user := rapid.SampledFrom(users).Draw(rt, "user")
			key := rapid.SampledFrom(items).Draw(rt, "item")

			var err error
			switch rapid.IntRange(0, 8).Draw(rt, "op") {
			case 0, 1:
				_, err = f.svc.Borrow(ctx, user, key)
			case 2:
				_, err = f.svc.Return(ctx, user, key)
			case 3:
				_, err = f.svc.Revoke(ctx, user, key)
			case 4:
				_, err = f.svc.Reserve(ctx, user, key)
			case 5:
				_, err = f.svc.CancelReservation(ctx, user, key)
			case 6:
				f.clock.Advance(time.Duration(rapid.IntRange(1, 120).Draw(rt, "hours")) * time.Hour)
			case 7:
				f.svc.SweepExpiredHolds(ctx)
				f.svc.MarkOverdue(ctx)
			case 8:
				if f.status(rt, key) == catalog.UnderReview {
					_, err = f.svc.ReleaseReview(ctx, key)
				} else {
					_, err = f.svc.PlaceUnderReview(ctx, key)
				}
			}

			if err != nil && outcome.CodeOf(err) == "" {
				rt.Fatalf("step %d: unexpected infrastructure error: %v", i, err)
			}
			if err := f.svc.AuditAll(ctx); err != nil {
				rt.Fatalf("step %d: %v", i, err)
			}
		}

		if guest := f.user(rt, "gary"); len(guest.CurrentLoans) != 0 {
			rt.Fatalf("guest holds loans: %v", guest.CurrentLoans)
		}
		for _, key := range items {
			for _, h := range f.holds.Holds(key) {
				if h.User == "gary" {
					rt.Fatalf("guest placed a hold on %s", key)
				}
			}
		}
	})
}

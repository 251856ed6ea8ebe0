// internal/circulation/concurrency_test.go
package circulation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/outcome"
)

func TestConcurrentBorrowsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	students := f.addStudents(t, 10)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, name := range students {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := f.svc.Borrow(ctx, name, "ISBN1")
			if err == nil {
				wins.Add(1)
				return
			}
			assert.Equal(t, outcome.ItemUnavailable, outcome.CodeOf(err))
		}(name)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Len(t, f.loans.Outstanding("ISBN1"), 1)
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestConcurrentBorrowsRespectTheLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	keys := make([]string, 12)
	for i := range keys {
		keys[i] = fmt.Sprintf("extra-%02d", i)
		_, err := f.items.Add(catalog.Item{Key: keys[i], Title: keys[i], Kind: catalog.PrintedBook})
		require.NoError(t, err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if _, err := f.svc.Borrow(ctx, "alice", key); err == nil {
				wins.Add(1)
			} else {
				assert.Equal(t, outcome.BorrowLimitExceeded, outcome.CodeOf(err))
			}
		}(key)
	}
	wg.Wait()

	assert.Equal(t, int32(3), wins.Load())
	assert.Len(t, f.user(t, "alice").CurrentLoans, 3)
	require.NoError(t, f.svc.AuditAll(ctx))
}

func TestConcurrentReservationsKeepOneActiveHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	students := f.addStudents(t, 20)

	var wg sync.WaitGroup
	positions := make([]int, len(students))
	for i, name := range students {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			res, err := f.svc.Reserve(ctx, name, "ISBN1")
			if assert.NoError(t, err) {
				positions[i] = res.Position
			}
		}(i, name)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, p := range positions {
		assert.False(t, seen[p], "position %d handed out twice", p)
		seen[p] = true
	}
	assert.Len(t, seen, len(students))
	assert.Equal(t, catalog.Reserved, f.status(t, "ISBN1"))
	require.NoError(t, f.svc.AuditAll(ctx))
}

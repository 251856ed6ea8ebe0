// internal/reservation/scheduler.go
package reservation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHoldDays is the pickup window granted to an activated hold.
const DefaultHoldDays = 3

var (
	ErrDuplicateHold   = errors.New("user already holds a reservation for this item")
	ErrHoldNotFound    = errors.New("no reservation found")
	ErrInvalidHoldDays = errors.New("invalid hold days")
)

type queue struct {
	mu    sync.Mutex
	holds []*Hold
}

// head returns the first non-terminal hold.
func (q *queue) head() *Hold {
	for _, h := range q.holds {
		if !h.Status.Terminal() {
			return h
		}
	}
	return nil
}

func (q *queue) find(user string) *Hold {
	for _, h := range q.holds {
		if h.User == user && !h.Status.Terminal() {
			return h
		}
	}
	return nil
}

// Scheduler keeps one FIFO queue of holds per item. Terminal holds stay in
// the queue as history and are skipped by every queue operation.
type Scheduler struct {
	mu     sync.RWMutex
	queues map[string]*queue
}

func NewScheduler() *Scheduler {
	return &Scheduler{queues: make(map[string]*queue)}
}

func (s *Scheduler) queueFor(item string, create bool) *queue {
	s.mu.RLock()
	q, ok := s.queues[item]
	s.mu.RUnlock()
	if ok || !create {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok = s.queues[item]; !ok {
		q = &queue{}
		s.queues[item] = q
	}
	return q
}

// Request appends a PENDING hold for user and returns it with its 1-based
// position among the item's non-terminal holds.
func (s *Scheduler) Request(user, item string, holdDays int, now time.Time) (Hold, int, error) {
	if holdDays <= 0 {
		return Hold{}, 0, fmt.Errorf("%w: %d", ErrInvalidHoldDays, holdDays)
	}

	q := s.queueFor(item, true)
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.find(user) != nil {
		return Hold{}, 0, ErrDuplicateHold
	}
	h := &Hold{
		ID:          uuid.New(),
		User:        user,
		Item:        item,
		RequestedAt: now,
		HoldDays:    holdDays,
		Status:      Pending,
	}
	q.holds = append(q.holds, h)
	return *h, q.position(user), nil
}

func (q *queue) position(user string) int {
	pos := 0
	for _, h := range q.holds {
		if h.Status.Terminal() {
			continue
		}
		pos++
		if h.User == user {
			return pos
		}
	}
	return 0
}

// Head returns the first non-terminal hold of item.
func (s *Scheduler) Head(item string) (Hold, bool) {
	var out Hold
	found := s.withQueue(item, func(q *queue) bool {
		if h := q.head(); h != nil {
			out = *h
			return true
		}
		return false
	})
	return out, found
}

// ActiveHold returns the head hold when it is ACTIVE.
func (s *Scheduler) ActiveHold(item string) (Hold, bool) {
	h, ok := s.Head(item)
	if !ok || h.Status != Active {
		return Hold{}, false
	}
	return h, true
}

// HoldFor returns user's non-terminal hold on item.
func (s *Scheduler) HoldFor(user, item string) (Hold, bool) {
	var out Hold
	found := s.withQueue(item, func(q *queue) bool {
		if h := q.find(user); h != nil {
			out = *h
			return true
		}
		return false
	})
	return out, found
}

// ActivateHead turns a PENDING head into ACTIVE with a fresh pickup window.
// It reports false when there is no head or the head is already ACTIVE.
func (s *Scheduler) ActivateHead(item string, now time.Time) (Hold, bool) {
	var out Hold
	changed := s.withQueue(item, func(q *queue) bool {
		h := q.head()
		if h == nil || h.Status != Pending {
			return false
		}
		h.Status = Active
		h.ExpiresAt = now.AddDate(0, 0, h.HoldDays)
		out = *h
		return true
	})
	return out, changed
}

// ExpireHead closes an ACTIVE head whose pickup window has passed.
func (s *Scheduler) ExpireHead(item string, now time.Time) (Hold, bool) {
	var out Hold
	changed := s.withQueue(item, func(q *queue) bool {
		h := q.head()
		if h == nil || !h.Expired(now) {
			return false
		}
		h.Status = Expired
		h.ClosedAt = now
		out = *h
		return true
	})
	return out, changed
}

// Demote returns an ACTIVE head to PENDING without moving it in the queue.
func (s *Scheduler) Demote(item string) (Hold, bool) {
	var out Hold
	changed := s.withQueue(item, func(q *queue) bool {
		h := q.head()
		if h == nil || h.Status != Active {
			return false
		}
		h.Status = Pending
		h.ExpiresAt = time.Time{}
		out = *h
		return true
	})
	return out, changed
}

// Cancel closes user's hold on item and reports whether it was the head.
func (s *Scheduler) Cancel(user, item string, now time.Time) (Hold, bool, error) {
	return s.close(user, item, Cancelled, now)
}

// Consume marks user's hold FULFILLED after the user borrowed the item.
func (s *Scheduler) Consume(user, item string, now time.Time) (Hold, error) {
	h, _, err := s.close(user, item, Fulfilled, now)
	return h, err
}

func (s *Scheduler) close(user, item string, status Status, now time.Time) (Hold, bool, error) {
	q := s.queueFor(item, false)
	if q == nil {
		return Hold{}, false, ErrHoldNotFound
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	h := q.find(user)
	if h == nil {
		return Hold{}, false, ErrHoldNotFound
	}
	wasHead := q.head() == h
	h.Status = status
	h.ClosedAt = now
	return *h, wasHead, nil
}

// Position returns user's 1-based place among non-terminal holds, or 0.
func (s *Scheduler) Position(user, item string) int {
	pos := 0
	s.withQueue(item, func(q *queue) bool {
		pos = q.position(user)
		return pos > 0
	})
	return pos
}

// Holds returns every hold ever placed on item in request order.
func (s *Scheduler) Holds(item string) []Hold {
	var out []Hold
	s.withQueue(item, func(q *queue) bool {
		out = make([]Hold, 0, len(q.holds))
		for _, h := range q.holds {
			out = append(out, *h)
		}
		return true
	})
	return out
}

// Waiting returns the non-terminal holds of item in queue order.
func (s *Scheduler) Waiting(item string) []Hold {
	var out []Hold
	s.withQueue(item, func(q *queue) bool {
		for _, h := range q.holds {
			if !h.Status.Terminal() {
				out = append(out, *h)
			}
		}
		return true
	})
	return out
}

// ForUser returns user's non-terminal holds across all items.
func (s *Scheduler) ForUser(user string) []Hold {
	var out []Hold
	for _, q := range s.snapshot() {
		q.mu.Lock()
		if h := q.find(user); h != nil {
			out = append(out, *h)
		}
		q.mu.Unlock()
	}
	return out
}

// ExpiringItems lists items whose ACTIVE head hold has expired at now.
func (s *Scheduler) ExpiringItems(now time.Time) []string {
	s.mu.RLock()
	items := make(map[string]*queue, len(s.queues))
	for item, q := range s.queues {
		items[item] = q
	}
	s.mu.RUnlock()

	var out []string
	for item, q := range items {
		q.mu.Lock()
		if h := q.head(); h != nil && h.Expired(now) {
			out = append(out, item)
		}
		q.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) snapshot() []*queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*queue, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, q)
	}
	return out
}

// withQueue runs fn under item's queue lock and returns its result. Items
// that were never reserved report false.
func (s *Scheduler) withQueue(item string, fn func(*queue) bool) bool {
	q := s.queueFor(item, false)
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return fn(q)
}

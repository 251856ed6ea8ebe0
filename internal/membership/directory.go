// internal/membership/directory.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("user already registered")
	ErrInvalidUser        = errors.New("invalid user")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrLoanLimit          = errors.New("borrow limit reached")
)

type entry struct {
	user User
	cred credential
}

// Directory is the read-mostly user directory. It owns each user's
// current_loans set; the circulation service is the only writer of that set.
type Directory struct {
	mu          sync.RWMutex
	users       map[string]*entry
	byEmail     map[string]string
	rateLimiter *rate.Limiter
}

// NewDirectory creates an empty directory. Authentication is limited to
// 5 attempts per minute with a burst of 5.
func NewDirectory() *Directory {
	return &Directory{
		users:       make(map[string]*entry),
		byEmail:     make(map[string]string),
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/5), 5),
	}
}

// Register adds a user. An empty password registers a user that cannot log in.
func (d *Directory) Register(ctx context.Context, name, email, password string, role Role) (User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidUser)
	}
	if !role.valid() {
		return User{}, fmt.Errorf("%w: unknown role %d", ErrInvalidUser, int(role))
	}

	var cred credential
	if password != "" {
		hash, salt, err := hashPassword(password)
		if err != nil {
			return User{}, fmt.Errorf("failed to hash password: %w", err)
		}
		cred = credential{PasswordHash: hash, Salt: salt}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.users[name]; exists {
		return User{}, fmt.Errorf("%w: %s", ErrDuplicateUser, name)
	}
	if email != "" {
		if _, exists := d.byEmail[email]; exists {
			return User{}, fmt.Errorf("%w: %s", ErrDuplicateUser, email)
		}
		d.byEmail[email] = name
	}
	d.users[name] = &entry{
		user: User{Name: name, Email: email, Role: role, CurrentLoans: []string{}},
		cred: cred,
	}
	return d.users[name].user.clone(), nil
}

// Authenticate verifies a user's credentials and returns the user if successful.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (User, error) {
	if !d.rateLimiter.Allow() {
		return User{}, ErrRateLimited
	}

	d.mu.RLock()
	name, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	var e entry
	if ok {
		e = *d.users[name]
	}
	d.mu.RUnlock()

	if !ok || e.cred.PasswordHash == "" {
		return User{}, fmt.Errorf("authentication failed: %w", ErrInvalidCredentials)
	}

	match, err := verifyPassword(password, e.cred.Salt, e.cred.PasswordHash)
	if err != nil {
		return User{}, fmt.Errorf("authentication failed: %w", err)
	}
	if !match {
		return User{}, fmt.Errorf("authentication failed: %w", ErrInvalidCredentials)
	}
	return e.user.clone(), nil
}

// Get returns a copy of the named user.
func (d *Directory) Get(name string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.users[name]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, name)
	}
	return e.user.clone(), nil
}

// List returns every user, unordered.
func (d *Directory) List() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]User, 0, len(d.users))
	for _, e := range d.users {
		users = append(users, e.user.clone())
	}
	return users
}

// SetRole changes a user's role.
func (d *Directory) SetRole(name string, role Role) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.users[name]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, name)
	}
	e.user.Role = role
	return e.user.clone(), nil
}

// AddLoan adds key to the user's current loans unless that would reach
// beyond limit. The check and the insert are atomic so concurrent borrows of
// different items cannot overshoot the limit.
func (d *Directory) AddLoan(name, key string, limit int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.users[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, name)
	}
	if e.user.HasLoan(key) {
		return nil
	}
	if len(e.user.CurrentLoans) >= limit {
		return fmt.Errorf("%w (%d items)", ErrLoanLimit, limit)
	}
	e.user.CurrentLoans = append(e.user.CurrentLoans, key)
	return nil
}

// RemoveLoan removes key from the user's current loans. Removing a key that
// is not present is a no-op.
func (d *Directory) RemoveLoan(name, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.users[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, name)
	}
	loans := e.user.CurrentLoans[:0]
	for _, k := range e.user.CurrentLoans {
		if k != key {
			loans = append(loans, k)
		}
	}
	e.user.CurrentLoans = loans
	return nil
}

func (u User) clone() User {
	out := u
	out.CurrentLoans = append([]string{}, u.CurrentLoans...)
	return out
}

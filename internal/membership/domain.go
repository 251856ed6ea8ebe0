// internal/membership/domain.go
package membership

import (
	"fmt"
	"strings"

	"github.com/jules-labs/lending/internal/validation"
)

// Role decides a user's eligibility and limits.
type Role int

const (
	Student Role = iota + 1
	Researcher
	Faculty
	Guest
	Librarian
)

// Roles lists every role in declaration order.
var Roles = []Role{Student, Researcher, Faculty, Guest, Librarian}

func (r Role) String() string {
	switch r {
	case Student:
		return "STUDENT"
	case Researcher:
		return "RESEARCHER"
	case Faculty:
		return "FACULTY"
	case Guest:
		return "GUEST"
	case Librarian:
		return "LIBRARIAN"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for _, r := range Roles {
		if r.String() == norm {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) valid() bool {
	return r >= Student && r <= Librarian
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User represents a registered library user.
type User struct {
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Role         Role     `json:"role"`
	CurrentLoans []string `json:"current_loans"`
}

// HasLoan reports whether key is among the user's current loans.
func (u User) HasLoan(key string) bool {
	for _, k := range u.CurrentLoans {
		if k == key {
			return true
		}
	}
	return false
}

// credential holds a user's login secret.
type credential struct {
	PasswordHash string
	Salt         string
}

// RoleRule validates role names under the "role" tag.
func RoleRule() validation.Rule {
	return validation.Rule{Tag: "role", Valid: func(s string) bool {
		_, err := ParseRole(s)
		return err == nil
	}}
}

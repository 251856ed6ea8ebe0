// internal/config/seed.go
package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/membership"
)

// SeedConfig lists the catalog items and users created at startup.
type SeedConfig struct {
	Items []SeedItem `yaml:"items" validate:"dive"`
	Users []SeedUser `yaml:"users" validate:"dive"`
}

type SeedItem struct {
	Key     string   `yaml:"key" validate:"required"`
	Title   string   `yaml:"title" validate:"required"`
	Authors []string `yaml:"authors"`
	Kind    string   `yaml:"kind" validate:"required,kind"`
}

type SeedUser struct {
	Name     string `yaml:"name" validate:"required"`
	Email    string `yaml:"email" validate:"omitempty,email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role" validate:"required,role"`
}

// Apply adds the seed items and users. Entries that already exist are
// skipped, so applying the same seed twice is harmless.
func (s SeedConfig) Apply(ctx context.Context, items *catalog.Registry, users *membership.Directory) (added int, err error) {
	for _, si := range s.Items {
		kind, err := catalog.ParseKind(si.Kind)
		if err != nil {
			return added, fmt.Errorf("seed item %s: %w", si.Key, err)
		}
		_, err = items.Add(catalog.Item{Key: si.Key, Title: si.Title, Authors: si.Authors, Kind: kind})
		switch {
		case errors.Is(err, catalog.ErrDuplicateItem):
		case err != nil:
			return added, fmt.Errorf("seed item %s: %w", si.Key, err)
		default:
			added++
		}
	}
	for _, su := range s.Users {
		role, err := membership.ParseRole(su.Role)
		if err != nil {
			return added, fmt.Errorf("seed user %s: %w", su.Name, err)
		}
		_, err = users.Register(ctx, su.Name, su.Email, su.Password, role)
		switch {
		case errors.Is(err, membership.ErrDuplicateUser):
		case err != nil:
			return added, fmt.Errorf("seed user %s: %w", su.Name, err)
		default:
			added++
		}
	}
	return added, nil
}

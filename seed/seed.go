/*
Package seed loads demo users and opening grants from a YAML file.

FILE FORMAT:

	users:
	  - id: u-alice
	    username: alice
	grants:
	  - user: u-alice
	    amount: 500
	    description: Welcome bonus
	    type: ADMIN-BONUS

Grants go through Ledger.AdjustBalance like any other adjustment, so they
produce normal history entries. Each grant gets an idempotency key derived
from its position and content; applying the same file twice is a no-op.
*/
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/store/sqlite"
)

// namespace for grant idempotency keys.
var namespace = uuid.MustParse("6f1c2a7e-3b1d-4c55-9a0e-2d8b9e4f7a10")

type File struct {
	Users  []User  `yaml:"users"`
	Grants []Grant `yaml:"grants"`
}

type User struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
}

type Grant struct {
	User        string `yaml:"user"`
	Amount      int64  `yaml:"amount"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
}

// UserStore persists the username projection.
type UserStore interface {
	SaveUser(ctx context.Context, u sqlite.User) error
}

// Adjuster is the part of *ledger.Ledger the seeder needs.
type Adjuster interface {
	AdjustBalance(ctx context.Context, adj ledger.Adjustment) (ledger.HistoryEntry, error)
}

// Result counts what Apply processed.
type Result struct {
	Users  int
	Grants int
}

// Load reads and parses a seed file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document and checks it before anything is applied.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks users and grants. Grant amounts and descriptions are
// checked again by the ledger; this catches a bad file before the first
// write.
func (f File) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, u := range f.Users {
		if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Username) == "" {
			errs = append(errs, fmt.Errorf("users[%d]: id and username are required", i))
		}
		if seen[u.ID] {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate id %q", i, u.ID))
		}
		seen[u.ID] = true
	}
	for i, g := range f.Grants {
		if err := g.adjustment(i).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("grants[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (g Grant) adjustment(index int) ledger.Adjustment {
	key := uuid.NewSHA1(namespace, fmt.Appendf(nil, "%d|%s|%d|%s|%s",
		index, g.User, g.Amount, g.Type, g.Description))
	return ledger.Adjustment{
		UserID:         ledger.UserID(g.User),
		Amount:         g.Amount,
		Description:    g.Description,
		Type:           ledger.EntryType(g.Type),
		IdempotencyKey: "seed-" + key.String(),
	}
}

// Apply saves the users, then applies the grants in file order. It stops at
// the first failure; grants applied before it stay applied and are skipped
// when the file is applied again.
func Apply(ctx context.Context, f File, users UserStore, l Adjuster) (Result, error) {
	var res Result
	for _, u := range f.Users {
		if err := users.SaveUser(ctx, sqlite.User{ID: ledger.UserID(u.ID), Username: u.Username}); err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		res.Users++
	}
	for i, g := range f.Grants {
		if _, err := l.AdjustBalance(ctx, g.adjustment(i)); err != nil {
			return res, fmt.Errorf("seed grant %d for %s: %w", i, g.User, err)
		}
		res.Grants++
	}
	return res, nil
}

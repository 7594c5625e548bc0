// Package importer reconciles the member list from the club's users.json
// dump with the user table. It creates missing users and keeps their
// external accounting ids up to date.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"tresen/internal/core"
)

// ImportedUser is one entry of the users.json member dump. ID is the
// membership number in the external accounting system.
type ImportedUser struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Store is the slice of the repository the importer needs.
type Store interface {
	GetUserByName(ctx context.Context, username string) (core.User, error)
	CreateUser(ctx context.Context, username string) (core.User, error)
	UpdateUser(ctx context.Context, u core.User) error
}

type Importer struct {
	store Store
}

func New(store Store) *Importer {
	return &Importer{store: store}
}

// LoadUsersFile reads a users.json member dump. A missing file yields an
// empty list, matching how the import has always behaved on fresh hosts.
func LoadUsersFile(path string) ([]ImportedUser, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var users []ImportedUser
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	return users, nil
}

// Import creates users that are not in the store yet and updates the
// external id of those whose id changed. Returns how many users were
// created and how many updated.
func (i *Importer) Import(ctx context.Context, users []ImportedUser) (created, updated int, err error) {
	slog.InfoContext(ctx, "Importing users", "count", len(users))

	for _, imp := range users {
		if imp.Name == "" {
			continue
		}

		existing, err := i.store.GetUserByName(ctx, imp.Name)
		if errors.Is(err, core.ErrUserNotFound) {
			existing, err = i.store.CreateUser(ctx, imp.Name)
			if err != nil {
				return created, updated, fmt.Errorf("create user %q: %w", imp.Name, err)
			}
			created++
			slog.InfoContext(ctx, "Created new user", "username", imp.Name, "id", existing.ID)
		} else if err != nil {
			return created, updated, fmt.Errorf("lookup user %q: %w", imp.Name, err)
		}

		if existing.ExternalID != imp.ID {
			existing.ExternalID = imp.ID
			if err := i.store.UpdateUser(ctx, existing); err != nil {
				return created, updated, fmt.Errorf("update user %q: %w", imp.Name, err)
			}
			updated++
			slog.InfoContext(ctx, "Updated user external id", "username", imp.Name, "external_id", imp.ID)
		}
	}

	return created, updated, nil
}

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/timerhsenso/sentinela/grants"
)

const (
	userPrefix  = "users"
	grantPrefix = "grants"
)

// User is the minimal identity record the security core needs. Profile
// columns, group membership maintenance and password policy live in the
// surrounding CRUD screens, out of scope here.
type User struct {
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

// UserStore persists users and their effective permission grants. Grants are
// stored pre-aggregated across group memberships: the many-to-many group
// resolution happens at write time in the admin screens, so login only reads.
type UserStore struct {
	backend Storage
}

func NewUserStore(backend Storage) *UserStore {
	return &UserStore{backend: backend}
}

func (s *UserStore) PutUser(ctx context.Context, user *User) error {
	if user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	entry := map[string]any{
		"active": user.Active,
	}
	return s.backend.Put(ctx, userPrefix, strings.ToLower(user.Username), entry)
}

// GetUser returns ErrNotFound for unknown usernames.
func (s *UserStore) GetUser(ctx context.Context, username string) (*User, error) {
	entry, err := s.backend.Get(ctx, userPrefix, strings.ToLower(username))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}

	user := &User{Username: strings.ToLower(username)}
	if active, ok := entry["active"].(bool); ok {
		user.Active = active
	}
	return user, nil
}

// AddGrant appends one permission grant to a user's effective set.
func (s *UserStore) AddGrant(ctx context.Context, username string, grant grants.Grant) error {
	prefix := grantPrefix + "/" + strings.ToLower(username)

	existing, err := s.backend.List(ctx, prefix)
	if err != nil {
		return err
	}

	entry := map[string]any{
		"system":      grant.System,
		"function":    grant.Function,
		"actions":     grant.Actions,
		"restriction": grant.Restriction,
	}
	return s.backend.Put(ctx, prefix, fmt.Sprintf("%06d", len(existing)), entry)
}

// GrantsFor loads a user's full grant collection. An unknown user has an
// empty set, not an error; the authorization gate turns that into a deny.
func (s *UserStore) GrantsFor(ctx context.Context, username string) (grants.GrantSet, error) {
	prefix := grantPrefix + "/" + strings.ToLower(username)

	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	set := make(grants.GrantSet, 0, len(keys))
	for _, key := range keys {
		entry, err := s.backend.Get(ctx, prefix, key)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}

		grant := grants.Grant{}
		if v, ok := entry["system"].(string); ok {
			grant.System = v
		}
		if v, ok := entry["function"].(string); ok {
			grant.Function = v
		}
		if v, ok := entry["actions"].(string); ok {
			grant.Actions = v
		}
		if v, ok := entry["restriction"].(string); ok {
			grant.Restriction = v
		}
		set = append(set, grant)
	}
	return set, nil
}

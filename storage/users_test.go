package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timerhsenso/sentinela/grants"
)

func TestUserStore_PutGet(t *testing.T) {
	store := NewUserStore(NewMemoryStorage())
	ctx := context.Background()

	require.NoError(t, store.PutUser(ctx, &User{Username: "Admin", Active: true}))

	// Usernames are case-insensitive
	user, err := store.GetUser(ctx, "ADMIN")
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Username)
	assert.True(t, user.Active)

	_, err = store.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, store.PutUser(ctx, &User{}))
}

func TestUserStore_Grants(t *testing.T) {
	store := NewUserStore(NewMemoryStorage())
	ctx := context.Background()

	require.NoError(t, store.PutUser(ctx, &User{Username: "admin", Active: true}))
	require.NoError(t, store.AddGrant(ctx, "admin", grants.Grant{
		System: "SEG", Function: "SEG_USUARIOS", Actions: "CEI",
	}))
	require.NoError(t, store.AddGrant(ctx, "ADMIN", grants.Grant{
		System: "SEG", Function: "SEG_GRUPOS", Actions: "I", Restriction: "OWN",
	}))

	set, err := store.GrantsFor(ctx, "Admin")
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, "SEG_USUARIOS", set[0].Function)
	assert.Equal(t, "CEI", set[0].Actions)
	assert.Equal(t, "OWN", set[1].Restriction)

	assert.True(t, set.HasAccess("SEG", "SEG_USUARIOS"))
	assert.Equal(t, "I", set.ActionsFor("SEG", "SEG_GRUPOS"))
}

func TestUserStore_GrantsFor_UnknownUser(t *testing.T) {
	store := NewUserStore(NewMemoryStorage())

	set, err := store.GrantsFor(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestMemoryStorage_Isolation(t *testing.T) {
	backend := NewMemoryStorage()
	ctx := context.Background()

	entry := map[string]any{"label": "one"}
	require.NoError(t, backend.Put(ctx, "p", "k", entry))

	// Mutating the caller's map after Put must not affect stored state
	entry["label"] = "two"
	got, err := backend.Get(ctx, "p", "k")
	require.NoError(t, err)
	assert.Equal(t, "one", got["label"])

	// Mutating a returned map must not affect stored state either
	got["label"] = "three"
	again, err := backend.Get(ctx, "p", "k")
	require.NoError(t, err)
	assert.Equal(t, "one", again["label"])
}

func TestMemoryStorage_MissingKey(t *testing.T) {
	backend := NewMemoryStorage()
	ctx := context.Background()

	got, err := backend.Get(ctx, "p", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, backend.Delete(ctx, "p", "missing"))

	keys, err := backend.List(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

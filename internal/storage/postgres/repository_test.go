package postgres_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
	"github.com/Prasannaverse13/ArtChainCollective/internal/storage"
	"github.com/Prasannaverse13/ArtChainCollective/internal/storage/postgres"
	"github.com/Prasannaverse13/ArtChainCollective/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestRepositories(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	artworks := postgres.NewArtworkRepository(pc.RawPool)
	collabs := postgres.NewCollaboratorRepository(pc.RawPool)
	ctx := context.Background()

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, pc.Pool.Ping(ctx))
		total, idle, acquired := pc.Pool.Stats()
		assert.Positive(t, total)
		assert.GreaterOrEqual(t, total, idle+acquired)
	})

	t.Run("new artwork has no snapshot", func(t *testing.T) {
		a, err := artworks.Create(ctx, "Synthwave Skyline", "")
		require.NoError(t, err)
		assert.Positive(t, a.ID)
		assert.Equal(t, "draft", a.Status)

		_, ok, err := artworks.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown artwork", func(t *testing.T) {
		_, ok, err := artworks.Get(ctx, 999_999)
		require.NoError(t, err)
		assert.False(t, ok)

		err = artworks.Put(ctx, 999_999, json.RawMessage(`"x"`))
		assert.ErrorIs(t, err, storage.ErrArtworkNotFound)
	})

	t.Run("put then get round-trips the snapshot", func(t *testing.T) {
		a, err := artworks.Create(ctx, "Cyber Garden", "flora")
		require.NoError(t, err)

		require.NoError(t, artworks.Put(ctx, a.ID, json.RawMessage(`"data:image/png;base64,AAAA"`)))
		snap, ok, err := artworks.Get(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `"data:image/png;base64,AAAA"`, string(snap))

		require.NoError(t, artworks.Put(ctx, a.ID, json.RawMessage(`null`)))
		_, ok, err = artworks.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, ok, "a JSON null snapshot reads as absent")
	})

	t.Run("roster lists owners first", func(t *testing.T) {
		a, err := artworks.Create(ctx, "Open Canvas", "")
		require.NoError(t, err)
		wren, err := collabs.CreateUser(ctx, uniqueName("wren"), "")
		require.NoError(t, err)
		fox, err := collabs.CreateUser(ctx, uniqueName("fox"), "Neon Fox")
		require.NoError(t, err)

		require.NoError(t, collabs.Add(ctx, a.ID, wren, 30, false))
		require.NoError(t, collabs.Add(ctx, a.ID, fox, 70, true))
		assert.ErrorIs(t, collabs.Add(ctx, a.ID, fox, 10, false), postgres.ErrAlreadyCollaborator)

		members, err := collabs.ListMembers(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, protocol.Participant{ID: fox, DisplayName: "Neon Fox", Role: protocol.RoleOwner, ContributionPercentage: 70}, members[0])
		assert.Equal(t, wren, members[1].ID)
		assert.Equal(t, protocol.RoleCollaborator, members[1].Role)
		assert.NotEmpty(t, members[1].DisplayName, "username is used when display_name is unset")

		empty, err := collabs.ListMembers(ctx, 999_999)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("duplicate username", func(t *testing.T) {
		name := uniqueName("dup")
		_, err := collabs.CreateUser(ctx, name, "")
		require.NoError(t, err)
		_, err = collabs.CreateUser(ctx, name, "")
		assert.ErrorIs(t, err, postgres.ErrUserExists)
	})
}

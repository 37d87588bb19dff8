package cache

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/domain/resource"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResourceStore(t *testing.T, store ResourceStore) {
	ctx := context.Background()

	t.Run("missing builder is not found", func(t *testing.T) {
		b, found, err := store.Load(ctx, "P-missing", uuid.New())
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, b)
	})

	t.Run("filed builder is restored", func(t *testing.T) {
		id := uuid.New()
		b := resource.New("Patient", "P1", id)
		require.NoError(t, b.Set("gender", "F"))
		require.NoError(t, b.Append("NAME_TO_PERSON", "SMITH-JANE"))
		b.Remove("deceased")
		require.NoError(t, store.File(ctx, "P1", id, b))

		loaded, found, err := store.Load(ctx, "P1", id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "Patient", loaded.ResourceType())
		assert.Equal(t, "P1", loaded.EntityKey())
		assert.Equal(t, id, loaded.GlobalID())
		gender, _ := loaded.Get("gender")
		assert.Equal(t, "F", gender)
		assert.Equal(t, []any{"SMITH-JANE"}, loaded.List("NAME_TO_PERSON"))
		assert.True(t, loaded.Removed("deceased"))
	})

	t.Run("filing again replaces the state", func(t *testing.T) {
		id := uuid.New()
		first := resource.New("Patient", "P2", id)
		require.NoError(t, first.Set("gender", "F"))
		require.NoError(t, store.File(ctx, "P2", id, first))

		second := resource.New("Patient", "P2", id)
		require.NoError(t, second.Set("gender", "M"))
		require.NoError(t, store.File(ctx, "P2", id, second))

		loaded, found, err := store.Load(ctx, "P2", id)
		require.NoError(t, err)
		require.True(t, found)
		gender, _ := loaded.Get("gender")
		assert.Equal(t, "M", gender)
	})

	t.Run("builder filed under another id is refused", func(t *testing.T) {
		b := resource.New("Patient", "P3", uuid.New())
		assert.Error(t, store.File(ctx, "P3", uuid.New(), b))
	})
}

func TestInMemoryResourceStore(t *testing.T) {
	store := NewInMemoryResourceStore()
	testResourceStore(t, store)
	assert.Equal(t, 2, store.Size())

	t.Run("loaded builder does not alias the filed one", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.New()
		b := resource.New("Patient", "P4", id)
		require.NoError(t, store.File(ctx, "P4", id, b))
		require.NoError(t, b.Set("gender", "F"))

		loaded, _, err := store.Load(ctx, "P4", id)
		require.NoError(t, err)
		_, ok := loaded.Get("gender")
		assert.False(t, ok)
	})
}

func TestRedisResourceStore(t *testing.T) {
	client := newRedisContainerClient(t)
	testResourceStore(t, NewRedisResourceStore(client, "test:resource:"))
}

func TestRedisResourceStore_StoreUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	require.NoError(t, client.Close())
	store := NewRedisResourceStore(client, "")
	ctx := context.Background()
	id := uuid.New()

	_, _, err := store.Load(ctx, "P1", id)
	assert.ErrorIs(t, err, identity.ErrStoreUnavailable)

	err = store.File(ctx, "P1", id, resource.New("Patient", "P1", id))
	assert.ErrorIs(t, err, identity.ErrStoreUnavailable)
}

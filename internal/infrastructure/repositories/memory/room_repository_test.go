package memory

import (
	"context"
	"testing"
	"time"

	"watchsync/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(id domain.RoomID) *domain.Room {
	return &domain.Room{
		ID:        id,
		Users:     make(map[domain.UserID]*domain.User),
		CreatedAt: time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRoom("room1")))

	room, err := repo.GetByID(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("room1"), room.ID)
}

func TestCreate_DuplicateRejected(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRoom("room1")))
	assert.Error(t, repo.Create(ctx, newRoom("room1")))
}

func TestGet_Missing(t *testing.T) {
	repo := NewMemoryRoomRepository()

	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestDelete(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRoom("room1")))
	require.NoError(t, repo.Delete(ctx, "room1"))

	_, err := repo.GetByID(ctx, "room1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "room1"), domain.ErrRoomNotFound)
}

func TestListActive(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	rooms, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	require.NoError(t, repo.Create(ctx, newRoom("room1")))
	require.NoError(t, repo.Create(ctx, newRoom("room2")))

	rooms, err = repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
}

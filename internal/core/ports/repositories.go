package ports

import (
	"context"

	"watchsync/internal/core/domain"
)

// RoomRepository is the single authoritative owner of room records. Scaling
// beyond one process means swapping the implementation behind this
// interface, not redesigning callers.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
	ListActive(ctx context.Context) ([]*domain.Room, error)
}

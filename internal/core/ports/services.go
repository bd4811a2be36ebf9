package ports

import (
	"context"

	"watchsync/internal/core/domain"
)

// SessionService is the authoritative per-room state machine. Callers must
// serialize invocations per room (the relay routes every inbound event of a
// room through one ordered queue); the service itself takes no locks on
// room contents.
type SessionService interface {
	Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID, username string) (*domain.RoomSnapshot, error)
	UpdateVideoState(ctx context.Context, roomID domain.RoomID, from domain.UserID, patch domain.VideoStatePatch) error
	PositionReport(ctx context.Context, roomID domain.RoomID, userID domain.UserID, playedSeconds float64, isBuffering bool) error
	AppendChat(ctx context.Context, roomID domain.RoomID, userID domain.UserID, text string) (*domain.ChatMessage, error)
	Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	RelaySignal(ctx context.Context, roomID domain.RoomID, to domain.UserID, signal interface{}) error
	Snapshot(ctx context.Context, roomID domain.RoomID) (*domain.RoomSnapshot, error)
}

// RoomNotifier is the outbound half of the event relay. Broadcasts reach
// every current room member; SendToUser targets exactly one member's
// current endpoint and reports domain.ErrTargetUnreachable when that
// member has no endpoint.
type RoomNotifier interface {
	BroadcastToRoom(roomID domain.RoomID, event string, payload interface{})
	SendToUser(roomID domain.RoomID, to domain.UserID, event string, payload interface{}) error
}

package services

import (
	"context"
	"fmt"
	"time"

	"watchsync/internal/core/domain"
	"watchsync/internal/core/ports"
	"watchsync/internal/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionConfig carries the tunables of the session store.
type SessionConfig struct {
	CorrectionThreshold float64 // drift above this triggers a targeted correction
	QualityGoodBelow    float64
	QualityFairBelow    float64
	ChatCapacity        int
}

// SessionService owns all authoritative room state. Every operation on one
// room runs to completion before the next; the relay guarantees that by
// routing a room's events through a single ordered queue.
type SessionService struct {
	roomRepo ports.RoomRepository
	notifier ports.RoomNotifier
	metrics  ports.SessionMetrics
	cfg      SessionConfig

	now func() time.Time

	logger *zap.SugaredLogger
}

func NewSessionService(
	roomRepo ports.RoomRepository,
	notifier ports.RoomNotifier,
	metrics ports.SessionMetrics,
	cfg SessionConfig,
	logger *zap.SugaredLogger,
) *SessionService {
	if cfg.ChatCapacity <= 0 {
		cfg.ChatCapacity = domain.ChatLogCapacity
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &SessionService{
		roomRepo: roomRepo,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// Join creates the room if absent (first joiner becomes host), upserts the
// user and returns a full snapshot. A reconnecting user keeps their
// accumulated connection quality.
func (s *SessionService) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID, username string) (*domain.RoomSnapshot, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err == domain.ErrRoomNotFound {
		room = &domain.Room{
			ID:     roomID,
			HostID: userID,
			Video: domain.VideoState{
				PlaybackRate: 1.0,
			},
			Users:     make(map[domain.UserID]*domain.User),
			CreatedAt: s.now(),
		}
		if err := s.roomRepo.Create(ctx, room); err != nil {
			return nil, fmt.Errorf("failed to create room %s: %w", roomID, err)
		}
		s.metrics.RoomCreated()
		s.logger.Infow("room created", "room_id", roomID, "host_id", userID)
	} else if err != nil {
		return nil, err
	}

	if existing, ok := room.Users[userID]; ok {
		existing.Username = username
	} else {
		room.Users[userID] = &domain.User{
			ID:       userID,
			Username: username,
			Quality:  domain.ConnectionQuality{Level: domain.QualityGood},
			JoinedAt: s.now(),
		}
		room.JoinOrder = append(room.JoinOrder, userID)
		s.metrics.UserJoined()
	}

	s.notifier.BroadcastToRoom(roomID, protocol.EventUpdateUsers, room.UserList())
	s.notifier.BroadcastToRoom(roomID, protocol.EventUserConnected, protocol.UserEventPayload{UserID: userID})

	if room.HostID == userID {
		if err := s.notifier.SendToUser(roomID, userID, protocol.EventHostAssigned, protocol.HostAssignedPayload{IsHost: true}); err != nil {
			s.logger.Warnw("failed to notify host", "room_id", roomID, "user_id", userID, "error", err)
		}
	}

	s.logger.Infow("user joined room", "room_id", roomID, "user_id", userID, "username", username, "members", len(room.Users))
	return s.snapshot(room), nil
}

// UpdateVideoState merges the recognized fields of patch into the stored
// state, stamps the authority's clock and broadcasts the full resulting
// state to every member including the sender. Last writer per field wins;
// receipt order is the tie-break.
func (s *SessionService) UpdateVideoState(ctx context.Context, roomID domain.RoomID, from domain.UserID, patch domain.VideoStatePatch) error {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return err
	}

	if patch.IsPlaying != nil {
		room.Video.IsPlaying = *patch.IsPlaying
	}
	if patch.PlayedSeconds != nil {
		room.Video.PlayedSeconds = *patch.PlayedSeconds
	}
	if patch.URL != nil {
		room.Video.URL = *patch.URL
	}
	if patch.IsBuffering != nil {
		room.Video.IsBuffering = *patch.IsBuffering
	}
	if patch.PlaybackRate != nil {
		room.Video.PlaybackRate = *patch.PlaybackRate
	}

	now := s.timestamp(room)
	room.Video.LastUpdated = now
	room.Video.ServerTimestamp = now
	room.Video.UpdatedBy = from

	s.notifier.BroadcastToRoom(roomID, protocol.EventVideoState, room.Video)
	return nil
}

// PositionReport folds one drift observation into the reporter's quality
// average and, when the reporter has fallen too far behind a playing
// video, sends a targeted correction to that user only.
func (s *SessionService) PositionReport(ctx context.Context, roomID domain.RoomID, userID domain.UserID, playedSeconds float64, isBuffering bool) error {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return err
	}

	user, ok := room.Users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}

	drift := playedSeconds - room.Video.PlayedSeconds
	if drift < 0 {
		drift = -drift
	}

	user.Quality.Observe(drift, s.cfg.QualityGoodBelow, s.cfg.QualityFairBelow)
	s.metrics.DriftObserved(drift)

	if drift > s.cfg.CorrectionThreshold && room.Video.IsPlaying && !isBuffering {
		correction := domain.SyncCorrection{
			PlayedSeconds:   room.Video.PlayedSeconds,
			IsPlaying:       room.Video.IsPlaying,
			ServerTimestamp: s.timestamp(room),
			Drift:           drift,
			Quality:         user.Quality.Level,
		}
		if err := s.notifier.SendToUser(roomID, userID, protocol.EventSyncCorrection, correction); err != nil {
			s.logger.Warnw("failed to deliver correction", "room_id", roomID, "user_id", userID, "error", err)
			return nil
		}
		s.metrics.CorrectionSent()
		s.logger.Debugw("sync correction sent",
			"room_id", roomID,
			"user_id", userID,
			"drift", drift,
			"quality", user.Quality.Level,
		)
	}

	return nil
}

// AppendChat stamps and appends a message, evicting the oldest entry once
// the log exceeds capacity, then broadcasts the stored message.
func (s *SessionService) AppendChat(ctx context.Context, roomID domain.RoomID, userID domain.UserID, text string) (*domain.ChatMessage, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	user, ok := room.Users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}

	msg := domain.ChatMessage{
		ID:        domain.MessageID(uuid.NewString()),
		UserID:    userID,
		Username:  user.Username,
		Text:      text,
		Timestamp: s.now().UnixMilli(),
	}

	room.Messages = append(room.Messages, msg)
	if len(room.Messages) > s.cfg.ChatCapacity {
		room.Messages = room.Messages[len(room.Messages)-s.cfg.ChatCapacity:]
	}

	s.metrics.ChatAppended()
	s.notifier.BroadcastToRoom(roomID, protocol.EventChatMessage, msg)
	return &msg, nil
}

// Leave removes the user, transfers host to the earliest-joined remaining
// member when the host departs, and deletes the room the instant it
// becomes empty.
func (s *SessionService) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return err
	}

	if _, ok := room.Users[userID]; !ok {
		return domain.ErrUserNotFound
	}

	delete(room.Users, userID)
	for i, id := range room.JoinOrder {
		if id == userID {
			room.JoinOrder = append(room.JoinOrder[:i], room.JoinOrder[i+1:]...)
			break
		}
	}
	s.metrics.UserLeft()

	if len(room.Users) == 0 {
		if err := s.roomRepo.Delete(ctx, roomID); err != nil {
			return fmt.Errorf("failed to delete room %s: %w", roomID, err)
		}
		s.metrics.RoomDeleted()
		s.logger.Infow("room deleted", "room_id", roomID)
		return nil
	}

	s.notifier.BroadcastToRoom(roomID, protocol.EventUserDisconnected, protocol.UserEventPayload{UserID: userID})
	s.notifier.BroadcastToRoom(roomID, protocol.EventUpdateUsers, room.UserList())

	if room.HostID == userID {
		newHost := room.JoinOrder[0]
		room.HostID = newHost
		hostUser := room.Users[newHost]

		s.notifier.BroadcastToRoom(roomID, protocol.EventHostChanged, protocol.HostChangedPayload{
			HostID:       newHost,
			HostUsername: hostUser.Username,
		})
		if err := s.notifier.SendToUser(roomID, newHost, protocol.EventHostAssigned, protocol.HostAssignedPayload{IsHost: true}); err != nil {
			s.logger.Warnw("failed to notify new host", "room_id", roomID, "user_id", newHost, "error", err)
		}
		s.logger.Infow("host transferred", "room_id", roomID, "old_host", userID, "new_host", newHost)
	}

	s.logger.Infow("user left room", "room_id", roomID, "user_id", userID, "members", len(room.Users))
	return nil
}

// RelaySignal forwards an opaque negotiation payload to the target's
// current endpoint. An unreachable target is dropped with a diagnostic:
// the sender has no actionable response to a delivery failure it cannot
// observe, so no error is returned.
func (s *SessionService) RelaySignal(ctx context.Context, roomID domain.RoomID, to domain.UserID, signal interface{}) error {
	if err := s.notifier.SendToUser(roomID, to, protocol.EventSignal, signal); err != nil {
		s.logger.Infow("signal dropped", "room_id", roomID, "to", to, "error", err)
		return nil
	}
	s.metrics.SignalRelayed()
	return nil
}

// Snapshot returns the room's full state for diagnostics.
func (s *SessionService) Snapshot(ctx context.Context, roomID domain.RoomID) (*domain.RoomSnapshot, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(room), nil
}

func (s *SessionService) snapshot(room *domain.Room) *domain.RoomSnapshot {
	messages := make([]domain.ChatMessage, len(room.Messages))
	copy(messages, room.Messages)

	return &domain.RoomSnapshot{
		Video:    room.Video,
		Messages: messages,
		Users:    room.UserList(),
		HostID:   room.HostID,
	}
}

// timestamp returns the authority clock in milliseconds, clamped so the
// room's serverTimestamp never decreases.
func (s *SessionService) timestamp(room *domain.Room) int64 {
	now := s.now().UnixMilli()
	if now < room.Video.ServerTimestamp {
		return room.Video.ServerTimestamp
	}
	return now
}

type nopMetrics struct{}

func (nopMetrics) RoomCreated()          {}
func (nopMetrics) RoomDeleted()          {}
func (nopMetrics) UserJoined()           {}
func (nopMetrics) UserLeft()             {}
func (nopMetrics) DriftObserved(float64) {}
func (nopMetrics) CorrectionSent()       {}
func (nopMetrics) ChatAppended()         {}
func (nopMetrics) SignalRelayed()        {}

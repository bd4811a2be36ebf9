package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"watchsync/internal/core/domain"
	"watchsync/internal/infrastructure/repositories/memory"
	"watchsync/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentEvent struct {
	To      domain.UserID
	Event   string
	Payload interface{}
}

// recordingNotifier captures every outbound event in order.
type recordingNotifier struct {
	broadcasts  []sentEvent
	targeted    []sentEvent
	unreachable map[domain.UserID]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{unreachable: make(map[domain.UserID]bool)}
}

func (n *recordingNotifier) BroadcastToRoom(roomID domain.RoomID, event string, payload interface{}) {
	n.broadcasts = append(n.broadcasts, sentEvent{Event: event, Payload: payload})
}

func (n *recordingNotifier) SendToUser(roomID domain.RoomID, to domain.UserID, event string, payload interface{}) error {
	if n.unreachable[to] {
		return domain.ErrTargetUnreachable
	}
	n.targeted = append(n.targeted, sentEvent{To: to, Event: event, Payload: payload})
	return nil
}

func (n *recordingNotifier) targetedOf(event string) []sentEvent {
	var out []sentEvent
	for _, e := range n.targeted {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (n *recordingNotifier) broadcastsOf(event string) []sentEvent {
	var out []sentEvent
	for _, e := range n.broadcasts {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(notifier *recordingNotifier) *SessionService {
	return NewSessionService(
		memory.NewMemoryRoomRepository(),
		notifier,
		nil,
		SessionConfig{
			CorrectionThreshold: 0.3,
			QualityGoodBelow:    0.5,
			QualityFairBelow:    1.5,
		},
		zap.NewNop().Sugar(),
	)
}

func TestJoin_FirstJoinerBecomesHost(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	snapshot, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	assert.Equal(t, domain.UserID("alice"), snapshot.HostID)
	assert.Len(t, snapshot.Users, 1)
	assert.Equal(t, 1.0, snapshot.Video.PlaybackRate)

	// The host is always one of the current members.
	found := false
	for _, u := range snapshot.Users {
		if u.ID == snapshot.HostID {
			found = true
		}
	}
	assert.True(t, found)

	assigned := notifier.targetedOf(protocol.EventHostAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, domain.UserID("alice"), assigned[0].To)
}

func TestJoin_SecondJoinerDoesNotTakeHost(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	snapshot, err := svc.Join(ctx, "room1", "bob", "Bob")
	require.NoError(t, err)

	assert.Equal(t, domain.UserID("alice"), snapshot.HostID)
	assert.Len(t, snapshot.Users, 2)

	// Roster follows join order.
	assert.Equal(t, domain.UserID("alice"), snapshot.Users[0].ID)
	assert.Equal(t, domain.UserID("bob"), snapshot.Users[1].ID)
}

func TestJoin_ReconnectKeepsQuality(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	require.NoError(t, svc.PositionReport(ctx, "room1", "alice", 1.0, false))

	snapshot, err := svc.Join(ctx, "room1", "alice", "Alice2")
	require.NoError(t, err)

	require.Len(t, snapshot.Users, 1)
	assert.Equal(t, "Alice2", snapshot.Users[0].Username)
	assert.Equal(t, 1, snapshot.Users[0].Quality.ReportCount)
}

func TestUpdateVideoState_PatchMergesOnlyProvidedFields(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	url := "https://example.com/video.mp4"
	playing := true
	pos := 12.5
	require.NoError(t, svc.UpdateVideoState(ctx, "room1", "alice", domain.VideoStatePatch{
		URL:           &url,
		IsPlaying:     &playing,
		PlayedSeconds: &pos,
	}))

	// A later patch touching only position leaves everything else intact.
	pos2 := 20.0
	require.NoError(t, svc.UpdateVideoState(ctx, "room1", "alice", domain.VideoStatePatch{
		PlayedSeconds: &pos2,
	}))

	snapshot, err := svc.Snapshot(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, url, snapshot.Video.URL)
	assert.True(t, snapshot.Video.IsPlaying)
	assert.Equal(t, 20.0, snapshot.Video.PlayedSeconds)
	assert.Equal(t, 1.0, snapshot.Video.PlaybackRate)
	assert.Equal(t, domain.UserID("alice"), snapshot.Video.UpdatedBy)

	// Each accepted update broadcasts the full resulting state.
	states := notifier.broadcastsOf(protocol.EventVideoState)
	require.Len(t, states, 2)
	last := states[1].Payload.(domain.VideoState)
	assert.Equal(t, 20.0, last.PlayedSeconds)
}

func TestUpdateVideoState_ServerTimestampNeverDecreases(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	base := time.Now()
	svc.now = func() time.Time { return base }

	pos := 1.0
	require.NoError(t, svc.UpdateVideoState(ctx, "room1", "alice", domain.VideoStatePatch{PlayedSeconds: &pos}))

	first, err := svc.Snapshot(ctx, "room1")
	require.NoError(t, err)

	// Authority clock steps backwards; the stamp must hold.
	svc.now = func() time.Time { return base.Add(-5 * time.Second) }
	require.NoError(t, svc.UpdateVideoState(ctx, "room1", "alice", domain.VideoStatePatch{PlayedSeconds: &pos}))

	second, err := svc.Snapshot(ctx, "room1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.Video.ServerTimestamp, first.Video.ServerTimestamp)
}

func TestPositionReport_CumulativeAverageDrift(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	// Authoritative position stays 0, so reported position equals drift.
	for _, sample := range []float64{0.2, 0.4, 0.9} {
		require.NoError(t, svc.PositionReport(ctx, "room1", "alice", sample, false))
	}

	snapshot, err := svc.Snapshot(ctx, "room1")
	require.NoError(t, err)

	q := snapshot.Users[0].Quality
	assert.Equal(t, 3, q.ReportCount)
	assert.InDelta(t, 0.5, q.AverageDrift, 1e-9)
	assert.Equal(t, domain.QualityFair, q.Level)
}

func TestPositionReport_TargetedCorrectionOnLargeDrift(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "room1", "bob", "Bob")
	require.NoError(t, err)

	playing := true
	pos := 100.0
	require.NoError(t, svc.UpdateVideoState(ctx, "room1", "alice", domain.VideoStatePatch{
		IsPlaying:     &playing,
		PlayedSeconds: &pos,
	}))

	require.NoError(t, svc.PositionReport(ctx, "room1", "bob", 94.5, false))

	corrections := notifier.targetedOf(protocol.EventSyncCorrection)
	require.Len(t, corrections, 1)
	assert.Equal(t, domain.UserID("bob"), corrections[0].To)

	correction := corrections[0].Payload.(domain.SyncCorrection)
	assert.Equal(t, 100.0, correction.PlayedSeconds)
	assert.InDelta(t, 5.5, correction.Drift, 1e-9)
	assert.Equal(t, domain.QualityPoor, correction.Quality)
}

func TestPositionReport_NoCorrectionWhilePausedOrBuffering(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	// Paused video: drift accumulates into quality but no correction goes out.
	require.NoError(t, svc.PositionReport(ctx, "room1", "alice", 50.0, false))
	assert.Empty(t, notifier.targetedOf(protocol.EventSyncCorrection))

	playing := true
	require.NoError(t, svc.UpdateVideoState(ctx, "room1", "alice", domain.VideoStatePatch{IsPlaying: &playing}))

	// Buffering reporter: never seek someone who is stalled.
	require.NoError(t, svc.PositionReport(ctx, "room1", "alice", 50.0, true))
	assert.Empty(t, notifier.targetedOf(protocol.EventSyncCorrection))
}

func TestAppendChat_CapacityEvictsOldest(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	total := domain.ChatLogCapacity + 50
	for i := 0; i < total; i++ {
		_, err := svc.AppendChat(ctx, "room1", "alice", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	snapshot, err := svc.Snapshot(ctx, "room1")
	require.NoError(t, err)

	require.Len(t, snapshot.Messages, domain.ChatLogCapacity)
	assert.Equal(t, "message 50", snapshot.Messages[0].Text)
	assert.Equal(t, fmt.Sprintf("message %d", total-1), snapshot.Messages[len(snapshot.Messages)-1].Text)
}

func TestAppendChat_UnknownUserRejected(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	_, err = svc.AppendChat(ctx, "room1", "ghost", "boo")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestLeave_HostSuccessionToEarliestJoined(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := svc.Join(ctx, "room1", domain.UserID(u), u)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Leave(ctx, "room1", "alice"))

	snapshot, err := svc.Snapshot(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("bob"), snapshot.HostID)

	// Exactly one host change for the departure.
	changes := notifier.broadcastsOf(protocol.EventHostChanged)
	require.Len(t, changes, 1)
	changed := changes[0].Payload.(protocol.HostChangedPayload)
	assert.Equal(t, domain.UserID("bob"), changed.HostID)

	assigned := notifier.targetedOf(protocol.EventHostAssigned)
	// One for alice at creation, one for bob at succession.
	require.Len(t, assigned, 2)
	assert.Equal(t, domain.UserID("bob"), assigned[1].To)
}

func TestLeave_NonHostDepartureKeepsHost(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "room1", "bob", "Bob")
	require.NoError(t, err)

	require.NoError(t, svc.Leave(ctx, "room1", "bob"))

	snapshot, err := svc.Snapshot(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), snapshot.HostID)
	assert.Empty(t, notifier.broadcastsOf(protocol.EventHostChanged))
}

func TestLeave_LastUserDeletesRoom(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	require.NoError(t, svc.Leave(ctx, "room1", "alice"))

	_, err = svc.Snapshot(ctx, "room1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRelaySignal_UnreachableTargetDropsSilently(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	ctx := context.Background()

	_, err := svc.Join(ctx, "room1", "alice", "Alice")
	require.NoError(t, err)

	notifier.unreachable["bob"] = true
	err = svc.RelaySignal(ctx, "room1", "bob", protocol.Signal{Type: protocol.SignalOffer, From: "alice"})
	assert.NoError(t, err)

	require.NoError(t, svc.RelaySignal(ctx, "room1", "alice", protocol.Signal{Type: protocol.SignalAnswer, From: "bob"}))
	signals := notifier.targetedOf(protocol.EventSignal)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.UserID("alice"), signals[0].To)
}

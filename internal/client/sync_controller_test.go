package client

import (
	"testing"
	"time"

	"watchsync/internal/core/domain"
	"watchsync/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlayer struct {
	seeks   []float64
	playing []bool
}

func (p *fakePlayer) SeekTo(seconds float64)  { p.seeks = append(p.seeks, seconds) }
func (p *fakePlayer) SetPlaying(playing bool) { p.playing = append(p.playing, playing) }

type emittedEvent struct {
	event   string
	payload interface{}
}

type fakeEmitter struct {
	events []emittedEvent
}

func (e *fakeEmitter) emit(event string, payload interface{}) error {
	e.events = append(e.events, emittedEvent{event: event, payload: payload})
	return nil
}

func (e *fakeEmitter) of(event string) []emittedEvent {
	var out []emittedEvent
	for _, ev := range e.events {
		if ev.event == event {
			out = append(out, ev)
		}
	}
	return out
}

func testSyncConfig() SyncConfig {
	return SyncConfig{
		CorrectionThreshold:    0.3,
		HardResyncThreshold:    2.0,
		LatencyCompensationCap: 2 * time.Second,
		BroadcastInterval:      1500 * time.Millisecond,
		SeekCooldown:           time.Second,
	}
}

func newTestController(player *fakePlayer, emitter *fakeEmitter) (*SyncController, time.Time) {
	c := NewSyncController(testSyncConfig(), "room1", "self", player, emitter.emit, zap.NewNop().Sugar())
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, now
}

func TestApplyAuthoritative_LatencyCompensatedSeek(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	c.localPosition = 120.0
	c.HandleVideoState(domain.VideoState{
		IsPlaying:       true,
		PlayedSeconds:   120.0,
		ServerTimestamp: now.Add(-400 * time.Millisecond).UnixMilli(),
		UpdatedBy:       "host",
	})

	// Broadcast position plus 0.4s of transit time puts the target past the
	// correction threshold.
	require.Len(t, player.seeks, 1)
	assert.InDelta(t, 120.4, player.seeks[0], 1e-3)
	assert.InDelta(t, 120.4, c.localPosition, 1e-3)
}

func TestApplyAuthoritative_CompensationCapped(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	c.localPosition = 125.0
	c.HandleVideoState(domain.VideoState{
		IsPlaying:       true,
		PlayedSeconds:   120.0,
		ServerTimestamp: now.Add(-10 * time.Second).UnixMilli(),
		UpdatedBy:       "host",
	})

	// A stale timestamp never compensates past the cap.
	require.Len(t, player.seeks, 1)
	assert.InDelta(t, 122.0, player.seeks[0], 1e-3)
}

func TestApplyAuthoritative_WithinThresholdNoSeek(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	c.localPosition = 120.2
	c.HandleVideoState(domain.VideoState{
		IsPlaying:       true,
		PlayedSeconds:   120.0,
		ServerTimestamp: now.UnixMilli(),
		UpdatedBy:       "host",
	})

	assert.Empty(t, player.seeks)
	// Play/pause intent is always applied.
	require.NotEmpty(t, player.playing)
	assert.True(t, player.playing[0])
}

func TestApplyAuthoritative_SelfAuthoredSkipsThresholdSeek(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	c.localPosition = 120.0
	c.HandleVideoState(domain.VideoState{
		IsPlaying:       true,
		PlayedSeconds:   120.5,
		ServerTimestamp: now.UnixMilli(),
		UpdatedBy:       "self",
	})

	assert.Empty(t, player.seeks)
}

func TestApplyAuthoritative_HardResyncSafetyNet(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	// Self-authored update, but raw drift beyond the safety net still seeks.
	c.localPosition = 117.0
	c.HandleVideoState(domain.VideoState{
		IsPlaying:       false,
		PlayedSeconds:   120.0,
		ServerTimestamp: now.UnixMilli(),
		UpdatedBy:       "self",
	})

	require.Len(t, player.seeks, 1)
	assert.InDelta(t, 120.0, player.seeks[0], 1e-3)
}

func TestApplyAuthoritative_NoSeekWhileBuffering(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	c.buffering = true
	c.localPosition = 100.0
	c.HandleVideoState(domain.VideoState{
		IsPlaying:       true,
		PlayedSeconds:   120.0,
		ServerTimestamp: now.UnixMilli(),
		UpdatedBy:       "host",
	})

	assert.Empty(t, player.seeks)
	require.NotEmpty(t, player.playing)
}

func TestHandleCorrection_BypassesThreshold(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	c.localPosition = 120.1
	c.HandleCorrection(domain.SyncCorrection{
		PlayedSeconds:   120.0,
		IsPlaying:       false,
		ServerTimestamp: now.UnixMilli(),
		Drift:           0.1,
	})

	require.Len(t, player.seeks, 1)
	assert.InDelta(t, 120.0, player.seeks[0], 1e-3)
}

func TestResync_ForcesSeekToLastKnownState(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	c.video = domain.VideoState{
		IsPlaying:       false,
		PlayedSeconds:   80.0,
		ServerTimestamp: now.UnixMilli(),
		UpdatedBy:       "host",
	}
	c.localPosition = 80.05

	c.Resync()

	require.Len(t, player.seeks, 1)
	assert.InDelta(t, 80.0, player.seeks[0], 1e-3)
}

func TestProgressTick_CooldownSuppressesEmission(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	// Trigger a corrective seek to start the cooldown.
	c.localPosition = 100.0
	c.HandleVideoState(domain.VideoState{
		IsPlaying:       true,
		PlayedSeconds:   120.0,
		ServerTimestamp: now.UnixMilli(),
		UpdatedBy:       "host",
	})
	require.Len(t, player.seeks, 1)

	c.ProgressTick(120.0, false)
	assert.Empty(t, emitter.of(protocol.EventPositionReport))

	// Past the cooldown, reporting resumes.
	c.now = func() time.Time { return now.Add(1100 * time.Millisecond) }
	c.ProgressTick(121.1, false)
	assert.Len(t, emitter.of(protocol.EventPositionReport), 1)
}

func TestProgressTick_HostBroadcastRateLimited(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, _ := newTestController(player, emitter)

	c.SetHost(true)

	c.ProgressTick(10.0, false)
	c.ProgressTick(10.5, false)

	// Both ticks report position; only the first passes the broadcast floor.
	assert.Len(t, emitter.of(protocol.EventPositionReport), 2)
	broadcasts := emitter.of(protocol.EventVideoState)
	require.Len(t, broadcasts, 1)

	payload := broadcasts[0].payload.(protocol.VideoStatePayload)
	require.NotNil(t, payload.Patch.PlayedSeconds)
	assert.InDelta(t, 10.0, *payload.Patch.PlayedSeconds, 1e-9)
}

func TestProgressTick_NonHostNeverBroadcasts(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, _ := newTestController(player, emitter)

	c.ProgressTick(10.0, false)
	c.ProgressTick(11.0, false)

	assert.Empty(t, emitter.of(protocol.EventVideoState))
	assert.Len(t, emitter.of(protocol.EventPositionReport), 2)
}

func TestHandleSyncState_SeedsHostRole(t *testing.T) {
	player := &fakePlayer{}
	emitter := &fakeEmitter{}
	c, now := newTestController(player, emitter)

	c.HandleSyncState(domain.RoomSnapshot{
		Video: domain.VideoState{
			IsPlaying:       false,
			PlayedSeconds:   0,
			ServerTimestamp: now.UnixMilli(),
		},
		HostID: "self",
	})

	assert.True(t, c.isHost)
}

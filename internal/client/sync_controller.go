package client

import (
	"time"

	"watchsync/internal/core/domain"
	"watchsync/internal/protocol"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Player is the local playback collaborator the controller steers.
type Player interface {
	SeekTo(seconds float64)
	SetPlaying(playing bool)
}

// SyncConfig carries the controller's tunables.
type SyncConfig struct {
	CorrectionThreshold    float64       // corrective-seek threshold against adjusted target
	HardResyncThreshold    float64       // unconditional seek threshold against raw position
	LatencyCompensationCap time.Duration // cap on (now - serverTimestamp) compensation
	BroadcastInterval      time.Duration // floor between host position broadcasts
	SeekCooldown           time.Duration // outward emission suppression after a corrective seek
}

// Emitter sends events back to the authority.
type Emitter func(event string, payload interface{}) error

// SyncController reconciles local playback against the authoritative
// state. It assumes the relay client dispatches events sequentially; its
// own state is only touched from that dispatch goroutine and from
// ProgressTick, which the player must drive from the same loop or a
// single goroutine.
type SyncController struct {
	cfg    SyncConfig
	roomID domain.RoomID
	selfID domain.UserID
	player Player
	emit   Emitter

	video         domain.VideoState // last authoritative state
	localPosition float64
	buffering     bool
	isHost        bool

	cooldownUntil time.Time
	broadcasts    *rate.Limiter

	now func() time.Time

	logger *zap.SugaredLogger
}

func NewSyncController(cfg SyncConfig, roomID domain.RoomID, selfID domain.UserID, player Player, emit Emitter, logger *zap.SugaredLogger) *SyncController {
	return &SyncController{
		cfg:        cfg,
		roomID:     roomID,
		selfID:     selfID,
		player:     player,
		emit:       emit,
		broadcasts: rate.NewLimiter(rate.Every(cfg.BroadcastInterval), 1),
		now:        time.Now,
		logger:     logger,
	}
}

// SetHost flags this participant as the driving one; only the host emits
// periodic position broadcasts.
func (c *SyncController) SetHost(isHost bool) {
	c.isHost = isHost
}

// HandleSyncState seeds the controller from the join snapshot.
func (c *SyncController) HandleSyncState(snapshot domain.RoomSnapshot) {
	c.video = snapshot.Video
	c.isHost = snapshot.HostID == c.selfID
	c.applyAuthoritative(c.video, false)
}

// HandleVideoState reconciles one authoritative broadcast.
func (c *SyncController) HandleVideoState(state domain.VideoState) {
	c.video = state
	c.applyAuthoritative(state, false)
}

// HandleCorrection applies a targeted correction: the authority already
// measured the drift, so the usual threshold is bypassed.
func (c *SyncController) HandleCorrection(correction domain.SyncCorrection) {
	c.video.PlayedSeconds = correction.PlayedSeconds
	c.video.IsPlaying = correction.IsPlaying
	c.video.ServerTimestamp = correction.ServerTimestamp
	c.logger.Debugw("sync correction received",
		"drift", correction.Drift,
		"quality", correction.Quality,
	)
	c.applyAuthoritative(c.video, true)
}

// Resync is the manual override: an immediate seek to the last known
// authoritative position, bypassing the correction threshold.
func (c *SyncController) Resync() {
	c.applyAuthoritative(c.video, true)
}

// ProgressTick feeds one locally observed playback sample. It always
// reports position to the authority (unless inside the post-seek
// cooldown) and, for the host, emits a rate-limited state broadcast.
func (c *SyncController) ProgressTick(position float64, buffering bool) {
	c.localPosition = position
	c.buffering = buffering

	if c.now().Before(c.cooldownUntil) {
		return
	}

	if err := c.emit(protocol.EventPositionReport, protocol.PositionReportPayload{
		RoomID:        c.roomID,
		UserID:        c.selfID,
		PlayedSeconds: position,
		IsBuffering:   buffering,
	}); err != nil {
		c.logger.Warnw("failed to report position", "error", err)
	}

	if c.isHost && c.broadcasts.Allow() {
		playing := c.video.IsPlaying
		if err := c.emit(protocol.EventVideoState, protocol.VideoStatePayload{
			RoomID: c.roomID,
			Patch: domain.VideoStatePatch{
				IsPlaying:     &playing,
				PlayedSeconds: &position,
			},
		}); err != nil {
			c.logger.Warnw("failed to broadcast position", "error", err)
		}
	}
}

// applyAuthoritative decides whether the local player needs a corrective
// seek. force bypasses the tight threshold but never the buffering guard.
func (c *SyncController) applyAuthoritative(state domain.VideoState, force bool) {
	c.player.SetPlaying(state.IsPlaying)

	if c.buffering {
		return
	}

	target := state.PlayedSeconds
	if state.IsPlaying && state.UpdatedBy != c.selfID {
		elapsed := c.now().Sub(time.UnixMilli(state.ServerTimestamp))
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > c.cfg.LatencyCompensationCap {
			elapsed = c.cfg.LatencyCompensationCap
		}
		target += elapsed.Seconds()
	}

	rawDelta := abs(c.localPosition - state.PlayedSeconds)
	adjustedDelta := abs(c.localPosition - target)

	needSeek := force
	if !needSeek && state.UpdatedBy != c.selfID && adjustedDelta > c.cfg.CorrectionThreshold {
		needSeek = true
	}
	// Safety net against runaway local drift, self-authored updates included.
	if !needSeek && rawDelta > c.cfg.HardResyncThreshold {
		needSeek = true
	}
	if !needSeek {
		return
	}

	c.logger.Debugw("corrective seek",
		"target", target,
		"local", c.localPosition,
		"adjusted_delta", adjustedDelta,
		"raw_delta", rawDelta,
		"forced", force,
	)

	c.player.SeekTo(target)
	c.localPosition = target
	c.cooldownUntil = c.now().Add(c.cfg.SeekCooldown)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

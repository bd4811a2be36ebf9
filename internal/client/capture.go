package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"watchsync/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RTPTrack is a locally generated capture track backed by a static RTP
// track, so it can be attached to any number of peer links.
type RTPTrack struct {
	kind    string
	local   *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool
	live    atomic.Bool
	stop    chan struct{}
	once    sync.Once
}

func (t *RTPTrack) Kind() string            { return t.kind }
func (t *RTPTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *RTPTrack) Enabled() bool           { return t.enabled.Load() }
func (t *RTPTrack) Live() bool              { return t.live.Load() }

func (t *RTPTrack) Local() *webrtc.TrackLocalStaticRTP { return t.local }

func (t *RTPTrack) Stop() {
	t.once.Do(func() {
		t.live.Store(false)
		close(t.stop)
	})
}

// pump writes RTP packets at the track's tick until stopped. A disabled
// track keeps its timestamp advancing but writes nothing, so re-enabling
// does not replay a stale position.
func (t *RTPTrack) pump(interval time.Duration, samplesPerTick uint32, payload []byte) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: 0,
			Timestamp:      0,
		},
		Payload: payload,
	}

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			packet.Header.SequenceNumber++
			packet.Header.Timestamp += samplesPerTick
			if !t.enabled.Load() {
				continue
			}
			// WriteRTP fans out to every bound sender; errors mean no
			// sender is bound yet, which is fine.
			t.local.WriteRTP(packet)
		}
	}
}

type syntheticStream struct {
	tracks []ports.CaptureTrack
}

func (s *syntheticStream) Tracks() []ports.CaptureTrack { return s.tracks }

func (s *syntheticStream) Close() {
	for _, track := range s.tracks {
		track.Stop()
	}
}

// SyntheticCapture is the headless media-capture collaborator: it
// fabricates one Opus audio and one VP8 video track carrying silence and
// black frames. Constraints are accepted for interface parity; a
// synthetic source has nothing to refuse.
type SyntheticCapture struct {
	logger *zap.SugaredLogger
}

func NewSyntheticCapture(logger *zap.SugaredLogger) *SyntheticCapture {
	return &SyntheticCapture{logger: logger}
}

func (c *SyntheticCapture) Acquire(ctx context.Context, constraints ports.CaptureConstraints) (ports.CaptureStream, error) {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"watchsync-audio",
	)
	if err != nil {
		return nil, err
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"watchsync-video",
	)
	if err != nil {
		return nil, err
	}

	audioTrack := &RTPTrack{kind: "audio", local: audio, stop: make(chan struct{})}
	videoTrack := &RTPTrack{kind: "video", local: video, stop: make(chan struct{})}
	for _, t := range []*RTPTrack{audioTrack, videoTrack} {
		t.enabled.Store(true)
		t.live.Store(true)
	}

	// 20ms Opus frames at 48kHz, ~30fps VP8 at the 90kHz media clock.
	go audioTrack.pump(20*time.Millisecond, 960, make([]byte, 16))
	go videoTrack.pump(33*time.Millisecond, 3000, make([]byte, 128))

	c.logger.Debugw("synthetic capture acquired",
		"width", constraints.Width,
		"height", constraints.Height,
	)

	return &syntheticStream{tracks: []ports.CaptureTrack{audioTrack, videoTrack}}, nil
}

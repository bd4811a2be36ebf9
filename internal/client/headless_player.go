package client

import (
	"sync"
	"time"
)

// HeadlessPlayer simulates playback for agents without a real media
// element. Position advances with wall-clock time while playing, scaled
// by the playback rate.
type HeadlessPlayer struct {
	mu       sync.Mutex
	position float64
	playing  bool
	rate     float64
	last     time.Time

	now func() time.Time
}

func NewHeadlessPlayer() *HeadlessPlayer {
	p := &HeadlessPlayer{rate: 1.0, now: time.Now}
	p.last = p.now()
	return p
}

func (p *HeadlessPlayer) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.position = seconds
}

func (p *HeadlessPlayer) SetPlaying(playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.playing = playing
}

func (p *HeadlessPlayer) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	if rate > 0 {
		p.rate = rate
	}
}

// Position advances the simulated clock and returns the current position.
func (p *HeadlessPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.position
}

func (p *HeadlessPlayer) advanceLocked() {
	now := p.now()
	if p.playing {
		p.position += now.Sub(p.last).Seconds() * p.rate
	}
	p.last = now
}

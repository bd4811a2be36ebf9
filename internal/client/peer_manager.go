package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"watchsync/internal/core/domain"
	"watchsync/internal/core/ports"
	"watchsync/internal/protocol"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PeerState tags the lifecycle of one remote link. Absence from the peer
// table is the implicit initial state; closed is terminal.
type PeerState string

const (
	PeerConnecting   PeerState = "connecting"
	PeerConnected    PeerState = "connected"
	PeerDisconnected PeerState = "disconnected"
	PeerFailed       PeerState = "failed"
	PeerClosed       PeerState = "closed"
)

// PeerConfig carries the manager's timing tunables.
type PeerConfig struct {
	HealthSweepInterval time.Duration
	ReconnectDelay      time.Duration
	ResumeSettleDelay   time.Duration
}

// SignalSender delivers a negotiation payload to one remote participant
// through the relay.
type SignalSender func(to domain.UserID, signal protocol.Signal) error

// peerConn is the local record for one remote participant. At most one
// reconnect timer is live per peer.
type peerConn struct {
	id             domain.UserID
	link           ports.PeerLink
	state          PeerState
	reconnectTimer *time.Timer
}

// PeerManager runs one signaling state machine per remote participant.
// Instances for different peers are independent; they share only read
// access to the local capture stream.
type PeerManager struct {
	selfID    domain.UserID
	transport ports.PeerTransport
	capture   ports.CaptureStream
	media     ports.MediaCapture
	wants     ports.CaptureConstraints
	sendTo    SignalSender
	cfg       PeerConfig

	peers map[domain.UserID]*peerConn
	mu    sync.Mutex

	logger *zap.SugaredLogger
}

func NewPeerManager(
	selfID domain.UserID,
	transport ports.PeerTransport,
	capture ports.CaptureStream,
	media ports.MediaCapture,
	wants ports.CaptureConstraints,
	sendTo SignalSender,
	cfg PeerConfig,
	logger *zap.SugaredLogger,
) *PeerManager {
	return &PeerManager{
		selfID:    selfID,
		transport: transport,
		capture:   capture,
		media:     media,
		wants:     wants,
		sendTo:    sendTo,
		cfg:       cfg,
		peers:     make(map[domain.UserID]*peerConn),
		logger:    logger,
	}
}

// Run drives the periodic health sweep until ctx is cancelled, then tears
// everything down.
func (m *PeerManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			m.Close()
			return
		}
	}
}

// PeerJoined reacts to a participant appearing in the room. To prevent
// glare, only the side whose identifier sorts lower initiates the offer;
// the other waits to receive one.
func (m *PeerManager) PeerJoined(peerID domain.UserID) {
	if peerID == m.selfID {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.peers[peerID]; exists {
		return
	}
	if m.selfID < peerID {
		m.initiateLocked(peerID)
	}
}

// PeerDeparted unconditionally tears down the local connection and state
// for the departed participant.
func (m *PeerManager) PeerDeparted(peerID domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(peerID)
	m.logger.Infow("peer departed", "peer_id", peerID)
}

// HandleSignal processes one inbound negotiation message.
func (m *PeerManager) HandleSignal(signal protocol.Signal) {
	switch signal.Type {
	case protocol.SignalOffer:
		m.handleOffer(signal.From, signal.Data)
	case protocol.SignalAnswer:
		m.handleAnswer(signal.From, signal.Data)
	case protocol.SignalICECandidate:
		m.handleCandidate(signal.From, signal.Data)
	default:
		m.logger.Warnw("unknown signal type", "type", signal.Type, "from", signal.From)
	}
}

// handleOffer answers an inbound offer, recreating the connection first
// when the existing one is beyond use. Negotiation failures are logged
// and the connection is left in place for the health sweep to recycle.
func (m *PeerManager) handleOffer(from domain.UserID, data json.RawMessage) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		m.logger.Warnw("invalid offer payload", "from", from, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pc, exists := m.peers[from]
	if exists && (pc.state == PeerClosed || pc.state == PeerFailed) {
		m.teardownLocked(from)
		exists = false
	}
	if !exists {
		var err error
		pc, err = m.createLocked(from)
		if err != nil {
			m.logger.Errorw("failed to create connection for offer", "from", from, "error", err)
			return
		}
	}

	if err := pc.link.SetRemoteDescription(offer); err != nil {
		m.logger.Warnw("failed to apply remote offer",
			"from", from,
			"error", fmt.Errorf("%v: %w", err, domain.ErrNegotiationFailed),
		)
		return
	}

	answer, err := pc.link.CreateAnswer()
	if err != nil {
		m.logger.Warnw("failed to create answer", "from", from, "error", err)
		return
	}
	if err := pc.link.SetLocalDescription(answer); err != nil {
		m.logger.Warnw("failed to apply local answer", "from", from, "error", err)
		return
	}

	m.sendDescription(from, protocol.SignalAnswer, answer)
}

// handleAnswer applies an answer only while an offer of ours is actually
// outstanding; anything else is a stale or duplicate answer from a
// superseded negotiation.
func (m *PeerManager) handleAnswer(from domain.UserID, data json.RawMessage) {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		m.logger.Warnw("invalid answer payload", "from", from, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pc, exists := m.peers[from]
	if !exists || pc.link.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		m.logger.Infow("discarding answer without pending offer", "from", from)
		return
	}

	if err := pc.link.SetRemoteDescription(answer); err != nil {
		m.logger.Warnw("failed to apply remote answer", "from", from, "error", err)
	}
}

// handleCandidate applies an ICE candidate best-effort; failures are
// logged and swallowed.
func (m *PeerManager) handleCandidate(from domain.UserID, data json.RawMessage) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &candidate); err != nil {
		m.logger.Warnw("invalid candidate payload", "from", from, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pc, exists := m.peers[from]
	if !exists {
		m.logger.Debugw("candidate for unknown peer", "from", from)
		return
	}

	if err := pc.link.AddICECandidate(candidate); err != nil {
		m.logger.Debugw("failed to apply candidate", "from", from, "error", err)
	}
}

// Sweep inspects every tracked connection and schedules exactly one
// reconnect attempt for each unhealthy peer. A second failure observation
// while a timer is pending schedules nothing.
func (m *PeerManager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, pc := range m.peers {
		switch pc.link.ConnectionState() {
		case webrtc.PeerConnectionStateFailed:
			pc.state = PeerFailed
		case webrtc.PeerConnectionStateDisconnected:
			pc.state = PeerDisconnected
		case webrtc.PeerConnectionStateConnected:
			pc.state = PeerConnected
		}

		if pc.state != PeerFailed && pc.state != PeerDisconnected {
			continue
		}
		if pc.reconnectTimer != nil {
			continue
		}

		peerID := id
		m.logger.Infow("scheduling reconnect", "peer_id", peerID, "state", pc.state)
		pc.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
			m.reconnect(peerID)
		})
	}
}

// Resume is the foreground-resume sweep: after the settle delay it heals
// capture tracks ended during suspension, forces reconnection of dead
// links, and distrusts "connected" links with no live inbound track.
func (m *PeerManager) Resume(ctx context.Context) {
	select {
	case <-time.After(m.cfg.ResumeSettleDelay):
	case <-ctx.Done():
		return
	}

	m.healCapture(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, pc := range m.peers {
		switch pc.link.ConnectionState() {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			m.logger.Infow("forcing reconnect after resume", "peer_id", id)
			m.forceReconnectLocked(id)

		case webrtc.PeerConnectionStateConnected:
			// Some platforms report connected after suspension while no
			// media flows; verify an inbound track is actually live.
			if !anyReceiverLive(pc.link) {
				m.logger.Infow("connected link has no live inbound track, forcing reconnect", "peer_id", id)
				m.forceReconnectLocked(id)
			}
		}
	}
}

// healCapture reacquires the capture stream when any track ended during
// suspension and hot-swaps each outbound track of matching kind on every
// live connection without renegotiating.
func (m *PeerManager) healCapture(ctx context.Context) {
	ended := false
	for _, track := range m.capture.Tracks() {
		if !track.Live() {
			ended = true
			break
		}
	}
	if !ended {
		return
	}

	fresh, err := m.media.Acquire(ctx, m.wants)
	if err != nil {
		m.logger.Errorw("failed to reacquire capture stream", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.capture
	m.capture = fresh

	for id, pc := range m.peers {
		for _, sender := range pc.link.Senders() {
			for _, track := range fresh.Tracks() {
				if track.Kind() != sender.Kind() {
					continue
				}
				if err := sender.ReplaceTrack(track); err != nil {
					m.logger.Warnw("failed to hot-swap track", "peer_id", id, "kind", track.Kind(), "error", err)
				}
			}
		}
	}

	old.Close()
	m.logger.Infow("capture stream reacquired")
}

// reconnect fires from the per-peer timer: tear down, then re-initiate
// only from the lower-id side so both peers don't re-offer at once.
func (m *PeerManager) reconnect(peerID domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, exists := m.peers[peerID]
	if !exists {
		return
	}
	pc.reconnectTimer = nil

	m.teardownLocked(peerID)
	if m.selfID < peerID {
		m.initiateLocked(peerID)
	}
}

// forceReconnectLocked is the deliberate variant used by the resume
// sweep: any pending timer is cancelled before the immediate attempt.
func (m *PeerManager) forceReconnectLocked(peerID domain.UserID) {
	if pc, exists := m.peers[peerID]; exists && pc.reconnectTimer != nil {
		pc.reconnectTimer.Stop()
		pc.reconnectTimer = nil
	}
	m.teardownLocked(peerID)
	if m.selfID < peerID {
		m.initiateLocked(peerID)
	}
}

// initiateLocked creates a connection and sends the opening offer.
func (m *PeerManager) initiateLocked(peerID domain.UserID) {
	pc, err := m.createLocked(peerID)
	if err != nil {
		m.logger.Errorw("failed to create connection", "peer_id", peerID, "error", err)
		return
	}

	offer, err := pc.link.CreateOffer()
	if err != nil {
		m.logger.Warnw("failed to create offer", "peer_id", peerID, "error", err)
		return
	}
	if err := pc.link.SetLocalDescription(offer); err != nil {
		m.logger.Warnw("failed to apply local offer", "peer_id", peerID, "error", err)
		return
	}

	m.sendDescription(peerID, protocol.SignalOffer, offer)
}

// createLocked builds the link, attaches local capture tracks and wires
// state callbacks.
func (m *PeerManager) createLocked(peerID domain.UserID) (*peerConn, error) {
	link, err := m.transport.NewLink()
	if err != nil {
		return nil, fmt.Errorf("new link for %s: %w", peerID, err)
	}

	for _, track := range m.capture.Tracks() {
		if err := link.AddTrack(track); err != nil {
			m.logger.Warnw("failed to add local track", "peer_id", peerID, "kind", track.Kind(), "error", err)
		}
	}

	pc := &peerConn{id: peerID, link: link, state: PeerConnecting}
	m.peers[peerID] = pc

	link.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		data, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			return
		}
		if err := m.sendTo(peerID, protocol.Signal{
			Type: protocol.SignalICECandidate,
			From: m.selfID,
			Data: data,
		}); err != nil {
			m.logger.Debugw("failed to send candidate", "peer_id", peerID, "error", err)
		}
	})

	link.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Infow("peer connection state changed", "peer_id", peerID, "state", state)

		m.mu.Lock()
		defer m.mu.Unlock()
		current, ok := m.peers[peerID]
		if !ok || current.link != link {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			current.state = PeerConnected
		case webrtc.PeerConnectionStateDisconnected:
			current.state = PeerDisconnected
		case webrtc.PeerConnectionStateFailed:
			current.state = PeerFailed
		case webrtc.PeerConnectionStateClosed:
			current.state = PeerClosed
		}
	})

	return pc, nil
}

// teardownLocked closes the link, cancels any pending timer and removes
// the peer record.
func (m *PeerManager) teardownLocked(peerID domain.UserID) {
	pc, exists := m.peers[peerID]
	if !exists {
		return
	}
	if pc.reconnectTimer != nil {
		pc.reconnectTimer.Stop()
		pc.reconnectTimer = nil
	}
	pc.state = PeerClosed
	if err := pc.link.Close(); err != nil {
		m.logger.Debugw("error closing link", "peer_id", peerID, "error", err)
	}
	delete(m.peers, peerID)
}

// Close releases every tracked connection and timer.
func (m *PeerManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.peers {
		m.teardownLocked(id)
	}
}

// PeerStates reports the current state tag per tracked peer.
func (m *PeerManager) PeerStates() map[domain.UserID]PeerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[domain.UserID]PeerState, len(m.peers))
	for id, pc := range m.peers {
		states[id] = pc.state
	}
	return states
}

func (m *PeerManager) sendDescription(to domain.UserID, kind protocol.SignalType, desc webrtc.SessionDescription) {
	data, err := json.Marshal(desc)
	if err != nil {
		m.logger.Errorw("failed to marshal description", "peer_id", to, "error", err)
		return
	}
	if err := m.sendTo(to, protocol.Signal{Type: kind, From: m.selfID, Data: data}); err != nil {
		m.logger.Warnw("failed to send description", "peer_id", to, "kind", kind, "error", err)
	}
}

func anyReceiverLive(link ports.PeerLink) bool {
	for _, receiver := range link.Receivers() {
		if receiver.Live() {
			return true
		}
	}
	return false
}

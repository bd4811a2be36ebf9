package client

import (
	"fmt"
	"sync"
	"time"

	"watchsync/internal/core/domain"
	"watchsync/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// inboundLivenessWindow is how recently a packet must have arrived for an
// inbound track to count as live.
const inboundLivenessWindow = 3 * time.Second

// TransportConfig mirrors the peer section of the configuration.
type TransportConfig struct {
	ICEServers        []webrtc.ICEServer
	CandidatePoolSize int
}

// WebRTCTransport mints peer links over pion.
type WebRTCTransport struct {
	config TransportConfig
	logger *zap.SugaredLogger
}

func NewWebRTCTransport(config TransportConfig, logger *zap.SugaredLogger) ports.PeerTransport {
	return &WebRTCTransport{config: config, logger: logger}
}

func (t *WebRTCTransport) NewLink() (ports.PeerLink, error) {
	config := webrtc.Configuration{
		ICEServers:           t.config.ICEServers,
		ICECandidatePoolSize: uint8(t.config.CandidatePoolSize),
		SDPSemantics:         webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	link := &pionLink{
		pc:      pc,
		inbound: make(map[string]*inboundTrack),
		logger:  t.logger,
	}

	pc.OnTrack(link.handleInboundTrack)
	return link, nil
}

// inboundTrack tracks packet arrival for one remote track so liveness can
// be judged independently of what the connection state claims.
type inboundTrack struct {
	kind       string
	lastPacket int64 // unix nanos
	mu         sync.Mutex
}

func (it *inboundTrack) touch() {
	it.mu.Lock()
	it.lastPacket = time.Now().UnixNano()
	it.mu.Unlock()
}

func (it *inboundTrack) live() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return time.Since(time.Unix(0, it.lastPacket)) < inboundLivenessWindow
}

type pionLink struct {
	pc      *webrtc.PeerConnection
	inbound map[string]*inboundTrack
	mu      sync.Mutex
	logger  *zap.SugaredLogger
}

func (l *pionLink) CreateOffer() (webrtc.SessionDescription, error)  { return l.pc.CreateOffer(nil) }
func (l *pionLink) CreateAnswer() (webrtc.SessionDescription, error) { return l.pc.CreateAnswer(nil) }

func (l *pionLink) SetLocalDescription(desc webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(desc)
}

func (l *pionLink) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrNegotiationFailed)
	}
	return nil
}

func (l *pionLink) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(candidate)
}

func (l *pionLink) AddTrack(track ports.CaptureTrack) error {
	rt, ok := track.(*RTPTrack)
	if !ok {
		return fmt.Errorf("unsupported capture track type %T", track)
	}
	if _, err := l.pc.AddTrack(rt.Local()); err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}
	return nil
}

func (l *pionLink) Senders() []ports.PeerSender {
	senders := l.pc.GetSenders()
	out := make([]ports.PeerSender, 0, len(senders))
	for _, sender := range senders {
		if sender.Track() == nil {
			continue
		}
		out = append(out, &pionSender{sender: sender})
	}
	return out
}

func (l *pionLink) Receivers() []ports.PeerReceiver {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ports.PeerReceiver, 0, len(l.inbound))
	for _, it := range l.inbound {
		out = append(out, &pionReceiver{track: it})
	}
	return out
}

func (l *pionLink) ConnectionState() webrtc.PeerConnectionState {
	return l.pc.ConnectionState()
}

func (l *pionLink) SignalingState() webrtc.SignalingState {
	return l.pc.SignalingState()
}

func (l *pionLink) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	l.pc.OnConnectionStateChange(fn)
}

func (l *pionLink) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	l.pc.OnICECandidate(fn)
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}

// handleInboundTrack starts the RTP drain that tracks liveness and the
// RTCP reader that surfaces remote link quality.
func (l *pionLink) handleInboundTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	it := &inboundTrack{kind: track.Kind().String()}
	it.touch()

	l.mu.Lock()
	l.inbound[track.ID()] = it
	l.mu.Unlock()

	l.logger.Debugw("inbound track started",
		"track_id", track.ID(),
		"kind", it.kind,
		"codec", track.Codec().MimeType,
	)

	go l.drainRTP(track, it)
	go l.processRTCP(receiver, it)
}

func (l *pionLink) drainRTP(track *webrtc.TrackRemote, it *inboundTrack) {
	buf := make([]byte, 1500) // MTU size
	for {
		if _, _, err := track.Read(buf); err != nil {
			l.logger.Debugw("inbound track ended", "track_id", track.ID(), "error", err)
			return
		}
		it.touch()
	}
}

// processRTCP extracts loss and jitter from receiver reports; the numbers
// are only logged, the peer manager makes no decisions from them.
func (l *pionLink) processRTCP(receiver *webrtc.RTPReceiver, it *inboundTrack) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}

		for _, packet := range packets {
			switch p := packet.(type) {
			case *rtcp.ReceiverReport:
				for _, report := range p.Reports {
					l.logger.Debugw("inbound link report",
						"kind", it.kind,
						"fraction_lost", float64(report.FractionLost)/255.0,
						"jitter", report.Jitter,
					)
				}
			case *rtcp.TransportLayerNack:
				l.logger.Debugw("inbound link nack", "kind", it.kind, "nacks", len(p.Nacks))
			}
		}
	}
}

type pionSender struct {
	sender *webrtc.RTPSender
}

func (s *pionSender) Kind() string {
	return s.sender.Track().Kind().String()
}

func (s *pionSender) ReplaceTrack(track ports.CaptureTrack) error {
	rt, ok := track.(*RTPTrack)
	if !ok {
		return fmt.Errorf("unsupported capture track type %T", track)
	}
	return s.sender.ReplaceTrack(rt.Local())
}

type pionReceiver struct {
	track *inboundTrack
}

func (r *pionReceiver) Kind() string { return r.track.kind }
func (r *pionReceiver) Live() bool   { return r.track.live() }

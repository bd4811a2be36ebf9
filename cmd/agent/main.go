package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"watchsync/internal/client"
	"watchsync/internal/core/domain"
	"watchsync/internal/core/ports"
	"watchsync/internal/protocol"
	"watchsync/pkg/config"
	"watchsync/pkg/logger"
	"watchsync/pkg/retry"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

func main() {
	var (
		relayURL = flag.String("relay", "ws://localhost:8080/ws", "relay WebSocket URL")
		roomID   = flag.String("room", "", "room to join (required)")
		userID   = flag.String("user", "", "participant identifier (random if empty)")
		username = flag.String("name", "agent", "display name")
	)
	flag.Parse()

	if *roomID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *userID == "" {
		*userID = uuid.New().String()
	}

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/watchsync/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	self := domain.UserID(*userID)
	room := domain.RoomID(*roomID)

	capture := client.NewSyntheticCapture(log)
	wants := ports.CaptureConstraints{
		Width:            cfg.Capture.Width,
		Height:           cfg.Capture.Height,
		EchoCancellation: cfg.Capture.EchoCancellation,
		NoiseSuppression: cfg.Capture.NoiseSuppression,
	}

	stream, err := capture.Acquire(ctx, wants)
	if err != nil {
		log.Fatalw("failed to acquire capture stream", "error", err)
	}
	defer stream.Close()

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.Peer.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	transport := client.NewWebRTCTransport(client.TransportConfig{
		ICEServers:        iceServers,
		CandidatePoolSize: cfg.Peer.CandidatePoolSize,
	}, log)

	relayClient := client.NewRelayClient(log)

	peers := client.NewPeerManager(
		self,
		transport,
		stream,
		capture,
		wants,
		func(to domain.UserID, signal protocol.Signal) error {
			return relayClient.Emit(protocol.EventSignal, protocol.SignalPayload{
				RoomID: room,
				To:     to,
				Signal: signal,
			})
		},
		client.PeerConfig{
			HealthSweepInterval: cfg.Peer.HealthSweepInterval,
			ReconnectDelay:      cfg.Peer.ReconnectDelay,
			ResumeSettleDelay:   cfg.Peer.ResumeSettleDelay,
		},
		log,
	)

	player := client.NewHeadlessPlayer()

	controller := client.NewSyncController(client.SyncConfig{
		CorrectionThreshold:    cfg.Sync.CorrectionThreshold,
		HardResyncThreshold:    cfg.Sync.HardResyncThreshold,
		LatencyCompensationCap: cfg.Sync.LatencyCompensationCap,
		BroadcastInterval:      cfg.Sync.BroadcastInterval,
		SeekCooldown:           cfg.Sync.SeekCooldown,
	}, room, self, player, relayClient.Emit, log)

	relayClient.On(protocol.EventSyncState, func(raw json.RawMessage) {
		var snapshot domain.RoomSnapshot
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			log.Warnw("invalid sync-state payload", "error", err)
			return
		}
		controller.HandleSyncState(snapshot)
		for _, user := range snapshot.Users {
			peers.PeerJoined(user.ID)
		}
	})

	relayClient.On(protocol.EventVideoState, func(raw json.RawMessage) {
		var state domain.VideoState
		if err := json.Unmarshal(raw, &state); err != nil {
			log.Warnw("invalid video-state payload", "error", err)
			return
		}
		player.SetRate(state.PlaybackRate)
		controller.HandleVideoState(state)
	})

	relayClient.On(protocol.EventSyncCorrection, func(raw json.RawMessage) {
		var correction domain.SyncCorrection
		if err := json.Unmarshal(raw, &correction); err != nil {
			log.Warnw("invalid sync-correction payload", "error", err)
			return
		}
		controller.HandleCorrection(correction)
	})

	relayClient.On(protocol.EventUserConnected, func(raw json.RawMessage) {
		var p protocol.UserEventPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		peers.PeerJoined(p.UserID)
	})

	relayClient.On(protocol.EventUserDisconnected, func(raw json.RawMessage) {
		var p protocol.UserEventPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		peers.PeerDeparted(p.UserID)
	})

	relayClient.On(protocol.EventHostAssigned, func(raw json.RawMessage) {
		var p protocol.HostAssignedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		controller.SetHost(p.IsHost)
		log.Infow("host role updated", "is_host", p.IsHost)
	})

	relayClient.On(protocol.EventHostChanged, func(raw json.RawMessage) {
		var p protocol.HostChangedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		controller.SetHost(p.HostID == self)
		log.Infow("host changed", "host_id", p.HostID, "host_username", p.HostUsername)
	})

	relayClient.On(protocol.EventSignal, func(raw json.RawMessage) {
		var signal protocol.Signal
		if err := json.Unmarshal(raw, &signal); err != nil {
			log.Warnw("invalid signal payload", "error", err)
			return
		}
		peers.HandleSignal(signal)
	})

	relayClient.On(protocol.EventChatMessage, func(raw json.RawMessage) {
		var msg domain.ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		log.Infow("chat", "from", msg.Username, "text", msg.Text)
	})

	relayClient.On(protocol.EventError, func(raw json.RawMessage) {
		var p protocol.ErrorPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		log.Warnw("relay error", "message", p.Message)
	})

	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		return relayClient.Join(ctx, *relayURL, room, self, *username)
	})
	if err != nil {
		log.Fatalw("failed to join relay", "url", *relayURL, "error", err)
	}
	defer relayClient.Close()

	log.Infow("joined room", "room_id", room, "user_id", self, "username", *username)

	go peers.Run(ctx)

	// Drive local playback observation.
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				controller.ProgressTick(player.Position(), false)
			case <-ctx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// SIGCONT stands in for foreground resume on a headless agent.
	resumeChan := make(chan os.Signal, 1)
	signal.Notify(resumeChan, syscall.SIGCONT)

	for {
		select {
		case <-resumeChan:
			log.Info("resume detected, sweeping peer connections")
			go peers.Resume(ctx)

		case sig := <-sigChan:
			log.Infow("shutting down", "signal", sig)
			cancel()
			return

		case <-relayClient.Done():
			log.Info("relay connection closed, exiting")
			cancel()
			return
		}
	}
}

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"watchsync/internal/core/domain"
	"watchsync/internal/core/ports"
	"watchsync/internal/protocol"
	"watchsync/pkg/validation"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ConnMetrics counts open relay connections.
type ConnMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

// ServerConfig carries the relay's transport tunables.
type ServerConfig struct {
	PingInterval        time.Duration
	PongTimeout         time.Duration
	WriteTimeout        time.Duration
	MessagesPerSecond   float64
	Burst               int
	MaxMessageSizeBytes int64
}

// Server is the authority side of the event relay. Every connection is
// bound to one room member; all of a room's inbound events are funneled
// through that room's ordered queue before they touch the session store.
type Server struct {
	sessions ports.SessionService
	registry *Registry
	rooms    *roomQueues
	metrics  ConnMetrics
	cfg      ServerConfig
	tracer   trace.Tracer

	logger *zap.SugaredLogger
}

func NewServer(sessions ports.SessionService, registry *Registry, metrics ConnMetrics, cfg ServerConfig, logger *zap.SugaredLogger) *Server {
	return &Server{
		sessions: sessions,
		registry: registry,
		rooms:    newRoomQueues(),
		metrics:  metrics,
		cfg:      cfg,
		tracer:   otel.Tracer("watchsync/relay"),
		logger:   logger,
	}
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// All writes to this connection go through ep so pings and error
	// replies never race registry deliveries on the same conn.
	ep := newEndpoint(conn, s.cfg.WriteTimeout)

	if s.cfg.MaxMessageSizeBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSizeBytes)
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	// The first event of every connection must be join-room; it binds the
	// connection to a room member.
	var joinEnv protocol.Envelope
	if err := conn.ReadJSON(&joinEnv); err != nil {
		s.logger.Infow("connection closed before join", "error", err)
		return
	}
	if joinEnv.Event != protocol.EventJoinRoom {
		s.sendError(ep, fmt.Sprintf("expected %s, got %s", protocol.EventJoinRoom, joinEnv.Event))
		return
	}

	var join protocol.JoinRoomPayload
	if err := json.Unmarshal(joinEnv.Payload, &join); err != nil {
		s.sendError(ep, "invalid join-room payload")
		return
	}
	if err := validateJoin(join); err != nil {
		s.sendError(ep, err.Error())
		return
	}

	roomID, userID := join.RoomID, join.UserID

	queue := s.rooms.acquire(roomID)
	s.registry.Register(roomID, userID, ep)
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
	s.logger.Infow("participant connected", "room_id", roomID, "user_id", userID, "username", join.Username)

	queue.submit(func() {
		snapshot, err := s.sessions.Join(context.Background(), roomID, userID, join.Username)
		if err != nil {
			s.logger.Errorw("join failed", "room_id", roomID, "user_id", userID, "error", err)
			s.sendError(ep, err.Error())
			return
		}
		if err := s.registry.SendToUser(roomID, userID, protocol.EventSyncState, snapshot); err != nil {
			s.logger.Warnw("failed to deliver sync-state", "room_id", roomID, "user_id", userID, "error", err)
		}
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan protocol.Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			messageChan <- env
		}
	}()

	for {
		select {
		case env := <-messageChan:
			if !limiter.Allow() {
				s.sendError(ep, "rate limit exceeded")
				continue
			}
			queue.submit(func() {
				if err := s.handleEnvelope(context.Background(), roomID, userID, env); err != nil {
					s.logger.Infow("error handling event",
						"room_id", roomID,
						"user_id", userID,
						"event", env.Event,
						"error", err,
					)
					s.sendError(ep, err.Error())
				}
			})

		case <-pingTicker.C:
			if err := ep.ping(); err != nil {
				s.logger.Infow("error sending ping", "room_id", roomID, "user_id", userID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading event", "room_id", roomID, "user_id", userID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	// A reconnect may already have replaced this endpoint; only the
	// connection that still owns the binding removes the member.
	if s.registry.Unregister(roomID, userID, ep) {
		queue.submit(func() {
			if err := s.sessions.Leave(context.Background(), roomID, userID); err != nil && err != domain.ErrRoomNotFound && err != domain.ErrUserNotFound {
				s.logger.Warnw("error removing participant", "room_id", roomID, "user_id", userID, "error", err)
			}
		})
	}
	s.rooms.release(roomID, queue)
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
	s.logger.Infow("participant disconnected", "room_id", roomID, "user_id", userID)
}

func (s *Server) handleEnvelope(ctx context.Context, roomID domain.RoomID, userID domain.UserID, env protocol.Envelope) error {
	if env.Event == "" {
		return fmt.Errorf("event name is required")
	}

	ctx, span := s.tracer.Start(ctx, "relay."+env.Event,
		trace.WithAttributes(
			attribute.String("room_id", string(roomID)),
			attribute.String("user_id", string(userID)),
		),
	)
	defer span.End()

	err := s.dispatch(ctx, roomID, userID, env)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Server) dispatch(ctx context.Context, roomID domain.RoomID, userID domain.UserID, env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventVideoState:
		var p protocol.VideoStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid video-state payload: %w", err)
		}
		if err := s.checkRoom(roomID, p.RoomID); err != nil {
			return err
		}
		if p.Patch.URL != nil {
			if err := validation.ValidateVideoURL(*p.Patch.URL); err != nil {
				return err
			}
		}
		return s.sessions.UpdateVideoState(ctx, roomID, userID, p.Patch)

	case protocol.EventPositionReport:
		var p protocol.PositionReportPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid position-report payload: %w", err)
		}
		if err := s.checkRoom(roomID, p.RoomID); err != nil {
			return err
		}
		return s.sessions.PositionReport(ctx, roomID, userID, p.PlayedSeconds, p.IsBuffering)

	case protocol.EventChatMessage:
		var p protocol.ChatMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid chat-message payload: %w", err)
		}
		if err := s.checkRoom(roomID, p.RoomID); err != nil {
			return err
		}
		text := validation.SanitizeText(p.Text)
		if err := validation.ValidateChatText(text); err != nil {
			return err
		}
		_, err := s.sessions.AppendChat(ctx, roomID, userID, text)
		return err

	case protocol.EventSignal:
		var p protocol.SignalPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid signal payload: %w", err)
		}
		if err := s.checkRoom(roomID, p.RoomID); err != nil {
			return err
		}
		// The relay, not the sender, asserts the signal's origin.
		p.Signal.From = userID
		return s.sessions.RelaySignal(ctx, roomID, p.To, p.Signal)

	case protocol.EventJoinRoom:
		return fmt.Errorf("already joined")

	default:
		return fmt.Errorf("unknown event: %s", env.Event)
	}
}

func validateJoin(join protocol.JoinRoomPayload) error {
	if err := validation.ValidateRoomID(string(join.RoomID)); err != nil {
		return err
	}
	if err := validation.ValidateUserID(string(join.UserID)); err != nil {
		return err
	}
	return validation.ValidateUsername(join.Username)
}

// checkRoom rejects payloads addressed to a room other than the one this
// connection joined.
func (s *Server) checkRoom(bound, claimed domain.RoomID) error {
	if claimed != "" && claimed != bound {
		return fmt.Errorf("room mismatch: expected %s, got %s", bound, claimed)
	}
	return nil
}

func (s *Server) sendError(ep *endpoint, message string) {
	ep.writeJSON(outbound{
		Event:   protocol.EventError,
		Payload: protocol.ErrorPayload{Message: message},
	})
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.registry.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"watchsync/internal/core/domain"
	"watchsync/internal/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RelayClient is the participant side of the event relay. Inbound events
// are dispatched one at a time from a single goroutine, so handlers run
// to completion before the next event is processed.
type RelayClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	handlers map[string]func(json.RawMessage)
	mu       sync.RWMutex

	roomID domain.RoomID
	userID domain.UserID

	done chan struct{}

	logger *zap.SugaredLogger
}

func NewRelayClient(logger *zap.SugaredLogger) *RelayClient {
	return &RelayClient{
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// On registers the handler for one event name. Registration must happen
// before Join starts the read loop.
func (c *RelayClient) On(event string, handler func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

// Join dials the relay, announces the participant and starts dispatching
// inbound events.
func (c *RelayClient) Join(ctx context.Context, url string, roomID domain.RoomID, userID domain.UserID, username string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", url, domain.ErrTransportUnavailable)
	}

	c.conn = conn
	c.roomID = roomID
	c.userID = userID

	if err := c.Emit(protocol.EventJoinRoom, protocol.JoinRoomPayload{
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
	}); err != nil {
		conn.Close()
		return err
	}

	go c.readLoop()
	return nil
}

// Emit sends one event to the authority.
func (c *RelayClient) Emit(event string, payload interface{}) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", event, domain.ErrTransportUnavailable)
	}
	return nil
}

func (c *RelayClient) readLoop() {
	defer close(c.done)

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Infow("relay connection lost", "error", err)
			}
			return
		}

		c.mu.RLock()
		handler, ok := c.handlers[env.Event]
		c.mu.RUnlock()

		if !ok {
			c.logger.Debugw("unhandled event", "event", env.Event)
			continue
		}
		handler(env.Payload)
	}
}

// Done is closed when the read loop exits.
func (c *RelayClient) Done() <-chan struct{} {
	return c.done
}

func (c *RelayClient) RoomID() domain.RoomID { return c.roomID }
func (c *RelayClient) UserID() domain.UserID { return c.userID }

func (c *RelayClient) Close() error {
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

package protocol

import (
	"encoding/json"

	"watchsync/internal/core/domain"
)

// Event names carried over the relay. Broadcast events reach every current
// room member; EventSyncCorrection, EventSignal and EventHostAssigned are
// targeted to exactly one member's endpoint.
const (
	EventJoinRoom         = "join-room"
	EventSyncState        = "sync-state"
	EventUpdateUsers      = "update-users"
	EventVideoState       = "video-state"
	EventPositionReport   = "position-report"
	EventSyncCorrection   = "sync-correction"
	EventChatMessage      = "chat-message"
	EventSignal           = "signal"
	EventUserConnected    = "user-connected"
	EventUserDisconnected = "user-disconnected"
	EventHostAssigned     = "host-assigned"
	EventHostChanged      = "host-changed"
	EventError            = "error"
)

// Envelope frames every relay message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(event string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Payload: raw}, nil
}

type JoinRoomPayload struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

type VideoStatePayload struct {
	RoomID domain.RoomID          `json:"roomId"`
	Patch  domain.VideoStatePatch `json:"patch"`
}

type PositionReportPayload struct {
	RoomID        domain.RoomID `json:"roomId"`
	UserID        domain.UserID `json:"userId"`
	PlayedSeconds float64       `json:"playedSeconds"`
	IsBuffering   bool          `json:"isBuffering"`
}

type ChatMessagePayload struct {
	RoomID domain.RoomID `json:"roomId"`
	Text   string        `json:"text"`
}

type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
)

// Signal is the opaque negotiation payload relayed between two peers. The
// authority forwards Data without inspecting it.
type Signal struct {
	Type SignalType      `json:"type"`
	From domain.UserID   `json:"from"`
	Data json.RawMessage `json:"data"`
}

type SignalPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	To     domain.UserID `json:"to"`
	Signal Signal        `json:"signal"`
}

type UserEventPayload struct {
	UserID domain.UserID `json:"userId"`
}

type HostAssignedPayload struct {
	IsHost bool `json:"isHost"`
}

type HostChangedPayload struct {
	HostID       domain.UserID `json:"hostId"`
	HostUsername string        `json:"hostUsername"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

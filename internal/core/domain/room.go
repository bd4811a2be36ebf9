package domain

import (
	"time"
)

type RoomID string
type UserID string
type MessageID string

// ChatLogCapacity bounds the per-room chat log; the oldest entry is
// evicted once the log is full.
const ChatLogCapacity = 100

type Room struct {
	ID        RoomID
	HostID    UserID
	Video     VideoState
	Users     map[UserID]*User
	JoinOrder []UserID
	Messages  []ChatMessage
	CreatedAt time.Time
}

// VideoState is the authoritative playback state of a room. ServerTimestamp
// is stamped by the session store on every accepted update and is
// monotonically non-decreasing within a room.
type VideoState struct {
	IsPlaying       bool    `json:"isPlaying"`
	PlayedSeconds   float64 `json:"playedSeconds"`
	URL             string  `json:"url"`
	LastUpdated     int64   `json:"lastUpdated"`
	UpdatedBy       UserID  `json:"updatedBy"`
	ServerTimestamp int64   `json:"serverTimestamp"`
	IsBuffering     bool    `json:"isBuffering"`
	PlaybackRate    float64 `json:"playbackRate"`
}

// VideoStatePatch carries only the fields a client is allowed to change.
// Nil means "leave as is"; merge is last-writer-wins per field.
type VideoStatePatch struct {
	IsPlaying     *bool    `json:"isPlaying,omitempty"`
	PlayedSeconds *float64 `json:"playedSeconds,omitempty"`
	URL           *string  `json:"url,omitempty"`
	IsBuffering   *bool    `json:"isBuffering,omitempty"`
	PlaybackRate  *float64 `json:"playbackRate,omitempty"`
}

type User struct {
	ID       UserID            `json:"id"`
	Username string            `json:"username"`
	Quality  ConnectionQuality `json:"connectionQuality"`
	JoinedAt time.Time         `json:"-"`
}

type QualityLevel string

const (
	QualityGood QualityLevel = "good"
	QualityFair QualityLevel = "fair"
	QualityPoor QualityLevel = "poor"
)

// ConnectionQuality accumulates the running average of reported drift for
// one user. Reset only by process restart.
type ConnectionQuality struct {
	AverageDrift float64      `json:"averageDrift"`
	ReportCount  int          `json:"reportCount"`
	Level        QualityLevel `json:"level"`
}

// Observe folds one drift sample into the cumulative moving average and
// re-derives the quality level against the supplied thresholds.
func (q *ConnectionQuality) Observe(drift, goodBelow, fairBelow float64) {
	q.ReportCount++
	q.AverageDrift += (drift - q.AverageDrift) / float64(q.ReportCount)

	switch {
	case q.AverageDrift < goodBelow:
		q.Level = QualityGood
	case q.AverageDrift < fairBelow:
		q.Level = QualityFair
	default:
		q.Level = QualityPoor
	}
}

// ChatMessage is immutable once appended; Timestamp is assigned by the
// session store, never by the sender.
type ChatMessage struct {
	ID        MessageID `json:"id"`
	UserID    UserID    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp int64     `json:"timestamp"`
}

// RoomSnapshot is the full state handed to a joiner.
type RoomSnapshot struct {
	Video    VideoState    `json:"videoState"`
	Messages []ChatMessage `json:"messages"`
	Users    []*User       `json:"users"`
	HostID   UserID        `json:"hostId"`
}

// SyncCorrection is the targeted nudge sent to a single drifting user.
type SyncCorrection struct {
	PlayedSeconds   float64      `json:"playedSeconds"`
	IsPlaying       bool         `json:"isPlaying"`
	ServerTimestamp int64        `json:"serverTimestamp"`
	Drift           float64      `json:"drift"`
	Quality         QualityLevel `json:"connectionQuality"`
}

// UserList returns the roster in join order. Join order is what host
// succession walks, so it is part of the room's observable state.
func (r *Room) UserList() []*User {
	users := make([]*User, 0, len(r.JoinOrder))
	for _, id := range r.JoinOrder {
		if u, ok := r.Users[id]; ok {
			users = append(users, u)
		}
	}
	return users
}

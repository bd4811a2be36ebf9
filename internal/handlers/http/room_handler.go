package http

import (
	"net/http"

	"watchsync/internal/core/domain"
	"watchsync/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes read-only room diagnostics. All mutation goes
// through the event relay, never through HTTP.
type RoomHandler struct {
	sessions ports.SessionService
	rooms    ports.RoomRepository
}

func NewRoomHandler(sessions ports.SessionService, rooms ports.RoomRepository) *RoomHandler {
	return &RoomHandler{
		sessions: sessions,
		rooms:    rooms,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
	}
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summaries := make([]gin.H, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, gin.H{
			"id":         room.ID,
			"hostId":     room.HostID,
			"members":    len(room.Users),
			"created_at": room.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"rooms": summaries})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	snapshot, err := h.sessions.Snapshot(c.Request.Context(), roomID)
	if err != nil {
		if err == domain.ErrRoomNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": snapshot})
}

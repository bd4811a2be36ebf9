package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"watchsync/internal/core/domain"
	"watchsync/internal/core/services"
	"watchsync/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopNotifier struct{}

func (nopNotifier) BroadcastToRoom(roomID domain.RoomID, event string, payload interface{}) {}
func (nopNotifier) SendToUser(roomID domain.RoomID, to domain.UserID, event string, payload interface{}) error {
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *services.SessionService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.NewMemoryRoomRepository()
	svc := services.NewSessionService(repo, nopNotifier{}, nil, services.SessionConfig{
		CorrectionThreshold: 0.3,
		QualityGoodBelow:    0.5,
		QualityFairBelow:    1.5,
	}, zap.NewNop().Sugar())

	router := gin.New()
	NewRoomHandler(svc, repo).SetupRoutes(router)
	return router, svc
}

func TestListRooms_Empty(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Rooms []map[string]interface{} `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Rooms)
}

func TestListRooms_ReturnsSummaries(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.Join(context.Background(), "movie-night", "alice", "Alice")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Rooms []struct {
			ID      string `json:"id"`
			HostID  string `json:"hostId"`
			Members int    `json:"members"`
		} `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, "movie-night", body.Rooms[0].ID)
	assert.Equal(t, "alice", body.Rooms[0].HostID)
	assert.Equal(t, 1, body.Rooms[0].Members)
}

func TestGetRoom_Snapshot(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.Join(context.Background(), "movie-night", "alice", "Alice")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/movie-night", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Room domain.RoomSnapshot `json:"room"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domain.UserID("alice"), body.Room.HostID)
	require.Len(t, body.Room.Users, 1)
}

func TestGetRoom_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

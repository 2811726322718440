package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"dreamweaver-server/internal/handler"
	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/service/mocks"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(svc *mocks.TurnService) *gin.Engine {
	router := gin.New()
	handler.NewTurnHandler(svc, zap.NewNop()).RegisterRoutes(router, nil)
	return router
}

func do(router *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) handler.ErrorDetail {
	t.Helper()
	var body handler.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHandleTurn_OK(t *testing.T) {
	svc := new(mocks.TurnService)
	req := models.TurnRequest{UserID: "alice", WorldID: "river", Message: "look around"}
	svc.On("HandleTurn", mock.Anything, req).Return(&models.TurnResult{
		WorldID: "river", TurnID: "t1", Version: 2, Narration: "Reeds sway.",
	}, nil).Once()

	w := do(newRouter(svc), http.MethodPost, "/api/turn", req)

	require.Equal(t, http.StatusOK, w.Code)
	var got models.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "Reeds sway.", got.Narration)
	svc.AssertExpectations(t)
}

func TestHandleTurn_MissingFields(t *testing.T) {
	svc := new(mocks.TurnService)
	w := do(newRouter(svc), http.MethodPost, "/api/turn", map[string]string{"world_id": "river"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeInvalidInput, decodeError(t, w).Code)
	svc.AssertNotCalled(t, "HandleTurn", mock.Anything, mock.Anything)
}

func TestHandleTurn_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("%w: world river has no seed", models.ErrNotFound), http.StatusNotFound, models.CodeNotFound},
		{"busy", models.ErrWorldBusy, http.StatusConflict, models.CodeWorldBusy},
		{"conflict", fmt.Errorf("save: %w", models.ErrVersionConflict), http.StatusConflict, models.CodeVersionConflict},
		{"invariant", fmt.Errorf("%w: %w", models.ErrTurnFailed,
			&models.InvariantViolation{Rule: models.RuleReferentialIntegrity, Detail: "unknown region"}),
			http.StatusUnprocessableEntity, models.CodeTurnFailed},
		{"invalid", fmt.Errorf("%w: message is required", models.ErrInvalidInput), http.StatusBadRequest, models.CodeInvalidInput},
		{"cancelled", fmt.Errorf("%w before lock", models.ErrTurnCancelled), 499, models.CodeCancelled},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, models.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mocks.TurnService)
			svc.On("HandleTurn", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

			w := do(newRouter(svc), http.MethodPost, "/api/turn",
				models.TurnRequest{UserID: "alice", WorldID: "river", Message: "go north"})

			assert.Equal(t, tc.status, w.Code)
			detail := decodeError(t, w)
			assert.Equal(t, tc.code, detail.Code)
			if tc.code == models.CodeInternal {
				assert.NotContains(t, detail.Detail, "disk on fire")
			} else {
				assert.Equal(t, tc.err.Error(), detail.Detail)
			}
		})
	}
}

func TestGetState(t *testing.T) {
	svc := new(mocks.TurnService)
	svc.On("GetState", mock.Anything, "river", "alice").Return(&models.WorldView{
		WorldID: "river", Version: 5, RenderedView: "Riverbank",
	}, nil).Once()

	w := do(newRouter(svc), http.MethodGet, "/api/state?world_id=river&user_id=alice", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var view models.WorldView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, int64(5), view.Version)
	assert.Equal(t, "Riverbank", view.RenderedView)
}

func TestListWorlds_EmptyIsArray(t *testing.T) {
	svc := new(mocks.TurnService)
	svc.On("ListWorlds", mock.Anything).Return(nil, nil).Once()

	w := do(newRouter(svc), http.MethodGet, "/api/worlds", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"worlds":[]}`, w.Body.String())
}

func TestActivePlayers(t *testing.T) {
	svc := new(mocks.TurnService)
	svc.On("ActivePlayers", mock.Anything, "river").
		Return([]models.PlayerPresence{{UserID: "alice"}}, nil).Once()

	w := do(newRouter(svc), http.MethodGet, "/api/players?world_id=river", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		WorldID string                  `json:"world_id"`
		Players []models.PlayerPresence `json:"players"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "river", body.WorldID)
	require.Len(t, body.Players, 1)
	assert.Equal(t, "alice", body.Players[0].UserID)
}

func TestLeave(t *testing.T) {
	svc := new(mocks.TurnService)
	svc.On("Leave", mock.Anything, "river", "alice").Return(nil).Once()
	svc.On("Leave", mock.Anything, "river", "bob").
		Return(fmt.Errorf("%w: player bob is not active", models.ErrNotFound)).Once()
	router := newRouter(svc)

	w := do(router, http.MethodPost, "/api/leave", handler.LeaveRequest{WorldID: "river", UserID: "alice"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodPost, "/api/leave", handler.LeaveRequest{WorldID: "river", UserID: "bob"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.CodeNotFound, decodeError(t, w).Code)
	svc.AssertExpectations(t)
}

func TestWebsocketRouteMounted(t *testing.T) {
	router := gin.New()
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	handler.NewTurnHandler(new(mocks.TurnService), zap.NewNop()).RegisterRoutes(router, ws)

	w := do(router, http.MethodGet, "/ws?world_id=river", nil)
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

package handler

import (
	"net/http"

	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusClientClosedRequest is returned when the caller abandoned the turn.
const statusClientClosedRequest = 499

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// LeaveRequest ends a player's session in a world.
type LeaveRequest struct {
	WorldID string `json:"world_id" binding:"required"`
	UserID  string `json:"user_id" binding:"required"`
}

// TurnHandler exposes the turn engine over HTTP.
type TurnHandler struct {
	service service.TurnService
	logger  *zap.Logger
}

func NewTurnHandler(s service.TurnService, logger *zap.Logger) *TurnHandler {
	return &TurnHandler{
		service: s,
		logger:  logger.Named("TurnHandler"),
	}
}

// RegisterRoutes mounts the API. ws, if not nil, serves GET /ws.
func (h *TurnHandler) RegisterRoutes(router *gin.Engine, ws http.Handler) {
	api := router.Group("/api")
	{
		api.POST("/turn", h.handleTurn)
		api.GET("/state", h.getState)
		api.GET("/worlds", h.listWorlds)
		api.GET("/players", h.activePlayers)
		api.POST("/leave", h.leave)
	}
	if ws != nil {
		router.GET("/ws", gin.WrapH(ws))
	}
}

func (h *TurnHandler) handleTurn(c *gin.Context) {
	var req models.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid turn request body", zap.Error(err))
		h.abort(c, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return
	}
	result, err := h.service.HandleTurn(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *TurnHandler) getState(c *gin.Context) {
	view, err := h.service.GetState(c.Request.Context(), c.Query("world_id"), c.Query("user_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *TurnHandler) listWorlds(c *gin.Context) {
	worlds, err := h.service.ListWorlds(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if worlds == nil {
		worlds = []models.WorldSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"worlds": worlds})
}

func (h *TurnHandler) activePlayers(c *gin.Context) {
	worldID := c.Query("world_id")
	players, err := h.service.ActivePlayers(c.Request.Context(), worldID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if players == nil {
		players = []models.PlayerPresence{}
	}
	c.JSON(http.StatusOK, gin.H{"world_id": worldID, "players": players})
}

func (h *TurnHandler) leave(c *gin.Context) {
	var req LeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return
	}
	if err := h.service.Leave(c.Request.Context(), req.WorldID, req.UserID); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TurnHandler) handleServiceError(c *gin.Context, err error) {
	code := models.ErrorCode(err)
	var status int
	switch code {
	case models.CodeNotFound:
		status = http.StatusNotFound
	case models.CodeWorldBusy, models.CodeVersionConflict:
		status = http.StatusConflict
	case models.CodeTurnFailed:
		status = http.StatusUnprocessableEntity
	case models.CodeInvalidInput:
		status = http.StatusBadRequest
	case models.CodeCancelled:
		status = statusClientClosedRequest
	default:
		h.logger.Error("Unhandled internal error", zap.String("path", c.FullPath()), zap.Error(err))
		h.abort(c, http.StatusInternalServerError, models.CodeInternal, "An unexpected internal error occurred")
		return
	}
	h.abort(c, status, code, err.Error())
}

func (h *TurnHandler) abort(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{Code: code, Detail: detail}})
}

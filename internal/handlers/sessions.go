package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/callrelay/internal/auth"
	"github.com/tariel-x/callrelay/internal/history"
	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/session"
)

const (
	defaultListLimit    = 50
	defaultHistoryLimit = 200
)

type sessionsResponse struct {
	Sessions []models.Session `json:"sessions"`
}

type participantSessionsResponse struct {
	ParticipantID models.ParticipantID `json:"participant_id"`
	SessionIDs    []models.SessionID   `json:"session_ids"`
}

type historyResponse struct {
	Session history.SessionRecord  `json:"session"`
	Events  []history.SessionEvent `json:"events"`
}

func (h *Handlers) GetSession(c *gin.Context) {
	sid := models.SessionID(c.Param("session_id"))
	snap, err := h.core.Registry().GetSession(sid)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) ListSessions(c *gin.Context) {
	kind := models.Kind(c.Query("kind"))
	if kind != "" && kind != models.KindCall && kind != models.KindRoom {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be call or room"})
		return
	}
	limit, ok := queryLimit(c, defaultListLimit)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionsResponse{Sessions: h.core.Registry().List(kind, limit)})
}

// GetParticipantSessions lists the live sessions of the caller. Other
// participants' memberships are not disclosed.
func (h *Handlers) GetParticipantSessions(c *gin.Context) {
	pid := models.ParticipantID(c.Param("participant_id"))
	if pid != auth.Participant(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	ids := h.core.Registry().SessionsOf(pid)
	if ids == nil {
		ids = []models.SessionID{}
	}
	c.JSON(http.StatusOK, participantSessionsResponse{ParticipantID: pid, SessionIDs: ids})
}

func (h *Handlers) GetSessionHistory(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	limit, ok := queryLimit(c, defaultHistoryLimit)
	if !ok {
		return
	}

	sid := models.SessionID(c.Param("session_id"))
	record, err := h.store.Session(sid)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error().Err(err).Str("session_id", string(sid)).Msg("load session history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	events, err := h.store.Events(sid, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", string(sid)).Msg("load session events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, historyResponse{Session: record, Events: events})
}

func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return limit, true
}

func writeSessionError(c *gin.Context, err error) {
	switch session.CodeOf(err) {
	case session.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case session.CodeForbidden, session.CodeNotAMember:
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case session.CodeBadRequest:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

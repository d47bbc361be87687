package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/callrelay/internal/auth"
	"github.com/tariel-x/callrelay/internal/history"
)

type PushSubscribeKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

type PushSubscribeRequest struct {
	Endpoint string            `json:"endpoint" binding:"required"`
	Keys     PushSubscribeKeys `json:"keys" binding:"required"`
}

type PushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *Handlers) GetVAPIDPublicKey(c *gin.Context) {
	if !h.config.Push.Enabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "push is disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"publicKey": h.config.Push.VAPIDPublicKey,
	})
}

func (h *Handlers) Subscribe(c *gin.Context) {
	if !h.pushEnabled(c) {
		return
	}
	var req PushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pid := auth.Participant(c)
	sub := &history.PushSubscription{
		ParticipantID: string(pid),
		Endpoint:      req.Endpoint,
		P256DH:        req.Keys.P256DH,
		Auth:          req.Keys.Auth,
	}
	if err := h.store.SaveSubscription(sub); err != nil {
		h.logger.Error().Err(err).Str("participant_id", string(pid)).Msg("save push subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save subscription"})
		return
	}
	h.logger.Info().Str("participant_id", string(pid)).Msg("push subscription saved")
	c.JSON(http.StatusCreated, sub)
}

func (h *Handlers) Unsubscribe(c *gin.Context) {
	if !h.pushEnabled(c) {
		return
	}
	var req PushUnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pid := auth.Participant(c)
	if err := h.store.DeleteSubscription(pid, req.Endpoint); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		h.logger.Error().Err(err).Str("participant_id", string(pid)).Msg("delete push subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) pushEnabled(c *gin.Context) bool {
	if !h.config.Push.Enabled || h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "push is disabled"})
		return false
	}
	return true
}

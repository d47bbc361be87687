package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type clientConfigResponse struct {
	Debug          bool  `json:"debug"`
	PushEnabled    bool  `json:"push_enabled"`
	AllowAnonymous bool  `json:"allow_anonymous"`
	RingTimeoutMS  int64 `json:"ring_timeout_ms"`
	GracePeriodMS  int64 `json:"grace_period_ms"`
}

func (h *Handlers) GetClientConfig(c *gin.Context) {
	policy := h.core.Registry().Policy()
	c.JSON(http.StatusOK, clientConfigResponse{
		Debug:          h.config.Log.Level == "debug",
		PushEnabled:    h.config.Push.Enabled && h.store != nil,
		AllowAnonymous: h.config.Auth.AllowAnonymous,
		RingTimeoutMS:  policy.RingTimeout.Milliseconds(),
		GracePeriodMS:  policy.GracePeriod.Milliseconds(),
	})
}

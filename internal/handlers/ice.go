package handlers

import (
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/callrelay/internal/auth"
	"github.com/tariel-x/callrelay/internal/config"
)

type iceConfigResponse struct {
	ICEServers []config.ICEServer `json:"iceServers"`
	TTL        int64              `json:"ttl,omitempty"`
}

// GetICEConfig returns the configured ICE servers plus, when the embedded
// relay runs, its STUN and TURN urls with credentials for the caller.
func (h *Handlers) GetICEConfig(c *gin.Context) {
	servers := make([]config.ICEServer, 0, len(h.config.ICE.Servers)+2)
	servers = append(servers, h.config.ICE.Servers...)

	resp := iceConfigResponse{}
	if h.turn != nil {
		host := c.Request.Host
		if hostOnly, _, err := net.SplitHostPort(host); err == nil {
			host = hostOnly
		}
		creds := h.turn.Issue(auth.Participant(c))
		servers = append(servers,
			config.ICEServer{URLs: []string{fmt.Sprintf("stun:%s:%d", host, h.config.TURN.Port)}},
			config.ICEServer{
				URLs:       []string{fmt.Sprintf("turn:%s:%d", host, h.config.TURN.Port)},
				Username:   creds.Username,
				Credential: creds.Password,
			},
		)
		resp.TTL = int64(creds.TTL.Seconds())
	}
	resp.ICEServers = servers
	c.JSON(http.StatusOK, resp)
}

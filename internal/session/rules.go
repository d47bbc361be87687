package session

import "github.com/tariel-x/callrelay/internal/models"

// Reasons carried by session-ended and participant-left.
const (
	ReasonEnded             = "ended"
	ReasonHostEnded         = "host-ended"
	ReasonDeclined          = "declined"
	ReasonCancelled         = "cancelled"
	ReasonTimeout           = "timeout"
	ReasonLeft              = "left"
	ReasonPeerLeft          = "peer-left"
	ReasonEmpty             = "empty"
	ReasonRemoved           = "removed"
	ReasonDisconnectTimeout = "disconnect-timeout"
	ReasonNegotiationFailed = "negotiation-failed"
	ReasonIdle              = "idle"
	ReasonShutdown          = "shutdown"
	ReasonInternalError     = "internal-error"
)

// IsOfferer reports whether the participant with join order self creates
// the SDP offer toward the participant with join order peer. In a call the
// earlier joiner offers; in a room the newcomer offers to everyone already
// there. Exactly one side of any pair gets true.
func IsOfferer(kind models.Kind, self, peer uint64) bool {
	if self == peer {
		return false
	}
	if kind == models.KindRoom {
		return self > peer
	}
	return self < peer
}

func defaultRole(kind models.Kind, first bool) models.Role {
	switch {
	case kind == models.KindCall && first:
		return models.RoleInitiator
	case kind == models.KindRoom && first:
		return models.RoleHost
	}
	return models.RoleJoiner
}

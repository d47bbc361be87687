package session

import (
	"sort"
	"sync"

	"github.com/tariel-x/callrelay/internal/models"
)

// participantIndex maps a participant to the sessions it belongs to. It is
// written only from session actors and read from anywhere.
type participantIndex struct {
	mu sync.RWMutex
	m  map[models.ParticipantID]map[models.SessionID]struct{}
}

func newParticipantIndex() *participantIndex {
	return &participantIndex{m: make(map[models.ParticipantID]map[models.SessionID]struct{})}
}

func (x *participantIndex) add(pid models.ParticipantID, sid models.SessionID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.m[pid]
	if !ok {
		set = make(map[models.SessionID]struct{})
		x.m[pid] = set
	}
	set[sid] = struct{}{}
}

func (x *participantIndex) remove(pid models.ParticipantID, sid models.SessionID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.m[pid]
	if !ok {
		return
	}
	delete(set, sid)
	if len(set) == 0 {
		delete(x.m, pid)
	}
}

func (x *participantIndex) has(pid models.ParticipantID, sid models.SessionID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.m[pid][sid]
	return ok
}

// sessions returns the session ids of pid in a stable order.
func (x *participantIndex) sessions(pid models.ParticipantID) []models.SessionID {
	x.mu.RLock()
	set := x.m[pid]
	out := make([]models.SessionID, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

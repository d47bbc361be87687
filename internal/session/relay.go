package session

import (
	"github.com/gammazero/deque"

	"github.com/tariel-x/callrelay/internal/metrics"
	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

// relay forwards an opaque signaling payload. With no target it goes to
// every other member. Payloads are never inspected beyond their kind.
func (s *sessionState) relay(from, to models.ParticipantID, payload protocol.SignalPayload) error {
	if _, err := s.requireMember(from); err != nil {
		return err
	}
	if !payload.Kind.Valid() {
		return errorf(CodeBadRequest, "unknown signal kind %q", payload.Kind)
	}
	if to == from {
		return errorf(CodeBadRequest, "cannot signal self")
	}
	if to != "" {
		if s.member(to) == nil {
			return ErrNotAMember
		}
		s.forward(from, to, payload)
	} else {
		for _, pid := range s.order {
			if pid != from {
				s.forward(from, pid, payload)
			}
		}
	}
	s.touch()
	return nil
}

// forward delivers directly when the pair has nothing buffered and the target
// is reachable, and appends to the ordered pair queue otherwise.
func (s *sessionState) forward(from, to models.ParticipantID, payload protocol.SignalPayload) {
	ev := protocol.Event{
		Type:      protocol.EventSignal,
		SessionID: s.id,
		Data:      protocol.Signal{FromID: from, Payload: payload},
	}
	key := pairKey{from: from, to: to}
	q := s.queues[key]
	target := s.members[to]
	if (q == nil || q.Len() == 0) && target.Phase != models.PhaseDisconnectedPending && s.reg.out.Deliver(to, ev) {
		metrics.SignalsRelayed.WithLabelValues(string(s.kind), "direct").Inc()
		return
	}
	if q == nil {
		q = new(deque.Deque[protocol.Event])
		s.queues[key] = q
	}
	if q.Len() >= s.reg.policy.MaxQueuedSignals {
		metrics.SignalsDropped.Inc()
		s.logger.Warn().
			Str("from", string(from)).
			Str("to", string(to)).
			Str("signal", string(payload.Kind)).
			Msg("pair queue full, signal dropped")
		return
	}
	q.PushBack(ev)
}

// flush drains every queue addressed to pid in order, stopping a queue at
// the first refused delivery.
func (s *sessionState) flush(pid models.ParticipantID) {
	for _, from := range s.order {
		key := pairKey{from: from, to: pid}
		q := s.queues[key]
		if q == nil {
			continue
		}
		for q.Len() > 0 {
			if !s.reg.out.Deliver(pid, q.Front()) {
				break
			}
			q.PopFront()
			metrics.SignalsRelayed.WithLabelValues(string(s.kind), "queued").Inc()
		}
		if q.Len() == 0 {
			delete(s.queues, key)
		}
	}
}

// dropQueues forgets every queue to or from pid.
func (s *sessionState) dropQueues(pid models.ParticipantID) {
	for key := range s.queues {
		if key.from == pid || key.to == pid {
			delete(s.queues, key)
		}
	}
}

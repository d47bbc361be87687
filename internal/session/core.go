// Package session is the orchestration core: a registry of call and room
// sessions, each driven by its own actor, the signaling relay between their
// members and the supervisor that keeps members through short disconnects.
package session

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

// Core dispatches inbound client messages to sessions.
type Core struct {
	reg    *Registry
	sup    *Supervisor
	out    Outbox
	logger zerolog.Logger
}

func New(out Outbox, policy Policy, opts ...Option) *Core {
	reg := NewRegistry(out, policy, opts...)
	return &Core{
		reg:    reg,
		sup:    NewSupervisor(reg),
		out:    out,
		logger: reg.logger,
	}
}

func (c *Core) Registry() *Registry {
	return c.reg
}

func (c *Core) Supervisor() *Supervisor {
	return c.sup
}

// Handle applies one message from a participant. Failures are reported to
// the sender as an error event and returned; nothing else is affected.
func (c *Core) Handle(from models.ParticipantID, env protocol.Envelope) error {
	err := c.handle(from, env)
	if err == nil || errors.Is(err, ErrAlreadyMember) {
		return nil
	}
	code := CodeOf(err)
	msg := err.Error()
	if code == CodeInternal {
		c.logger.Error().Err(err).
			Str("participant_id", string(from)).
			Str("type", env.Type).
			Msg("message handling failed")
		msg = ErrInternal.Message
	} else {
		c.logger.Debug().Err(err).
			Str("participant_id", string(from)).
			Str("type", env.Type).
			Msg("message rejected")
	}
	c.out.Deliver(from, protocol.Event{
		Type:      protocol.EventError,
		SessionID: env.SessionID,
		Data:      protocol.Error{Code: string(code), Message: msg},
	})
	return err
}

func (c *Core) handle(from models.ParticipantID, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypePing:
		c.sup.Heartbeat(from)
		return nil
	case protocol.TypeInitiate:
		var data protocol.InitiateData
		if err := bind(env, &data); err != nil {
			return err
		}
		return c.initiate(from, data)
	case protocol.TypeJoin:
		var data protocol.JoinData
		if err := bind(env, &data); err != nil {
			return err
		}
		return c.join(from, env.SessionID, data)
	}

	if env.SessionID == "" {
		return errorf(CodeBadRequest, "session_id is required for %s", env.Type)
	}

	var fn opFunc
	switch env.Type {
	case protocol.TypeAccept:
		var data protocol.JoinData
		if err := bind(env, &data); err != nil {
			return err
		}
		fn = func(s *sessionState) error { return s.accept(from, data.Media.Flags()) }
	case protocol.TypeDecline:
		fn = func(s *sessionState) error { return s.decline(from) }
	case protocol.TypeCancel:
		fn = func(s *sessionState) error { return s.cancel(from) }
	case protocol.TypeLeave:
		fn = func(s *sessionState) error { return s.leave(from, ReasonLeft) }
	case protocol.TypeEnd:
		fn = func(s *sessionState) error { return s.end(from) }
	case protocol.TypeToggleMedia:
		var data protocol.ToggleMediaData
		if err := bind(env, &data); err != nil {
			return err
		}
		fn = func(s *sessionState) error { return s.toggleMedia(from, data.MediaType, data.Enabled) }
	case protocol.TypeReady:
		fn = func(s *sessionState) error { return s.ready(from) }
	case protocol.TypeSignal:
		var data protocol.SignalData
		if err := bind(env, &data); err != nil {
			return err
		}
		fn = func(s *sessionState) error { return s.relay(from, data.To, data.Payload) }
	case protocol.TypeHostControl:
		var data protocol.HostControlData
		if err := bind(env, &data); err != nil {
			return err
		}
		fn = func(s *sessionState) error { return s.hostControl(from, data.Action) }
	case protocol.TypeConnected:
		fn = func(s *sessionState) error { return s.connected(from) }
	case protocol.TypeFailed:
		var data protocol.PeerData
		if err := bind(env, &data); err != nil {
			return err
		}
		fn = func(s *sessionState) error { return s.failed(from, data.PeerID, data.Reason) }
	case protocol.TypeChat:
		var data protocol.ChatData
		if err := bind(env, &data); err != nil {
			return err
		}
		fn = func(s *sessionState) error { return s.chat(from, data.Message) }
	default:
		return errorf(CodeBadRequest, "unknown message type %q", env.Type)
	}

	a, err := c.reg.lookup(env.SessionID)
	if err != nil {
		// end and leave of a session that is already gone are no-ops.
		if (env.Type == protocol.TypeEnd || env.Type == protocol.TypeLeave) && c.reg.Ended(env.SessionID) {
			return nil
		}
		return err
	}
	err = a.call(fn)
	if errors.Is(err, ErrNotFound) && (env.Type == protocol.TypeEnd || env.Type == protocol.TypeLeave) && c.reg.Ended(env.SessionID) {
		return nil
	}
	return err
}

func (c *Core) initiate(from models.ParticipantID, data protocol.InitiateData) error {
	if data.TargetID == "" {
		return errorf(CodeBadRequest, "target_id is required")
	}
	if data.TargetID == from {
		return errorf(CodeBadRequest, "cannot call self")
	}
	a, err := c.reg.create(models.KindCall)
	if err != nil {
		return err
	}
	return a.call(func(s *sessionState) error {
		s.hostID = from
		s.addMember(from, models.RoleInitiator, data.Media.Flags())
		return s.ring(from, data.TargetID)
	})
}

func (c *Core) join(from models.ParticipantID, sid models.SessionID, data protocol.JoinData) error {
	if sid == "" {
		return errorf(CodeBadRequest, "session_id is required for join")
	}
	media := data.Media.Flags()
	for {
		a, _, err := c.reg.openOrGet(sid, models.KindRoom)
		if err != nil {
			return err
		}
		err = a.call(func(s *sessionState) error { return s.join(from, media) })
		// The room ended between lookup and join; open a fresh one.
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return err
	}
}

func bind(env protocol.Envelope, v any) error {
	if err := env.Bind(v); err != nil {
		return &Error{Code: CodeBadRequest, Message: err.Error()}
	}
	return nil
}

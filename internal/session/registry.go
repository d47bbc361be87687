package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tariel-x/callrelay/internal/metrics"
	"github.com/tariel-x/callrelay/internal/models"
)

const sessionIDLength = 16

// Registry owns the set of live sessions. Each session runs its own actor;
// the registry only keeps the id lookup, the participant reverse index,
// pending invites and tombstones of recently ended sessions.
type Registry struct {
	policy   Policy
	clock    clock.Clock
	out      Outbox
	recorder Recorder
	notifier Notifier
	logger   zerolog.Logger

	mu         sync.RWMutex
	sessions   map[models.SessionID]*actor
	tombstones map[models.SessionID]time.Time
	closing    bool
	wg         sync.WaitGroup

	members *participantIndex
	invites *participantIndex
}

type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Registry) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

func NewRegistry(out Outbox, policy Policy, opts ...Option) *Registry {
	r := &Registry{
		policy:     policy.withDefaults(),
		clock:      clock.New(),
		out:        out,
		recorder:   nopRecorder{},
		notifier:   nopNotifier{},
		logger:     log.With().Str("module", "session").Logger(),
		sessions:   make(map[models.SessionID]*actor),
		tombstones: make(map[models.SessionID]time.Time),
		members:    newParticipantIndex(),
		invites:    newParticipantIndex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Policy() Policy {
	return r.policy
}

// CreateSession opens a session with initiator as its first member: the
// initiator of a call or the host of a room.
func (r *Registry) CreateSession(kind models.Kind, initiator models.ParticipantID) (models.SessionID, error) {
	if initiator == "" {
		return "", errorf(CodeBadRequest, "initiator is required")
	}
	a, err := r.create(kind)
	if err != nil {
		return "", err
	}
	err = a.call(func(s *sessionState) error {
		s.hostID = initiator
		s.addMember(initiator, defaultRole(kind, true), models.MediaFlags{Audio: true})
		return nil
	})
	if err != nil {
		return "", err
	}
	return a.state.id, nil
}

// AddParticipant adds pid with the given role and no notifications.
func (r *Registry) AddParticipant(sid models.SessionID, pid models.ParticipantID, role models.Role) error {
	a, err := r.lookup(sid)
	if err != nil {
		return err
	}
	return a.call(func(s *sessionState) error {
		if s.member(pid) != nil {
			return ErrAlreadyMember
		}
		s.addMember(pid, role, models.MediaFlags{Audio: true})
		if role == models.RoleHost {
			s.hostID = pid
		}
		s.touch()
		return nil
	})
}

// RemoveParticipant goes through the regular leave path, so a call with one
// member left or an empty room ends.
func (r *Registry) RemoveParticipant(sid models.SessionID, pid models.ParticipantID) error {
	a, err := r.lookup(sid)
	if err != nil {
		return err
	}
	return a.call(func(s *sessionState) error {
		return s.leave(pid, ReasonRemoved)
	})
}

func (r *Registry) GetSession(sid models.SessionID) (models.Session, error) {
	a, err := r.lookup(sid)
	if err != nil {
		return models.Session{}, err
	}
	var out models.Session
	err = a.call(func(s *sessionState) error {
		out = s.snapshot()
		return nil
	})
	return out, err
}

func (r *Registry) Touch(sid models.SessionID) error {
	a, err := r.lookup(sid)
	if err != nil {
		return err
	}
	return a.call(func(s *sessionState) error {
		s.touch()
		return nil
	})
}

// SessionsOf lists the sessions pid is a member of.
func (r *Registry) SessionsOf(pid models.ParticipantID) []models.SessionID {
	return r.members.sessions(pid)
}

// List returns snapshots of live sessions of the given kind (any kind when
// empty), oldest first.
func (r *Registry) List(kind models.Kind, limit int) []models.Session {
	r.mu.RLock()
	actors := make([]*actor, 0, len(r.sessions))
	for _, a := range r.sessions {
		actors = append(actors, a)
	}
	r.mu.RUnlock()

	out := make([]models.Session, 0, len(actors))
	for _, a := range actors {
		var snap models.Session
		err := a.call(func(s *sessionState) error {
			snap = s.snapshot()
			return nil
		})
		if err != nil || (kind != "" && snap.Kind != kind) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Ended reports whether sid belonged to a session that ended recently.
func (r *Registry) Ended(sid models.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tombstones[sid]
	return ok
}

// Sweep is the idle backstop: every session re-checks its idle deadline and
// expired tombstones are dropped.
func (r *Registry) Sweep() {
	now := r.clock.Now()
	r.mu.Lock()
	for sid, at := range r.tombstones {
		if now.Sub(at) >= r.policy.TombstoneTTL {
			delete(r.tombstones, sid)
		}
	}
	actors := make([]*actor, 0, len(r.sessions))
	for _, a := range r.sessions {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	for _, a := range actors {
		a.post(func(s *sessionState) error {
			s.expireIdle()
			return nil
		})
	}
}

// Run sweeps every GC interval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.policy.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close ends every session with reason shutdown and waits for the actors to
// stop or ctx to expire. New sessions are refused afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	actors := make([]*actor, 0, len(r.sessions))
	for _, a := range r.sessions {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	for _, a := range actors {
		a.post(func(s *sessionState) error {
			s.finish(models.StatusEnded, ReasonShutdown)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) lookup(sid models.SessionID) (*actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.sessions[sid]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (r *Registry) create(kind models.Kind) (*actor, error) {
	id, err := gonanoid.New(sessionIDLength)
	if err != nil {
		return nil, err
	}
	a, _, err := r.openOrGet(models.SessionID(id), kind)
	return a, err
}

// openOrGet returns the live session sid, starting it first when it does
// not exist. created tells which of the two happened.
func (r *Registry) openOrGet(sid models.SessionID, kind models.Kind) (a *actor, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return nil, false, errorf(CodeInternal, "server is shutting down")
	}
	if a, ok := r.sessions[sid]; ok {
		return a, false, nil
	}
	a = newActor(r.policy.InboxSize)
	newSessionState(r, a, sid, kind)
	r.sessions[sid] = a
	delete(r.tombstones, sid)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		a.run()
	}()
	metrics.SessionsCurrent.WithLabelValues(string(kind)).Inc()
	metrics.SessionsTotal.WithLabelValues(string(kind)).Inc()
	a.state.record(models.AuditSessionCreated, "", "")
	a.state.logger.Info().Msg("session created")
	return a, true, nil
}

// reap drops an ended session from every index. Called from its actor.
func (r *Registry) reap(s *sessionState) {
	for _, pid := range s.order {
		r.members.remove(pid, s.id)
	}
	if s.target != "" {
		r.invites.remove(s.target, s.id)
	}

	r.mu.Lock()
	if r.sessions[s.id] == s.actor {
		delete(r.sessions, s.id)
		metrics.SessionsCurrent.WithLabelValues(string(s.kind)).Dec()
	}
	r.tombstones[s.id] = r.clock.Now()
	r.mu.Unlock()
}

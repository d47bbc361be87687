package session

import (
	"fmt"
	"runtime/debug"
)

type opFunc func(s *sessionState) error

type op struct {
	fn    opFunc
	reply chan error
}

// actor owns one session. All mutation of the session state happens on the
// run goroutine, one op at a time, in arrival order.
type actor struct {
	inbox chan op
	done  chan struct{}
	state *sessionState
}

func newActor(inboxSize int) *actor {
	return &actor{
		inbox: make(chan op, inboxSize),
		done:  make(chan struct{}),
	}
}

func (a *actor) run() {
	defer close(a.done)
	for {
		o := <-a.inbox
		err := a.exec(o.fn)
		if o.reply != nil {
			o.reply <- err
		}
		if a.state.closed {
			return
		}
	}
}

func (a *actor) exec(fn opFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.state.logger.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("session op panicked")
			a.state.abort()
			err = ErrInternal
		}
	}()
	return fn(a.state)
}

// call runs fn on the actor and waits for its result. A session that has
// already stopped answers ErrNotFound.
func (a *actor) call(fn opFunc) error {
	reply := make(chan error, 1)
	select {
	case a.inbox <- op{fn: fn, reply: reply}:
	case <-a.done:
		return ErrNotFound
	}
	select {
	case err := <-reply:
		return err
	case <-a.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrNotFound
		}
	}
}

// post enqueues fn without waiting. It must not be used from the actor
// goroutine itself.
func (a *actor) post(fn opFunc) bool {
	select {
	case a.inbox <- op{fn: fn}:
		return true
	case <-a.done:
		return false
	}
}

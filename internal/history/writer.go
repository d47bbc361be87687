package history

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tariel-x/callrelay/internal/models"
)

const defaultWriterBuffer = 1024

// Writer records audit events off the session actors. Record never blocks;
// events are dropped when the buffer is full.
type Writer struct {
	store  *Store
	events chan models.AuditEvent
	logger zerolog.Logger
}

func NewWriter(store *Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = defaultWriterBuffer
	}
	return &Writer{
		store:  store,
		events: make(chan models.AuditEvent, buffer),
		logger: log.With().Str("module", "history").Logger(),
	}
}

func (w *Writer) Record(ev models.AuditEvent) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn().
			Str("session_id", string(ev.SessionID)).
			Str("type", string(ev.Type)).
			Msg("audit buffer full, event dropped")
	}
}

// Run writes events until ctx is done, then flushes what is buffered.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-w.events:
			w.apply(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-w.events:
					w.apply(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (w *Writer) apply(ev models.AuditEvent) {
	if err := w.store.Apply(ev); err != nil {
		w.logger.Error().Err(err).
			Str("session_id", string(ev.SessionID)).
			Str("type", string(ev.Type)).
			Msg("write audit event")
	}
}

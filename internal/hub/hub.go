// Package hub keeps the live connection of every participant. It is the only
// writer to a client's send buffer; sends never block.
package hub

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tariel-x/callrelay/internal/metrics"
	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

const DefaultSendBuffer = 64

// Conn is the part of a websocket connection the hub needs.
type Conn interface {
	Close() error
}

type Client struct {
	conn      Conn
	send      chan []byte
	id        models.ParticipantID
	closeOnce sync.Once
}

func NewClient(conn Conn, id models.ParticipantID, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		conn: conn,
		send: make(chan []byte, buffer),
		id:   id,
	}
}

func (c *Client) ID() models.ParticipantID {
	return c.id
}

// Outgoing is drained by the connection's write pump. It is closed when the
// client is removed or replaced.
func (c *Client) Outgoing() <-chan []byte {
	return c.send
}

// TrySend queues a frame without blocking.
func (c *Client) TrySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

type Hub struct {
	mu      sync.RWMutex
	clients map[models.ParticipantID]*Client
	closed  bool
	logger  zerolog.Logger
}

func New() *Hub {
	return &Hub{
		clients: make(map[models.ParticipantID]*Client),
		logger:  log.With().Str("module", "hub").Logger(),
	}
}

// Add makes client the live connection of its participant. An older
// connection of the same participant is closed.
func (h *Hub) Add(client *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	old := h.clients[client.id]
	h.clients[client.id] = client
	h.mu.Unlock()

	if old != nil {
		h.logger.Debug().Str("participant_id", string(client.id)).Msg("connection replaced")
		_ = old.conn.Close()
		old.closeSend()
	} else {
		metrics.ConnectionsCurrent.Inc()
	}
	return true
}

// Remove drops client if it is still the live connection of its participant
// and reports whether it was.
func (h *Hub) Remove(client *Client) bool {
	h.mu.Lock()
	current := h.clients[client.id] == client
	if current {
		delete(h.clients, client.id)
	}
	h.mu.Unlock()

	client.closeSend()
	if current {
		metrics.ConnectionsCurrent.Dec()
	}
	return current
}

func (h *Hub) Online(id models.ParticipantID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver encodes ev and queues it for to. A client whose buffer is full is
// disconnected; the caller sees false and may buffer the event itself.
func (h *Hub) Deliver(to models.ParticipantID, ev protocol.Event) bool {
	h.mu.RLock()
	client := h.clients[to]
	h.mu.RUnlock()
	if client == nil {
		return false
	}

	payload, err := protocol.Encode(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", ev.Type).Msg("encode event")
		return false
	}
	if !client.TrySend(payload) {
		h.logger.Warn().Str("participant_id", string(to)).Str("type", ev.Type).Msg("send buffer full, closing connection")
		_ = client.conn.Close()
		return false
	}
	return true
}

// CloseAll closes every connection and refuses new ones.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[models.ParticipantID]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.closeSend()
		_ = client.conn.Close()
		metrics.ConnectionsCurrent.Dec()
	}
}

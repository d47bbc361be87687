// Package push sends Web Push notifications about incoming calls to
// participants that have no live connection.
package push

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tariel-x/callrelay/internal/history"
	"github.com/tariel-x/callrelay/internal/metrics"
	"github.com/tariel-x/callrelay/internal/models"
)

type SubscriptionStore interface {
	Subscriptions(pid models.ParticipantID) ([]history.PushSubscription, error)
	DeleteSubscriptionByID(id string) error
}

type Options struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             int
}

type sendFunc func(message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

type Notifier struct {
	store  SubscriptionStore
	opts   Options
	send   sendFunc
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func New(store SubscriptionStore, opts Options) *Notifier {
	return &Notifier{
		store:  store,
		opts:   opts,
		send:   webpush.SendNotification,
		logger: log.With().Str("module", "push").Logger(),
	}
}

type payload struct {
	Title   string      `json:"title"`
	Body    string      `json:"body"`
	Urgency string      `json:"urgency"`
	Data    payloadData `json:"data"`
}

type payloadData struct {
	Type      string               `json:"type"`
	SessionID models.SessionID     `json:"session_id"`
	FromID    models.ParticipantID `json:"from_id"`
}

// NotifyIncomingCall sends in the background and returns at once.
func (n *Notifier) NotifyIncomingCall(to, from models.ParticipantID, sessionID models.SessionID) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.notify(to, from, sessionID); err != nil {
			n.logger.Error().Err(err).Str("participant_id", string(to)).Msg("incoming call push")
		}
	}()
}

// Wait blocks until every pending notification is done.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) notify(to, from models.ParticipantID, sessionID models.SessionID) error {
	subs, err := n.store.Subscriptions(to)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		n.logger.Debug().Str("participant_id", string(to)).Msg("no push subscription")
		return nil
	}

	message, err := json.Marshal(payload{
		Title:   "Incoming call",
		Body:    fmt.Sprintf("%s is calling", from),
		Urgency: "high",
		Data: payloadData{
			Type:      "incoming-call",
			SessionID: sessionID,
			FromID:    from,
		},
	})
	if err != nil {
		return err
	}

	for _, sub := range subs {
		n.sendOne(message, sub)
	}
	return nil
}

func (n *Notifier) sendOne(message []byte, sub history.PushSubscription) {
	logger := n.logger.With().Str("participant_id", sub.ParticipantID).Str("subscription_id", sub.ID).Logger()
	if strings.TrimSpace(sub.P256DH) == "" || strings.TrimSpace(sub.Auth) == "" {
		logger.Warn().Msg("subscription without keys removed")
		n.drop(sub)
		metrics.PushSent.WithLabelValues("invalid").Inc()
		return
	}

	resp, err := n.send(message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: strings.TrimSpace(sub.P256DH),
			Auth:   strings.TrimSpace(sub.Auth),
		},
	}, &webpush.Options{
		Subscriber:      n.opts.Subject,
		VAPIDPublicKey:  n.opts.VAPIDPublicKey,
		VAPIDPrivateKey: n.opts.VAPIDPrivateKey,
		TTL:             n.opts.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("push send failed")
		metrics.PushSent.WithLabelValues("error").Inc()
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		logger.Info().Int("status", resp.StatusCode).Msg("expired subscription removed")
		n.drop(sub)
		metrics.PushSent.WithLabelValues("expired").Inc()
	case resp.StatusCode >= 300:
		logger.Warn().Int("status", resp.StatusCode).Msg("push service rejected notification")
		metrics.PushSent.WithLabelValues("rejected").Inc()
	default:
		metrics.PushSent.WithLabelValues("sent").Inc()
	}
}

func (n *Notifier) drop(sub history.PushSubscription) {
	if err := n.store.DeleteSubscriptionByID(sub.ID); err != nil {
		n.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("delete subscription")
	}
}

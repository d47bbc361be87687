package session

import "time"

// Policy holds the timing knobs of the core. The values are defaults, not
// measured production behavior.
type Policy struct {
	RingTimeout      time.Duration
	GracePeriod      time.Duration
	IdleTimeout      time.Duration
	GCInterval       time.Duration
	TombstoneTTL     time.Duration
	MaxQueuedSignals int
	InboxSize        int
}

func DefaultPolicy() Policy {
	return Policy{
		RingTimeout:      45 * time.Second,
		GracePeriod:      10 * time.Second,
		IdleTimeout:      30 * time.Minute,
		GCInterval:       time.Minute,
		TombstoneTTL:     5 * time.Minute,
		MaxQueuedSignals: 256,
		InboxSize:        256,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.RingTimeout <= 0 {
		p.RingTimeout = d.RingTimeout
	}
	if p.GracePeriod <= 0 {
		p.GracePeriod = d.GracePeriod
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = d.IdleTimeout
	}
	if p.GCInterval <= 0 {
		p.GCInterval = d.GCInterval
	}
	if p.TombstoneTTL <= 0 {
		p.TombstoneTTL = d.TombstoneTTL
	}
	if p.MaxQueuedSignals <= 0 {
		p.MaxQueuedSignals = d.MaxQueuedSignals
	}
	if p.InboxSize <= 0 {
		p.InboxSize = d.InboxSize
	}
	return p
}

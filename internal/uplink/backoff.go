package uplink

import (
	"time"

	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/config"
)

// Backoff computes reconnect delays as Base * 2^depth.
//
// Each consecutive failure deepens the delay by one step up to MaxDepth.
// A connection that stays up for StabilityFactor times the current delay
// counts as stable, and the next failure starts again from MinDepth.
//
// Backoff is not safe for concurrent use; the uplink loop owns it.
type Backoff struct {
	Base            time.Duration
	MinDepth        int
	MaxDepth        int
	StabilityFactor int

	depth int
}

// NewBackoff creates a Backoff at its minimum depth.
func NewBackoff(cfg config.BackoffConfig) *Backoff {
	b := &Backoff{
		Base:            cfg.Base,
		MinDepth:        cfg.MinDepth,
		MaxDepth:        cfg.MaxDepth,
		StabilityFactor: cfg.StabilityFactor,
	}
	if b.Base <= 0 {
		b.Base = time.Second
	}
	if b.MaxDepth < b.MinDepth {
		b.MaxDepth = b.MinDepth
	}
	if b.StabilityFactor < 1 {
		b.StabilityFactor = 1
	}
	b.depth = b.MinDepth
	return b
}

// Depth returns the current depth.
func (b *Backoff) Depth() int { return b.depth }

// Delay returns the delay at the current depth.
func (b *Backoff) Delay() time.Duration {
	return b.Base << b.depth
}

// StabilityWindow returns how long a connection must last to reset the depth.
func (b *Backoff) StabilityWindow() time.Duration {
	return b.Delay() * time.Duration(b.StabilityFactor)
}

// Next records a failure that ended a connection which had been up for
// connectedFor (zero for a failed dial) and returns the wait before the
// next attempt.
func (b *Backoff) Next(connectedFor time.Duration) time.Duration {
	if connectedFor >= b.StabilityWindow() {
		b.depth = b.MinDepth
	}
	d := b.Delay()
	if b.depth < b.MaxDepth {
		b.depth++
	}
	return d
}

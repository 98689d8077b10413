// Package bitrate implements the adaptive bitrate controller: a
// periodic tick that nudges an encoder's target bitrate up or down from
// retransmission-rate and RTT feedback, with a deadband, a rate-limit
// window, and hard clamps.
package bitrate

import "time"

// TickInterval is the default period between adjustment decisions.
const TickInterval = 750 * time.Millisecond

// Config holds the controller's tunables.
type Config struct {
	MinKbps           float64
	MaxKbps           float64
	StepKbps          float64
	TargetRtxPct      float64       // e.g. 0.01 for 1%
	DeadbandPct       float64       // e.g. 0.001 for 0.1%
	MinRtxRttMs       float64       // RTT reference: decrease above 1.25x, increase below 0.8x
	MinChangeInterval time.Duration // rate-limit window, ~1200ms
	DownscaleKeyunit  bool          // request an upstream keyframe on decrease
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		MinKbps:           1000,
		MaxKbps:           8000,
		StepKbps:          500,
		TargetRtxPct:      0.01,
		DeadbandPct:       0.001,
		MinRtxRttMs:       150,
		MinChangeInterval: 1200 * time.Millisecond,
		DownscaleKeyunit:  false,
	}
}

// Direction reports which way the most recent Tick moved the target, if
// any.
type Direction int

const (
	Unchanged Direction = iota
	Increased
	Decreased
)

// Controller tracks the current target bitrate and the time of its last
// change.
type Controller struct {
	cfg         Config
	currentKbps float64
	lastChange  time.Time
}

// New creates a controller starting at startKbps, clamped to cfg's bounds.
func New(cfg Config, startKbps float64) *Controller {
	return &Controller{
		cfg:         cfg,
		currentKbps: clamp(startKbps, cfg.MinKbps, cfg.MaxKbps),
	}
}

// CurrentKbps returns the controller's current target bitrate.
func (c *Controller) CurrentKbps() float64 { return c.currentKbps }

// Tick evaluates rtxPct (fraction, e.g. 0.01 for 1%) and rttMs against the
// deadband and rate-limit window and returns the (possibly unchanged)
// target bitrate and which direction it moved, if any.
//
// A decrease fires when rtxPct exceeds TargetRtxPct+DeadbandPct or rttMs
// exceeds 1.25x MinRtxRttMs; an increase fires when rtxPct falls below
// TargetRtxPct-DeadbandPct and rttMs is below 0.8x MinRtxRttMs. Anything
// inside the deadband, or any change inside MinChangeInterval of the
// last one, is a no-op.
//
// requestKeyframe is true when the target just stepped down and
// DownscaleKeyunit is on: the caller should ask the encoder for a
// keyframe so the decoder resynchronizes at the new rate instead of
// rebuffering through stale references.
func (c *Controller) Tick(now time.Time, rtxPct, rttMs float64) (kbps float64, dir Direction, requestKeyframe bool) {
	if now.Sub(c.lastChange) < c.cfg.MinChangeInterval {
		return c.currentKbps, Unchanged, false
	}

	high := c.cfg.TargetRtxPct + c.cfg.DeadbandPct
	low := c.cfg.TargetRtxPct - c.cfg.DeadbandPct

	switch {
	case rtxPct > high || rttMs > 1.25*c.cfg.MinRtxRttMs:
		c.currentKbps = clamp(c.currentKbps-c.cfg.StepKbps, c.cfg.MinKbps, c.cfg.MaxKbps)
		c.lastChange = now
		return c.currentKbps, Decreased, c.cfg.DownscaleKeyunit

	case rtxPct < low && rttMs < 0.8*c.cfg.MinRtxRttMs:
		c.currentKbps = clamp(c.currentKbps+c.cfg.StepKbps, c.cfg.MinKbps, c.cfg.MaxKbps)
		c.lastChange = now
		return c.currentKbps, Increased, false

	default:
		return c.currentKbps, Unchanged, false
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

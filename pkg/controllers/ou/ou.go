// Package ou implements an Ornstein-Uhlenbeck mean-reverting process for
// modeling continuously varying link throughput.
package ou

import (
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ristlab/netbench/pkg/scenario"
)

// Controller advances an Ornstein-Uhlenbeck process:
//
//	x <- x + (1/tau)(mean - x)*dt + sigma*mean*sqrt(2*dt/tau)*N(0,1)
//
// clamped to max(0, x). With a seed, two controllers constructed with
// the same seed and ticked at the same cadence produce an identical
// sequence of values.
type Controller struct {
	params   scenario.OUParams
	current  float64
	lastTick time.Time
	normal   distuv.Normal
}

// New creates a controller initialized at params.MeanBps. If seed is
// non-nil, sampling is deterministic; otherwise the controller's own
// source is seeded from the current time.
func New(params scenario.OUParams, seed *uint64) *Controller {
	var src rand.Source
	if seed != nil {
		src = rand.NewSource(*seed)
	} else {
		src = rand.NewSource(uint64(time.Now().UnixNano()))
	}

	return &Controller{
		params:   params,
		current:  float64(params.MeanBps),
		lastTick: time.Now(),
		normal:   distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

// CurrentBps returns the current throughput value in bits/s, never
// negative.
func (c *Controller) CurrentBps() uint64 {
	if c.current < 0 {
		return 0
	}
	return uint64(c.current)
}

// Tick advances the process by the elapsed wall-clock time since the
// last tick and returns the new throughput in bits/s.
func (c *Controller) Tick() uint64 {
	now := time.Now()
	dt := now.Sub(c.lastTick).Seconds()
	c.lastTick = now
	return c.Step(dt)
}

// Step advances the process by exactly dt seconds. With a seeded
// controller, a fixed sequence of Step calls is fully deterministic,
// which is what trace comparison across runs relies on.
func (c *Controller) Step(dt float64) uint64 {
	if dt <= 0 {
		return c.CurrentBps()
	}

	tauSec := float64(c.params.TauMs) / 1000.0
	mean := float64(c.params.MeanBps)
	theta := 1.0 / tauSec

	drift := theta * (mean - c.current) * dt
	noise := c.params.Sigma * mean * math.Sqrt(2*theta*dt) * c.normal.Rand()

	c.current += drift + noise
	if c.current < 0 {
		c.current = 0
	}

	return c.CurrentBps()
}

// UpdateParams swaps the controller's parameters without resetting its
// current value, so a Scheduler can retarget a running controller.
func (c *Controller) UpdateParams(params scenario.OUParams) {
	c.params = params
}

// Package ge implements a two-state Gilbert-Elliott Markov chain for
// modeling bursty packet loss.
package ge

import (
	"math/rand"
	"time"

	"github.com/ristlab/netbench/pkg/scenario"
)

// State is the controller's current Markov state.
type State int

const (
	Good State = iota
	Bad
)

func (s State) String() string {
	if s == Bad {
		return "bad"
	}
	return "good"
}

// Controller drives a two-state Gilbert-Elliott chain: Good -> Bad with
// probability P, Bad -> Good with probability R, each independently
// evaluated once per Tick. LossProbability reports PGood or PBad
// depending on the current state.
type Controller struct {
	params   scenario.GEParams
	state    State
	lastTick time.Time
	rng      *rand.Rand
}

// New creates a controller starting in the Good state. If seed is
// non-nil, state transitions and drop decisions are deterministic.
func New(params scenario.GEParams, seed *uint64) *Controller {
	var src rand.Source
	if seed != nil {
		src = rand.NewSource(int64(*seed))
	} else {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Controller{
		params:   params,
		state:    Good,
		lastTick: time.Now(),
		rng:      rand.New(src),
	}
}

// CurrentState returns the controller's current Markov state.
func (c *Controller) CurrentState() State { return c.state }

// LossProbability returns the drop probability for the current state.
func (c *Controller) LossProbability() float64 {
	if c.state == Bad {
		return c.params.PBad
	}
	return c.params.PGood
}

// Tick draws the state transition for this period and returns the
// resulting state.
func (c *Controller) Tick() State {
	roll := c.rng.Float64()
	switch c.state {
	case Good:
		if roll < c.params.P {
			c.state = Bad
		}
	case Bad:
		if roll < c.params.R {
			c.state = Good
		}
	}
	c.lastTick = time.Now()
	return c.state
}

// ShouldDrop draws an independent sample against the current state's loss
// probability, for per-packet drop decisions layered on top of the
// per-tick state machine.
func (c *Controller) ShouldDrop() bool {
	return c.rng.Float64() < c.LossProbability()
}

// UpdateParams swaps the controller's parameters without resetting its
// current state.
func (c *Controller) UpdateParams(params scenario.GEParams) {
	c.params = params
}

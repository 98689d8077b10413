package ge

import (
	"testing"

	"github.com/ristlab/netbench/pkg/scenario"
)

func TestSeededDeterminism(t *testing.T) {
	params := scenario.DefaultGEParams()
	seed := uint64(42)

	a := New(params, &seed)
	b := New(params, &seed)

	for i := 0; i < 1000; i++ {
		if a.Tick() != b.Tick() {
			t.Fatalf("tick %d diverged with identical seeds", i)
		}
	}
}

func TestStartsGood(t *testing.T) {
	seed := uint64(1)
	c := New(scenario.DefaultGEParams(), &seed)
	if c.CurrentState() != Good {
		t.Fatalf("initial state %v, want Good", c.CurrentState())
	}
	if c.LossProbability() != scenario.DefaultGEParams().PGood {
		t.Fatalf("initial loss %v, want PGood", c.LossProbability())
	}
}

func TestLossProbabilityTracksState(t *testing.T) {
	params := scenario.GEParams{PGood: 0.001, PBad: 0.25, P: 1.0, R: 0.0}
	seed := uint64(1)
	c := New(params, &seed)

	// P=1 forces Good -> Bad on the first tick; R=0 pins it there.
	c.Tick()
	if c.CurrentState() != Bad {
		t.Fatalf("state %v after forced transition, want Bad", c.CurrentState())
	}
	if c.LossProbability() != params.PBad {
		t.Fatalf("loss %v in Bad state, want PBad %v", c.LossProbability(), params.PBad)
	}
	for i := 0; i < 100; i++ {
		c.Tick()
	}
	if c.CurrentState() != Bad {
		t.Fatal("R=0 chain escaped the Bad state")
	}
}

func TestBurstyOccupancy(t *testing.T) {
	// With p=0.01 and r=0.1 the stationary Bad share is p/(p+r) ~ 9%.
	params := scenario.GEParams{PGood: 0.001, PBad: 0.1, P: 0.01, R: 0.1}
	seed := uint64(42)
	c := New(params, &seed)

	bad := 0
	const ticks = 100_000
	for i := 0; i < ticks; i++ {
		if c.Tick() == Bad {
			bad++
		}
	}
	share := float64(bad) / ticks
	if share < 0.05 || share > 0.14 {
		t.Fatalf("Bad-state occupancy %.3f, want ~0.09", share)
	}
}

func TestShouldDropRates(t *testing.T) {
	params := scenario.GEParams{PGood: 0.0, PBad: 1.0, P: 0.0, R: 0.0}
	seed := uint64(3)
	c := New(params, &seed)

	// Good state with PGood=0: never drops.
	for i := 0; i < 1000; i++ {
		if c.ShouldDrop() {
			t.Fatal("dropped a packet at zero loss probability")
		}
	}
}

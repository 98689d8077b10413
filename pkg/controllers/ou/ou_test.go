package ou

import (
	"testing"

	"github.com/ristlab/netbench/pkg/scenario"
)

func TestSeededDeterminism(t *testing.T) {
	params := scenario.DefaultOUParams()
	seed := uint64(42)

	a := New(params, &seed)
	b := New(params, &seed)

	for i := 0; i < 1000; i++ {
		va := a.Step(0.1)
		vb := b.Step(0.1)
		if va != vb {
			t.Fatalf("step %d: %d != %d with identical seeds", i, va, vb)
		}
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	params := scenario.DefaultOUParams()
	s1, s2 := uint64(1), uint64(2)

	a := New(params, &s1)
	b := New(params, &s2)

	same := true
	for i := 0; i < 100; i++ {
		if a.Step(0.1) != b.Step(0.1) {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical sequences")
	}
}

func TestNeverNegative(t *testing.T) {
	// Violent volatility around a tiny mean: the output clamps at zero
	// instead of going negative.
	params := scenario.OUParams{MeanBps: 1000, TauMs: 100, Sigma: 5.0, TickMs: 100}
	seed := uint64(7)
	c := New(params, &seed)

	for i := 0; i < 10_000; i++ {
		if v := c.Step(0.1); v > 1<<62 {
			t.Fatalf("step %d produced implausible value %d (underflow?)", i, v)
		}
	}
}

func TestMeanReversion(t *testing.T) {
	params := scenario.OUParams{MeanBps: 1_000_000, TauMs: 500, Sigma: 0.1, TickMs: 100}
	seed := uint64(42)
	c := New(params, &seed)

	// Long-run average stays near the mean.
	var sum float64
	const steps = 20_000
	for i := 0; i < steps; i++ {
		sum += float64(c.Step(0.05))
	}
	avg := sum / steps
	mean := float64(params.MeanBps)
	if avg < 0.8*mean || avg > 1.2*mean {
		t.Fatalf("long-run average %.0f strays from mean %.0f", avg, mean)
	}
}

func TestInitializedAtMean(t *testing.T) {
	params := scenario.DefaultOUParams()
	seed := uint64(1)
	c := New(params, &seed)
	if c.CurrentBps() != params.MeanBps {
		t.Fatalf("initial value %d, want mean %d", c.CurrentBps(), params.MeanBps)
	}
}

package scheduler

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"
)

func TestNextMarkovStateSelection(t *testing.T) {
	row := []float64{0.9, 0.1}

	cases := []struct {
		roll float64
		want int
	}{
		{0.0, 0},
		{0.5, 0},
		{0.89, 0},
		{0.95, 1},
		{0.999, 1},
	}
	for _, tc := range cases {
		if got := nextMarkovState(row, 0, tc.roll); got != tc.want {
			t.Errorf("roll %.3f -> state %d, want %d", tc.roll, got, tc.want)
		}
	}
}

func TestNextMarkovStateBoundaryRoundsDown(t *testing.T) {
	// A roll landing exactly on a cumulative boundary resolves to the
	// lower index.
	row := []float64{0.9, 0.1}
	if got := nextMarkovState(row, 0, 0.9); got != 0 {
		t.Fatalf("roll at boundary -> %d, want 0 (lower index wins)", got)
	}
	if got := nextMarkovState(row, 0, 0.0); got != 0 {
		t.Fatalf("roll 0 -> %d, want 0", got)
	}
	// A zero-probability state never wins its (empty) interval.
	if got := nextMarkovState([]float64{0.0, 1.0}, 1, 0.0); got != 1 {
		t.Fatalf("zero-probability state selected: got %d, want 1", got)
	}
}

func TestNextMarkovStateFloatTailKeepsCurrent(t *testing.T) {
	// Rows that sum fractionally below 1.0 can leave a roll past the
	// cumulative scan; the current state is retained rather than
	// indexing out of range.
	row := []float64{0.5, 0.49999999}
	if got := nextMarkovState(row, 1, 0.9999999999); got != 1 {
		t.Fatalf("tail roll -> %d, want current state 1", got)
	}
}

func TestMarkovTransitionSequenceDeterministic(t *testing.T) {
	// Two identically seeded chains over P=[[0.9,0.1],[0.3,0.7]] must
	// produce bit-identical transition sequences.
	matrix := [][]float64{
		{0.9, 0.1},
		{0.3, 0.7},
	}

	run := func(seed int64, n int) []int {
		rng := rand.New(rand.NewSource(seed))
		state := 0
		seq := make([]int, n)
		for i := 0; i < n; i++ {
			state = nextMarkovState(matrix[state], state, rng.Float64())
			seq[i] = state
		}
		return seq
	}

	a := run(42, 10_000)
	b := run(42, 10_000)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("transition %d diverged: %d != %d", i, a[i], b[i])
		}
	}
}

func TestMarkovDwellSamplingDeterministic(t *testing.T) {
	sample := func(seed int64, n int) []float64 {
		rng := rand.New(rand.NewSource(seed))
		exp := distuv.Exponential{Rate: 1.0 / 10.0, Src: rng}
		out := make([]float64, n)
		for i := range out {
			out[i] = exp.Rand()
		}
		return out
	}

	a := sample(42, 1000)
	b := sample(42, 1000)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("dwell %d diverged: %v != %v", i, a[i], b[i])
		}
	}

	// Mean dwell lands near the configured 10s.
	var sum float64
	for _, v := range a {
		sum += v
	}
	mean := sum / float64(len(a))
	if mean < 8 || mean > 12 {
		t.Fatalf("mean dwell %.2f, want ~10", mean)
	}
}

func TestStepCursorCoalescesMissedBoundaries(t *testing.T) {
	// Mirrors tickSteps's cursor advance: several elapsed boundaries
	// collapse to the latest one.
	boundaries := []float64{0, 10, 20, 30}

	advance := func(idx int, elapsedSec float64) int {
		for idx+1 < len(boundaries) && boundaries[idx+1] <= elapsedSec {
			idx++
		}
		return idx
	}

	if got := advance(0, 25); got != 2 {
		t.Fatalf("cursor at t=25 -> step %d, want 2 (10 and 20 coalesced)", got)
	}
	if got := advance(0, 9.99); got != 0 {
		t.Fatalf("cursor at t=9.99 -> step %d, want 0", got)
	}
	if got := advance(0, 1000); got != 3 {
		t.Fatalf("cursor past the end -> step %d, want final step", got)
	}
}

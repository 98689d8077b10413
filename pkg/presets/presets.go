// Package presets provides canned scenarios for the common test cases:
// clean links, degraded cellular links, an LTE handover pattern, and an
// asymmetric bonding setup. The impairment values come from the classic
// good/typical/poor triple (5ms/0.1%/10Mbps, 20ms/1%/5Mbps,
// 100ms/5%/1Mbps) and the bursty two-state Markov chain with
// P=[[0.9,0.1],[0.3,0.7]] and a 10s mean dwell.
package presets

import (
	"fmt"
	"sort"

	"github.com/ristlab/netbench/pkg/scenario"
)

// GoodSpec returns clean network conditions: 10 Mbps, 5ms, 0.1% loss.
func GoodSpec() scenario.DirectionSpec {
	return scenario.DirectionSpec{
		RateKbps:    10_000,
		BaseDelayMs: 5,
		JitterMs:    1,
		LossPct:     0.001,
	}
}

// TypicalSpec returns typical network conditions: 5 Mbps, 20ms, 1% loss.
func TypicalSpec() scenario.DirectionSpec {
	return scenario.DirectionSpec{
		RateKbps:      5_000,
		BaseDelayMs:   20,
		JitterMs:      5,
		LossPct:       0.01,
		LossBurstCorr: 0.2,
	}
}

// PoorSpec returns poor network conditions: 1 Mbps, 100ms, 5% loss.
func PoorSpec() scenario.DirectionSpec {
	return scenario.DirectionSpec{
		RateKbps:      1_000,
		BaseDelayMs:   100,
		JitterMs:      30,
		LossPct:       0.05,
		LossBurstCorr: 0.3,
	}
}

// handoverSpike returns TypicalSpec degraded the way a cell handover
// looks at the packet level: a short, sharp delay/loss spike.
func handoverSpike() scenario.DirectionSpec {
	s := TypicalSpec()
	s.RateKbps = 500
	s.BaseDelayMs = 250
	s.JitterMs = 80
	s.LossPct = 0.15
	return s
}

// BurstyMarkov builds the two-state bursty Markov schedule over good and
// poor states: stay good 90%, stay poor 70%, 10s mean dwell.
func BurstyMarkov(good, poor scenario.DirectionSpec) scenario.Schedule {
	return scenario.Schedule{
		Kind: scenario.ScheduleMarkov,
		Markov: &scenario.MarkovSchedule{
			States: []scenario.DirectionSpec{good, poor},
			TransitionMatrix: [][]float64{
				{0.9, 0.1},
				{0.3, 0.7},
			},
			InitialState: 0,
			MeanDwellMs:  10_000,
		},
	}
}

// DegradationCycle builds a stepped good -> poor -> good schedule with
// boundaries at 30s and 90s.
func DegradationCycle(good, poor scenario.DirectionSpec) scenario.Schedule {
	return scenario.Schedule{
		Kind: scenario.ScheduleSteps,
		Steps: []scenario.ScheduleStep{
			{AtSeconds: 0, Spec: good},
			{AtSeconds: 30, Spec: poor},
			{AtSeconds: 90, Spec: good},
		},
	}
}

// HandoverSimulation builds a stepped normal -> spike -> normal schedule:
// a handover spike at 60s with quick recovery at 65s.
func HandoverSimulation(normal scenario.DirectionSpec) scenario.Schedule {
	return scenario.Schedule{
		Kind: scenario.ScheduleSteps,
		Steps: []scenario.ScheduleStep{
			{AtSeconds: 0, Spec: normal},
			{AtSeconds: 60, Spec: handoverSpike()},
			{AtSeconds: 65, Spec: normal},
		},
	}
}

// builders maps preset names to scenario constructors. numLinks is the
// requested link count; each builder decides how (or whether) to honor
// it.
var builders = map[string]func(numLinks int) *scenario.TestScenario{
	"good":    buildGood,
	"poor":    buildPoor,
	"lte":     buildLTE,
	"bonding": buildBonding,
}

// Names returns every preset name, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named preset scenario with numLinks links (some
// presets have a fixed link count and ignore it). Unknown names return
// an error listing the valid presets.
func Build(name string, numLinks int) (*scenario.TestScenario, error) {
	builder, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q (valid: %v)", name, Names())
	}
	if numLinks < 1 {
		numLinks = 1
	}
	return builder(numLinks), nil
}

func buildGood(numLinks int) *scenario.TestScenario {
	s := &scenario.TestScenario{
		Name:        "baseline_good",
		Description: "Clean links: 10 Mbps, 5ms, 0.1% loss, no dynamics",
	}
	for i := 0; i < numLinks; i++ {
		s.Links = append(s.Links, scenario.LinkSpec{
			Name: linkName(i),
			ANs:  fmt.Sprintf("tx%d", i),
			BNs:  fmt.Sprintf("rx%d", i),
			AToB: scenario.NewConstantSchedule(GoodSpec()),
			BToA: scenario.NewConstantSchedule(GoodSpec()),
		})
	}
	return s
}

func buildPoor(numLinks int) *scenario.TestScenario {
	s := &scenario.TestScenario{
		Name:        "bursty_poor",
		Description: "Bursty cellular links: two-state Markov between typical and poor",
	}
	for i := 0; i < numLinks; i++ {
		s.Links = append(s.Links, scenario.LinkSpec{
			Name: linkName(i),
			ANs:  fmt.Sprintf("tx%d", i),
			BNs:  fmt.Sprintf("rx%d", i),
			AToB: BurstyMarkov(TypicalSpec(), PoorSpec()),
			BToA: scenario.NewConstantSchedule(TypicalSpec()),
		})
	}
	return s
}

func buildLTE(numLinks int) *scenario.TestScenario {
	s := &scenario.TestScenario{
		Name:        "lte_handover",
		Description: "LTE link with a handover spike at 60s and quick recovery",
	}
	for i := 0; i < numLinks; i++ {
		s.Links = append(s.Links, scenario.LinkSpec{
			Name: linkName(i),
			ANs:  fmt.Sprintf("tx%d", i),
			BNs:  fmt.Sprintf("rx%d", i),
			AToB: HandoverSimulation(TypicalSpec()),
			BToA: scenario.NewConstantSchedule(GoodSpec()),
		})
	}
	return s
}

// buildBonding is an asymmetric bonding setup: a strong primary link and
// degrading secondaries, the classic shape for exercising dispatcher
// rebalancing.
func buildBonding(numLinks int) *scenario.TestScenario {
	if numLinks < 2 {
		numLinks = 2
	}
	s := &scenario.TestScenario{
		Name:        "bonding_asymmetric",
		Description: "Strong primary plus degrading secondaries for dispatcher rebalancing",
	}
	for i := 0; i < numLinks; i++ {
		var fwd scenario.Schedule
		if i == 0 {
			fwd = scenario.NewConstantSchedule(GoodSpec())
		} else {
			fwd = DegradationCycle(TypicalSpec(), PoorSpec())
		}
		s.Links = append(s.Links, scenario.LinkSpec{
			Name: linkName(i),
			ANs:  fmt.Sprintf("tx%d", i),
			BNs:  fmt.Sprintf("rx%d", i),
			AToB: fwd,
			BToA: scenario.NewConstantSchedule(GoodSpec()),
		})
	}
	return s
}

func linkName(i int) string {
	if i == 0 {
		return "primary"
	}
	return fmt.Sprintf("secondary_%d", i)
}

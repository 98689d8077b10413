// Package validator checks a parsed TestScenario before any kernel
// state is touched, producing field-path-annotated ConfigErrors instead
// of failing deep inside the orchestrator.
package validator

import (
	"errors"
	"fmt"
	"math"

	"github.com/ristlab/netbench/pkg/errtax"
	"github.com/ristlab/netbench/pkg/scenario"
)

// Validator accumulates validation errors across a scenario so a caller
// sees every problem at once instead of the first one encountered.
type Validator struct {
	Errors []*errtax.ConfigError
}

// New creates a new validator.
func New() *Validator {
	return &Validator{Errors: make([]*errtax.ConfigError, 0)}
}

// Validate checks s and returns an error (wrapping every ConfigError
// found) if any invariant is violated.
func (v *Validator) Validate(s *scenario.TestScenario) error {
	v.Errors = v.Errors[:0]

	if s.Name == "" {
		v.fail("name", "is required")
	}

	if len(s.Links) == 0 {
		v.fail("links", "must contain at least one link")
	}

	seen := make(map[string]bool, len(s.Links))
	for i, link := range s.Links {
		path := fmt.Sprintf("links[%d]", i)
		if link.Name == "" {
			v.fail(path+".name", "is required")
		} else if seen[link.Name] {
			v.fail(path+".name", fmt.Sprintf("duplicate link name %q", link.Name))
		}
		seen[link.Name] = true

		if link.ANs == "" || link.BNs == "" {
			v.fail(path, "a_ns and b_ns are required")
		} else if link.ANs == link.BNs {
			v.fail(path, fmt.Sprintf("a_ns and b_ns must differ (both %q)", link.ANs))
		}

		v.validateSchedule(path+".a_to_b", link.AToB)
		v.validateSchedule(path+".b_to_a", link.BToA)
	}

	if len(v.Errors) > 0 {
		errs := make([]error, len(v.Errors))
		for i, e := range v.Errors {
			errs[i] = e
		}
		return fmt.Errorf("scenario validation failed:\n%w", errors.Join(errs...))
	}
	return nil
}

func (v *Validator) validateSchedule(path string, sch scenario.Schedule) {
	switch sch.Kind {
	case scenario.ScheduleConstant:
		if sch.Constant == nil {
			v.fail(path, "Constant schedule missing spec")
			return
		}
		v.validateDirectionSpec(path+".spec", *sch.Constant)

	case scenario.ScheduleSteps:
		if len(sch.Steps) == 0 {
			v.fail(path+".steps", "must contain at least one step")
			return
		}
		if sch.Steps[0].AtSeconds != 0 {
			v.fail(path+".steps[0]", "first step must start at t=0")
		}
		for i, step := range sch.Steps {
			if i > 0 && step.AtSeconds <= sch.Steps[i-1].AtSeconds {
				v.fail(fmt.Sprintf("%s.steps[%d]", path, i), "step times must be strictly increasing")
			}
			v.validateDirectionSpec(fmt.Sprintf("%s.steps[%d].spec", path, i), step.Spec)
		}

	case scenario.ScheduleMarkov:
		if sch.Markov == nil {
			v.fail(path, "Markov schedule missing parameters")
			return
		}
		v.validateMarkov(path, *sch.Markov)

	case scenario.ScheduleReplay:
		if sch.Replay == nil || sch.Replay.Path == "" {
			v.fail(path+".path", "is required for Replay schedule")
		}

	default:
		v.fail(path+".type", fmt.Sprintf("unknown schedule type %q", sch.Kind))
	}
}

func (v *Validator) validateMarkov(path string, m scenario.MarkovSchedule) {
	n := len(m.States)
	if n == 0 {
		v.fail(path+".states", "must contain at least one state")
		return
	}
	if m.InitialState < 0 || m.InitialState >= n {
		v.fail(path+".initial_state", fmt.Sprintf("must be in [0,%d)", n))
	}
	if m.MeanDwellMs == 0 {
		v.fail(path+".mean_dwell_ms", "must be > 0")
	}
	if len(m.TransitionMatrix) != n {
		v.fail(path+".transition_matrix", fmt.Sprintf("must have %d rows, one per state", n))
		return
	}
	for i, row := range m.TransitionMatrix {
		if len(row) != n {
			v.fail(fmt.Sprintf("%s.transition_matrix[%d]", path, i), fmt.Sprintf("must have %d columns", n))
			continue
		}
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if math.Abs(sum-1.0) > 1e-6 {
			v.fail(fmt.Sprintf("%s.transition_matrix[%d]", path, i), fmt.Sprintf("row must sum to 1.0 (got %.6f)", sum))
		}
	}
	for i := range m.States {
		v.validateDirectionSpec(fmt.Sprintf("%s.states[%d]", path, i), m.States[i])
	}
}

func (v *Validator) validateDirectionSpec(path string, d scenario.DirectionSpec) {
	if d.RateKbps <= 0 && d.OU == nil {
		v.fail(path+".rate_kbps", "must be > 0 unless driven by an OU controller")
	}
	if d.BaseDelayMs < 0 {
		v.fail(path+".base_delay_ms", "must be >= 0")
	}
	if d.JitterMs < 0 {
		v.fail(path+".jitter_ms", "must be >= 0")
	}
	if d.JitterMs > d.BaseDelayMs*10 {
		v.fail(path+".jitter_ms", "must be <= base_delay_ms * 10")
	}
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"loss_pct", d.LossPct},
		{"loss_burst_corr", d.LossBurstCorr},
		{"reorder_pct", d.ReorderPct},
		{"duplicate_pct", d.DuplicatePct},
	} {
		if f.val < 0 || f.val > 1 {
			v.fail(path+"."+f.name, "must be in [0,1]")
		}
	}
}

func (v *Validator) fail(field, msg string) {
	v.Errors = append(v.Errors, errtax.NewConfigError(field, msg))
}

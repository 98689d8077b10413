package scenario

import (
	"encoding/json"
	"fmt"
)

// ScheduleKind tags which variant of Schedule is populated.
type ScheduleKind string

const (
	ScheduleConstant ScheduleKind = "Constant"
	ScheduleSteps    ScheduleKind = "Steps"
	ScheduleMarkov   ScheduleKind = "Markov"
	ScheduleReplay   ScheduleKind = "Replay"
)

// ScheduleStep pairs a step boundary (seconds since scenario start) with
// the DirectionSpec to apply at that boundary. On the wire it is a
// 2-element JSON array: [t_seconds, spec].
type ScheduleStep struct {
	AtSeconds float64
	Spec      DirectionSpec
}

func (s ScheduleStep) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{s.AtSeconds, s.Spec})
}

func (s *ScheduleStep) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("schedule step: expected [t, spec] array: %w", err)
	}
	if err := json.Unmarshal(raw[0], &s.AtSeconds); err != nil {
		return fmt.Errorf("schedule step: invalid t: %w", err)
	}
	if err := json.Unmarshal(raw[1], &s.Spec); err != nil {
		return fmt.Errorf("schedule step: invalid spec: %w", err)
	}
	return nil
}

// MarkovSchedule is a discrete-time Markov chain over DirectionSpec
// states, with dwell time sampled from an exponential distribution.
type MarkovSchedule struct {
	States           []DirectionSpec `json:"states"`
	TransitionMatrix [][]float64     `json:"transition_matrix"`
	InitialState     int             `json:"initial_state"`
	MeanDwellMs      uint64          `json:"mean_dwell_ms"`
}

// ReplaySchedule replays timestamped DirectionSpec events from a trace
// file, in monotone t_ms order, wall-clock-anchored to scenario start.
type ReplaySchedule struct {
	Path string `json:"path"`
}

// Schedule is the tagged union of time-evolution strategies for one
// link direction: Constant, Steps, Markov, or Replay. Exactly one of the
// variant fields is populated, selected by Kind.
type Schedule struct {
	Kind     ScheduleKind
	Constant *DirectionSpec
	Steps    []ScheduleStep
	Markov   *MarkovSchedule
	Replay   *ReplaySchedule
}

// NewConstantSchedule builds a Schedule that applies spec once and never
// transitions.
func NewConstantSchedule(spec DirectionSpec) Schedule {
	return Schedule{Kind: ScheduleConstant, Constant: &spec}
}

func (s Schedule) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case ScheduleConstant:
		if s.Constant == nil {
			return nil, fmt.Errorf("Constant schedule missing spec")
		}
		return json.Marshal(struct {
			Type string        `json:"type"`
			Spec DirectionSpec `json:"spec"`
		}{string(ScheduleConstant), *s.Constant})

	case ScheduleSteps:
		return json.Marshal(struct {
			Type  string         `json:"type"`
			Steps []ScheduleStep `json:"steps"`
		}{string(ScheduleSteps), s.Steps})

	case ScheduleMarkov:
		if s.Markov == nil {
			return nil, fmt.Errorf("Markov schedule missing parameters")
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			MarkovSchedule
		}{string(ScheduleMarkov), *s.Markov})

	case ScheduleReplay:
		if s.Replay == nil {
			return nil, fmt.Errorf("Replay schedule missing path")
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			ReplaySchedule
		}{string(ScheduleReplay), *s.Replay})

	default:
		return nil, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

func (s *Schedule) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	switch ScheduleKind(envelope.Type) {
	case ScheduleConstant:
		var body struct {
			Spec DirectionSpec `json:"spec"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return fmt.Errorf("schedule Constant: %w", err)
		}
		s.Kind = ScheduleConstant
		s.Constant = &body.Spec

	case ScheduleSteps:
		var body struct {
			Steps []ScheduleStep `json:"steps"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return fmt.Errorf("schedule Steps: %w", err)
		}
		s.Kind = ScheduleSteps
		s.Steps = body.Steps

	case ScheduleMarkov:
		var body MarkovSchedule
		if err := json.Unmarshal(data, &body); err != nil {
			return fmt.Errorf("schedule Markov: %w", err)
		}
		s.Kind = ScheduleMarkov
		s.Markov = &body

	case ScheduleReplay:
		var body ReplaySchedule
		if err := json.Unmarshal(data, &body); err != nil {
			return fmt.Errorf("schedule Replay: %w", err)
		}
		s.Kind = ScheduleReplay
		s.Replay = &body

	default:
		return fmt.Errorf("unknown schedule type %q (expected Constant, Steps, Markov, or Replay)", envelope.Type)
	}

	return nil
}

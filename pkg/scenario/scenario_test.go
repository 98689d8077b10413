package scenario

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestDirectionSpecEquivalent(t *testing.T) {
	a := DirectionSpec{RateKbps: 2000, BaseDelayMs: 40, JitterMs: 10, LossPct: 0.01}
	b := a
	if !a.Equivalent(b) {
		t.Fatalf("identical specs should be equivalent")
	}

	b.JitterMs = 11
	if a.Equivalent(b) {
		t.Fatalf("specs differing in jitter should not be equivalent")
	}

	mtu := 1400
	c := a
	c.MTU = &mtu
	if a.Equivalent(c) {
		t.Fatalf("nil MTU vs set MTU should not be equivalent")
	}
}

func TestScheduleRoundTripConstant(t *testing.T) {
	original := NewConstantSchedule(DirectionSpec{RateKbps: 2000, BaseDelayMs: 40})

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Schedule
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Kind != ScheduleConstant {
		t.Fatalf("kind = %v, want Constant", decoded.Kind)
	}
	if !reflect.DeepEqual(*decoded.Constant, *original.Constant) {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded.Constant, original.Constant)
	}
}

func TestScheduleRoundTripSteps(t *testing.T) {
	original := Schedule{
		Kind: ScheduleSteps,
		Steps: []ScheduleStep{
			{AtSeconds: 0, Spec: DirectionSpec{RateKbps: 2000}},
			{AtSeconds: 30, Spec: DirectionSpec{RateKbps: 500}},
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Schedule
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(decoded.Steps) != 2 || decoded.Steps[1].AtSeconds != 30 {
		t.Fatalf("steps round-trip mismatch: %+v", decoded.Steps)
	}
}

func TestScheduleUnknownTypeRejected(t *testing.T) {
	var decoded Schedule
	err := json.Unmarshal([]byte(`{"type":"Bogus"}`), &decoded)
	if err == nil {
		t.Fatalf("expected error for unknown schedule type")
	}
}

func TestUnknownScheduleTypeCitesLinkName(t *testing.T) {
	raw := `{
		"name": "two_links",
		"links": [
			{"name": "primary", "a_ns": "tx0", "b_ns": "rx0",
			 "a_to_b": {"type": "Constant", "spec": {"rate_kbps": 1000}},
			 "b_to_a": {"type": "Constant", "spec": {"rate_kbps": 1000}}},
			{"name": "backup", "a_ns": "tx1", "b_ns": "rx1",
			 "a_to_b": {"type": "Bogus"},
			 "b_to_a": {"type": "Constant", "spec": {"rate_kbps": 1000}}}
		]
	}`

	var decoded TestScenario
	err := json.Unmarshal([]byte(raw), &decoded)
	if err == nil {
		t.Fatal("expected error for unknown schedule type")
	}
	if !strings.Contains(err.Error(), `"backup"`) {
		t.Fatalf("error does not cite the offending link: %v", err)
	}
	if !strings.Contains(err.Error(), "a_to_b") {
		t.Fatalf("error does not cite the direction: %v", err)
	}
}

func TestScenarioRoundTrip(t *testing.T) {
	seed := uint64(42)
	original := TestScenario{
		Name: "lte_handover",
		Seed: &seed,
		Links: []LinkSpec{
			{
				Name: "primary",
				ANs:  "tx0",
				BNs:  "rx0",
				AToB: Schedule{Kind: ScheduleSteps, Steps: []ScheduleStep{
					{AtSeconds: 0, Spec: DirectionSpec{RateKbps: 2000, BaseDelayMs: 40, JitterMs: 10, LossPct: 0.01}},
				}},
				BToA: NewConstantSchedule(DirectionSpec{RateKbps: 2000}),
			},
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded TestScenario
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Name != original.Name {
		t.Fatalf("name mismatch: %q vs %q", decoded.Name, original.Name)
	}
	if decoded.SeedOrDefault() != 42 {
		t.Fatalf("seed mismatch: %d", decoded.SeedOrDefault())
	}
	if len(decoded.Links) != 1 || decoded.Links[0].AToB.Kind != ScheduleSteps {
		t.Fatalf("links round-trip mismatch: %+v", decoded.Links)
	}
}

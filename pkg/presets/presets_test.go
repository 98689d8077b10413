package presets

import (
	"testing"

	"github.com/ristlab/netbench/pkg/scenario"
	"github.com/ristlab/netbench/pkg/scenario/validator"
)

func TestAllPresetsValidate(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			scen, err := Build(name, 3)
			if err != nil {
				t.Fatalf("Build(%q): %v", name, err)
			}
			if err := validator.New().Validate(scen); err != nil {
				t.Fatalf("preset %q fails validation: %v", name, err)
			}
		})
	}
}

func TestUnknownPresetRejected(t *testing.T) {
	if _, err := Build("5g-moon-uplink", 2); err == nil {
		t.Fatal("unknown preset accepted")
	}
}

func TestBondingHasAsymmetricLinks(t *testing.T) {
	scen, err := Build("bonding", 1) // below minimum, rounded up
	if err != nil {
		t.Fatal(err)
	}
	if len(scen.Links) < 2 {
		t.Fatalf("bonding preset built %d links, want >= 2", len(scen.Links))
	}
	if scen.Links[0].AToB.Kind != scenario.ScheduleConstant {
		t.Fatalf("primary link schedule = %v, want Constant", scen.Links[0].AToB.Kind)
	}
	if scen.Links[1].AToB.Kind != scenario.ScheduleSteps {
		t.Fatalf("secondary link schedule = %v, want Steps", scen.Links[1].AToB.Kind)
	}
}

func TestPoorPresetMarkovShape(t *testing.T) {
	scen, err := Build("poor", 1)
	if err != nil {
		t.Fatal(err)
	}
	m := scen.Links[0].AToB.Markov
	if m == nil {
		t.Fatal("poor preset is not a Markov schedule")
	}
	if len(m.States) != 2 || m.MeanDwellMs != 10_000 {
		t.Fatalf("unexpected Markov shape: %d states, dwell %d", len(m.States), m.MeanDwellMs)
	}
	for i, row := range m.TransitionMatrix {
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if sum < 0.999999 || sum > 1.000001 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}
}

func TestLinkCountHonored(t *testing.T) {
	scen, err := Build("good", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(scen.Links) != 5 {
		t.Fatalf("built %d links, want 5", len(scen.Links))
	}
	seen := map[string]bool{}
	for _, l := range scen.Links {
		if seen[l.Name] {
			t.Fatalf("duplicate link name %q", l.Name)
		}
		seen[l.Name] = true
	}
}

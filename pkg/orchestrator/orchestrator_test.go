package orchestrator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ristlab/netbench/pkg/config"
	"github.com/ristlab/netbench/pkg/reporting"
	"github.com/ristlab/netbench/pkg/scenario"
	"github.com/ristlab/netbench/pkg/seedutil"
)

func newTestOrchestrator(cfg *config.Config) *Orchestrator {
	logger := reporting.NewLogger(reporting.LoggerConfig{
		Level:  reporting.LogLevelError,
		Format: reporting.LogFormatJSON,
		Output: os.Stderr,
	})
	return New(cfg, logger, Options{})
}

func TestRunDurationResolution(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Execution.DefaultDurationSeconds = 60
	cfg.Safety.MaxDuration = 5 * time.Minute
	o := newTestOrchestrator(cfg)

	// Scenario without a duration falls back to the config default.
	scen := &scenario.TestScenario{Name: "t"}
	if d := o.runDuration(scen); d != 60*time.Second {
		t.Fatalf("default duration = %v, want 60s", d)
	}

	// Scenario duration wins when present.
	ninety := 90
	scen.DurationSeconds = &ninety
	if d := o.runDuration(scen); d != 90*time.Second {
		t.Fatalf("scenario duration = %v, want 90s", d)
	}

	// Safety maximum clamps.
	long := 3600
	scen.DurationSeconds = &long
	if d := o.runDuration(scen); d != 5*time.Minute {
		t.Fatalf("clamped duration = %v, want 5m", d)
	}
}

func TestStartRejectsInvalidScenario(t *testing.T) {
	o := newTestOrchestrator(config.DefaultConfig())

	scen := &scenario.TestScenario{
		Name: "dup",
		Links: []scenario.LinkSpec{
			{Name: "l", ANs: "a", BNs: "b", AToB: scenario.NewConstantSchedule(scenario.DirectionSpec{RateKbps: 1000}), BToA: scenario.NewConstantSchedule(scenario.DirectionSpec{RateKbps: 1000})},
			{Name: "l", ANs: "a", BNs: "b", AToB: scenario.NewConstantSchedule(scenario.DirectionSpec{RateKbps: 1000}), BToA: scenario.NewConstantSchedule(scenario.DirectionSpec{RateKbps: 1000})},
		},
	}

	if _, err := o.Start(context.Background(), scen); err == nil {
		t.Fatal("duplicate link names accepted")
	}
	if o.State() != StateFailed {
		t.Fatalf("state after rejected start = %v, want FAILED", o.State())
	}
	if len(o.ActiveLinks()) != 0 {
		t.Fatal("rejected start left active links")
	}
}

func TestObserverRecordsSpecsAndFailures(t *testing.T) {
	o := newTestOrchestrator(config.DefaultConfig())

	spec := scenario.DirectionSpec{RateKbps: 2000, BaseDelayMs: 40}
	o.SpecApplied("primary", seedutil.AtoB, spec)

	o.mu.Lock()
	got := o.lastSpecs[specKey("primary", seedutil.AtoB)]
	o.mu.Unlock()
	if got.RateKbps != 2000 {
		t.Fatalf("recorded spec = %+v", got)
	}

	o.LinkFailed("primary", seedutil.BtoA, os.ErrClosed)
	o.mu.Lock()
	_, failed := o.failedLinks[specKey("primary", seedutil.BtoA)]
	o.mu.Unlock()
	if !failed {
		t.Fatal("failure not recorded")
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	o := newTestOrchestrator(config.DefaultConfig())
	summary := o.Stop()
	if summary.TotalActions != 0 {
		t.Fatalf("stop without start reported %d actions", summary.TotalActions)
	}
}

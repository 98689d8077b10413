package reporting

import (
	"time"

	"github.com/ristlab/netbench/pkg/cleanup"
)

// TestReport is a complete record of one scenario run, written by the
// orchestrator once a run reaches teardown.
type TestReport struct {
	TestID       string    `json:"test_id"`
	ScenarioName string    `json:"scenario_name"`
	Seed         uint64    `json:"seed"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Duration     string    `json:"duration"`

	Status  TestStatus `json:"status"`
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`

	Links     []LinkSummary     `json:"links"`
	Dispatch  DispatchSummary   `json:"dispatch"`
	Bitrate   BitrateSummary    `json:"bitrate"`
	Metrics   []MetricTimeSeries `json:"metrics,omitempty"`

	CleanupSummary cleanup.Summary      `json:"cleanup_summary"`
	CleanupLog     []cleanup.AuditEntry `json:"cleanup_log,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// TestStatus is the terminal status of a run.
type TestStatus string

const (
	StatusRunning   TestStatus = "running"
	StatusCompleted TestStatus = "completed"
	StatusFailed    TestStatus = "failed"
	StatusStopped   TestStatus = "stopped"
)

// LinkSummary records one link's final impairment state and transition
// count at the end of a run.
type LinkSummary struct {
	Name              string  `json:"name"`
	ANs               string  `json:"a_ns"`
	BNs               string  `json:"b_ns"`
	AToBTransitions   int     `json:"a_to_b_transitions"`
	BToATransitions   int     `json:"b_to_a_transitions"`
	FinalAToBRateKbps float64 `json:"final_a_to_b_rate_kbps"`
	FinalBToARateKbps float64 `json:"final_b_to_a_rate_kbps"`
}

// DispatchSummary records the dispatcher's final weight distribution and
// configuration at the end of a run.
type DispatchSummary struct {
	Scheduler     string    `json:"scheduler"`
	Strategy      string    `json:"strategy"`
	FinalWeights  []float64 `json:"final_weights"`
	PacketsRouted uint64    `json:"packets_routed"`
}

// BitrateSummary records the adaptive bitrate controller's final target
// and how often it moved in each direction.
type BitrateSummary struct {
	FinalKbps float64 `json:"final_kbps"`
	Increases int     `json:"increases"`
	Decreases int     `json:"decreases"`
}

// MetricTimeSeries is a named series of timestamped samples, used for the
// JSON run report's optional trace of a single metric across the run
// (e.g. one link's OU-driven rate).
type MetricTimeSeries struct {
	Name    string        `json:"name"`
	Samples []MetricPoint `json:"samples"`
}

// MetricPoint is a single metric sample.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// LiveTestState is a snapshot of a still-running test, used by
// ProgressReporter to print or serialize periodic progress.
type LiveTestState struct {
	TestID       string        `json:"test_id"`
	ScenarioName string        `json:"scenario_name"`
	State        string        `json:"state"`
	StartTime    time.Time     `json:"start_time"`
	Elapsed      time.Duration `json:"elapsed"`

	DispatcherWeights []float64          `json:"dispatcher_weights,omitempty"`
	BitrateKbps       float64            `json:"bitrate_kbps,omitempty"`
	LatestMetrics     map[string]float64 `json:"latest_metrics,omitempty"`
}

package reporting

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OutputFormat represents the progress output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatTUI  OutputFormat = "tui"
)

// ProgressReporter reports scenario run progress
type ProgressReporter struct {
	format OutputFormat
	logger *Logger
}

// NewProgressReporter creates a new progress reporter
func NewProgressReporter(format OutputFormat, logger *Logger) *ProgressReporter {
	return &ProgressReporter{
		format: format,
		logger: logger,
	}
}

// ReportState reports the current run state
func (pr *ProgressReporter) ReportState(state LiveTestState) {
	switch pr.format {
	case FormatJSON:
		pr.reportJSON(state)
	case FormatTUI:
		pr.reportTUI(state)
	default:
		pr.reportText(state)
	}
}

// ReportStateTransition reports an orchestrator state transition
func (pr *ProgressReporter) ReportStateTransition(from, to string) {
	switch pr.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":      "state_transition",
			"from_state": from,
			"to_state":   to,
			"timestamp":  time.Now(),
		})
		fmt.Println(string(data))
	case FormatTUI:
		pr.clearLine()
		fmt.Printf("state: %s -> %s\n", from, to)
	default:
		fmt.Printf("[STATE] %s -> %s\n", from, to)
	}
}

// ReportScheduleTransition reports one link direction switching to a new
// DirectionSpec (a Steps boundary, a Markov state change, or a replayed
// trace event).
func (pr *ProgressReporter) ReportScheduleTransition(linkName, direction string, rateKbps, lossPct float64) {
	switch pr.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":      "schedule_transition",
			"link":       linkName,
			"direction":  direction,
			"rate_kbps":  rateKbps,
			"loss_pct":   lossPct,
			"timestamp":  time.Now(),
		})
		fmt.Println(string(data))
	case FormatTUI:
		pr.clearLine()
		fmt.Printf("link %s/%s -> %.0f kbps, %.2f%% loss\n", linkName, direction, rateKbps, lossPct*100)
	default:
		fmt.Printf("[SCHEDULE] %s/%s -> %.0f kbps, %.2f%% loss\n", linkName, direction, rateKbps, lossPct*100)
	}
}

// ReportDispatchRebalance reports a dispatcher weight recomputation.
func (pr *ProgressReporter) ReportDispatchRebalance(weights []float64) {
	switch pr.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":     "dispatch_rebalance",
			"weights":   weights,
			"timestamp": time.Now(),
		})
		fmt.Println(string(data))
	case FormatTUI:
		pr.clearLine()
		fmt.Printf("weights: %v\n", weights)
	default:
		fmt.Printf("[DISPATCH] weights: %v\n", weights)
	}
}

// ReportBitrateChange reports an adaptive bitrate controller adjustment.
func (pr *ProgressReporter) ReportBitrateChange(kbps float64, increased bool) {
	dir := "down"
	if increased {
		dir = "up"
	}
	switch pr.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":     "bitrate_change",
			"kbps":      kbps,
			"direction": dir,
			"timestamp": time.Now(),
		})
		fmt.Println(string(data))
	case FormatTUI:
		pr.clearLine()
		fmt.Printf("bitrate %s -> %.0f kbps\n", dir, kbps)
	default:
		fmt.Printf("[BITRATE] %s -> %.0f kbps\n", dir, kbps)
	}
}

// ReportCleanupStarted reports cleanup started
func (pr *ProgressReporter) ReportCleanupStarted() {
	switch pr.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":     "cleanup_started",
			"timestamp": time.Now(),
		})
		fmt.Println(string(data))
	case FormatTUI:
		pr.clearLine()
		fmt.Println("starting cleanup...")
	default:
		fmt.Println("[CLEANUP] starting cleanup...")
	}
}

// ReportCleanupCompleted reports cleanup completed
func (pr *ProgressReporter) ReportCleanupCompleted(succeeded, failed int) {
	switch pr.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":     "cleanup_completed",
			"succeeded": succeeded,
			"failed":    failed,
			"timestamp": time.Now(),
		})
		fmt.Println(string(data))
	case FormatTUI:
		pr.clearLine()
		fmt.Printf("cleanup complete: %d succeeded, %d failed\n", succeeded, failed)
	default:
		fmt.Printf("[CLEANUP] complete: %d succeeded, %d failed\n", succeeded, failed)
	}
}

// ReportTestCompleted reports run completion
func (pr *ProgressReporter) ReportTestCompleted(report *TestReport) {
	switch pr.format {
	case FormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"event":     "test_completed",
			"report":    report,
			"timestamp": time.Now(),
		})
		fmt.Println(string(data))
	case FormatTUI:
		pr.clearLine()
		pr.printTestSummary(report)
	default:
		pr.printTextSummary(report)
	}
}

// reportText outputs progress in plain text format
func (pr *ProgressReporter) reportText(state LiveTestState) {
	elapsed := time.Since(state.StartTime).Round(time.Second)
	fmt.Printf("[%s] %s | elapsed: %s\n",
		time.Now().Format("15:04:05"),
		state.State,
		elapsed,
	)

	if state.BitrateKbps > 0 {
		fmt.Printf("  bitrate: %.0f kbps\n", state.BitrateKbps)
	}

	if len(state.LatestMetrics) > 0 {
		fmt.Printf("  metrics: ")
		for name, value := range state.LatestMetrics {
			fmt.Printf("%s=%.2f ", name, value)
		}
		fmt.Println()
	}
}

// reportJSON outputs progress in JSON format
func (pr *ProgressReporter) reportJSON(state LiveTestState) {
	data, err := json.Marshal(state)
	if err != nil {
		pr.logger.Error("failed to marshal state", "error", err)
		return
	}
	fmt.Println(string(data))
}

// reportTUI outputs progress in terminal UI format
func (pr *ProgressReporter) reportTUI(state LiveTestState) {
	pr.clearScreen()

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("   netbench run: %s\n", state.ScenarioName)
	fmt.Printf("   test id: %s\n", state.TestID)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Printf("state: %s\n", state.State)
	fmt.Printf("elapsed: %s\n", state.Elapsed.Round(time.Second))
	fmt.Println()

	if len(state.DispatcherWeights) > 0 {
		fmt.Printf("dispatcher weights: %v\n", state.DispatcherWeights)
	}
	if state.BitrateKbps > 0 {
		fmt.Printf("bitrate: %.0f kbps\n", state.BitrateKbps)
	}
	fmt.Println()

	if len(state.LatestMetrics) > 0 {
		fmt.Printf("latest metrics:\n")
		for name, value := range state.LatestMetrics {
			fmt.Printf("   %s: %.2f\n", name, value)
		}
		fmt.Println()
	}

	fmt.Println(strings.Repeat("-", 80))
}

// printTestSummary prints a run summary in TUI format
func (pr *ProgressReporter) printTestSummary(report *TestReport) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("   RUN SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	statusText := "PASSED"
	if !report.Success {
		statusText = "FAILED"
	}
	if report.Status == StatusStopped {
		statusText = "STOPPED"
	}

	fmt.Printf("run %s\n", statusText)
	fmt.Printf("   scenario: %s\n", report.ScenarioName)
	fmt.Printf("   test id: %s\n", report.TestID)
	fmt.Printf("   duration: %s\n", report.Duration)
	fmt.Println()

	if len(report.Links) > 0 {
		fmt.Printf("links (%d):\n", len(report.Links))
		for _, l := range report.Links {
			fmt.Printf("   - %s: a_to_b=%.0fkbps b_to_a=%.0fkbps transitions=%d/%d\n",
				l.Name, l.FinalAToBRateKbps, l.FinalBToARateKbps, l.AToBTransitions, l.BToATransitions)
		}
		fmt.Println()
	}

	fmt.Printf("dispatcher: scheduler=%s strategy=%s weights=%v\n",
		report.Dispatch.Scheduler, report.Dispatch.Strategy, report.Dispatch.FinalWeights)
	fmt.Printf("bitrate: final=%.0fkbps increases=%d decreases=%d\n",
		report.Bitrate.FinalKbps, report.Bitrate.Increases, report.Bitrate.Decreases)
	fmt.Println()

	fmt.Printf("cleanup: %d succeeded, %d failed\n",
		report.CleanupSummary.Succeeded,
		report.CleanupSummary.Failed,
	)
	fmt.Println()

	fmt.Println(strings.Repeat("=", 80))
}

// printTextSummary prints a run summary in plain text format
func (pr *ProgressReporter) printTextSummary(report *TestReport) {
	status := "PASSED"
	if !report.Success {
		status = "FAILED"
	}
	if report.Status == StatusStopped {
		status = "STOPPED"
	}

	fmt.Printf("\n[RUN SUMMARY] %s\n", status)
	fmt.Printf("  scenario: %s\n", report.ScenarioName)
	fmt.Printf("  test id: %s\n", report.TestID)
	fmt.Printf("  duration: %s\n", report.Duration)
	fmt.Printf("  links: %d\n", len(report.Links))
	fmt.Printf("  dispatcher weights: %v\n", report.Dispatch.FinalWeights)
	fmt.Printf("  bitrate: final=%.0fkbps increases=%d decreases=%d\n",
		report.Bitrate.FinalKbps, report.Bitrate.Increases, report.Bitrate.Decreases)
	fmt.Printf("  cleanup: %d succeeded, %d failed\n",
		report.CleanupSummary.Succeeded,
		report.CleanupSummary.Failed,
	)
	fmt.Println()
}

// clearScreen clears the terminal screen
func (pr *ProgressReporter) clearScreen() {
	fmt.Print("\033[2J\033[H")
}

// clearLine clears the current line
func (pr *ProgressReporter) clearLine() {
	fmt.Print("\033[K")
}

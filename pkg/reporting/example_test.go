package reporting_test

import (
	"fmt"
	"os"
	"time"

	"github.com/ristlab/netbench/pkg/cleanup"
	"github.com/ristlab/netbench/pkg/reporting"
)

// Example demonstrates the reporting package usage
func Example() {
	// Create logger
	logger := reporting.NewLogger(reporting.LoggerConfig{
		Level:  reporting.LogLevelInfo,
		Format: reporting.LogFormatText,
		Output: os.Stdout,
	})

	logger.Info("Scenario run starting")
	logger.Info("Link provisioned", "link", "primary", "ns_a", "tx0_link_1", "ns_b", "rx0_link_1")
	logger.Info("Schedule transition", "link", "primary", "direction", "a_to_b", "rate_kbps", 2000)

	// Create storage
	storage, err := reporting.NewStorage("./test-reports", 10, logger)
	if err != nil {
		fmt.Printf("Failed to create storage: %v\n", err)
		return
	}
	defer os.RemoveAll("./test-reports")

	// Create run report
	report := &reporting.TestReport{
		TestID:       "run-12345",
		ScenarioName: "lte_handover",
		Seed:         42,
		StartTime:    time.Now().Add(-2 * time.Minute),
		EndTime:      time.Now(),
		Duration:     "2m0s",
		Status:       reporting.StatusCompleted,
		Success:      true,
		Links: []reporting.LinkSummary{
			{
				Name:              "primary",
				ANs:               "tx0",
				BNs:               "rx0",
				AToBTransitions:   4,
				BToATransitions:   1,
				FinalAToBRateKbps: 1200,
				FinalBToARateKbps: 2000,
			},
		},
		Dispatch: reporting.DispatchSummary{
			Scheduler:     "swrr",
			Strategy:      "ewma",
			FinalWeights:  []float64{0.62, 0.38},
			PacketsRouted: 98234,
		},
		Bitrate: reporting.BitrateSummary{
			FinalKbps: 4500,
			Increases: 2,
			Decreases: 3,
		},
		CleanupSummary: cleanup.Summary{
			TotalActions: 2,
			Succeeded:    2,
			Failed:       0,
		},
	}

	// Save report
	path, err := storage.SaveReport(report)
	if err != nil {
		fmt.Printf("Failed to save report: %v\n", err)
		return
	}

	fmt.Printf("Report saved successfully\n")

	// List reports
	summaries, err := storage.ListReports()
	if err != nil {
		fmt.Printf("Failed to list reports: %v\n", err)
		return
	}

	fmt.Printf("Found %d report(s)\n", len(summaries))
	for _, summary := range summaries {
		fmt.Printf("  %s: %s (%s)\n", summary.TestID, summary.ScenarioName, summary.Status)
	}

	// Load report
	loadedReport, err := storage.LoadReport(path)
	if err != nil {
		fmt.Printf("Failed to load report: %v\n", err)
		return
	}

	fmt.Printf("Loaded report for run: %s\n", loadedReport.TestID)

	// Create formatter
	formatter := reporting.NewFormatter(logger)

	// Generate text report
	textPath := "./test-reports/report.txt"
	if err := formatter.GenerateReport(report, reporting.ReportFormatText, textPath); err != nil {
		fmt.Printf("Failed to generate text report: %v\n", err)
		return
	}
	fmt.Printf("Text report generated\n")

	// Generate CSV report
	csvPath := "./test-reports/report.csv"
	if err := formatter.GenerateReport(report, reporting.ReportFormatCSV, csvPath); err != nil {
		fmt.Printf("Failed to generate CSV report: %v\n", err)
		return
	}
	fmt.Printf("CSV report generated\n")

	// Output will vary due to timestamps, so we don't include it
}

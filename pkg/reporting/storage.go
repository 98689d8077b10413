package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Storage persists run reports as one JSON file per run, named by the
// run's test id (run-20260801-120000.json), so a directory listing
// already reads as a run history. Old reports are pruned to keep the
// newest N.
type Storage struct {
	outputDir string
	keepLastN int
	logger    *Logger
}

// ReportSummary is the slice of a report the `list` command shows: who
// ran, when, and how it ended, without loading link/metric payloads.
type ReportSummary struct {
	TestID       string     `json:"test_id"`
	ScenarioName string     `json:"scenario_name"`
	StartTime    time.Time  `json:"start_time"`
	Duration     string     `json:"duration"`
	Status       TestStatus `json:"status"`
	Success      bool       `json:"success"`
	Filepath     string     `json:"filepath"`
}

// NewStorage creates report storage under outputDir, creating the
// directory if needed. keepLastN <= 0 disables pruning.
func NewStorage(outputDir string, keepLastN int, logger *Logger) (*Storage, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Storage{outputDir: outputDir, keepLastN: keepLastN, logger: logger}, nil
}

// SaveReport writes the report and prunes old ones, returning the
// written path.
func (s *Storage) SaveReport(report *TestReport) (string, error) {
	name := report.TestID
	if name == "" {
		name = "run-" + report.StartTime.Format("20060102-150405")
	}
	path := filepath.Join(s.outputDir, name+".json")

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	s.logger.Info("run report saved", "path", path, "scenario", report.ScenarioName)

	if s.keepLastN > 0 {
		if err := s.prune(); err != nil {
			s.logger.Warn("report pruning failed", "error", err)
		}
	}
	return path, nil
}

// LoadReport reads a full report back from disk.
func (s *Storage) LoadReport(path string) (*TestReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var report TestReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &report, nil
}

// ListReports returns summaries of every stored report, newest first.
// Only the summary fields are decoded; a report's link tables and
// metric series stay on disk.
func (s *Storage) ListReports() ([]ReportSummary, error) {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read report directory: %w", err)
	}

	summaries := make([]ReportSummary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.outputDir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("unreadable report skipped", "path", path, "error", err)
			continue
		}
		var summary ReportSummary
		if err := json.Unmarshal(data, &summary); err != nil {
			s.logger.Warn("undecodable report skipped", "path", path, "error", err)
			continue
		}
		summary.Filepath = path
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}

// FindReport locates a stored report by its test id.
func (s *Storage) FindReport(testID string) (*TestReport, error) {
	path := filepath.Join(s.outputDir, testID+".json")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no report for test id %q", testID)
	}
	return s.LoadReport(path)
}

// GetOutputDir returns the report directory path.
func (s *Storage) GetOutputDir() string {
	return s.outputDir
}

// prune removes the oldest reports beyond keepLastN. Sibling files a
// run generated next to a pruned report (.txt/.csv/.html renditions)
// are removed with it.
func (s *Storage) prune() error {
	summaries, err := s.ListReports()
	if err != nil {
		return err
	}
	if len(summaries) <= s.keepLastN {
		return nil
	}

	for _, old := range summaries[s.keepLastN:] {
		base := strings.TrimSuffix(old.Filepath, ".json")
		for _, ext := range []string{".json", ".txt", ".csv", ".html"} {
			if err := os.Remove(base + ext); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to prune report file", "path", base+ext, "error", err)
			}
		}
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ristlab/netbench/pkg/presets"
	"github.com/ristlab/netbench/pkg/reporting"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Args:  cobra.NoArgs,
	Short: "List available presets and saved run reports",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)

	fmt.Println("Presets:")
	for _, name := range presets.Names() {
		scen, _ := presets.Build(name, 2)
		fmt.Printf("  %-10s %s\n", name, scen.Description)
	}

	storage, err := reporting.NewStorage(cfg.Reporting.OutputDir, cfg.Reporting.KeepLastN, logger)
	if err != nil {
		return fmt.Errorf("failed to open report storage: %w", err)
	}
	summaries, err := storage.ListReports()
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	fmt.Printf("\nSaved reports (%s):\n", cfg.Reporting.OutputDir)
	if len(summaries) == 0 {
		fmt.Println("  (none)")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("  %-24s %-20s %-10s %s\n",
			s.TestID, s.ScenarioName, s.Status, s.StartTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Args:  cobra.NoArgs,
	Short: "Bring up a preset link topology and run it",
	Long: `Provisions N emulated links from a named preset (good, poor, lte,
bonding) and runs them for the requested duration. Requires CAP_NET_ADMIN.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().Int("links", 1, "number of links to create")
	upCmd.Flags().String("preset", "good", "impairment preset (good, poor, lte, bonding)")
	upCmd.Flags().Int("duration", 0, "run duration in seconds (0 = config default)")
	upCmd.Flags().Int("rx-port", 5004, "RIST receiver base port, recorded in run metadata")
	upCmd.Flags().Uint64("seed", 0, "scenario seed for reproducible stochastic schedules")
}

func runUp(cmd *cobra.Command, args []string) error {
	links, _ := cmd.Flags().GetInt("links")
	preset, _ := cmd.Flags().GetString("preset")
	duration, _ := cmd.Flags().GetInt("duration")
	rxPort, _ := cmd.Flags().GetInt("rx-port")
	seed, _ := cmd.Flags().GetUint64("seed")

	if links < 1 {
		return &usageError{fmt.Errorf("--links must be >= 1 (got %d)", links)}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)

	scen, err := buildPreset(preset, links)
	if err != nil {
		return &usageError{err}
	}

	if duration > 0 {
		scen.DurationSeconds = &duration
	}
	if seed != 0 {
		scen.Seed = &seed
	}
	if scen.Metadata == nil {
		scen.Metadata = map[string]interface{}{}
	}
	scen.Metadata["rx_port"] = rxPort

	logger.Info("bringing up preset topology",
		"preset", preset, "links", links, "scenario", scen.Name)

	return executeScenario(cmd.Context(), cfg, logger, scen, "text")
}

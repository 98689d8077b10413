package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ristlab/netbench/pkg/presets"
	"github.com/ristlab/netbench/pkg/scenario"
	"github.com/ristlab/netbench/pkg/scenario/parser"
	"github.com/ristlab/netbench/pkg/scenario/validator"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario-name-or-path>",
	Args:  cobra.ExactArgs(1),
	Short: "Execute a scenario file or named preset",
	Long: `Loads a scenario JSON file (or a preset by name) and runs the full
experiment: namespaces, veth pairs, qdisc schedules, teardown, report.`,
	RunE: runScenario,
}

func init() {
	runCmd.Flags().StringArray("set", []string{}, "override scenario values (e.g., --set seed=42)")
	runCmd.Flags().Int("rx-port", 5004, "RIST receiver base port, recorded in run metadata")
	runCmd.Flags().String("format", "text", "output format (text, json, tui)")
	runCmd.Flags().Bool("dry-run", false, "validate scenario without executing")
	runCmd.Flags().Int("links", 2, "number of links when running a preset by name")
}

func runScenario(cmd *cobra.Command, args []string) error {
	target := args[0]
	setFlags, _ := cmd.Flags().GetStringArray("set")
	rxPort, _ := cmd.Flags().GetInt("rx-port")
	outputFormat, _ := cmd.Flags().GetString("format")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	links, _ := cmd.Flags().GetInt("links")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)

	// Resolve the target: an existing file path wins, otherwise a preset
	// name.
	var scen *scenario.TestScenario
	if _, statErr := os.Stat(target); statErr == nil {
		logger.Info("parsing scenario", "file", target)
		p := parser.New(nil)
		scen, err = p.ParseFile(target)
		if err != nil {
			return fmt.Errorf("failed to parse scenario: %w", err)
		}
	} else {
		scen, err = buildPreset(target, links)
		if err != nil {
			return &usageError{fmt.Errorf("%q is neither a scenario file nor a preset: %w", target, err)}
		}
	}

	overrides, err := parser.ParseOverrides(setFlags)
	if err != nil {
		return &usageError{err}
	}
	if err := parser.ApplyOverrides(scen, overrides); err != nil {
		return &usageError{err}
	}

	if scen.Metadata == nil {
		scen.Metadata = map[string]interface{}{}
	}
	scen.Metadata["rx_port"] = rxPort

	if dryRun {
		if err := validator.New().Validate(scen); err != nil {
			return err
		}
		fmt.Printf("scenario %q valid: %d link(s)\n", scen.Name, len(scen.Links))
		return nil
	}

	return executeScenario(cmd.Context(), cfg, logger, scen, outputFormat)
}

// buildPreset constructs a preset scenario by name.
func buildPreset(name string, links int) (*scenario.TestScenario, error) {
	return presets.Build(name, links)
}

package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	version = "dev" // Will be set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "testbench",
	Short: "Network emulation testbench for bonded RIST video transports",
	Long: `Testbench is a programmable network emulation harness for evaluating
link-bonding video transports under time-varying cellular and satellite
impairments. Each emulated link is a pair of network namespaces joined by
a veth pair, shaped by kernel qdiscs driven from scenario schedules.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// usageError marks errors that should exit with code 2 (bad invocation)
// rather than 1 (runtime failure).
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	// Add subcommands
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
}

// Commands are defined in separate files:
// - upCmd in up.go
// - runCmd in run.go
// - listCmd in list.go
// - statsCmd in stats.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err.Error())
		var ue *usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

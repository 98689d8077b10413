package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ristlab/netbench/pkg/bitrate"
	"github.com/ristlab/netbench/pkg/config"
	"github.com/ristlab/netbench/pkg/dispatcher"
	"github.com/ristlab/netbench/pkg/feedback"
	"github.com/ristlab/netbench/pkg/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Args:  cobra.NoArgs,
	Short: "Run the dispatcher and bitrate controller against synthetic feedback",
	Long: `Drives the link-bonding dispatcher and the adaptive bitrate controller
from a synthetic feedback source and prints their live state each interval.
Useful for inspecting rebalance/step behavior without kernel privileges.
Also serves the Prometheus endpoint so scrapers can be tested against it.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().Int("interval", 2, "seconds between printed snapshots")
	statsCmd.Flags().Int("links", 2, "number of synthetic bonded links")
	statsCmd.Flags().Uint64("seed", 1, "seed for the synthetic feedback source")
}

func runStats(cmd *cobra.Command, args []string) error {
	interval, _ := cmd.Flags().GetInt("interval")
	links, _ := cmd.Flags().GetInt("links")
	seed, _ := cmd.Flags().GetUint64("seed")

	if interval < 1 {
		return &usageError{fmt.Errorf("--interval must be >= 1 (got %d)", interval)}
	}
	if links < 1 {
		return &usageError{fmt.Errorf("--links must be >= 1 (got %d)", links)}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)

	var prod *metrics.Producer
	if cfg.Metrics.Enabled {
		prod = metrics.New()
		errCh := make(chan error, 1)
		prod.Serve(cfg.Metrics.ListenAddr, errCh)
		defer prod.Shutdown()
		logger.Info("metrics listening", "addr", cfg.Metrics.ListenAddr)
	}

	source := newSyntheticSource(links, seed)
	disp := dispatcher.New(links, dispatcher.DefaultConfig(), seed)
	ctrl := bitrate.New(bitrateConfig(cfg), cfg.Bitrate.StartKbps)
	runner := bitrate.NewRunner(ctrl, source)
	runner.OnChange = func(kbps float64, dir bitrate.Direction, requestKeyframe bool) {
		logger.Debug("bitrate moved", "kbps", kbps, "keyframe_requested", requestKeyframe)
		if requestKeyframe {
			// No real encoder behind the stats command; surface the
			// force-keyunit request where the operator can see it.
			fmt.Println("[keyframe] downscale requested an upstream keyunit")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	rebalance := time.NewTicker(time.Duration(interval) * time.Second)
	defer rebalance.Stop()
	bitrateTick := time.NewTicker(bitrate.TickInterval)
	defer bitrateTick.Stop()

	fmt.Printf("driving %d synthetic links; Ctrl-C to stop\n", links)

	var routed uint64
	for {
		select {
		case <-sigCh:
			fmt.Printf("\n%d packets routed total\n", routed)
			return nil

		case now := <-bitrateTick.C:
			kbps, _, _ := runner.TickOnce(now)
			if prod != nil {
				prod.SetBitrate(kbps)
			}

		case <-rebalance.C:
			source.advance(time.Duration(interval) * time.Second)

			samples := make([]dispatcher.FeedbackSample, 0, links)
			for i, s := range source.Snapshot() {
				samples = append(samples, dispatcher.FeedbackSample{
					LinkIndex:            i,
					OriginalPackets:      s.OriginalPackets,
					RetransmittedPackets: s.RetransmittedPackets,
					RTTMs:                s.RTTMs,
				})
			}
			disp.NotifyFeedback(samples)
			disp.Rebalance()

			// Route a burst so the share converges visibly.
			counts := make([]int, links)
			for i := 0; i < 1000; i++ {
				k := disp.AcceptPacket(1200)
				counts[k]++
				routed++
				if prod != nil {
					prod.IncSelected(k)
				}
			}

			weights := disp.GetCurrentWeights()
			if prod != nil {
				prod.SetDispatcherWeights(weights)
			}

			fmt.Printf("[%s] bitrate=%.0fkbps weights=", time.Now().Format("15:04:05"), ctrl.CurrentKbps())
			for i, w := range weights {
				fmt.Printf("%d:%.2f ", i, w)
			}
			fmt.Printf("shares=")
			for i, c := range counts {
				fmt.Printf("%d:%.0f%% ", i, float64(c)/10)
			}
			fmt.Println()
		}
	}
}

// bitrateConfig maps the YAML bitrate section onto the controller's
// tunables.
func bitrateConfig(cfg *config.Config) bitrate.Config {
	c := bitrate.DefaultConfig()
	c.MinKbps = cfg.Bitrate.MinKbps
	c.MaxKbps = cfg.Bitrate.MaxKbps
	c.StepKbps = cfg.Bitrate.StepKbps
	c.TargetRtxPct = cfg.Bitrate.TargetLossPct
	c.MinRtxRttMs = cfg.Bitrate.MinRtxRttMs
	c.DownscaleKeyunit = cfg.Bitrate.DownscaleKeyunit
	return c
}

// syntheticSource synthesizes per-link RIST session counters: link 0 is
// healthy, higher links degrade progressively, with mild random wander.
type syntheticSource struct {
	rng      *rand.Rand
	sessions []feedback.SessionStats
	rates    []float64 // packets/s per link
	lossPcts []float64
}

func newSyntheticSource(links int, seed uint64) *syntheticSource {
	s := &syntheticSource{
		rng:      rand.New(rand.NewSource(int64(seed))),
		sessions: make([]feedback.SessionStats, links),
		rates:    make([]float64, links),
		lossPcts: make([]float64, links),
	}
	for i := range s.sessions {
		s.sessions[i].SessionID = fmt.Sprintf("session_%d", i)
		s.rates[i] = 800 - 150*float64(i)
		if s.rates[i] < 100 {
			s.rates[i] = 100
		}
		s.lossPcts[i] = 0.005 * float64(i*i)
	}
	return s
}

// advance moves every session's counters forward by dt of traffic.
func (s *syntheticSource) advance(dt time.Duration) {
	for i := range s.sessions {
		sec := dt.Seconds()
		orig := s.rates[i] * sec * (0.9 + 0.2*s.rng.Float64())
		rtx := orig * s.lossPcts[i] * (0.5 + s.rng.Float64())
		s.sessions[i].OriginalPackets += uint64(orig)
		s.sessions[i].RetransmittedPackets += uint64(rtx)
		s.sessions[i].RTTMs = 20 + 40*float64(i) + 10*s.rng.Float64()
	}
}

func (s *syntheticSource) Snapshot() []feedback.SessionStats {
	out := make([]feedback.SessionStats, len(s.sessions))
	copy(out, s.sessions)
	return out
}

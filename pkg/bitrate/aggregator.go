package bitrate

import (
	"time"

	"github.com/ristlab/netbench/pkg/feedback"
)

// Aggregator folds per-session cumulative counters into the aggregate
// instantaneous retransmission rate and mean RTT the Controller decides
// on: sum(delta_rtx) / max(1, sum(delta_orig + delta_rtx)) across active
// sessions. A session's first appearance contributes zero until it has
// accumulated a delta; a counter going backwards (source restart) resets
// that session's baseline and skips its contribution for the interval.
type Aggregator struct {
	prev map[string]feedback.SessionStats
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{prev: make(map[string]feedback.SessionStats)}
}

// Update consumes a snapshot and returns the aggregate retransmission
// fraction and the mean RTT across sessions that contributed a delta.
// With no usable deltas it returns (0, 0).
func (a *Aggregator) Update(snapshot []feedback.SessionStats) (rtxPct, rttMs float64) {
	var sumOrig, sumRtx uint64
	var rttSum float64
	var rttCount int

	for _, s := range snapshot {
		prev, seen := a.prev[s.SessionID]
		a.prev[s.SessionID] = s
		if !seen {
			continue
		}

		if s.OriginalPackets < prev.OriginalPackets || s.RetransmittedPackets < prev.RetransmittedPackets {
			// Source restart: baseline already reset above, skip this
			// interval's contribution.
			continue
		}

		sumOrig += s.OriginalPackets - prev.OriginalPackets
		sumRtx += s.RetransmittedPackets - prev.RetransmittedPackets
		rttSum += s.RTTMs
		rttCount++
	}

	total := sumOrig + sumRtx
	if total == 0 {
		total = 1
	}
	rtxPct = float64(sumRtx) / float64(total)
	if rttCount > 0 {
		rttMs = rttSum / float64(rttCount)
	}
	return rtxPct, rttMs
}

// Runner ties a Controller to a feedback source on a periodic tick, the
// shape the media pipeline hosts: poll, aggregate, decide.
type Runner struct {
	Ctrl   *Controller
	Source feedback.Source
	Agg    *Aggregator

	// OnChange, if set, fires after each tick that moved the target.
	// requestKeyframe is the controller's downscale-keyunit signal: on a
	// true value the host should send a force-keyunit request upstream
	// along with the new bitrate.
	OnChange func(kbps float64, dir Direction, requestKeyframe bool)
}

// NewRunner wires ctrl to source.
func NewRunner(ctrl *Controller, source feedback.Source) *Runner {
	return &Runner{Ctrl: ctrl, Source: source, Agg: NewAggregator()}
}

// TickOnce polls the source, aggregates, and runs one controller
// decision, returning the (possibly unchanged) target and whether the
// encoder should emit a keyframe for it.
func (r *Runner) TickOnce(now time.Time) (float64, Direction, bool) {
	rtxPct, rttMs := r.Agg.Update(r.Source.Snapshot())
	kbps, dir, keyframe := r.Ctrl.Tick(now, rtxPct, rttMs)
	if dir != Unchanged && r.OnChange != nil {
		r.OnChange(kbps, dir, keyframe)
	}
	return kbps, dir, keyframe
}

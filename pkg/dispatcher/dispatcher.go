// Package dispatcher fans a single packet stream out across bonded
// links: it picks, for each outgoing packet, which link carries it
// (smooth weighted round robin or deficit round robin), and
// periodically rebalances link weights from retransmission/RTT
// feedback.
package dispatcher

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ristlab/netbench/pkg/errtax"
)

// Strategy selects how link weights are recomputed from feedback.
type Strategy string

const (
	StrategyEWMA Strategy = "ewma"
	StrategyAIMD Strategy = "aimd"
)

// SchedulerKind selects the per-packet link-selection algorithm.
type SchedulerKind string

const (
	SchedulerSWRR SchedulerKind = "swrr"
	SchedulerDRR  SchedulerKind = "drr"
)

// Config holds every dispatcher tunable.
type Config struct {
	RebalanceInterval  time.Duration
	Strategy           Strategy
	AutoBalance        bool
	MinHoldMs          uint64
	SwitchThreshold    float64
	UseSwitchThreshold bool
	HealthWarmupMs     uint64
	DuplicateKeyframes bool
	DupBudgetPps       uint64
	EwmaRtxPenalty     float64
	EwmaRttPenalty     float64
	AimdRtxThreshold   float64
	AimdWMin           float64
	AimdWMax           float64
	ProbeRatio         float64
	MaxLinkShare       float64
	ProbeBoost         float64
	ProbePeriodMs      uint64
	Scheduler          SchedulerKind
	QuantumBytes       uint64
	MinBurstPkts       uint64
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		RebalanceInterval:  500 * time.Millisecond,
		Strategy:           StrategyEWMA,
		AutoBalance:        true,
		MinHoldMs:          200,
		SwitchThreshold:    1.05,
		UseSwitchThreshold: false,
		HealthWarmupMs:     2000,
		DuplicateKeyframes: false,
		DupBudgetPps:       5,
		EwmaRtxPenalty:     0.3,
		EwmaRttPenalty:     0.1,
		AimdRtxThreshold:   0.05,
		AimdWMin:           0.05,
		AimdWMax:           1.0,
		ProbeRatio:         0.08,
		MaxLinkShare:       0.70,
		ProbeBoost:         0.12,
		ProbePeriodMs:      800,
		Scheduler:          SchedulerSWRR,
		QuantumBytes:       1500,
		MinBurstPkts:       12,
	}
}

// LinkStats tracks the per-link feedback history the weight strategies
// read from.
type LinkStats struct {
	PrevOriginal      uint64
	PrevRetransmitted uint64
	PrevTimestamp     time.Time
	EWMAGoodput       float64
	EWMADeliveredPps  float64
	EWMARtxRate       float64
	EWMARTT           float64
	Alpha             float64
	healthSince       time.Time
}

func newLinkStats(now time.Time) LinkStats {
	return LinkStats{EWMARTT: 50.0, Alpha: 0.25, healthSince: now}
}

// FeedbackSample is one link's cumulative counters at the moment of a
// rebalance, the dispatcher's own narrow view of pkg/feedback.SessionStats
// reduced to link granularity by the caller.
type FeedbackSample struct {
	LinkIndex            int
	OriginalPackets      uint64
	RetransmittedPackets uint64
	RTTMs                float64
}

// Dispatcher selects an outgoing link per packet and rebalances its link
// weights from feedback. All exported methods are safe for concurrent use.
type Dispatcher struct {
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand

	weights      []float64
	swrrCounters []float64
	drrDeficits  []float64
	drrPtr       int

	linkStats      []LinkStats
	currentIdx     int
	lastSwitchTime time.Time

	dupBudgetUsed      uint64
	dupBudgetResetTime time.Time

	probeIdx  int
	lastProbe time.Time

	lastFeedback time.Time
	sticky       []StickyEvent

	startedAt time.Time
}

// StickyEvent is an upstream stream-prologue event (stream-start, format,
// segment, tags) cached so outputs added mid-stream can be brought up to
// date before they see their first packet.
type StickyEvent struct {
	Type string
	Data interface{}
}

// New creates a Dispatcher over numLinks equally-weighted links.
func New(numLinks int, cfg Config, seed uint64) *Dispatcher {
	now := time.Now()
	d := &Dispatcher{
		cfg:            cfg,
		rng:            rand.New(rand.NewSource(int64(seed))),
		weights:        make([]float64, numLinks),
		swrrCounters:   make([]float64, numLinks),
		drrDeficits:    make([]float64, numLinks),
		linkStats:      make([]LinkStats, numLinks),
		lastSwitchTime: now,
		startedAt:      now,
	}
	equal := 1.0 / float64(numLinks)
	for i := range d.weights {
		d.weights[i] = equal
		d.linkStats[i] = newLinkStats(now)
	}
	return d
}

// GetCurrentWeights returns a copy of the current normalized weights.
func (d *Dispatcher) GetCurrentWeights() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, len(d.weights))
	copy(out, d.weights)
	return out
}

// SetWeights overrides the current weights directly, bypassing the
// rebalance strategy (used for manual overrides and tests).
func (d *Dispatcher) SetWeights(weights []float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(weights) != len(d.weights) {
		return
	}
	copy(d.weights, weights)
	d.normalizePipeline(d.weights)
}

// SetStrategy changes the weight-recomputation strategy.
func (d *Dispatcher) SetStrategy(s Strategy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Strategy = s
}

// SetScheduler changes the per-packet selection algorithm.
func (d *Dispatcher) SetScheduler(s SchedulerKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Scheduler = s
}

// CacheSticky records a stream-prologue event for replay to
// later-added outputs. Events are replayed in the order first seen.
func (d *Dispatcher) CacheSticky(ev StickyEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sticky = append(d.sticky, ev)
}

// AddLink adds an output link at runtime. Its initial weight is the
// minimum of the existing weights, and its health warm-up window starts
// now. The cached sticky events are returned so the caller can replay
// the stream prologue to the new output before routing to it.
func (d *Dispatcher) AddLink() (index int, prologue []StickyEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	initial := 1.0
	for _, w := range d.weights {
		if w < initial {
			initial = w
		}
	}
	if len(d.weights) == 0 {
		initial = 1.0
	}

	d.weights = append(d.weights, initial)
	d.swrrCounters = append(d.swrrCounters, 0)
	d.drrDeficits = append(d.drrDeficits, 0)
	d.linkStats = append(d.linkStats, newLinkStats(now))
	normalizeInPlace(d.weights)

	prologue = make([]StickyEvent, len(d.sticky))
	copy(prologue, d.sticky)
	return len(d.weights) - 1, prologue
}

// RemoveLink removes an output link. Its pending deficit is discarded and
// the remaining weights are renormalized. Removing the last link is
// rejected.
func (d *Dispatcher) RemoveLink(index int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(d.weights) || len(d.weights) == 1 {
		return false
	}

	d.weights = append(d.weights[:index], d.weights[index+1:]...)
	d.swrrCounters = append(d.swrrCounters[:index], d.swrrCounters[index+1:]...)
	d.drrDeficits = append(d.drrDeficits[:index], d.drrDeficits[index+1:]...)
	d.linkStats = append(d.linkStats[:index], d.linkStats[index+1:]...)
	normalizeInPlace(d.weights)

	if d.currentIdx >= len(d.weights) {
		d.currentIdx = 0
	}
	if d.drrPtr >= len(d.weights) {
		d.drrPtr = 0
	}
	return true
}

// NumLinks returns the current output count.
func (d *Dispatcher) NumLinks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.weights)
}

// NotifyFeedback updates per-link stats from a fresh feedback sample.
// Nonmonotone counters (the session restarted) are reported as a
// FeedbackAnomaly and cause that link's baseline to reset rather than
// being treated as a real throughput collapse.
func (d *Dispatcher) NotifyFeedback(samples []FeedbackSample) []error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var anomalies []error
	now := time.Now()
	d.lastFeedback = now

	for _, s := range samples {
		if s.LinkIndex < 0 || s.LinkIndex >= len(d.linkStats) {
			continue
		}
		ls := &d.linkStats[s.LinkIndex]

		if s.OriginalPackets < ls.PrevOriginal || s.RetransmittedPackets < ls.PrevRetransmitted {
			anomalies = append(anomalies, &errtax.FeedbackAnomaly{
				Detail: "counter went backwards, resetting baseline",
			})
			ls.PrevOriginal = s.OriginalPackets
			ls.PrevRetransmitted = s.RetransmittedPackets
			ls.PrevTimestamp = now
			continue
		}

		dt := now.Sub(ls.PrevTimestamp).Seconds()
		if dt <= 0 {
			dt = d.cfg.RebalanceInterval.Seconds()
		}

		deltaOrig := s.OriginalPackets - ls.PrevOriginal
		deltaRtx := s.RetransmittedPackets - ls.PrevRetransmitted
		deliveredPps := float64(deltaOrig) / dt
		total := deltaOrig + deltaRtx
		rtxRate := 0.0
		if total > 0 {
			rtxRate = float64(deltaRtx) / float64(total)
		}

		ls.EWMADeliveredPps = ewma(ls.EWMADeliveredPps, deliveredPps, ls.Alpha)
		ls.EWMARtxRate = ewma(ls.EWMARtxRate, rtxRate, ls.Alpha)
		ls.EWMARTT = ewma(ls.EWMARTT, s.RTTMs, ls.Alpha)

		ls.PrevOriginal = s.OriginalPackets
		ls.PrevRetransmitted = s.RetransmittedPackets
		ls.PrevTimestamp = now
	}

	return anomalies
}

// Rebalance recomputes weights from the current link stats using the
// configured strategy, then runs the normalization pipeline (link-share
// cap, probe rotation, epsilon-mix). If every link's EWMA goodput is zero
// (stale or never-reported feedback), the previous weights are retained.
func (d *Dispatcher) Rebalance() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.cfg.AutoBalance {
		return
	}

	// Feedback gone silent: freeze the current weights rather than
	// letting stale EWMAs steer the distribution.
	if d.lastFeedback.IsZero() || time.Since(d.lastFeedback) > 10*d.cfg.RebalanceInterval {
		return
	}

	raw := make([]float64, len(d.linkStats))
	sum := 0.0
	for i, ls := range d.linkStats {
		var score float64
		switch d.cfg.Strategy {
		case StrategyAIMD:
			score = d.aimdScore(i, ls)
		default:
			score = d.ewmaScore(ls)
		}
		if score < 0 {
			score = 0
		}
		raw[i] = score
		sum += score
	}

	if sum == 0 {
		// No usable signal yet: keep the previous weights rather than
		// collapsing to a uniform or all-zero distribution.
		return
	}

	for i := range raw {
		raw[i] /= sum
	}

	d.normalizePipeline(raw)
	copy(d.weights, raw)
}

// normalizePipeline runs the full weight transformation in order:
// link-share cap, probe rotation/boost, epsilon mix, renormalize. The
// epsilon mix blends a uniform floor into the distribution so a link
// whose weight collapsed still carries probe_ratio/N of the traffic and
// keeps producing feedback.
func (d *Dispatcher) normalizePipeline(w []float64) {
	normalizeInPlace(w)
	d.applyLinkShareCap(w)
	d.applyProbe(w)
	if d.cfg.ProbeRatio > 0 && len(w) > 1 {
		uniform := 1.0 / float64(len(w))
		for i := range w {
			w[i] = (1-d.cfg.ProbeRatio)*w[i] + d.cfg.ProbeRatio*uniform
		}
	}
	normalizeInPlace(w)
}

func (d *Dispatcher) ewmaScore(ls LinkStats) float64 {
	denom := 1 + d.cfg.EwmaRtxPenalty*ls.EWMARtxRate + d.cfg.EwmaRttPenalty*(ls.EWMARTT/50.0)
	if denom <= 0 {
		return 0
	}
	return ls.EWMADeliveredPps / denom
}

// aimdScore applies additive-increase/multiplicative-decrease directly to
// the existing weight rather than deriving a score from scratch, matching
// AIMD's incremental nature. The result is clamped to
// [AimdWMin, AimdWMax] before normalization: the floor keeps a repeatedly
// halved link from decaying to a weight it can never recover from, and
// the ceiling bounds how far a clean link can run ahead between
// rebalances.
func (d *Dispatcher) aimdScore(i int, ls LinkStats) float64 {
	w := d.weights[i]
	if ls.EWMARtxRate > d.cfg.AimdRtxThreshold {
		w *= 0.5
	} else {
		w += 0.05
	}

	if min := d.cfg.AimdWMin; min > 0 && w < min {
		w = min
	}
	if max := d.cfg.AimdWMax; max > 0 && w > max {
		w = max
	}
	return w
}

// applyLinkShareCap redistributes any weight above MaxLinkShare
// proportionally across the remaining links.
func (d *Dispatcher) applyLinkShareCap(w []float64) {
	if d.cfg.MaxLinkShare <= 0 || d.cfg.MaxLinkShare >= 1 {
		return
	}
	for {
		excess := 0.0
		overIdx := -1
		for i, v := range w {
			if v > d.cfg.MaxLinkShare {
				excess += v - d.cfg.MaxLinkShare
				w[i] = d.cfg.MaxLinkShare
				overIdx = i
			}
		}
		if overIdx == -1 || excess == 0 {
			return
		}
		underSum := 0.0
		for i, v := range w {
			if i != overIdx && v < d.cfg.MaxLinkShare {
				underSum += v
			}
		}
		if underSum == 0 {
			return
		}
		for i, v := range w {
			if i != overIdx && v < d.cfg.MaxLinkShare {
				w[i] = v + excess*(v/underSum)
			}
		}
	}
}

// applyProbe rotates a small boost onto one link per probe period so a
// currently-starved link still gets the chance to prove itself.
func (d *Dispatcher) applyProbe(w []float64) {
	if d.cfg.ProbeRatio <= 0 || len(w) < 2 {
		return
	}
	now := time.Now()
	if now.Sub(d.lastProbe) < time.Duration(d.cfg.ProbePeriodMs)*time.Millisecond {
		return
	}
	d.lastProbe = now
	d.probeIdx = (d.probeIdx + 1) % len(w)

	boost := w[d.probeIdx] * d.cfg.ProbeBoost
	w[d.probeIdx] += boost

	// Take the boost back out of every other link proportionally.
	othersSum := 0.0
	for i, v := range w {
		if i != d.probeIdx {
			othersSum += v
		}
	}
	if othersSum == 0 {
		return
	}
	for i := range w {
		if i != d.probeIdx {
			w[i] -= boost * (w[i] / othersSum)
			if w[i] < 0 {
				w[i] = 0
			}
		}
	}
}

func normalizeInPlace(w []float64) {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum <= 0 {
		equal := 1.0 / float64(len(w))
		for i := range w {
			w[i] = equal
		}
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

func ewma(prev, sample, alpha float64) float64 {
	return alpha*sample + (1-alpha)*prev
}

// AcceptPacket selects which link index carries the next packet of size
// sizeBytes, per the configured scheduler.
func (d *Dispatcher) AcceptPacket(sizeBytes int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.cfg.Scheduler {
	case SchedulerDRR:
		return d.pickDRR(sizeBytes)
	default:
		return d.pickSWRR()
	}
}

// pickSWRR runs a smooth weighted round robin with a minimum hold
// period and a health-warmup penalty applied to recently-added links.
func (d *Dispatcher) pickSWRR() int {
	now := time.Now()
	n := len(d.weights)
	if n == 0 {
		return -1
	}

	inHold := now.Sub(d.lastSwitchTime) < time.Duration(d.cfg.MinHoldMs)*time.Millisecond

	adjusted := make([]float64, n)
	weightSum := 0.0
	for i, w := range d.weights {
		healthMs := float64(now.Sub(d.linkStats[i].healthSince).Milliseconds())
		warmup := float64(d.cfg.HealthWarmupMs)
		penalty := 0.0
		if warmup > 0 && healthMs < warmup {
			penalty = 0.5 * (1 - healthMs/warmup)
		}
		adjusted[i] = w * (1 - penalty)
		d.swrrCounters[i] += adjusted[i]
		weightSum += adjusted[i]
	}

	bestIdx := 0
	bestVal := d.swrrCounters[0]
	for i := 1; i < n; i++ {
		if d.swrrCounters[i] > bestVal {
			bestVal = d.swrrCounters[i]
			bestIdx = i
		}
	}

	chosen := bestIdx
	switch {
	case inHold:
		chosen = d.currentIdx
	case d.cfg.UseSwitchThreshold && bestIdx != d.currentIdx:
		// Switching away from the current link also requires its weight
		// advantage to clear the threshold, evaluated against the
		// post-normalization weights the packets actually route on.
		cur := d.weights[d.currentIdx]
		if cur > 0 && d.weights[bestIdx]/cur < d.cfg.SwitchThreshold {
			chosen = d.currentIdx
		}
	}

	d.swrrCounters[chosen] -= weightSum
	if chosen != d.currentIdx {
		d.currentIdx = chosen
		d.lastSwitchTime = now
	}
	return d.currentIdx
}

// pickDRR runs a classic deficit round robin: the current link serves
// packets while its deficit covers them; when it can't, the pointer
// advances and the next link earns its weight-scaled quantum. Quantum is
// credited on arrival at a link, not per packet, so byte shares track
// the weights.
func (d *Dispatcher) pickDRR(sizeBytes int) int {
	n := len(d.weights)
	if n == 0 {
		return -1
	}

	// Enough laps for the largest packet to accumulate a covering
	// deficit against the smallest nonzero quantum.
	maxAttempts := n * (2 + sizeBytes/int(d.cfg.QuantumBytes)*4)
	for attempts := 0; attempts < maxAttempts; attempts++ {
		i := d.drrPtr
		if d.drrDeficits[i] >= float64(sizeBytes) {
			d.drrDeficits[i] -= float64(sizeBytes)
			return i
		}
		d.drrPtr = (d.drrPtr + 1) % n
		d.drrDeficits[d.drrPtr] += d.drrQuantum(d.drrPtr)
	}

	// Degenerate case (packet larger than any achievable deficit): send
	// on the current pointer rather than refusing the packet.
	return d.drrPtr
}

// drrQuantum is link i's per-visit deficit credit: its weight-scaled
// share of the base quantum, floored so a low-weight link can still
// drain MinBurstPkts minimum-size frames per round instead of starving
// small packets behind the big-quantum links.
func (d *Dispatcher) drrQuantum(i int) float64 {
	n := float64(len(d.weights))
	q := float64(d.cfg.QuantumBytes) * d.weights[i] * n
	if d.weights[i] > 0 {
		if floor := float64(d.cfg.MinBurstPkts) * 64; q < floor {
			q = floor
		}
	}
	return q
}

// KeyframeDuplicate reports whether a keyframe packet may be duplicated
// for failover robustness and, if so, onto which link: the index with
// the second-highest post-normalization weight. Each grant consumes from
// the per-second duplication budget, which resets on a 1s tumbling
// window.
func (d *Dispatcher) KeyframeDuplicate() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.cfg.DuplicateKeyframes || len(d.weights) < 2 {
		return -1, false
	}

	now := time.Now()
	if now.Sub(d.dupBudgetResetTime) >= time.Second {
		d.dupBudgetUsed = 0
		d.dupBudgetResetTime = now
	}
	if d.dupBudgetUsed >= d.cfg.DupBudgetPps {
		return -1, false
	}

	best, second := 0, -1
	for i := 1; i < len(d.weights); i++ {
		if d.weights[i] > d.weights[best] {
			second = best
			best = i
		} else if second == -1 || d.weights[i] > d.weights[second] {
			second = i
		}
	}
	if second == -1 || d.weights[second] == 0 {
		return -1, false
	}

	d.dupBudgetUsed++
	return second, true
}

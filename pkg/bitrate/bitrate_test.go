package bitrate

import (
	"testing"
	"time"

	"github.com/ristlab/netbench/pkg/feedback"
)

func testConfig() Config {
	return Config{
		MinKbps:           1000,
		MaxKbps:           8000,
		StepKbps:          500,
		TargetRtxPct:      0.01,
		DeadbandPct:       0.001,
		MinRtxRttMs:       150,
		MinChangeInterval: 1200 * time.Millisecond,
	}
}

func TestDecreaseOnAggregateLoss(t *testing.T) {
	// Session 0: 2000 orig / 200 rtx (9.1% local), session 1 clean.
	// Aggregate: 200 / 4200 = 4.76%, well above the 1% target.
	agg := NewAggregator()
	agg.Update([]feedback.SessionStats{
		{SessionID: "s0"},
		{SessionID: "s1"},
	})
	rtxPct, rttMs := agg.Update([]feedback.SessionStats{
		{SessionID: "s0", OriginalPackets: 2000, RetransmittedPackets: 200, RTTMs: 120},
		{SessionID: "s1", OriginalPackets: 2000, RetransmittedPackets: 0, RTTMs: 20},
	})

	wantRtx := 200.0 / 4200.0
	if diff := rtxPct - wantRtx; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("aggregate rtx = %.4f, want %.4f", rtxPct, wantRtx)
	}

	c := New(testConfig(), 5000)
	now := time.Now()
	kbps, dir, _ := c.Tick(now, rtxPct, rttMs)
	if dir != Decreased || kbps != 4500 {
		t.Fatalf("tick -> (%v, %v), want (4500, Decreased)", kbps, dir)
	}
}

func TestDeadbandHolds(t *testing.T) {
	c := New(testConfig(), 5000)
	now := time.Now()

	// Exactly on target at low RTT: inside the deadband either way.
	for i := 0; i < 5; i++ {
		kbps, dir, _ := c.Tick(now.Add(time.Duration(i)*2*time.Second), 0.01, 30)
		if dir != Unchanged || kbps != 5000 {
			t.Fatalf("tick %d -> (%v, %v), want unchanged 5000", i, kbps, dir)
		}
	}
}

func TestBoundsClamp(t *testing.T) {
	cfg := testConfig()
	cfg.StepKbps = 4000
	c := New(cfg, 5000)
	now := time.Now()

	// Persistent strong loss: 5000 -> 1000 (exact), then pinned at min.
	kbps, _, _ := c.Tick(now, 0.20, 30)
	if kbps != 1000 {
		t.Fatalf("first decrease -> %v, want 1000", kbps)
	}
	now = now.Add(2 * time.Second)
	kbps, dir, _ := c.Tick(now, 0.20, 30)
	if kbps != 1000 || dir != Decreased {
		t.Fatalf("clamped decrease -> (%v, %v), want (1000, Decreased)", kbps, dir)
	}

	// Conditions invert: 1000 -> 5000 -> 8000, never 9000.
	now = now.Add(2 * time.Second)
	if kbps, _, _ = c.Tick(now, 0.0, 30); kbps != 5000 {
		t.Fatalf("first increase -> %v, want 5000", kbps)
	}
	now = now.Add(2 * time.Second)
	if kbps, _, _ = c.Tick(now, 0.0, 30); kbps != 8000 {
		t.Fatalf("clamped increase -> %v, want 8000", kbps)
	}
}

func TestRateLimitSkipsTick(t *testing.T) {
	c := New(testConfig(), 5000)
	now := time.Now()

	kbps, dir, _ := c.Tick(now, 0.20, 30)
	if dir != Decreased || kbps != 4500 {
		t.Fatalf("first tick -> (%v, %v)", kbps, dir)
	}

	// 750ms later: still inside the 1200ms window, no change allowed.
	kbps, dir, _ = c.Tick(now.Add(750*time.Millisecond), 0.20, 30)
	if dir != Unchanged || kbps != 4500 {
		t.Fatalf("rate-limited tick -> (%v, %v), want unchanged 4500", kbps, dir)
	}

	// Past the window the next decrease lands.
	kbps, dir, _ = c.Tick(now.Add(1500*time.Millisecond), 0.20, 30)
	if dir != Decreased || kbps != 4000 {
		t.Fatalf("post-window tick -> (%v, %v), want (4000, Decreased)", kbps, dir)
	}
}

func TestHighRTTTriggersDecrease(t *testing.T) {
	c := New(testConfig(), 5000)
	// Clean rtx but RTT above 1.25x reference.
	kbps, dir, _ := c.Tick(time.Now(), 0.0, 200)
	if dir != Decreased || kbps != 4500 {
		t.Fatalf("high-RTT tick -> (%v, %v), want (4500, Decreased)", kbps, dir)
	}
}

func TestIncreaseRequiresLowRTT(t *testing.T) {
	c := New(testConfig(), 5000)
	// Clean rtx but RTT between 0.8x and 1.25x the reference: hold.
	kbps, dir, _ := c.Tick(time.Now(), 0.0, 140)
	if dir != Unchanged || kbps != 5000 {
		t.Fatalf("mid-RTT tick -> (%v, %v), want unchanged", kbps, dir)
	}
}

func TestAggregatorNewSessionContributesZero(t *testing.T) {
	agg := NewAggregator()
	rtx, rtt := agg.Update([]feedback.SessionStats{
		{SessionID: "s0", OriginalPackets: 5000, RetransmittedPackets: 500, RTTMs: 80},
	})
	if rtx != 0 || rtt != 0 {
		t.Fatalf("first appearance contributed (%v, %v), want zeros", rtx, rtt)
	}
}

func TestAggregatorRestartSkipsInterval(t *testing.T) {
	agg := NewAggregator()
	agg.Update([]feedback.SessionStats{
		{SessionID: "s0", OriginalPackets: 5000, RetransmittedPackets: 500, RTTMs: 80},
	})

	// Counters went backwards: the interval is skipped, baseline reset.
	rtx, _ := agg.Update([]feedback.SessionStats{
		{SessionID: "s0", OriginalPackets: 100, RetransmittedPackets: 1, RTTMs: 80},
	})
	if rtx != 0 {
		t.Fatalf("restart interval contributed rtx %v, want 0", rtx)
	}

	// Next monotone delta counts normally from the new baseline.
	rtx, _ = agg.Update([]feedback.SessionStats{
		{SessionID: "s0", OriginalPackets: 1100, RetransmittedPackets: 101, RTTMs: 80},
	})
	want := 100.0 / 1100.0
	if diff := rtx - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("post-restart rtx = %v, want %v", rtx, want)
	}
}

func TestRunnerOnChangeFiresOnDecrease(t *testing.T) {
	source := feedback.NewStaticSource([]feedback.SessionStats{
		{SessionID: "s0", OriginalPackets: 1000, RetransmittedPackets: 0, RTTMs: 30},
	})
	cfg := testConfig()
	cfg.DownscaleKeyunit = true
	ctrl := New(cfg, 5000)
	r := NewRunner(ctrl, source)

	var gotDir Direction
	var gotKeyframe, fired bool
	r.OnChange = func(kbps float64, dir Direction, requestKeyframe bool) {
		fired = true
		gotDir = dir
		gotKeyframe = requestKeyframe
	}

	now := time.Now()
	r.TickOnce(now) // baseline snapshot

	source.Set([]feedback.SessionStats{
		{SessionID: "s0", OriginalPackets: 2000, RetransmittedPackets: 400, RTTMs: 30},
	})
	r.TickOnce(now.Add(2 * time.Second))

	if !fired || gotDir != Decreased {
		t.Fatalf("OnChange fired=%v dir=%v, want decrease notification", fired, gotDir)
	}
	if !gotKeyframe {
		t.Fatal("decrease with downscale_keyunit on did not request a keyframe")
	}
}

func TestKeyframeOnlyOnDecrease(t *testing.T) {
	cfg := testConfig()
	cfg.DownscaleKeyunit = true
	c := New(cfg, 5000)
	now := time.Now()

	// Decrease: keyframe requested.
	_, dir, keyframe := c.Tick(now, 0.20, 30)
	if dir != Decreased || !keyframe {
		t.Fatalf("decrease -> (%v, keyframe=%v), want keyframe request", dir, keyframe)
	}

	// Increase: no keyframe.
	now = now.Add(2 * time.Second)
	_, dir, keyframe = c.Tick(now, 0.0, 30)
	if dir != Increased || keyframe {
		t.Fatalf("increase -> (%v, keyframe=%v), want no keyframe", dir, keyframe)
	}

	// Deadband hold: no keyframe.
	now = now.Add(2 * time.Second)
	_, dir, keyframe = c.Tick(now, 0.01, 30)
	if dir != Unchanged || keyframe {
		t.Fatalf("hold -> (%v, keyframe=%v), want no keyframe", dir, keyframe)
	}
}

func TestKeyframeSuppressedWhenDisabled(t *testing.T) {
	c := New(testConfig(), 5000) // DownscaleKeyunit off
	_, dir, keyframe := c.Tick(time.Now(), 0.20, 30)
	if dir != Decreased || keyframe {
		t.Fatalf("decrease with downscale_keyunit off -> keyframe=%v, want false", keyframe)
	}
}

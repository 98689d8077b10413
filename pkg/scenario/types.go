// Package scenario defines the testbench's scenario data model:
// DirectionSpec, LinkSpec, Schedule, and TestScenario, JSON-tagged per
// the scenario file format (not YAML — unlike the ambient config file,
// scenarios are exchanged as JSON so they can be generated by tooling
// and diffed in CI).
package scenario

import (
	"encoding/json"
	"fmt"
)

// RateLimiter selects the kernel rate-limiting qdisc used as the root of
// a link direction's qdisc hierarchy.
type RateLimiter string

const (
	RateLimiterTBF  RateLimiter = "tbf"
	RateLimiterCAKE RateLimiter = "cake"
)

// OUParams parametrizes an Ornstein-Uhlenbeck throughput controller. When
// a DirectionSpec carries non-nil OU, rate_kbps is produced by the
// controller instead of being a fixed value.
type OUParams struct {
	MeanBps uint64  `json:"mean_bps"`
	TauMs   uint64  `json:"tau_ms"`
	Sigma   float64 `json:"sigma"`
	TickMs  uint64  `json:"tick_ms"`
}

// DefaultOUParams returns 1 Mbps mean, 1s reversion time, 20%
// volatility, 100ms ticks.
func DefaultOUParams() OUParams {
	return OUParams{MeanBps: 1_000_000, TauMs: 1000, Sigma: 0.2, TickMs: 100}
}

// GEParams parametrizes a Gilbert-Elliott bursty-loss controller. When a
// DirectionSpec carries non-nil GE, loss_pct is produced by the
// controller's current-state drop probability instead of being fixed.
type GEParams struct {
	PGood float64 `json:"p_good"`
	PBad  float64 `json:"p_bad"`
	P     float64 `json:"p"`
	R     float64 `json:"r"`
}

// DefaultGEParams returns a mildly bursty chain: 0.1% loss in Good,
// 10% in Bad, with rare Bad excursions.
func DefaultGEParams() GEParams {
	return GEParams{PGood: 0.001, PBad: 0.1, P: 0.01, R: 0.1}
}

// DirectionSpec is the complete, immutable set of impairment parameters
// applied to one direction of one link at an instant.
type DirectionSpec struct {
	RateKbps       float64 `json:"rate_kbps"`
	BaseDelayMs    float64 `json:"base_delay_ms"`
	JitterMs       float64 `json:"jitter_ms"`
	LossPct        float64 `json:"loss_pct"`
	LossBurstCorr  float64 `json:"loss_burst_corr"`
	ReorderPct     float64 `json:"reorder_pct"`
	DuplicatePct   float64 `json:"duplicate_pct"`
	MTU            *int    `json:"mtu,omitempty"`

	// OU and GE mark this spec as parametric: when set, the Scheduler
	// owns a controller instance and the controller's current value
	// replaces RateKbps (OU) or LossPct (GE) on every apply.
	OU *OUParams `json:"ou,omitempty"`
	GE *GEParams `json:"ge,omitempty"`
}

// Equivalent reports whether two specs are bit-equal in every field.
// Equivalence is what lets the qdisc programmer skip redundant kernel
// reprogramming.
func (d DirectionSpec) Equivalent(o DirectionSpec) bool {
	if d.RateKbps != o.RateKbps ||
		d.BaseDelayMs != o.BaseDelayMs ||
		d.JitterMs != o.JitterMs ||
		d.LossPct != o.LossPct ||
		d.LossBurstCorr != o.LossBurstCorr ||
		d.ReorderPct != o.ReorderPct ||
		d.DuplicatePct != o.DuplicatePct {
		return false
	}
	if (d.MTU == nil) != (o.MTU == nil) {
		return false
	}
	if d.MTU != nil && *d.MTU != *o.MTU {
		return false
	}
	if (d.OU == nil) != (o.OU == nil) || (d.OU != nil && *d.OU != *o.OU) {
		return false
	}
	if (d.GE == nil) != (o.GE == nil) || (d.GE != nil && *d.GE != *o.GE) {
		return false
	}
	return true
}

// LinkSpec is a named bidirectional link between two namespaces, each
// direction driven by its own Schedule.
type LinkSpec struct {
	Name        string      `json:"name"`
	ANs         string      `json:"a_ns"`
	BNs         string      `json:"b_ns"`
	RateLimiter RateLimiter `json:"rate_limiter,omitempty"`
	IfbIngress  bool        `json:"ifb_ingress,omitempty"`
	AToB        Schedule    `json:"a_to_b"`
	BToA        Schedule    `json:"b_to_a"`
}

// UnmarshalJSON decodes a link, attaching the link's name to any
// schedule error so an operator can tell which of N links carries the
// bad tag.
func (l *LinkSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name        string          `json:"name"`
		ANs         string          `json:"a_ns"`
		BNs         string          `json:"b_ns"`
		RateLimiter RateLimiter     `json:"rate_limiter"`
		IfbIngress  bool            `json:"ifb_ingress"`
		AToB        json.RawMessage `json:"a_to_b"`
		BToA        json.RawMessage `json:"b_to_a"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	l.Name = raw.Name
	l.ANs = raw.ANs
	l.BNs = raw.BNs
	l.RateLimiter = raw.RateLimiter
	l.IfbIngress = raw.IfbIngress

	if len(raw.AToB) > 0 {
		if err := json.Unmarshal(raw.AToB, &l.AToB); err != nil {
			return fmt.Errorf("link %q: a_to_b: %w", l.Name, err)
		}
	}
	if len(raw.BToA) > 0 {
		if err := json.Unmarshal(raw.BToA, &l.BToA); err != nil {
			return fmt.Errorf("link %q: b_to_a: %w", l.Name, err)
		}
	}
	return nil
}

// TestScenario is the top-level scenario file contents.
type TestScenario struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	DurationSeconds *int                   `json:"duration_seconds,omitempty"`
	Links           []LinkSpec             `json:"links"`
	Seed            *uint64                `json:"seed,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// SeedOrDefault returns the scenario's seed, or 0 if none was set.
func (s *TestScenario) SeedOrDefault() uint64 {
	if s.Seed == nil {
		return 0
	}
	return *s.Seed
}

// Package qdisc translates a scenario.DirectionSpec into a tc(8) qdisc
// hierarchy: a TBF or CAKE root for rate limiting, and a netem child
// carrying delay/jitter/loss/reorder/duplication. Every operation
// shells out to tc inside the link's namespace via "ip netns exec".
package qdisc

import (
	"bytes"
	"fmt"
	"os/exec"

	"github.com/ristlab/netbench/pkg/errtax"
	"github.com/ristlab/netbench/pkg/scenario"
)

// Programmer applies DirectionSpecs to one namespace/interface pair,
// memoizing the last-applied spec so Equivalent specs skip kernel
// reprogramming entirely.
//
// With IfbDev set, the interface's ingress traffic is redirected to that
// intermediate device and the qdisc hierarchy is built there instead, so
// the same egress discipline shapes the receive direction.
type Programmer struct {
	Netns     string
	Iface     string
	IfbDev    string
	RateLimit scenario.RateLimiter

	rootUp     bool
	redirectUp bool
	last       *scenario.DirectionSpec
}

// New creates a Programmer for the given namespace and interface. rl
// selects the root rate-limiting qdisc (defaults to TBF if empty).
func New(netns, iface string, rl scenario.RateLimiter) *Programmer {
	if rl == "" {
		rl = scenario.RateLimiterTBF
	}
	return &Programmer{Netns: netns, Iface: iface, RateLimit: rl}
}

// NewIngress creates a Programmer that shapes iface's ingress direction
// by redirecting it to ifbDev and programming the hierarchy there.
func NewIngress(netns, iface, ifbDev string, rl scenario.RateLimiter) *Programmer {
	p := New(netns, iface, rl)
	p.IfbDev = ifbDev
	return p
}

// shapeDev is the device carrying the qdisc hierarchy: the interface
// itself, or the IFB device in ingress mode.
func (p *Programmer) shapeDev() string {
	if p.IfbDev != "" {
		return p.IfbDev
	}
	return p.Iface
}

// setupIngressRedirect creates the IFB device and mirrors the
// interface's ingress onto it. Idempotent: "File exists" on the device
// is tolerated.
func (p *Programmer) setupIngressRedirect() error {
	if p.redirectUp {
		return nil
	}
	if err := p.runIPNetns("link", "add", p.IfbDev, "type", "ifb"); err != nil &&
		!bytes.Contains([]byte(err.Error()), []byte("File exists")) {
		return mapErr("ifb_create", err)
	}
	if err := p.runIPNetns("link", "set", p.IfbDev, "up"); err != nil {
		return mapErr("ifb_up", err)
	}
	_ = p.runTcRaw([]string{"qdisc", "del", "dev", p.Iface, "ingress"})
	if err := p.runTcRaw([]string{"qdisc", "add", "dev", p.Iface, "handle", "ffff:", "ingress"}); err != nil {
		return mapErr("ingress_qdisc", err)
	}
	if err := p.runTcRaw([]string{"filter", "add", "dev", p.Iface, "parent", "ffff:",
		"matchall", "action", "mirred", "egress", "redirect", "dev", p.IfbDev}); err != nil {
		return mapErr("ingress_redirect", err)
	}
	p.redirectUp = true
	return nil
}

// Apply programs the interface to match spec. If spec is bit-equal to the
// last-applied spec, Apply does nothing. Otherwise it creates the root and
// netem qdiscs on first use. On subsequent calls the root is updated in
// place (tc qdisc change) and the netem child is removed and re-added.
func (p *Programmer) Apply(spec scenario.DirectionSpec) error {
	if p.last != nil && p.last.Equivalent(spec) {
		return nil
	}

	if p.IfbDev != "" {
		if err := p.setupIngressRedirect(); err != nil {
			return err
		}
	}

	rateBps := uint64(spec.RateKbps * 1000 / 8)
	op := "add"
	if p.rootUp {
		op = "change"
	}

	var err error
	switch p.RateLimit {
	case scenario.RateLimiterCAKE:
		err = p.runTc(op, "qdisc", opArgsCake(rateBps)...)
	default:
		err = p.runTc(op, "qdisc", opArgsTBF(rateBps)...)
	}
	if err != nil {
		return mapErr("root_qdisc", err)
	}
	p.rootUp = true

	if err := p.applyNetem(spec); err != nil {
		return err
	}

	specCopy := spec
	p.last = &specCopy
	return nil
}

func (p *Programmer) applyNetem(spec scenario.DirectionSpec) error {
	args := netemArgs(spec)

	// netem has no in-place "change" analogue that's safe across
	// arbitrarily different parameter sets (e.g. loss clause appearing
	// or disappearing), so it is always removed and re-added.
	_ = p.runTcRaw([]string{"qdisc", "del", "dev", "%IFACE%", "parent", "1:1", "handle", "10:"})

	full := append([]string{"qdisc", "add", "dev", "%IFACE%", "parent", "1:1", "handle", "10:", "netem"}, args...)
	if err := p.runTcRaw(full); err != nil {
		return mapErr("netem_qdisc", err)
	}
	return nil
}

// LastApplied returns the most recently applied spec, or nil if none has
// been applied since creation or the last Remove.
func (p *Programmer) LastApplied() *scenario.DirectionSpec {
	if p.last == nil {
		return nil
	}
	spec := *p.last
	return &spec
}

// Remove tears down the qdisc hierarchy (and any ingress redirect).
// Best-effort: errors are ignored.
func (p *Programmer) Remove() {
	_ = p.runTcRaw([]string{"qdisc", "del", "dev", "%IFACE%", "parent", "1:1", "handle", "10:"})
	_ = p.runTcRaw([]string{"qdisc", "del", "dev", "%IFACE%", "root"})
	if p.IfbDev != "" {
		_ = p.runTcRaw([]string{"qdisc", "del", "dev", p.Iface, "ingress"})
		_ = p.runIPNetns("link", "del", p.IfbDev)
		p.redirectUp = false
	}
	p.rootUp = false
	p.last = nil
}

func opArgsTBF(rateBps uint64) []string {
	burst := rateBps / 10
	if burst < 1500 {
		burst = 1500
	}
	limit := burst * 3
	return []string{"dev", "%IFACE%", "root", "handle", "1:", "tbf",
		"rate", fmt.Sprintf("%dbps", rateBps),
		"burst", fmt.Sprintf("%d", burst),
		"limit", fmt.Sprintf("%d", limit),
	}
}

func opArgsCake(rateBps uint64) []string {
	return []string{"dev", "%IFACE%", "root", "handle", "1:", "cake",
		"bandwidth", fmt.Sprintf("%dbit", rateBps*8),
	}
}

func netemArgs(spec scenario.DirectionSpec) []string {
	var args []string

	if spec.BaseDelayMs > 0 {
		args = append(args, "delay", fmt.Sprintf("%.3fms", spec.BaseDelayMs))
		if spec.JitterMs > 0 {
			args = append(args, fmt.Sprintf("%.3fms", spec.JitterMs))
		}
	}
	if spec.LossPct > 0 {
		lossClause := []string{"loss", fmt.Sprintf("%.4f%%", spec.LossPct*100)}
		if spec.LossBurstCorr > 0 {
			lossClause = append(lossClause, fmt.Sprintf("%.4f%%", spec.LossBurstCorr*100))
		}
		args = append(args, lossClause...)
	}
	if spec.ReorderPct > 0 && spec.BaseDelayMs > 0 {
		args = append(args, "reorder", fmt.Sprintf("%.4f%%", spec.ReorderPct*100))
	}
	if spec.DuplicatePct > 0 {
		args = append(args, "duplicate", fmt.Sprintf("%.4f%%", spec.DuplicatePct*100))
	}
	if spec.MTU != nil {
		args = append(args, "limit", "1000")
	}

	return args
}

// runTc runs "tc <kind> <op> <args...>" with %IFACE% placeholders replaced by
// the shaping device (the interface, or the IFB device in ingress
// mode), inside the programmer's namespace.
func (p *Programmer) runTc(op string, kind string, args ...string) error {
	resolved := make([]string, 0, len(args)+2)
	resolved = append(resolved, kind, op)
	resolved = append(resolved, args...)
	return p.runTcRaw(resolved)
}

func (p *Programmer) runTcRaw(tcArgs []string) error {
	resolved := make([]string, len(tcArgs))
	for i, a := range tcArgs {
		if a == "%IFACE%" {
			a = p.shapeDev()
		}
		resolved[i] = a
	}
	full := append([]string{"netns", "exec", p.Netns, "tc"}, resolved...)
	cmd := exec.Command("ip", full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("tc %v: %s", resolved, msg)
	}
	return nil
}

// runIPNetns runs "ip <args...>" inside the programmer's namespace.
func (p *Programmer) runIPNetns(args ...string) error {
	full := append([]string{"netns", "exec", p.Netns, "ip"}, args...)
	cmd := exec.Command("ip", full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("ip %v: %s", args, msg)
	}
	return nil
}

// mapErr classifies a tc failure: missing interface and permission
// failures are fatal to the link; anything else is treated as transient
// and left to the caller's retry policy.
func mapErr(op string, err error) error {
	msg := err.Error()
	switch {
	case bytes.Contains([]byte(msg), []byte("Cannot find device")):
		return &errtax.RuntimeFatal{Link: op, Err: err}
	case bytes.Contains([]byte(msg), []byte("Operation not permitted")):
		return errtax.NewSetupError(op, err)
	default:
		return &errtax.RuntimeTransient{Op: op, Err: err}
	}
}

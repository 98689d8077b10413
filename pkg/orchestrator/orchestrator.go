// Package orchestrator composes the link fabric, the per-direction
// schedulers, and the teardown machinery into a whole scenario run. It
// owns every LinkHandle for the lifetime of a run and guarantees their
// kernel resources are released on every exit path: normal completion,
// cancellation, emergency stop, or panic.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ristlab/netbench/pkg/cleanup"
	"github.com/ristlab/netbench/pkg/config"
	"github.com/ristlab/netbench/pkg/emergency"
	"github.com/ristlab/netbench/pkg/fabric"
	"github.com/ristlab/netbench/pkg/metrics"
	"github.com/ristlab/netbench/pkg/qdisc"
	"github.com/ristlab/netbench/pkg/reporting"
	"github.com/ristlab/netbench/pkg/scenario"
	"github.com/ristlab/netbench/pkg/scenario/validator"
	"github.com/ristlab/netbench/pkg/scheduler"
	"github.com/ristlab/netbench/pkg/seedutil"
)

// RunState represents the current state of a scenario run
type RunState int

const (
	StateValidate RunState = iota
	StateProvision
	StateRun
	StateTeardown
	StateReport
	StateCompleted
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateValidate:
		return "VALIDATE"
	case StateProvision:
		return "PROVISION"
	case StateRun:
		return "RUN"
	case StateTeardown:
		return "TEARDOWN"
	case StateReport:
		return "REPORT"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// LinkHandle is the runtime entity backing one scenario link: the kernel
// resources owned through the fabric handle and the two scheduler tasks
// driving its directions.
type LinkHandle struct {
	Spec   scenario.LinkSpec
	Fabric *fabric.Handle
	TaskAB *scheduler.Task
	TaskBA *scheduler.Task
}

// Options carries the optional collaborators a run can be wired with.
type Options struct {
	Metrics  *metrics.Producer
	Progress *reporting.ProgressReporter
}

// Orchestrator coordinates a scenario run's lifecycle.
type Orchestrator struct {
	cfg      *config.Config
	logger   *reporting.Logger
	opts     Options
	fab      *fabric.Fabric
	sched    *scheduler.Scheduler
	cleaner  *cleanup.Coordinator
	emergCtl *emergency.Controller

	mu           sync.Mutex
	currentState RunState
	handles      []*LinkHandle
	lastSpecs    map[string]scenario.DirectionSpec // "link/direction" -> last applied
	failedLinks  map[string]string                 // "link/direction" -> error
	startTime    time.Time
}

// New creates an Orchestrator for one or more scenario runs.
func New(cfg *config.Config, logger *reporting.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		opts:        opts,
		fab:         fabric.New(),
		lastSpecs:   make(map[string]scenario.DirectionSpec),
		failedLinks: make(map[string]string),
	}
}

// setState transitions the run state, reporting it if a progress
// reporter is wired.
func (o *Orchestrator) setState(s RunState) {
	o.mu.Lock()
	from := o.currentState
	o.currentState = s
	o.mu.Unlock()

	o.logger.Debug("state transition", "from", from.String(), "to", s.String())
	if o.opts.Progress != nil {
		o.opts.Progress.ReportStateTransition(from.String(), s.String())
	}
}

// State returns the current run state.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentState
}

// ActiveLinks returns the handles for every currently provisioned link.
func (o *Orchestrator) ActiveLinks() []*LinkHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*LinkHandle, len(o.handles))
	copy(out, o.handles)
	return out
}

// Start validates the scenario, provisions its links, and launches the
// scheduler tasks. On any provisioning failure it rolls back every link
// already created and returns the failure. The returned handles remain
// owned by the Orchestrator; callers must not destroy them directly.
func (o *Orchestrator) Start(ctx context.Context, scen *scenario.TestScenario) ([]*LinkHandle, error) {
	o.setState(StateValidate)
	if err := validator.New().Validate(scen); err != nil {
		o.setState(StateFailed)
		return nil, err
	}

	seed := scen.SeedOrDefault()
	if seed == 0 {
		seed = o.cfg.Execution.DefaultSeed
	}

	o.setState(StateProvision)
	var handles []*LinkHandle
	var tasks []*scheduler.Task

	for _, link := range scen.Links {
		h, err := o.fab.Create(link.Name, link.ANs, link.BNs)
		if err != nil {
			o.logger.Error("link provisioning failed", "link", link.Name, "error", err)
			o.rollback(handles)
			o.setState(StateFailed)
			return nil, fmt.Errorf("provisioning link %q: %w", link.Name, err)
		}

		o.logger.Info("link provisioned",
			"link", link.Name, "ns_a", h.NsA, "ns_b", h.NsB,
			"addr_a", h.AddrA, "addr_b", h.AddrB)

		taskAB := &scheduler.Task{
			LinkName: link.Name,
			Dir:      seedutil.AtoB,
			Schedule: link.AToB,
			Prog:     qdisc.New(h.NsA, h.VethA, link.RateLimiter),
			Seed:     seedutil.Sub(seed, link.Name, seedutil.AtoB, "schedule"),
			Obs:      o,
		}
		// The return direction is normally shaped at B's egress; with
		// ifb_ingress set it is shaped at A's ingress via an IFB
		// redirect instead, keeping both directions' kernel state in
		// one namespace.
		progBA := qdisc.New(h.NsB, h.VethB, link.RateLimiter)
		if link.IfbIngress {
			progBA = qdisc.NewIngress(h.NsA, h.VethA, "ifb-"+h.LinkID, link.RateLimiter)
		}
		taskBA := &scheduler.Task{
			LinkName: link.Name,
			Dir:      seedutil.BtoA,
			Schedule: link.BToA,
			Prog:     progBA,
			Seed:     seedutil.Sub(seed, link.Name, seedutil.BtoA, "schedule"),
			Obs:      o,
		}

		handles = append(handles, &LinkHandle{Spec: link, Fabric: h, TaskAB: taskAB, TaskBA: taskBA})
		tasks = append(tasks, taskAB, taskBA)
	}

	o.sched = scheduler.New()
	if err := o.sched.Start(ctx, tasks); err != nil {
		o.rollback(handles)
		o.setState(StateFailed)
		return nil, err
	}

	o.mu.Lock()
	o.handles = handles
	o.startTime = time.Now()
	o.mu.Unlock()

	if o.opts.Metrics != nil {
		o.opts.Metrics.SetActiveLinks(len(handles))
	}

	o.setState(StateRun)
	return handles, nil
}

// Stop halts every scheduler task and tears down every link, returning
// the cleanup summary. Safe to call more than once.
func (o *Orchestrator) Stop() cleanup.Summary {
	o.setState(StateTeardown)

	if o.sched != nil {
		o.sched.Stop()
		o.sched = nil
	}

	o.mu.Lock()
	handles := o.handles
	o.handles = nil
	o.mu.Unlock()

	if len(handles) == 0 {
		return cleanup.Summary{}
	}

	o.cleaner = cleanup.New(o.fab)
	fabricHandles := make([]*fabric.Handle, len(handles))
	for i, h := range handles {
		fabricHandles[i] = h.Fabric
	}

	if o.opts.Progress != nil {
		o.opts.Progress.ReportCleanupStarted()
	}
	summary := o.cleaner.CleanupAll(fabricHandles)
	if o.opts.Progress != nil {
		o.opts.Progress.ReportCleanupCompleted(summary.Succeeded, summary.Failed)
	}

	if o.opts.Metrics != nil {
		o.opts.Metrics.SetActiveLinks(0)
	}

	o.logger.Info(summary.String())
	return summary
}

// rollback destroys handles created before a provisioning failure.
func (o *Orchestrator) rollback(handles []*LinkHandle) {
	for _, h := range handles {
		_ = o.fab.Destroy(h.Fabric)
	}
}

// Execute runs a complete scenario: start, wait for its duration (or
// cancellation, or an emergency stop), tear down, and build the run
// report. The report is returned even when the run failed partway.
func (o *Orchestrator) Execute(ctx context.Context, scen *scenario.TestScenario) (*reporting.TestReport, error) {
	testID := fmt.Sprintf("run-%s", time.Now().Format("20060102-150405"))

	report := &reporting.TestReport{
		TestID:       testID,
		ScenarioName: scen.Name,
		Seed:         scen.SeedOrDefault(),
		StartTime:    time.Now(),
		Status:       reporting.StatusRunning,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Emergency stop: stop-file or signal triggers the same teardown
	// path as normal completion.
	o.emergCtl = emergency.New(emergency.Config{
		StopFile:             o.cfg.Emergency.StopFile,
		EnableSignalHandlers: true,
	})
	o.emergCtl.OnStop(func() {
		o.logger.Warn("emergency stop triggered", "reason", o.emergCtl.Reason())
		cancel()
	})
	o.emergCtl.Start(runCtx)

	// Panic on any path still releases the kernel state.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic during run, cleaning up", "panic", fmt.Sprintf("%v", r))
			o.Stop()
			panic(r)
		}
	}()

	handles, err := o.Start(runCtx, scen)
	if err != nil {
		report.Status = reporting.StatusFailed
		report.Success = false
		report.Message = err.Error()
		report.EndTime = time.Now()
		report.Duration = report.EndTime.Sub(report.StartTime).Round(time.Millisecond).String()
		return report, err
	}

	duration := o.runDuration(scen)
	o.logger.Info("scenario running", "scenario", scen.Name, "duration", duration.String(), "links", len(handles))

	stopped := false
	select {
	case <-time.After(duration):
	case <-runCtx.Done():
		stopped = true
	}

	summary := o.Stop()

	o.setState(StateReport)
	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime).Round(time.Millisecond).String()
	report.CleanupSummary = summary
	if o.cleaner != nil {
		report.CleanupLog = o.cleaner.AuditLog()
	}

	o.mu.Lock()
	for _, h := range handles {
		report.Links = append(report.Links, reporting.LinkSummary{
			Name:              h.Spec.Name,
			ANs:               h.Spec.ANs,
			BNs:               h.Spec.BNs,
			AToBTransitions:   h.TaskAB.Transitions(),
			BToATransitions:   h.TaskBA.Transitions(),
			FinalAToBRateKbps: o.lastSpecs[specKey(h.Spec.Name, seedutil.AtoB)].RateKbps,
			FinalBToARateKbps: o.lastSpecs[specKey(h.Spec.Name, seedutil.BtoA)].RateKbps,
		})
	}
	for key, msg := range o.failedLinks {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", key, msg))
	}
	o.mu.Unlock()

	switch {
	case len(report.Errors) > 0:
		report.Status = reporting.StatusCompleted
		report.Success = false
		report.Message = fmt.Sprintf("%d link direction(s) failed during the run", len(report.Errors))
	case stopped && ctx.Err() == nil && o.emergCtl.IsStopped():
		report.Status = reporting.StatusStopped
		report.Success = false
		report.Message = "stopped before scheduled end: " + o.emergCtl.Reason()
	case stopped && ctx.Err() != nil:
		report.Status = reporting.StatusStopped
		report.Success = false
		report.Message = "cancelled before scheduled end"
	default:
		report.Status = reporting.StatusCompleted
		report.Success = true
	}

	o.setState(StateCompleted)
	return report, nil
}

// runDuration resolves the effective run duration: the scenario's own,
// else the configured default, clamped to the safety maximum.
func (o *Orchestrator) runDuration(scen *scenario.TestScenario) time.Duration {
	seconds := o.cfg.Execution.DefaultDurationSeconds
	if scen.DurationSeconds != nil {
		seconds = *scen.DurationSeconds
	}
	d := time.Duration(seconds) * time.Second
	if max := o.cfg.Safety.MaxDuration; max > 0 && d > max {
		o.logger.Warn("duration clamped to safety maximum", "requested", d.String(), "max", max.String())
		d = max
	}
	return d
}

// SpecApplied implements scheduler.Observer: it records the applied spec
// for final reporting and feeds the metrics producer.
func (o *Orchestrator) SpecApplied(link string, dir seedutil.Direction, spec scenario.DirectionSpec) {
	o.mu.Lock()
	o.lastSpecs[specKey(link, dir)] = spec
	o.mu.Unlock()

	if o.opts.Metrics != nil {
		o.opts.Metrics.SetLinkSpec(link, string(dir), spec.RateKbps, spec.LossPct, spec.BaseDelayMs)
		o.opts.Metrics.IncTransitions(link, string(dir))
	}
	if o.opts.Progress != nil {
		o.opts.Progress.ReportScheduleTransition(link, string(dir), spec.RateKbps, spec.LossPct)
	}
}

// LinkFailed implements scheduler.Observer: the link direction is marked
// down; the rest of the run continues.
func (o *Orchestrator) LinkFailed(link string, dir seedutil.Direction, err error) {
	o.logger.WithLink(link, string(dir)).Error("link direction failed", "error", err)
	o.mu.Lock()
	o.failedLinks[specKey(link, dir)] = err.Error()
	o.mu.Unlock()
}

func specKey(link string, dir seedutil.Direction) string {
	return link + "/" + string(dir)
}

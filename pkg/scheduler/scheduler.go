// Package scheduler drives each link direction's impairments over time:
// one goroutine per (link, direction) walks a scenario.Schedule forward
// in wall-clock time and programs the resulting scenario.DirectionSpec
// onto a qdisc.Programmer, advancing OU/GE controllers for parametric
// specs along the way.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ristlab/netbench/pkg/controllers/ge"
	"github.com/ristlab/netbench/pkg/controllers/ou"
	"github.com/ristlab/netbench/pkg/errtax"
	"github.com/ristlab/netbench/pkg/qdisc"
	"github.com/ristlab/netbench/pkg/scenario"
	"github.com/ristlab/netbench/pkg/scenario/parser"
	"github.com/ristlab/netbench/pkg/seedutil"
)

// TickInterval is the default cadence at which a running task re-evaluates
// its schedule and, for parametric specs, advances its OU/GE controllers.
const TickInterval = 100 * time.Millisecond

// Transient qdisc errors are retried this many times, 50ms apart, before
// the task treats the link as failed.
const (
	transientRetries = 3
	transientBackoff = 50 * time.Millisecond
)

// Observer receives task lifecycle notifications. All methods are called
// from the task's own goroutine.
type Observer interface {
	// SpecApplied fires after a DirectionSpec has been successfully
	// programmed onto the task's interface.
	SpecApplied(link string, dir seedutil.Direction, spec scenario.DirectionSpec)

	// LinkFailed fires when a task gives up on its link (fatal qdisc
	// error, or transient retries exhausted). The task exits afterwards;
	// other links are unaffected.
	LinkFailed(link string, dir seedutil.Direction, err error)
}

// Task drives one link direction's Schedule against a qdisc.Programmer for
// the lifetime of a run.
type Task struct {
	LinkName string
	Dir      seedutil.Direction
	Schedule scenario.Schedule
	Prog     *qdisc.Programmer
	Seed     uint64

	// Obs, if set, receives apply/failure notifications (metrics,
	// progress reporting).
	Obs Observer

	// TraceEvents, if set, is the pre-loaded content of a Replay
	// schedule's trace file (populated by Scheduler.Start).
	TraceEvents []parser.TraceEvent

	startedAt  time.Time
	stepIdx    int
	traceIdx   int
	markovRng  *rand.Rand
	markovIdx  int
	nextSwitch time.Time

	ouCtrl *ou.Controller
	geCtrl *ge.Controller

	transitions int
}

// Transitions reports how many specs this task has applied. Only safe to
// read after the owning Scheduler has stopped.
func (t *Task) Transitions() int { return t.transitions }

// Scheduler owns the set of running Tasks for a test run.
type Scheduler struct {
	wg    sync.WaitGroup
	stopC chan struct{}
}

// New creates an idle Scheduler.
func New() *Scheduler {
	return &Scheduler{stopC: make(chan struct{})}
}

// Start launches one goroutine per task and returns immediately. Errors
// encountered loading a Replay schedule's trace file are returned before
// any goroutine starts, so a bad scenario never partially launches.
func (s *Scheduler) Start(ctx context.Context, tasks []*Task) error {
	for _, t := range tasks {
		if t.Schedule.Kind == scenario.ScheduleReplay {
			events, err := parser.ReadTraceFile(t.Schedule.Replay.Path)
			if err != nil {
				return errtax.NewSetupError("replay_trace", err)
			}
			t.TraceEvents = events
		}
	}

	for _, t := range tasks {
		t := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTask(ctx, t)
		}()
	}
	return nil
}

// Stop signals every task goroutine to exit and waits for them to finish
// tearing down their qdisc programmers.
func (s *Scheduler) Stop() {
	close(s.stopC)
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, t *Task) {
	defer t.Prog.Remove()

	t.startedAt = time.Now()
	if err := t.applyInitial(); err != nil {
		if t.Obs != nil {
			t.Obs.LinkFailed(t.LinkName, t.Dir, err)
		}
		return
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopC:
			return
		case <-ticker.C:
			if err := t.tick(); err != nil {
				if t.Obs != nil {
					t.Obs.LinkFailed(t.LinkName, t.Dir, err)
				}
				return
			}
		}
	}
}

// apply programs spec through the task's qdisc programmer, retrying
// transient errors before giving up. Fatal errors (interface vanished,
// missing capability) are returned immediately.
func (t *Task) apply(spec scenario.DirectionSpec) error {
	resolved := t.resolve(spec)

	// An equivalent spec would be a kernel no-op; skip it so transition
	// counts and observer notifications reflect real changes only.
	if last := t.Prog.LastApplied(); last != nil && last.Equivalent(resolved) {
		return nil
	}

	var err error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		err = t.Prog.Apply(resolved)
		if err == nil {
			t.transitions++
			if t.Obs != nil {
				t.Obs.SpecApplied(t.LinkName, t.Dir, resolved)
			}
			return nil
		}

		var transient *errtax.RuntimeTransient
		if !errors.As(err, &transient) {
			return err
		}
		time.Sleep(transientBackoff)
	}

	// Retries exhausted: escalate to a fatal link failure.
	return &errtax.RuntimeFatal{Link: t.LinkName, Err: err}
}

func (t *Task) applyInitial() error {
	switch t.Schedule.Kind {
	case scenario.ScheduleConstant:
		t.setupControllers(*t.Schedule.Constant)
		return t.apply(*t.Schedule.Constant)

	case scenario.ScheduleSteps:
		if len(t.Schedule.Steps) > 0 {
			t.setupControllers(t.Schedule.Steps[0].Spec)
			return t.apply(t.Schedule.Steps[0].Spec)
		}

	case scenario.ScheduleMarkov:
		m := t.Schedule.Markov
		t.markovIdx = m.InitialState
		t.markovRng = rand.New(rand.NewSource(t.Seed))
		t.setupControllers(m.States[t.markovIdx])
		if err := t.apply(m.States[t.markovIdx]); err != nil {
			return err
		}
		t.scheduleNextMarkovSwitch()

	case scenario.ScheduleReplay:
		if len(t.TraceEvents) > 0 {
			t.setupControllers(t.TraceEvents[0].Spec)
			return t.apply(t.TraceEvents[0].Spec)
		}
	}
	return nil
}

func (t *Task) setupControllers(spec scenario.DirectionSpec) {
	if spec.OU != nil {
		seed := seedutil.Sub(t.Seed, t.LinkName, t.Dir, "ou")
		t.ouCtrl = ou.New(*spec.OU, &seed)
	}
	if spec.GE != nil {
		seed := seedutil.Sub(t.Seed, t.LinkName, t.Dir, "ge")
		t.geCtrl = ge.New(*spec.GE, &seed)
	}
}

// resolve overlays any active OU/GE controller's current value onto spec,
// producing the concrete values the Qdisc Programmer actually applies.
func (t *Task) resolve(spec scenario.DirectionSpec) scenario.DirectionSpec {
	out := spec
	if t.ouCtrl != nil {
		out.RateKbps = float64(t.ouCtrl.CurrentBps()) / 1000
	}
	if t.geCtrl != nil {
		out.LossPct = t.geCtrl.LossProbability()
	}
	return out
}

func (t *Task) tick() error {
	elapsed := time.Since(t.startedAt)

	switch t.Schedule.Kind {
	case scenario.ScheduleConstant:
		return t.tickParametric(*t.Schedule.Constant)

	case scenario.ScheduleSteps:
		return t.tickSteps(elapsed)

	case scenario.ScheduleMarkov:
		return t.tickMarkov()

	case scenario.ScheduleReplay:
		return t.tickReplay(elapsed)
	}
	return nil
}

// tickParametric re-applies a fixed spec whose OU/GE controllers have
// advanced since the last tick. A non-parametric spec is a no-op here.
func (t *Task) tickParametric(spec scenario.DirectionSpec) error {
	if t.ouCtrl != nil {
		t.ouCtrl.Tick()
	}
	if t.geCtrl != nil {
		t.geCtrl.Tick()
	}
	if t.ouCtrl != nil || t.geCtrl != nil {
		return t.apply(spec)
	}
	return nil
}

func (t *Task) tickSteps(elapsed time.Duration) error {
	steps := t.Schedule.Steps
	elapsedSec := elapsed.Seconds()

	// Coalesce any missed boundaries: advance to the last step whose
	// start time has passed.
	newIdx := t.stepIdx
	for newIdx+1 < len(steps) && steps[newIdx+1].AtSeconds <= elapsedSec {
		newIdx++
	}
	if newIdx != t.stepIdx {
		t.stepIdx = newIdx
		t.setupControllers(steps[t.stepIdx].Spec)
		return t.apply(steps[t.stepIdx].Spec)
	}

	return t.tickParametric(steps[t.stepIdx].Spec)
}

func (t *Task) tickReplay(elapsed time.Duration) error {
	events := t.TraceEvents
	if len(events) == 0 {
		return nil
	}
	elapsedMs := uint64(elapsed.Milliseconds())

	newIdx := t.traceIdx
	for newIdx+1 < len(events) && events[newIdx+1].TMs <= elapsedMs {
		newIdx++
	}
	if newIdx != t.traceIdx {
		t.traceIdx = newIdx
		t.setupControllers(events[t.traceIdx].Spec)
		return t.apply(events[t.traceIdx].Spec)
	}

	// Past the final event: hold the last spec.
	return t.tickParametric(events[t.traceIdx].Spec)
}

func (t *Task) tickMarkov() error {
	m := t.Schedule.Markov
	if err := t.tickParametric(m.States[t.markovIdx]); err != nil {
		return err
	}

	if time.Now().Before(t.nextSwitch) {
		return nil
	}

	t.markovIdx = nextMarkovState(m.TransitionMatrix[t.markovIdx], t.markovIdx, t.markovRng.Float64())
	t.setupControllers(m.States[t.markovIdx])
	if err := t.apply(m.States[t.markovIdx]); err != nil {
		return err
	}
	t.scheduleNextMarkovSwitch()
	return nil
}

// nextMarkovState scans row cumulatively against roll. A roll landing
// exactly on a cumulative boundary (a float artifact) resolves to the
// lower index.
func nextMarkovState(row []float64, current int, roll float64) int {
	cum := 0.0
	for i, p := range row {
		cum += p
		if roll <= cum && p > 0 {
			return i
		}
	}
	return current
}

func (t *Task) scheduleNextMarkovSwitch() {
	m := t.Schedule.Markov
	meanDwell := float64(m.MeanDwellMs) / 1000.0
	exp := distuv.Exponential{Rate: 1.0 / meanDwell, Src: t.markovRng}
	dwell := exp.Rand()
	if dwell <= 0 || math.IsNaN(dwell) {
		dwell = meanDwell
	}
	t.nextSwitch = time.Now().Add(time.Duration(dwell * float64(time.Second)))
}

// String implements a diagnostic label used by reporting/metrics.
func (t *Task) String() string {
	return fmt.Sprintf("%s/%s", t.LinkName, t.Dir)
}

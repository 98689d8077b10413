// Package emergency aborts a running experiment from outside the
// process. A testbench run holds real kernel state — namespaces, veth
// pairs, qdisc hierarchies — that must not outlive a wedged or runaway
// scenario, so the controller watches for two abort signals (a stop
// file an operator can touch from another shell, and SIGINT/SIGTERM)
// and fires the registered teardown callbacks exactly once.
package emergency

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultStopFile is watched when Config.StopFile is empty. Touching it
// from any shell aborts the run:
//
//	touch /tmp/netbench-emergency-stop
const DefaultStopFile = "/tmp/netbench-emergency-stop"

// Config contains emergency controller configuration.
type Config struct {
	// StopFile is the path to watch for an operator-requested abort.
	StopFile string

	// PollInterval between stop-file checks. The file is the slow path
	// (signals arrive immediately), so 1s is plenty.
	PollInterval time.Duration

	// EnableSignalHandlers also treats SIGINT/SIGTERM as an abort.
	EnableSignalHandlers bool
}

// Controller watches for abort conditions and runs teardown callbacks
// once, whichever trigger fires first.
type Controller struct {
	cfg Config

	mu        sync.RWMutex
	stopped   bool
	reason    string
	stoppedAt time.Time
	callbacks []func()

	stopCh chan struct{}
}

// New creates an idle controller. Start must be called for it to watch
// anything.
func New(cfg Config) *Controller {
	if cfg.StopFile == "" {
		cfg.StopFile = DefaultStopFile
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	return &Controller{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start launches the monitor goroutine. It exits when ctx is cancelled
// or an abort fires.
func (c *Controller) Start(ctx context.Context) {
	var sigCh chan os.Signal
	if c.cfg.EnableSignalHandlers {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	go func() {
		if sigCh != nil {
			defer signal.Stop(sigCh)
		}

		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case sig := <-sigCh:
				c.trigger(fmt.Sprintf("signal %v", sig))
				return
			case <-ticker.C:
				if _, err := os.Stat(c.cfg.StopFile); err == nil {
					c.trigger("stop file " + c.cfg.StopFile)
					return
				}
			}
		}
	}()
}

// trigger fires the abort once: later triggers (a second signal while
// teardown is already running) are ignored so callbacks never run
// twice against half-released kernel state.
func (c *Controller) trigger(reason string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.reason = reason
	c.stoppedAt = time.Now()
	callbacks := c.callbacks
	close(c.stopCh)
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Stop aborts programmatically, as if the stop file had appeared.
func (c *Controller) Stop(reason string) {
	c.trigger(reason)
}

// OnStop registers a teardown callback. Callbacks run in registration
// order on the goroutine that triggered the abort.
func (c *Controller) OnStop(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// IsStopped reports whether an abort has fired.
func (c *Controller) IsStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// Reason returns what triggered the abort, or "" if none has fired.
func (c *Controller) Reason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// StopChannel returns a channel that closes when an abort fires, for
// select loops that also watch run timers.
func (c *Controller) StopChannel() <-chan struct{} {
	return c.stopCh
}

// CreateStopFile requests an abort the same way an operator would,
// recording when and by whom for the post-mortem.
func (c *Controller) CreateStopFile() error {
	content := fmt.Sprintf("abort requested at %s (pid %d)\n", time.Now().Format(time.RFC3339), os.Getpid())
	if err := os.WriteFile(c.cfg.StopFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to create stop file: %w", err)
	}
	return nil
}

// RemoveStopFile clears the stop file so the next run doesn't abort
// immediately. Missing file is fine.
func (c *Controller) RemoveStopFile() error {
	if err := os.Remove(c.cfg.StopFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stop file: %w", err)
	}
	return nil
}

// GetStopFilePath returns the watched stop-file path.
func (c *Controller) GetStopFilePath() string {
	return c.cfg.StopFile
}

// Package cleanup tears down every link provisioned by a run and keeps
// an audit trail of what was removed, so a partially failed teardown is
// diagnosable after the fact.
package cleanup

import (
	"fmt"
	"sync"
	"time"

	"github.com/ristlab/netbench/pkg/fabric"
)

// AuditEntry records one teardown action and whether it succeeded.
type AuditEntry struct {
	Timestamp time.Time
	LinkName  string
	Success   bool
	Error     string
}

// Summary totals a cleanup run's outcomes.
type Summary struct {
	TotalActions int
	Succeeded    int
	Failed       int
}

func (s Summary) String() string {
	return fmt.Sprintf("cleanup: %d/%d links torn down", s.Succeeded, s.TotalActions)
}

// Coordinator tears down fabric.Handles, recording an audit trail.
type Coordinator struct {
	fab *fabric.Fabric

	mu    sync.Mutex
	audit []AuditEntry
}

// New creates a Coordinator that destroys links through fab.
func New(fab *fabric.Fabric) *Coordinator {
	return &Coordinator{fab: fab}
}

// CleanupAll destroys every handle, continuing past individual failures so
// one stuck link doesn't block releasing the rest. Destroy itself is
// best-effort (see fabric.Fabric.Destroy), so failures recorded here
// reflect only unexpected errors, not already-missing kernel state.
func (c *Coordinator) CleanupAll(handles []*fabric.Handle) Summary {
	var summary Summary
	for _, h := range handles {
		summary.TotalActions++
		err := c.fab.Destroy(h)
		entry := AuditEntry{Timestamp: time.Now(), LinkName: h.LinkID, Success: err == nil}
		if err != nil {
			entry.Error = err.Error()
			summary.Failed++
		} else {
			summary.Succeeded++
		}
		c.mu.Lock()
		c.audit = append(c.audit, entry)
		c.mu.Unlock()
	}
	return summary
}

// AuditLog returns a copy of every recorded teardown action.
func (c *Coordinator) AuditLog() []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AuditEntry, len(c.audit))
	copy(out, c.audit)
	return out
}

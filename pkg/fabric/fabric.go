// Package fabric turns a scenario.LinkSpec into live kernel state: two
// network namespaces, a veth pair straddling them, and a /30
// point-to-point subnet, all provisioned by shelling out to ip(8).
package fabric

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"

	"github.com/ristlab/netbench/pkg/errtax"
)

// Handle identifies the live kernel resources backing one link: two
// namespaces, a veth pair split across them, and each end's address.
type Handle struct {
	LinkID string
	NsA    string
	NsB    string
	VethA  string
	VethB  string
	AddrA  string // CIDR, e.g. "10.77.4.1/30"
	AddrB  string
}

// Fabric creates and destroys link Handles, assigning each a unique index
// that feeds both its namespace/interface names and its /30 subnet.
type Fabric struct {
	mu      sync.Mutex
	nextIdx int
}

// New creates an empty Fabric. Link indices start at 1.
func New() *Fabric {
	return &Fabric{nextIdx: 1}
}

// Create provisions the namespaces, veth pair, and addresses for one link
// and brings every interface up. On any failure it rolls back whatever it
// already created and returns an *errtax.SetupError naming the stage that
// failed.
func (f *Fabric) Create(name, aNs, bNs string) (*Handle, error) {
	f.mu.Lock()
	idx := f.nextIdx
	f.nextIdx++
	f.mu.Unlock()

	linkID := fmt.Sprintf("link_%d", idx)
	h := &Handle{
		LinkID: linkID,
		NsA:    fmt.Sprintf("%s_%s", aNs, linkID),
		NsB:    fmt.Sprintf("%s_%s", bNs, linkID),
		VethA:  fmt.Sprintf("veth-%s-a", linkID),
		VethB:  fmt.Sprintf("veth-%s-b", linkID),
	}
	h.AddrA, h.AddrB = p2pSubnet(idx)

	if err := ensureNamespace(h.NsA); err != nil {
		return nil, errtax.NewSetupError("namespace_a", err)
	}
	if err := ensureNamespace(h.NsB); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("namespace_b", err)
	}

	if err := runIP("link", "add", h.VethA, "type", "veth", "peer", "name", h.VethB); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("veth_create", err)
	}

	if err := runIP("link", "set", h.VethA, "netns", h.NsA); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("veth_move_a", err)
	}
	if err := runIP("link", "set", h.VethB, "netns", h.NsB); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("veth_move_b", err)
	}

	if err := runIPNetns(h.NsA, "addr", "add", h.AddrA, "dev", h.VethA); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("addr_a", err)
	}
	if err := runIPNetns(h.NsB, "addr", "add", h.AddrB, "dev", h.VethB); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("addr_b", err)
	}

	if err := runIPNetns(h.NsA, "link", "set", "lo", "up"); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("loopback_a", err)
	}
	if err := runIPNetns(h.NsB, "link", "set", "lo", "up"); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("loopback_b", err)
	}

	if err := runIPNetns(h.NsA, "link", "set", h.VethA, "up"); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("link_up_a", err)
	}
	if err := runIPNetns(h.NsB, "link", "set", h.VethB, "up"); err != nil {
		f.teardown(h)
		return nil, errtax.NewSetupError("link_up_b", err)
	}

	return h, nil
}

// Destroy tears down a link's kernel state. It is idempotent: pieces that
// are already gone (interface deleted, namespace never created) are
// tolerated rather than treated as errors.
func (f *Fabric) Destroy(h *Handle) error {
	f.teardown(h)
	return nil
}

func (f *Fabric) teardown(h *Handle) {
	// Deleting one veth end deletes its peer too, but the peer may already
	// have been moved into a namespace we're about to remove anyway, so
	// attempt both unconditionally and ignore errors.
	_ = runIP("link", "del", h.VethA)
	_ = runIPNetns(h.NsA, "link", "del", h.VethA)
	_ = runIPNetns(h.NsB, "link", "del", h.VethB)
	_ = runIP("netns", "del", h.NsA)
	_ = runIP("netns", "del", h.NsB)
}

// p2pSubnet derives a /30 point-to-point subnet from a link index, giving
// the two usable addresses in 10.77.<idx>.0/30 as host .1 and .2.
func p2pSubnet(idx int) (addrA, addrB string) {
	octet := idx % 256
	return fmt.Sprintf("10.77.%d.1/30", octet), fmt.Sprintf("10.77.%d.2/30", octet)
}

// ensureNamespace creates namespace ns, tolerating "already exists" so
// Create is safe to retry after a partial failure.
func ensureNamespace(ns string) error {
	err := runIP("netns", "add", ns)
	if err == nil {
		return nil
	}
	if bytes.Contains([]byte(err.Error()), []byte("File exists")) {
		return nil
	}
	return err
}

func runIP(args ...string) error {
	return run("ip", args...)
}

func runIPNetns(ns string, args ...string) error {
	full := append([]string{"netns", "exec", ns, "ip"}, args...)
	return run("ip", full...)
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s %v: %s", name, args, msg)
	}
	return nil
}

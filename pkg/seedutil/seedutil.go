// Package seedutil derives independent, reproducible sub-seeds for the
// per-link-direction stochastic controllers from a single scenario
// seed, so every OU/GE controller instance gets its own deterministic
// stream without sharing an RNG across links.
package seedutil

import (
	"fmt"
	"hash/fnv"
)

// Direction identifies one of the two directions of a bidirectional link.
type Direction string

const (
	AtoB Direction = "a_to_b"
	BtoA Direction = "b_to_a"
)

// Sub derives a sub-seed for one stream from the scenario seed, the link
// name, the direction, and a stream label ("ou" or "ge" for a controller,
// "schedule" for a scheduler task's own seed). Same inputs always produce the
// same sub-seed.
func Sub(scenarioSeed uint64, linkName string, dir Direction, controller string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%s", scenarioSeed, linkName, dir, controller)
	return h.Sum64()
}

// PortBase derives a deterministic port-range base from the scenario
// seed, for components that need non-conflicting port allocation across
// concurrent runs (e.g. the stats HTTP listener in multi-run test
// harnesses).
func PortBase(scenarioSeed uint64, base uint16) uint16 {
	offset := uint16(scenarioSeed % 1000)
	return base + offset*10
}

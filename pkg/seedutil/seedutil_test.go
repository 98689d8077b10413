package seedutil

import "testing"

func TestSubDeterministic(t *testing.T) {
	a := Sub(42, "primary", AtoB, "ou")
	b := Sub(42, "primary", AtoB, "ou")
	if a != b {
		t.Fatalf("same inputs produced different sub-seeds: %d vs %d", a, b)
	}
}

func TestSubDistinguishesDirectionAndController(t *testing.T) {
	ou := Sub(42, "primary", AtoB, "ou")
	ge := Sub(42, "primary", AtoB, "ge")
	rev := Sub(42, "primary", BtoA, "ou")

	if ou == ge {
		t.Fatalf("ou and ge sub-seeds collided")
	}
	if ou == rev {
		t.Fatalf("a_to_b and b_to_a sub-seeds collided")
	}
}

func TestPortBase(t *testing.T) {
	got := PortBase(42, 30000)
	want := uint16(30000 + (42%1000)*10)
	if got != want {
		t.Fatalf("PortBase = %d, want %d", got, want)
	}
}

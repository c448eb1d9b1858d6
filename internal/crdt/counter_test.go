package crdt

import (
	"reflect"
	"testing"
)

func TestGCounterTwoNodes(t *testing.T) {
	a := NewGCounter("A")
	b := NewGCounter("B")

	for i := 0; i < 3; i++ {
		a.Increment(1)
	}
	for i := 0; i < 2; i++ {
		b.Increment(1)
	}

	a.Merge(b)
	if a.Value() != 5 {
		t.Fatalf("expected 5 after merge, got %d", a.Value())
	}
	b.Merge(a)
	if b.Value() != 5 {
		t.Fatalf("expected 5 on the other side, got %d", b.Value())
	}
}

func TestGCounterMergeLaws(t *testing.T) {
	mk := func(aCount, bCount, cCount uint64) (*GCounter, *GCounter, *GCounter) {
		a := NewGCounter("A")
		b := NewGCounter("B")
		c := NewGCounter("C")
		a.Increment(aCount)
		b.Increment(bCount)
		c.Increment(cCount)
		return a, b, c
	}

	// Commutative: merge(A,B) == merge(B,A).
	a1, b1, _ := mk(3, 2, 0)
	a2, b2, _ := mk(3, 2, 0)
	a1.Merge(b1)
	b2.Merge(a2)
	if !reflect.DeepEqual(a1.Counts(), b2.Counts()) {
		t.Fatalf("merge not commutative: %v vs %v", a1.Counts(), b2.Counts())
	}

	// Associative: merge(A, merge(B,C)) == merge(merge(A,B), C).
	a1, b1, c1 := mk(3, 2, 7)
	a2, b2, c2 := mk(3, 2, 7)
	b1.Merge(c1)
	a1.Merge(b1)
	a2.Merge(b2)
	a2.Merge(c2)
	if !reflect.DeepEqual(a1.Counts(), a2.Counts()) {
		t.Fatalf("merge not associative: %v vs %v", a1.Counts(), a2.Counts())
	}

	// Idempotent: merge(A,A) == A.
	a1, _, _ = mk(3, 0, 0)
	before := a1.Counts()
	a1.Merge(a1)
	if !reflect.DeepEqual(before, a1.Counts()) {
		t.Fatalf("merge not idempotent: %v vs %v", before, a1.Counts())
	}
}

func TestPNCounterMergeLaws(t *testing.T) {
	mk := func() (*PNCounter, *PNCounter, *PNCounter) {
		a := NewPNCounter("A")
		b := NewPNCounter("B")
		c := NewPNCounter("C")
		a.Increment(5)
		a.Decrement(1)
		b.Increment(2)
		c.Decrement(3)
		return a, b, c
	}
	state := func(c *PNCounter) [2]map[string]uint64 {
		return [2]map[string]uint64{c.positive.Counts(), c.negative.Counts()}
	}

	// Commutative: merge(A,B) == merge(B,A).
	a1, b1, _ := mk()
	a2, b2, _ := mk()
	a1.Merge(b1)
	b2.Merge(a2)
	if !reflect.DeepEqual(state(a1), state(b2)) {
		t.Fatalf("merge not commutative: %v vs %v", state(a1), state(b2))
	}

	// Associative: merge(A, merge(B,C)) == merge(merge(A,B), C).
	a1, b1, c1 := mk()
	a2, b2, c2 := mk()
	b1.Merge(c1)
	a1.Merge(b1)
	a2.Merge(b2)
	a2.Merge(c2)
	if !reflect.DeepEqual(state(a1), state(a2)) {
		t.Fatalf("merge not associative: %v vs %v", state(a1), state(a2))
	}

	// Idempotent: merge(A,A) == A.
	a1, b1, _ = mk()
	a1.Merge(b1)
	before := state(a1)
	a1.Merge(b1)
	if !reflect.DeepEqual(before, state(a1)) {
		t.Fatalf("merge not idempotent: %v vs %v", before, state(a1))
	}
}

func TestPNCounter(t *testing.T) {
	a := NewPNCounter("A")
	b := NewPNCounter("B")

	a.Increment(10)
	a.Decrement(4)
	b.Increment(1)
	b.Decrement(2)

	a.Merge(b)
	if a.Value() != 5 {
		t.Fatalf("expected 10-4+1-2=5, got %d", a.Value())
	}

	// Idempotent under repeat merge.
	a.Merge(b)
	if a.Value() != 5 {
		t.Fatalf("repeat merge changed value: %d", a.Value())
	}
}

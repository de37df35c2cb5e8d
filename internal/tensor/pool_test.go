package tensor

import (
	"errors"
	"testing"
)

func TestPoolCheckoutAndCheckin(t *testing.T) {
	t.Parallel()

	p := NewPool()
	for _, name := range []string{"in", "out"} {
		b, err := NewBuffer(Spec{Name: name, Shape: []int64{2, 2}})
		if err != nil {
			t.Fatalf("new buffer: %v", err)
		}
		p.Put(b)
	}

	lent, err := p.Checkout("in", "out")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(lent) != 2 || !p.Lent("in") || !p.Lent("out") {
		t.Fatalf("expected both buffers lent, got %v", lent)
	}

	if _, err := p.Checkout("in"); !errors.Is(err, ErrLent) {
		t.Fatalf("expected ErrLent on double checkout, got %v", err)
	}

	p.Checkin(lent)
	if p.Lent("in") || p.Lent("out") {
		t.Fatal("expected buffers returned after checkin")
	}
	again, err := p.Checkout("in")
	if err != nil {
		t.Fatalf("checkout after checkin: %v", err)
	}
	if again["in"] != lent["in"] {
		t.Fatal("expected the same buffer to be lent again")
	}
}

func TestPoolCheckoutIsAllOrNothing(t *testing.T) {
	t.Parallel()

	p := NewPool()
	b, _ := NewBuffer(Spec{Name: "in", Shape: []int64{1}})
	p.Put(b)

	if _, err := p.Checkout("in", "missing"); !errors.Is(err, ErrUnknownBuffer) {
		t.Fatalf("expected ErrUnknownBuffer, got %v", err)
	}
	if p.Lent("in") {
		t.Fatal("failed checkout must not lend any buffer")
	}
}

func TestPoolNamesSorted(t *testing.T) {
	t.Parallel()

	p := NewPool()
	for _, name := range []string{"b", "a", "c"} {
		buf, _ := NewBuffer(Spec{Name: name, Shape: []int64{1}})
		p.Put(buf)
	}
	got := p.Names()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names: got %v want %v", got, want)
		}
	}
}

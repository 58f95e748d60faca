package queueengine

import "testing"

func TestSelectPendingOrdersByAgeThenID(t *testing.T) {
	items := []Item{
		{ID: "b", PushedAtMs: 100},
		{ID: "a", PushedAtMs: 100},
		{ID: "c", PushedAtMs: 50},
	}
	got := SelectPending(items, 2)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("unexpected selection: %+v", got)
	}
}

func TestSelectPendingBoundedByCapacity(t *testing.T) {
	items := []Item{{ID: "a", PushedAtMs: 1}, {ID: "b", PushedAtMs: 2}}
	if got := SelectPending(items, 0); got != nil {
		t.Fatalf("zero capacity should select nothing, got %+v", got)
	}
	if got := SelectPending(items, 10); len(got) != 2 {
		t.Fatalf("capacity above len(items) should return all items, got %+v", got)
	}
}

func TestShouldRetry(t *testing.T) {
	if ShouldRetry(1, 0) {
		t.Fatal("no retry budget should never retry")
	}
	if !ShouldRetry(1, 3) {
		t.Fatal("first failure under budget should retry")
	}
	if ShouldRetry(3, 3) {
		t.Fatal("failure count reaching the budget should dead-letter")
	}
}

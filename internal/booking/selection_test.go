package booking

import (
	"testing"

	tablebooksdk "tablebook/sdk/go"
)

func menusByID() map[string]tablebooksdk.MenuItem {
	return map[string]tablebooksdk.MenuItem{
		"ramen": {ID: "ramen", Name: "Ramen", Price: 850},
		"don":   {ID: "don", Name: "Don", Price: 750},
	}
}

func TestSelectionTotal(t *testing.T) {
	s := NewSelection()
	s.Increment("ramen")
	s.Increment("ramen")
	s.Increment("don")
	if got := s.Total(menusByID()); got != 2450 {
		t.Fatalf("total = %d, want 2450", got)
	}

	// Dropping the don line removes it from the total entirely.
	s.Decrement("don")
	if got := s.Total(menusByID()); got != 1700 {
		t.Fatalf("total = %d, want 1700", got)
	}
	if s.Quantity("don") != 0 {
		t.Fatalf("don still present after decrement to zero")
	}
}

func TestSelectionDecrementBelowOne(t *testing.T) {
	s := NewSelection()
	s.Decrement("ramen")
	if !s.Empty() {
		t.Fatal("decrementing an absent line should not create it")
	}
	s.Increment("ramen")
	s.Decrement("ramen")
	if !s.Empty() {
		t.Fatal("expected empty selection")
	}
}

func TestSelectionLineItems(t *testing.T) {
	s := NewSelection()
	s.Increment("ramen")
	s.Increment("don")
	s.Increment("don")
	items := s.LineItems()
	if len(items) != 2 {
		t.Fatalf("lines = %d, want 2", len(items))
	}
	byID := map[string]int64{}
	for _, it := range items {
		byID[it.MenuID] = it.Quantity
	}
	if byID["ramen"] != 1 || byID["don"] != 2 {
		t.Fatalf("quantities = %v", byID)
	}
}

func TestSelectionFingerprintOrderIndependent(t *testing.T) {
	a := NewSelection()
	a.Increment("ramen")
	a.Increment("don")
	b := NewSelection()
	b.Increment("don")
	b.Increment("ramen")
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("same contents should fingerprint equal")
	}
	b.Increment("don")
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("different quantities should fingerprint differently")
	}
	if NewSelection().Fingerprint() != "" {
		t.Fatal("empty selection should have empty fingerprint")
	}
}

func TestPhaseTransitionGuard(t *testing.T) {
	valid := [][2]Phase{
		{PhaseIdle, PhaseAwaitingIntent},
		{PhaseAwaitingIntent, PhaseAwaitingPaymentInput},
		{PhaseAwaitingIntent, PhaseIdle},
		{PhaseAwaitingPaymentInput, PhaseConfirming},
		{PhaseAwaitingPaymentInput, PhaseAwaitingIntent},
		{PhaseConfirming, PhaseSucceeded},
		{PhaseConfirming, PhaseAwaitingPaymentInput},
		{PhaseConfirming, PhaseIdle},
		{PhaseSucceeded, PhaseIdle},
	}
	for _, pair := range valid {
		if err := ensurePhaseTransition(pair[0], pair[1]); err != nil {
			t.Errorf("%s -> %s should be allowed: %v", pair[0], pair[1], err)
		}
	}
	invalid := [][2]Phase{
		{PhaseIdle, PhaseConfirming},
		{PhaseIdle, PhaseSucceeded},
		{PhaseAwaitingIntent, PhaseSucceeded},
		{PhaseSucceeded, PhaseConfirming},
	}
	for _, pair := range invalid {
		if err := ensurePhaseTransition(pair[0], pair[1]); err == nil {
			t.Errorf("%s -> %s should be refused", pair[0], pair[1])
		}
	}
}

package booking

import (
	"fmt"
	"sort"
	"strings"

	tablebooksdk "tablebook/sdk/go"
)

// Selection is the guest's pre-order: menu id to quantity. A present entry
// always has quantity of at least one; decrementing to zero removes it.
type Selection struct {
	quantities map[string]int64
}

func NewSelection() *Selection {
	return &Selection{quantities: map[string]int64{}}
}

func (s *Selection) Increment(menuID string) {
	s.quantities[menuID]++
}

func (s *Selection) Decrement(menuID string) {
	q, ok := s.quantities[menuID]
	if !ok {
		return
	}
	if q <= 1 {
		delete(s.quantities, menuID)
		return
	}
	s.quantities[menuID] = q - 1
}

func (s *Selection) Quantity(menuID string) int64 {
	return s.quantities[menuID]
}

func (s *Selection) Empty() bool {
	return len(s.quantities) == 0
}

func (s *Selection) Clear() {
	s.quantities = map[string]int64{}
}

// Total prices the selection against the menu cache in one pass over the
// selected entries.
func (s *Selection) Total(menus map[string]tablebooksdk.MenuItem) int64 {
	var total int64
	for id, qty := range s.quantities {
		if m, ok := menus[id]; ok {
			total += m.Price * qty
		}
	}
	return total
}

// LineItems flattens the selection for the wire. Order is not significant.
func (s *Selection) LineItems() []tablebooksdk.LineItem {
	items := make([]tablebooksdk.LineItem, 0, len(s.quantities))
	for id, qty := range s.quantities {
		items = append(items, tablebooksdk.LineItem{MenuID: id, Quantity: qty})
	}
	return items
}

// Fingerprint canonicalizes the selection so two selections with the same
// contents compare equal regardless of insertion order. A payment handle is
// only valid for the fingerprint it was provisioned against.
func (s *Selection) Fingerprint() string {
	if len(s.quantities) == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.quantities))
	for id, qty := range s.quantities {
		parts = append(parts, fmt.Sprintf("%s:%d", id, qty))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Package merge decides how a flushed batch becomes outbound units.
package merge

import "hookpush/internal/event"

// BuildUnits applies the merge policy to one flushed batch.
//
// A single event passes through as one unmerged unit so its full layout is
// preserved. Two or more events are grouped by source kind, one digest unit
// per kind, with arrival order kept inside each group. Kind group order
// follows first appearance in the batch.
func BuildUnits(events []event.Normalized) []event.Unit {
	if len(events) == 0 {
		return nil
	}
	if len(events) == 1 {
		e := events[0]
		return []event.Unit{{
			Kind:           e.Kind,
			DestinationKey: e.DestinationKey,
			Events:         []event.Normalized{e},
		}}
	}

	order := make([]event.SourceKind, 0, 3)
	groups := make(map[event.SourceKind][]event.Normalized, 3)
	for _, e := range events {
		if _, ok := groups[e.Kind]; !ok {
			order = append(order, e.Kind)
		}
		groups[e.Kind] = append(groups[e.Kind], e)
	}

	units := make([]event.Unit, 0, len(order))
	for _, k := range order {
		g := groups[k]
		units = append(units, event.Unit{
			Kind:           k,
			DestinationKey: g[0].DestinationKey,
			Events:         g,
		})
	}
	return units
}

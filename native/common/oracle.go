package common

import "github.com/scotthconner/smartrust-sub001/core/types"

// EventView is the read-only oracle for gating events. Engines never register
// or fire events themselves; they only ask whether one has fired.
type EventView interface {
	HasFired(event types.EventID) bool
}

// FiredAll reports whether every listed event has fired. A nil view treats all
// events as unfired so a misconfigured engine fails closed.
func FiredAll(view EventView, events []types.EventID) bool {
	if len(events) == 0 {
		return true
	}
	if view == nil {
		return false
	}
	for _, evt := range events {
		if !view.HasFired(evt) {
			return false
		}
	}
	return true
}

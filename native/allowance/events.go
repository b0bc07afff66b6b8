package allowance

import (
	"encoding/hex"
	"strconv"

	"github.com/scotthconner/smartrust-sub001/core/types"
)

const (
	EventTypeCreated            = "allowance.created"
	EventTypeAwarded            = "allowance.awarded"
	EventTypeTrancheCountChange = "allowance.tranche_count_changed"
	EventTypeRemoved            = "allowance.removed"
)

type allowanceEvent struct {
	evt *types.Event
}

func (e allowanceEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e allowanceEvent) Event() *types.Event { return e.evt }

func baseAttrs(a *Allowance) map[string]string {
	attrs := make(map[string]string)
	if a == nil {
		return attrs
	}
	attrs["id"] = hex.EncodeToString(a.ID[:])
	attrs["rootKey"] = strconv.FormatUint(uint64(a.RootKey), 10)
	attrs["recipientKey"] = strconv.FormatUint(uint64(a.RecipientKey), 10)
	attrs["name"] = a.Name
	attrs["enabled"] = strconv.FormatBool(a.Enabled)
	attrs["remainingTranches"] = strconv.FormatUint(uint64(a.RemainingTranches), 10)
	attrs["nextVestTime"] = strconv.FormatInt(a.NextVestTime, 10)
	return attrs
}

func newCreatedEvent(a *Allowance) *types.Event {
	attrs := baseAttrs(a)
	attrs["vestInterval"] = strconv.FormatInt(a.VestInterval, 10)
	attrs["entitlements"] = strconv.Itoa(len(a.Entitlements))
	attrs["requiredEvents"] = strconv.Itoa(len(a.RequiredEvents))
	return &types.Event{Type: EventTypeCreated, Attributes: attrs}
}

func newAwardedEvent(a *Allowance, awarded uint64) *types.Event {
	attrs := baseAttrs(a)
	attrs["awarded"] = strconv.FormatUint(awarded, 10)
	return &types.Event{Type: EventTypeAwarded, Attributes: attrs}
}

func newTrancheCountEvent(a *Allowance) *types.Event {
	return &types.Event{Type: EventTypeTrancheCountChange, Attributes: baseAttrs(a)}
}

func newRemovedEvent(a *Allowance) *types.Event {
	return &types.Event{Type: EventTypeRemoved, Attributes: baseAttrs(a)}
}

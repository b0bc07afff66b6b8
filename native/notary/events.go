package notary

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/scotthconner/smartrust-sub001/core/types"
)

const (
	EventTypeRoleChange   = "notary.role_change"
	EventTypePeerChange   = "notary.peer_change"
	EventTypeAllowanceSet = "notary.withdrawal_allowance_set"
)

type notaryEvent struct {
	evt *types.Event
}

func (e notaryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e notaryEvent) Event() *types.Event { return e.evt }

func newRoleChangeEvent(trust types.TrustID, role Role, actor types.Address, trusted bool, label string) *types.Event {
	attrs := map[string]string{
		"trust":   strconv.FormatUint(uint64(trust), 10),
		"role":    role.String(),
		"actor":   actor.Hex(),
		"trusted": strconv.FormatBool(trusted),
	}
	if trimmed := strings.TrimSpace(label); trimmed != "" {
		attrs["label"] = trimmed
	}
	return &types.Event{Type: EventTypeRoleChange, Attributes: attrs}
}

func newPeerChangeEvent(actor types.Address, trusted bool) *types.Event {
	return &types.Event{Type: EventTypePeerChange, Attributes: map[string]string{
		"actor":   actor.Hex(),
		"trusted": strconv.FormatBool(trusted),
	}}
}

func newAllowanceSetEvent(key types.KeyID, provider types.Address, arn types.Arn, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeAllowanceSet, Attributes: map[string]string{
		"key":      strconv.FormatUint(uint64(key), 10),
		"provider": provider.Hex(),
		"arn":      arn.Hex(),
		"amount":   amount.String(),
	}}
}

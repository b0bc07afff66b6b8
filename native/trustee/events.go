package trustee

import (
	"math/big"
	"strconv"

	"github.com/scotthconner/smartrust-sub001/core/types"
)

const (
	EventTypePolicySet     = "trustee.policy_set"
	EventTypePolicyRemoved = "trustee.policy_removed"
	EventTypeDistributed   = "trustee.distributed"
)

type trusteeEvent struct {
	evt *types.Event
}

func (e trusteeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e trusteeEvent) Event() *types.Event { return e.evt }

func policyAttrs(p *Policy) map[string]string {
	attrs := make(map[string]string)
	if p == nil {
		return attrs
	}
	attrs["rootKey"] = strconv.FormatUint(uint64(p.RootKey), 10)
	attrs["trusteeKey"] = strconv.FormatUint(uint64(p.TrusteeKey), 10)
	attrs["sourceKey"] = strconv.FormatUint(uint64(p.SourceKey), 10)
	attrs["beneficiaries"] = strconv.Itoa(len(p.Beneficiaries))
	attrs["requiredEvents"] = strconv.Itoa(len(p.RequiredEvents))
	return attrs
}

func newPolicySetEvent(p *Policy) *types.Event {
	return &types.Event{Type: EventTypePolicySet, Attributes: policyAttrs(p)}
}

func newPolicyRemovedEvent(p *Policy) *types.Event {
	return &types.Event{Type: EventTypePolicyRemoved, Attributes: policyAttrs(p)}
}

func newDistributedEvent(p *Policy, provider types.Address, arn types.Arn, beneficiaries []types.KeyID, amounts []*big.Int) *types.Event {
	attrs := policyAttrs(p)
	attrs["provider"] = provider.Hex()
	attrs["arn"] = arn.Hex()
	for i, beneficiary := range beneficiaries {
		idx := strconv.Itoa(i)
		attrs["beneficiary."+idx] = strconv.FormatUint(uint64(beneficiary), 10)
		attrs["amount."+idx] = amounts[i].String()
	}
	return &types.Event{Type: EventTypeDistributed, Attributes: attrs}
}

package ledger

import (
	"math/big"
	"strconv"

	"github.com/scotthconner/smartrust-sub001/core/types"
)

const (
	EventTypeDeposit    = "ledger.deposit"
	EventTypeWithdrawal = "ledger.withdrawal"
	EventTypeTransfer   = "ledger.transfer"
)

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

func sheetAttrs(attrs map[string]string, sheet *BalanceSheet) {
	if sheet == nil {
		return
	}
	attrs["ledgerBalance"] = sheet.Ledger.String()
	attrs["trustBalance"] = sheet.Trust.String()
	attrs["keyBalance"] = sheet.Key.String()
}

func newDepositEvent(provider types.Address, trust types.TrustID, key types.KeyID, arn types.Arn, amount *big.Int, sheet *BalanceSheet) *types.Event {
	attrs := map[string]string{
		"provider": provider.Hex(),
		"trust":    strconv.FormatUint(uint64(trust), 10),
		"key":      strconv.FormatUint(uint64(key), 10),
		"arn":      arn.Hex(),
		"amount":   amount.String(),
	}
	sheetAttrs(attrs, sheet)
	return &types.Event{Type: EventTypeDeposit, Attributes: attrs}
}

func newWithdrawalEvent(provider types.Address, trust types.TrustID, key types.KeyID, arn types.Arn, amount *big.Int, sheet *BalanceSheet) *types.Event {
	attrs := map[string]string{
		"provider": provider.Hex(),
		"trust":    strconv.FormatUint(uint64(trust), 10),
		"key":      strconv.FormatUint(uint64(key), 10),
		"arn":      arn.Hex(),
		"amount":   amount.String(),
	}
	sheetAttrs(attrs, sheet)
	return &types.Event{Type: EventTypeWithdrawal, Attributes: attrs}
}

func newTransferEvent(scribe types.Address, source types.KeyID, provider types.Address, arn types.Arn, dests []types.KeyID, amounts []*big.Int, total *big.Int) *types.Event {
	attrs := map[string]string{
		"scribe":   scribe.Hex(),
		"source":   strconv.FormatUint(uint64(source), 10),
		"provider": provider.Hex(),
		"arn":      arn.Hex(),
		"total":    total.String(),
	}
	for i, dest := range dests {
		idx := strconv.Itoa(i)
		attrs["dest."+idx] = strconv.FormatUint(uint64(dest), 10)
		attrs["amount."+idx] = amounts[i].String()
	}
	return &types.Event{Type: EventTypeTransfer, Attributes: attrs}
}

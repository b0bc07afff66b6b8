package custody

import (
	"math/big"

	"github.com/scotthconner/smartrust-sub001/core/types"
	"github.com/scotthconner/smartrust-sub001/native/ledger"
)

// AssetMover is the externally supplied callback an ExtensionVault uses to
// move the physical asset. Pull is invoked under a loan guard before any
// ledger state commits; Push runs after the ledger debit has committed and
// may call back into the engines without risk of double-spending.
type AssetMover interface {
	Pull(g *LoanGuard, arn types.Arn, amount *big.Int) error
	Push(arn types.Arn, amount *big.Int) error
}

// ExtensionVault adapts an arbitrary custody backend through an AssetMover.
// It is the extension point for asset classes the built-in vaults do not
// cover.
type ExtensionVault struct {
	vault
	mover AssetMover
}

// NewExtensionVault creates an adapter backed by the supplied mover.
func NewExtensionVault(addr types.Address, lv ledgerView, mover AssetMover) *ExtensionVault {
	return &ExtensionVault{vault: newVault(addr, lv), mover: mover}
}

// Deposit pulls the asset in through the mover, then attributes it on the
// ledger. The pull runs under a loan guard: if the mover leaves a borrowed
// capability outstanding the whole call aborts and nothing is recorded.
func (x *ExtensionVault) Deposit(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	if x.mover != nil {
		err := WithLoan(func(g *LoanGuard) error {
			return x.mover.Pull(g, arn, amount)
		})
		if err != nil {
			return nil, err
		}
	}
	return x.deposit(key, arn, amount)
}

// Withdrawal commits the ledger debit first, then pushes the asset out. Any
// reentrant call from the mover observes the already-debited balances.
func (x *ExtensionVault) Withdrawal(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	sheet, err := x.withdrawal(key, arn, amount)
	if err != nil {
		return nil, err
	}
	if x.mover != nil {
		if err := x.mover.Push(arn, amount); err != nil {
			return sheet, err
		}
	}
	return sheet, nil
}

package custody

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/scotthconner/smartrust-sub001/core/types"
	"github.com/scotthconner/smartrust-sub001/native/ledger"
)

var (
	ErrNilLedger       = errors.New("custody: ledger not configured")
	ErrArnMismatch     = errors.New("custody: arn not served by this adapter")
	ErrNotSingular     = errors.New("custody: non-fungible units move one at a time")
	ErrVaultShortfall  = errors.New("custody: vault holds less than requested")
	ErrOutstandingLoan = errors.New("custody: loaned capability not returned")
	ErrNoLoan          = errors.New("custody: no outstanding loan to return")
)

// Adapter is the capability surface a custody backend exposes: record an
// inbound asset, release an outbound one, and report what the vault holds.
// Engines hold this handle opaquely and never inspect the concrete type.
type Adapter interface {
	Deposit(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error)
	Withdrawal(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error)
	BalanceOf(arn types.Arn) *big.Int
}

var (
	_ Adapter = (*NativeVault)(nil)
	_ Adapter = (*FungibleVault)(nil)
	_ Adapter = (*NonFungibleVault)(nil)
	_ Adapter = (*ExtensionVault)(nil)
)

// ledgerView is the slice of the ledger adapters drive. Notarization happens
// inside the ledger, so an adapter only supplies its own provider identity.
type ledgerView interface {
	Deposit(provider types.Address, key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error)
	Withdrawal(provider types.Address, key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error)
}

// vault is the bookkeeping shared by the built-in adapters: the externally
// custodied holdings this adapter fronts, mirrored per arn.
type vault struct {
	addr     types.Address
	ledger   ledgerView
	holdings map[types.Arn]*big.Int
}

func newVault(addr types.Address, lv ledgerView) vault {
	return vault{addr: addr, ledger: lv, holdings: make(map[types.Arn]*big.Int)}
}

// Addr returns the provider identity the adapter presents to the notary.
func (v *vault) Addr() types.Address { return v.addr }

func (v *vault) BalanceOf(arn types.Arn) *big.Int {
	if held, ok := v.holdings[arn]; ok {
		return new(big.Int).Set(held)
	}
	return big.NewInt(0)
}

func (v *vault) credit(arn types.Arn, amount *big.Int) {
	v.holdings[arn] = new(big.Int).Add(v.BalanceOf(arn), amount)
}

func (v *vault) debit(arn types.Arn, amount *big.Int) error {
	held := v.BalanceOf(arn)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: held %s, requested %s", ErrVaultShortfall, held, amount)
	}
	v.holdings[arn] = new(big.Int).Sub(held, amount)
	return nil
}

// deposit records custody first, then attributes the balance on the ledger.
// A ledger rejection unwinds the custody record so the call has no effect.
func (v *vault) deposit(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	if v.ledger == nil {
		return nil, ErrNilLedger
	}
	v.credit(arn, amount)
	sheet, err := v.ledger.Deposit(v.addr, key, arn, amount)
	if err != nil {
		if derr := v.debit(arn, amount); derr != nil {
			return nil, derr
		}
		return nil, err
	}
	return sheet, nil
}

// withdrawal commits the ledger debit before the custodied asset is released,
// so a reentrant caller cannot spend the same attribution twice.
func (v *vault) withdrawal(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	if v.ledger == nil {
		return nil, ErrNilLedger
	}
	if held := v.BalanceOf(arn); held.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: held %s, requested %s", ErrVaultShortfall, held, amount)
	}
	sheet, err := v.ledger.Withdrawal(v.addr, key, arn, amount)
	if err != nil {
		return nil, err
	}
	if err := v.debit(arn, amount); err != nil {
		return nil, err
	}
	return sheet, nil
}

// NativeVault custodies the chain's native coin: a single arn fixed at
// construction.
type NativeVault struct {
	vault
	arn types.Arn
}

// NewNativeVault creates a native-coin adapter serving exactly one arn.
func NewNativeVault(addr types.Address, lv ledgerView, arn types.Arn) *NativeVault {
	return &NativeVault{vault: newVault(addr, lv), arn: arn}
}

func (n *NativeVault) Deposit(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	if arn != n.arn {
		return nil, ErrArnMismatch
	}
	return n.deposit(key, arn, amount)
}

func (n *NativeVault) Withdrawal(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	if arn != n.arn {
		return nil, ErrArnMismatch
	}
	return n.withdrawal(key, arn, amount)
}

// FungibleVault custodies any number of fungible token classes, one arn per
// class.
type FungibleVault struct {
	vault
}

// NewFungibleVault creates a fungible-token adapter.
func NewFungibleVault(addr types.Address, lv ledgerView) *FungibleVault {
	return &FungibleVault{vault: newVault(addr, lv)}
}

func (f *FungibleVault) Deposit(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	return f.deposit(key, arn, amount)
}

func (f *FungibleVault) Withdrawal(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	return f.withdrawal(key, arn, amount)
}

// NonFungibleVault custodies unique units: each arn identifies one unit and
// moves with amount exactly one.
type NonFungibleVault struct {
	vault
}

// NewNonFungibleVault creates a non-fungible-unit adapter.
func NewNonFungibleVault(addr types.Address, lv ledgerView) *NonFungibleVault {
	return &NonFungibleVault{vault: newVault(addr, lv)}
}

func (n *NonFungibleVault) Deposit(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	if amount == nil || amount.Cmp(big.NewInt(1)) != 0 {
		return nil, ErrNotSingular
	}
	return n.deposit(key, arn, amount)
}

func (n *NonFungibleVault) Withdrawal(key types.KeyID, arn types.Arn, amount *big.Int) (*ledger.BalanceSheet, error) {
	if amount == nil || amount.Cmp(big.NewInt(1)) != 0 {
		return nil, ErrNotSingular
	}
	return n.withdrawal(key, arn, amount)
}

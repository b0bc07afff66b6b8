package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/scotthconner/smartrust-sub001/core/types"
)

// mockNotary approves everything and records the trust bindings handed to it,
// so ledger arithmetic can be exercised without the full authorization stack.
type mockNotary struct {
	trusts    map[types.KeyID]types.TrustID
	denyAll   bool
	denyErr   error
	notarized int
}

func newMockNotary() *mockNotary {
	return &mockNotary{trusts: make(map[types.KeyID]types.TrustID)}
}

func (m *mockNotary) trustFor(key types.KeyID) (types.TrustID, error) {
	if m.denyAll {
		return 0, m.denyErr
	}
	m.notarized++
	return m.trusts[key], nil
}

func (m *mockNotary) NotarizeDeposit(_ types.Address, key types.KeyID, _ *big.Int) (types.TrustID, error) {
	return m.trustFor(key)
}

func (m *mockNotary) NotarizeWithdrawal(_ types.Address, key types.KeyID, _ types.Arn, _ *big.Int) (types.TrustID, error) {
	return m.trustFor(key)
}

func (m *mockNotary) NotarizeTransfer(_ types.Address, source types.KeyID, _ []types.KeyID) (types.TrustID, error) {
	return m.trustFor(source)
}

func newTestAddress(fill byte) types.Address {
	var addr types.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	provider = newTestAddress(0xAA)
	scribe   = newTestAddress(0xBB)
	goldArn  = types.DeriveArn([]byte("gold"))
	coinArn  = types.DeriveArn([]byte("coin"))
)

const (
	trustID = types.TrustID(1)
	keyA    = types.KeyID(10)
	keyB    = types.KeyID(11)
	keyC    = types.KeyID(12)
)

func newTestLedger(t *testing.T) (*Ledger, *mockNotary) {
	t.Helper()
	notary := newMockNotary()
	notary.trusts[keyA] = trustID
	notary.trusts[keyB] = trustID
	notary.trusts[keyC] = trustID
	return New(notary), notary
}

// checkInvariant asserts that the sum of key balances equals the trust balance
// equals the ledger balance for the (provider, arn) tuple.
func checkInvariant(t *testing.T, l *Ledger, arn types.Arn, keys ...types.KeyID) {
	t.Helper()
	sum := big.NewInt(0)
	for _, key := range keys {
		sum = new(big.Int).Add(sum, l.KeyBalance(key, provider, arn))
	}
	trustBals, err := l.GetContextBalances(TrustContext, uint64(trustID), provider, []types.Arn{arn})
	if err != nil {
		t.Fatalf("trust context query failed: %v", err)
	}
	ledgerBals, err := l.GetContextBalances(LedgerContext, 0, provider, []types.Arn{arn})
	if err != nil {
		t.Fatalf("ledger context query failed: %v", err)
	}
	if sum.Cmp(trustBals[0]) != 0 {
		t.Fatalf("key sum %s != trust balance %s", sum, trustBals[0])
	}
	if trustBals[0].Cmp(ledgerBals[0]) != 0 {
		t.Fatalf("trust balance %s != ledger balance %s", trustBals[0], ledgerBals[0])
	}
}

func TestDepositAllContextsMove(t *testing.T) {
	l, _ := newTestLedger(t)
	sheet, err := l.Deposit(provider, keyA, goldArn, big.NewInt(40))
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	for _, bal := range []*big.Int{sheet.Ledger, sheet.Trust, sheet.Key} {
		if bal.Cmp(big.NewInt(40)) != 0 {
			t.Fatalf("expected 40 at every level, got %v", sheet)
		}
	}
	checkInvariant(t, l, goldArn, keyA, keyB, keyC)
}

func TestDepositAdditivity(t *testing.T) {
	first, _ := newTestLedger(t)
	if _, err := first.Deposit(provider, keyA, goldArn, big.NewInt(30)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := first.Deposit(provider, keyA, goldArn, big.NewInt(12)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	second, _ := newTestLedger(t)
	if _, err := second.Deposit(provider, keyA, goldArn, big.NewInt(42)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if first.KeyBalance(keyA, provider, goldArn).Cmp(second.KeyBalance(keyA, provider, goldArn)) != 0 {
		t.Fatal("A then B must equal A+B in one call")
	}
}

func TestDepositRejectsZeroAndNil(t *testing.T) {
	l, notary := newTestLedger(t)
	if _, err := l.Deposit(provider, keyA, goldArn, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := l.Deposit(provider, keyA, goldArn, nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for nil, got %v", err)
	}
	if _, err := l.Deposit(provider, keyA, goldArn, big.NewInt(-3)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for negative, got %v", err)
	}
	if notary.notarized != 0 {
		t.Fatal("invalid amounts must fail before notarization")
	}
}

func TestWithdrawalOverdraftLeavesStateUnchanged(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Deposit(provider, keyA, goldArn, big.NewInt(25)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := l.Withdrawal(provider, keyA, goldArn, big.NewInt(26)); !errors.Is(err, ErrOverdraft) {
		t.Fatalf("expected ErrOverdraft, got %v", err)
	}
	if got := l.KeyBalance(keyA, provider, goldArn); got.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("failed withdrawal must leave balance unchanged, got %s", got)
	}
	checkInvariant(t, l, goldArn, keyA, keyB, keyC)

	sheet, err := l.Withdrawal(provider, keyA, goldArn, big.NewInt(25))
	if err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}
	if sheet.Key.Sign() != 0 || sheet.Trust.Sign() != 0 || sheet.Ledger.Sign() != 0 {
		t.Fatalf("expected zero balances after full withdrawal, got %v", sheet)
	}
	checkInvariant(t, l, goldArn, keyA, keyB, keyC)
}

func TestWithdrawalDeniedByNotary(t *testing.T) {
	l, notary := newTestLedger(t)
	if _, err := l.Deposit(provider, keyA, goldArn, big.NewInt(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	notary.denyAll = true
	notary.denyErr = errors.New("allowance exceeded")
	if _, err := l.Withdrawal(provider, keyA, goldArn, big.NewInt(5)); err == nil {
		t.Fatal("expected notary denial to abort withdrawal")
	}
	if got := l.KeyBalance(keyA, provider, goldArn); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("denied withdrawal must leave balance unchanged, got %s", got)
	}
}

func TestTransferReattributesWithinTrust(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Deposit(provider, keyA, goldArn, big.NewInt(100)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	err := l.Transfer(scribe, keyA, provider, goldArn,
		[]types.KeyID{keyB, keyC}, []*big.Int{big.NewInt(30), big.NewInt(20)})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := l.KeyBalance(keyA, provider, goldArn); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("source should hold 50, got %s", got)
	}
	if got := l.KeyBalance(keyB, provider, goldArn); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("keyB should hold 30, got %s", got)
	}
	if got := l.KeyBalance(keyC, provider, goldArn); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("keyC should hold 20, got %s", got)
	}
	// Custody never moves: trust and ledger contexts are untouched.
	ledgerBals, _ := l.GetContextBalances(LedgerContext, 0, provider, []types.Arn{goldArn})
	if ledgerBals[0].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("ledger context must be unchanged by transfer, got %s", ledgerBals[0])
	}
	checkInvariant(t, l, goldArn, keyA, keyB, keyC)
}

func TestTransferValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Deposit(provider, keyA, goldArn, big.NewInt(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	err := l.Transfer(scribe, keyA, provider, goldArn, []types.KeyID{keyB}, []*big.Int{big.NewInt(1), big.NewInt(2)})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	err = l.Transfer(scribe, keyA, provider, goldArn, nil, nil)
	if !errors.Is(err, ErrNoDestinations) {
		t.Fatalf("expected ErrNoDestinations, got %v", err)
	}
	err = l.Transfer(scribe, keyA, provider, goldArn, []types.KeyID{keyB}, []*big.Int{big.NewInt(0)})
	if !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestSequentialTransfersSecondOverdrafts(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Deposit(provider, keyA, goldArn, big.NewInt(60)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := l.Transfer(scribe, keyA, provider, goldArn, []types.KeyID{keyB}, []*big.Int{big.NewInt(40)}); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}
	err := l.Transfer(scribe, keyA, provider, goldArn, []types.KeyID{keyB}, []*big.Int{big.NewInt(40)})
	if !errors.Is(err, ErrOverdraft) {
		t.Fatalf("expected ErrOverdraft on second transfer, got %v", err)
	}
	// First transfer's effects persist.
	if got := l.KeyBalance(keyB, provider, goldArn); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("keyB should keep 40 from the first transfer, got %s", got)
	}
	if got := l.KeyBalance(keyA, provider, goldArn); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("keyA should keep 20, got %s", got)
	}
	checkInvariant(t, l, goldArn, keyA, keyB, keyC)
}

func TestGetContextBalancesUnknownIdsYieldZeros(t *testing.T) {
	l, _ := newTestLedger(t)
	bals, err := l.GetContextBalances(KeyContext, 9999, provider, []types.Arn{goldArn, coinArn})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(bals) != 2 || bals[0].Sign() != 0 || bals[1].Sign() != 0 {
		t.Fatalf("expected zero vector for unknown key, got %v", bals)
	}
	if _, err := l.GetContextBalances(Context(9), 0, provider, nil); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext, got %v", err)
	}
}

func TestMultiAssetIsolation(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Deposit(provider, keyA, goldArn, big.NewInt(5)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := l.Deposit(provider, keyA, coinArn, big.NewInt(9)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if got := l.KeyBalance(keyA, provider, goldArn); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("gold balance polluted: %s", got)
	}
	if got := l.KeyBalance(keyA, provider, coinArn); got.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("coin balance polluted: %s", got)
	}
	otherProvider := newTestAddress(0xCC)
	if got := l.KeyBalance(keyA, otherProvider, goldArn); got.Sign() != 0 {
		t.Fatalf("provider dimension polluted: %s", got)
	}
}

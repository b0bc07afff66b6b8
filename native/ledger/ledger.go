package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/scotthconner/smartrust-sub001/core/events"
	"github.com/scotthconner/smartrust-sub001/core/types"
	nativecommon "github.com/scotthconner/smartrust-sub001/native/common"
	"github.com/scotthconner/smartrust-sub001/observability"
)

const moduleName = "ledger"

var (
	ErrNilNotary      = errors.New("ledger: notary not configured")
	ErrZeroAmount     = errors.New("ledger: amount must be positive")
	ErrOverdraft      = errors.New("ledger: insufficient balance")
	ErrLengthMismatch = errors.New("ledger: destination and amount lengths differ")
	ErrNoDestinations = errors.New("ledger: transfer requires at least one destination")
	ErrInvalidContext = errors.New("ledger: invalid balance context")
)

// Context selects one of the three balance aggregation levels.
type Context uint8

const (
	LedgerContext Context = iota
	TrustContext
	KeyContext
)

// Valid reports whether the context value is within the supported range.
func (c Context) Valid() bool {
	switch c {
	case LedgerContext, TrustContext, KeyContext:
		return true
	default:
		return false
	}
}

// BalanceSheet carries the resulting balances at every aggregation level after
// a deposit or withdrawal, sufficient for audit reconstruction without replay.
type BalanceSheet struct {
	Ledger *big.Int
	Trust  *big.Int
	Key    *big.Int
}

// notaryView is the authorization surface the ledger needs. Every mutating
// entry point is notarized before any balance moves.
type notaryView interface {
	NotarizeDeposit(provider types.Address, key types.KeyID, amount *big.Int) (types.TrustID, error)
	NotarizeWithdrawal(provider types.Address, key types.KeyID, arn types.Arn, amount *big.Int) (types.TrustID, error)
	NotarizeTransfer(scribe types.Address, source types.KeyID, dests []types.KeyID) (types.TrustID, error)
}

type balKey struct {
	provider types.Address
	arn      types.Arn
}

// Ledger is the three-context balance store. It exclusively owns all balances;
// custody adapters and scheme engines mutate them only through Deposit,
// Withdrawal and Transfer. For every (provider, arn) the sum of key balances
// in a trust equals the trust balance, and the sum of trust balances equals
// the ledger balance.
type Ledger struct {
	notary  notaryView
	ledger  map[balKey]*big.Int
	trusts  map[types.TrustID]map[balKey]*big.Int
	keys    map[types.KeyID]map[balKey]*big.Int
	emitter events.Emitter
	pauses  nativecommon.PauseView
	logger  *slog.Logger
}

// New creates a ledger authorized through the supplied notary.
func New(notary notaryView) *Ledger {
	return &Ledger{
		notary:  notary,
		ledger:  make(map[balKey]*big.Int),
		trusts:  make(map[types.TrustID]map[balKey]*big.Int),
		keys:    make(map[types.KeyID]map[balKey]*big.Int),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetEmitter configures the event emitter used for audit records. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPauses configures the optional pause view consulted by mutating calls.
func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetLogger overrides the structured logger. Passing nil restores the default.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger == nil {
		l.logger = slog.Default()
		return
	}
	l.logger = logger
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(ledgerEvent{evt: evt})
}

func balanceIn(m map[balKey]*big.Int, bk balKey) *big.Int {
	if amt, ok := m[bk]; ok {
		return amt
	}
	return big.NewInt(0)
}

func (l *Ledger) trustMap(trust types.TrustID) map[balKey]*big.Int {
	m, ok := l.trusts[trust]
	if !ok {
		m = make(map[balKey]*big.Int)
		l.trusts[trust] = m
	}
	return m
}

func (l *Ledger) keyMap(key types.KeyID) map[balKey]*big.Int {
	m, ok := l.keys[key]
	if !ok {
		m = make(map[balKey]*big.Int)
		l.keys[key] = m
	}
	return m
}

// Deposit credits the key with custodied funds after the provider passes the
// peer gate and the collateral-provider check. All three contexts move
// together; the resulting balances are returned and recorded in the audit
// event.
func (l *Ledger) Deposit(provider types.Address, key types.KeyID, arn types.Arn, amount *big.Int) (*BalanceSheet, error) {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "deposit", &err)
	if err = nativecommon.Guard(l.pauses, moduleName); err != nil {
		return nil, err
	}
	if l.notary == nil {
		err = ErrNilNotary
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		err = ErrZeroAmount
		return nil, err
	}
	trust, nerr := l.notary.NotarizeDeposit(provider, key, amount)
	if nerr != nil {
		err = nerr
		return nil, err
	}
	bk := balKey{provider: provider, arn: arn}
	l.ledger[bk] = new(big.Int).Add(balanceIn(l.ledger, bk), amount)
	tm := l.trustMap(trust)
	tm[bk] = new(big.Int).Add(balanceIn(tm, bk), amount)
	km := l.keyMap(key)
	km[bk] = new(big.Int).Add(balanceIn(km, bk), amount)
	sheet := &BalanceSheet{
		Ledger: new(big.Int).Set(l.ledger[bk]),
		Trust:  new(big.Int).Set(tm[bk]),
		Key:    new(big.Int).Set(km[bk]),
	}
	l.emit(newDepositEvent(provider, trust, key, arn, amount, sheet))
	l.logger.Info("deposit recorded",
		"provider", provider.Hex(), "key", uint64(key), "arn", arn.Hex(), "amount", amount.String())
	return sheet, nil
}

// Withdrawal debits the key after the same gating as Deposit plus the
// notary's withdrawal-allowance consumption. The key context must cover the
// amount or the whole call aborts with ErrOverdraft and no allowance is
// consumed.
func (l *Ledger) Withdrawal(provider types.Address, key types.KeyID, arn types.Arn, amount *big.Int) (*BalanceSheet, error) {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "withdrawal", &err)
	if err = nativecommon.Guard(l.pauses, moduleName); err != nil {
		return nil, err
	}
	if l.notary == nil {
		err = ErrNilNotary
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		err = ErrZeroAmount
		return nil, err
	}
	bk := balKey{provider: provider, arn: arn}
	if balanceIn(l.keyMap(key), bk).Cmp(amount) < 0 {
		err = fmt.Errorf("%w: key %d arn %s", ErrOverdraft, key, arn.Hex())
		return nil, err
	}
	trust, nerr := l.notary.NotarizeWithdrawal(provider, key, arn, amount)
	if nerr != nil {
		err = nerr
		return nil, err
	}
	tm := l.trustMap(trust)
	km := l.keyMap(key)
	l.ledger[bk] = new(big.Int).Sub(balanceIn(l.ledger, bk), amount)
	tm[bk] = new(big.Int).Sub(balanceIn(tm, bk), amount)
	km[bk] = new(big.Int).Sub(balanceIn(km, bk), amount)
	sheet := &BalanceSheet{
		Ledger: new(big.Int).Set(l.ledger[bk]),
		Trust:  new(big.Int).Set(tm[bk]),
		Key:    new(big.Int).Set(km[bk]),
	}
	l.emit(newWithdrawalEvent(provider, trust, key, arn, amount, sheet))
	l.logger.Info("withdrawal recorded",
		"provider", provider.Hex(), "key", uint64(key), "arn", arn.Hex(), "amount", amount.String())
	return sheet, nil
}

// Transfer reattributes balance from the source key to the destination keys
// under scribe authority. Custody never moves: provider and arn stay fixed and
// the trust and ledger contexts are unchanged. The debit and all credits
// commit atomically; if the source cannot cover the sum nothing changes.
func (l *Ledger) Transfer(scribe types.Address, source types.KeyID, provider types.Address, arn types.Arn, dests []types.KeyID, amounts []*big.Int) error {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "transfer", &err)
	if err = nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if l.notary == nil {
		err = ErrNilNotary
		return err
	}
	if len(dests) == 0 {
		err = ErrNoDestinations
		return err
	}
	if len(dests) != len(amounts) {
		err = ErrLengthMismatch
		return err
	}
	total := big.NewInt(0)
	for _, amt := range amounts {
		if amt == nil || amt.Sign() <= 0 {
			err = ErrZeroAmount
			return err
		}
		total = new(big.Int).Add(total, amt)
	}
	if _, nerr := l.notary.NotarizeTransfer(scribe, source, dests); nerr != nil {
		err = nerr
		return err
	}
	bk := balKey{provider: provider, arn: arn}
	sm := l.keyMap(source)
	if balanceIn(sm, bk).Cmp(total) < 0 {
		err = fmt.Errorf("%w: key %d arn %s", ErrOverdraft, source, arn.Hex())
		return err
	}
	sm[bk] = new(big.Int).Sub(balanceIn(sm, bk), total)
	for i, dest := range dests {
		dm := l.keyMap(dest)
		dm[bk] = new(big.Int).Add(balanceIn(dm, bk), amounts[i])
	}
	l.emit(newTransferEvent(scribe, source, provider, arn, dests, amounts, total))
	l.logger.Info("transfer recorded",
		"scribe", scribe.Hex(), "source", uint64(source), "arn", arn.Hex(), "total", total.String())
	return nil
}

// KeyBalance returns the key-context balance for the (provider, arn) tuple.
// Unknown keys report zero. The returned value is a copy.
func (l *Ledger) KeyBalance(key types.KeyID, provider types.Address, arn types.Arn) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	if m, ok := l.keys[key]; ok {
		return new(big.Int).Set(balanceIn(m, balKey{provider: provider, arn: arn}))
	}
	return big.NewInt(0)
}

// GetContextBalances returns the balances for each requested arn at the given
// aggregation level. It is pure: unknown ids yield zero vectors rather than
// errors. The id is ignored for the ledger context.
func (l *Ledger) GetContextBalances(ctx Context, id uint64, provider types.Address, arns []types.Arn) ([]*big.Int, error) {
	if !ctx.Valid() {
		return nil, ErrInvalidContext
	}
	out := make([]*big.Int, len(arns))
	var m map[balKey]*big.Int
	switch ctx {
	case LedgerContext:
		m = l.ledger
	case TrustContext:
		m = l.trusts[types.TrustID(id)]
	case KeyContext:
		m = l.keys[types.KeyID(id)]
	}
	for i, arn := range arns {
		if m == nil {
			out[i] = big.NewInt(0)
			continue
		}
		out[i] = new(big.Int).Set(balanceIn(m, balKey{provider: provider, arn: arn}))
	}
	return out, nil
}

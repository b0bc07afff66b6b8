package allowance

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/scotthconner/smartrust-sub001/core/events"
	"github.com/scotthconner/smartrust-sub001/core/types"
	nativecommon "github.com/scotthconner/smartrust-sub001/native/common"
	"github.com/scotthconner/smartrust-sub001/observability"
)

const moduleName = "allowance"

var (
	ErrNilLedger       = errors.New("allowance: ledger not configured")
	ErrNilNotary       = errors.New("allowance: notary not configured")
	ErrNotFound        = errors.New("allowance: not found")
	ErrExists          = errors.New("allowance: identifier already exists")
	ErrDisabled        = errors.New("allowance: disabled")
	ErrTooEarly        = errors.New("allowance: next vest time not reached")
	ErrExhausted       = errors.New("allowance: no tranches remaining")
	ErrMissingEvent    = errors.New("allowance: required event has not fired")
	ErrUnaffordable    = errors.New("allowance: sources cannot afford a full tranche")
	ErrInvalidTranches = errors.New("allowance: tranche count must be positive")
	ErrInvalidInterval = errors.New("allowance: vesting interval must be positive")
	ErrNoEntitlements  = errors.New("allowance: at least one entitlement required")
	ErrZeroAmount      = errors.New("allowance: entitlement amount must be positive")
)

// ledgerView is the balance surface the engine needs: affordability reads and
// scribe-authorized reattribution.
type ledgerView interface {
	KeyBalance(key types.KeyID, provider types.Address, arn types.Arn) *big.Int
	Transfer(scribe types.Address, source types.KeyID, provider types.Address, arn types.Arn, dests []types.KeyID, amounts []*big.Int) error
}

// notaryView is the authorization surface shared with the trustee engine. The
// transfer notarization doubles as the pre-settlement dry-run: it has no side
// effects, so the engine calls it before committing any record state.
type notaryView interface {
	RequireRootHolder(caller types.Address, rootKey types.KeyID) (types.TrustID, error)
	VerifyHoldsKey(actor types.Address, key types.KeyID) error
	VerifyInRing(trust types.TrustID, key types.KeyID) error
	TrustOf(key types.KeyID) (types.TrustID, bool)
	NotarizeTransfer(scribe types.Address, source types.KeyID, dests []types.KeyID) (types.TrustID, error)
}

// Engine schedules tranche-vesting distributions. It moves balances through
// the ledger under its own scribe identity; a trust's root key holder must
// grant that identity the scribe role before redemptions can settle.
type Engine struct {
	addr        types.Address
	ledger      ledgerView
	notary      notaryView
	oracle      nativecommon.EventView
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	logger      *slog.Logger
	nowFn       func() int64
	allowances  map[[32]byte]*Allowance
	byRecipient map[types.KeyID][][32]byte
}

// NewEngine creates an allowance engine. addr is the identity under which the
// engine acts as scribe when settling redemptions.
func NewEngine(addr types.Address, ledger ledgerView, notary notaryView, oracle nativecommon.EventView) *Engine {
	return &Engine{
		addr:        addr,
		ledger:      ledger,
		notary:      notary,
		oracle:      oracle,
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
		nowFn:       func() int64 { return time.Now().Unix() },
		allowances:  make(map[[32]byte]*Allowance),
		byRecipient: make(map[types.KeyID][][32]byte),
	}
}

// SetEmitter configures the event emitter used for audit records. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the optional pause view consulted by mutating calls.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetLogger overrides the structured logger. Passing nil restores the default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		e.logger = slog.Default()
		return
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(allowanceEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// CreateAllowance registers a tranche-vesting distribution to the recipient
// key. The caller must hold rootKey, rootKey must be root, and the recipient
// and every entitlement source must sit in the same trust ring.
func (e *Engine) CreateAllowance(caller types.Address, rootKey types.KeyID, name string, recipient types.KeyID, tranches uint32, interval int64, firstVest int64, entitlements []Entitlement, required []types.EventID) ([32]byte, error) {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "create", &err)
	var id [32]byte
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return id, err
	}
	if e.ledger == nil {
		err = ErrNilLedger
		return id, err
	}
	if e.notary == nil {
		err = ErrNilNotary
		return id, err
	}
	if tranches == 0 {
		err = ErrInvalidTranches
		return id, err
	}
	if interval <= 0 {
		err = ErrInvalidInterval
		return id, err
	}
	if len(entitlements) == 0 {
		err = ErrNoEntitlements
		return id, err
	}
	trust, rerr := e.notary.RequireRootHolder(caller, rootKey)
	if rerr != nil {
		err = rerr
		return id, err
	}
	if verr := e.notary.VerifyInRing(trust, recipient); verr != nil {
		err = verr
		return id, err
	}
	cloned := make([]Entitlement, len(entitlements))
	for i, ent := range entitlements {
		if ent.Amount == nil || ent.Amount.Sign() <= 0 {
			err = ErrZeroAmount
			return id, err
		}
		if verr := e.notary.VerifyInRing(trust, ent.SourceKey); verr != nil {
			err = verr
			return id, err
		}
		cloned[i] = ent.Clone()
	}
	id = DeriveID(rootKey, recipient, name)
	if _, ok := e.allowances[id]; ok {
		err = fmt.Errorf("%w: %x", ErrExists, id)
		return id, err
	}
	record := &Allowance{
		ID:                id,
		RootKey:           rootKey,
		RecipientKey:      recipient,
		Name:              strings.TrimSpace(name),
		Enabled:           true,
		RemainingTranches: tranches,
		VestInterval:      interval,
		NextVestTime:      firstVest,
		RequiredEvents:    append([]types.EventID(nil), required...),
		Entitlements:      cloned,
		CreatedAt:         e.now(),
	}
	e.allowances[id] = record
	e.byRecipient[recipient] = append(e.byRecipient[recipient], id)
	e.emit(newCreatedEvent(record))
	e.logger.Info("allowance created", "id", fmt.Sprintf("%x", id),
		"recipient", uint64(recipient), "tranches", tranches)
	return id, nil
}

// RedeemAllowance pays out every tranche that has matured, capped by the
// remaining tranche count and by what every source can afford in whole
// tranches across all entitlements drawing on it. The caller must hold the
// recipient key. Every gate, settlement authorization and affordability read
// runs before the record advances; a failing call leaves the schedule and all
// balances untouched, and the transfers issued after the record commits
// cannot fail, so a reentrant call observes the already-advanced schedule.
func (e *Engine) RedeemAllowance(caller types.Address, id [32]byte) (uint32, error) {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "redeem", &err)
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if e.ledger == nil {
		err = ErrNilLedger
		return 0, err
	}
	if e.notary == nil {
		err = ErrNilNotary
		return 0, err
	}
	record, ok := e.allowances[id]
	if !ok {
		err = fmt.Errorf("%w: %x", ErrNotFound, id)
		return 0, err
	}
	if !record.Enabled {
		err = ErrDisabled
		return 0, err
	}
	if herr := e.notary.VerifyHoldsKey(caller, record.RecipientKey); herr != nil {
		err = herr
		return 0, err
	}
	now := e.now()
	if now < record.NextVestTime {
		err = fmt.Errorf("%w: due at %d, now %d", ErrTooEarly, record.NextVestTime, now)
		return 0, err
	}
	if record.RemainingTranches == 0 {
		err = ErrExhausted
		return 0, err
	}
	if !nativecommon.FiredAll(e.oracle, record.RequiredEvents) {
		err = ErrMissingEvent
		return 0, err
	}

	// The cycle that just matured counts, hence the +1.
	cyclesDue := (now-record.NextVestTime)/record.VestInterval + 1
	requested := uint64(record.RemainingTranches)
	if uint64(cyclesDue) < requested {
		requested = uint64(cyclesDue)
	}

	// Entitlements drawing on the same (source, provider, arn) must cover
	// their joint demand, and every settlement leg must pass notarization,
	// before any record state commits.
	type settlement struct {
		source   types.KeyID
		provider types.Address
		arn      types.Arn
	}
	perCycle := make(map[settlement]*big.Int, len(record.Entitlements))
	order := make([]settlement, 0, len(record.Entitlements))
	for _, ent := range record.Entitlements {
		s := settlement{source: ent.SourceKey, provider: ent.Provider, arn: ent.Arn}
		if joint, ok := perCycle[s]; ok {
			perCycle[s] = new(big.Int).Add(joint, ent.Amount)
			continue
		}
		perCycle[s] = new(big.Int).Set(ent.Amount)
		order = append(order, s)
	}
	awarded := requested
	for _, s := range order {
		if _, nerr := e.notary.NotarizeTransfer(e.addr, s.source, []types.KeyID{record.RecipientKey}); nerr != nil {
			err = nerr
			return 0, err
		}
		balance := e.ledger.KeyBalance(s.source, s.provider, s.arn)
		affordable := new(big.Int).Div(balance, perCycle[s])
		if affordable.IsUint64() && affordable.Uint64() < awarded {
			awarded = affordable.Uint64()
		}
	}
	if awarded == 0 {
		err = ErrUnaffordable
		return 0, err
	}

	record.RemainingTranches -= uint32(awarded)
	record.NextVestTime += int64(awarded) * record.VestInterval
	if record.RemainingTranches == 0 {
		record.Enabled = false
	}

	for _, ent := range record.Entitlements {
		total := new(big.Int).Mul(ent.Amount, new(big.Int).SetUint64(awarded))
		if terr := e.ledger.Transfer(e.addr, ent.SourceKey, ent.Provider, ent.Arn,
			[]types.KeyID{record.RecipientKey}, []*big.Int{total}); terr != nil {
			err = terr
			return 0, err
		}
	}
	e.emit(newAwardedEvent(record, awarded))
	e.logger.Info("allowance redeemed", "id", fmt.Sprintf("%x", id),
		"awarded", awarded, "remaining", record.RemainingTranches)
	return uint32(awarded), nil
}

// SetTrancheCount overwrites the remaining tranche count, topping up or
// halting the schedule. Root-key-gated. The enabled flag is re-derived from
// the new count, so raising an exhausted allowance above zero revives it.
func (e *Engine) SetTrancheCount(caller types.Address, id [32]byte, count uint32) error {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "set_tranche_count", &err)
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.notary == nil {
		err = ErrNilNotary
		return err
	}
	record, ok := e.allowances[id]
	if !ok {
		err = fmt.Errorf("%w: %x", ErrNotFound, id)
		return err
	}
	if _, rerr := e.notary.RequireRootHolder(caller, record.RootKey); rerr != nil {
		err = rerr
		return err
	}
	record.RemainingTranches = count
	record.Enabled = count > 0
	e.emit(newTrancheCountEvent(record))
	return nil
}

// RemoveAllowance zeroes the record and de-indexes it. Root-key-gated.
func (e *Engine) RemoveAllowance(caller types.Address, id [32]byte) error {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "remove", &err)
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.notary == nil {
		err = ErrNilNotary
		return err
	}
	record, ok := e.allowances[id]
	if !ok {
		err = fmt.Errorf("%w: %x", ErrNotFound, id)
		return err
	}
	if _, rerr := e.notary.RequireRootHolder(caller, record.RootKey); rerr != nil {
		err = rerr
		return err
	}
	delete(e.allowances, id)
	ids := e.byRecipient[record.RecipientKey]
	for i, aid := range ids {
		if aid == id {
			e.byRecipient[record.RecipientKey] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(e.byRecipient[record.RecipientKey]) == 0 {
		delete(e.byRecipient, record.RecipientKey)
	}
	e.emit(newRemovedEvent(record))
	return nil
}

// GetAllowance returns a copy of the record, if present. Read-only; intended
// for caller pre-validation before a costly mutating call.
func (e *Engine) GetAllowance(id [32]byte) (*Allowance, bool) {
	record, ok := e.allowances[id]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// AllowancesForKey returns the ids indexed under the recipient key.
func (e *Engine) AllowancesForKey(recipient types.KeyID) [][32]byte {
	return append([][32]byte(nil), e.byRecipient[recipient]...)
}

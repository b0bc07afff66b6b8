package trustee

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

const moduleName = "trustee"

var (
	ErrNilLedger           = errors.New("trustee: ledger not configured")
	ErrNilNotary           = errors.New("trustee: notary not configured")
	ErrPolicyExists        = errors.New("trustee: policy already exists for trustee key")
	ErrPolicyNotFound      = errors.New("trustee: policy not found")
	ErrNoBeneficiaries     = errors.New("trustee: at least one beneficiary required")
	ErrSourceIsDestination = errors.New("trustee: beneficiary equals source key")
	ErrSourceUnbound       = errors.New("trustee: source key not bound to a trust")
	ErrInvalidBeneficiary  = errors.New("trustee: beneficiary not in pre-ordained set")
	ErrMissingEvent        = errors.New("trustee: required event has not fired")
	ErrLengthMismatch      = errors.New("trustee: beneficiary and amount lengths differ")
	ErrZeroAmount          = errors.New("trustee: amount must be positive")
)

// Policy is a pre-ordained distribution: the trustee key holder decides how
// much and when, never to whom outside the root holder's beneficiary list.
type Policy struct {
	RootKey        types.KeyID
	TrusteeKey     types.KeyID
	SourceKey      types.KeyID
	Beneficiaries  []types.KeyID
	RequiredEvents []types.EventID
	CreatedAt      int64
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Beneficiaries = append([]types.KeyID(nil), p.Beneficiaries...)
	clone.RequiredEvents = append([]types.EventID(nil), p.RequiredEvents...)
	return &clone
}

type ledgerView interface {
	Transfer(scribe types.Address, source types.KeyID, provider types.Address, arn types.Arn, dests []types.KeyID, amounts []*big.Int) error
}

type notaryView interface {
	RequireRootHolder(caller types.Address, rootKey types.KeyID) (types.TrustID, error)
	VerifyHoldsKey(actor types.Address, key types.KeyID) error
	VerifyInRing(trust types.TrustID, key types.KeyID) error
	VerifyCollateralProvider(trust types.TrustID, actor types.Address) error
	TrustOf(key types.KeyID) (types.TrustID, bool)
}

// Engine holds at most one distribution policy per trustee key and settles
// distributions through the ledger under its own scribe identity.
type Engine struct {
	addr     types.Address
	ledger   ledgerView
	notary   notaryView
	oracle   nativecommon.EventView
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	logger   *slog.Logger
	policies map[types.KeyID]*Policy
}

// NewEngine creates a trustee engine. addr is the identity under which the
// engine acts as scribe when settling distributions.
func NewEngine(addr types.Address, ledger ledgerView, notary notaryView, oracle nativecommon.EventView) *Engine {
	return &Engine{
		addr:     addr,
		ledger:   ledger,
		notary:   notary,
		oracle:   oracle,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		policies: make(map[types.KeyID]*Policy),
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

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(trusteeEvent{evt: evt})
}

// SetPolicy installs the distribution policy for a trustee key. Root-key-gated;
// the trustee key, source key and every beneficiary must sit in the trust ring,
// no beneficiary may equal the source, and a trustee key carries at most one
// policy at a time.
func (e *Engine) SetPolicy(caller types.Address, rootKey types.KeyID, trusteeKey, sourceKey types.KeyID, beneficiaries []types.KeyID, required []types.EventID) error {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "set_policy", &err)
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.notary == nil {
		err = ErrNilNotary
		return err
	}
	if len(beneficiaries) == 0 {
		err = ErrNoBeneficiaries
		return err
	}
	trust, rerr := e.notary.RequireRootHolder(caller, rootKey)
	if rerr != nil {
		err = rerr
		return err
	}
	if verr := e.notary.VerifyInRing(trust, trusteeKey); verr != nil {
		err = verr
		return err
	}
	if verr := e.notary.VerifyInRing(trust, sourceKey); verr != nil {
		err = verr
		return err
	}
	for _, beneficiary := range beneficiaries {
		if beneficiary == sourceKey {
			err = fmt.Errorf("%w: key %d", ErrSourceIsDestination, beneficiary)
			return err
		}
		if verr := e.notary.VerifyInRing(trust, beneficiary); verr != nil {
			err = verr
			return err
		}
	}
	if _, ok := e.policies[trusteeKey]; ok {
		err = fmt.Errorf("%w: key %d", ErrPolicyExists, trusteeKey)
		return err
	}
	policy := &Policy{
		RootKey:        rootKey,
		TrusteeKey:     trusteeKey,
		SourceKey:      sourceKey,
		Beneficiaries:  append([]types.KeyID(nil), beneficiaries...),
		RequiredEvents: append([]types.EventID(nil), required...),
	}
	e.policies[trusteeKey] = policy
	e.emit(newPolicySetEvent(policy))
	e.logger.Info("trustee policy set", "trustee", uint64(trusteeKey),
		"source", uint64(sourceKey), "beneficiaries", len(beneficiaries))
	return nil
}

// RemovePolicy clears the trustee key's policy. Root-key-gated.
func (e *Engine) RemovePolicy(caller types.Address, rootKey types.KeyID, trusteeKey types.KeyID) error {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "remove_policy", &err)
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.notary == nil {
		err = ErrNilNotary
		return err
	}
	policy, ok := e.policies[trusteeKey]
	if !ok {
		err = fmt.Errorf("%w: key %d", ErrPolicyNotFound, trusteeKey)
		return err
	}
	if _, rerr := e.notary.RequireRootHolder(caller, rootKey); rerr != nil {
		err = rerr
		return err
	}
	delete(e.policies, trusteeKey)
	e.emit(newPolicyRemovedEvent(policy))
	return nil
}

// GetPolicy returns a copy of the trustee key's policy, if present.
func (e *Engine) GetPolicy(trusteeKey types.KeyID) (*Policy, bool) {
	policy, ok := e.policies[trusteeKey]
	if !ok {
		return nil, false
	}
	return policy.Clone(), true
}

// Distribute moves funds from the policy's source key to the requested
// beneficiaries as one atomic batch. The caller must hold the trustee key,
// every requested beneficiary must be in the pre-ordained set, every required
// event must have fired and the provider must be a trusted collateral
// provider for the trust. An overdraft fails the whole batch.
func (e *Engine) Distribute(caller types.Address, trusteeKey types.KeyID, provider types.Address, arn types.Arn, beneficiaries []types.KeyID, amounts []*big.Int) error {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "distribute", &err)
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.ledger == nil {
		err = ErrNilLedger
		return err
	}
	if e.notary == nil {
		err = ErrNilNotary
		return err
	}
	policy, ok := e.policies[trusteeKey]
	if !ok {
		err = fmt.Errorf("%w: key %d", ErrPolicyNotFound, trusteeKey)
		return err
	}
	if herr := e.notary.VerifyHoldsKey(caller, trusteeKey); herr != nil {
		err = herr
		return err
	}
	if len(beneficiaries) == 0 {
		err = ErrNoBeneficiaries
		return err
	}
	if len(beneficiaries) != len(amounts) {
		err = ErrLengthMismatch
		return err
	}
	ordained := make(map[types.KeyID]bool, len(policy.Beneficiaries))
	for _, beneficiary := range policy.Beneficiaries {
		ordained[beneficiary] = true
	}
	for i, beneficiary := range beneficiaries {
		if !ordained[beneficiary] {
			err = fmt.Errorf("%w: key %d", ErrInvalidBeneficiary, beneficiary)
			return err
		}
		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			err = ErrZeroAmount
			return err
		}
	}
	if !nativecommon.FiredAll(e.oracle, policy.RequiredEvents) {
		err = ErrMissingEvent
		return err
	}
	trust, tok := e.notary.TrustOf(policy.SourceKey)
	if !tok {
		err = fmt.Errorf("%w: key %d", ErrSourceUnbound, policy.SourceKey)
		return err
	}
	if perr := e.notary.VerifyCollateralProvider(trust, provider); perr != nil {
		err = perr
		return err
	}
	if terr := e.ledger.Transfer(e.addr, policy.SourceKey, provider, arn, beneficiaries, amounts); terr != nil {
		err = terr
		return err
	}
	e.emit(newDistributedEvent(policy, provider, arn, beneficiaries, amounts))
	e.logger.Info("trustee distribution settled", "trustee", uint64(trusteeKey),
		"source", uint64(policy.SourceKey), "legs", len(beneficiaries))
	return nil
}

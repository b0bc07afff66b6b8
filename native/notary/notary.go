package notary

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/scotthconner/smartrust-sub001/core/events"
	"github.com/scotthconner/smartrust-sub001/core/types"
	nativecommon "github.com/scotthconner/smartrust-sub001/native/common"
	"github.com/scotthconner/smartrust-sub001/observability"
)

const moduleName = "notary"

var (
	ErrNilRegistry       = errors.New("notary: key registry not configured")
	ErrNotOwner          = errors.New("notary: caller is not the notary owner")
	ErrUntrustedPeer     = errors.New("notary: actor is not a recognized peer")
	ErrUntrustedActor    = errors.New("notary: actor is not trusted for role")
	ErrKeyNotHeld        = errors.New("notary: caller does not hold key")
	ErrNotRoot           = errors.New("notary: key is not a root key")
	ErrNotInRing         = errors.New("notary: key is not in trust ring")
	ErrUnknownKey        = errors.New("notary: key is not bound to a trust")
	ErrInvalidRole       = errors.New("notary: invalid role")
	ErrZeroAmount        = errors.New("notary: amount must be positive")
	ErrAllowanceExceeded = errors.New("notary: withdrawal allowance exceeded")
	ErrAllowanceNegative = errors.New("notary: allowance must be non-negative")
)

// KeyRegistry is the external capability-token oracle. The notary only reads
// it; issuing, copying and soulbinding tokens happens elsewhere.
type KeyRegistry interface {
	HoldsKey(holder types.Address, key types.KeyID) uint64
	IsRoot(key types.KeyID) bool
	InRing(trust types.TrustID, key types.KeyID) bool
	TrustOf(key types.KeyID) (types.TrustID, bool)
}

// Role enumerates the trust-scoped grants a root key holder can hand to an
// external actor.
type Role uint8

const (
	RoleCollateralProvider Role = iota
	RoleScribe
	RoleDispatcher
)

// Valid reports whether the role value is within the supported range.
func (r Role) Valid() bool {
	switch r {
	case RoleCollateralProvider, RoleScribe, RoleDispatcher:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	switch r {
	case RoleCollateralProvider:
		return "collateral_provider"
	case RoleScribe:
		return "scribe"
	case RoleDispatcher:
		return "dispatcher"
	default:
		return "unknown"
	}
}

// ParseRole maps a configuration-facing role name onto its Role value.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "collateral_provider":
		return RoleCollateralProvider, nil
	case "scribe":
		return RoleScribe, nil
	case "dispatcher":
		return RoleDispatcher, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

type roleGrant struct {
	trusted bool
	label   string
}

type roleKey struct {
	trust types.TrustID
	role  Role
	actor types.Address
}

type allowanceKey struct {
	key      types.KeyID
	provider types.Address
	arn      types.Arn
}

// Notary owns the role, peer and withdrawal-allowance tables. Every privileged
// ledger or scheduler call is authorized through it. Tables are mutated only
// by the notary owner (peer gate) or a trust's root key holder (roles and
// allowances).
type Notary struct {
	registry   KeyRegistry
	owner      types.Address
	peers      map[types.Address]bool
	roles      map[roleKey]roleGrant
	allowances map[allowanceKey]*big.Int
	emitter    events.Emitter
	pauses     nativecommon.PauseView
	logger     *slog.Logger
}

// New creates a notary bound to the supplied registry. The owner is the only
// actor allowed to mutate the global peer gate.
func New(registry KeyRegistry, owner types.Address) *Notary {
	return &Notary{
		registry:   registry,
		owner:      owner,
		peers:      make(map[types.Address]bool),
		roles:      make(map[roleKey]roleGrant),
		allowances: make(map[allowanceKey]*big.Int),
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
	}
}

// SetEmitter configures the event emitter used for audit records. Passing nil
// resets the emitter to a no-op implementation.
func (n *Notary) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		n.emitter = events.NoopEmitter{}
		return
	}
	n.emitter = emitter
}

// SetPauses configures the optional pause view consulted by mutating calls.
func (n *Notary) SetPauses(p nativecommon.PauseView) {
	if n == nil {
		return
	}
	n.pauses = p
}

// SetLogger overrides the structured logger. Passing nil restores the default.
func (n *Notary) SetLogger(logger *slog.Logger) {
	if logger == nil {
		n.logger = slog.Default()
		return
	}
	n.logger = logger
}

func (n *Notary) emit(evt *types.Event) {
	if n == nil || n.emitter == nil || evt == nil {
		return
	}
	n.emitter.Emit(notaryEvent{evt: evt})
}

// SetPeer toggles the global peer gate for an actor. Only the notary owner may
// call it.
func (n *Notary) SetPeer(caller, actor types.Address, trusted bool) error {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "set_peer", &err)
	if err = nativecommon.Guard(n.pauses, moduleName); err != nil {
		return err
	}
	if caller != n.owner {
		err = ErrNotOwner
		return err
	}
	n.peers[actor] = trusted
	n.emit(newPeerChangeEvent(actor, trusted))
	n.logger.Info("peer gate updated", "actor", actor.Hex(), "trusted", trusted)
	return nil
}

// IsPeer reports whether the actor passes the global peer gate.
func (n *Notary) IsPeer(actor types.Address) bool {
	return n != nil && n.peers[actor]
}

// VerifyHoldsKey checks that the actor holds at least one copy of the key.
func (n *Notary) VerifyHoldsKey(actor types.Address, key types.KeyID) error {
	if n == nil || n.registry == nil {
		return ErrNilRegistry
	}
	if n.registry.HoldsKey(actor, key) == 0 {
		return fmt.Errorf("%w: key %d", ErrKeyNotHeld, key)
	}
	return nil
}

// VerifyIsRootKey checks that the key carries trust-wide override authority.
func (n *Notary) VerifyIsRootKey(key types.KeyID) error {
	if n == nil || n.registry == nil {
		return ErrNilRegistry
	}
	if !n.registry.IsRoot(key) {
		return fmt.Errorf("%w: key %d", ErrNotRoot, key)
	}
	return nil
}

// VerifyInRing checks that the key belongs to the trust's ring.
func (n *Notary) VerifyInRing(trust types.TrustID, key types.KeyID) error {
	if n == nil || n.registry == nil {
		return ErrNilRegistry
	}
	if !n.registry.InRing(trust, key) {
		return fmt.Errorf("%w: key %d trust %d", ErrNotInRing, key, trust)
	}
	return nil
}

// TrustOf resolves the trust a key belongs to.
func (n *Notary) TrustOf(key types.KeyID) (types.TrustID, bool) {
	if n == nil || n.registry == nil {
		return 0, false
	}
	return n.registry.TrustOf(key)
}

// RequireRootHolder verifies the caller holds rootKey and that rootKey is a
// root key, returning the trust it governs. It is the entry check shared by
// every root-gated operation.
func (n *Notary) RequireRootHolder(caller types.Address, rootKey types.KeyID) (types.TrustID, error) {
	if err := n.VerifyHoldsKey(caller, rootKey); err != nil {
		return 0, err
	}
	if err := n.VerifyIsRootKey(rootKey); err != nil {
		return 0, err
	}
	trust, ok := n.registry.TrustOf(rootKey)
	if !ok {
		return 0, fmt.Errorf("%w: key %d", ErrUnknownKey, rootKey)
	}
	return trust, nil
}

// IsTrusted reports whether the actor has been granted the role for the trust.
func (n *Notary) IsTrusted(trust types.TrustID, role Role, actor types.Address) bool {
	if n == nil {
		return false
	}
	return n.roles[roleKey{trust: trust, role: role, actor: actor}].trusted
}

// RoleLabel returns the audit label recorded with a grant, if any.
func (n *Notary) RoleLabel(trust types.TrustID, role Role, actor types.Address) string {
	if n == nil {
		return ""
	}
	return n.roles[roleKey{trust: trust, role: role, actor: actor}].label
}

// VerifyCollateralProvider aborts unless the actor is a trusted collateral
// provider for the trust.
func (n *Notary) VerifyCollateralProvider(trust types.TrustID, actor types.Address) error {
	return n.verifyRole(trust, RoleCollateralProvider, actor)
}

// VerifyScribe aborts unless the actor is a trusted scribe for the trust.
func (n *Notary) VerifyScribe(trust types.TrustID, actor types.Address) error {
	return n.verifyRole(trust, RoleScribe, actor)
}

// VerifyDispatcher aborts unless the actor is a trusted dispatcher for the
// trust.
func (n *Notary) VerifyDispatcher(trust types.TrustID, actor types.Address) error {
	return n.verifyRole(trust, RoleDispatcher, actor)
}

func (n *Notary) verifyRole(trust types.TrustID, role Role, actor types.Address) error {
	if !n.IsTrusted(trust, role, actor) {
		return fmt.Errorf("%w: %s %s trust %d", ErrUntrustedActor, role, actor.Hex(), trust)
	}
	return nil
}

// SetRole toggles a trust-scoped role grant for an external actor. The caller
// must hold callerKey and callerKey must be a root key of the trust. The label
// travels into the audit record only.
func (n *Notary) SetRole(caller types.Address, callerKey types.KeyID, trust types.TrustID, role Role, actor types.Address, trusted bool, label string) error {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "set_role", &err)
	if err = nativecommon.Guard(n.pauses, moduleName); err != nil {
		return err
	}
	if !role.Valid() {
		err = fmt.Errorf("%w: %d", ErrInvalidRole, role)
		return err
	}
	rootTrust, rerr := n.RequireRootHolder(caller, callerKey)
	if rerr != nil {
		err = rerr
		return err
	}
	if rootTrust != trust {
		err = fmt.Errorf("%w: key %d trust %d", ErrNotInRing, callerKey, trust)
		return err
	}
	n.roles[roleKey{trust: trust, role: role, actor: actor}] = roleGrant{trusted: trusted, label: strings.TrimSpace(label)}
	n.emit(newRoleChangeEvent(trust, role, actor, trusted, label))
	n.logger.Info("trusted role updated",
		"trust", uint64(trust), "role", role.String(), "actor", actor.Hex(), "trusted", trusted)
	return nil
}

// WithdrawalAllowance returns the remaining spending ceiling for the
// (key, provider, arn) tuple. Unset tuples report zero.
func (n *Notary) WithdrawalAllowance(key types.KeyID, provider types.Address, arn types.Arn) *big.Int {
	if n == nil {
		return big.NewInt(0)
	}
	if amt, ok := n.allowances[allowanceKey{key: key, provider: provider, arn: arn}]; ok {
		return new(big.Int).Set(amt)
	}
	return big.NewInt(0)
}

// SetWithdrawalAllowance installs the spending ceiling consumed by each
// withdrawal against the (key, provider, arn) tuple. Root-key-gated; the
// ceiling is independent of, and additional to, the balance check in the
// ledger.
func (n *Notary) SetWithdrawalAllowance(caller types.Address, rootKey types.KeyID, key types.KeyID, provider types.Address, arn types.Arn, amount *big.Int) error {
	var err error
	defer observability.EngineMetrics().RecordOp(moduleName, "set_withdrawal_allowance", &err)
	if err = nativecommon.Guard(n.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		err = ErrAllowanceNegative
		return err
	}
	trust, rerr := n.RequireRootHolder(caller, rootKey)
	if rerr != nil {
		err = rerr
		return err
	}
	if verr := n.VerifyInRing(trust, key); verr != nil {
		err = verr
		return err
	}
	n.allowances[allowanceKey{key: key, provider: provider, arn: arn}] = new(big.Int).Set(amount)
	n.emit(newAllowanceSetEvent(key, provider, arn, amount))
	return nil
}

// NotarizeDeposit authorizes a custody adapter deposit against a key: the
// provider must pass the global peer gate and hold the collateral-provider
// role for the key's trust. Returns the trust the deposit attributes to.
func (n *Notary) NotarizeDeposit(provider types.Address, key types.KeyID, amount *big.Int) (types.TrustID, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	trust, err := n.trustedProvider(provider, key)
	if err != nil {
		return 0, err
	}
	return trust, nil
}

// NotarizeWithdrawal authorizes a custody adapter withdrawal and consumes the
// matching withdrawal allowance. The allowance never goes negative: a request
// beyond the remaining ceiling aborts before any state changes.
func (n *Notary) NotarizeWithdrawal(provider types.Address, key types.KeyID, arn types.Arn, amount *big.Int) (types.TrustID, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	trust, err := n.trustedProvider(provider, key)
	if err != nil {
		return 0, err
	}
	ak := allowanceKey{key: key, provider: provider, arn: arn}
	remaining, ok := n.allowances[ak]
	if !ok || remaining.Cmp(amount) < 0 {
		return 0, fmt.Errorf("%w: key %d arn %s", ErrAllowanceExceeded, key, arn.Hex())
	}
	n.allowances[ak] = new(big.Int).Sub(remaining, amount)
	return trust, nil
}

// NotarizeTransfer authorizes a scribe-driven reattribution from sourceKey to
// the destination keys. The scribe must hold the scribe role for the source
// key's trust and every destination must sit in the same ring.
func (n *Notary) NotarizeTransfer(scribe types.Address, source types.KeyID, dests []types.KeyID) (types.TrustID, error) {
	if n == nil || n.registry == nil {
		return 0, ErrNilRegistry
	}
	trust, ok := n.registry.TrustOf(source)
	if !ok {
		return 0, fmt.Errorf("%w: key %d", ErrUnknownKey, source)
	}
	if err := n.VerifyScribe(trust, scribe); err != nil {
		return 0, err
	}
	for _, dest := range dests {
		if err := n.VerifyInRing(trust, dest); err != nil {
			return 0, err
		}
	}
	return trust, nil
}

func (n *Notary) trustedProvider(provider types.Address, key types.KeyID) (types.TrustID, error) {
	if n == nil || n.registry == nil {
		return 0, ErrNilRegistry
	}
	if !n.IsPeer(provider) {
		return 0, fmt.Errorf("%w: %s", ErrUntrustedPeer, provider.Hex())
	}
	trust, ok := n.registry.TrustOf(key)
	if !ok {
		return 0, fmt.Errorf("%w: key %d", ErrUnknownKey, key)
	}
	if err := n.VerifyCollateralProvider(trust, provider); err != nil {
		return 0, err
	}
	return trust, nil
}

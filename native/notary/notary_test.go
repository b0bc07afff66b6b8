package notary

import (
	"errors"
	"math/big"
	"testing"

	"github.com/scotthconner/smartrust-sub001/core/events"
	"github.com/scotthconner/smartrust-sub001/core/types"
)

type mockRegistry struct {
	holdings map[types.Address]map[types.KeyID]uint64
	roots    map[types.KeyID]bool
	trusts   map[types.KeyID]types.TrustID
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		holdings: make(map[types.Address]map[types.KeyID]uint64),
		roots:    make(map[types.KeyID]bool),
		trusts:   make(map[types.KeyID]types.TrustID),
	}
}

func (m *mockRegistry) grant(holder types.Address, key types.KeyID, qty uint64) {
	if m.holdings[holder] == nil {
		m.holdings[holder] = make(map[types.KeyID]uint64)
	}
	m.holdings[holder][key] = qty
}

func (m *mockRegistry) bind(key types.KeyID, trust types.TrustID, root bool) {
	m.trusts[key] = trust
	m.roots[key] = root
}

func (m *mockRegistry) HoldsKey(holder types.Address, key types.KeyID) uint64 {
	return m.holdings[holder][key]
}

func (m *mockRegistry) IsRoot(key types.KeyID) bool { return m.roots[key] }

func (m *mockRegistry) InRing(trust types.TrustID, key types.KeyID) bool {
	bound, ok := m.trusts[key]
	return ok && bound == trust
}

func (m *mockRegistry) TrustOf(key types.KeyID) (types.TrustID, bool) {
	trust, ok := m.trusts[key]
	return trust, ok
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newTestAddress(fill byte) types.Address {
	var addr types.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

const (
	rootKey  = types.KeyID(1)
	childKey = types.KeyID(2)
	trustID  = types.TrustID(7)
)

func newTestNotary(t *testing.T) (*Notary, *mockRegistry, types.Address) {
	t.Helper()
	reg := newMockRegistry()
	owner := newTestAddress(0x01)
	rootHolder := newTestAddress(0x02)
	reg.bind(rootKey, trustID, true)
	reg.bind(childKey, trustID, false)
	reg.grant(rootHolder, rootKey, 1)
	return New(reg, owner), reg, rootHolder
}

func TestSetPeerOwnerGated(t *testing.T) {
	n, _, _ := newTestNotary(t)
	owner := newTestAddress(0x01)
	peer := newTestAddress(0x10)

	if err := n.SetPeer(newTestAddress(0x99), peer, true); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := n.SetPeer(owner, peer, true); err != nil {
		t.Fatalf("owner SetPeer failed: %v", err)
	}
	if !n.IsPeer(peer) {
		t.Fatal("peer should be trusted after grant")
	}
	if err := n.SetPeer(owner, peer, false); err != nil {
		t.Fatalf("owner SetPeer revoke failed: %v", err)
	}
	if n.IsPeer(peer) {
		t.Fatal("peer should be untrusted after revoke")
	}
}

func TestSetRoleRootGated(t *testing.T) {
	n, reg, rootHolder := newTestNotary(t)
	actor := newTestAddress(0x20)

	// Caller without the root key.
	if err := n.SetRole(newTestAddress(0x99), rootKey, trustID, RoleScribe, actor, true, "scribe"); !errors.Is(err, ErrKeyNotHeld) {
		t.Fatalf("expected ErrKeyNotHeld, got %v", err)
	}
	// Caller holding a non-root key.
	childHolder := newTestAddress(0x30)
	reg.grant(childHolder, childKey, 1)
	if err := n.SetRole(childHolder, childKey, trustID, RoleScribe, actor, true, "scribe"); !errors.Is(err, ErrNotRoot) {
		t.Fatalf("expected ErrNotRoot, got %v", err)
	}
	// Root key over a different trust.
	if err := n.SetRole(rootHolder, rootKey, trustID+1, RoleScribe, actor, true, "scribe"); !errors.Is(err, ErrNotInRing) {
		t.Fatalf("expected ErrNotInRing, got %v", err)
	}
	if err := n.SetRole(rootHolder, rootKey, trustID, RoleScribe, actor, true, "family scribe"); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}
	if err := n.VerifyScribe(trustID, actor); err != nil {
		t.Fatalf("actor should be a trusted scribe: %v", err)
	}
	if got := n.RoleLabel(trustID, RoleScribe, actor); got != "family scribe" {
		t.Fatalf("unexpected label %q", got)
	}
	// Idempotent toggle off.
	if err := n.SetRole(rootHolder, rootKey, trustID, RoleScribe, actor, false, ""); err != nil {
		t.Fatalf("SetRole revoke failed: %v", err)
	}
	if err := n.VerifyScribe(trustID, actor); !errors.Is(err, ErrUntrustedActor) {
		t.Fatalf("expected ErrUntrustedActor after revoke, got %v", err)
	}
}

func TestRoleChangeEmitsAudit(t *testing.T) {
	n, _, rootHolder := newTestNotary(t)
	capture := &captureEmitter{}
	n.SetEmitter(capture)
	actor := newTestAddress(0x20)
	if err := n.SetRole(rootHolder, rootKey, trustID, RoleDispatcher, actor, true, "alarm service"); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}
	if len(capture.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(capture.events))
	}
	if capture.events[0].EventType() != EventTypeRoleChange {
		t.Fatalf("unexpected event type %q", capture.events[0].EventType())
	}
	evt := capture.events[0].(notaryEvent).Event()
	if evt.Attributes["label"] != "alarm service" {
		t.Fatalf("label missing from audit record: %v", evt.Attributes)
	}
}

func TestNotarizeDepositGating(t *testing.T) {
	n, _, rootHolder := newTestNotary(t)
	owner := newTestAddress(0x01)
	provider := newTestAddress(0x40)
	amount := big.NewInt(10)

	if _, err := n.NotarizeDeposit(provider, childKey, amount); !errors.Is(err, ErrUntrustedPeer) {
		t.Fatalf("expected ErrUntrustedPeer, got %v", err)
	}
	if err := n.SetPeer(owner, provider, true); err != nil {
		t.Fatalf("SetPeer failed: %v", err)
	}
	if _, err := n.NotarizeDeposit(provider, childKey, amount); !errors.Is(err, ErrUntrustedActor) {
		t.Fatalf("expected ErrUntrustedActor, got %v", err)
	}
	if err := n.SetRole(rootHolder, rootKey, trustID, RoleCollateralProvider, provider, true, "vault"); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}
	trust, err := n.NotarizeDeposit(provider, childKey, amount)
	if err != nil {
		t.Fatalf("NotarizeDeposit failed: %v", err)
	}
	if trust != trustID {
		t.Fatalf("expected trust %d, got %d", trustID, trust)
	}
	if _, err := n.NotarizeDeposit(provider, childKey, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestWithdrawalAllowanceConsumption(t *testing.T) {
	n, _, rootHolder := newTestNotary(t)
	owner := newTestAddress(0x01)
	provider := newTestAddress(0x40)
	arn := types.DeriveArn([]byte("gold"))

	if err := n.SetPeer(owner, provider, true); err != nil {
		t.Fatalf("SetPeer failed: %v", err)
	}
	if err := n.SetRole(rootHolder, rootKey, trustID, RoleCollateralProvider, provider, true, ""); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}

	// No allowance set at all.
	if _, err := n.NotarizeWithdrawal(provider, childKey, arn, big.NewInt(5)); !errors.Is(err, ErrAllowanceExceeded) {
		t.Fatalf("expected ErrAllowanceExceeded, got %v", err)
	}
	if err := n.SetWithdrawalAllowance(rootHolder, rootKey, childKey, provider, arn, big.NewInt(8)); err != nil {
		t.Fatalf("SetWithdrawalAllowance failed: %v", err)
	}
	if _, err := n.NotarizeWithdrawal(provider, childKey, arn, big.NewInt(5)); err != nil {
		t.Fatalf("NotarizeWithdrawal failed: %v", err)
	}
	if got := n.WithdrawalAllowance(childKey, provider, arn); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("expected remaining allowance 3, got %s", got)
	}
	// The remaining ceiling cannot go negative.
	if _, err := n.NotarizeWithdrawal(provider, childKey, arn, big.NewInt(4)); !errors.Is(err, ErrAllowanceExceeded) {
		t.Fatalf("expected ErrAllowanceExceeded, got %v", err)
	}
	if got := n.WithdrawalAllowance(childKey, provider, arn); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("failed attempt must not consume allowance, got %s", got)
	}
	// Negative ceilings are rejected outright.
	if err := n.SetWithdrawalAllowance(rootHolder, rootKey, childKey, provider, arn, big.NewInt(-1)); !errors.Is(err, ErrAllowanceNegative) {
		t.Fatalf("expected ErrAllowanceNegative, got %v", err)
	}
}

func TestNotarizeTransferChecksRing(t *testing.T) {
	n, reg, rootHolder := newTestNotary(t)
	scribe := newTestAddress(0x50)
	if err := n.SetRole(rootHolder, rootKey, trustID, RoleScribe, scribe, true, ""); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}
	foreignKey := types.KeyID(42)
	reg.bind(foreignKey, trustID+1, false)

	if _, err := n.NotarizeTransfer(scribe, childKey, []types.KeyID{foreignKey}); !errors.Is(err, ErrNotInRing) {
		t.Fatalf("expected ErrNotInRing, got %v", err)
	}
	if _, err := n.NotarizeTransfer(newTestAddress(0x60), childKey, []types.KeyID{rootKey}); !errors.Is(err, ErrUntrustedActor) {
		t.Fatalf("expected ErrUntrustedActor, got %v", err)
	}
	trust, err := n.NotarizeTransfer(scribe, childKey, []types.KeyID{rootKey})
	if err != nil {
		t.Fatalf("NotarizeTransfer failed: %v", err)
	}
	if trust != trustID {
		t.Fatalf("expected trust %d, got %d", trustID, trust)
	}
}

func TestParseRoleRoundTrip(t *testing.T) {
	for _, role := range []Role{RoleCollateralProvider, RoleScribe, RoleDispatcher} {
		parsed, err := ParseRole(role.String())
		if err != nil {
			t.Fatalf("ParseRole(%q) failed: %v", role, err)
		}
		if parsed != role {
			t.Fatalf("ParseRole(%q) = %v", role, parsed)
		}
	}
	if _, err := ParseRole(" Scribe "); err != nil {
		t.Fatalf("ParseRole must normalize case and whitespace: %v", err)
	}
	if _, err := ParseRole("custodian"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

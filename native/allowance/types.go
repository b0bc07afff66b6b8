package allowance

import (
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/scotthconner/smartrust-sub001/core/types"
)

// Entitlement is one line item of an allowance: the per-tranche amount of one
// (provider, arn) asset drawn from a source key.
type Entitlement struct {
	SourceKey types.KeyID
	Provider  types.Address
	Arn       types.Arn
	Amount    *big.Int
}

// Clone returns a deep copy of the entitlement.
func (e Entitlement) Clone() Entitlement {
	clone := e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return clone
}

// Allowance is a tranche-vesting distribution: every vesting interval one
// tranche of each entitlement becomes due to the recipient key, gated by the
// required events and capped by what the source keys can actually afford.
type Allowance struct {
	ID                [32]byte
	RootKey           types.KeyID
	RecipientKey      types.KeyID
	Name              string
	Enabled           bool
	RemainingTranches uint32
	VestInterval      int64
	NextVestTime      int64
	RequiredEvents    []types.EventID
	Entitlements      []Entitlement
	CreatedAt         int64
}

// Clone returns a deep copy of the allowance so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Allowance) Clone() *Allowance {
	if a == nil {
		return nil
	}
	clone := *a
	clone.RequiredEvents = append([]types.EventID(nil), a.RequiredEvents...)
	clone.Entitlements = make([]Entitlement, len(a.Entitlements))
	for i, ent := range a.Entitlements {
		clone.Entitlements[i] = ent.Clone()
	}
	return &clone
}

// DeriveID hashes the allowance definition into its identifier. The id is
// content-derived, so removing and recreating an identical allowance
// reproduces the same id.
func DeriveID(rootKey, recipient types.KeyID, name string) [32]byte {
	var root, rcpt [8]byte
	for i := 0; i < 8; i++ {
		root[i] = byte(uint64(rootKey) >> (8 * (7 - i)))
		rcpt[i] = byte(uint64(recipient) >> (8 * (7 - i)))
	}
	return ethcrypto.Keccak256Hash(root[:], rcpt[:], []byte(strings.TrimSpace(name)))
}

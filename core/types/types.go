package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Address identifies an external actor: a custody adapter, a scheme engine or
// any other caller of the privileged entry points.
type Address [20]byte

// KeyID identifies a single capability token. Tokens are minted and tracked by
// the external key registry; this module only reads them.
type KeyID uint64

// TrustID identifies the authorization domain a set of keys belongs to.
type TrustID uint64

// Arn is the content-derived identifier of one asset class or sub-unit. Equal
// logical assets always derive equal arns, so the arn is usable as a balance
// map key everywhere without further normalisation.
type Arn [32]byte

// EventID identifies a gating event tracked by the external event oracle.
type EventID [32]byte

// DeriveArn hashes the supplied components into an arn. Callers conventionally
// pass the custody standard, the adapter contract identity and an optional
// sub-unit discriminator, but the function does not interpret the parts.
func DeriveArn(parts ...[]byte) Arn {
	return Arn(ethcrypto.Keccak256Hash(parts...))
}

// ParseAddress decodes a hex string, with or without a 0x prefix, into an
// Address.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != len(Address{}) {
		return Address{}, fmt.Errorf("invalid address %q: expected %d bytes, got %d", s, len(Address{}), len(raw))
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

// Hex returns the lowercase hex encoding of the address without a prefix.
func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

// Hex returns the lowercase hex encoding of the arn.
func (a Arn) Hex() string { return hex.EncodeToString(a[:]) }

// Hex returns the lowercase hex encoding of the event identifier.
func (e EventID) Hex() string { return hex.EncodeToString(e[:]) }

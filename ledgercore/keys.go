// Package ledgercore is the in-process ledger: the cumulative state every
// replayed block is folded into, the wallets tracked over it, and the
// transaction and system transaction model with its canonical tagged
// encoding.
//
// The shielded part of the model is deliberately transparent: coins travel in
// the clear next to their commitments, and a "real" proof is a digest binding
// the transaction body that only the prover issues after checking every input
// witness. Everything that depends on the ledger (selection, fees, balancing,
// nullifiers, deploys) behaves the same way it would against a zero knowledge
// ledger.
package ledgercore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/ledger-txbuilder/inter/committeepk"
)

var ErrBadHexLength = errors.New("expected 32 bytes of hex")

// Seed is the 32 byte secret every wallet key is derived from.
type Seed [32]byte

// TokenType identifies a shielded token.
type TokenType [32]byte

// CoinPublicKey addresses the owner of a shielded coin.
type CoinPublicKey hash.Hash

// DustAddress addresses a fee allowance.
type DustAddress hash.Hash

func parse32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(ensure0x(s))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("%w, got %d", ErrBadHexLength, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func ensure0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s
	}
	return "0x" + s
}

// ParseSeed decodes a hex seed, with or without 0x prefix.
func ParseSeed(s string) (Seed, error) {
	b, err := parse32(s)
	return Seed(b), err
}

// ParseTokenType decodes a hex token type, with or without 0x prefix.
func ParseTokenType(s string) (TokenType, error) {
	b, err := parse32(s)
	return TokenType(b), err
}

func (s Seed) String() string      { return hexutil.Encode(s[:]) }
func (t TokenType) String() string { return hexutil.Encode(t[:]) }
func (pk CoinPublicKey) String() string {
	return hexutil.Encode(pk[:])
}
func (a DustAddress) String() string { return hexutil.Encode(a[:]) }

// CoinPublicKey derives the shielded address of the seed.
func (s Seed) CoinPublicKey() CoinPublicKey {
	return CoinPublicKey(crypto.Keccak256Hash([]byte("coin-pk"), s[:]))
}

// SigningKey derives the secp256k1 key the seed signs fee payments and
// committee operations with.
func (s Seed) SigningKey() *ecdsa.PrivateKey {
	d := crypto.Keccak256([]byte("signing-key"), s[:])
	key, err := crypto.ToECDSA(d)
	if err != nil {
		// a keccak output is a valid scalar with overwhelming probability
		panic(fmt.Sprintf("signing key derivation: %v", err))
	}
	return key
}

// VerifyingKey is the public half of SigningKey.
func (s Seed) VerifyingKey() committeepk.PubKey {
	return committeepk.FromECDSA(&s.SigningKey().PublicKey)
}

// DustAddress derives the fee allowance address of the seed.
func (s Seed) DustAddress() DustAddress {
	return DustAddressOf(s.VerifyingKey())
}

// DustAddressOf is the fee allowance address of a verifying key.
func DustAddressOf(pk committeepk.PubKey) DustAddress {
	return DustAddress(crypto.Keccak256Hash([]byte("dust"), pk.Bytes()))
}

package ledgercore

import (
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Coin is a shielded coin.
type Coin struct {
	Nonce hash.Hash
	Type  TokenType
	Value *uint256.Int
	Owner CoinPublicKey
}

// Commitment is the ledger-visible identifier of a coin.
func (c Coin) Commitment() hash.Hash {
	v := c.value().Bytes32()
	return hash.Hash(crypto.Keccak256Hash([]byte("commitment"), c.Nonce[:], c.Type[:], v[:], c.Owner[:]))
}

// Nullifier is revealed when the owner of seed spends c.
func (c Coin) Nullifier(seed Seed) hash.Hash {
	cm := c.Commitment()
	return hash.Hash(crypto.Keccak256Hash([]byte("nullifier"), cm[:], seed[:]))
}

func (c Coin) value() *uint256.Int {
	if c.Value == nil {
		return new(uint256.Int)
	}
	return c.Value
}

// Copy returns a deep copy.
func (c Coin) Copy() Coin {
	cp := c
	cp.Value = new(uint256.Int).Set(c.value())
	return cp
}

// Equal compares two coins field by field.
func (c Coin) Equal(o Coin) bool {
	return c.Nonce == o.Nonce && c.Type == o.Type && c.Owner == o.Owner && c.value().Eq(o.value())
}

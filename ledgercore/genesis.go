package ledgercore

import (
	"time"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/rony4d/ledger-txbuilder/inter"
)

// FakeGenesisTime is the block time of fake genesis blocks.
var FakeGenesisTime = inter.FromUnix(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

// GenesisAlloc funds one seed in a fake genesis.
type GenesisAlloc struct {
	Seed Seed
	// Coins are minted in order, each of Token.
	Coins []*uint256.Int
	Token TokenType
	// FeeAllowance is granted to the seed's dust address.
	FeeAllowance uint64
}

// FakeGenesisCoin builds the i-th genesis coin of seed deterministically.
func FakeGenesisCoin(seed Seed, i int, token TokenType, value *uint256.Int) Coin {
	return Coin{
		Nonce: hash.Hash(crypto.Keccak256Hash([]byte("genesis"), seed[:], []byte{byte(i >> 8), byte(i)})),
		Type:  token,
		Value: new(uint256.Int).Set(value),
		Owner: seed.CoinPublicKey(),
	}
}

// FakeGenesis returns the system transactions of a genesis block funding the
// given allocations: one coin distribution and one fee grant per seed.
func FakeGenesis(allocs []GenesisAlloc) []*SystemTransaction {
	var txs []*SystemTransaction
	for _, a := range allocs {
		if len(a.Coins) > 0 {
			coins := make([]Coin, len(a.Coins))
			for i, v := range a.Coins {
				coins[i] = FakeGenesisCoin(a.Seed, i, a.Token, v)
			}
			txs = append(txs, DistributeShielded(coins...))
		}
		if a.FeeAllowance > 0 {
			txs = append(txs, GrantFeeAllowance(a.Seed.VerifyingKey(), a.FeeAllowance))
		}
	}
	return txs
}

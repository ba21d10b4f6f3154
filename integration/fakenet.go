package integration

import (
	"github.com/holiman/uint256"

	"github.com/rony4d/ledger-txbuilder/chain/memchain"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/network"
)

// Coins and fee allowance every seed gets on a fake network.
var (
	FakeNetCoins     = []uint64{1_000_000_000, 2_500_000_000, 10_000_000_000}
	FakeNetAllowance = uint64(1_000_000_000)
)

// FakeNet starts an in-memory undeployed network whose genesis funds every
// seed with FakeNetCoins of token.
func FakeNet(token ledgercore.TokenType, seeds ...ledgercore.Seed) (*memchain.Chain, error) {
	allocs := make([]ledgercore.GenesisAlloc, 0, len(seeds))
	for _, seed := range seeds {
		a := ledgercore.GenesisAlloc{Seed: seed, Token: token, FeeAllowance: FakeNetAllowance}
		for _, v := range FakeNetCoins {
			a.Coins = append(a.Coins, uint256.NewInt(v))
		}
		allocs = append(allocs, a)
	}
	return memchain.New(network.UndeployedRules(), ledgercore.FakeGenesis(allocs))
}

package ledgercore

import (
	"testing"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/ledger-txbuilder/inter"
	"github.com/rony4d/ledger-txbuilder/inter/iblockproc"
	"github.com/rony4d/ledger-txbuilder/network"
)

var testToken = TokenType{31: 2}

func seedN(n byte) Seed {
	var s Seed
	s[31] = n
	return s
}

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func newTestContext(t *testing.T, seeds ...Seed) *LedgerContext {
	c, err := NewFromWalletSeeds(network.UndeployedRules(), seeds)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func blockCtx(i idx.Block) iblockproc.BlockCtx {
	return iblockproc.BlockCtx{
		Idx:        i,
		Time:       FakeGenesisTime + inter.Timestamp(6*i),
		Tolerance:  network.DefaultTimingTolerance,
		ParentHash: hash.Of([]byte{byte(i)}),
	}
}

func systemTxs(txs []*SystemTransaction) []ExtractedTransaction {
	res := make([]ExtractedTransaction, len(txs))
	for i, tx := range txs {
		res[i] = SystemTx(tx)
	}
	return res
}

// applyGenesis funds every seed with the given coins and a fee allowance.
func applyGenesis(t *testing.T, c *LedgerContext, coins []uint64, seeds ...Seed) BlockResult {
	var allocs []GenesisAlloc
	for _, s := range seeds {
		a := GenesisAlloc{Seed: s, Token: testToken, FeeAllowance: 1_000_000}
		for _, v := range coins {
			a.Coins = append(a.Coins, u(v))
		}
		allocs = append(allocs, a)
	}
	res, err := c.UpdateFromBlock(systemTxs(FakeGenesis(allocs)), blockCtx(0))
	require.NoError(t, err)
	require.Zero(t, res.Rejected())
	return res
}

func outputTo(seed Seed, value uint64, nonce []byte) Output {
	return Output{Coin: Coin{
		Nonce: hash.Of(nonce),
		Type:  testToken,
		Value: u(value),
		Owner: seed.CoinPublicKey(),
	}}
}

// spendOffer spends the smallest coin of from covering amount, pays amount to
// to and returns the change to from.
func spendOffer(t *testing.T, c *LedgerContext, from, to Seed, amount uint64, nonce string) *Offer {
	w, err := c.WalletFromSeed(from)
	require.NoError(t, err)
	coin, err := w.MinMatchCoin(testToken, u(amount), nil)
	require.NoError(t, err)

	o := &Offer{
		Inputs:  []Input{{Coin: coin, Nullifier: w.Nullifier(coin)}},
		Outputs: []Output{outputTo(to, amount, []byte(nonce+"/pay"))},
	}
	change := new(uint256.Int).Sub(coin.Value, u(amount))
	if !change.IsZero() {
		o.Outputs = append(o.Outputs, outputTo(from, change.Uint64(), []byte(nonce+"/change")))
	}
	return o
}

// finalize sets a sufficient fee paid by payer, signs it and attaches a real
// proof.
func finalize(t *testing.T, c *LedgerContext, tx *Transaction, payer Seed) *Transaction {
	w, err := c.WalletFromSeed(payer)
	require.NoError(t, err)

	tx.NetworkID = c.NetworkID()
	tx.Fees = []FeePayment{{Payer: w.VerifyingKey(), Signature: make([]byte, 64)}}
	tx.Proof = Proof{Kind: ProofReal, Data: MockProofData()}
	for i := 0; i < 4; i++ {
		fee, err := TransactionFee(c.Rules().Economy, tx)
		require.NoError(t, err)
		if fee == tx.Fees[0].Amount {
			break
		}
		tx.Fees[0].Amount = fee
	}
	require.NoError(t, tx.SignFees([]*Wallet{w}))
	tx.Proof = Proof{Kind: ProofReal, Data: RealProofData(tx.SigningHash())}
	return tx
}

func transferTx(t *testing.T, c *LedgerContext, from, to Seed, amount uint64, nonce string) *Transaction {
	tx := &Transaction{
		GuaranteedOffer: spendOffer(t, c, from, to, amount, nonce),
		Intents:         []Intent{{Segment: 1}},
		BindingNonce:    hash.Of([]byte(nonce)),
	}
	return finalize(t, c, tx, from)
}

package replay

import (
	"context"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/ledger-txbuilder/chain"
	"github.com/rony4d/ledger-txbuilder/chain/memchain"
	"github.com/rony4d/ledger-txbuilder/inter"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/network"
)

var (
	rules = network.UndeployedRules()
	token = ledgercore.TokenType{31: 2}
	alice = ledgercore.Seed{31: 1}
	bob   = ledgercore.Seed{31: 2}
)

func genesis() []*ledgercore.SystemTransaction {
	return ledgercore.FakeGenesis([]ledgercore.GenesisAlloc{
		{Seed: alice, Coins: []*uint256.Int{uint256.NewInt(1000)}, Token: token, FeeAllowance: 1_000_000},
		{Seed: bob, Token: token, FeeAllowance: 1_000_000},
	})
}

func coinFor(owner ledgercore.Seed, value uint64, nonce string) ledgercore.Coin {
	return ledgercore.Coin{
		Nonce: hash.Of([]byte(nonce)),
		Type:  token,
		Value: uint256.NewInt(value),
		Owner: owner.CoinPublicKey(),
	}
}

// spend builds a proven transaction moving coin of from into outs.
func spend(t *testing.T, from ledgercore.Seed, coin ledgercore.Coin, nonce string, outs ...ledgercore.Coin) inter.Extrinsic {
	offer := &ledgercore.Offer{Inputs: []ledgercore.Input{{Coin: coin, Nullifier: coin.Nullifier(from)}}}
	for _, c := range outs {
		offer.Outputs = append(offer.Outputs, ledgercore.Output{Coin: c})
	}
	w := ledgercore.NewWallet(from)
	tx := &ledgercore.Transaction{
		NetworkID:       rules.Name,
		GuaranteedOffer: offer,
		Intents:         []ledgercore.Intent{{Segment: 1}},
		Fees:            []ledgercore.FeePayment{{Payer: w.VerifyingKey(), Signature: make([]byte, 64)}},
		BindingNonce:    hash.Of([]byte(nonce)),
		Proof:           ledgercore.Proof{Kind: ledgercore.ProofReal, Data: ledgercore.MockProofData()},
	}
	for i := 0; i < 4; i++ {
		fee, err := ledgercore.TransactionFee(rules.Economy, tx)
		require.NoError(t, err)
		tx.Fees[0].Amount = fee
	}
	require.NoError(t, tx.SignFees([]*ledgercore.Wallet{w}))
	tx.Proof.Data = ledgercore.RealProofData(tx.SigningHash())

	raw, err := ledgercore.SerializeTransaction(tx)
	require.NoError(t, err)
	return inter.EncodeSubmit(rules.Calls.SubmitTransaction, raw)
}

// newChain builds genesis, a block paying 400 from alice to bob, and a block
// where bob sends those 400 back.
func newChain(t *testing.T) *memchain.Chain {
	c, err := memchain.New(rules, genesis())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	start := ledgercore.FakeGenesisCoin(alice, 0, token, uint256.NewInt(1000))
	toBob := coinFor(bob, 400, "1/pay")
	_, err = c.Produce(spend(t, alice, start, "1", toBob, coinFor(alice, 600, "1/change")))
	require.NoError(t, err)
	_, err = c.Produce(spend(t, bob, toBob, "2", coinFor(alice, 400, "2/pay")))
	require.NoError(t, err)
	return c
}

func newContext(t *testing.T) *ledgercore.LedgerContext {
	lc, err := ledgercore.NewFromWalletSeeds(rules, []ledgercore.Seed{alice, bob})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lc.Close() })
	return lc
}

func balance(t *testing.T, lc *ledgercore.LedgerContext, s ledgercore.Seed) uint64 {
	w, err := lc.WalletFromSeed(s)
	require.NoError(t, err)
	return w.Balance(token).Uint64()
}

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func TestReplay(t *testing.T) {
	require := require.New(t)
	c := newChain(t)

	lc := newContext(t)
	state, err := New(c, rules, quietLogger()).Run(context.Background(), lc)
	require.NoError(err)
	require.True(state.Done())
	require.Equal(idx.Block(2), state.Target)
	require.Equal(idx.Block(2), state.LastBlock.Idx)
	require.Len(genesis(), 3) // alice distribution, alice grant, bob grant
	require.Equal(uint64(len(genesis())+2), state.Transactions)
	require.Zero(state.Diagnostics)
	require.Greater(state.Bytes, uint64(2*(8+2*32)))

	require.Equal(uint64(1000), balance(t, lc, alice))
	require.Equal(uint64(0), balance(t, lc, bob))

	last, ok := lc.LastBlock()
	require.True(ok)
	require.Equal(ledgercore.FakeGenesisTime+inter.Timestamp(2*memchain.BlockTime/1000), last.Time)
	require.Equal(rules.Blocks.TimingTolerance, last.Tolerance)

	// the chain's own ledger agrees on the store
	chainRoot, err := c.Ledger().StateRoot()
	require.NoError(err)
	require.NotEqual(hash.Hash{}, chainRoot)
}

func TestReplayIsDeterministic(t *testing.T) {
	require := require.New(t)
	c := newChain(t)

	var roots []hash.Hash
	for i := 0; i < 2; i++ {
		lc := newContext(t)
		_, err := New(c, rules, quietLogger()).Run(context.Background(), lc)
		require.NoError(err)
		root, err := lc.StateRoot()
		require.NoError(err)
		roots = append(roots, root)
	}
	require.Equal(roots[0], roots[1])
}

// swapped serves the blocks of a chain with two heights exchanged.
type swapped struct {
	chain.Client
	a, b idx.Block
}

func (s *swapped) BlockHash(ctx context.Context, n idx.Block) (hash.Hash, error) {
	switch n {
	case s.a:
		n = s.b
	case s.b:
		n = s.a
	}
	return s.Client.BlockHash(ctx, n)
}

func (s *swapped) Block(ctx context.Context, h hash.Hash) (*chain.RawBlock, error) {
	b, err := s.Client.Block(ctx, h)
	if err != nil {
		return nil, err
	}
	switch b.Number {
	case s.a:
		b.Number = s.b
	case s.b:
		b.Number = s.a
	}
	return b, nil
}

func TestReplayIsOrderSensitive(t *testing.T) {
	require := require.New(t)
	c := newChain(t)

	ordered := newContext(t)
	_, err := New(c, rules, quietLogger()).Run(context.Background(), ordered)
	require.NoError(err)

	permuted := newContext(t)
	_, err = New(&swapped{Client: c, a: 1, b: 2}, rules, quietLogger()).Run(context.Background(), permuted)
	require.NoError(err)

	// bob's refund was folded before bob had the coin, so it never happened
	require.Equal(uint64(600), balance(t, permuted, alice))
	require.Equal(uint64(400), balance(t, permuted, bob))

	r1, err := ordered.StateRoot()
	require.NoError(err)
	r2, err := permuted.StateRoot()
	require.NoError(err)
	require.NotEqual(r1, r2)
}

func TestCorruptedTransactionIsSkipped(t *testing.T) {
	require := require.New(t)
	c := newChain(t)

	// alice's 600 change coin pays bob 100 next to a garbage payload
	change := coinFor(alice, 600, "1/change")
	good := spend(t, alice, change, "3", coinFor(bob, 100, "3/pay"), coinFor(alice, 500, "3/change"))
	bad := inter.EncodeSubmit(rules.Calls.SubmitTransaction, []byte(ledgercore.TransactionTag))
	_, err := c.Produce(bad, good)
	require.NoError(err)
	_, err = c.Produce()
	require.NoError(err)

	log, hook := test.NewNullLogger()
	lc := newContext(t)
	state, err := New(c, rules, log).Run(context.Background(), lc)
	require.NoError(err)
	require.Equal(idx.Block(4), state.LastBlock.Idx)
	require.Equal(uint64(1), state.Diagnostics)
	require.Equal(uint64(900), balance(t, lc, alice))
	require.Equal(uint64(100), balance(t, lc, bob))

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["height"] == idx.Block(3) {
			warned = true
		}
	}
	require.True(warned)
}

func TestFatalConditions(t *testing.T) {
	t.Run("missing timestamp", func(t *testing.T) {
		c := newChain(t)
		_, err := c.ProduceRaw()
		require.NoError(t, err)

		state, err := New(c, rules, quietLogger()).Run(context.Background(), newContext(t))
		require.ErrorIs(t, err, ErrMissingTimestamp)
		require.Equal(t, idx.Block(2), state.LastBlock.Idx)
	})

	t.Run("missing block hash", func(t *testing.T) {
		c := newChain(t)
		c.Forget(1)

		state, err := New(c, rules, quietLogger()).Run(context.Background(), newContext(t))
		require.ErrorIs(t, err, chain.ErrBlockHashMissing)
		require.True(t, state.Started)
		require.Equal(t, idx.Block(0), state.LastBlock.Idx)
	})

	t.Run("closed client", func(t *testing.T) {
		c := newChain(t)
		require.NoError(t, c.Close())
		_, err := New(c, rules, quietLogger()).Run(context.Background(), newContext(t))
		require.Error(t, err)
	})
}

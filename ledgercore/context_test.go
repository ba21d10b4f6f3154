package ledgercore

import (
	"testing"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/ledger-txbuilder/inter/committeepk"
)

func TestGenesis(t *testing.T) {
	require := require.New(t)

	alice, bob := seedN(1), seedN(2)
	c := newTestContext(t, alice, bob)
	_, started := c.LastBlock()
	require.False(started)

	res := applyGenesis(t, c, []uint64{100, 250}, alice)
	require.Len(res.Results, 2)
	require.NotEqual(hash.Hash{}, res.StateRoot)

	last, started := c.LastBlock()
	require.True(started)
	require.Equal(blockCtx(0), last)

	w, err := c.WalletFromSeed(alice)
	require.NoError(err)
	require.Equal(u(350), w.Balance(testToken))
	allowance, err := c.FeeAllowance(w.DustAddress())
	require.NoError(err)
	require.Equal(uint64(1_000_000), allowance)

	w, err = c.WalletFromSeed(bob)
	require.NoError(err)
	require.True(w.Balance(testToken).IsZero())

	_, err = c.WalletFromSeed(seedN(9))
	require.ErrorIs(err, ErrUnknownWallet)
}

func TestTransfer(t *testing.T) {
	require := require.New(t)

	alice, bob := seedN(1), seedN(2)
	c := newTestContext(t, alice, bob)
	applyGenesis(t, c, []uint64{100, 250}, alice)

	tx := transferTx(t, c, alice, bob, 120, "t1")
	spent := tx.GuaranteedOffer.Inputs[0].Coin
	fee := tx.FeeTotal()
	require.NotZero(fee)

	res, err := c.UpdateFromBlock([]ExtractedTransaction{UserTx(tx)}, blockCtx(1))
	require.NoError(err)
	require.Len(res.Results, 1)
	require.Equal(TxApplied, res.Results[0].Status, "%v", res.Results[0].Err)
	require.Equal(tx.Hash(), res.Results[0].Hash)

	wa, err := c.WalletFromSeed(alice)
	require.NoError(err)
	wb, err := c.WalletFromSeed(bob)
	require.NoError(err)
	require.Equal(u(230), wa.Balance(testToken))
	require.Equal(u(120), wb.Balance(testToken))

	isSpent, err := c.IsSpent(spent.Commitment())
	require.NoError(err)
	require.True(isSpent)

	allowance, err := c.FeeAllowance(wa.DustAddress())
	require.NoError(err)
	require.Equal(1_000_000-fee, allowance)

	// replaying the same transaction spends a spent coin
	res, err = c.UpdateFromBlock([]ExtractedTransaction{UserTx(tx)}, blockCtx(2))
	require.NoError(err)
	require.Equal(TxRejected, res.Results[0].Status)
	require.ErrorIs(res.Results[0].Err, ErrCommitmentSpent)
}

func TestStateRootDeterminism(t *testing.T) {
	require := require.New(t)

	alice, bob := seedN(1), seedN(2)
	run := func(order []string) hash.Hash {
		c := newTestContext(t, alice, bob)
		applyGenesis(t, c, []uint64{100, 250}, alice, bob)
		txs := map[string]*Transaction{
			"a": transferTx(t, c, alice, bob, 10, "a"),
			"b": transferTx(t, c, bob, alice, 20, "b"),
		}
		var block []ExtractedTransaction
		for _, k := range order {
			block = append(block, UserTx(txs[k]))
		}
		res, err := c.UpdateFromBlock(block, blockCtx(1))
		require.NoError(err)
		require.Zero(res.Rejected())
		return res.StateRoot
	}

	ab := run([]string{"a", "b"})
	require.Equal(ab, run([]string{"a", "b"}))
	require.NotEqual(ab, run([]string{"b", "a"}))
}

func TestBlockOrder(t *testing.T) {
	require := require.New(t)

	c := newTestContext(t, seedN(1))
	_, err := c.UpdateFromBlock(nil, blockCtx(1))
	require.ErrorIs(err, ErrBlockOutOfOrder)

	applyGenesis(t, c, nil, seedN(1))
	_, err = c.UpdateFromBlock(nil, blockCtx(0))
	require.ErrorIs(err, ErrBlockOutOfOrder)
	_, err = c.UpdateFromBlock(nil, blockCtx(2))
	require.ErrorIs(err, ErrBlockOutOfOrder)
	_, err = c.UpdateFromBlock(nil, blockCtx(1))
	require.NoError(err)
}

func TestRejections(t *testing.T) {
	alice, bob := seedN(1), seedN(2)

	for name, tc := range map[string]struct {
		mutate func(t *testing.T, c *LedgerContext, tx *Transaction)
		err    error
	}{
		"mock proof": {
			mutate: func(t *testing.T, c *LedgerContext, tx *Transaction) {
				tx.Proof = Proof{Kind: ProofMock, Data: MockProofData()}
			},
			err: ErrProofRequired,
		},
		"stale proof": {
			mutate: func(t *testing.T, c *LedgerContext, tx *Transaction) {
				tx.BindingNonce = hash.Of([]byte("other"))
			},
			err: ErrProofInvalid,
		},
		"wrong network": {
			mutate: func(t *testing.T, c *LedgerContext, tx *Transaction) {
				tx.NetworkID = "devnet"
				tx.Proof.Data = RealProofData(tx.SigningHash())
			},
			err: ErrNetworkMismatch,
		},
		"fee too low": {
			mutate: func(t *testing.T, c *LedgerContext, tx *Transaction) {
				w, err := c.WalletFromSeed(alice)
				require.NoError(t, err)
				tx.Fees[0].Amount = 1
				require.NoError(t, tx.SignFees([]*Wallet{w}))
				tx.Proof.Data = RealProofData(tx.SigningHash())
			},
			err: ErrFeeTooLow,
		},
		"bad fee signature": {
			mutate: func(t *testing.T, c *LedgerContext, tx *Transaction) {
				tx.Fees[0].Signature[3] ^= 0xff
			},
			err: ErrBadFeeSignature,
		},
		"unbalanced": {
			mutate: func(t *testing.T, c *LedgerContext, tx *Transaction) {
				tx.GuaranteedOffer.Outputs[0].Coin.Value = u(121)
				finalize(t, c, tx, alice)
			},
			err: ErrUnbalancedOffer,
		},
		"no intents": {
			mutate: func(t *testing.T, c *LedgerContext, tx *Transaction) {
				tx.Intents = nil
				finalize(t, c, tx, alice)
			},
			err: ErrNoIntents,
		},
		"segments": {
			mutate: func(t *testing.T, c *LedgerContext, tx *Transaction) {
				tx.Intents = []Intent{{Segment: 2}, {Segment: 1}}
				finalize(t, c, tx, alice)
			},
			err: ErrBadSegments,
		},
	} {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			c := newTestContext(t, alice, bob)
			applyGenesis(t, c, []uint64{200}, alice)
			before, err := c.StateRoot()
			require.NoError(err)

			tx := transferTx(t, c, alice, bob, 120, name)
			tc.mutate(t, c, tx)
			res, err := c.UpdateFromBlock([]ExtractedTransaction{UserTx(tx)}, blockCtx(1))
			require.NoError(err)
			require.Equal(TxRejected, res.Results[0].Status)
			require.ErrorIs(res.Results[0].Err, tc.err)

			// only the block pointer moved
			w, err := c.WalletFromSeed(alice)
			require.NoError(err)
			require.Equal(u(200), w.Balance(testToken))
			allowance, err := c.FeeAllowance(w.DustAddress())
			require.NoError(err)
			require.Equal(uint64(1_000_000), allowance)
			require.NotEqual(before, res.StateRoot)
		})
	}
}

func TestInsufficientAllowance(t *testing.T) {
	require := require.New(t)

	alice, bob := seedN(1), seedN(2)
	c := newTestContext(t, alice, bob)
	res, err := c.UpdateFromBlock(systemTxs(FakeGenesis([]GenesisAlloc{
		{Seed: alice, Coins: []*uint256.Int{u(100)}, Token: testToken, FeeAllowance: 10},
	})), blockCtx(0))
	require.NoError(err)
	require.Zero(res.Rejected())

	tx := transferTx(t, c, alice, bob, 50, "poor")
	res, err = c.UpdateFromBlock([]ExtractedTransaction{UserTx(tx)}, blockCtx(1))
	require.NoError(err)
	require.ErrorIs(res.Results[0].Err, ErrInsufficientAllowance)
}

func TestFallibleSegments(t *testing.T) {
	require := require.New(t)

	alice, bob := seedN(1), seedN(2)
	c := newTestContext(t, alice, bob)
	applyGenesis(t, c, []uint64{100, 40}, alice)

	w, err := c.WalletFromSeed(alice)
	require.NoError(err)
	coins := w.Coins(testToken)
	spendAll := func(coin Coin, nonce string) *Offer {
		return &Offer{
			Inputs:  []Input{{Coin: coin, Nullifier: w.Nullifier(coin)}},
			Outputs: []Output{outputTo(bob, coin.Value.Uint64(), []byte(nonce))},
		}
	}
	broken := spendAll(coins[1], "broken")
	broken.Outputs[0].Coin.Value = u(41)

	tx := finalize(t, c, &Transaction{
		Intents: []Intent{
			{Segment: 1, Fallible: spendAll(coins[0], "ok")},
			{Segment: 2, Fallible: broken},
		},
		BindingNonce: hash.Of([]byte("fallible")),
	}, alice)

	res, err := c.UpdateFromBlock([]ExtractedTransaction{UserTx(tx)}, blockCtx(1))
	require.NoError(err)
	r := res.Results[0]
	require.Equal(TxPartial, r.Status)
	require.Equal([]uint16{2}, r.FailedSegments)
	require.ErrorIs(r.Err, ErrUnbalancedOffer)

	wb, err := c.WalletFromSeed(bob)
	require.NoError(err)
	require.Equal(u(100), wb.Balance(testToken))
	wa, err := c.WalletFromSeed(alice)
	require.NoError(err)
	require.Equal(u(40), wa.Balance(testToken))

	// the fee was charged even though a segment failed
	allowance, err := c.FeeAllowance(wa.DustAddress())
	require.NoError(err)
	require.Equal(1_000_000-tx.FeeTotal(), allowance)
}

func TestGuaranteedFailureRejectsEverything(t *testing.T) {
	require := require.New(t)

	alice, bob := seedN(1), seedN(2)
	c := newTestContext(t, alice, bob)
	applyGenesis(t, c, []uint64{100}, alice)

	w, err := c.WalletFromSeed(alice)
	require.NoError(err)
	good := spendOffer(t, c, alice, bob, 60, "good")
	ghost := FakeGenesisCoin(alice, 7, testToken, u(5))

	tx := finalize(t, c, &Transaction{
		GuaranteedOffer: good,
		Intents: []Intent{{Segment: 1, Guaranteed: &Offer{
			Inputs:  []Input{{Coin: ghost, Nullifier: w.Nullifier(ghost)}},
			Outputs: []Output{outputTo(bob, 5, []byte("ghost"))},
		}}},
		BindingNonce: hash.Of([]byte("ghost")),
	}, alice)

	res, err := c.UpdateFromBlock([]ExtractedTransaction{UserTx(tx)}, blockCtx(1))
	require.NoError(err)
	require.Equal(TxRejected, res.Results[0].Status)
	require.ErrorIs(res.Results[0].Err, ErrUnknownCommitment)

	wb, err := c.WalletFromSeed(bob)
	require.NoError(err)
	require.True(wb.Balance(testToken).IsZero())
	allowance, err := c.FeeAllowance(w.DustAddress())
	require.NoError(err)
	require.Equal(uint64(1_000_000), allowance)
}

func deployTx(t *testing.T, c *LedgerContext, payer Seed, committee []committeepk.PubKey, threshold uint32, nonce string) *Transaction {
	return finalize(t, c, &Transaction{
		Intents: []Intent{{Segment: 1, Actions: []ContractAction{{
			Kind: ActionDeploy,
			Deploy: &ContractDeploy{
				Nonce:      hash.Of([]byte(nonce)),
				Operations: []Operation{{Name: "store", VerifierKey: VerifierKey{Data: []byte{1}}}},
				Committee:  committee,
				Threshold:  threshold,
			},
		}}}},
		BindingNonce: hash.Of([]byte("deploy/" + nonce)),
	}, payer)
}

func TestDeploy(t *testing.T) {
	require := require.New(t)

	alice := seedN(1)
	c := newTestContext(t, alice)
	applyGenesis(t, c, nil, alice)
	committee := []committeepk.PubKey{alice.VerifyingKey()}

	tx := deployTx(t, c, alice, committee, 1, "c1")
	addr := tx.Intents[0].Actions[0].Deploy.Address()
	res, err := c.UpdateFromBlock([]ExtractedTransaction{UserTx(tx)}, blockCtx(1))
	require.NoError(err)
	require.Equal(TxApplied, res.Results[0].Status, "%v", res.Results[0].Err)
	require.Equal([]hash.Hash{addr}, res.Results[0].Contracts)

	d, err := c.Contract(addr)
	require.NoError(err)
	require.NotNil(d)
	require.Equal("store", d.Operations[0].Name)
	require.Equal(uint32(1), d.Threshold)

	missing, err := c.Contract(hash.Of([]byte("nothing")))
	require.NoError(err)
	require.Nil(missing)

	// same deploy again, under a fresh binding nonce
	again := deployTx(t, c, alice, committee, 1, "c1")
	again.BindingNonce = hash.Of([]byte("again"))
	again = finalize(t, c, again, alice)
	res, err = c.UpdateFromBlock([]ExtractedTransaction{UserTx(again)}, blockCtx(2))
	require.NoError(err)
	require.ErrorIs(res.Results[0].Err, ErrContractExists)

	for i, threshold := range []uint32{0, 2} {
		tx := deployTx(t, c, alice, committee, threshold, "bad")
		res, err = c.UpdateFromBlock([]ExtractedTransaction{UserTx(tx)}, blockCtx(3+idx.Block(i)))
		require.NoError(err)
		require.ErrorIs(res.Results[0].Err, ErrBadThreshold)
	}
}

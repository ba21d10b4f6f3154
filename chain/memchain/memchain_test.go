package memchain

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/ledger-txbuilder/chain"
	"github.com/rony4d/ledger-txbuilder/inter"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/network"
)

func newTestChain(t *testing.T) *Chain {
	rules := network.UndeployedRules()
	c, err := New(rules, ledgercore.FakeGenesis([]ledgercore.GenesisAlloc{{
		Seed:         ledgercore.Seed{31: 1},
		Coins:        []*uint256.Int{uint256.NewInt(10)},
		FeeAllowance: 100,
	}}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGenesisAndBlocks(t *testing.T) {
	require := require.New(t)
	rules := network.UndeployedRules()
	c := newTestChain(t)
	ctx := context.Background()

	id, err := c.NetworkID(ctx)
	require.NoError(err)
	require.Equal(rules.Name, id)

	genesis, err := chain.FetchBlock(ctx, c, 0, rules.Events.Layouts)
	require.NoError(err)
	require.True(genesis.IsGenesis())
	require.Len(genesis.Extrinsics, 3) // timestamp, distribution, grant
	require.Empty(genesis.Events)

	// a system transaction submitted after genesis shows up as an event
	raw, err := ledgercore.SerializeSystemTransaction(ledgercore.GrantFeeAllowance(ledgercore.Seed{31: 2}.VerifyingKey(), 5))
	require.NoError(err)
	_, err = c.Produce(inter.EncodeSubmit(rules.Calls.SubmitSystemTransaction, raw))
	require.NoError(err)

	height, err := c.FinalizedHeight(ctx)
	require.NoError(err)
	require.EqualValues(1, height)

	b, err := chain.FetchBlock(ctx, c, 1, rules.Events.Layouts)
	require.NoError(err)
	require.Equal(genesis.Hash, b.ParentHash)
	events := b.EventsOf(1)
	require.Len(events, 2)
	require.Equal(rules.Events.SystemTransactionApplied, events[0].ID)
	payload, err := events[0].BytesField(0)
	require.NoError(err)
	require.Equal(raw, payload)
	require.Equal(rules.Events.ExtrinsicSuccess, events[1].ID)

	allowance, err := c.Ledger().FeeAllowance(ledgercore.Seed{31: 2}.DustAddress())
	require.NoError(err)
	require.Equal(uint64(5), allowance)
}

func TestSubmitAndWatch(t *testing.T) {
	require := require.New(t)
	rules := network.UndeployedRules()
	c := newTestChain(t)
	ctx := context.Background()

	// a payload the ledger cannot decode is included and fails
	ext := inter.EncodeSubmit(rules.Calls.SubmitTransaction, []byte("junk"))
	p, err := c.SubmitAndWatch(ctx, ext)
	require.NoError(err)
	require.Equal(ext.Hash(), p.ExtrinsicHash())

	var last chain.Status
	for _, want := range []chain.StatusKind{chain.StatusReady, chain.StatusInBlock, chain.StatusFinalized} {
		last, err = p.Next(ctx)
		require.NoError(err)
		require.Equal(want, last.Kind)
	}
	_, err = p.Next(ctx)
	require.ErrorIs(err, chain.ErrWatchClosed)

	b, err := chain.FetchBlock(ctx, c, 1, rules.Events.Layouts)
	require.NoError(err)
	require.Equal(last.Block, b.Hash)
	events := b.EventsOf(1)
	require.Len(events, 1)
	require.Equal(rules.Events.ExtrinsicFailed, events[0].ID)

	// an undecodable extrinsic never enters a block
	p, err = c.SubmitAndWatch(ctx, inter.Extrinsic{0x04, 0x09})
	require.NoError(err)
	s, err := p.Next(ctx)
	require.NoError(err)
	require.Equal(chain.StatusInvalid, s.Kind)
}

func TestInjectedFailures(t *testing.T) {
	require := require.New(t)
	rules := network.UndeployedRules()
	c := newTestChain(t)
	ctx := context.Background()
	ext := inter.EncodeSubmit(rules.Calls.SubmitTransaction, nil)

	boom := errors.New("boom")
	c.BreakWatches(boom)
	p, err := c.SubmitAndWatch(ctx, ext)
	require.NoError(err)
	s, err := p.Next(ctx)
	require.NoError(err)
	require.Equal(chain.StatusReady, s.Kind)
	_, err = p.Next(ctx)
	require.ErrorIs(err, boom)

	c.FailSubmissions(boom)
	_, err = c.SubmitAndWatch(ctx, ext)
	require.ErrorIs(err, boom)

	c.Forget(0)
	_, err = c.BlockHash(ctx, 0)
	require.ErrorIs(err, chain.ErrBlockHashMissing)
}

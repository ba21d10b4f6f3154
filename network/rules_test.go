package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rony4d/ledger-txbuilder/inter"
)

func TestRulesFor(t *testing.T) {
	for _, id := range []string{UndeployedID, DevnetID, TestnetID} {
		rules, ok := RulesFor(id)
		require.True(t, ok, id)
		require.Equal(t, id, rules.Name)
		require.Equal(t, DefaultTimingTolerance, rules.Blocks.TimingTolerance)
	}

	rules, ok := RulesFor("mainnet-42")
	require.False(t, ok)
	require.Equal(t, "mainnet-42", rules.Name)
	require.Equal(t, UndeployedRules().Calls, rules.Calls)
}

func TestEventLayoutsCoverTrackedEvents(t *testing.T) {
	ev := DefaultEventsRules()
	for _, id := range []inter.EventID{ev.ExtrinsicSuccess, ev.ExtrinsicFailed, ev.TxApplied, ev.ContractDeployed, ev.SystemTransactionApplied} {
		_, ok := ev.Layouts[id]
		require.True(t, ok, id.String())
	}
	require.Equal(t, []inter.FieldKind{inter.FieldBytes}, ev.Layouts[ev.SystemTransactionApplied])
}

func TestCallIndicesDistinct(t *testing.T) {
	c := DefaultCallIndices()
	require.NotEqual(t, c.SetTimestamp, c.SubmitTransaction)
	require.NotEqual(t, c.SetTimestamp, c.SubmitSystemTransaction)
	require.NotEqual(t, c.SubmitTransaction, c.SubmitSystemTransaction)
}

func TestRulesCopy(t *testing.T) {
	r := DevnetRules()
	cp := r.Copy()
	cp.Events.Layouts[r.Events.ExtrinsicSuccess][0] = inter.FieldU8
	cp.Economy.FeeBase++

	require.Equal(t, inter.FieldDispatchInfo, r.Events.Layouts[r.Events.ExtrinsicSuccess][0])
	require.NotEqual(t, r.Economy, cp.Economy)
	require.Contains(t, r.String(), `"Name":"devnet"`)
}

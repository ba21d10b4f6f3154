// Package network holds the per-network constants the client needs to talk to
// a node: where the relevant calls and events live in the runtime, how every
// event is laid out on the wire, block timing and fee parameters.
//
// Rules are selected by the network identifier the node reports through the
// runtime API, once, at startup.
package network

import (
	"encoding/json"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/ledger-txbuilder/inter"
)

const (
	UndeployedID = "undeployed"
	DevnetID     = "devnet"
	TestnetID    = "testnet"

	// DefaultTimingTolerance is the block time skew, in seconds, carried in
	// every block context.
	DefaultTimingTolerance inter.Timestamp = 30

	// DefaultProgressInterval is how often, in blocks, replay reports progress.
	DefaultProgressInterval idx.Block = 100
)

// Runtime pallet positions.
const (
	palletSystem         uint8 = 0
	palletTimestamp      uint8 = 1
	palletMidnight       uint8 = 5
	palletMidnightSystem uint8 = 6
)

// Rules describes one network.
type Rules struct {
	Name string

	Calls inter.CallIndices

	Events EventsRules

	Blocks BlocksRules

	Economy EconomyRules
}

// EventsRules locates the events the pipeline inspects and carries the layout
// of every event the runtime can emit.
type EventsRules struct {
	ExtrinsicSuccess         inter.EventID
	ExtrinsicFailed          inter.EventID
	TxApplied                inter.EventID
	ContractDeployed         inter.EventID
	SystemTransactionApplied inter.EventID

	Layouts inter.EventLayouts `json:"-"`
}

type BlocksRules struct {
	// TimingTolerance is the permitted skew between the declared block time
	// and wall time.
	TimingTolerance inter.Timestamp

	ProgressInterval idx.Block
}

// EconomyRules parameterises the transaction fee: FeeBase + FeePerByte per
// byte of the serialized transaction, paid from the payer's fee allowance.
type EconomyRules struct {
	FeeBase    uint64
	FeePerByte uint64
}

// UndeployedRules describes a local development node.
func UndeployedRules() Rules {
	return Rules{
		Name:    UndeployedID,
		Calls:   DefaultCallIndices(),
		Events:  DefaultEventsRules(),
		Blocks:  DefaultBlocksRules(),
		Economy: FakeEconomyRules(),
	}
}

// DevnetRules describes the shared development network.
func DevnetRules() Rules {
	return Rules{
		Name:    DevnetID,
		Calls:   DefaultCallIndices(),
		Events:  DefaultEventsRules(),
		Blocks:  DefaultBlocksRules(),
		Economy: DefaultEconomyRules(),
	}
}

// TestnetRules describes the public test network.
func TestnetRules() Rules {
	return Rules{
		Name:    TestnetID,
		Calls:   DefaultCallIndices(),
		Events:  DefaultEventsRules(),
		Blocks:  DefaultBlocksRules(),
		Economy: DefaultEconomyRules(),
	}
}

// RulesFor returns the rules of the network called id. The second result is
// false when id is unknown, in which case the undeployed rules are returned.
func RulesFor(id string) (Rules, bool) {
	switch id {
	case UndeployedID:
		return UndeployedRules(), true
	case DevnetID:
		return DevnetRules(), true
	case TestnetID:
		return TestnetRules(), true
	}
	rules := UndeployedRules()
	rules.Name = id
	return rules, false
}

func DefaultCallIndices() inter.CallIndices {
	return inter.CallIndices{
		SetTimestamp:            inter.CallIndex{Pallet: palletTimestamp, Call: 0},
		SubmitTransaction:       inter.CallIndex{Pallet: palletMidnight, Call: 0},
		SubmitSystemTransaction: inter.CallIndex{Pallet: palletMidnightSystem, Call: 0},
	}
}

func DefaultEventsRules() EventsRules {
	return EventsRules{
		ExtrinsicSuccess:         inter.EventID{Pallet: palletSystem, Variant: 0},
		ExtrinsicFailed:          inter.EventID{Pallet: palletSystem, Variant: 1},
		TxApplied:                inter.EventID{Pallet: palletMidnight, Variant: 0},
		ContractDeployed:         inter.EventID{Pallet: palletMidnight, Variant: 2},
		SystemTransactionApplied: inter.EventID{Pallet: palletMidnightSystem, Variant: 0},
		Layouts:                  DefaultEventLayouts(),
	}
}

// DefaultEventLayouts lists the events of the runtime.
func DefaultEventLayouts() inter.EventLayouts {
	return inter.EventLayouts{
		// System
		{Pallet: palletSystem, Variant: 0}: {inter.FieldDispatchInfo},
		{Pallet: palletSystem, Variant: 1}: {inter.FieldDispatchError, inter.FieldDispatchInfo},
		{Pallet: palletSystem, Variant: 2}: {},
		{Pallet: palletSystem, Variant: 3}: {inter.FieldH256},
		{Pallet: palletSystem, Variant: 4}: {inter.FieldH256},
		{Pallet: palletSystem, Variant: 5}: {inter.FieldH256, inter.FieldH256},
		// Midnight
		{Pallet: palletMidnight, Variant: 0}: {inter.FieldH256},
		{Pallet: palletMidnight, Variant: 1}: {inter.FieldH256},
		{Pallet: palletMidnight, Variant: 2}: {inter.FieldH256, inter.FieldH256},
		{Pallet: palletMidnight, Variant: 3}: {inter.FieldU128, inter.FieldH256},
		// MidnightSystem
		{Pallet: palletMidnightSystem, Variant: 0}: {inter.FieldBytes},
	}
}

func DefaultBlocksRules() BlocksRules {
	return BlocksRules{
		TimingTolerance:  DefaultTimingTolerance,
		ProgressInterval: DefaultProgressInterval,
	}
}

func DefaultEconomyRules() EconomyRules {
	return EconomyRules{
		FeeBase:    100_000,
		FeePerByte: 100,
	}
}

// FakeEconomyRules keeps fees small so that genesis allowances last.
func FakeEconomyRules() EconomyRules {
	return EconomyRules{
		FeeBase:    1_000,
		FeePerByte: 1,
	}
}

// Copy returns a deep copy.
func (r Rules) Copy() Rules {
	cp := r
	if r.Events.Layouts != nil {
		cp.Events.Layouts = make(inter.EventLayouts, len(r.Events.Layouts))
		for id, kinds := range r.Events.Layouts {
			cp.Events.Layouts[id] = append([]inter.FieldKind(nil), kinds...)
		}
	}
	return cp
}

func (r Rules) String() string {
	b, _ := json.Marshal(&r)
	return string(b)
}

// Package inter holds the chain-side data model the replay pipeline consumes:
// finalized blocks, their opaque extrinsics, the decoded call set, and the
// event records emitted while the block was executed.
//
// Blocks are immutable once fetched. Nothing in this package talks to the
// network; the chain package fills these structures.
package inter

import (
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
)

// Block is one finalized block as observed through the chain client.
type Block struct {
	// Number is the block height. Genesis is 0.
	Number idx.Block

	// Hash identifies the block. ParentHash is the hash of Number-1, or zero
	// for genesis.
	Hash       hash.Hash
	ParentHash hash.Hash

	// Extrinsics are kept in their encoded form, in block order. The index of
	// an extrinsic in this slice is the one used by ApplyExtrinsic phases.
	Extrinsics []Extrinsic

	// Events is the event log of the block. It is always empty for genesis,
	// since events are produced by execution and genesis is never executed.
	Events []EventRecord
}

// IsGenesis reports whether the block is the first block of the chain.
func (b *Block) IsGenesis() bool {
	return b.Number == 0
}

// EventsOf returns the events emitted while applying extrinsic i, in log order.
func (b *Block) EventsOf(i int) []EventRecord {
	var res []EventRecord
	for _, ev := range b.Events {
		if ev.Phase.Kind == PhaseApplyExtrinsic && int(ev.Phase.Index) == i {
			res = append(res, ev)
		}
	}
	return res
}

// EstimateSize returns an approximate size of the block in bytes.
func (b *Block) EstimateSize() int {
	size := 8 + 2*32
	for _, e := range b.Extrinsics {
		size += len(e)
	}
	for _, ev := range b.Events {
		size += ev.EstimateSize()
	}
	return size
}

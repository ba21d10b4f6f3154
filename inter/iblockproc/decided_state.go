package iblockproc

import (
	"crypto/sha256"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/rony4d/ledger-txbuilder/inter"
)

// BlockCtx is the per-block context every transaction of a block is applied
// under. It is recomputed for every block and never persisted.
type BlockCtx struct {
	Idx idx.Block
	// Time is the logical block time, the block's millisecond timestamp
	// truncated to whole seconds.
	Time inter.Timestamp
	// Tolerance is the permitted skew between the declared block time and
	// the wall clock. It is carried through to the ledger but not checked.
	Tolerance  inter.Timestamp
	ParentHash hash.Hash
}

// NewBlockCtx derives the context of block b from its timestamp inherent.
func NewBlockCtx(b *inter.Block, timestampMs uint64, tolerance inter.Timestamp) BlockCtx {
	return BlockCtx{
		Idx:        b.Number,
		Time:       inter.FromMillis(timestampMs),
		Tolerance:  tolerance,
		ParentHash: b.ParentHash,
	}
}

// Hash returns a digest of the context.
func (ctx BlockCtx) Hash() hash.Hash {
	hasher := sha256.New()
	if err := rlp.Encode(hasher, &ctx); err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}

// ReplayState is the cursor of a replay run.
type ReplayState struct {
	// LastBlock is the context of the last folded block. Its Idx is only
	// meaningful once Started is set, since genesis is block 0.
	LastBlock BlockCtx
	Started   bool

	// Target is the finalized height observed when the run began.
	Target idx.Block

	Transactions uint64
	Diagnostics  uint64
	// Bytes is the estimated size of the folded blocks.
	Bytes uint64
}

// Next returns the height that must be folded next.
func (s ReplayState) Next() idx.Block {
	if !s.Started {
		return 0
	}
	return s.LastBlock.Idx + 1
}

// Done reports whether every block up to Target was folded.
func (s ReplayState) Done() bool {
	return s.Started && s.LastBlock.Idx >= s.Target
}

// Advance records ctx as folded, along with the per-block counters.
func (s *ReplayState) Advance(ctx BlockCtx, txs, diagnostics int) {
	s.LastBlock = ctx
	s.Started = true
	s.Transactions += uint64(txs)
	s.Diagnostics += uint64(diagnostics)
}

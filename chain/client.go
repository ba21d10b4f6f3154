// Package chain defines what the pipeline needs from a node: the finalized
// block history with its event logs, the network identifier, and a
// submit-and-watch channel for bare extrinsics.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/ledger-txbuilder/inter"
)

var (
	// ErrBlockHashMissing is returned when the node has no block at a height
	// it reported as finalized.
	ErrBlockHashMissing = errors.New("block hash not found")
	// ErrBlockNotFound is returned for an unknown block hash.
	ErrBlockNotFound = errors.New("block not found")
	// ErrWatchClosed is returned by Progress.Next once the status stream ended
	// without a terminal status.
	ErrWatchClosed = errors.New("status stream closed")
)

// RawBlock is a block as served by the node, with the event log still in
// its storage encoding.
type RawBlock struct {
	Number     idx.Block
	Hash       hash.Hash
	ParentHash hash.Hash
	Extrinsics []inter.Extrinsic
	// Events is the System.Events storage value at the block, nil when the
	// node has none (genesis).
	Events []byte
}

// Client is a connection to one node.
type Client interface {
	// NetworkID asks the runtime for the network identifier.
	NetworkID(ctx context.Context) (string, error)
	// FinalizedHeight returns the height of the finalized head.
	FinalizedHeight(ctx context.Context) (idx.Block, error)
	// BlockHash returns the hash of the canonical block at height n, or
	// ErrBlockHashMissing.
	BlockHash(ctx context.Context, n idx.Block) (hash.Hash, error)
	// Block fetches a block by hash, with its events.
	Block(ctx context.Context, h hash.Hash) (*RawBlock, error)
	// SubmitAndWatch submits a bare extrinsic and streams its statuses.
	SubmitAndWatch(ctx context.Context, e inter.Extrinsic) (Progress, error)
	Close() error
}

// Progress streams the statuses of one submitted extrinsic.
type Progress interface {
	// ExtrinsicHash identifies the submitted extrinsic.
	ExtrinsicHash() hash.Hash
	// Next blocks until the next status arrives.
	Next(ctx context.Context) (Status, error)
	// Close stops watching.
	Close() error
}

// FetchBlock looks up the block at height n and decodes its event log with
// layouts.
func FetchBlock(ctx context.Context, c Client, n idx.Block, layouts inter.EventLayouts) (*inter.Block, error) {
	h, err := c.BlockHash(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("block %d hash: %w", n, err)
	}
	raw, err := c.Block(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("block %d (%s): %w", n, h, err)
	}
	if raw.Number != n {
		return nil, fmt.Errorf("block %s: node returned height %d, want %d", h, raw.Number, n)
	}

	b := &inter.Block{
		Number:     raw.Number,
		Hash:       h,
		ParentHash: raw.ParentHash,
		Extrinsics: raw.Extrinsics,
	}
	if len(raw.Events) != 0 {
		if b.Events, err = inter.DecodeEvents(raw.Events, layouts); err != nil {
			return nil, fmt.Errorf("block %d events: %w", n, err)
		}
	}
	return b, nil
}

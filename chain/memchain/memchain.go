// Package memchain is an in-memory chain.Client. Every block it produces is
// immediately final. It executes submitted transactions against its own
// ledger so that event logs and finality outcomes look like a node's.
package memchain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/ledger-txbuilder/chain"
	"github.com/rony4d/ledger-txbuilder/inter"
	"github.com/rony4d/ledger-txbuilder/inter/iblockproc"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/network"
	"github.com/rony4d/ledger-txbuilder/utils/scale"
)

// BlockTime is the spacing of produced blocks in milliseconds.
const BlockTime = 6000

var errClosed = errors.New("memchain: client closed")

// Chain is a single-node finalized chain.
type Chain struct {
	mu sync.Mutex

	rules  network.Rules
	ledger *ledgercore.LedgerContext

	blocks    []*chain.RawBlock
	byHash    map[hash.Hash]*chain.RawBlock
	forgotten map[idx.Block]bool
	genesisMs uint64

	submitErr error
	watchErr  error
	closed    bool
}

// New creates a chain whose genesis block carries the given system
// transactions as direct extrinsics.
func New(rules network.Rules, genesis []*ledgercore.SystemTransaction) (*Chain, error) {
	ledger, err := ledgercore.NewFromWalletSeeds(rules, nil)
	if err != nil {
		return nil, err
	}
	c := &Chain{
		rules:     rules,
		ledger:    ledger,
		byHash:    make(map[hash.Hash]*chain.RawBlock),
		forgotten: make(map[idx.Block]bool),
		genesisMs: uint64(ledgercore.FakeGenesisTime.Unix()) * 1000,
	}

	exts := []inter.Extrinsic{inter.EncodeSetTimestamp(rules.Calls.SetTimestamp, c.genesisMs)}
	txs := make([]ledgercore.ExtractedTransaction, 0, len(genesis))
	for _, tx := range genesis {
		raw, err := ledgercore.SerializeSystemTransaction(tx)
		if err != nil {
			return nil, err
		}
		exts = append(exts, inter.EncodeSubmit(rules.Calls.SubmitSystemTransaction, raw))
		txs = append(txs, ledgercore.SystemTx(tx))
	}

	b := c.seal(exts, nil)
	if _, err := ledger.UpdateFromBlock(txs, c.blockCtx(b, c.genesisMs)); err != nil {
		return nil, err
	}
	c.append(b)
	return c, nil
}

func (c *Chain) blockCtx(b *chain.RawBlock, ms uint64) iblockproc.BlockCtx {
	return iblockproc.BlockCtx{
		Idx:        b.Number,
		Time:       inter.FromMillis(ms),
		Tolerance:  c.rules.Blocks.TimingTolerance,
		ParentHash: b.ParentHash,
	}
}

// seal assigns the next height, parent and hash to a block body.
func (c *Chain) seal(exts []inter.Extrinsic, events []byte) *chain.RawBlock {
	b := &chain.RawBlock{
		Number:     idx.Block(len(c.blocks)),
		Extrinsics: exts,
		Events:     events,
	}
	if len(c.blocks) > 0 {
		b.ParentHash = c.blocks[len(c.blocks)-1].Hash
	}
	parts := [][]byte{b.ParentHash.Bytes(), b.Number.Bytes()}
	for _, e := range exts {
		parts = append(parts, e)
	}
	b.Hash = hash.Hash(crypto.Keccak256Hash(parts...))
	return b
}

func (c *Chain) append(b *chain.RawBlock) {
	c.blocks = append(c.blocks, b)
	c.byHash[b.Hash] = b
}

// Produce seals a block made of a timestamp inherent followed by exts,
// executes it and finalizes it.
func (c *Chain) Produce(exts ...inter.Extrinsic) (*chain.RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.genesisMs + uint64(len(c.blocks))*BlockTime
	all := append([]inter.Extrinsic{inter.EncodeSetTimestamp(c.rules.Calls.SetTimestamp, ms)}, exts...)
	return c.produce(all, ms)
}

// ProduceRaw seals a block of exactly exts. No timestamp inherent is added.
func (c *Chain) ProduceRaw(exts ...inter.Extrinsic) (*chain.RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.produce(exts, c.genesisMs+uint64(len(c.blocks))*BlockTime)
}

type pending struct {
	ext   int
	tx    ledgercore.ExtractedTransaction
	event *inter.EventRecord
}

func (c *Chain) produce(exts []inter.Extrinsic, ms uint64) (*chain.RawBlock, error) {
	events := c.rules.Events
	var (
		log     []inter.EventRecord
		applied []pending
		failed  = make(map[int]inter.DispatchError)
	)
	moduleErr := inter.ModuleDispatchError(events.TxApplied.Pallet, 0)

	for i, e := range exts {
		call, err := inter.DecodeCall(e, c.rules.Calls)
		if err != nil {
			failed[i] = moduleErr
			continue
		}
		switch call.Kind {
		case inter.CallSetTimestamp:
			ms = call.Now
		case inter.CallSubmitTransaction:
			tx, err := ledgercore.DeserializeTransaction(call.Payload)
			if err != nil {
				failed[i] = moduleErr
				continue
			}
			h := tx.Hash()
			applied = append(applied, pending{ext: i, tx: ledgercore.UserTx(tx), event: &inter.EventRecord{
				Phase:  inter.ApplyExtrinsic(uint32(i)),
				ID:     events.TxApplied,
				Fields: [][]byte{h.Bytes()},
			}})
		case inter.CallSubmitSystemTransaction:
			tx, err := ledgercore.DeserializeSystemTransaction(call.Payload)
			if err != nil {
				failed[i] = inter.ModuleDispatchError(events.SystemTransactionApplied.Pallet, 0)
				continue
			}
			applied = append(applied, pending{ext: i, tx: ledgercore.SystemTx(tx), event: &inter.EventRecord{
				Phase:  inter.ApplyExtrinsic(uint32(i)),
				ID:     events.SystemTransactionApplied,
				Fields: [][]byte{scale.EncodeBytes(call.Payload)},
			}})
		}
	}

	b := c.seal(exts, nil)
	txs := make([]ledgercore.ExtractedTransaction, len(applied))
	for i, p := range applied {
		txs[i] = p.tx
	}
	res, err := c.ledger.UpdateFromBlock(txs, c.blockCtx(b, ms))
	if err != nil {
		return nil, fmt.Errorf("memchain: block %d: %w", b.Number, err)
	}
	emitted := make(map[int]*inter.EventRecord)
	for i, r := range res.Results {
		if r.Status == ledgercore.TxRejected {
			failed[applied[i].ext] = moduleErr
			continue
		}
		emitted[applied[i].ext] = applied[i].event
	}

	info := inter.EncodeDispatchInfo(0, 0)
	for i := range exts {
		phase := inter.ApplyExtrinsic(uint32(i))
		if de, ok := failed[i]; ok {
			log = append(log, inter.EventRecord{
				Phase:  phase,
				ID:     events.ExtrinsicFailed,
				Fields: [][]byte{inter.EncodeDispatchError(de), info},
			})
			continue
		}
		if ev := emitted[i]; ev != nil {
			log = append(log, *ev)
		}
		log = append(log, inter.EventRecord{Phase: phase, ID: events.ExtrinsicSuccess, Fields: [][]byte{info}})
	}
	b.Events = inter.EncodeEvents(log)
	c.append(b)
	return b, nil
}

// Forget drops the hash of height n from the canonical index, the way a
// pruned or inconsistent node would.
func (c *Chain) Forget(n idx.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgotten[n] = true
}

// FailSubmissions makes every later SubmitAndWatch fail with err.
func (c *Chain) FailSubmissions(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErr = err
}

// BreakWatches makes every later status stream fail with err after the
// ready status, before the extrinsic is included.
func (c *Chain) BreakWatches(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchErr = err
}

// Ledger returns the chain's own view of the ledger.
func (c *Chain) Ledger() *ledgercore.LedgerContext {
	return c.ledger
}

func (c *Chain) NetworkID(context.Context) (string, error) {
	return c.rules.Name, c.check()
}

func (c *Chain) FinalizedHeight(context.Context) (idx.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errClosed
	}
	return idx.Block(len(c.blocks) - 1), nil
}

func (c *Chain) BlockHash(_ context.Context, n idx.Block) (hash.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return hash.Hash{}, errClosed
	}
	if int(n) >= len(c.blocks) || c.forgotten[n] {
		return hash.Hash{}, fmt.Errorf("%w: height %d", chain.ErrBlockHashMissing, n)
	}
	return c.blocks[n].Hash, nil
}

func (c *Chain) Block(_ context.Context, h hash.Hash) (*chain.RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	b, ok := c.byHash[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrBlockNotFound, h)
	}
	cp := *b
	return &cp, nil
}

// SubmitAndWatch includes e in a new block right away. The returned stream
// replays the pool statuses of that inclusion.
func (c *Chain) SubmitAndWatch(_ context.Context, e inter.Extrinsic) (chain.Progress, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errClosed
	}
	if c.submitErr != nil {
		err := c.submitErr
		c.mu.Unlock()
		return nil, err
	}
	watchErr := c.watchErr
	c.mu.Unlock()

	p := &progress{hash: e.Hash()}
	if _, err := inter.DecodeCall(e, c.rules.Calls); err != nil {
		p.statuses = []chain.Status{{Kind: chain.StatusInvalid}}
		return p, nil
	}
	p.statuses = []chain.Status{{Kind: chain.StatusReady}}
	if watchErr != nil {
		p.err = watchErr
		return p, nil
	}
	b, err := c.Produce(e)
	if err != nil {
		return nil, err
	}
	p.statuses = append(p.statuses,
		chain.Status{Kind: chain.StatusInBlock, Block: b.Hash},
		chain.Status{Kind: chain.StatusFinalized, Block: b.Hash},
	)
	return p, nil
}

func (c *Chain) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	return nil
}

func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ledger.Close()
}

type progress struct {
	hash     hash.Hash
	statuses []chain.Status
	err      error
}

func (p *progress) ExtrinsicHash() hash.Hash { return p.hash }

func (p *progress) Next(ctx context.Context) (chain.Status, error) {
	if err := ctx.Err(); err != nil {
		return chain.Status{}, err
	}
	if len(p.statuses) == 0 {
		if p.err != nil {
			return chain.Status{}, p.err
		}
		return chain.Status{}, chain.ErrWatchClosed
	}
	s := p.statuses[0]
	p.statuses = p.statuses[1:]
	return s, nil
}

func (p *progress) Close() error { return nil }

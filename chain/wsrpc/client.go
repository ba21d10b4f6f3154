// Package wsrpc is a chain.Client speaking the node's JSON-RPC dialect over a
// websocket.
package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/ledger-txbuilder/chain"
	"github.com/rony4d/ledger-txbuilder/inter"
	"github.com/rony4d/ledger-txbuilder/utils/scale"
)

const (
	// EventsStorageKey is twox128("System") ++ twox128("Events").
	EventsStorageKey = "0x26aa394eea5630e07c48ae0c9558cef780d41e5e16056765bc8461851072c9d7"

	// NetworkIDRuntimeCall is the runtime API method returning the network
	// identifier.
	NetworkIDRuntimeCall = "MidnightRuntimeApi_get_network_id"

	methodFinalizedHead  = "chain_getFinalizedHead"
	methodHeader         = "chain_getHeader"
	methodBlockHash      = "chain_getBlockHash"
	methodBlock          = "chain_getBlock"
	methodStorage        = "state_getStorage"
	methodRuntimeCall    = "state_call"
	methodSubmitAndWatch = "author_submitAndWatchExtrinsic"
	methodUnwatch        = "author_unwatchExtrinsic"
)

// Client is a connection to one node.
type Client struct {
	conn *conn
	log  logrus.FieldLogger
}

var _ chain.Client = (*Client)(nil)

// Dial connects to the websocket endpoint url.
func Dial(ctx context.Context, url string, log logrus.FieldLogger) (*Client, error) {
	log = log.WithField("node", url)
	c, err := dial(ctx, url, log)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c, log: log}, nil
}

// hexHash is a 32 byte hash in 0x-prefixed hex.
type hexHash hash.Hash

func (h *hexHash) UnmarshalJSON(input []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalJSON(input); err != nil {
		return err
	}
	if len(b) != len(h) {
		return fmt.Errorf("hash of %d bytes", len(b))
	}
	copy(h[:], b)
	return nil
}

type header struct {
	ParentHash hexHash        `json:"parentHash"`
	Number     hexutil.Uint64 `json:"number"`
}

type signedBlock struct {
	Block struct {
		Header     header          `json:"header"`
		Extrinsics []hexutil.Bytes `json:"extrinsics"`
	} `json:"block"`
}

func (c *Client) NetworkID(ctx context.Context) (string, error) {
	var raw hexutil.Bytes
	if err := c.conn.Call(ctx, &raw, methodRuntimeCall, NetworkIDRuntimeCall, "0x"); err != nil {
		return "", err
	}
	id, err := scale.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("network id: %w", err)
	}
	return id, nil
}

func (c *Client) FinalizedHeight(ctx context.Context) (idx.Block, error) {
	var head hexHash
	if err := c.conn.Call(ctx, &head, methodFinalizedHead); err != nil {
		return 0, err
	}
	var hdr *header
	if err := c.conn.Call(ctx, &hdr, methodHeader, hexutil.Encode(head[:])); err != nil {
		return 0, err
	}
	if hdr == nil {
		return 0, fmt.Errorf("%w: finalized head %s", chain.ErrBlockNotFound, hash.Hash(head))
	}
	return idx.Block(hdr.Number), nil
}

func (c *Client) BlockHash(ctx context.Context, n idx.Block) (hash.Hash, error) {
	var h *hexHash
	if err := c.conn.Call(ctx, &h, methodBlockHash, uint64(n)); err != nil {
		return hash.Hash{}, err
	}
	if h == nil {
		return hash.Hash{}, fmt.Errorf("%w: height %d", chain.ErrBlockHashMissing, n)
	}
	return hash.Hash(*h), nil
}

func (c *Client) Block(ctx context.Context, h hash.Hash) (*chain.RawBlock, error) {
	at := hexutil.Encode(h[:])
	var sb *signedBlock
	if err := c.conn.Call(ctx, &sb, methodBlock, at); err != nil {
		return nil, err
	}
	if sb == nil {
		return nil, fmt.Errorf("%w: %s", chain.ErrBlockNotFound, h)
	}
	var events *hexutil.Bytes
	if err := c.conn.Call(ctx, &events, methodStorage, EventsStorageKey, at); err != nil {
		return nil, err
	}

	b := &chain.RawBlock{
		Number:     idx.Block(sb.Block.Header.Number),
		Hash:       h,
		ParentHash: hash.Hash(sb.Block.Header.ParentHash),
		Extrinsics: make([]inter.Extrinsic, len(sb.Block.Extrinsics)),
	}
	for i, e := range sb.Block.Extrinsics {
		b.Extrinsics[i] = inter.Extrinsic(e)
	}
	if events != nil {
		b.Events = *events
	}
	return b, nil
}

func (c *Client) SubmitAndWatch(ctx context.Context, e inter.Extrinsic) (chain.Progress, error) {
	sub, err := c.conn.Subscribe(ctx, methodSubmitAndWatch, hexutil.Encode(e))
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"ext_hash": e.Hash(), "subscription": sub.id}).Debug("Watching extrinsic")
	return &progress{conn: c.conn, sub: sub, hash: e.Hash()}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

type progress struct {
	conn *conn
	sub  *subscription
	hash hash.Hash
}

func (p *progress) ExtrinsicHash() hash.Hash { return p.hash }

func (p *progress) Next(ctx context.Context) (chain.Status, error) {
	raw, err := p.conn.Next(ctx, p.sub)
	if err != nil {
		if errors.Is(err, ErrSubscriptionClosed) {
			return chain.Status{}, chain.ErrWatchClosed
		}
		return chain.Status{}, err
	}
	return ParseStatus(raw)
}

func (p *progress) Close() error {
	return p.conn.Unsubscribe(context.Background(), methodUnwatch, p.sub)
}

// ParseStatus decodes one pool status notification. Statuses are either a
// bare name ("ready") or a single-key object ({"inBlock": "0x.."}).
func ParseStatus(raw json.RawMessage) (chain.Status, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		kind, ok := chain.ParseStatusKind(name)
		if !ok {
			return chain.Status{}, fmt.Errorf("unknown status %q", name)
		}
		return chain.Status{Kind: kind}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return chain.Status{}, fmt.Errorf("status: %w", err)
	}
	if len(obj) != 1 {
		return chain.Status{}, fmt.Errorf("status with %d keys", len(obj))
	}
	for name, value := range obj {
		kind, ok := chain.ParseStatusKind(name)
		if !ok {
			return chain.Status{}, fmt.Errorf("unknown status %q", name)
		}
		s := chain.Status{Kind: kind}
		switch kind {
		case chain.StatusInBlock, chain.StatusRetracted, chain.StatusFinalized,
			chain.StatusFinalityTimeout, chain.StatusUsurped:
			var h hexHash
			if err := json.Unmarshal(value, &h); err != nil {
				return chain.Status{}, fmt.Errorf("status %s: %w", name, err)
			}
			s.Block = hash.Hash(h)
		}
		return s, nil
	}
	panic("unreachable")
}

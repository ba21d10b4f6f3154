package wsrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/ledger-txbuilder/chain"
	"github.com/rony4d/ledger-txbuilder/inter"
	"github.com/rony4d/ledger-txbuilder/utils/scale"
)

type rpcRequest struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers the JSON-RPC methods the client uses from fixed data.
type fakeNode struct {
	t         *testing.T
	hashes    map[uint64]hash.Hash
	headers   map[hash.Hash]uint64
	events    map[hash.Hash][]byte
	networkID string
	statuses  []interface{}
	// dropAfter closes the socket after that many status notifications.
	dropAfter int

	mu        sync.Mutex
	submitted [][]byte
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	for {
		var req rpcRequest
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		reply := func(result interface{}) {
			_ = ws.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
		}
		param := func(i int) string {
			var s string
			_ = json.Unmarshal(req.Params[i], &s)
			return s
		}

		switch req.Method {
		case methodRuntimeCall:
			w := scale.NewWriter()
			w.String(n.networkID)
			reply(hexutil.Encode(w.Bytes()))
		case methodFinalizedHead:
			reply(n.hashes[uint64(len(n.hashes)-1)].Hex())
		case methodHeader, methodBlock:
			h := hash.HexToHash(param(0))
			num, ok := n.headers[h]
			if !ok {
				reply(nil)
				continue
			}
			hdr := map[string]string{
				"parentHash": n.hashes[num-1].Hex(),
				"number":     hexutil.EncodeUint64(num),
			}
			if num == 0 {
				hdr["parentHash"] = hash.Hash{}.Hex()
			}
			if req.Method == methodHeader {
				reply(hdr)
				continue
			}
			reply(map[string]interface{}{"block": map[string]interface{}{
				"header":     hdr,
				"extrinsics": []string{hexutil.Encode(inter.EncodeSetTimestamp(inter.CallIndex{Pallet: 1}, 1000*num))},
			}})
		case methodBlockHash:
			var num uint64
			require.NoError(n.t, json.Unmarshal(req.Params[0], &num))
			h, ok := n.hashes[num]
			if !ok {
				reply(nil)
				continue
			}
			reply(h.Hex())
		case methodStorage:
			require.Equal(n.t, EventsStorageKey, param(0))
			ev, ok := n.events[hash.HexToHash(param(1))]
			if !ok {
				reply(nil)
				continue
			}
			reply(hexutil.Encode(ev))
		case methodSubmitAndWatch:
			n.mu.Lock()
			n.submitted = append(n.submitted, hexutil.MustDecode(param(0)))
			n.mu.Unlock()
			reply("sub-1")
			for i, st := range n.statuses {
				if n.dropAfter > 0 && i == n.dropAfter {
					return
				}
				_ = ws.WriteJSON(map[string]interface{}{
					"jsonrpc": "2.0",
					"method":  "author_extrinsicUpdate",
					"params":  map[string]interface{}{"subscription": "sub-1", "result": st},
				})
			}
		case methodUnwatch:
			reply(true)
		default:
			_ = ws.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32601, "message": "Method not found"},
			})
		}
	}
}

func newFakeNode(t *testing.T, height uint64) *fakeNode {
	n := &fakeNode{
		t:         t,
		hashes:    make(map[uint64]hash.Hash),
		headers:   make(map[hash.Hash]uint64),
		events:    make(map[hash.Hash][]byte),
		networkID: "undeployed",
	}
	for i := uint64(0); i <= height; i++ {
		h := hash.Of([]byte{byte(i), 0xaa})
		n.hashes[i] = h
		n.headers[h] = i
		if i > 0 {
			n.events[h] = inter.EncodeEvents(nil)
		}
	}
	return n
}

func dialFake(t *testing.T, n *fakeNode) *Client {
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestQueries(t *testing.T) {
	require := require.New(t)
	node := newFakeNode(t, 3)
	c := dialFake(t, node)
	ctx := context.Background()

	id, err := c.NetworkID(ctx)
	require.NoError(err)
	require.Equal("undeployed", id)

	height, err := c.FinalizedHeight(ctx)
	require.NoError(err)
	require.EqualValues(3, height)

	h, err := c.BlockHash(ctx, 2)
	require.NoError(err)
	require.Equal(node.hashes[2], h)

	_, err = c.BlockHash(ctx, 4)
	require.ErrorIs(err, chain.ErrBlockHashMissing)

	b, err := c.Block(ctx, h)
	require.NoError(err)
	require.EqualValues(2, b.Number)
	require.Equal(node.hashes[1], b.ParentHash)
	require.Len(b.Extrinsics, 1)
	require.Equal(inter.EncodeEvents(nil), b.Events)

	genesis, err := c.Block(ctx, node.hashes[0])
	require.NoError(err)
	require.Nil(genesis.Events)

	_, err = c.Block(ctx, hash.Of([]byte("unknown")))
	require.ErrorIs(err, chain.ErrBlockNotFound)

	fetched, err := chain.FetchBlock(ctx, c, 1, inter.EventLayouts{})
	require.NoError(err)
	require.Equal(node.hashes[1], fetched.Hash)
	require.Empty(fetched.Events)
}

func TestRPCError(t *testing.T) {
	c := dialFake(t, newFakeNode(t, 0))
	err := c.conn.Call(context.Background(), nil, "nope_method")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32601, rpcErr.Code)
}

func TestSubmitAndWatch(t *testing.T) {
	require := require.New(t)
	block := hash.Of([]byte("included"))
	node := newFakeNode(t, 0)
	node.statuses = []interface{}{
		"ready",
		map[string]interface{}{"broadcast": []string{"peer"}},
		map[string]string{"inBlock": block.Hex()},
		map[string]string{"finalized": block.Hex()},
	}
	c := dialFake(t, node)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ext := inter.EncodeSubmit(inter.CallIndex{Pallet: 5}, []byte("payload"))
	p, err := c.SubmitAndWatch(ctx, ext)
	require.NoError(err)
	require.Equal(ext.Hash(), p.ExtrinsicHash())

	var got []chain.Status
	for {
		s, err := p.Next(ctx)
		require.NoError(err)
		got = append(got, s)
		if s.Kind.Terminal() {
			break
		}
	}
	require.Equal([]chain.Status{
		{Kind: chain.StatusReady},
		{Kind: chain.StatusBroadcast},
		{Kind: chain.StatusInBlock, Block: block},
		{Kind: chain.StatusFinalized, Block: block},
	}, got)
	require.NoError(p.Close())

	node.mu.Lock()
	defer node.mu.Unlock()
	require.Equal([][]byte{ext}, node.submitted)
}

func TestWatchConnectionDrop(t *testing.T) {
	node := newFakeNode(t, 0)
	node.statuses = []interface{}{"ready", "ready"}
	node.dropAfter = 1
	c := dialFake(t, node)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := c.SubmitAndWatch(ctx, inter.EncodeSubmit(inter.CallIndex{Pallet: 5}, nil))
	require.NoError(t, err)
	s, err := p.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, chain.StatusReady, s.Kind)

	_, err = p.Next(ctx)
	require.ErrorIs(t, err, ErrClosed)

	_, err = c.FinalizedHeight(ctx)
	require.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want chain.Status
		err  bool
	}{
		{raw: `"future"`, want: chain.Status{Kind: chain.StatusFuture}},
		{raw: `"dropped"`, want: chain.Status{Kind: chain.StatusDropped}},
		{raw: `"invalid"`, want: chain.Status{Kind: chain.StatusInvalid}},
		{raw: `{"usurped":"` + hash.Of([]byte{1}).Hex() + `"}`, want: chain.Status{Kind: chain.StatusUsurped, Block: hash.Of([]byte{1})}},
		{raw: `"weird"`, err: true},
		{raw: `{"inBlock":"0x01"}`, err: true},
		{raw: `{"a":1,"b":2}`, err: true},
		{raw: `17`, err: true},
	} {
		got, err := ParseStatus(json.RawMessage(tc.raw))
		if tc.err {
			require.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.want, got)
	}
}

package ledgercore

import (
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes of the state store.
var (
	commitmentPrefix = []byte("c/")
	nullifierPrefix  = []byte("n/")
	spentPrefix      = []byte("x/")
	contractPrefix   = []byte("k/")
	allowancePrefix  = []byte("d/")
	metaPrefix       = []byte("m/")

	lastBlockKey = append(append([]byte(nil), metaPrefix...), "last-block"...)
)

func prefixed(prefix []byte, h [32]byte) []byte {
	key := make([]byte, 0, len(prefix)+len(h))
	key = append(key, prefix...)
	return append(key, h[:]...)
}

// stateDB is the ledger state. It lives in memory only: replayed state is
// rebuilt on every run.
type stateDB struct {
	db *leveldb.DB
}

func openStateDB() (*stateDB, error) {
	db, err := leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return &stateDB{db: db}, nil
}

func (s *stateDB) get(key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %x: %w", key, err)
	}
	return v, true, nil
}

// forEach visits every entry in key order.
func (s *stateDB) forEach(prefix []byte, fn func(k, v []byte)) error {
	var rng *util.Range
	if prefix != nil {
		rng = util.BytesPrefix(prefix)
	}
	it := s.db.NewIterator(rng, nil)
	defer it.Release()
	for it.Next() {
		fn(it.Key(), it.Value())
	}
	return it.Error()
}

func (s *stateDB) close() error {
	return s.db.Close()
}

// stagedState buffers writes over a stateDB until commit. Reads see the
// buffered writes first.
type stagedState struct {
	base    *stateDB
	pending map[string][]byte
	order   []string

	// wallet-visible effects, applied once the writes are committed
	created []Coin
	spent   []hash.Hash
}

func (s *stateDB) stage() *stagedState {
	return &stagedState{base: s, pending: make(map[string][]byte)}
}

func (st *stagedState) get(key []byte) ([]byte, bool, error) {
	if v, ok := st.pending[string(key)]; ok {
		return v, true, nil
	}
	return st.base.get(key)
}

func (st *stagedState) has(key []byte) (bool, error) {
	_, ok, err := st.get(key)
	return ok, err
}

func (st *stagedState) put(key, value []byte) {
	k := string(key)
	if _, ok := st.pending[k]; !ok {
		st.order = append(st.order, k)
	}
	st.pending[k] = value
}

// child stages on top of st, so that a nested group of writes can be dropped
// without losing st's own.
func (st *stagedState) child() *stagedState {
	return &stagedState{
		base:    st.base,
		pending: st.copyPending(),
		order:   append([]string(nil), st.order...),
		created: append([]Coin(nil), st.created...),
		spent:   append([]hash.Hash(nil), st.spent...),
	}
}

func (st *stagedState) copyPending() map[string][]byte {
	cp := make(map[string][]byte, len(st.pending))
	for k, v := range st.pending {
		cp[k] = v
	}
	return cp
}

// merge adopts the writes of a child created from st.
func (st *stagedState) merge(child *stagedState) {
	st.pending = child.pending
	st.order = child.order
	st.created = child.created
	st.spent = child.spent
}

func (st *stagedState) commit() error {
	if len(st.order) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, k := range st.order {
		batch.Put([]byte(k), st.pending[k])
	}
	if err := st.base.db.Write(batch, nil); err != nil {
		return fmt.Errorf("state commit: %w", err)
	}
	st.pending = make(map[string][]byte)
	st.order = nil
	return nil
}

func (st *stagedState) hasCommitment(cm hash.Hash) (bool, error) {
	return st.has(prefixed(commitmentPrefix, cm))
}

func (st *stagedState) isSpent(cm hash.Hash) (bool, error) {
	return st.has(prefixed(spentPrefix, cm))
}

func (st *stagedState) isNullified(n hash.Hash) (bool, error) {
	return st.has(prefixed(nullifierPrefix, n))
}

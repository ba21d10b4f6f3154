package ledgercore

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/rony4d/ledger-txbuilder/inter/iblockproc"
	"github.com/rony4d/ledger-txbuilder/network"
)

var (
	ErrUnknownWallet         = errors.New("wallet is not tracked by the ledger context")
	ErrBlockOutOfOrder       = errors.New("block is not the successor of the last applied block")
	ErrNetworkMismatch       = errors.New("transaction is for another network")
	ErrProofRequired         = errors.New("transaction carries no real proof")
	ErrProofInvalid          = errors.New("proof does not bind the transaction")
	ErrNoIntents             = errors.New("transaction has no intents")
	ErrBadSegments           = errors.New("intent segments must be positive and strictly increasing")
	ErrFeeTooLow             = errors.New("fee below required minimum")
	ErrBadFeeSignature       = errors.New("invalid fee payment signature")
	ErrInsufficientAllowance = errors.New("fee allowance too low")
	ErrUnknownCommitment     = errors.New("input spends an unknown coin")
	ErrCommitmentSpent       = errors.New("input spends an already spent coin")
	ErrNullifierSpent        = errors.New("nullifier already revealed")
	ErrDuplicateCommitment   = errors.New("output commitment already exists")
	ErrUnbalancedOffer       = errors.New("offer does not balance")
	ErrContractExists        = errors.New("contract address already in use")
	ErrBadThreshold          = errors.New("committee threshold out of range")
	ErrAllowanceOverflow     = errors.New("fee allowance overflows")
)

type TxStatus uint8

const (
	TxApplied TxStatus = iota
	// TxPartial means the guaranteed part applied but at least one fallible
	// segment did not.
	TxPartial
	TxRejected
)

func (s TxStatus) String() string {
	switch s {
	case TxApplied:
		return "applied"
	case TxPartial:
		return "partial"
	}
	return "rejected"
}

// TxResult is the outcome of one transaction of a block.
type TxResult struct {
	Hash   hash.Hash
	Kind   ExtractedKind
	Status TxStatus
	// Err is the rejection reason, or the first fallible failure.
	Err            error
	FailedSegments []uint16
	// Contracts lists the addresses deployed by the transaction.
	Contracts []hash.Hash
}

// BlockResult is what folding one block did.
type BlockResult struct {
	Block     iblockproc.BlockCtx
	Results   []TxResult
	StateRoot hash.Hash
}

// Rejected counts rejected transactions.
func (r *BlockResult) Rejected() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == TxRejected {
			n++
		}
	}
	return n
}

// LedgerContext is the cumulative ledger state plus the wallets tracked over
// it. It has a single writer, the replay loop; the transaction builder and the
// prover only read it once replay is over.
type LedgerContext struct {
	rules network.Rules
	state *stateDB

	wallets []*Wallet
	byPK    map[CoinPublicKey]*Wallet
	bySeed  map[Seed]*Wallet

	last    iblockproc.BlockCtx
	started bool
}

// NewFromWalletSeeds creates an empty ledger for the network described by
// rules, tracking one wallet per seed.
func NewFromWalletSeeds(rules network.Rules, seeds []Seed) (*LedgerContext, error) {
	state, err := openStateDB()
	if err != nil {
		return nil, err
	}
	c := &LedgerContext{
		rules:  rules,
		state:  state,
		byPK:   make(map[CoinPublicKey]*Wallet),
		bySeed: make(map[Seed]*Wallet),
	}
	for _, seed := range seeds {
		if _, ok := c.bySeed[seed]; ok {
			continue
		}
		w := NewWallet(seed)
		c.wallets = append(c.wallets, w)
		c.byPK[w.CoinPublicKey()] = w
		c.bySeed[seed] = w
	}
	return c, nil
}

// Close releases the state store.
func (c *LedgerContext) Close() error {
	return c.state.close()
}

func (c *LedgerContext) Rules() network.Rules { return c.rules }

func (c *LedgerContext) NetworkID() string { return c.rules.Name }

// LastBlock returns the context of the last folded block. The second result is
// false before genesis was folded.
func (c *LedgerContext) LastBlock() (iblockproc.BlockCtx, bool) {
	return c.last, c.started
}

// WalletFromSeed returns a snapshot of the tracked wallet of seed.
func (c *LedgerContext) WalletFromSeed(seed Seed) (*Wallet, error) {
	w, ok := c.bySeed[seed]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, seed.CoinPublicKey())
	}
	return w.copy(), nil
}

// FeeAllowance returns the remaining fee allowance at addr.
func (c *LedgerContext) FeeAllowance(addr DustAddress) (uint64, error) {
	v, ok, err := c.state.get(prefixed(allowancePrefix, addr))
	if err != nil || !ok {
		return 0, err
	}
	return bigendian.BytesToUint64(v), nil
}

// HasCommitment reports whether a coin with commitment cm was ever created.
func (c *LedgerContext) HasCommitment(cm hash.Hash) (bool, error) {
	return c.state.stage().hasCommitment(cm)
}

// IsSpent reports whether the coin with commitment cm was spent.
func (c *LedgerContext) IsSpent(cm hash.Hash) (bool, error) {
	return c.state.stage().isSpent(cm)
}

// Contract returns the deploy that created the contract at addr.
func (c *LedgerContext) Contract(addr hash.Hash) (*ContractDeploy, error) {
	raw, ok, err := c.state.get(prefixed(contractPrefix, addr))
	if err != nil || !ok {
		return nil, err
	}
	d := new(ContractDeploy)
	if err := d.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateFromBlock folds the transactions of one block, in order, under ctx.
// Transactions the ledger refuses are reported in the result and leave no
// trace in the state. The error is reserved for store failures and for a block
// that does not follow the last one.
func (c *LedgerContext) UpdateFromBlock(txs []ExtractedTransaction, ctx iblockproc.BlockCtx) (BlockResult, error) {
	if (c.started && ctx.Idx != c.last.Idx+1) || (!c.started && ctx.Idx != 0) {
		return BlockResult{}, fmt.Errorf("%w: got %d after %d", ErrBlockOutOfOrder, ctx.Idx, c.last.Idx)
	}

	res := BlockResult{Block: ctx, Results: make([]TxResult, 0, len(txs))}
	for _, etx := range txs {
		var (
			r   TxResult
			err error
		)
		switch etx.Kind {
		case ExtractedSystem:
			r, err = c.applySystem(etx.System)
		case ExtractedUser:
			r, err = c.applyUser(etx.User)
		default:
			return res, fmt.Errorf("unknown extracted transaction kind %d", etx.Kind)
		}
		if err != nil {
			return res, err
		}
		res.Results = append(res.Results, r)
	}

	meta := c.state.stage()
	last, err := rlp.EncodeToBytes(&ctx)
	if err != nil {
		return res, err
	}
	meta.put(lastBlockKey, last)
	if err := meta.commit(); err != nil {
		return res, err
	}
	c.last = ctx
	c.started = true

	if res.StateRoot, err = c.StateRoot(); err != nil {
		return res, err
	}
	return res, nil
}

func (c *LedgerContext) commit(st *stagedState) error {
	if err := st.commit(); err != nil {
		return err
	}
	for _, cm := range st.spent {
		for _, w := range c.wallets {
			if w.spend(cm) {
				break
			}
		}
	}
	for _, coin := range st.created {
		if w, ok := c.byPK[coin.Owner]; ok {
			w.receive(coin)
		}
	}
	return nil
}

func isStoreError(err error) bool {
	var se storeError
	return errors.As(err, &se)
}

// storeError marks failures of the state store, which abort the fold.
type storeError struct{ error }

func (e storeError) Unwrap() error { return e.error }

func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return storeError{err}
}

func (c *LedgerContext) applySystem(tx *SystemTransaction) (TxResult, error) {
	r := TxResult{Hash: tx.Hash(), Kind: ExtractedSystem}
	st := c.state.stage()

	var err error
	switch tx.Kind {
	case SystemDistributeShielded:
		for _, out := range tx.Outputs {
			if err = c.createCoin(st, out.Coin); err != nil {
				break
			}
		}
	case SystemGrantFeeAllowance:
		err = c.creditAllowance(st, DustAddressOf(tx.Grantee), tx.Amount)
	default:
		err = ErrUnknownSystemKind
	}

	if err != nil {
		if isStoreError(err) {
			return r, err
		}
		r.Status, r.Err = TxRejected, err
		return r, nil
	}
	return r, c.commit(st)
}

func (c *LedgerContext) applyUser(tx *Transaction) (TxResult, error) {
	r := TxResult{Hash: tx.Hash(), Kind: ExtractedUser}
	reject := func(err error) (TxResult, error) {
		if isStoreError(err) {
			return r, err
		}
		r.Status, r.Err = TxRejected, err
		return r, nil
	}

	if err := c.checkWellFormed(tx); err != nil {
		return reject(err)
	}

	st := c.state.stage()
	if err := c.chargeFees(st, tx); err != nil {
		return reject(err)
	}

	guaranteed := st.child()
	var guaranteedErr error
	tx.Offers(func(_ uint16, isGuaranteed bool, o *Offer) {
		if isGuaranteed && guaranteedErr == nil {
			guaranteedErr = c.applyOffer(guaranteed, o)
		}
	})
	if guaranteedErr != nil {
		return reject(guaranteedErr)
	}
	for _, in := range tx.Intents {
		for _, a := range in.Actions {
			addr, err := c.applyAction(guaranteed, a)
			if err != nil {
				return reject(err)
			}
			r.Contracts = append(r.Contracts, addr)
		}
	}
	st.merge(guaranteed)

	for _, in := range tx.Intents {
		if in.Fallible == nil {
			continue
		}
		fallible := st.child()
		if err := c.applyOffer(fallible, in.Fallible); err != nil {
			if isStoreError(err) {
				return r, err
			}
			r.FailedSegments = append(r.FailedSegments, in.Segment)
			if r.Err == nil {
				r.Err = fmt.Errorf("segment %d: %w", in.Segment, err)
			}
			continue
		}
		st.merge(fallible)
	}
	if len(r.FailedSegments) > 0 {
		r.Status = TxPartial
	}
	return r, c.commit(st)
}

func (c *LedgerContext) checkWellFormed(tx *Transaction) error {
	if tx.NetworkID != c.rules.Name {
		return fmt.Errorf("%w: %q", ErrNetworkMismatch, tx.NetworkID)
	}
	if tx.Proof.Kind != ProofReal {
		return fmt.Errorf("%w: %s proof", ErrProofRequired, tx.Proof.Kind)
	}
	expected := RealProofData(tx.SigningHash())
	if string(tx.Proof.Data) != string(expected) {
		return ErrProofInvalid
	}
	if len(tx.Intents) == 0 {
		return ErrNoIntents
	}
	prev := uint16(0)
	for _, in := range tx.Intents {
		if in.Segment <= prev {
			return ErrBadSegments
		}
		prev = in.Segment
	}
	return nil
}

func (c *LedgerContext) chargeFees(st *stagedState, tx *Transaction) error {
	required, err := TransactionFee(c.rules.Economy, tx)
	if err != nil {
		return err
	}
	var paid uint64
	signing := tx.SigningHash()
	for _, f := range tx.Fees {
		if !f.Payer.Verify(signing[:], f.Signature) {
			return ErrBadFeeSignature
		}
		if err := c.debitAllowance(st, DustAddressOf(f.Payer), f.Amount); err != nil {
			return err
		}
		if paid+f.Amount < paid {
			return ErrFeeOverflow
		}
		paid += f.Amount
	}
	if paid < required {
		return fmt.Errorf("%w: paid %d, required %d", ErrFeeTooLow, paid, required)
	}
	return nil
}

func (c *LedgerContext) allowance(st *stagedState, addr DustAddress) (uint64, error) {
	v, ok, err := st.get(prefixed(allowancePrefix, addr))
	if err != nil || !ok {
		return 0, wrapStore(err)
	}
	return bigendian.BytesToUint64(v), nil
}

func (c *LedgerContext) creditAllowance(st *stagedState, addr DustAddress, amount uint64) error {
	cur, err := c.allowance(st, addr)
	if err != nil {
		return err
	}
	if cur+amount < cur {
		return ErrAllowanceOverflow
	}
	st.put(prefixed(allowancePrefix, addr), bigendian.Uint64ToBytes(cur+amount))
	return nil
}

func (c *LedgerContext) debitAllowance(st *stagedState, addr DustAddress, amount uint64) error {
	cur, err := c.allowance(st, addr)
	if err != nil {
		return err
	}
	if cur < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientAllowance, addr, cur, amount)
	}
	st.put(prefixed(allowancePrefix, addr), bigendian.Uint64ToBytes(cur-amount))
	return nil
}

func (c *LedgerContext) createCoin(st *stagedState, coin Coin) error {
	cm := coin.Commitment()
	exists, err := st.hasCommitment(cm)
	if err != nil {
		return wrapStore(err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommitment, cm)
	}
	st.put(prefixed(commitmentPrefix, cm), []byte{1})
	st.created = append(st.created, coin.Copy())
	return nil
}

func (c *LedgerContext) revealNullifier(st *stagedState, n hash.Hash) error {
	used, err := st.isNullified(n)
	if err != nil {
		return wrapStore(err)
	}
	if used {
		return fmt.Errorf("%w: %s", ErrNullifierSpent, n)
	}
	st.put(prefixed(nullifierPrefix, n), []byte{1})
	return nil
}

// CheckBalance reports whether the inputs and outputs of o carry the same
// value per token type. Transients do not count.
func CheckBalance(o *Offer) error {
	in := make(map[TokenType]*uint256.Int)
	out := make(map[TokenType]*uint256.Int)
	add := func(m map[TokenType]*uint256.Int, c Coin) error {
		sum, ok := m[c.Type]
		if !ok {
			sum = new(uint256.Int)
			m[c.Type] = sum
		}
		if _, overflow := sum.AddOverflow(sum, c.value()); overflow {
			return fmt.Errorf("%w: value overflow", ErrUnbalancedOffer)
		}
		return nil
	}
	for _, i := range o.Inputs {
		if err := add(in, i.Coin); err != nil {
			return err
		}
	}
	for _, o := range o.Outputs {
		if err := add(out, o.Coin); err != nil {
			return err
		}
	}
	if len(in) != len(out) {
		return ErrUnbalancedOffer
	}
	for t, v := range in {
		w, ok := out[t]
		if !ok || !v.Eq(w) {
			return fmt.Errorf("%w: token %s", ErrUnbalancedOffer, t)
		}
	}
	return nil
}

func (c *LedgerContext) applyOffer(st *stagedState, o *Offer) error {
	if err := CheckBalance(o); err != nil {
		return err
	}
	for _, in := range o.Inputs {
		cm := in.Coin.Commitment()
		exists, err := st.hasCommitment(cm)
		if err != nil {
			return wrapStore(err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownCommitment, cm)
		}
		spent, err := st.isSpent(cm)
		if err != nil {
			return wrapStore(err)
		}
		if spent {
			return fmt.Errorf("%w: %s", ErrCommitmentSpent, cm)
		}
		if err := c.revealNullifier(st, in.Nullifier); err != nil {
			return err
		}
		st.put(prefixed(spentPrefix, cm), []byte{1})
		st.spent = append(st.spent, cm)
	}
	for _, t := range o.Transients {
		if err := c.revealNullifier(st, t.Nullifier); err != nil {
			return err
		}
	}
	for _, out := range o.Outputs {
		if err := c.createCoin(st, out.Coin); err != nil {
			return err
		}
	}
	return nil
}

func (c *LedgerContext) applyAction(st *stagedState, a ContractAction) (hash.Hash, error) {
	if a.Kind != ActionDeploy || a.Deploy == nil {
		return hash.Hash{}, ErrUnknownActionKind
	}
	d := a.Deploy
	if d.Threshold < 1 || int(d.Threshold) > len(d.Committee) {
		return hash.Hash{}, fmt.Errorf("%w: %d of %d", ErrBadThreshold, d.Threshold, len(d.Committee))
	}
	addr := d.Address()
	key := prefixed(contractPrefix, addr)
	exists, err := st.has(key)
	if err != nil {
		return hash.Hash{}, wrapStore(err)
	}
	if exists {
		return hash.Hash{}, fmt.Errorf("%w: %s", ErrContractExists, addr)
	}
	raw, err := d.MarshalBinary()
	if err != nil {
		return hash.Hash{}, err
	}
	st.put(key, raw)
	return addr, nil
}

type stateEntry struct {
	Key   []byte
	Value []byte
}

type walletSnapshot struct {
	Owner [32]byte
	Coins []coinSnapshot
}

type coinSnapshot struct {
	Nonce [32]byte
	Type  [32]byte
	Value [32]byte
	Owner [32]byte
}

type stateSnapshot struct {
	Entries []stateEntry
	Wallets []walletSnapshot
}

// StateRoot digests the whole store in key order plus every tracked wallet, so
// two contexts that folded the same blocks from the same seeds agree on it.
func (c *LedgerContext) StateRoot() (hash.Hash, error) {
	var snap stateSnapshot
	err := c.state.forEach(nil, func(k, v []byte) {
		snap.Entries = append(snap.Entries, stateEntry{
			Key:   append([]byte(nil), k...),
			Value: append([]byte(nil), v...),
		})
	})
	if err != nil {
		return hash.Hash{}, err
	}
	for _, w := range c.wallets {
		ws := walletSnapshot{Owner: w.CoinPublicKey()}
		for _, coin := range w.coins {
			ws.Coins = append(ws.Coins, coinSnapshot{
				Nonce: coin.Nonce,
				Type:  coin.Type,
				Value: coin.value().Bytes32(),
				Owner: coin.Owner,
			})
		}
		snap.Wallets = append(snap.Wallets, ws)
	}

	hasher := sha256.New()
	if err := rlp.Encode(hasher, &snap); err != nil {
		return hash.Hash{}, err
	}
	return hash.BytesToHash(hasher.Sum(nil)), nil
}

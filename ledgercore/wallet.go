package ledgercore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/holiman/uint256"

	"github.com/rony4d/ledger-txbuilder/inter/committeepk"
)

var ErrNoMatchingCoin = errors.New("no coin with sufficient value")

// Wallet is the view of one seed over the ledger. Coins are kept in the order
// they were received.
type Wallet struct {
	Seed Seed

	coinPK  CoinPublicKey
	signing *ecdsa.PrivateKey
	vk      committeepk.PubKey
	dust    DustAddress

	coins []Coin
}

// NewWallet derives every key of seed. The wallet starts empty.
func NewWallet(seed Seed) *Wallet {
	key := seed.SigningKey()
	vk := committeepk.FromECDSA(&key.PublicKey)
	return &Wallet{
		Seed:    seed,
		coinPK:  seed.CoinPublicKey(),
		signing: key,
		vk:      vk,
		dust:    DustAddressOf(vk),
	}
}

func (w *Wallet) CoinPublicKey() CoinPublicKey     { return w.coinPK }
func (w *Wallet) SigningKey() *ecdsa.PrivateKey    { return w.signing }
func (w *Wallet) VerifyingKey() committeepk.PubKey { return w.vk }
func (w *Wallet) DustAddress() DustAddress         { return w.dust }

// Coins returns the unspent coins of token type t in receipt order.
func (w *Wallet) Coins(t TokenType) []Coin {
	var res []Coin
	for _, c := range w.coins {
		if c.Type == t {
			res = append(res, c.Copy())
		}
	}
	return res
}

// Balance sums the unspent coins of token type t.
func (w *Wallet) Balance(t TokenType) *uint256.Int {
	total := new(uint256.Int)
	for _, c := range w.coins {
		if c.Type == t {
			total.Add(total, c.Value)
		}
	}
	return total
}

// MinMatchCoin picks the smallest coin of token type t worth at least min,
// ignoring coins whose commitment is in exclude. Among equal values the coin
// received first wins.
func (w *Wallet) MinMatchCoin(t TokenType, min *uint256.Int, exclude map[hash.Hash]bool) (Coin, error) {
	var best *Coin
	for i := range w.coins {
		c := &w.coins[i]
		if c.Type != t || c.Value.Lt(min) || exclude[c.Commitment()] {
			continue
		}
		if best == nil || c.Value.Lt(best.Value) {
			best = c
		}
	}
	if best == nil {
		return Coin{}, fmt.Errorf("%w: token %s, value %s", ErrNoMatchingCoin, t, min.Dec())
	}
	return best.Copy(), nil
}

// Nullifier is the nullifier this wallet reveals when spending c.
func (w *Wallet) Nullifier(c Coin) hash.Hash {
	return c.Nullifier(w.Seed)
}

func (w *Wallet) receive(c Coin) {
	w.coins = append(w.coins, c.Copy())
}

// spend drops the coin with commitment cm, reporting whether it was held.
func (w *Wallet) spend(cm hash.Hash) bool {
	for i := range w.coins {
		if w.coins[i].Commitment() == cm {
			w.coins = append(w.coins[:i], w.coins[i+1:]...)
			return true
		}
	}
	return false
}

func (w *Wallet) copy() *Wallet {
	cp := *w
	cp.coins = make([]Coin, len(w.coins))
	for i, c := range w.coins {
		cp.coins[i] = c.Copy()
	}
	return &cp
}

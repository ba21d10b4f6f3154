package ledgercore

import (
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/ledger-txbuilder/inter/committeepk"
)

type SystemTxKind uint8

const (
	SystemDistributeShielded SystemTxKind = iota + 1
	SystemGrantFeeAllowance
)

func (k SystemTxKind) String() string {
	switch k {
	case SystemDistributeShielded:
		return "distribute_shielded"
	case SystemGrantFeeAllowance:
		return "grant_fee_allowance"
	}
	return "unknown"
}

// SystemTransaction is a protocol-level transaction. It needs no proof and no
// fee, and is applied unconditionally.
type SystemTransaction struct {
	Kind SystemTxKind

	// Outputs are the coins minted by SystemDistributeShielded.
	Outputs []Output

	// Grantee and Amount describe SystemGrantFeeAllowance.
	Grantee committeepk.PubKey
	Amount  uint64
}

// DistributeShielded mints coins.
func DistributeShielded(coins ...Coin) *SystemTransaction {
	tx := &SystemTransaction{Kind: SystemDistributeShielded}
	for _, c := range coins {
		tx.Outputs = append(tx.Outputs, Output{Coin: c})
	}
	return tx
}

// GrantFeeAllowance credits the fee allowance of grantee.
func GrantFeeAllowance(grantee committeepk.PubKey, amount uint64) *SystemTransaction {
	return &SystemTransaction{Kind: SystemGrantFeeAllowance, Grantee: grantee, Amount: amount}
}

func (tx *SystemTransaction) Hash() hash.Hash {
	body, err := tx.MarshalBinary()
	if err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.Hash(crypto.Keccak256Hash(body))
}

// ExtractedKind tags an ExtractedTransaction.
type ExtractedKind uint8

const (
	ExtractedUser ExtractedKind = iota + 1
	ExtractedSystem
)

// ExtractedTransaction is a decoded transaction found in a block, ready to be
// folded into the ledger. Exactly one of User and System is set.
type ExtractedTransaction struct {
	Kind   ExtractedKind
	User   *Transaction
	System *SystemTransaction
}

func UserTx(tx *Transaction) ExtractedTransaction {
	return ExtractedTransaction{Kind: ExtractedUser, User: tx}
}

func SystemTx(tx *SystemTransaction) ExtractedTransaction {
	return ExtractedTransaction{Kind: ExtractedSystem, System: tx}
}

func (e ExtractedTransaction) Hash() hash.Hash {
	if e.Kind == ExtractedSystem {
		return e.System.Hash()
	}
	return e.User.Hash()
}

package ledgercore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/ledger-txbuilder/inter/committeepk"
)

// Input spends an existing coin.
type Input struct {
	Coin      Coin
	Nullifier hash.Hash
}

// Output creates a coin.
type Output struct {
	Coin Coin
}

// Transient is a coin created and spent within the same offer.
type Transient struct {
	Coin      Coin
	Nullifier hash.Hash
}

// Offer is one value movement. Inputs and outputs of an offer must balance per
// token type.
type Offer struct {
	Inputs     []Input
	Outputs    []Output
	Transients []Transient
}

// Empty reports whether the offer moves nothing.
func (o *Offer) Empty() bool {
	return o == nil || len(o.Inputs)+len(o.Outputs)+len(o.Transients) == 0
}

type ActionKind uint8

const (
	ActionDeploy ActionKind = iota + 1
)

// ContractAction is a closed variant. Deploy is the only kind the ledger
// accepts.
type ContractAction struct {
	Kind   ActionKind
	Deploy *ContractDeploy
}

// Operation is a callable entry point of a contract with its verifier key.
type Operation struct {
	Name        string
	VerifierKey VerifierKey
}

// ContractDeploy creates a contract at a fresh address.
type ContractDeploy struct {
	Nonce        hash.Hash
	InitialState []byte
	Operations   []Operation
	Committee    []committeepk.PubKey
	Threshold    uint32
}

// Intent groups an optional pair of offers and contract actions under a
// segment number.
type Intent struct {
	Segment    uint16
	Guaranteed *Offer
	Fallible   *Offer
	Actions    []ContractAction
}

// FeePayment debits Amount from the fee allowance of Payer. The signature is
// over the transaction's signing hash.
type FeePayment struct {
	Payer     committeepk.PubKey
	Amount    uint64
	Signature []byte
}

type ProofKind uint8

const (
	ProofNone ProofKind = iota
	ProofMock
	ProofReal
)

func (k ProofKind) String() string {
	switch k {
	case ProofMock:
		return "mock"
	case ProofReal:
		return "real"
	}
	return "none"
}

// ProofSize is the length of proof data of every kind.
const ProofSize = 32

// Proof binds a transaction body.
type Proof struct {
	Kind ProofKind
	Data []byte
}

// Transaction is a proven user transaction.
type Transaction struct {
	NetworkID       string
	GuaranteedOffer *Offer
	// Intents are sorted by segment, segments are unique and positive.
	Intents      []Intent
	Fees         []FeePayment
	BindingNonce hash.Hash
	Proof        Proof
}

// InputWitness is the secret the prover needs to check one input.
type InputWitness struct {
	Nullifier hash.Hash
	Seed      Seed
}

// UnprovenTransaction is a fully assembled transaction waiting for its proof.
type UnprovenTransaction struct {
	Tx        Transaction
	Witnesses []InputWitness
}

// Offers calls fn for every offer of the transaction in application order,
// reporting the owning segment (0 for the transaction-level offer) and
// whether the offer is guaranteed.
func (tx *Transaction) Offers(fn func(segment uint16, guaranteed bool, o *Offer)) {
	if tx.GuaranteedOffer != nil {
		fn(0, true, tx.GuaranteedOffer)
	}
	for i := range tx.Intents {
		in := &tx.Intents[i]
		if in.Guaranteed != nil {
			fn(in.Segment, true, in.Guaranteed)
		}
	}
	for i := range tx.Intents {
		in := &tx.Intents[i]
		if in.Fallible != nil {
			fn(in.Segment, false, in.Fallible)
		}
	}
}

// SigningHash is the digest fee payers sign and proofs bind. It covers every
// field except fee signatures and the proof.
func (tx *Transaction) SigningHash() hash.Hash {
	cp := *tx
	cp.Fees = make([]FeePayment, len(tx.Fees))
	for i, f := range tx.Fees {
		cp.Fees[i] = FeePayment{Payer: f.Payer, Amount: f.Amount}
	}
	cp.Proof = Proof{}
	body, err := cp.MarshalBinary()
	if err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.Hash(crypto.Keccak256Hash([]byte("signing"), body))
}

// Hash identifies the proven transaction.
func (tx *Transaction) Hash() hash.Hash {
	body, err := tx.MarshalBinary()
	if err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.Hash(crypto.Keccak256Hash(body))
}

// RealProofData is the proof data binding signing hash h.
func RealProofData(h hash.Hash) []byte {
	return crypto.Keccak256([]byte("proof"), h[:])
}

// MockProofData is placeholder data of real proof size.
func MockProofData() []byte {
	return make([]byte, ProofSize)
}

// FeeTotal sums all fee payments.
func (tx *Transaction) FeeTotal() uint64 {
	var total uint64
	for _, f := range tx.Fees {
		total += f.Amount
	}
	return total
}

// Address is the contract address the deploy creates.
func (d *ContractDeploy) Address() hash.Hash {
	body, err := d.MarshalBinary()
	if err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.Hash(crypto.Keccak256Hash([]byte("contract-address"), body))
}

var ErrNoFeeSigner = errors.New("no wallet can sign fee payment")

// SignFees signs every fee payment with the wallet whose verifying key is the
// payer. Fee amounts must be final: signatures cover them.
func (tx *Transaction) SignFees(wallets []*Wallet) error {
	h := tx.SigningHash()
	for i := range tx.Fees {
		f := &tx.Fees[i]
		var signer *Wallet
		for _, w := range wallets {
			if bytes.Equal(w.VerifyingKey().Bytes(), f.Payer.Bytes()) {
				signer = w
				break
			}
		}
		if signer == nil {
			return fmt.Errorf("%w: payer %s", ErrNoFeeSigner, f.Payer)
		}
		sig, err := crypto.Sign(h[:], signer.SigningKey())
		if err != nil {
			return err
		}
		f.Signature = sig[:64]
	}
	return nil
}

package ledgercore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rony4d/ledger-txbuilder/inter/committeepk"
	"github.com/rony4d/ledger-txbuilder/utils/cser"
)

// Type tags prefixed to every top-level serialized object.
const (
	TransactionTag       = "ledger:transaction[v1]:"
	SystemTransactionTag = "ledger:system-transaction[v1]:"
	VerifierKeyTag       = "ledger:verifier-key[v1]:"
)

const (
	// MaxTxSize bounds a serialized transaction.
	MaxTxSize = 1 << 20
	// maxItems bounds any decoded list.
	maxItems = 4096
	// maxStateSize bounds contract state and verifier key bodies.
	maxStateSize = 256 * 1024
)

var (
	ErrTagMismatch       = errors.New("serialized object has the wrong type tag")
	ErrUnknownActionKind = errors.New("unknown contract action kind")
	ErrUnknownSystemKind = errors.New("unknown system transaction kind")
	ErrUnknownProofKind  = errors.New("unknown proof kind")
)

func tagged(tag string, body []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(tag)+len(body))
	out = append(out, tag...)
	return append(out, body...), nil
}

func untag(tag string, raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, []byte(tag)) {
		return nil, ErrTagMismatch
	}
	return raw[len(tag):], nil
}

// SerializeTransaction returns the tagged canonical form of tx.
func SerializeTransaction(tx *Transaction) ([]byte, error) {
	body, err := tx.MarshalBinary()
	return tagged(TransactionTag, body, err)
}

// DeserializeTransaction decodes bytes produced by SerializeTransaction.
func DeserializeTransaction(raw []byte) (*Transaction, error) {
	if len(raw) > MaxTxSize+len(TransactionTag) {
		return nil, cser.ErrTooLargeAlloc
	}
	body, err := untag(TransactionTag, raw)
	if err != nil {
		return nil, err
	}
	tx := new(Transaction)
	if err := tx.UnmarshalBinary(body); err != nil {
		return nil, fmt.Errorf("transaction: %w", err)
	}
	return tx, nil
}

// SerializeSystemTransaction returns the tagged canonical form of tx.
func SerializeSystemTransaction(tx *SystemTransaction) ([]byte, error) {
	body, err := tx.MarshalBinary()
	return tagged(SystemTransactionTag, body, err)
}

// DeserializeSystemTransaction decodes bytes produced by
// SerializeSystemTransaction.
func DeserializeSystemTransaction(raw []byte) (*SystemTransaction, error) {
	body, err := untag(SystemTransactionTag, raw)
	if err != nil {
		return nil, err
	}
	tx := new(SystemTransaction)
	if err := tx.UnmarshalBinary(body); err != nil {
		return nil, fmt.Errorf("system transaction: %w", err)
	}
	return tx, nil
}

// VerifierKey is the verification key of one contract operation.
type VerifierKey struct {
	Data []byte
}

// SerializeVerifierKey returns the tagged canonical form of vk.
func SerializeVerifierKey(vk VerifierKey) ([]byte, error) {
	body, err := cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		w.SliceBytes(vk.Data)
		return nil
	})
	return tagged(VerifierKeyTag, body, err)
}

// DeserializeVerifierKey decodes bytes produced by SerializeVerifierKey.
func DeserializeVerifierKey(raw []byte) (VerifierKey, error) {
	body, err := untag(VerifierKeyTag, raw)
	if err != nil {
		return VerifierKey{}, err
	}
	var vk VerifierKey
	err = cser.UnmarshalBinaryAdapter(body, func(r *cser.Reader) error {
		vk.Data = r.SliceBytes(maxStateSize)
		return nil
	})
	if err != nil {
		return VerifierKey{}, fmt.Errorf("verifier key: %w", err)
	}
	return vk, nil
}

func marshalCoin(w *cser.Writer, c *Coin) {
	w.Hash(c.Nonce)
	w.FixedBytes(c.Type[:])
	w.U256(c.Value)
	w.FixedBytes(c.Owner[:])
}

func unmarshalCoin(r *cser.Reader) Coin {
	var c Coin
	c.Nonce = r.Hash()
	r.FixedBytes(c.Type[:])
	c.Value = r.U256()
	r.FixedBytes(c.Owner[:])
	return c
}

func marshalPubKey(w *cser.Writer, pk committeepk.PubKey) {
	w.SliceBytes(pk.Bytes())
}

func unmarshalPubKey(r *cser.Reader) (committeepk.PubKey, error) {
	return committeepk.FromBytes(r.SliceBytes(128))
}

func readCount(r *cser.Reader) (int, error) {
	n := r.U32()
	if n > maxItems {
		return 0, cser.ErrTooLargeAlloc
	}
	return int(n), nil
}

func marshalOffer(w *cser.Writer, o *Offer) {
	w.Bool(o != nil)
	if o == nil {
		return
	}
	w.U32(uint32(len(o.Inputs)))
	for i := range o.Inputs {
		marshalCoin(w, &o.Inputs[i].Coin)
		w.Hash(o.Inputs[i].Nullifier)
	}
	w.U32(uint32(len(o.Outputs)))
	for i := range o.Outputs {
		marshalCoin(w, &o.Outputs[i].Coin)
	}
	w.U32(uint32(len(o.Transients)))
	for i := range o.Transients {
		marshalCoin(w, &o.Transients[i].Coin)
		w.Hash(o.Transients[i].Nullifier)
	}
}

func unmarshalOffer(r *cser.Reader) (*Offer, error) {
	if !r.Bool() {
		return nil, nil
	}
	o := new(Offer)
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		o.Inputs = append(o.Inputs, Input{Coin: unmarshalCoin(r), Nullifier: r.Hash()})
	}
	if n, err = readCount(r); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		o.Outputs = append(o.Outputs, Output{Coin: unmarshalCoin(r)})
	}
	if n, err = readCount(r); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		o.Transients = append(o.Transients, Transient{Coin: unmarshalCoin(r), Nullifier: r.Hash()})
	}
	return o, nil
}

func (d *ContractDeploy) marshalCSER(w *cser.Writer) {
	w.Hash(d.Nonce)
	w.SliceBytes(d.InitialState)
	w.U32(uint32(len(d.Operations)))
	for _, op := range d.Operations {
		w.String(op.Name)
		w.SliceBytes(op.VerifierKey.Data)
	}
	w.U32(uint32(len(d.Committee)))
	for _, pk := range d.Committee {
		marshalPubKey(w, pk)
	}
	w.U32(d.Threshold)
}

func (d *ContractDeploy) unmarshalCSER(r *cser.Reader) error {
	d.Nonce = r.Hash()
	d.InitialState = r.SliceBytes(maxStateSize)
	n, err := readCount(r)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		op := Operation{Name: r.String(256)}
		op.VerifierKey.Data = r.SliceBytes(maxStateSize)
		d.Operations = append(d.Operations, op)
	}
	if n, err = readCount(r); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		pk, err := unmarshalPubKey(r)
		if err != nil {
			return err
		}
		d.Committee = append(d.Committee, pk)
	}
	d.Threshold = r.U32()
	return nil
}

// MarshalBinary encodes the deploy without a tag.
func (d *ContractDeploy) MarshalBinary() ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		d.marshalCSER(w)
		return nil
	})
}

// UnmarshalBinary decodes bytes produced by MarshalBinary.
func (d *ContractDeploy) UnmarshalBinary(raw []byte) error {
	return cser.UnmarshalBinaryAdapter(raw, d.unmarshalCSER)
}

// MarshalBinary encodes the transaction without a tag.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		w.String(tx.NetworkID)
		marshalOffer(w, tx.GuaranteedOffer)

		w.U32(uint32(len(tx.Intents)))
		for i := range tx.Intents {
			in := &tx.Intents[i]
			w.U16(in.Segment)
			marshalOffer(w, in.Guaranteed)
			marshalOffer(w, in.Fallible)
			w.U32(uint32(len(in.Actions)))
			for _, a := range in.Actions {
				switch a.Kind {
				case ActionDeploy:
					if a.Deploy == nil {
						return fmt.Errorf("deploy action without payload")
					}
					w.U8(uint8(a.Kind))
					a.Deploy.marshalCSER(w)
				default:
					return ErrUnknownActionKind
				}
			}
		}

		w.U32(uint32(len(tx.Fees)))
		for _, f := range tx.Fees {
			marshalPubKey(w, f.Payer)
			w.U64(f.Amount)
			w.SliceBytes(f.Signature)
		}

		w.Hash(tx.BindingNonce)
		if tx.Proof.Kind > ProofReal {
			return ErrUnknownProofKind
		}
		w.U8(uint8(tx.Proof.Kind))
		w.SliceBytes(tx.Proof.Data)
		return nil
	})
}

// UnmarshalBinary decodes bytes produced by MarshalBinary.
func (tx *Transaction) UnmarshalBinary(raw []byte) error {
	return cser.UnmarshalBinaryAdapter(raw, func(r *cser.Reader) error {
		var err error
		tx.NetworkID = r.String(256)
		if tx.GuaranteedOffer, err = unmarshalOffer(r); err != nil {
			return err
		}

		n, err := readCount(r)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			in := Intent{Segment: r.U16()}
			if in.Guaranteed, err = unmarshalOffer(r); err != nil {
				return err
			}
			if in.Fallible, err = unmarshalOffer(r); err != nil {
				return err
			}
			actions, err := readCount(r)
			if err != nil {
				return err
			}
			for j := 0; j < actions; j++ {
				kind := ActionKind(r.U8())
				if kind != ActionDeploy {
					return ErrUnknownActionKind
				}
				d := new(ContractDeploy)
				if err := d.unmarshalCSER(r); err != nil {
					return err
				}
				in.Actions = append(in.Actions, ContractAction{Kind: kind, Deploy: d})
			}
			tx.Intents = append(tx.Intents, in)
		}

		if n, err = readCount(r); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			var f FeePayment
			if f.Payer, err = unmarshalPubKey(r); err != nil {
				return err
			}
			f.Amount = r.U64()
			f.Signature = r.SliceBytes(128)
			tx.Fees = append(tx.Fees, f)
		}

		tx.BindingNonce = r.Hash()
		tx.Proof.Kind = ProofKind(r.U8())
		if tx.Proof.Kind > ProofReal {
			return ErrUnknownProofKind
		}
		tx.Proof.Data = r.SliceBytes(ProofSize)
		return nil
	})
}

// MarshalBinary encodes the system transaction without a tag.
func (tx *SystemTransaction) MarshalBinary() ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		w.U8(uint8(tx.Kind))
		switch tx.Kind {
		case SystemDistributeShielded:
			w.U32(uint32(len(tx.Outputs)))
			for i := range tx.Outputs {
				marshalCoin(w, &tx.Outputs[i].Coin)
			}
		case SystemGrantFeeAllowance:
			marshalPubKey(w, tx.Grantee)
			w.U64(tx.Amount)
		default:
			return ErrUnknownSystemKind
		}
		return nil
	})
}

// UnmarshalBinary decodes bytes produced by MarshalBinary.
func (tx *SystemTransaction) UnmarshalBinary(raw []byte) error {
	return cser.UnmarshalBinaryAdapter(raw, func(r *cser.Reader) error {
		tx.Kind = SystemTxKind(r.U8())
		switch tx.Kind {
		case SystemDistributeShielded:
			n, err := readCount(r)
			if err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				tx.Outputs = append(tx.Outputs, Output{Coin: unmarshalCoin(r)})
			}
		case SystemGrantFeeAllowance:
			var err error
			if tx.Grantee, err = unmarshalPubKey(r); err != nil {
				return err
			}
			tx.Amount = r.U64()
		default:
			return ErrUnknownSystemKind
		}
		return nil
	})
}

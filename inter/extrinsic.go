package inter

import (
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"golang.org/x/crypto/blake2b"

	"github.com/rony4d/ledger-txbuilder/utils/scale"
)

const (
	// ExtrinsicFormatVersion is the only envelope version the chain produces.
	ExtrinsicFormatVersion = 4

	signedBit = 0x80
)

var (
	ErrExtrinsicVersion  = errors.New("unsupported extrinsic format version")
	ErrExtrinsicTrailing = errors.New("trailing bytes after call arguments")
)

// Extrinsic is an encoded extrinsic exactly as it appears in a block body,
// including its compact length prefix.
type Extrinsic []byte

// Hash returns the blake2b-256 digest of the encoded extrinsic, which is the
// hash the node reports for submissions.
func (e Extrinsic) Hash() hash.Hash {
	return hash.Hash(blake2b.Sum256(e))
}

// CallIndex addresses a dispatchable by pallet and call position.
type CallIndex struct {
	Pallet uint8
	Call   uint8
}

func (ci CallIndex) String() string {
	return fmt.Sprintf("%d.%d", ci.Pallet, ci.Call)
}

// CallIndices tells the decoder where the three meaningful calls live in a
// given runtime.
type CallIndices struct {
	SetTimestamp            CallIndex
	SubmitTransaction       CallIndex
	SubmitSystemTransaction CallIndex
}

// CallKind is the closed set of calls the replay pipeline reacts to.
type CallKind uint8

const (
	CallOther CallKind = iota
	CallSetTimestamp
	CallSubmitTransaction
	CallSubmitSystemTransaction
)

func (k CallKind) String() string {
	switch k {
	case CallSetTimestamp:
		return "set_timestamp"
	case CallSubmitTransaction:
		return "submit_transaction"
	case CallSubmitSystemTransaction:
		return "submit_system_transaction"
	default:
		return "other"
	}
}

// Call is a decoded extrinsic.
type Call struct {
	Kind  CallKind
	Index CallIndex
	// Signed extrinsics are never one of the meaningful calls, so their
	// arguments are not decoded.
	Signed bool

	// Now is the millisecond timestamp of CallSetTimestamp.
	Now uint64
	// Payload is the serialized transaction of the two submit calls.
	Payload []byte
}

// DecodeCall decodes the envelope of e and, when the call is one of the known
// indices, its arguments.
func DecodeCall(e Extrinsic, indices CallIndices) (Call, error) {
	r := scale.NewReader(e)
	body := r.Vec()
	if err := r.Err(); err != nil {
		return Call{}, fmt.Errorf("extrinsic length: %w", err)
	}
	if r.Remaining() != 0 {
		return Call{}, ErrExtrinsicTrailing
	}

	r = scale.NewReader(body)
	version := r.U8()
	if version&signedBit != 0 {
		return Call{Kind: CallOther, Signed: true}, r.Err()
	}
	if version != ExtrinsicFormatVersion {
		return Call{}, fmt.Errorf("%w: %d", ErrExtrinsicVersion, version)
	}

	call := Call{Index: CallIndex{Pallet: r.U8(), Call: r.U8()}}
	switch call.Index {
	case indices.SetTimestamp:
		call.Kind = CallSetTimestamp
		call.Now = r.Compact()
	case indices.SubmitTransaction:
		call.Kind = CallSubmitTransaction
		call.Payload = r.Vec()
	case indices.SubmitSystemTransaction:
		call.Kind = CallSubmitSystemTransaction
		call.Payload = r.Vec()
	default:
		// arguments of other calls are opaque here
		return call, r.Err()
	}
	if err := r.Err(); err != nil {
		return Call{}, fmt.Errorf("call %s arguments: %w", call.Index, err)
	}
	if r.Remaining() != 0 {
		return Call{}, ErrExtrinsicTrailing
	}
	return call, nil
}

// EncodeUnsignedCall builds a bare (unsigned) extrinsic for a call at index ci
// with already encoded arguments.
func EncodeUnsignedCall(ci CallIndex, args []byte) Extrinsic {
	body := scale.NewWriter()
	body.U8(ExtrinsicFormatVersion)
	body.U8(ci.Pallet)
	body.U8(ci.Call)
	body.Fixed(args)
	return Extrinsic(scale.EncodeBytes(body.Bytes()))
}

// EncodeSetTimestamp builds the timestamp inherent for ms.
func EncodeSetTimestamp(ci CallIndex, ms uint64) Extrinsic {
	w := scale.NewWriter()
	w.Compact(ms)
	return EncodeUnsignedCall(ci, w.Bytes())
}

// EncodeSubmit builds one of the two submit calls carrying payload.
func EncodeSubmit(ci CallIndex, payload []byte) Extrinsic {
	return EncodeUnsignedCall(ci, scale.EncodeBytes(payload))
}

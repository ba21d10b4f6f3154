// Package committeepk holds the verifying keys of contract maintenance
// committees.
package committeepk

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PubKey is a typed verifying key.
type PubKey struct {
	Type uint8
	Raw  []byte
}

var Types = struct {
	Secp256k1 uint8
}{
	Secp256k1: 0xc0,
}

var ErrEmptyPubKey = errors.New("empty pubkey")

// FromECDSA wraps the compressed form of pub.
func FromECDSA(pub *ecdsa.PublicKey) PubKey {
	return PubKey{Type: Types.Secp256k1, Raw: crypto.CompressPubkey(pub)}
}

func (pk PubKey) Empty() bool {
	return len(pk.Raw) == 0 && pk.Type == 0
}

func (pk PubKey) String() string {
	return "0x" + common.Bytes2Hex(pk.Bytes())
}

func (pk PubKey) Bytes() []byte {
	return append([]byte{pk.Type}, pk.Raw...)
}

func (pk PubKey) Copy() PubKey {
	return PubKey{
		Type: pk.Type,
		Raw:  common.CopyBytes(pk.Raw),
	}
}

// ECDSA decompresses a secp256k1 key.
func (pk PubKey) ECDSA() (*ecdsa.PublicKey, error) {
	if pk.Type != Types.Secp256k1 {
		return nil, errors.New("not a secp256k1 key")
	}
	return crypto.DecompressPubkey(pk.Raw)
}

// Verify checks a 64 byte [R || S] signature over digest.
func (pk PubKey) Verify(digest, sig []byte) bool {
	if pk.Type != Types.Secp256k1 {
		return false
	}
	return crypto.VerifySignature(pk.Raw, digest, sig)
}

func FromString(str string) (PubKey, error) {
	return FromBytes(common.FromHex(str))
}

func FromBytes(b []byte) (PubKey, error) {
	if len(b) == 0 {
		return PubKey{}, ErrEmptyPubKey
	}
	return PubKey{b[0], common.CopyBytes(b[1:])}, nil
}

func (pk *PubKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *PubKey) UnmarshalText(input []byte) error {
	res, err := FromString(string(input))
	if err != nil {
		return err
	}
	*pk = res
	return nil
}

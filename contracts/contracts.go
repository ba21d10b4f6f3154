// Package contracts describes the contract types the builder can deploy and
// loads their verifier keys from the directory of precomputed artifacts.
package contracts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/ledger-txbuilder/inter/committeepk"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
)

const (
	// MerkleTreeName is the artifact directory of the merkle tree contract.
	MerkleTreeName = "merkle-tree"

	merkleTreeDepth = 32

	keysDir     = "keys"
	verifierExt = ".verifier"
)

// MerkleTreeOperations are the callable operations of the merkle tree
// contract, in declaration order.
var MerkleTreeOperations = []string{"store", "check"}

// Descriptor is a contract type: its initial state and the verifier key of
// every callable operation.
type Descriptor struct {
	Name         string
	InitialState []byte
	Operations   []ledgercore.Operation
	// Placeholder is set when the keys were not loaded from artifacts.
	Placeholder bool
}

// Deploy returns the deploy action of d maintained by committee.
func (d Descriptor) Deploy(nonce hash.Hash, committee []committeepk.PubKey, threshold uint32) *ledgercore.ContractDeploy {
	ops := make([]ledgercore.Operation, len(d.Operations))
	for i, op := range d.Operations {
		ops[i] = ledgercore.Operation{
			Name:        op.Name,
			VerifierKey: ledgercore.VerifierKey{Data: append([]byte(nil), op.VerifierKey.Data...)},
		}
	}
	members := make([]committeepk.PubKey, len(committee))
	for i, pk := range committee {
		members[i] = pk.Copy()
	}
	return &ledgercore.ContractDeploy{
		Nonce:        nonce,
		InitialState: append([]byte(nil), d.InitialState...),
		Operations:   ops,
		Committee:    members,
		Threshold:    threshold,
	}
}

// VerifierKeyPath is where the key of operation op of contract name lives
// under staticDir.
func VerifierKeyPath(staticDir, name, op string) string {
	return filepath.Join(staticDir, name, keysDir, op+verifierExt)
}

// LoadVerifierKey reads a serialized verifier key.
func LoadVerifierKey(path string) (ledgercore.VerifierKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ledgercore.VerifierKey{}, err
	}
	vk, err := ledgercore.DeserializeVerifierKey(raw)
	if err != nil {
		return ledgercore.VerifierKey{}, fmt.Errorf("%s: %w", path, err)
	}
	return vk, nil
}

// PlaceholderVerifierKey is the deterministic stand-in key of an operation.
func PlaceholderVerifierKey(name, op string) ledgercore.VerifierKey {
	return ledgercore.VerifierKey{Data: crypto.Keccak256([]byte("placeholder-verifier"), []byte(name), []byte(op))}
}

func merkleTreeInitialState() []byte {
	state := make([]byte, 1+32)
	state[0] = merkleTreeDepth
	return state
}

// MerkleTree describes the merkle tree contract. Keys are read from
// staticDir; when staticDir is empty or has no keys for the contract a
// warning is logged and placeholder keys are used.
func MerkleTree(staticDir string, log logrus.FieldLogger) (Descriptor, error) {
	d := Descriptor{
		Name:         MerkleTreeName,
		InitialState: merkleTreeInitialState(),
	}

	dir := filepath.Join(staticDir, MerkleTreeName, keysDir)
	if staticDir == "" || !isDir(dir) {
		log.WithField("dir", dir).Warn("Contract artifacts not found, using placeholder verifier keys")
		d.Placeholder = true
		for _, op := range MerkleTreeOperations {
			d.Operations = append(d.Operations, ledgercore.Operation{Name: op, VerifierKey: PlaceholderVerifierKey(MerkleTreeName, op)})
		}
		return d, nil
	}

	for _, op := range MerkleTreeOperations {
		vk, err := LoadVerifierKey(VerifierKeyPath(staticDir, MerkleTreeName, op))
		if err != nil {
			return Descriptor{}, fmt.Errorf("verifier key of %s.%s: %w", MerkleTreeName, op, err)
		}
		d.Operations = append(d.Operations, ledgercore.Operation{Name: op, VerifierKey: vk})
	}
	log.WithField("dir", dir).Debug("Loaded verifier keys")
	return d, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

package chain

import (
	"github.com/Fantom-foundation/lachesis-base/hash"
)

// StatusKind is a state of a submitted extrinsic in the node's pool.
type StatusKind uint8

const (
	StatusFuture StatusKind = iota
	StatusReady
	StatusBroadcast
	StatusInBlock
	StatusRetracted
	StatusFinalityTimeout
	StatusFinalized
	StatusUsurped
	StatusDropped
	StatusInvalid
)

var statusNames = map[StatusKind]string{
	StatusFuture:          "future",
	StatusReady:           "ready",
	StatusBroadcast:       "broadcast",
	StatusInBlock:         "inBlock",
	StatusRetracted:       "retracted",
	StatusFinalityTimeout: "finalityTimeout",
	StatusFinalized:       "finalized",
	StatusUsurped:         "usurped",
	StatusDropped:         "dropped",
	StatusInvalid:         "invalid",
}

func (k StatusKind) String() string {
	if name, ok := statusNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseStatusKind maps a pool status name to its kind.
func ParseStatusKind(name string) (StatusKind, bool) {
	for k, n := range statusNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Terminal reports whether no status follows k.
func (k StatusKind) Terminal() bool {
	switch k {
	case StatusFinalized, StatusFinalityTimeout, StatusUsurped, StatusDropped, StatusInvalid:
		return true
	}
	return false
}

// Status is one update of a watched extrinsic. Block is set for the
// statuses that refer to a block.
type Status struct {
	Kind  StatusKind
	Block hash.Hash
}

func (s Status) String() string {
	if s.Block != (hash.Hash{}) {
		return s.Kind.String() + "(" + s.Block.String() + ")"
	}
	return s.Kind.String()
}

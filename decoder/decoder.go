// Package decoder turns one block into the ledger transactions it carries.
// It never fails on a single bad payload: such payloads are dropped and
// reported as diagnostics, and the caller decides how to surface them.
package decoder

import (
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/ledger-txbuilder/inter"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/network"
)

// Source tells where a dropped payload came from.
type Source uint8

const (
	SourceExtrinsic Source = iota
	SourceEvent
)

func (s Source) String() string {
	if s == SourceEvent {
		return "event"
	}
	return "extrinsic"
}

// Diagnostic describes one payload that could not be decoded.
type Diagnostic struct {
	Height    idx.Block
	Extrinsic int
	Source    Source
	Cause     error
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("block %d, %s of extrinsic %d: %v", d.Height, d.Source, d.Extrinsic, d.Cause)
}

func (d Diagnostic) Unwrap() error {
	return d.Cause
}

// Result is what a block yields.
type Result struct {
	// Timestamp is the millisecond time set by the block's timestamp
	// inherent. HasTimestamp is false when the block has none.
	Timestamp    uint64
	HasTimestamp bool

	// Transactions are in extrinsic order; for every extrinsic its call
	// comes before the system transactions of its events.
	Transactions []ledgercore.ExtractedTransaction

	Diagnostics []Diagnostic
}

// Decoder extracts transactions using the call and event positions of one
// network.
type Decoder struct {
	calls       inter.CallIndices
	systemEvent inter.EventID
}

// New returns a decoder for the network described by rules.
func New(rules network.Rules) *Decoder {
	return &Decoder{
		calls:       rules.Calls,
		systemEvent: rules.Events.SystemTransactionApplied,
	}
}

// Decode classifies every extrinsic of b and extracts the transactions.
//
// Direct system transaction calls are honoured only in genesis, which has no
// event log. Past genesis, system transactions come from the
// SystemTransactionApplied events of each extrinsic, whatever call emitted
// them.
func (d *Decoder) Decode(b *inter.Block) Result {
	res := Result{}
	diag := func(i int, src Source, err error) {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Height: b.Number, Extrinsic: i, Source: src, Cause: err})
	}

	for i, e := range b.Extrinsics {
		call, err := inter.DecodeCall(e, d.calls)
		if err != nil {
			diag(i, SourceExtrinsic, err)
		}

		switch call.Kind {
		case inter.CallSetTimestamp:
			res.Timestamp, res.HasTimestamp = call.Now, true
		case inter.CallSubmitTransaction:
			tx, err := ledgercore.DeserializeTransaction(call.Payload)
			if err != nil {
				diag(i, SourceExtrinsic, err)
				break
			}
			res.Transactions = append(res.Transactions, ledgercore.UserTx(tx))
		case inter.CallSubmitSystemTransaction:
			if !b.IsGenesis() {
				break
			}
			tx, err := ledgercore.DeserializeSystemTransaction(call.Payload)
			if err != nil {
				diag(i, SourceExtrinsic, err)
				break
			}
			res.Transactions = append(res.Transactions, ledgercore.SystemTx(tx))
		}

		if b.IsGenesis() {
			continue
		}
		for _, ev := range b.EventsOf(i) {
			if ev.ID != d.systemEvent {
				continue
			}
			payload, err := ev.BytesField(0)
			if err != nil {
				diag(i, SourceEvent, err)
				continue
			}
			tx, err := ledgercore.DeserializeSystemTransaction(payload)
			if err != nil {
				diag(i, SourceEvent, err)
				continue
			}
			res.Transactions = append(res.Transactions, ledgercore.SystemTx(tx))
		}
	}
	return res
}

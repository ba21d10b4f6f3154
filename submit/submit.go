// Package submit sends proven transactions to the node and follows them until
// the node reports a terminal status.
package submit

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/armon/go-metrics"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rony4d/ledger-txbuilder/chain"
	"github.com/rony4d/ledger-txbuilder/inter"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/network"
)

var (
	// ErrSubmission wraps every failure to submit or to follow a
	// transaction. Unlike a finalized failure it leaves the outcome unknown.
	ErrSubmission = errors.New("submission failed")
	// ErrNotFinalized is the reason of outcomes whose watch ended without
	// the transaction being finalized.
	ErrNotFinalized = errors.New("transaction was not finalized")
)

type State uint8

const (
	FinalizedOK State = iota + 1
	FinalizedErr
)

func (s State) String() string {
	switch s {
	case FinalizedOK:
		return "finalized_ok"
	case FinalizedErr:
		return "finalized_err"
	}
	return "unknown"
}

// Outcome is how the node settled a submitted transaction.
type Outcome struct {
	State         State
	TxHash        hash.Hash
	ExtrinsicHash hash.Hash
	// Status is the terminal pool status.
	Status chain.StatusKind
	// Block is the finalized block, zero if the transaction never made it
	// into one.
	Block hash.Hash
	// Err is the reason of a FinalizedErr outcome: an inter.DispatchError
	// when the runtime failed the extrinsic, or wraps ErrNotFinalized.
	Err error
}

func (o Outcome) String() string {
	if o.State == FinalizedOK {
		return fmt.Sprintf("%s in block %s", o.State, o.Block)
	}
	return fmt.Sprintf("%s (%s): %v", o.State, o.Status, o.Err)
}

type Submitter struct {
	client chain.Client
	rules  network.Rules
	log    logrus.FieldLogger
}

func New(client chain.Client, rules network.Rules, log logrus.FieldLogger) *Submitter {
	return &Submitter{client: client, rules: rules, log: log}
}

// Submit sends tx as an unsigned extrinsic and waits for a terminal status.
// It imposes no deadline of its own; ctx is the only way to stop waiting.
func (s *Submitter) Submit(ctx context.Context, tx *ledgercore.Transaction) (Outcome, error) {
	ctx, span := otel.Tracer("submit").Start(ctx, "submit.watch")
	defer span.End()

	out, err := s.submit(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.IncrCounter([]string{"submit", "outcome", "error"}, 1)
		return out, err
	}
	span.SetAttributes(attribute.String("state", out.State.String()))
	metrics.IncrCounter([]string{"submit", "outcome", out.State.String()}, 1)
	return out, nil
}

func (s *Submitter) submit(ctx context.Context, tx *ledgercore.Transaction) (Outcome, error) {
	raw, err := ledgercore.SerializeTransaction(tx)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{TxHash: tx.Hash()}
	ext := inter.EncodeSubmit(s.rules.Calls.SubmitTransaction, raw)

	progress, err := s.client.SubmitAndWatch(ctx, ext)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	defer progress.Close()
	out.ExtrinsicHash = progress.ExtrinsicHash()

	log := s.log.WithFields(logrus.Fields{"tx": out.TxHash, "ext_hash": out.ExtrinsicHash})
	log.WithField("size", len(raw)).Info("Transaction submitted")

	for {
		st, err := progress.Next(ctx)
		if err != nil {
			return out, fmt.Errorf("%w: %w", ErrSubmission, err)
		}
		log.WithField("state", st).Debug("Transaction status")
		if !st.Kind.Terminal() {
			if st.Kind == chain.StatusInBlock {
				log.WithField("block", st.Block).Info("Transaction included")
			}
			continue
		}

		out.Status = st.Kind
		if st.Kind != chain.StatusFinalized {
			out.State = FinalizedErr
			out.Err = fmt.Errorf("%w: %s", ErrNotFinalized, st.Kind)
			return out, nil
		}
		out.Block = st.Block
		if err := s.classify(ctx, &out); err != nil {
			return out, fmt.Errorf("%w: %w", ErrSubmission, err)
		}
		return out, nil
	}
}

// classify reads the dispatch result of the extrinsic from the events of the
// block it was finalized in.
func (s *Submitter) classify(ctx context.Context, out *Outcome) error {
	raw, err := s.client.Block(ctx, out.Block)
	if err != nil {
		return fmt.Errorf("finalized block %s: %w", out.Block, err)
	}
	b := &inter.Block{Number: raw.Number, Hash: out.Block, Extrinsics: raw.Extrinsics}
	if len(raw.Events) != 0 {
		if b.Events, err = inter.DecodeEvents(raw.Events, s.rules.Events.Layouts); err != nil {
			return fmt.Errorf("block %d events: %w", raw.Number, err)
		}
	}

	pos := -1
	for i, e := range b.Extrinsics {
		if e.Hash() == out.ExtrinsicHash {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("extrinsic %s not in finalized block %d", out.ExtrinsicHash, raw.Number)
	}

	for _, ev := range b.EventsOf(pos) {
		switch ev.ID {
		case s.rules.Events.ExtrinsicSuccess:
			out.State = FinalizedOK
			return nil
		case s.rules.Events.ExtrinsicFailed:
			de, err := ev.DispatchErrorField(0)
			if err != nil {
				return fmt.Errorf("block %d: %w", raw.Number, err)
			}
			out.State, out.Err = FinalizedErr, de
			return nil
		}
	}
	return fmt.Errorf("no dispatch result for extrinsic %d of block %d", pos, raw.Number)
}

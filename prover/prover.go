// Package prover turns assembled transactions into proven ones.
package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/rony4d/ledger-txbuilder/ledgercore"
)

// ErrProofFailed is returned when the witnesses do not support the
// transaction.
var ErrProofFailed = errors.New("proof generation failed")

// Provider proves transactions.
type Provider interface {
	Prove(ctx context.Context, utx *ledgercore.UnprovenTransaction) (*ledgercore.Transaction, error)
}

// LocalProver checks every input against its witness and binds the
// transaction body. It does the work on its own goroutine so that callers can
// give up through ctx.
type LocalProver struct {
	log logrus.FieldLogger
}

func NewLocalProver(log logrus.FieldLogger) *LocalProver {
	return &LocalProver{log: log}
}

type result struct {
	tx  *ledgercore.Transaction
	err error
}

func (p *LocalProver) Prove(ctx context.Context, utx *ledgercore.UnprovenTransaction) (*ledgercore.Transaction, error) {
	ctx, span := otel.Tracer("prover").Start(ctx, "prover.prove")
	defer span.End()

	done := make(chan result, 1)
	go func() {
		tx, err := prove(utx)
		done <- result{tx, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			span.RecordError(r.err)
			span.SetStatus(codes.Error, r.err.Error())
			return nil, r.err
		}
		p.log.WithField("tx", r.tx.Hash()).Debug("Transaction proven")
		return r.tx, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func prove(utx *ledgercore.UnprovenTransaction) (*ledgercore.Transaction, error) {
	witnesses := make(map[[32]byte]ledgercore.Seed, len(utx.Witnesses))
	for _, w := range utx.Witnesses {
		witnesses[w.Nullifier] = w.Seed
	}

	var err error
	tx := utx.Tx
	tx.Offers(func(segment uint16, _ bool, o *ledgercore.Offer) {
		for _, in := range o.Inputs {
			if err != nil {
				return
			}
			err = checkSpend(segment, in.Coin, in.Nullifier, witnesses)
		}
		for _, tr := range o.Transients {
			if err != nil {
				return
			}
			err = checkSpend(segment, tr.Coin, tr.Nullifier, witnesses)
		}
	})
	if err != nil {
		return nil, err
	}

	tx.Proof = ledgercore.Proof{Kind: ledgercore.ProofReal, Data: ledgercore.RealProofData(tx.SigningHash())}
	return &tx, nil
}

func checkSpend(segment uint16, coin ledgercore.Coin, nullifier [32]byte, witnesses map[[32]byte]ledgercore.Seed) error {
	seed, ok := witnesses[nullifier]
	if !ok {
		return fmt.Errorf("%w: segment %d: no witness for nullifier %x", ErrProofFailed, segment, nullifier)
	}
	if coin.Owner != seed.CoinPublicKey() {
		return fmt.Errorf("%w: segment %d: witness does not own coin %s", ErrProofFailed, segment, coin.Commitment())
	}
	if coin.Nullifier(seed) != nullifier {
		return fmt.Errorf("%w: segment %d: nullifier does not match coin %s", ErrProofFailed, segment, coin.Commitment())
	}
	return nil
}

// MockProver attaches placeholder proofs of real size. Its output is only
// good for estimating fees.
type MockProver struct{}

func (MockProver) Prove(_ context.Context, utx *ledgercore.UnprovenTransaction) (*ledgercore.Transaction, error) {
	tx := utx.Tx
	tx.Proof = ledgercore.Proof{Kind: ledgercore.ProofMock, Data: ledgercore.MockProofData()}
	return &tx, nil
}

// Selector picks the real prover unless mock proofs were asked for.
type Selector struct {
	Real Provider
	Mock Provider
}

// For returns the provider to use.
func (s Selector) For(mock bool) Provider {
	if mock && s.Mock != nil {
		return s.Mock
	}
	return s.Real
}

// Package integration wires the pipeline end to end: it connects the chain
// client to a fresh ledger context, replays every finalized block, builds and
// proves one transaction and follows its submission to a terminal status.
package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rony4d/ledger-txbuilder/chain"
	"github.com/rony4d/ledger-txbuilder/inter/iblockproc"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/network"
	"github.com/rony4d/ledger-txbuilder/prover"
	"github.com/rony4d/ledger-txbuilder/replay"
	"github.com/rony4d/ledger-txbuilder/submit"
	"github.com/rony4d/ledger-txbuilder/txbuilder"
)

var ErrZeroAmount = errors.New("transfer amount must be positive")

// Config is what one run needs besides the chain client.
type Config struct {
	Seed        ledgercore.Seed
	Destination ledgercore.Seed
	Token       ledgercore.TokenType
	Amount      *uint256.Int
	// StaticDir holds the contract artifacts. Empty means placeholder keys.
	StaticDir string
	// MockFees estimates fees on mock-proven drafts.
	MockFees bool
	// RNGSeed fixes the transaction nonces. Nil draws them at random.
	RNGSeed *hash.Hash
}

// Report is what a run did.
type Report struct {
	Network string
	// KnownNetwork is false when the node reported a network without rules
	// of its own.
	KnownNetwork bool
	Replay       iblockproc.ReplayState
	StateRoot    hash.Hash
	// Plan is set for payments.
	Plan *txbuilder.PaymentPlan
	// Contracts lists the addresses the transaction deploys.
	Contracts []hash.Hash
	Tx        *ledgercore.Transaction
	Outcome   submit.Outcome
}

// Run executes preset against client. A finalized failure of the submitted
// transaction is reported in the outcome and is not an error.
func Run(ctx context.Context, client chain.Client, preset Preset, cfg Config, log logrus.FieldLogger) (rep Report, err error) {
	ctx, span := otel.Tracer("integration").Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("preset", preset.Name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rep.Network, err = client.NetworkID(ctx)
	if err != nil {
		return rep, fmt.Errorf("network id: %w", err)
	}
	rules, known := network.RulesFor(rep.Network)
	rep.KnownNetwork = known
	if !known {
		log.WithField("network", rep.Network).Warn("Unknown network, using undeployed rules")
	}
	log.WithField("rules", rules.String()).Info("Connected")

	lc, err := ledgercore.NewFromWalletSeeds(rules, []ledgercore.Seed{cfg.Seed, cfg.Destination})
	if err != nil {
		return rep, err
	}
	defer lc.Close()

	rep.Replay, err = replay.New(client, rules, log).Run(ctx, lc)
	if err != nil {
		return rep, err
	}
	if rep.StateRoot, err = lc.StateRoot(); err != nil {
		return rep, err
	}

	provers := prover.Selector{Real: prover.NewLocalProver(log), Mock: prover.MockProver{}}
	b, err := txbuilder.NewFromContext(lc, provers, cfg.RNGSeed, log)
	if err != nil {
		return rep, err
	}
	if err := preset.build(ctx, b, lc, cfg, log, &rep); err != nil {
		return rep, fmt.Errorf("%s: %w", preset.Name, err)
	}
	b.SetFundingSeeds([]ledgercore.Seed{cfg.Seed})
	b.UseMockProofsForFees(cfg.MockFees)

	rep.Tx, err = b.Prove(ctx)
	if err != nil {
		return rep, err
	}
	for _, in := range rep.Tx.Intents {
		for _, a := range in.Actions {
			if a.Deploy != nil {
				rep.Contracts = append(rep.Contracts, a.Deploy.Address())
			}
		}
	}

	rep.Outcome, err = submit.New(client, rules, log).Submit(ctx, rep.Tx)
	if err != nil {
		return rep, err
	}
	entry := log.WithFields(logrus.Fields{"tx": rep.Outcome.TxHash, "state": rep.Outcome.State})
	if rep.Outcome.State == submit.FinalizedOK {
		entry.WithField("block", rep.Outcome.Block).Info("Transaction finalized")
	} else {
		entry.WithError(rep.Outcome.Err).Warn("Transaction failed")
	}
	return rep, nil
}

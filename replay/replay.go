// Package replay folds the finalized history of a chain into a ledger
// context, block by block.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/armon/go-metrics"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rony4d/ledger-txbuilder/chain"
	"github.com/rony4d/ledger-txbuilder/decoder"
	"github.com/rony4d/ledger-txbuilder/inter/iblockproc"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/network"
)

// ErrMissingTimestamp is returned for a block without a timestamp inherent.
var ErrMissingTimestamp = errors.New("block has no timestamp")

// Engine replays one chain.
type Engine struct {
	client  chain.Client
	rules   network.Rules
	decoder *decoder.Decoder
	log     logrus.FieldLogger
	tracer  trace.Tracer
}

// New returns an engine reading client under rules.
func New(client chain.Client, rules network.Rules, log logrus.FieldLogger) *Engine {
	return &Engine{
		client:  client,
		rules:   rules,
		decoder: decoder.New(rules),
		log:     log,
		tracer:  otel.Tracer("replay"),
	}
}

// Run folds blocks 0 through the finalized height observed at start into
// lc, strictly in order. Blocks finalized while Run is going are not
// observed. Bad payloads are logged and skipped; failing to fetch a block or
// a block without timestamp stops the run.
func (e *Engine) Run(ctx context.Context, lc *ledgercore.LedgerContext) (state iblockproc.ReplayState, err error) {
	ctx, span := e.tracer.Start(ctx, "replay.run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if state.Target, err = e.client.FinalizedHeight(ctx); err != nil {
		return state, fmt.Errorf("finalized head: %w", err)
	}
	span.SetAttributes(attribute.Int64("target", int64(state.Target)))
	e.log.WithField("finalized", state.Target).Info("Replaying finalized history")

	start := time.Now()
	for !state.Done() {
		n := state.Next()
		b, err := chain.FetchBlock(ctx, e.client, n, e.rules.Events.Layouts)
		if err != nil {
			return state, err
		}

		res := e.decoder.Decode(b)
		for _, d := range res.Diagnostics {
			e.log.WithFields(logrus.Fields{
				"height":    d.Height,
				"extrinsic": d.Extrinsic,
				"source":    d.Source,
			}).WithError(d.Cause).Warn("Skipping undecodable transaction")
		}
		if !res.HasTimestamp {
			return state, fmt.Errorf("block %d (%s): %w", b.Number, b.Hash, ErrMissingTimestamp)
		}

		bctx := iblockproc.NewBlockCtx(b, res.Timestamp, e.rules.Blocks.TimingTolerance)
		br, err := lc.UpdateFromBlock(res.Transactions, bctx)
		if err != nil {
			return state, fmt.Errorf("block %d: %w", b.Number, err)
		}
		for _, r := range br.Results {
			if r.Status != ledgercore.TxApplied {
				e.log.WithFields(logrus.Fields{
					"height": b.Number,
					"tx":     r.Hash,
					"status": r.Status,
				}).WithError(r.Err).Debug("Ledger did not fully apply transaction")
			}
		}

		size := b.EstimateSize()
		state.Bytes += uint64(size)
		state.Advance(bctx, len(res.Transactions), len(res.Diagnostics))
		metrics.IncrCounter([]string{"replay", "blocks"}, 1)
		metrics.IncrCounter([]string{"replay", "bytes"}, float32(size))
		metrics.IncrCounter([]string{"replay", "transactions"}, float32(len(res.Transactions)))
		if len(res.Diagnostics) > 0 {
			metrics.IncrCounter([]string{"replay", "decode_failures"}, float32(len(res.Diagnostics)))
		}

		if interval := e.rules.Blocks.ProgressInterval; (interval != 0 && n%interval == 0) || state.Done() {
			e.log.WithFields(logrus.Fields{
				"height":  n,
				"time":    bctx.Time.Time(),
				"target":  state.Target,
				"txs":     state.Transactions,
				"skipped": state.Diagnostics,
				"root":    br.StateRoot,
				"elapsed": time.Since(start).Round(time.Millisecond),
			}).Info("Replay progress")
		}
	}
	return state, nil
}

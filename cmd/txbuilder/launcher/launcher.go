package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/rony4d/ledger-txbuilder/chain"
	"github.com/rony4d/ledger-txbuilder/chain/wsrpc"
	"github.com/rony4d/ledger-txbuilder/flags"
	"github.com/rony4d/ledger-txbuilder/integration"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/submit"
)

// Launch parses args and runs the selected command.
func Launch(args []string) error {
	return newApp().Run(args)
}

func newApp() *cli.App {
	app := flags.NewApp()
	for _, p := range integration.Presets() {
		p := p
		app.Commands = append(app.Commands, cli.Command{
			Name:  p.Name,
			Usage: p.Usage,
			Flags: flags.Flags(),
			Action: func(ctx *cli.Context) error {
				return run(ctx, p)
			},
		})
	}
	return app
}

// connect returns the node client, or an in-memory network funding the
// configured wallets when the fakenet flag is set.
func connect(cfg Config, log logrus.FieldLogger) (chain.Client, error) {
	if cfg.Node.FakeNet {
		seeds := []ledgercore.Seed{cfg.Run.Seed}
		if cfg.Run.Destination != cfg.Run.Seed {
			seeds = append(seeds, cfg.Run.Destination)
		}
		log.Warn("Running against an in-memory fake network")
		return integration.FakeNet(cfg.Run.Token, seeds...)
	}

	ctx := context.Background()
	if cfg.Node.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Node.DialTimeout)
		defer cancel()
	}
	return wsrpc.Dial(ctx, cfg.Node.URL, log)
}

func run(ctx *cli.Context, p integration.Preset) error {
	cfg, err := MakeAllConfigs(ctx)
	if err != nil {
		return err
	}
	log, err := NewLogger(cfg.Logging, cfg.Sentry, os.Stderr)
	if err != nil {
		return err
	}
	if cfg.Metrics.Enable {
		sink, err := startMetrics(cfg.Metrics)
		if err != nil {
			return err
		}
		defer logCounters(sink, log)
	}

	log.WithFields(logrus.Fields{
		"seed":   cfg.Run.Seed,
		"token":  cfg.Run.Token,
		"amount": cfg.Run.Amount.Dec(),
	}).Info("Config parsed")

	client, err := connect(cfg, log)
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Node.URL, err)
	}
	defer client.Close()

	rep, err := integration.Run(context.Background(), client, p, cfg.Run, log)
	if err != nil {
		log.WithError(err).Error("Run failed")
		return err
	}
	printReport(ctx.App.Writer, rep)
	return nil
}

func printReport(w io.Writer, rep integration.Report) {
	fmt.Fprintf(w, "Network:           %s\n", rep.Network)
	fmt.Fprintf(w, "Blocks replayed:   %d\n", uint64(rep.Replay.LastBlock.Idx)+1)
	fmt.Fprintf(w, "Last block time:   %s\n", rep.Replay.LastBlock.Time.Time().Format(time.RFC3339))
	fmt.Fprintf(w, "Transactions:      %d (%d skipped)\n", rep.Replay.Transactions, rep.Replay.Diagnostics)
	fmt.Fprintf(w, "State root:        %s\n", rep.StateRoot)
	if rep.Plan != nil {
		fmt.Fprintf(w, "Input coin value:  %s\n", rep.Plan.Selected.Dec())
		fmt.Fprintf(w, "Send amount:       %s\n", rep.Plan.Amount.Dec())
		fmt.Fprintf(w, "Change:            %s\n", rep.Plan.Change.Dec())
	}
	for _, addr := range rep.Contracts {
		fmt.Fprintf(w, "Contract address:  %s\n", addr)
	}
	if rep.Tx != nil {
		fmt.Fprintf(w, "Transaction:       %s (fee %d)\n", rep.Tx.Hash(), rep.Tx.FeeTotal())
	}
	fmt.Fprintf(w, "Extrinsic hash:    %s\n", rep.Outcome.ExtrinsicHash)
	if rep.Outcome.State == submit.FinalizedOK {
		fmt.Fprintf(w, "Transaction finalized successfully in block %s\n", rep.Outcome.Block)
	} else {
		fmt.Fprintf(w, "Transaction failed: %v\n", rep.Outcome.Err)
	}
}

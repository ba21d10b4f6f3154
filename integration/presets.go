package integration

import (
	"context"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/ledger-txbuilder/contracts"
	"github.com/rony4d/ledger-txbuilder/inter/committeepk"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/txbuilder"
)

// Preset is a named kind of transaction the pipeline can build once the
// ledger is replayed. Presets only describe the transaction; funding, fee
// estimation and proving are the same for all of them.
type Preset struct {
	Name  string
	Usage string
	build buildFunc
}

type buildFunc func(ctx context.Context, b *txbuilder.StandardTransactionInfo, lc *ledgercore.LedgerContext, cfg Config, log logrus.FieldLogger, rep *Report) error

// TransferPreset pays Config.Amount of Config.Token from Config.Seed to
// Config.Destination in the transaction-level offer, with change back to
// the seed.
func TransferPreset() Preset {
	return Preset{
		Name:  "transfer",
		Usage: "Replay the ledger and send a shielded payment",
		build: buildTransfer,
	}
}

// DeployPreset deploys the merkle-tree contract in intent 1, maintained by
// the seed's verifying key alone.
func DeployPreset() Preset {
	return Preset{
		Name:  "deploy",
		Usage: "Replay the ledger and deploy the merkle-tree contract",
		build: buildDeploy,
	}
}

var presets = map[string]func() Preset{
	"transfer": TransferPreset,
	"deploy":   DeployPreset,
}

// Presets returns every preset ordered by name.
func Presets() []Preset {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	res := make([]Preset, len(names))
	for i, name := range names {
		res[i] = presets[name]()
	}
	return res
}

// GetPresetByName looks up a preset by name.
func GetPresetByName(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset: %q (valid: deploy, transfer)", name)
	}
	return p(), nil
}

func buildTransfer(_ context.Context, b *txbuilder.StandardTransactionInfo, lc *ledgercore.LedgerContext, cfg Config, log logrus.FieldLogger, rep *Report) error {
	if zeroAmount(cfg.Amount) {
		return ErrZeroAmount
	}
	w, err := lc.WalletFromSeed(cfg.Seed)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"balance": w.Balance(cfg.Token).Dec(),
		"coins":   len(w.Coins(cfg.Token)),
	}).Info("Wallet replayed")

	offer, plan, err := txbuilder.PaymentOffer(w, cfg.Destination, cfg.Token, cfg.Amount)
	if err != nil {
		return err
	}
	rep.Plan = &plan
	log.WithFields(logrus.Fields{
		"selected": plan.Selected.Dec(),
		"amount":   plan.Amount.Dec(),
		"change":   plan.Change.Dec(),
	}).Info("Payment planned")

	b.SetGuaranteedOffer(offer)
	return nil
}

func buildDeploy(_ context.Context, b *txbuilder.StandardTransactionInfo, lc *ledgercore.LedgerContext, cfg Config, log logrus.FieldLogger, rep *Report) error {
	w, err := lc.WalletFromSeed(cfg.Seed)
	if err != nil {
		return err
	}
	desc, err := contracts.MerkleTree(cfg.StaticDir, log)
	if err != nil {
		return err
	}
	err = b.AddIntent(1, txbuilder.IntentInfo{Actions: []txbuilder.ActionInfo{
		txbuilder.Deploy(txbuilder.ContractDeployInfo{
			Type:      desc,
			Committee: []committeepk.PubKey{w.VerifyingKey()},
			Threshold: 1,
		}),
	}})
	if err != nil {
		return err
	}
	b.SetGuaranteedOffer(txbuilder.OfferInfo{})
	return nil
}

// zeroAmount reports whether a transfer would move nothing.
func zeroAmount(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

package txbuilder

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rony4d/ledger-txbuilder/ledgercore"
	"github.com/rony4d/ledger-txbuilder/prover"
)

var (
	// ErrNoFundingSeeds is returned when nobody was named to pay the fees.
	ErrNoFundingSeeds = errors.New("no funding seeds")
	// ErrMockProofOnFinal is returned when the final proof is not a real one.
	ErrMockProofOnFinal = errors.New("final transaction must carry a real proof")
	// ErrFeeNotConverged is returned when the fee estimate keeps changing the
	// transaction size.
	ErrFeeNotConverged = errors.New("fee estimate did not converge")
)

const maxFeePasses = 4

// StandardTransactionInfo collects everything a standard transaction needs
// and turns it into a proven transaction. It reads wallets and allowances
// from the ledger context it was created from and never modifies it.
type StandardTransactionInfo struct {
	lc      *ledgercore.LedgerContext
	provers prover.Selector
	log     logrus.FieldLogger

	rngSeed hash.Hash
	nonces  uint64

	guaranteed   *OfferInfo
	intents      map[uint16]IntentInfo
	fundingSeeds []ledgercore.Seed
	mockFees     bool
}

// NewFromContext starts a transaction against lc. Nonces derive from rngSeed;
// a nil rngSeed draws a random one.
func NewFromContext(lc *ledgercore.LedgerContext, provers prover.Selector, rngSeed *hash.Hash, log logrus.FieldLogger) (*StandardTransactionInfo, error) {
	b := &StandardTransactionInfo{
		lc:      lc,
		provers: provers,
		log:     log,
		intents: make(map[uint16]IntentInfo),
	}
	if rngSeed != nil {
		b.rngSeed = *rngSeed
	} else if _, err := rand.Read(b.rngSeed[:]); err != nil {
		return nil, err
	}
	return b, nil
}

// SetGuaranteedOffer sets the transaction-level offer.
func (b *StandardTransactionInfo) SetGuaranteedOffer(o OfferInfo) {
	b.guaranteed = &o
}

// AddIntent adds the intent of segment.
func (b *StandardTransactionInfo) AddIntent(segment uint16, in IntentInfo) error {
	if segment == 0 {
		return ErrBadSegment
	}
	if _, ok := b.intents[segment]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateSegment, segment)
	}
	b.intents[segment] = in
	return nil
}

// SetFundingSeeds names the wallets whose fee allowances pay the fees, in
// the order they are drawn from.
func (b *StandardTransactionInfo) SetFundingSeeds(seeds []ledgercore.Seed) {
	b.fundingSeeds = append([]ledgercore.Seed(nil), seeds...)
}

// UseMockProofsForFees estimates fees on mock-proven drafts instead of
// running the real prover on every estimation pass.
func (b *StandardTransactionInfo) UseMockProofsForFees(mock bool) {
	b.mockFees = mock
}

func (b *StandardTransactionInfo) nextNonce() hash.Hash {
	b.nonces++
	return hash.Of(b.rngSeed[:], bigendian.Uint64ToBytes(b.nonces))
}

// assembly holds the state of one Build.
type assembly struct {
	b         *StandardTransactionInfo
	wallets   map[ledgercore.Seed]*ledgercore.Wallet
	selected  map[hash.Hash]bool
	witnesses []ledgercore.InputWitness
}

func (a *assembly) wallet(seed ledgercore.Seed) (*ledgercore.Wallet, error) {
	if w, ok := a.wallets[seed]; ok {
		return w, nil
	}
	w, err := a.b.lc.WalletFromSeed(seed)
	if err != nil {
		return nil, err
	}
	a.wallets[seed] = w
	return w, nil
}

func (a *assembly) offer(info *OfferInfo) (*ledgercore.Offer, error) {
	if info == nil || info.Empty() {
		return nil, nil
	}
	o := &ledgercore.Offer{}
	for _, in := range info.Inputs {
		w, err := a.wallet(in.Origin)
		if err != nil {
			return nil, err
		}
		coin, err := a.coin(w, in)
		if err != nil {
			return nil, err
		}
		a.selected[coin.Commitment()] = true
		nullifier := w.Nullifier(coin)
		o.Inputs = append(o.Inputs, ledgercore.Input{Coin: coin, Nullifier: nullifier})
		a.witnesses = append(a.witnesses, ledgercore.InputWitness{Nullifier: nullifier, Seed: w.Seed})
	}
	for _, out := range info.Outputs {
		o.Outputs = append(o.Outputs, ledgercore.Output{Coin: ledgercore.Coin{
			Nonce: a.b.nextNonce(),
			Type:  out.Token,
			Value: new(uint256.Int).Set(out.Value),
			Owner: out.Destination.CoinPublicKey(),
		}})
	}
	for _, tr := range info.Transients {
		coin := ledgercore.Coin{
			Nonce: a.b.nextNonce(),
			Type:  tr.Token,
			Value: new(uint256.Int).Set(tr.Value),
			Owner: tr.Owner.CoinPublicKey(),
		}
		nullifier := coin.Nullifier(tr.Owner)
		o.Transients = append(o.Transients, ledgercore.Transient{Coin: coin, Nullifier: nullifier})
		a.witnesses = append(a.witnesses, ledgercore.InputWitness{Nullifier: nullifier, Seed: tr.Owner})
	}
	if err := ledgercore.CheckBalance(o); err != nil {
		return nil, err
	}
	return o, nil
}

// coin resolves the coin spent by in, checking a pinned coin against the
// ledger and the inputs assembled so far.
func (a *assembly) coin(w *ledgercore.Wallet, in InputInfo) (ledgercore.Coin, error) {
	if in.Coin == nil {
		return w.MinMatchCoin(in.Token, in.Value, a.selected)
	}
	cm := in.Coin.Commitment()
	if a.selected[cm] {
		return ledgercore.Coin{}, fmt.Errorf("%w: %s", ErrCoinReused, cm)
	}
	exists, err := a.b.lc.HasCommitment(cm)
	if err != nil {
		return ledgercore.Coin{}, err
	}
	if !exists {
		return ledgercore.Coin{}, fmt.Errorf("%w: %s", ledgercore.ErrUnknownCommitment, cm)
	}
	spent, err := a.b.lc.IsSpent(cm)
	if err != nil {
		return ledgercore.Coin{}, err
	}
	if spent {
		return ledgercore.Coin{}, fmt.Errorf("%w: %s", ledgercore.ErrCommitmentSpent, cm)
	}
	return in.Coin.Copy(), nil
}

func (a *assembly) action(info ActionInfo) (ledgercore.ContractAction, error) {
	switch info.Kind {
	case ActionDeploy:
		if info.Deploy == nil {
			return ledgercore.ContractAction{}, fmt.Errorf("%w: deploy without contract", ErrUnsupportedAction)
		}
		d := info.Deploy
		return ledgercore.ContractAction{
			Kind:   ledgercore.ActionDeploy,
			Deploy: d.Type.Deploy(a.b.nextNonce(), d.Committee, d.Threshold),
		}, nil
	default:
		return ledgercore.ContractAction{}, fmt.Errorf("%w: %s", ErrUnsupportedAction, info.Kind)
	}
}

// Build selects coins and assembles the unproven transaction without fees.
// Coins are never selected twice within one transaction, and every offer
// must balance per token before anything is proven.
func (b *StandardTransactionInfo) Build() (*ledgercore.UnprovenTransaction, error) {
	if b.guaranteed == nil && len(b.intents) == 0 {
		return nil, ledgercore.ErrNoIntents
	}
	a := &assembly{
		b:        b,
		wallets:  make(map[ledgercore.Seed]*ledgercore.Wallet),
		selected: make(map[hash.Hash]bool),
	}

	utx := &ledgercore.UnprovenTransaction{Tx: ledgercore.Transaction{NetworkID: b.lc.NetworkID()}}
	offer, err := a.offer(b.guaranteed)
	if err != nil {
		return nil, fmt.Errorf("guaranteed offer: %w", err)
	}
	utx.Tx.GuaranteedOffer = offer

	segments := make([]int, 0, len(b.intents))
	for s := range b.intents {
		segments = append(segments, int(s))
	}
	sort.Ints(segments)
	for _, s := range segments {
		info := b.intents[uint16(s)]
		intent := ledgercore.Intent{Segment: uint16(s)}
		if intent.Guaranteed, err = a.offer(info.Guaranteed); err != nil {
			return nil, fmt.Errorf("segment %d guaranteed offer: %w", s, err)
		}
		if intent.Fallible, err = a.offer(info.Fallible); err != nil {
			return nil, fmt.Errorf("segment %d fallible offer: %w", s, err)
		}
		for _, act := range info.Actions {
			ca, err := a.action(act)
			if err != nil {
				return nil, fmt.Errorf("segment %d: %w", s, err)
			}
			intent.Actions = append(intent.Actions, ca)
		}
		utx.Tx.Intents = append(utx.Tx.Intents, intent)
	}
	if len(utx.Tx.Intents) == 0 {
		// a lone transaction-level offer still needs an intent to bind to
		utx.Tx.Intents = []ledgercore.Intent{{Segment: 1}}
	}
	utx.Tx.BindingNonce = b.nextNonce()
	utx.Witnesses = a.witnesses
	return utx, nil
}

type funder struct {
	wallet    *ledgercore.Wallet
	allowance uint64
}

func (b *StandardTransactionInfo) funders() ([]funder, error) {
	if len(b.fundingSeeds) == 0 {
		return nil, ErrNoFundingSeeds
	}
	res := make([]funder, 0, len(b.fundingSeeds))
	seen := make(map[ledgercore.Seed]bool)
	for _, seed := range b.fundingSeeds {
		if seen[seed] {
			continue
		}
		seen[seed] = true
		w, err := b.lc.WalletFromSeed(seed)
		if err != nil {
			return nil, err
		}
		allowance, err := b.lc.FeeAllowance(w.DustAddress())
		if err != nil {
			return nil, err
		}
		res = append(res, funder{wallet: w, allowance: allowance})
	}
	return res, nil
}

// feePayments draws fee from the funders in order.
func feePayments(funders []funder, fee uint64) ([]ledgercore.FeePayment, error) {
	var (
		res  []ledgercore.FeePayment
		left = fee
	)
	for _, f := range funders {
		if left == 0 {
			break
		}
		amount := f.allowance
		if amount > left {
			amount = left
		}
		if amount == 0 {
			continue
		}
		res = append(res, ledgercore.FeePayment{
			Payer:     f.wallet.VerifyingKey(),
			Amount:    amount,
			Signature: make([]byte, 64),
		})
		left -= amount
	}
	if left != 0 {
		return nil, fmt.Errorf("%w: need %d, funding seeds are short by %d", ledgercore.ErrInsufficientAllowance, fee, left)
	}
	return res, nil
}

// Prove builds the transaction, settles its fees and returns it with a real
// proof and signed fee payments.
func (b *StandardTransactionInfo) Prove(ctx context.Context) (*ledgercore.Transaction, error) {
	ctx, span := otel.Tracer("txbuilder").Start(ctx, "txbuilder.prove")
	defer span.End()

	tx, err := b.prove(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("tx", tx.Hash().String()),
		attribute.Int64("fee", int64(tx.FeeTotal())),
	)
	return tx, nil
}

func (b *StandardTransactionInfo) prove(ctx context.Context) (*ledgercore.Transaction, error) {
	utx, err := b.Build()
	if err != nil {
		return nil, err
	}
	funders, err := b.funders()
	if err != nil {
		return nil, err
	}

	rules := b.lc.Rules().Economy
	estimator := b.provers.For(b.mockFees)
	var fee uint64
	converged := false
	for pass := 0; pass < maxFeePasses; pass++ {
		fees, err := feePayments(funders, fee)
		if err != nil {
			return nil, err
		}
		utx.Tx.Fees = fees
		draft, err := estimator.Prove(ctx, utx)
		if err != nil {
			return nil, err
		}
		required, err := ledgercore.TransactionFee(rules, draft)
		if err != nil {
			return nil, err
		}
		b.log.WithFields(logrus.Fields{"pass": pass, "fee": required}).Debug("Fee estimated")
		if required <= fee {
			converged = true
			break
		}
		fee = required
	}
	if !converged {
		return nil, fmt.Errorf("%w after %d passes", ErrFeeNotConverged, maxFeePasses)
	}

	signers := make([]*ledgercore.Wallet, len(funders))
	for i, f := range funders {
		signers[i] = f.wallet
	}
	if err := utx.Tx.SignFees(signers); err != nil {
		return nil, err
	}

	tx, err := b.provers.For(false).Prove(ctx, utx)
	if err != nil {
		return nil, err
	}
	if tx.Proof.Kind != ledgercore.ProofReal {
		return nil, fmt.Errorf("%w: got %s proof", ErrMockProofOnFinal, tx.Proof.Kind)
	}
	b.log.WithFields(logrus.Fields{
		"tx":      tx.Hash(),
		"fee":     tx.FeeTotal(),
		"intents": len(tx.Intents),
	}).Info("Transaction proven")
	return tx, nil
}

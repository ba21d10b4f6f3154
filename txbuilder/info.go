// Package txbuilder assembles transactions against a replayed ledger context:
// it selects coins, adds change, wraps contract actions into intents, sets the
// fee payments of the funding wallets and drives the prover.
package txbuilder

import (
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/holiman/uint256"

	"github.com/rony4d/ledger-txbuilder/contracts"
	"github.com/rony4d/ledger-txbuilder/inter/committeepk"
	"github.com/rony4d/ledger-txbuilder/ledgercore"
)

var (
	// ErrUnsupportedAction is returned for contract actions the ledger does not
	// accept yet.
	ErrUnsupportedAction = errors.New("unsupported contract action")
	// ErrBadSegment is returned for intent segment 0, which is reserved for
	// the transaction-level offer.
	ErrBadSegment = errors.New("intent segment must be positive")
	// ErrDuplicateSegment is returned when two intents share a segment.
	ErrDuplicateSegment = errors.New("intent segment already used")
	// ErrCoinReused is returned when two inputs of one transaction name the
	// same coin.
	ErrCoinReused = errors.New("coin already spent by this transaction")
)

// InputInfo spends a coin of Origin. When Coin is set exactly that coin is
// spent; otherwise the smallest unselected coin of type Token worth at least
// Value is.
type InputInfo struct {
	Origin ledgercore.Seed
	Token  ledgercore.TokenType
	Value  *uint256.Int
	Coin   *ledgercore.Coin
}

// OutputInfo pays Value of Token to Destination.
type OutputInfo struct {
	Destination ledgercore.Seed
	Token       ledgercore.TokenType
	Value       *uint256.Int
}

// TransientInfo creates a coin of Owner and spends it within the same offer.
type TransientInfo struct {
	Owner ledgercore.Seed
	Token ledgercore.TokenType
	Value *uint256.Int
}

// OfferInfo describes one offer.
type OfferInfo struct {
	Inputs     []InputInfo
	Outputs    []OutputInfo
	Transients []TransientInfo
}

// Empty reports whether the offer describes nothing.
func (o OfferInfo) Empty() bool {
	return len(o.Inputs)+len(o.Outputs)+len(o.Transients) == 0
}

type ActionInfoKind uint8

const (
	ActionDeploy ActionInfoKind = iota + 1
	ActionCall
	ActionMaintain
)

func (k ActionInfoKind) String() string {
	switch k {
	case ActionDeploy:
		return "deploy"
	case ActionCall:
		return "call"
	case ActionMaintain:
		return "maintain"
	}
	return fmt.Sprintf("action(%d)", uint8(k))
}

// ContractDeployInfo deploys a contract of type Type maintained by
// Committee, Threshold of whom must sign maintenance updates.
type ContractDeployInfo struct {
	Type      contracts.Descriptor
	Committee []committeepk.PubKey
	Threshold uint32
}

// ContractCallInfo calls Operation of the contract at Address.
type ContractCallInfo struct {
	Address   [32]byte
	Operation string
	Input     []byte
}

// ActionInfo is a contract action. Exactly the field matching Kind is set.
type ActionInfo struct {
	Kind   ActionInfoKind
	Deploy *ContractDeployInfo
	Call   *ContractCallInfo
}

// Deploy wraps d as an action.
func Deploy(d ContractDeployInfo) ActionInfo {
	return ActionInfo{Kind: ActionDeploy, Deploy: &d}
}

// IntentInfo groups the offers and actions of one segment.
type IntentInfo struct {
	Guaranteed *OfferInfo
	Fallible   *OfferInfo
	Actions    []ActionInfo
}

// PaymentPlan is how a payment is funded.
type PaymentPlan struct {
	// Coin is the commitment of the coin that will be spent, Selected its
	// value.
	Coin     hash.Hash
	Selected *uint256.Int
	Amount   *uint256.Int
	// Change goes back to the origin. No change output exists when it is 0.
	Change *uint256.Int
}

// PaymentOffer describes a payment of amount of token from w to
// destination: one input covering it with the smallest sufficient coin, the
// payment output and, if the coin is worth more, a change output to w.
// The input is pinned to the selected coin, so the built transaction spends
// what the plan reports. Two plans over one wallet may pick the same coin;
// Build rejects that with ErrCoinReused.
func PaymentOffer(w *ledgercore.Wallet, destination ledgercore.Seed, token ledgercore.TokenType, amount *uint256.Int) (OfferInfo, PaymentPlan, error) {
	coin, err := w.MinMatchCoin(token, amount, nil)
	if err != nil {
		return OfferInfo{}, PaymentPlan{}, err
	}
	plan := PaymentPlan{
		Coin:     coin.Commitment(),
		Selected: new(uint256.Int).Set(coin.Value),
		Amount:   new(uint256.Int).Set(amount),
		Change:   new(uint256.Int).Sub(coin.Value, amount),
	}

	offer := OfferInfo{
		Inputs:  []InputInfo{{Origin: w.Seed, Token: token, Value: new(uint256.Int).Set(coin.Value), Coin: &coin}},
		Outputs: []OutputInfo{{Destination: destination, Token: token, Value: new(uint256.Int).Set(amount)}},
	}
	if !plan.Change.IsZero() {
		offer.Outputs = append(offer.Outputs, OutputInfo{Destination: w.Seed, Token: token, Value: new(uint256.Int).Set(plan.Change)})
	}
	return offer, plan, nil
}

package ledgercore

import (
	"errors"
	"math/bits"

	"github.com/rony4d/ledger-txbuilder/network"
)

var ErrFeeOverflow = errors.New("fee overflows")

// RequiredFee is the fee a transaction of serialized size bytes must pay.
func RequiredFee(rules network.EconomyRules, size int) (uint64, error) {
	hi, perBytes := bits.Mul64(rules.FeePerByte, uint64(size))
	if hi != 0 {
		return 0, ErrFeeOverflow
	}
	total, carry := bits.Add64(rules.FeeBase, perBytes, 0)
	if carry != 0 {
		return 0, ErrFeeOverflow
	}
	return total, nil
}

// TransactionFee is the fee tx must pay as currently serialized.
func TransactionFee(rules network.EconomyRules, tx *Transaction) (uint64, error) {
	raw, err := SerializeTransaction(tx)
	if err != nil {
		return 0, err
	}
	return RequiredFee(rules, len(raw))
}

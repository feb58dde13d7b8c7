// Package payment defines the tender modes a sale can be settled with and
// checks that a tender covers a sale total.
package payment

import (
	"errors"
	"fmt"
)

const (
	ModeCash   = "CASH"
	ModeCard   = "CARD"
	ModeMobile = "MOBILE"
	ModeMixed  = "MIXED"
)

var (
	ErrInsufficient = errors.New("payment does not cover the sale total")
	ErrUnknownMode  = errors.New("unknown payment mode")
)

// Details is the tender breakdown recorded with a sale. Amounts are minor
// units; zero means not provided.
type Details struct {
	CashAmount     int64  `json:"cash_amount,omitempty" validate:"min=0"`
	CardAmount     int64  `json:"card_amount,omitempty" validate:"min=0"`
	ChangeGiven    int64  `json:"change_given,omitempty" validate:"min=0"`
	TransactionRef string `json:"transaction_ref,omitempty" validate:"max=128"`
}

// Settle validates d against totalTTC for mode and returns the details with
// ChangeGiven computed. Card and mobile tenders are taken as exact.
func Settle(mode string, d Details, totalTTC int64) (Details, error) {
	switch mode {
	case ModeCash:
		if d.CashAmount == 0 {
			d.CashAmount = totalTTC
		}
		if d.CashAmount < totalTTC {
			return d, fmt.Errorf("%w: cash %d < total %d", ErrInsufficient, d.CashAmount, totalTTC)
		}
		d.ChangeGiven = d.CashAmount - totalTTC
	case ModeCard, ModeMobile:
		if d.CardAmount == 0 {
			d.CardAmount = totalTTC
		}
		if d.CardAmount != totalTTC {
			return d, fmt.Errorf("%w: card %d != total %d", ErrInsufficient, d.CardAmount, totalTTC)
		}
		d.CashAmount = 0
		d.ChangeGiven = 0
	case ModeMixed:
		if d.CardAmount > totalTTC {
			return d, fmt.Errorf("%w: card %d exceeds total %d", ErrInsufficient, d.CardAmount, totalTTC)
		}
		if d.CashAmount+d.CardAmount < totalTTC {
			return d, fmt.Errorf("%w: tendered %d < total %d", ErrInsufficient, d.CashAmount+d.CardAmount, totalTTC)
		}
		d.ChangeGiven = d.CashAmount + d.CardAmount - totalTTC
	default:
		return d, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return d, nil
}

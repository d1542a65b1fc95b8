package payment

import (
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/cinetick/movie-bookings/internal/domain"
)

type MethodKind string

const (
	MethodCard   MethodKind = "card"
	MethodUPI    MethodKind = "upi"
	MethodWallet MethodKind = "wallet"
)

// Method is a tagged variant: exactly one of the detail structs matching
// Kind must be set. Each variant is validated before anything is sent to
// the gateway.
type Method struct {
	Kind   MethodKind     `json:"kind"`
	Card   *CardDetails   `json:"card,omitempty"`
	UPI    *UPIDetails    `json:"upi,omitempty"`
	Wallet *WalletDetails `json:"wallet,omitempty"`
}

type CardDetails struct {
	Number     string `json:"number" validate:"required,numeric,len=16"`
	HolderName string `json:"holder_name" validate:"required"`
	Expiry     string `json:"expiry" validate:"required,len=5"`
	CVV        string `json:"cvv" validate:"required,numeric,min=3,max=4"`
}

type UPIDetails struct {
	ID string `json:"id" validate:"required,contains=@"`
}

type WalletDetails struct {
	Provider string `json:"provider" validate:"required,oneof=paytm phonepe amazonpay"`
	Phone    string `json:"phone" validate:"required,numeric,len=10"`
}

var validate = validator.New()

func (m Method) Validate() error {
	switch m.Kind {
	case MethodCard:
		if m.Card == nil {
			return errors.Wrap(domain.ErrInvalidInput, "card details missing")
		}
		if err := validate.Struct(m.Card); err != nil {
			return errors.Wrap(domain.ErrInvalidInput, err.Error())
		}
	case MethodUPI:
		if m.UPI == nil {
			return errors.Wrap(domain.ErrInvalidInput, "upi details missing")
		}
		if err := validate.Struct(m.UPI); err != nil {
			return errors.Wrap(domain.ErrInvalidInput, err.Error())
		}
	case MethodWallet:
		if m.Wallet == nil {
			return errors.Wrap(domain.ErrInvalidInput, "wallet details missing")
		}
		if err := validate.Struct(m.Wallet); err != nil {
			return errors.Wrap(domain.ErrInvalidInput, err.Error())
		}
	default:
		return errors.Wrapf(domain.ErrInvalidInput, "unknown payment method %q", m.Kind)
	}
	return nil
}

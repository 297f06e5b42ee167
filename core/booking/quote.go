package booking

import (
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
)

type PaymentType string

const (
	PaymentFull    PaymentType = "full"
	PaymentDeposit PaymentType = "deposit"
	PaymentBalance PaymentType = "balance"
)

var ErrNothingToPay = core.NewConflictError("booking has no outstanding balance")

func IsValidPaymentType(pt PaymentType) bool {
	switch pt {
	case PaymentFull, PaymentDeposit, PaymentBalance:
		return true
	}
	return false
}

// Quote is the price breakdown of a booking.
// Parents pay the teacher's price plus a 20% commission, rounded up to a whole cedi per session.
type Quote struct {
	Sessions      int        `json:"sessions"`
	TeacherPrice  core.Money `json:"teacher_price"`
	ParentPrice   core.Money `json:"parent_price"`
	TeacherTotal  core.Money `json:"teacher_total"`
	ParentTotal   core.Money `json:"parent_total"`
	CompanyAmount core.Money `json:"company_amount"`
	Deposit       core.Money `json:"deposit"`
}

func NewQuote(pricePerSession core.Money, sessions int) Quote {
	parentPrice := core.Money(core.CeilDiv(int64(pricePerSession)*6, 5)).CeilCedi()
	q := Quote{
		Sessions:     sessions,
		TeacherPrice: pricePerSession,
		ParentPrice:  parentPrice,
		TeacherTotal: pricePerSession * core.Money(sessions),
		ParentTotal:  parentPrice * core.Money(sessions),
	}
	q.CompanyAmount = q.ParentTotal - q.TeacherTotal
	q.Deposit = core.Money(core.CeilDiv(int64(q.ParentTotal), 2)).CeilCedi()
	return q
}

// QuoteFor returns the quote of a booking from its gig price.
func QuoteFor(b Booking) Quote {
	return NewQuote(b.Gig.PricePerSession, b.TotalSessions)
}

// AmountDue returns what the parent must pay for the given payment type.
func (q Quote) AmountDue(pt PaymentType, amountPaid core.Money) (core.Money, error) {
	switch pt {
	case PaymentFull:
		return q.ParentTotal, nil
	case PaymentDeposit:
		return q.Deposit, nil
	case PaymentBalance:
		if amountPaid >= q.ParentTotal {
			return 0, ErrNothingToPay
		}
		return q.ParentTotal - amountPaid, nil
	}
	return 0, core.NewValidationError(errors.Errorf("invalid payment type %q", pt))
}

package payment

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
	// StatusMismatch marks a successful charge that does not cover the amount due.
	StatusMismatch Status = "mismatch"
)

// Payment is one gateway transaction for a booking.
type Payment struct {
	ID             string      `json:"id" db:"id"`
	BookingID      string      `json:"booking_id" db:"booking_id"`
	Reference      string      `json:"reference" db:"reference"`
	PaymentType    string      `json:"payment_type" db:"payment_type"`
	ExpectedAmount core.Money  `json:"expected_amount" db:"expected_amount"`
	Amount         core.Money  `json:"amount" db:"amount"`
	Currency       string      `json:"currency" db:"currency"`
	Status         Status      `json:"status" db:"status"`
	Channel        null.String `json:"channel" db:"channel"`
	PaidAt         null.Time   `json:"paid_at" db:"paid_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// InitializePayment is the parent's request to pay for a booking.
// The amount is always computed from the booking.
type InitializePayment struct {
	BookingID   string `json:"booking_id" validate:"required,uuid"`
	PaymentType string `json:"payment_type" validate:"omitempty,oneof=full deposit balance"`
	Email       string `json:"email" validate:"omitempty,email"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
}

type Checkout struct {
	AuthorizationURL string     `json:"authorization_url"`
	AccessCode       string     `json:"access_code"`
	Reference        string     `json:"reference"`
	Amount           core.Money `json:"amount"`
}

// Verification statuses returned to the client besides the gateway's own.
const (
	VerifySuccess        = "success"
	VerifyAmountMismatch = "amount_mismatch"
)

type VerifyResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	BookingID string `json:"booking_id,omitempty"`
}

// Outcome describes what a confirmation did.
type Outcome struct {
	BookingID string
	Payment   Payment
	Applied   bool // first confirmation of the reference, booking updated
	Duplicate bool // reference already processed
	Mismatch  bool // amount or currency does not cover what is due
	Orphaned  bool // booking can no longer be confirmed, refund needed
}

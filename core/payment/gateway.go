package payment

import (
	"context"
	"time"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
)

// Charge statuses reported by the gateway.
const (
	ChargeSuccess   = "success"
	ChargeFailed    = "failed"
	ChargeAbandoned = "abandoned"
)

// Webhook events
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

var Channels = []string{"card", "mobile_money", "bank"}

type (
	CustomField struct {
		DisplayName  string `json:"display_name"`
		VariableName string `json:"variable_name"`
		Value        string `json:"value"`
	}

	Metadata struct {
		BookingID    string        `json:"booking_id,omitempty"`
		PaymentType  string        `json:"payment_type,omitempty"`
		CustomFields []CustomField `json:"custom_fields,omitempty"`
	}

	InitializeRequest struct {
		Email       string
		Amount      core.Money
		Currency    string
		Reference   string
		CallbackURL string
		Metadata    Metadata
		Channels    []string
	}

	Authorization struct {
		AuthorizationURL string
		AccessCode       string
		Reference        string
	}

	// Charge is the gateway's view of a transaction.
	Charge struct {
		Status          string
		Reference       string
		Amount          core.Money
		Currency        string
		Channel         string
		GatewayResponse string
		PaidAt          time.Time
		Metadata        Metadata
	}

	// Verification is the answer of the verify endpoint. Status false means the gateway
	// could not verify the reference and Message says why.
	Verification struct {
		Status  bool
		Message string
		Charge  Charge
	}

	// Event is a parsed webhook notification.
	Event struct {
		Name     string
		Charge   Charge                // charge.* events
		Transfer earning.TransferEvent // transfer.* events
	}

	Gateway interface {
		InitializeTransaction(ctx context.Context, req InitializeRequest) (Authorization, error)
		VerifyTransaction(ctx context.Context, reference string) (Verification, error)
		// ValidSignature checks a webhook body against its signature header.
		ValidSignature(body []byte, signature string) bool
		ParseEvent(body []byte) (Event, error)
	}
)

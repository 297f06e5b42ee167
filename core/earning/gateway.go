package earning

import (
	"context"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/user"
)

// Recipient types understood by the transfer gateway.
const (
	RecipientMobileMoney = "mobile_money"
	RecipientBank        = "ghipss"
)

// bankCodes maps bank and mobile money network names to the gateway's Ghana codes.
var bankCodes = map[string]string{
	"GCB Bank":            "GCB",
	"Ecobank":             "ECO",
	"Fidelity Bank":       "FBN",
	"Stanbic Bank":        "STB",
	"Standard Chartered":  "SCB",
	"Zenith Bank":         "ZEN",
	"Access Bank":         "ABG",
	"CalBank":             "CAL",
	"Absa Bank":           "ABS",
	"UBA":                 "UBA",
	"Republic Bank":       "REP",
	"First National Bank": "FNB",
	// mobile money
	"MTN":        "MTN",
	"Vodafone":   "VOD",
	"AirtelTigo": "ATL",
}

// BankCode returns the gateway code of a bank or network, or name itself when unknown.
func BankCode(name string) string {
	if code, ok := bankCodes[name]; ok {
		return code
	}
	return name
}

type (
	Recipient struct {
		Type          string
		Name          string
		AccountNumber string
		BankCode      string
		Currency      string
	}

	Transfer struct {
		Amount    core.Money
		Recipient string
		Reason    string
		Reference string
	}

	TransferResult struct {
		Reference    string
		TransferCode string
		Status       PayoutStatus
	}

	// TransferGateway moves money out of the marketplace balance.
	TransferGateway interface {
		CreateTransferRecipient(ctx context.Context, r Recipient) (string, error)
		InitiateTransfer(ctx context.Context, t Transfer) (TransferResult, error)
		InitiateBulkTransfer(ctx context.Context, transfers []Transfer) ([]TransferResult, error)
		FinalizeTransfer(ctx context.Context, transferCode, otp string) (TransferResult, error)
		Balance(ctx context.Context, currency string) (core.Money, error)
	}
)

// RecipientFor builds the transfer recipient of a teacher from their payout details.
func RecipientFor(teacher user.User) Recipient {
	d := teacher.PayoutDetails
	if d.IsMobileMoney() {
		return Recipient{
			Type:          RecipientMobileMoney,
			Name:          d.MomoName.String,
			AccountNumber: d.MomoNumber.String,
			BankCode:      BankCode(d.MomoProvider.String),
			Currency:      core.Currency,
		}
	}
	return Recipient{
		Type:          RecipientBank,
		Name:          d.BankAccountName.String,
		AccountNumber: d.BankAccountNumber.String,
		BankCode:      BankCode(d.BankName.String),
		Currency:      core.Currency,
	}
}

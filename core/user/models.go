package user

import (
	"net/mail"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
)

// Roles
const (
	RoleParent  = "parent"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Payout methods
const (
	PayoutMobileMoney = "mobile_money"
	PayoutBank        = "bank"
)

var Roles = []string{RoleParent, RoleTeacher, RoleAdmin}

func IsValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// User is a marketplace profile. Credentials live with the auth provider; the profile id is the token subject.
type User struct {
	ID            string      `json:"id" db:"id"`
	FullName      string      `json:"full_name" db:"full_name"`
	Email         string      `json:"email" db:"email"`
	Phone         null.String `json:"phone" db:"phone"`
	Role          string      `json:"role" db:"role"`
	WhatsAppOptIn bool        `json:"whatsapp_opt_in" db:"whatsapp_opt_in"`
	PayoutDetails
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // UTC
}

type PayoutDetails struct {
	PayoutMethod      null.String `json:"payout_method" db:"payout_method"`
	MomoProvider      null.String `json:"momo_provider" db:"momo_provider"`
	MomoNumber        null.String `json:"momo_number" db:"momo_number"`
	MomoName          null.String `json:"momo_name" db:"momo_name"`
	BankName          null.String `json:"bank_name" db:"bank_name"`
	BankAccountNumber null.String `json:"bank_account_number" db:"bank_account_number"`
	BankAccountName   null.String `json:"bank_account_name" db:"bank_account_name"`
	RecipientCode     null.String `json:"-" db:"paystack_recipient_code"`
}

func (u User) IsAdmin() bool   { return u.Role == RoleAdmin }
func (u User) IsTeacher() bool { return u.Role == RoleTeacher }
func (u User) IsParent() bool  { return u.Role == RoleParent }

// DisplayName returns the full name, or fallback when the profile has none.
func (u User) DisplayName(fallback string) string {
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	return fallback
}

func (u User) MailAddress() mail.Address {
	return mail.Address{Name: u.FullName, Address: u.Email}
}

// WhatsAppNumber returns the number WhatsApp notifications go to, if the user opted in.
func (u User) WhatsAppNumber() (string, bool) {
	if !u.WhatsAppOptIn || !u.Phone.Valid || strings.TrimSpace(u.Phone.String) == "" {
		return "", false
	}
	return u.Phone.String, true
}

func (d PayoutDetails) IsMobileMoney() bool {
	return d.PayoutMethod.String == PayoutMobileMoney
}

// Complete reports whether the details are enough to create a transfer recipient.
func (d PayoutDetails) Complete() bool {
	if d.IsMobileMoney() {
		return d.MomoProvider.String != "" && d.MomoNumber.String != "" && d.MomoName.String != ""
	}
	return d.BankName.String != "" && d.BankAccountNumber.String != "" && d.BankAccountName.String != ""
}

// IncompleteReason describes what is missing for Complete to hold.
func (d PayoutDetails) IncompleteReason() string {
	if d.IsMobileMoney() {
		return "Incomplete mobile money details"
	}
	return "Incomplete bank details"
}

// Institution is the momo provider or bank name.
func (d PayoutDetails) Institution() string {
	if d.IsMobileMoney() {
		return d.MomoProvider.String
	}
	return d.BankName.String
}

// Summary is the human readable destination, e.g. "MTN - 0241234567".
func (d PayoutDetails) Summary() string {
	if d.IsMobileMoney() {
		return d.MomoProvider.String + " - " + d.MomoNumber.String
	}
	return d.BankName.String + " - " + d.BankAccountNumber.String
}

// Method returns the payout method, bank transfer being the default.
func (d PayoutDetails) Method() string {
	if d.IsMobileMoney() {
		return PayoutMobileMoney
	}
	return PayoutBank
}

// UpdatePayoutDetails is the payload teachers send to set where their earnings go.
type UpdatePayoutDetails struct {
	PayoutMethod      string `json:"payout_method" validate:"required,oneof=mobile_money bank"`
	MomoProvider      string `json:"momo_provider"`
	MomoNumber        string `json:"momo_number"`
	MomoName          string `json:"momo_name"`
	BankName          string `json:"bank_name"`
	BankAccountNumber string `json:"bank_account_number"`
	BankAccountName   string `json:"bank_account_name"`
	Phone             string `json:"phone" validate:"omitempty,phone"`
	WhatsAppOptIn     *bool  `json:"whatsapp_opt_in"`
}

func (upd *UpdatePayoutDetails) clean() {
	upd.PayoutMethod = strings.TrimSpace(upd.PayoutMethod)
	upd.MomoProvider = strings.TrimSpace(upd.MomoProvider)
	upd.MomoNumber = strings.ReplaceAll(strings.TrimSpace(upd.MomoNumber), " ", "")
	upd.MomoName = strings.TrimSpace(upd.MomoName)
	upd.BankName = strings.TrimSpace(upd.BankName)
	upd.BankAccountNumber = strings.ReplaceAll(strings.TrimSpace(upd.BankAccountNumber), " ", "")
	upd.BankAccountName = strings.TrimSpace(upd.BankAccountName)
	upd.Phone = strings.ReplaceAll(strings.TrimSpace(upd.Phone), " ", "")
}

func (upd UpdatePayoutDetails) details() PayoutDetails {
	str := func(s string) null.String { return null.NewString(s, s != "") }
	d := PayoutDetails{PayoutMethod: str(upd.PayoutMethod)}
	if upd.PayoutMethod == PayoutMobileMoney {
		d.MomoProvider = str(upd.MomoProvider)
		d.MomoNumber = str(upd.MomoNumber)
		d.MomoName = str(upd.MomoName)
	} else {
		d.BankName = str(upd.BankName)
		d.BankAccountNumber = str(upd.BankAccountNumber)
		d.BankAccountName = str(upd.BankAccountName)
	}
	return d
}

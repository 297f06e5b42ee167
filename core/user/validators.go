package user

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/steamspark/spark/core"
)

// MomoProviders are the mobile money networks payouts can be sent to.
var MomoProviders = []string{"MTN", "Vodafone", "AirtelTigo"}

var (
	roleTag  = "role"
	roleText = "invalid role"

	payoutFieldTag  = "payout_field"
	payoutFieldText = "this field is required for the selected payout method"

	momoProviderTag  = "momo_provider"
	momoProviderText = "must be one of MTN, Vodafone, AirtelTigo"
)

// InitValidators registers the user validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(validate, translator, roleTag, roleText)

	validate.RegisterStructValidation(payoutDetailsStructValidation, UpdatePayoutDetails{})
	core.RegisterCustomTranslation(validate, translator, payoutFieldTag, payoutFieldText)
	core.RegisterCustomTranslation(validate, translator, momoProviderTag, momoProviderText)
}

func roleValidation(fl validator.FieldLevel) bool {
	return IsValidRole(fl.Field().String())
}

func payoutDetailsStructValidation(sl validator.StructLevel) {
	upd := sl.Current().Interface().(UpdatePayoutDetails)

	required := func(val, field string) {
		if val == "" {
			sl.ReportError(val, field, field, payoutFieldTag, "")
		}
	}

	switch upd.PayoutMethod {
	case PayoutMobileMoney:
		required(upd.MomoProvider, "momo_provider")
		required(upd.MomoNumber, "momo_number")
		required(upd.MomoName, "momo_name")
		if upd.MomoProvider != "" && !isMomoProvider(upd.MomoProvider) {
			sl.ReportError(upd.MomoProvider, "momo_provider", "momo_provider", momoProviderTag, "")
		}
	case PayoutBank:
		required(upd.BankName, "bank_name")
		required(upd.BankAccountNumber, "bank_account_number")
		required(upd.BankAccountName, "bank_account_name")
	}
}

func isMomoProvider(p string) bool {
	for _, mp := range MomoProviders {
		if mp == p {
			return true
		}
	}
	return false
}

func (upd *UpdatePayoutDetails) Validate(validate *validator.Validate) error {
	upd.clean()
	return validate.Struct(upd)
}

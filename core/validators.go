package core

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Translator is the translator used to render validation errors. Set by InitValidators.
var Translator ut.Translator

var (
	// custom validation tags & texts
	sessionDateTag  = "session_date"
	sessionDateText = "must be a date formatted as YYYY-MM-DD"

	sessionTimeTag  = "session_time"
	sessionTimeText = "must be a time formatted as HH:MM"

	phoneTag   = "phone"
	phoneText  = "must be a phone number in international format, e.g. +233241234567"
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	Translator = translator
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(sessionDateTag, sessionDateValidation)
	RegisterCustomTranslation(validate, translator, sessionDateTag, sessionDateText)

	_ = validate.RegisterValidation(sessionTimeTag, sessionTimeValidation)
	RegisterCustomTranslation(validate, translator, sessionTimeTag, sessionTimeText)

	_ = validate.RegisterValidation(phoneTag, phoneValidation)
	RegisterCustomTranslation(validate, translator, phoneTag, phoneText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Custom Global Validators

func sessionDateValidation(fl validator.FieldLevel) bool {
	_, err := time.Parse(DateLayout, fl.Field().String())
	return err == nil
}

func sessionTimeValidation(fl validator.FieldLevel) bool {
	_, err := time.Parse(TimeLayout, fl.Field().String())
	return err == nil
}

func phoneValidation(fl validator.FieldLevel) bool {
	s := strings.TrimPrefix(fl.Field().String(), "whatsapp:")
	return phoneRegex.MatchString(strings.ReplaceAll(s, " ", ""))
}

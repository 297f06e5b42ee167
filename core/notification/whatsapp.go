package notification

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
)

// WhatsApp templates
const (
	TemplateBookingAccepted = "booking_accepted"
	TemplatePaymentReceived = "payment_received"
	TemplateSessionReminder = "session_reminder"
	TemplateNewMessage      = "new_message"
)

const whatsAppPrefix = "whatsapp:"

var (
	ErrUnknownTemplate     = errors.New("unknown template type")
	ErrWhatsAppUnavailable = errors.New("WhatsApp notifications not configured")
)

type Vars map[string]string

var whatsAppTemplates = map[string]func(v Vars) string{
	TemplateBookingAccepted: func(v Vars) string {
		return fmt.Sprintf("🎉 Great news! Your booking for \"%s\" with %s has been accepted!\n\n"+
			"Complete your payment to confirm: %s\n\nQuestions? Reply to this message.",
			v["gigTitle"], v["teacherName"], v["paymentLink"])
	},
	TemplatePaymentReceived: func(v Vars) string {
		return fmt.Sprintf("💰 Payment received!\n\n%s has paid %s for \"%s\" (Student: %s).\n\n"+
			"You can now message them directly in the app to coordinate sessions.",
			v["parentName"], v["amount"], v["gigTitle"], v["studentName"])
	},
	TemplateSessionReminder: func(v Vars) string {
		return fmt.Sprintf("⏰ Reminder: You have a session in 1 hour!\n\n\"%s\" with %s at %s.\n\n"+
			"Good luck with your session!",
			v["gigTitle"], v["studentName"], v["time"])
	},
	TemplateNewMessage: func(v Vars) string {
		return fmt.Sprintf("💬 New message from %s:\n\n\"%s\"\n\nReply in the STEAM Spark app.",
			v["senderName"], v["preview"])
	},
}

// WhatsAppMessage is a templated WhatsApp notification.
type WhatsAppMessage struct {
	Template string `json:"templateType" validate:"required"`
	Vars     Vars   `json:"variables"`
}

// Render returns the message body. Missing variables render empty.
func (m WhatsAppMessage) Render() (string, error) {
	fn, ok := whatsAppTemplates[m.Template]
	if !ok {
		return "", core.NewValidationError(errors.Wrap(ErrUnknownTemplate, m.Template))
	}
	return fn(m.Vars), nil
}

// WhatsAppReceipt is what the messaging provider returns for an accepted message.
type WhatsAppReceipt struct {
	SID    string `json:"messageSid"`
	Status string `json:"status"`
}

// WhatsAppSender delivers a rendered body to a WhatsApp address.
type WhatsAppSender interface {
	SendWhatsApp(to, body string) (WhatsAppReceipt, error)
}

// WhatsAppAddress prefixes a phone number with the whatsapp: channel when missing.
func WhatsAppAddress(to string) string {
	to = strings.ReplaceAll(strings.TrimSpace(to), " ", "")
	if strings.HasPrefix(to, whatsAppPrefix) {
		return to
	}
	return whatsAppPrefix + to
}

package notification

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// Notification types
const (
	TypeNewEnrollment    = "new_enrollment"
	TypeBookingAccepted  = "booking_accepted"
	TypeBookingDeclined  = "booking_declined"
	TypePaymentConfirmed = "payment_confirmed"
	TypePaymentReceived  = "payment_received"
	TypePaymentFailed    = "payment_failed"
	TypeSessionReminder  = "session_reminder"
	TypeSessionCompleted = "session_completed"
	TypeEarningsReleased = "earnings_released"
	TypeNewMessage       = "new_message"
	TypePayout           = "payout"
)

// Notification is an in-app notification.
type Notification struct {
	ID        string      `json:"id" db:"id"`
	UserID    string      `json:"user_id" db:"user_id"`
	Type      string      `json:"type" db:"type"`
	Title     string      `json:"title" db:"title"`
	Message   string      `json:"message" db:"message"`
	Read      bool        `json:"read" db:"read"`
	ActionURL null.String `json:"action_url" db:"action_url"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

func New(userID, typ, title, message, actionURL string) *Notification {
	return &Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		ActionURL: null.NewString(actionURL, actionURL != ""),
	}
}

package booking

import (
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusAccepted       Status = "accepted"
	StatusPendingPayment Status = "pending_payment"
	StatusPaymentFailed  Status = "payment_failed"
	StatusConfirmed      Status = "confirmed"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentPending       PaymentStatus = "pending"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
	PaymentFailed        PaymentStatus = "failed"
)

type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionScheduled   SessionStatus = "scheduled"
	SessionCompleted   SessionStatus = "completed"
	SessionCancelled   SessionStatus = "cancelled"
	SessionRescheduled SessionStatus = "rescheduled"
)

var ErrInvalidTransition = core.NewConflictError("invalid booking status transition")

var transitions = map[Status][]Status{
	StatusPending:        {StatusAccepted, StatusCancelled},
	StatusAccepted:       {StatusPendingPayment, StatusConfirmed, StatusCancelled},
	StatusPendingPayment: {StatusConfirmed, StatusPaymentFailed, StatusCancelled},
	StatusPaymentFailed:  {StatusPendingPayment, StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsFinal reports whether no further transition is possible.
func (s Status) IsFinal() bool {
	return len(transitions[s]) == 0
}

type Gig struct {
	ID              string     `json:"id" db:"id"`
	TeacherID       string     `json:"teacher_id" db:"teacher_id"`
	Title           string     `json:"title" db:"title"`
	PricePerSession core.Money `json:"price_per_session" db:"price_per_session"`
}

type Booking struct {
	ID               string        `json:"id" db:"id"`
	ParentID         string        `json:"parent_id" db:"parent_id"`
	StudentID        null.String   `json:"student_id" db:"student_id"`
	GigID            string        `json:"gig_id" db:"gig_id"`
	Status           Status        `json:"status" db:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status" db:"payment_status"`
	PaymentType      null.String   `json:"payment_type" db:"payment_type"`
	TotalSessions    int           `json:"total_sessions" db:"total_sessions"`
	TotalAmount      core.Money    `json:"total_amount" db:"total_amount"`
	AmountPaid       core.Money    `json:"amount_paid" db:"amount_paid"`
	TeacherAmount    core.Money    `json:"teacher_amount" db:"teacher_amount"`
	CompanyAmount    core.Money    `json:"company_amount" db:"company_amount"`
	PaymentReference null.String   `json:"payment_reference" db:"payment_reference"`
	PaidAt           null.Time     `json:"paid_at" db:"paid_at"`
	Notes            string        `json:"notes" db:"notes"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`

	Gig         Gig       `json:"gig" db:"gig"`
	StudentName string    `json:"student_name" db:"student_name"`
	Sessions    []Session `json:"sessions,omitempty" db:"-"`
}

// Transition moves the booking to status, if the move is legal.
func (b *Booking) Transition(to Status) error {
	if b.Status == to {
		return nil
	}
	if !CanTransition(b.Status, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = core.NowFunc()
	return nil
}

// Balance is what is left to pay on the booking.
func (b Booking) Balance() core.Money {
	if b.AmountPaid >= b.TotalAmount {
		return 0
	}
	return b.TotalAmount - b.AmountPaid
}

func (b Booking) IsParticipant(userID string) bool {
	return userID != "" && (b.ParentID == userID || b.Gig.TeacherID == userID)
}

// ApplyPayment records a successful payment of amount on the booking and confirms it.
func (b *Booking) ApplyPayment(amount core.Money, reference string, paidAt time.Time) error {
	if err := b.Transition(StatusConfirmed); err != nil {
		return err
	}
	b.AmountPaid += amount
	if b.AmountPaid >= b.TotalAmount {
		b.PaymentStatus = PaymentPaid
	} else {
		b.PaymentStatus = PaymentPartiallyPaid
	}
	b.PaymentReference = null.StringFrom(reference)
	b.PaidAt = null.TimeFrom(paidAt)
	return nil
}

type Session struct {
	ID             string        `json:"id" db:"id"`
	BookingID      string        `json:"booking_id" db:"booking_id"`
	SessionNumber  int           `json:"session_number" db:"session_number"`
	SessionDate    string        `json:"session_date" db:"session_date"` // YYYY-MM-DD
	SessionTime    string        `json:"session_time" db:"session_time"` // HH:MM
	Status         SessionStatus `json:"status" db:"status"`
	ReminderSentAt null.Time     `json:"reminder_sent_at" db:"reminder_sent_at"`
	CompletedAt    null.Time     `json:"completed_at" db:"completed_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// StartsAt returns the start of the session in loc.
func (s Session) StartsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(core.DateLayout+" "+core.TimeLayout, s.SessionDate+" "+s.SessionTime, loc)
}

// Reminder is a session due for a reminder, with what the reminder needs to say.
type Reminder struct {
	Session
	ParentID    string `json:"parent_id" db:"parent_id"`
	TeacherID   string `json:"teacher_id" db:"teacher_id"`
	GigTitle    string `json:"gig_title" db:"gig_title"`
	StudentName string `json:"student_name" db:"student_name"`
}

// NewSession is a requested session slot.
type NewSession struct {
	Date string `json:"date" validate:"required,session_date"`
	Time string `json:"time" validate:"required,session_time"`
}

type NewBooking struct {
	GigID     string       `json:"gig_id" validate:"required,uuid"`
	StudentID string       `json:"student_id" validate:"omitempty,uuid"`
	Sessions  []NewSession `json:"sessions" validate:"required,min=1,max=52,dive"`
	Notes     string       `json:"notes" validate:"max=2000"`
}

func (nb *NewBooking) clean() {
	nb.GigID = core.CleanString(nb.GigID)
	nb.StudentID = core.CleanString(nb.StudentID)
	nb.Notes = core.CleanString(nb.Notes)
	for i := range nb.Sessions {
		nb.Sessions[i].Date = core.CleanString(nb.Sessions[i].Date)
		nb.Sessions[i].Time = core.CleanString(nb.Sessions[i].Time)
	}
}

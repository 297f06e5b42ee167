package earning

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
)

type Status string

const (
	StatusHeld       Status = "held"
	StatusReleased   Status = "released"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
)

// SessionsPerRelease is the number of completed sessions that unlock one ledger entry.
const SessionsPerRelease = 2

// Earning is a ledger entry of money owed to a teacher for a slice of a booking's sessions.
type Earning struct {
	ID                string      `json:"id" db:"id"`
	TeacherID         string      `json:"teacher_id" db:"teacher_id"`
	BookingID         string      `json:"booking_id" db:"booking_id"`
	Amount            core.Money  `json:"amount" db:"amount"`
	SessionsRequired  int         `json:"sessions_required" db:"sessions_required"`
	SessionsCompleted int         `json:"sessions_completed" db:"sessions_completed"`
	Status            Status      `json:"status" db:"status"`
	PayoutID          null.String `json:"payout_id" db:"payout_id"`
	ReleasedAt        null.Time   `json:"released_at" db:"released_at"`
	PaidAt            null.Time   `json:"paid_at" db:"paid_at"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	GigTitle          string      `json:"gig_title,omitempty" db:"gig_title"`
}

// Plan splits the teacher amount of a booking into ledger entries, one per SessionsPerRelease sessions.
// Amounts are exact: the entries always sum to teacherAmount, leftover pesewas going to the earliest sessions.
// The last entry of an odd session count unlocks with the final session.
func Plan(teacherID, bookingID string, teacherAmount core.Money, totalSessions int) []Earning {
	if totalSessions < 1 {
		totalSessions = 1
	}
	total := int64(totalSessions)
	perSession := int64(teacherAmount) / total
	remainder := int64(teacherAmount) % total

	sessionAmount := func(i int64) int64 { // 0-based session index
		if i < remainder {
			return perSession + 1
		}
		return perSession
	}

	batches := (totalSessions + SessionsPerRelease - 1) / SessionsPerRelease
	earnings := make([]Earning, 0, batches)
	for b := 0; b < batches; b++ {
		first := b * SessionsPerRelease
		last := first + SessionsPerRelease
		if last > totalSessions {
			last = totalSessions
		}
		var amount int64
		for i := first; i < last; i++ {
			amount += sessionAmount(int64(i))
		}
		earnings = append(earnings, Earning{
			TeacherID:         teacherID,
			BookingID:         bookingID,
			Amount:            core.Money(amount),
			SessionsRequired:  last,
			SessionsCompleted: 0,
			Status:            StatusHeld,
		})
	}
	return earnings
}

// Total sums the amounts of earnings.
func Total(earnings []Earning) core.Money {
	var total core.Money
	for _, e := range earnings {
		total += e.Amount
	}
	return total
}

func IDs(earnings []Earning) []string {
	ids := make([]string, 0, len(earnings))
	for _, e := range earnings {
		ids = append(ids, e.ID)
	}
	return ids
}

type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutOTP      PayoutStatus = "otp"
	PayoutSuccess  PayoutStatus = "success"
	PayoutFailed   PayoutStatus = "failed"
	PayoutReversed PayoutStatus = "reversed"
)

// Payout is a transfer of released earnings to a teacher.
type Payout struct {
	ID            string       `json:"id" db:"id"`
	TeacherID     string       `json:"teacher_id" db:"teacher_id"`
	Amount        core.Money   `json:"amount" db:"amount"`
	Reference     string       `json:"reference" db:"reference"`
	TransferCode  null.String  `json:"transfer_code" db:"transfer_code"`
	Status        PayoutStatus `json:"status" db:"status"`
	EarningIDs    []string     `json:"earning_ids" db:"-"`
	PayoutMethod  string       `json:"payout_method" db:"payout_method"`
	PayoutDetails string       `json:"payout_details" db:"payout_details"`
	FailureReason null.String  `json:"failure_reason" db:"failure_reason"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
	TeacherName   string       `json:"teacher_name,omitempty" db:"teacher_name"`
}

// Settled reports whether the payout reached a final state.
func (p Payout) Settled() bool {
	switch p.Status {
	case PayoutSuccess, PayoutFailed, PayoutReversed:
		return true
	}
	return false
}

// PayoutSummary aggregates every payout ever made.
type PayoutSummary struct {
	TotalPayouts int        `json:"total_payouts" db:"total_payouts"`
	TotalAmount  core.Money `json:"total_amount" db:"total_amount"`
	Pending      int        `json:"pending" db:"pending"`
	Success      int        `json:"success" db:"success"`
	Failed       int        `json:"failed" db:"failed"`
}

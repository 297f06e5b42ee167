package booking

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamspark/spark/core"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusConfirmed, false},
		{StatusAccepted, StatusPendingPayment, true},
		{StatusAccepted, StatusConfirmed, true},
		{StatusPendingPayment, StatusConfirmed, true},
		{StatusPendingPayment, StatusPaymentFailed, true},
		{StatusPaymentFailed, StatusPendingPayment, true},
		{StatusPaymentFailed, StatusConfirmed, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
	assert.True(t, StatusCompleted.IsFinal())
	assert.True(t, StatusCancelled.IsFinal())
	assert.False(t, StatusConfirmed.IsFinal())
}

func TestBooking_Transition(t *testing.T) {
	b := Booking{Status: StatusPending}
	err := b.Transition(StatusCompleted)
	require.Error(t, err)
	assert.Equal(t, ErrInvalidTransition, errors.Cause(err))
	assert.Equal(t, StatusPending, b.Status)

	require.NoError(t, b.Transition(StatusAccepted))
	assert.Equal(t, StatusAccepted, b.Status)
	require.NoError(t, b.Transition(StatusAccepted), "same status is a no-op")
}

func TestBooking_ApplyPayment(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	b := Booking{Status: StatusPendingPayment, TotalAmount: 48000}
	require.NoError(t, b.ApplyPayment(24000, "SPK-1", paidAt))
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, PaymentPartiallyPaid, b.PaymentStatus)
	assert.Equal(t, core.Money(24000), b.Balance())

	require.NoError(t, b.ApplyPayment(24000, "SPK-2", paidAt))
	assert.Equal(t, PaymentPaid, b.PaymentStatus)
	assert.Equal(t, core.Money(0), b.Balance())
	assert.Equal(t, "SPK-2", b.PaymentReference.String)

	cancelled := Booking{Status: StatusCancelled, TotalAmount: 100}
	assert.Error(t, cancelled.ApplyPayment(100, "SPK-3", paidAt))
}

func TestSession_StartsAt(t *testing.T) {
	loc := time.FixedZone("GMT", 0)
	s := Session{SessionDate: "2026-03-01", SessionTime: "16:30"}
	got, err := s.StartsAt(loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 16, 30, 0, 0, loc), got)
}

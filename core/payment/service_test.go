package payment_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/payment"
	"github.com/steamspark/spark/core/user"
	emailsvc "github.com/steamspark/spark/services/email"
	whatsappsvc "github.com/steamspark/spark/services/whatsapp"
	testutil "github.com/steamspark/spark/tests"
)

var ctx = context.Background()

type fixture struct {
	env     *testutil.Env
	parent  user.User
	teacher user.User
	gig     booking.Gig
	booking booking.Booking
}

// newFixture returns an accepted booking of 3 sessions at GHS 100.00 each (GHS 360.00 for the parent).
func newFixture(t *testing.T) fixture {
	env := testutil.NewEnv(t)
	teacher := testutil.CreateTeacher(t, env.UserRepo, "Ama Mensah", "ama@spark.test")
	parent := testutil.CreateUser(t, env.UserRepo, "Kofi Boateng", "kofi@spark.test", user.RoleParent)
	gig := testutil.CreateGig(env.DB, teacher.ID, "Robotics 101", core.Cedis(100))
	student := testutil.CreateStudent(env.DB, parent.ID, "Yaw")

	b, err := env.Bookings.Create(ctx, parent, testutil.NewBooking(gig, student, 3))
	require.NoError(t, err)
	b, err = env.Bookings.Accept(ctx, teacher, b.ID)
	require.NoError(t, err)

	emailsvc.ResetSentMessages()
	whatsappsvc.ResetSentMessages()
	return fixture{env: env, parent: parent, teacher: teacher, gig: gig, booking: b}
}

func (f fixture) initialize(t *testing.T, pt booking.PaymentType) payment.Checkout {
	co, err := f.env.Payments.Initialize(ctx, f.parent, payment.InitializePayment{
		BookingID:   f.booking.ID,
		PaymentType: string(pt),
	})
	require.NoError(t, err)
	return co
}

func (f fixture) charge(reference string, amount core.Money) payment.Charge {
	return payment.Charge{
		Status:    payment.ChargeSuccess,
		Reference: reference,
		Amount:    amount,
		Currency:  core.Currency,
		Channel:   "mobile_money",
		PaidAt:    core.NowFunc(),
		Metadata:  payment.Metadata{BookingID: f.booking.ID},
	}
}

func (f fixture) getBooking(t *testing.T) booking.Booking {
	b, err := f.env.BookingRepo.GetBooking(ctx, booking.GetFilter{ID: f.booking.ID})
	require.NoError(t, err)
	return b
}

func (f fixture) notificationTypes(t *testing.T, usr user.User) []string {
	ns, err := f.env.Notifier.List(ctx, usr, false)
	require.NoError(t, err)
	types := make([]string, 0, len(ns))
	for _, n := range ns {
		types = append(types, n.Type)
	}
	return types
}

func TestService_Initialize(t *testing.T) {
	f := newFixture(t)

	co := f.initialize(t, booking.PaymentFull)
	assert.Equal(t, core.Cedis(360), co.Amount)
	assert.Contains(t, co.Reference, "SPK-"+core.ShortID(f.booking.ID)+"-")
	assert.NotEmpty(t, co.AuthorizationURL)
	assert.NotEmpty(t, co.AccessCode)

	require.Len(t, f.env.Gateway.Initialized, 1)
	req := f.env.Gateway.Initialized[0]
	assert.Equal(t, f.parent.Email, req.Email)
	assert.Equal(t, core.Cedis(360), req.Amount)
	assert.Equal(t, core.Currency, req.Currency)
	assert.Equal(t, "http://spark.test/parent/booking/verify", req.CallbackURL)
	assert.Equal(t, f.booking.ID, req.Metadata.BookingID)
	assert.Equal(t, payment.Channels, req.Channels)

	b := f.getBooking(t)
	assert.Equal(t, booking.StatusPendingPayment, b.Status)
	assert.Equal(t, booking.PaymentPending, b.PaymentStatus)
	assert.Equal(t, "full", b.PaymentType.String)

	pmt, err := f.env.PaymentRepo.GetPayment(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, pmt.Status)
	assert.Equal(t, core.Cedis(360), pmt.ExpectedAmount)
}

func TestService_Initialize_Retry(t *testing.T) {
	f := newFixture(t)
	testutil.FreezeTime(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	// a double click: both checkouts start within the same millisecond
	first := f.initialize(t, booking.PaymentFull)
	second := f.initialize(t, booking.PaymentFull)
	assert.NotEqual(t, first.Reference, second.Reference)
	assert.True(t, payment.ValidReference(first.Reference))
	assert.True(t, payment.ValidReference(second.Reference))

	for _, ref := range []string{first.Reference, second.Reference} {
		pmt, err := f.env.PaymentRepo.GetPayment(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusPending, pmt.Status)
	}
	assert.Len(t, f.env.Gateway.Initialized, 2)
	assert.Equal(t, booking.StatusPendingPayment, f.getBooking(t).Status)
}

func TestNewReference(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := payment.NewReference("5f0c7e4e-4d7b-4bde-9a57-6c2f0f3b0a11", at)
	b := payment.NewReference("5f0c7e4e-4d7b-4bde-9a57-6c2f0f3b0a11", at)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "SPK-5f0c7e4e-1772442000000-"), a)

	for _, ref := range []string{"", "SPK-", "spk-1", "SPK-1?perPage=100", "SPK-1/../balance", "SPK-1#x", "PAYOUT-1"} {
		assert.False(t, payment.ValidReference(ref), ref)
	}
	assert.True(t, payment.ValidReference(a))
}

func TestService_Initialize_Errors(t *testing.T) {
	f := newFixture(t)
	other := testutil.CreateUser(t, f.env.UserRepo, "Esi", "esi@spark.test", user.RoleParent)

	_, err := f.env.Payments.Initialize(ctx, other, payment.InitializePayment{BookingID: f.booking.ID})
	assert.True(t, core.IsNotFound(err), "booking of another parent")

	_, err = f.env.Payments.Initialize(ctx, f.parent, payment.InitializePayment{BookingID: f.booking.ID, PaymentType: "balance"})
	assert.Equal(t, payment.ErrNotPayable, errors.Cause(err))

	f.env.Gateway.InitErr = core.NewGatewayError("paystack", 400, "Invalid key")
	_, err = f.env.Payments.Initialize(ctx, f.parent, payment.InitializePayment{BookingID: f.booking.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid key")
}

func TestService_Verify_Success(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)
	f.env.Gateway.Charge(f.charge(co.Reference, core.Cedis(360)))

	res, err := f.env.Payments.Verify(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.VerifyResult{
		Status:    "success",
		Message:   "Payment verified successfully",
		BookingID: f.booking.ID,
	}, res)

	b := f.getBooking(t)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Equal(t, booking.PaymentPaid, b.PaymentStatus)
	assert.Equal(t, core.Cedis(360), b.AmountPaid)
	assert.Equal(t, co.Reference, b.PaymentReference.String)
	assert.True(t, b.PaidAt.Valid)

	sessions, err := f.env.BookingRepo.QuerySessions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	for _, s := range sessions {
		assert.Equal(t, booking.SessionScheduled, s.Status)
	}

	earnings, err := f.env.EarningRepo.QueryEarnings(ctx, earning.QueryFilter{BookingID: b.ID})
	require.NoError(t, err)
	require.Len(t, earnings, 2)
	assert.Equal(t, core.Cedis(300), earning.Total(earnings))

	pmt, err := f.env.PaymentRepo.GetPayment(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, pmt.Status)
	assert.Equal(t, "mobile_money", pmt.Channel.String)

	// side effects
	convs, err := f.env.Messaging.Conversations(ctx, f.parent)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := f.env.Messaging.List(ctx, f.parent, convs[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsSystem)
	assert.Contains(t, msgs[0].Content, "Robotics 101")

	assert.Contains(t, f.notificationTypes(t, f.parent), notification.TypePaymentConfirmed)
	assert.Contains(t, f.notificationTypes(t, f.teacher), notification.TypePaymentReceived)

	emails := emailsvc.GetSentMessages()
	require.Len(t, emails, 2)
	subjects := []string{emails[0].Subject, emails[1].Subject}
	assert.Contains(t, subjects, "Payment Confirmed: Robotics 101")
	assert.Contains(t, subjects, "Payment Received: Robotics 101")

	wa := whatsappsvc.GetSentMessages()
	require.Len(t, wa, 1)
	assert.Equal(t, "whatsapp:+233241234567", wa[0].To)
	assert.Contains(t, wa[0].Body, "GHS 360.00")

	assert.Empty(t, f.env.Alerter.Alerts())
}

func TestService_Verify_Idempotent(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)
	f.env.Gateway.Charge(f.charge(co.Reference, core.Cedis(360)))

	first, err := f.env.Payments.Verify(ctx, co.Reference)
	require.NoError(t, err)
	second, err := f.env.Payments.Verify(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	b := f.getBooking(t)
	assert.Equal(t, core.Cedis(360), b.AmountPaid, "payment applied once")

	cnt, err := f.env.EarningRepo.CountEarnings(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cnt)

	var confirmed int
	for _, typ := range f.notificationTypes(t, f.parent) {
		if typ == notification.TypePaymentConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)

	// the webhook for the same reference is a no-op too
	out, err := f.env.Payments.Confirm(ctx, f.charge(co.Reference, core.Cedis(360)))
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.False(t, out.Applied)
}

func TestService_Confirm_Concurrent(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)
	charge := f.charge(co.Reference, core.Cedis(360))

	// the webhook and the callback verification race on the same reference
	const calls = 8
	outcomes := make([]payment.Outcome, calls)
	var g errgroup.Group
	for i := 0; i < calls; i++ {
		i := i
		g.Go(func() error {
			var err error
			outcomes[i], err = f.env.Payments.Confirm(ctx, charge)
			return err
		})
	}
	require.NoError(t, g.Wait())

	var applied, duplicates int
	for _, out := range outcomes {
		if out.Applied {
			applied++
		}
		if out.Duplicate {
			duplicates++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, calls-1, duplicates)

	b := f.getBooking(t)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Equal(t, core.Cedis(360), b.AmountPaid)

	cnt, err := f.env.EarningRepo.CountEarnings(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cnt, "one earnings plan")

	claimed, err := f.env.PaymentRepo.ClaimEvent(ctx, payment.EventChargeSuccess+":"+co.Reference)
	require.NoError(t, err)
	assert.False(t, claimed, "event claimed once")
}

// downNotifier fails every delivery and forwards alerts.
type downNotifier struct {
	notification.Service
}

func (downNotifier) Dispatch(context.Context, ...notification.Delivery) []error {
	return []error{errors.New("sendgrid is down")}
}

func TestService_Confirm_FollowUpFailure(t *testing.T) {
	f := newFixture(t)
	svc := payment.NewService(
		f.env.Conf, f.env.Tx, f.env.PaymentRepo, f.env.BookingRepo, f.env.UserRepo, f.env.EarningRepo,
		f.env.Payouts, f.env.Messaging, downNotifier{f.env.Notifier}, f.env.Gateway, f.env.Logger,
	)
	co := f.initialize(t, booking.PaymentFull)
	f.env.Gateway.Charge(f.charge(co.Reference, core.Cedis(360)))

	res, err := svc.Verify(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.VerifySuccess, res.Status)

	b := f.getBooking(t)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Equal(t, booking.PaymentPaid, b.PaymentStatus)

	alerts := f.env.Alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "Payment "+co.Reference+" for booking "+b.ID+" was confirmed but 1 follow-up step(s) failed")
	assert.Contains(t, alerts[0], "sendgrid is down")
}

func TestService_Verify_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.env.Payments.Verify(ctx, "  ")
	assert.Equal(t, payment.ErrMissingReference, err)

	f.env.Gateway.VerifyErr = errors.New("gateway must not be called")
	_, err = f.env.Payments.Verify(ctx, "SPK-1?perPage=100")
	assert.Equal(t, payment.ErrInvalidReference, err)
	f.env.Gateway.VerifyErr = nil

	_, err = f.env.Payments.Verify(ctx, "SPK-unknown")
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "Transaction reference not found", gwErr.Message)

	f.env.Gateway.VerifyErr = errors.New("connection refused")
	_, err = f.env.Payments.Verify(ctx, "SPK-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verifying transaction")
}

func TestService_Verify_NotCompleted(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)
	charge := f.charge(co.Reference, core.Cedis(360))
	charge.Status = payment.ChargeFailed
	f.env.Gateway.Charge(charge)

	res, err := f.env.Payments.Verify(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.VerifyResult{Status: "failed", Message: "Payment not completed"}, res)

	pmt, err := f.env.PaymentRepo.GetPayment(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, pmt.Status)

	b := f.getBooking(t)
	assert.Equal(t, booking.StatusPaymentFailed, b.Status)
	assert.Equal(t, booking.PaymentFailed, b.PaymentStatus)
	assert.Contains(t, f.notificationTypes(t, f.parent), notification.TypePaymentFailed)

	// the parent can try again
	f.initialize(t, booking.PaymentFull)
	assert.Equal(t, booking.StatusPendingPayment, f.getBooking(t).Status)
}

func TestService_Verify_Abandoned(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)
	charge := f.charge(co.Reference, core.Cedis(360))
	charge.Status = payment.ChargeAbandoned
	f.env.Gateway.Charge(charge)

	res, err := f.env.Payments.Verify(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, "abandoned", res.Status)

	pmt, err := f.env.PaymentRepo.GetPayment(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusAbandoned, pmt.Status)
	assert.Equal(t, booking.StatusPendingPayment, f.getBooking(t).Status)
}

func TestService_Verify_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)
	f.env.Gateway.Charge(f.charge(co.Reference, core.Cedis(200)))

	res, err := f.env.Payments.Verify(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.VerifyResult{
		Status:    "amount_mismatch",
		Message:   "Payment amount does not match booking",
		BookingID: f.booking.ID,
	}, res)

	pmt, err := f.env.PaymentRepo.GetPayment(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusMismatch, pmt.Status)
	assert.Equal(t, core.Cedis(200), pmt.Amount)

	b := f.getBooking(t)
	assert.Equal(t, booking.StatusPendingPayment, b.Status)
	assert.Equal(t, core.Money(0), b.AmountPaid)

	alerts := f.env.Alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "does not match")

	// verifying again answers the same without alerting twice
	res, err = f.env.Payments.Verify(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, "amount_mismatch", res.Status)
	assert.Len(t, f.env.Alerter.Alerts(), 1)
}

func TestService_Confirm_WrongCurrency(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)
	charge := f.charge(co.Reference, core.Cedis(360))
	charge.Currency = "NGN"

	out, err := f.env.Payments.Confirm(ctx, charge)
	require.NoError(t, err)
	assert.True(t, out.Mismatch)
	assert.Equal(t, booking.StatusPendingPayment, f.getBooking(t).Status)
}

func TestService_Confirm_Deposit(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentDeposit)
	assert.Equal(t, core.Cedis(180), co.Amount)

	out, err := f.env.Payments.Confirm(ctx, f.charge(co.Reference, co.Amount))
	require.NoError(t, err)
	assert.True(t, out.Applied)

	b := f.getBooking(t)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Equal(t, booking.PaymentPartiallyPaid, b.PaymentStatus)
	assert.Equal(t, core.Cedis(180), b.Balance())

	co = f.initialize(t, booking.PaymentBalance)
	assert.Equal(t, core.Cedis(180), co.Amount)
	out, err = f.env.Payments.Confirm(ctx, f.charge(co.Reference, co.Amount))
	require.NoError(t, err)
	assert.True(t, out.Applied)

	b = f.getBooking(t)
	assert.Equal(t, booking.PaymentPaid, b.PaymentStatus)
	assert.Equal(t, core.Money(0), b.Balance())

	cnt, err := f.env.EarningRepo.CountEarnings(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cnt, "earnings planned once")
}

func TestService_Confirm_Orphaned(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)

	b := f.getBooking(t)
	require.NoError(t, b.Transition(booking.StatusCancelled))
	_, err := f.env.BookingRepo.UpdateBooking(ctx, b)
	require.NoError(t, err)

	out, err := f.env.Payments.Confirm(ctx, f.charge(co.Reference, core.Cedis(360)))
	require.NoError(t, err)
	assert.True(t, out.Orphaned)
	assert.False(t, out.Applied)
	assert.Equal(t, payment.StatusSuccess, out.Payment.Status)

	b = f.getBooking(t)
	assert.Equal(t, booking.StatusCancelled, b.Status)
	assert.Equal(t, core.Money(0), b.AmountPaid)

	alerts := f.env.Alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "refund")
}

func TestService_Confirm_UnknownBooking(t *testing.T) {
	f := newFixture(t)
	_, err := f.env.Payments.Confirm(ctx, payment.Charge{Status: payment.ChargeSuccess, Reference: "SPK-x", Amount: 100})
	assert.Equal(t, payment.ErrUnknownBooking, err)
}

func TestService_HandleWebhook(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)
	body := testutil.WebhookBody(t, payment.EventChargeSuccess, testutil.ChargeData(co.Reference, f.booking.ID, core.Cedis(360)))

	tests := []struct {
		name      string
		signature string
		wantErr   error
	}{
		{"missing signature", "", payment.ErrInvalidSignature},
		{"wrong signature", "abc123", payment.ErrInvalidSignature},
		{"valid", testutil.Sign(body), nil},
		{"replayed", testutil.Sign(body), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := f.env.Payments.HandleWebhook(ctx, body, tc.signature)
			assert.Equal(t, tc.wantErr, err)
		})
	}

	b := f.getBooking(t)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Equal(t, core.Cedis(360), b.AmountPaid)
}

func TestService_HandleWebhook_ChargeFailed(t *testing.T) {
	f := newFixture(t)
	co := f.initialize(t, booking.PaymentFull)
	data := testutil.ChargeData(co.Reference, f.booking.ID, core.Cedis(360))
	data["status"] = "failed"
	body := testutil.WebhookBody(t, payment.EventChargeFailed, data)

	require.NoError(t, f.env.Payments.HandleWebhook(ctx, body, testutil.Sign(body)))
	assert.Equal(t, booking.StatusPaymentFailed, f.getBooking(t).Status)
}

func TestService_HandleWebhook_OtherEvents(t *testing.T) {
	f := newFixture(t)

	body := testutil.WebhookBody(t, "subscription.create", map[string]interface{}{"id": 1})
	assert.NoError(t, f.env.Payments.HandleWebhook(ctx, body, testutil.Sign(body)))

	body = testutil.WebhookBody(t, earning.EventTransferSuccess, map[string]interface{}{"reference": "PAYOUT-unknown"})
	assert.NoError(t, f.env.Payments.HandleWebhook(ctx, body, testutil.Sign(body)))

	body = []byte("{not json")
	err := f.env.Payments.HandleWebhook(ctx, body, testutil.Sign(body))
	_, ok := errors.Cause(err).(*core.ValidationError)
	assert.True(t, ok)
}

func TestService_ReconcilePending(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testutil.FreezeTime(t, start)
	co := f.initialize(t, booking.PaymentFull)

	// too recent
	testutil.FreezeTime(t, start.Add(5*time.Minute))
	f.env.Gateway.Charge(f.charge(co.Reference, core.Cedis(360)))
	n, err := f.env.Payments.ReconcilePending(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	testutil.FreezeTime(t, start.Add(20*time.Minute))
	n, err = f.env.Payments.ReconcilePending(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, booking.StatusConfirmed, f.getBooking(t).Status)

	n, err = f.env.Payments.ReconcilePending(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing pending anymore")
}

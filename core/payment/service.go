package payment

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/messaging"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/user"
)

const (
	gatewayName     = "payment gateway"
	referencePrefix = "SPK-"
)

var (
	ErrMissingReference = core.NewValidationError(errors.New("Missing reference parameter"))
	ErrInvalidReference = core.NewValidationError(errors.New("Invalid reference"))
	ErrInvalidSignature = errors.New("Invalid signature")
	ErrUnknownBooking   = core.NewValidationError(errors.New("Payment is not linked to a booking"))
	ErrNotPayable       = core.NewConflictError("booking cannot be paid in its current state")
)

type (
	Service interface {
		// Initialize starts a gateway checkout for a booking of the parent.
		Initialize(ctx context.Context, parent user.User, req InitializePayment) (Checkout, error)
		// Verify checks a reference with the gateway and confirms the booking when the charge succeeded.
		Verify(ctx context.Context, reference string) (VerifyResult, error)
		// Confirm applies a successful charge. Applying the same reference twice is a no-op.
		Confirm(ctx context.Context, charge Charge) (Outcome, error)
		HandleWebhook(ctx context.Context, body []byte, signature string) error
		// ReconcilePending verifies the payments pending for longer than olderThan.
		// It returns the number of payments confirmed.
		ReconcilePending(ctx context.Context, olderThan time.Duration) (int, error)
	}

	service struct {
		conf     *core.Config
		tx       core.Transactor
		repo     Repository
		bookRepo booking.Repository
		usrRepo  user.Repository
		earnRepo earning.Repository
		payouts  earning.PayoutService
		msgSvc   messaging.Service
		notifier notification.Service
		gateway  Gateway
		logger   core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	conf *core.Config,
	tx core.Transactor,
	repo Repository,
	bookRepo booking.Repository,
	usrRepo user.Repository,
	earnRepo earning.Repository,
	payouts earning.PayoutService,
	msgSvc messaging.Service,
	notifier notification.Service,
	gateway Gateway,
	logger core.Logger,
) Service {
	return &service{
		conf:     conf,
		tx:       tx,
		repo:     repo,
		bookRepo: bookRepo,
		usrRepo:  usrRepo,
		earnRepo: earnRepo,
		payouts:  payouts,
		msgSvc:   msgSvc,
		notifier: notifier,
		gateway:  gateway,
		logger:   logger,
	}
}

// NewReference returns a unique gateway reference for a booking payment.
// The random suffix keeps references of the same millisecond apart.
func NewReference(bookingID string, at time.Time) string {
	return fmt.Sprintf("%s%s-%d-%s", referencePrefix, core.ShortID(bookingID), at.UnixNano()/1e6, uuid.NewString()[:8])
}

var referencePattern = regexp.MustCompile(`^` + referencePrefix + `[A-Za-z0-9_-]+$`)

// ValidReference reports whether reference has the format of the references issued by NewReference.
func ValidReference(reference string) bool {
	return referencePattern.MatchString(reference)
}

func eventKey(reference string) string {
	return EventChargeSuccess + ":" + reference
}

func payable(b booking.Booking, pt booking.PaymentType) bool {
	if pt == booking.PaymentBalance {
		return b.Status == booking.StatusConfirmed && b.PaymentStatus == booking.PaymentPartiallyPaid
	}
	switch b.Status {
	case booking.StatusAccepted, booking.StatusPendingPayment, booking.StatusPaymentFailed:
		return true
	}
	return false
}

func (svc *service) Initialize(ctx context.Context, parent user.User, req InitializePayment) (Checkout, error) {
	pt := booking.PaymentType(core.FirstNonEmpty(req.PaymentType, string(booking.PaymentFull)))
	if !booking.IsValidPaymentType(pt) {
		return Checkout{}, core.NewValidationError(nil, core.FieldError{Field: "payment_type", Error: "must be one of [full deposit balance]"})
	}

	var (
		b   booking.Booking
		pmt Payment
	)
	err := svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if b, err = svc.bookRepo.GetBooking(ctx, booking.GetFilter{ID: req.BookingID, ForUpdate: true}, exec); err != nil {
			return err
		}
		if b.ParentID != parent.ID {
			return booking.ErrNotFound
		}
		if !payable(b, pt) {
			return ErrNotPayable
		}

		quote := booking.QuoteFor(b)
		amount, err := quote.AmountDue(pt, b.AmountPaid)
		if err != nil {
			return err
		}

		now := core.NowFunc()
		b.TotalAmount = quote.ParentTotal
		b.TeacherAmount = quote.TeacherTotal
		b.CompanyAmount = quote.CompanyAmount
		if pt != booking.PaymentBalance {
			if err = b.Transition(booking.StatusPendingPayment); err != nil {
				return err
			}
			b.PaymentType = null.StringFrom(string(pt))
			b.PaymentStatus = booking.PaymentPending
		}
		b.UpdatedAt = now
		if b, err = svc.bookRepo.UpdateBooking(ctx, b, exec); err != nil {
			return errors.Wrap(err, "updating booking")
		}

		pmt, err = svc.repo.CreatePayment(ctx, Payment{
			BookingID:      b.ID,
			Reference:      NewReference(b.ID, now),
			PaymentType:    string(pt),
			ExpectedAmount: amount,
			Currency:       core.Currency,
			Status:         StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, exec)
		return errors.Wrap(err, "creating payment")
	})
	if err != nil {
		return Checkout{}, err
	}

	auth, err := svc.gateway.InitializeTransaction(ctx, InitializeRequest{
		Email:       core.FirstNonEmpty(req.Email, parent.Email),
		Amount:      pmt.ExpectedAmount,
		Currency:    core.Currency,
		Reference:   pmt.Reference,
		CallbackURL: core.FirstNonEmpty(req.CallbackURL, svc.conf.PaymentCallbackURL()),
		Metadata: Metadata{
			BookingID:   b.ID,
			PaymentType: pmt.PaymentType,
			CustomFields: []CustomField{
				{DisplayName: "Booking ID", VariableName: "booking_id", Value: b.ID},
			},
		},
		Channels: Channels,
	})
	if err != nil {
		pmt.Status = StatusFailed
		pmt.UpdatedAt = core.NowFunc()
		if _, uerr := svc.repo.UpsertPayment(ctx, pmt); uerr != nil {
			svc.logger.Error(fmt.Sprintf("marking payment %s failed: %v", pmt.Reference, uerr), uerr)
		}
		return Checkout{}, errors.Wrap(err, "initializing transaction")
	}

	return Checkout{
		AuthorizationURL: auth.AuthorizationURL,
		AccessCode:       auth.AccessCode,
		Reference:        core.FirstNonEmpty(auth.Reference, pmt.Reference),
		Amount:           pmt.ExpectedAmount,
	}, nil
}

func (svc *service) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	reference = core.CleanString(reference)
	if reference == "" {
		return VerifyResult{}, ErrMissingReference
	}
	if !ValidReference(reference) {
		return VerifyResult{}, ErrInvalidReference
	}

	v, err := svc.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return VerifyResult{}, errors.Wrap(err, "verifying transaction")
	}
	if !v.Status {
		return VerifyResult{}, core.NewGatewayError(gatewayName, 400, core.FirstNonEmpty(v.Message, "Verification failed"))
	}

	charge := v.Charge
	charge.Reference = core.FirstNonEmpty(charge.Reference, reference)
	if charge.Status != ChargeSuccess {
		if err := svc.recordUnpaid(ctx, charge); err != nil {
			svc.logger.Error(fmt.Sprintf("recording unpaid charge %s: %v", reference, err), err)
		}
		return VerifyResult{Status: charge.Status, Message: "Payment not completed"}, nil
	}

	out, err := svc.Confirm(ctx, charge)
	if err != nil {
		return VerifyResult{}, err
	}
	if out.Mismatch {
		return VerifyResult{
			Status:    VerifyAmountMismatch,
			Message:   "Payment amount does not match booking",
			BookingID: out.BookingID,
		}, nil
	}
	return VerifyResult{
		Status:    VerifySuccess,
		Message:   "Payment verified successfully",
		BookingID: out.BookingID,
	}, nil
}

func (svc *service) Confirm(ctx context.Context, charge Charge) (Outcome, error) {
	var (
		out Outcome
		b   booking.Booking
	)
	err := svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		existing, err := svc.repo.GetPayment(ctx, charge.Reference, exec)
		found := err == nil
		if err != nil && !core.IsNotFound(err) {
			return errors.Wrap(err, "getting payment")
		}

		out.BookingID = charge.Metadata.BookingID
		if found {
			out.BookingID = existing.BookingID
		}
		if out.BookingID == "" {
			return ErrUnknownBooking
		}

		claimed, err := svc.repo.ClaimEvent(ctx, eventKey(charge.Reference), exec)
		if err != nil {
			return errors.Wrap(err, "claiming payment event")
		}
		if !claimed {
			out.Duplicate = true
			out.Payment = existing
			out.Mismatch = existing.Status == StatusMismatch
			return nil
		}

		if b, err = svc.bookRepo.GetBooking(ctx, booking.GetFilter{ID: out.BookingID, ForUpdate: true}, exec); err != nil {
			return err
		}

		now := core.NowFunc()
		pmt := existing
		if !found {
			pmt = Payment{
				BookingID:   b.ID,
				Reference:   charge.Reference,
				PaymentType: core.FirstNonEmpty(charge.Metadata.PaymentType, string(booking.PaymentFull)),
				CreatedAt:   now,
			}
		}
		if pmt.ExpectedAmount <= 0 {
			due, _ := booking.QuoteFor(b).AmountDue(booking.PaymentType(pmt.PaymentType), b.AmountPaid)
			pmt.ExpectedAmount = due
		}
		pmt.Amount = charge.Amount
		pmt.Currency = core.FirstNonEmpty(charge.Currency, core.Currency)
		pmt.Channel = null.NewString(charge.Channel, charge.Channel != "")
		pmt.PaidAt = null.TimeFrom(paidAt(charge, now))
		pmt.UpdatedAt = now

		switch {
		case !strings.EqualFold(pmt.Currency, core.Currency) || pmt.Amount < pmt.ExpectedAmount:
			pmt.Status = StatusMismatch
			out.Mismatch = true
		case (b.Status != booking.StatusConfirmed && !booking.CanTransition(b.Status, booking.StatusConfirmed)) ||
			(b.Status == booking.StatusConfirmed && b.Balance() == 0):
			pmt.Status = StatusSuccess
			out.Orphaned = true
		default:
			pmt.Status = StatusSuccess
		}
		if out.Payment, err = svc.repo.UpsertPayment(ctx, pmt, exec); err != nil {
			return errors.Wrap(err, "saving payment")
		}
		if out.Mismatch || out.Orphaned {
			return nil
		}

		if err = b.ApplyPayment(pmt.Amount, pmt.Reference, pmt.PaidAt.Time); err != nil {
			return err
		}
		if !b.PaymentType.Valid {
			b.PaymentType = null.StringFrom(pmt.PaymentType)
		}
		if b, err = svc.bookRepo.UpdateBooking(ctx, b, exec); err != nil {
			return errors.Wrap(err, "confirming booking")
		}
		if _, err = svc.bookRepo.ScheduleSessions(ctx, b.ID, now, exec); err != nil {
			return errors.Wrap(err, "scheduling sessions")
		}

		planned, err := svc.earnRepo.CountEarnings(ctx, b.ID, exec)
		if err != nil {
			return errors.Wrap(err, "counting earnings")
		}
		if planned == 0 {
			plan := earning.Plan(b.Gig.TeacherID, b.ID, b.TeacherAmount, b.TotalSessions)
			if _, err = svc.earnRepo.CreateEarnings(ctx, plan, exec); err != nil {
				return errors.Wrap(err, "creating earnings")
			}
		}
		out.Applied = true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	switch {
	case out.Mismatch && !out.Duplicate:
		svc.notifier.Alert(ctx, fmt.Sprintf(
			"⚠️ Payment %s for booking %s does not match: paid %s %.2f, expected %s. Booking left unchanged.",
			out.Payment.Reference, out.BookingID, out.Payment.Currency, out.Payment.Amount.Cedis(), out.Payment.ExpectedAmount,
		))
	case out.Orphaned:
		svc.notifier.Alert(ctx, fmt.Sprintf(
			"⚠️ Payment %s of %s received for booking %s which is %s (%s). A refund may be needed.",
			out.Payment.Reference, out.Payment.Amount, out.BookingID, b.Status, b.PaymentStatus,
		))
	case out.Applied:
		svc.announce(ctx, b, out.Payment)
	}
	return out, nil
}

func paidAt(charge Charge, fallback time.Time) time.Time {
	if charge.PaidAt.IsZero() {
		return fallback
	}
	return charge.PaidAt.UTC()
}

// announce runs the side effects of a first confirmation. Every step is attempted;
// failures are reported to the admins.
func (svc *service) announce(ctx context.Context, b booking.Booking, pmt Payment) {
	var failures []string
	fail := func(step string, err error) {
		svc.logger.Error(fmt.Sprintf("payment %s %s: %v", pmt.Reference, step, err), err)
		failures = append(failures, fmt.Sprintf("%s: %v", step, err))
	}

	var parent, teacher user.User
	users, err := svc.usrRepo.QueryUsersByID(ctx, []string{b.ParentID, b.Gig.TeacherID})
	if err != nil {
		fail("loading participants", err)
	}
	for _, u := range users {
		switch u.ID {
		case b.ParentID:
			parent = u
		case b.Gig.TeacherID:
			teacher = u
		}
	}
	if parent.ID == "" {
		parent.ID = b.ParentID
	}
	if teacher.ID == "" {
		teacher.ID = b.Gig.TeacherID
	}

	conv, isNew, err := svc.msgSvc.GetOrCreateConversation(ctx, teacher.ID, parent.ID)
	if err != nil {
		fail("creating conversation", err)
	} else if isNew {
		welcome := fmt.Sprintf(
			"🎉 Booking confirmed for \"%s\"! Use this chat to coordinate your %d session(s).",
			b.Gig.Title, b.TotalSessions,
		)
		if _, err := svc.msgSvc.PostSystemMessage(ctx, conv.ID, teacher.ID, welcome); err != nil {
			fail("posting welcome message", err)
		}
	}

	parentName := parent.DisplayName("A parent")
	teacherName := teacher.DisplayName("your teacher")
	studentName := core.FirstNonEmpty(b.StudentName, "your student")
	amount := pmt.Amount.String()

	errs := svc.notifier.Dispatch(ctx,
		notification.Delivery{
			Recipient: parent,
			InApp: notification.New(
				parent.ID, notification.TypePaymentConfirmed, "Payment Confirmed! ✅",
				fmt.Sprintf("Your payment of %s for \"%s\" has been confirmed. You can now message %s directly.",
					amount, b.Gig.Title, teacherName),
				"/parent/messages",
			),
			Email: core.NewEmailMessage(parent.MailAddress(), "Payment Confirmed: "+b.Gig.Title, "payment_confirmed", map[string]interface{}{
				"ParentName":  parent.DisplayName("Parent"),
				"Amount":      amount,
				"GigTitle":    b.Gig.Title,
				"TeacherName": teacherName,
				"Reference":   pmt.Reference,
				"BookingID":   b.ID,
			}),
		},
		notification.Delivery{
			Recipient: teacher,
			InApp: notification.New(
				teacher.ID, notification.TypePaymentReceived, "Payment Received 💰",
				fmt.Sprintf("%s has paid %s for \"%s\" (Student: %s). Your sessions are confirmed.",
					parentName, amount, b.Gig.Title, studentName),
				"/teacher/messages",
			),
			Email: core.NewEmailMessage(teacher.MailAddress(), "Payment Received: "+b.Gig.Title, "payment_received", map[string]interface{}{
				"TeacherName": teacher.DisplayName("Teacher"),
				"ParentName":  parentName,
				"Amount":      amount,
				"GigTitle":    b.Gig.Title,
				"StudentName": studentName,
			}),
			WhatsApp: &notification.WhatsAppMessage{
				Template: notification.TemplatePaymentReceived,
				Vars: notification.Vars{
					"parentName":  parentName,
					"amount":      amount,
					"gigTitle":    b.Gig.Title,
					"studentName": studentName,
				},
			},
		},
	)
	for _, err := range errs {
		failures = append(failures, err.Error())
	}

	if len(failures) > 0 {
		svc.notifier.Alert(ctx, fmt.Sprintf(
			"Payment %s for booking %s was confirmed but %d follow-up step(s) failed:\n- %s",
			pmt.Reference, b.ID, len(failures), strings.Join(failures, "\n- "),
		))
	}
}

// recordUnpaid stores the outcome of a charge that did not succeed.
// Only pending payments are updated; a failed charge moves the booking to payment_failed.
func (svc *service) recordUnpaid(ctx context.Context, charge Charge) error {
	var status Status
	switch charge.Status {
	case ChargeFailed:
		status = StatusFailed
	case ChargeAbandoned:
		status = StatusAbandoned
	default:
		return nil // still in progress
	}

	var (
		b      booking.Booking
		failed bool
	)
	err := svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		now := core.NowFunc()
		pmt, err := svc.repo.GetPayment(ctx, charge.Reference, exec)
		switch {
		case err == nil:
			if pmt.Status != StatusPending {
				return nil
			}
		case core.IsNotFound(err) && charge.Metadata.BookingID != "":
			pmt = Payment{
				BookingID:   charge.Metadata.BookingID,
				Reference:   charge.Reference,
				PaymentType: core.FirstNonEmpty(charge.Metadata.PaymentType, string(booking.PaymentFull)),
				Currency:    core.FirstNonEmpty(charge.Currency, core.Currency),
				CreatedAt:   now,
			}
		case core.IsNotFound(err):
			return nil
		default:
			return errors.Wrap(err, "getting payment")
		}

		pmt.Status = status
		pmt.Channel = null.NewString(charge.Channel, charge.Channel != "")
		pmt.UpdatedAt = now
		if _, err = svc.repo.UpsertPayment(ctx, pmt, exec); err != nil {
			return errors.Wrap(err, "saving payment")
		}

		if status != StatusFailed {
			return nil
		}
		if b, err = svc.bookRepo.GetBooking(ctx, booking.GetFilter{ID: pmt.BookingID, ForUpdate: true}, exec); err != nil {
			return err
		}
		if !booking.CanTransition(b.Status, booking.StatusPaymentFailed) {
			return nil
		}
		if err = b.Transition(booking.StatusPaymentFailed); err != nil {
			return err
		}
		b.PaymentStatus = booking.PaymentFailed
		if b, err = svc.bookRepo.UpdateBooking(ctx, b, exec); err != nil {
			return errors.Wrap(err, "updating booking")
		}
		failed = true
		return nil
	})
	if err != nil || !failed {
		return err
	}

	errs := svc.notifier.Dispatch(ctx, notification.Delivery{
		Recipient: user.User{ID: b.ParentID},
		InApp: notification.New(
			b.ParentID, notification.TypePaymentFailed, "Payment Failed",
			fmt.Sprintf("Your payment for \"%s\" could not be completed. Please try again.", b.Gig.Title),
			fmt.Sprintf("/parent/booking/%s/payment", b.ID),
		),
	})
	for _, err := range errs {
		svc.logger.Warn(fmt.Sprintf("payment %s failure notification: %v", charge.Reference, err), err)
	}
	return nil
}

func (svc *service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if signature == "" || !svc.gateway.ValidSignature(body, signature) {
		return ErrInvalidSignature
	}
	event, err := svc.gateway.ParseEvent(body)
	if err != nil {
		return core.NewValidationError(errors.Wrap(err, "parsing event"))
	}

	switch event.Name {
	case EventChargeSuccess:
		_, err = svc.Confirm(ctx, event.Charge)
	case EventChargeFailed:
		event.Charge.Status = core.FirstNonEmpty(event.Charge.Status, ChargeFailed)
		err = svc.recordUnpaid(ctx, event.Charge)
	case earning.EventTransferSuccess, earning.EventTransferFailed, earning.EventTransferReversed:
		event.Transfer.Event = event.Name
		err = svc.payouts.HandleTransferEvent(ctx, event.Transfer)
	default:
		svc.logger.Info("unhandled payment event: " + event.Name)
	}
	return err
}

func (svc *service) ReconcilePending(ctx context.Context, olderThan time.Duration) (int, error) {
	pending, err := svc.repo.QueryPending(ctx, core.NowFunc().Add(-olderThan))
	if err != nil {
		return 0, errors.Wrap(err, "querying pending payments")
	}

	var confirmed int
	for _, p := range pending {
		if ctx.Err() != nil {
			return confirmed, ctx.Err()
		}
		v, err := svc.gateway.VerifyTransaction(ctx, p.Reference)
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("reconciling payment %s: %v", p.Reference, err), err)
			continue
		}
		if !v.Status {
			svc.logger.Info(fmt.Sprintf("reconciling payment %s: %s", p.Reference, v.Message))
			continue
		}

		charge := v.Charge
		charge.Reference = p.Reference
		if charge.Metadata.BookingID == "" {
			charge.Metadata.BookingID = p.BookingID
		}
		if charge.Status != ChargeSuccess {
			if err := svc.recordUnpaid(ctx, charge); err != nil {
				svc.logger.Warn(fmt.Sprintf("reconciling payment %s: %v", p.Reference, err), err)
			}
			continue
		}
		out, err := svc.Confirm(ctx, charge)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("reconciling payment %s: %v", p.Reference, err), err)
			continue
		}
		if out.Applied {
			confirmed++
		}
	}
	return confirmed, nil
}

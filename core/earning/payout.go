package earning

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/user"
)

const (
	historyPageSize    = 20
	historyMaxPageSize = 100
)

// Transfer webhook events
const (
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

var (
	ErrTeacherNotFound  = core.NewNotFoundError("teacher")
	ErrNothingToPay     = core.NewValidationError(errors.New("No released earnings to pay out"))
	ErrEarningsClaimed  = core.NewConflictError("earnings are already being paid out")
	ErrEarningsMismatch = core.NewValidationError(errors.New("Some earnings are not released or belong to another teacher"))
)

const (
	msgNoValidTransfers = "No valid transfers to process"
	msgNoPendingPayouts = "No pending payouts found"
)

type (
	TeacherRef struct {
		ID            string `json:"id"`
		FullName      string `json:"full_name"`
		Email         string `json:"email"`
		PayoutMethod  string `json:"payout_method"`
		PayoutDetails string `json:"payout_details"`
		Complete      bool   `json:"complete"`
	}

	// TeacherPayouts is the released balance of one teacher.
	TeacherPayouts struct {
		Teacher  TeacherRef `json:"teacher"`
		Earnings []Earning  `json:"earnings"`
		Total    core.Money `json:"total"`
	}

	PayoutRequest struct {
		TeacherID  string   `json:"teacher_id" validate:"required,uuid"`
		EarningIDs []string `json:"earnings_ids" validate:"omitempty,dive,uuid"`
	}

	SkippedTeacher struct {
		Teacher string `json:"teacher"`
		Reason  string `json:"reason"`
	}

	BulkResult struct {
		Success        bool             `json:"success"`
		Message        string           `json:"message,omitempty"`
		Error          string           `json:"error,omitempty"`
		TotalAmount    core.Money       `json:"total_amount"`
		TransfersCount int              `json:"transfers_count"`
		Payouts        []Payout         `json:"payouts"`
		Skipped        []SkippedTeacher `json:"skipped"`
	}

	Pagination struct {
		Page       int `json:"page"`
		Limit      int `json:"limit"`
		Total      int `json:"total"`
		TotalPages int `json:"total_pages"`
	}

	History struct {
		Payouts    []Payout      `json:"payouts"`
		Pagination Pagination    `json:"pagination"`
		Summary    PayoutSummary `json:"summary"`
	}

	TransferEvent struct {
		Event        string
		Reference    string
		TransferCode string
		Reason       string
	}

	PayoutService interface {
		Pending(ctx context.Context, teacherID string) ([]TeacherPayouts, error)
		Payout(ctx context.Context, req PayoutRequest) (Payout, error)
		BulkPayout(ctx context.Context) (BulkResult, error)
		History(ctx context.Context, query PayoutQuery) (History, error)
		Balance(ctx context.Context) (core.Money, error)
		HandleTransferEvent(ctx context.Context, event TransferEvent) error
		FinalizeTransfer(ctx context.Context, transferCode, otp string) (Payout, error)
	}

	payoutService struct {
		tx       core.Transactor
		repo     Repository
		usrRepo  user.Repository
		gateway  TransferGateway
		notifier notification.Service
		logger   core.Logger
	}
)

var _ PayoutService = (*payoutService)(nil)

func NewPayoutService(
	tx core.Transactor,
	repo Repository,
	usrRepo user.Repository,
	gateway TransferGateway,
	notifier notification.Service,
	logger core.Logger,
) PayoutService {
	return &payoutService{
		tx:       tx,
		repo:     repo,
		usrRepo:  usrRepo,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
	}
}

func teacherRef(t user.User) TeacherRef {
	return TeacherRef{
		ID:            t.ID,
		FullName:      t.FullName,
		Email:         t.Email,
		PayoutMethod:  t.Method(),
		PayoutDetails: t.Summary(),
		Complete:      t.PayoutDetails.Complete(),
	}
}

// released returns the released earnings grouped by teacher id, in teacher id order.
func (svc *payoutService) released(ctx context.Context, filter QueryFilter) (map[string][]Earning, []string, error) {
	filter.Statuses = []Status{StatusReleased}
	earnings, err := svc.repo.QueryEarnings(ctx, filter)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying released earnings")
	}
	groups := make(map[string][]Earning)
	var teacherIDs []string
	for _, e := range earnings {
		if _, ok := groups[e.TeacherID]; !ok {
			teacherIDs = append(teacherIDs, e.TeacherID)
		}
		groups[e.TeacherID] = append(groups[e.TeacherID], e)
	}
	sort.Strings(teacherIDs)
	return groups, teacherIDs, nil
}

func (svc *payoutService) Pending(ctx context.Context, teacherID string) ([]TeacherPayouts, error) {
	filter := QueryFilter{}
	if teacherID != "" {
		filter.TeacherIDs = []string{teacherID}
	}
	groups, teacherIDs, err := svc.released(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(teacherIDs) == 0 {
		return []TeacherPayouts{}, nil
	}

	teachers, err := svc.usrRepo.QueryUsersByID(ctx, teacherIDs)
	if err != nil {
		return nil, errors.Wrap(err, "querying teachers")
	}
	byID := make(map[string]user.User, len(teachers))
	for _, t := range teachers {
		byID[t.ID] = t
	}

	res := make([]TeacherPayouts, 0, len(teacherIDs))
	for _, id := range teacherIDs {
		t, ok := byID[id]
		if !ok {
			t = user.User{ID: id}
		}
		res = append(res, TeacherPayouts{
			Teacher:  teacherRef(t),
			Earnings: groups[id],
			Total:    Total(groups[id]),
		})
	}
	return res, nil
}

// recipientCode returns the cached transfer recipient of a teacher, creating it when missing.
func (svc *payoutService) recipientCode(ctx context.Context, teacher user.User) (string, error) {
	if !teacher.PayoutDetails.Complete() {
		return "", core.NewValidationError(errors.New(teacher.PayoutDetails.IncompleteReason()))
	}
	if teacher.RecipientCode.Valid && teacher.RecipientCode.String != "" {
		return teacher.RecipientCode.String, nil
	}

	code, err := svc.gateway.CreateTransferRecipient(ctx, RecipientFor(teacher))
	if err != nil {
		return "", errors.Wrap(err, "creating transfer recipient")
	}
	if err := svc.usrRepo.SetRecipientCode(ctx, teacher.ID, code); err != nil {
		// the recipient is created again next time
		svc.logger.Warn(fmt.Sprintf("caching recipient code of %s: %v", teacher.ID, err), err)
	}
	return code, nil
}

func newPayout(teacher user.User, earnings []Earning) Payout {
	now := core.NowFunc()
	return Payout{
		TeacherID:     teacher.ID,
		Amount:        Total(earnings),
		Reference:     fmt.Sprintf("PAYOUT-%s-%d", core.ShortID(teacher.ID), now.UnixNano()/1e6),
		Status:        PayoutPending,
		EarningIDs:    IDs(earnings),
		PayoutMethod:  teacher.Method(),
		PayoutDetails: teacher.Summary(),
		CreatedAt:     now,
		UpdatedAt:     now,
		TeacherName:   teacher.FullName,
	}
}

// claim inserts the payout and moves its earnings to processing.
func (svc *payoutService) claim(ctx context.Context, payout Payout, exec core.DBExecutor) (Payout, error) {
	payout, err := svc.repo.CreatePayout(ctx, payout, exec)
	if err != nil {
		return Payout{}, errors.Wrap(err, "creating payout")
	}
	n, err := svc.repo.ClaimEarnings(ctx, payout.EarningIDs, payout.TeacherID, payout.ID, exec)
	if err != nil {
		return Payout{}, errors.Wrap(err, "claiming earnings")
	}
	if n != len(payout.EarningIDs) {
		return Payout{}, ErrEarningsClaimed
	}
	return payout, nil
}

// settle stores the transfer outcome of a payout and moves its earnings accordingly.
func (svc *payoutService) settle(ctx context.Context, payout Payout, status PayoutStatus, transferCode, reason string) (Payout, error) {
	err := svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		now := core.NowFunc()
		payout.Status = status
		payout.UpdatedAt = now
		if transferCode != "" {
			payout.TransferCode = null.StringFrom(transferCode)
		}
		if reason != "" {
			payout.FailureReason = null.StringFrom(reason)
		}

		var err error
		if payout, err = svc.repo.UpdatePayout(ctx, payout, exec); err != nil {
			return errors.Wrap(err, "updating payout")
		}

		earningStatus := StatusPaid
		if status == PayoutFailed || status == PayoutReversed {
			earningStatus = StatusReleased
		}
		_, err = svc.repo.SettleEarnings(ctx, payout.ID, earningStatus, now, exec)
		return errors.Wrap(err, "settling earnings")
	})
	return payout, err
}

func (svc *payoutService) Payout(ctx context.Context, req PayoutRequest) (Payout, error) {
	teacher, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: req.TeacherID})
	if err != nil {
		if core.IsNotFound(err) {
			return Payout{}, ErrTeacherNotFound
		}
		return Payout{}, errors.Wrap(err, "getting teacher")
	}
	if !teacher.IsTeacher() {
		return Payout{}, ErrTeacherNotFound
	}

	groups, _, err := svc.released(ctx, QueryFilter{TeacherIDs: []string{teacher.ID}, IDs: req.EarningIDs})
	if err != nil {
		return Payout{}, err
	}
	earnings := groups[teacher.ID]
	if len(earnings) == 0 {
		return Payout{}, ErrNothingToPay
	}
	if len(req.EarningIDs) > 0 && len(earnings) != len(req.EarningIDs) {
		return Payout{}, ErrEarningsMismatch
	}

	code, err := svc.recipientCode(ctx, teacher)
	if err != nil {
		return Payout{}, err
	}

	payout := newPayout(teacher, earnings)
	err = svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		payout, err = svc.claim(ctx, payout, exec)
		return err
	})
	if err != nil {
		return Payout{}, err
	}

	res, err := svc.gateway.InitiateTransfer(ctx, Transfer{
		Amount:    payout.Amount,
		Recipient: code,
		Reason:    fmt.Sprintf("Teacher payout for %d session(s)", len(earnings)),
		Reference: payout.Reference,
	})
	if err != nil {
		if _, serr := svc.settle(ctx, payout, PayoutFailed, "", err.Error()); serr != nil {
			svc.logger.Error(fmt.Sprintf("reverting payout %s: %v", payout.Reference, serr), serr)
		}
		return Payout{}, errors.Wrap(err, "initiating transfer")
	}

	payout, err = svc.settle(ctx, payout, transferStatus(res.Status), res.TransferCode, "")
	if err != nil {
		return Payout{}, err
	}
	svc.notifyPaid(ctx, teacher, payout)
	return payout, nil
}

func (svc *payoutService) BulkPayout(ctx context.Context) (BulkResult, error) {
	groups, teacherIDs, err := svc.released(ctx, QueryFilter{})
	if err != nil {
		return BulkResult{}, err
	}
	if len(teacherIDs) == 0 {
		return BulkResult{Success: false, Message: msgNoPendingPayouts, Payouts: []Payout{}, Skipped: []SkippedTeacher{}}, nil
	}

	var total core.Money
	for _, id := range teacherIDs {
		total += Total(groups[id])
	}
	balance, err := svc.gateway.Balance(ctx, core.Currency)
	if err != nil {
		return BulkResult{}, errors.Wrap(err, "checking balance")
	}
	if total > balance {
		return BulkResult{}, core.NewValidationError(
			errors.Errorf("Insufficient balance. Need %s, have %s", total, balance),
		)
	}

	teachers, err := svc.usrRepo.QueryUsersByID(ctx, teacherIDs)
	if err != nil {
		return BulkResult{}, errors.Wrap(err, "querying teachers")
	}
	byID := make(map[string]user.User, len(teachers))
	for _, t := range teachers {
		byID[t.ID] = t
	}

	res := BulkResult{Payouts: []Payout{}, Skipped: []SkippedTeacher{}}
	var payouts []Payout
	var transfers []Transfer
	for _, id := range teacherIDs {
		teacher, ok := byID[id]
		if !ok {
			res.Skipped = append(res.Skipped, SkippedTeacher{Teacher: id, Reason: "Teacher not found"})
			continue
		}
		code, err := svc.recipientCode(ctx, teacher)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedTeacher{Teacher: teacher.DisplayName(id), Reason: err.Error()})
			continue
		}
		payout := newPayout(teacher, groups[id])
		payouts = append(payouts, payout)
		transfers = append(transfers, Transfer{
			Amount:    payout.Amount,
			Recipient: code,
			Reason:    fmt.Sprintf("Teacher payout for %d session(s)", len(groups[id])),
			Reference: payout.Reference,
		})
	}
	if len(transfers) == 0 {
		res.Error = msgNoValidTransfers
		return res, nil
	}

	err = svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		for i := range payouts {
			p, err := svc.claim(ctx, payouts[i], exec)
			if err != nil {
				return err
			}
			payouts[i] = p
		}
		return nil
	})
	if err != nil {
		return BulkResult{}, err
	}

	results, err := svc.gateway.InitiateBulkTransfer(ctx, transfers)
	if err != nil {
		for _, p := range payouts {
			if _, serr := svc.settle(ctx, p, PayoutFailed, "", err.Error()); serr != nil {
				svc.logger.Error(fmt.Sprintf("reverting payout %s: %v", p.Reference, serr), serr)
			}
		}
		return BulkResult{}, errors.Wrap(err, "initiating bulk transfer")
	}

	byRef := make(map[string]TransferResult, len(results))
	for _, r := range results {
		byRef[r.Reference] = r
	}
	for _, p := range payouts {
		r, ok := byRef[p.Reference]
		if !ok {
			// settled by the transfer webhook
			res.Payouts = append(res.Payouts, p)
			res.TotalAmount += p.Amount
			continue
		}
		settled, err := svc.settle(ctx, p, transferStatus(r.Status), r.TransferCode, "")
		if err != nil {
			svc.logger.Error(fmt.Sprintf("settling payout %s: %v", p.Reference, err), err)
			continue
		}
		res.Payouts = append(res.Payouts, settled)
		res.TotalAmount += settled.Amount
		svc.notifyPaid(ctx, byID[settled.TeacherID], settled)
	}
	res.Success = true
	res.TransfersCount = len(transfers)
	res.Message = fmt.Sprintf("Bulk transfer initiated for %d teachers", len(transfers))
	return res, nil
}

func (svc *payoutService) History(ctx context.Context, query PayoutQuery) (History, error) {
	query.Page = query.Page.Clean(historyPageSize, historyMaxPageSize)
	payouts, total, err := svc.repo.QueryPayouts(ctx, query)
	if err != nil {
		return History{}, errors.Wrap(err, "querying payouts")
	}
	summary, err := svc.repo.SummarizePayouts(ctx)
	if err != nil {
		return History{}, errors.Wrap(err, "summarizing payouts")
	}
	if payouts == nil {
		payouts = []Payout{}
	}
	return History{
		Payouts: payouts,
		Pagination: Pagination{
			Page:       query.Page.Number,
			Limit:      query.Page.Size,
			Total:      total,
			TotalPages: query.Page.TotalPages(total),
		},
		Summary: summary,
	}, nil
}

func (svc *payoutService) Balance(ctx context.Context) (core.Money, error) {
	balance, err := svc.gateway.Balance(ctx, core.Currency)
	return balance, errors.Wrap(err, "checking balance")
}

func (svc *payoutService) findPayout(ctx context.Context, reference, transferCode string) (Payout, error) {
	if reference != "" {
		p, err := svc.repo.GetPayout(ctx, PayoutFilter{Reference: reference})
		if err == nil || !core.IsNotFound(err) {
			return p, err
		}
	}
	if transferCode != "" {
		return svc.repo.GetPayout(ctx, PayoutFilter{TransferCode: transferCode})
	}
	return Payout{}, ErrPayoutNotFound
}

// HandleTransferEvent applies a transfer webhook event. Repeated events are no-ops.
func (svc *payoutService) HandleTransferEvent(ctx context.Context, event TransferEvent) error {
	payout, err := svc.findPayout(ctx, event.Reference, event.TransferCode)
	if err != nil {
		if core.IsNotFound(err) {
			svc.logger.Warn(fmt.Sprintf("%s for unknown payout %s", event.Event, event.Reference))
			return nil
		}
		return errors.Wrap(err, "getting payout")
	}
	if payout.Settled() {
		return nil
	}

	switch event.Event {
	case EventTransferSuccess:
		_, err = svc.settle(ctx, payout, PayoutSuccess, event.TransferCode, "")
	case EventTransferFailed, EventTransferReversed:
		status := PayoutFailed
		if event.Event == EventTransferReversed {
			status = PayoutReversed
		}
		reason := core.FirstNonEmpty(event.Reason, event.Event)
		if _, err = svc.settle(ctx, payout, status, event.TransferCode, reason); err == nil {
			svc.notifier.Alert(ctx, fmt.Sprintf(
				"Payout %s of %s to teacher %s %s: %s. Earnings were released again.",
				payout.Reference, payout.Amount, payout.TeacherID, status, reason,
			))
		}
	default:
		svc.logger.Info("unhandled transfer event: " + event.Event)
	}
	return err
}

func (svc *payoutService) FinalizeTransfer(ctx context.Context, transferCode, otp string) (Payout, error) {
	payout, err := svc.repo.GetPayout(ctx, PayoutFilter{TransferCode: transferCode})
	if err != nil {
		return Payout{}, errors.Wrap(err, "getting payout")
	}
	res, err := svc.gateway.FinalizeTransfer(ctx, transferCode, otp)
	if err != nil {
		return Payout{}, errors.Wrap(err, "finalizing transfer")
	}
	return svc.settle(ctx, payout, transferStatus(res.Status), res.TransferCode, "")
}

// transferStatus maps a gateway transfer status to a payout status.
// Accepted transfers stay pending until the webhook reports the outcome.
func transferStatus(s PayoutStatus) PayoutStatus {
	switch s {
	case PayoutSuccess, PayoutFailed, PayoutReversed, PayoutOTP:
		return s
	}
	return PayoutPending
}

func (svc *payoutService) notifyPaid(ctx context.Context, teacher user.User, payout Payout) {
	if teacher.ID == "" || payout.Status == PayoutFailed || payout.Status == PayoutReversed {
		return
	}
	msg := fmt.Sprintf("%s has been sent to your %s account.", payout.Amount, teacher.Institution())
	errs := svc.notifier.Dispatch(ctx, notification.Delivery{
		Recipient: teacher,
		InApp:     notification.New(teacher.ID, notification.TypePayout, "Payment Sent! 💸", msg, "/teacher/earnings"),
		Email: core.NewEmailMessage(teacher.MailAddress(), "Your payout is on its way", "payout_sent", map[string]interface{}{
			"TeacherName": teacher.DisplayName("there"),
			"Amount":      payout.Amount.String(),
			"Destination": teacher.Summary(),
			"Reference":   payout.Reference,
		}),
	})
	for _, err := range errs {
		svc.logger.Warn(fmt.Sprintf("payout %s notification: %v", payout.Reference, err), err)
	}
}

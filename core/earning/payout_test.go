package earning_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/user"
	emailsvc "github.com/steamspark/spark/services/email"
	testutil "github.com/steamspark/spark/tests"
)

var ctx = context.Background()

func seedEarnings(t *testing.T, env *testutil.Env, teacherID string, status earning.Status, amounts ...core.Money) []earning.Earning {
	bookingID := "b-" + core.ShortID(teacherID)
	es := make([]earning.Earning, 0, len(amounts))
	for i, amount := range amounts {
		es = append(es, earning.Earning{
			TeacherID:         teacherID,
			BookingID:         bookingID,
			Amount:            amount,
			SessionsRequired:  (i + 1) * earning.SessionsPerRelease,
			SessionsCompleted: (i + 1) * earning.SessionsPerRelease,
			Status:            status,
		})
	}
	es, err := env.EarningRepo.CreateEarnings(ctx, es)
	require.NoError(t, err)
	return es
}

func earningsByStatus(t *testing.T, env *testutil.Env, teacherID string, status earning.Status) []earning.Earning {
	es, err := env.EarningRepo.QueryEarnings(ctx, earning.QueryFilter{
		TeacherIDs: []string{teacherID},
		Statuses:   []earning.Status{status},
	})
	require.NoError(t, err)
	return es
}

func isValidationError(err error) bool {
	_, ok := errors.Cause(err).(*core.ValidationError)
	return ok
}

func TestPayoutService_Pending(t *testing.T) {
	env := testutil.NewEnv(t)
	ama := testutil.CreateTeacher(t, env.UserRepo, "Ama Mensah", "ama@spark.test")
	kwame := testutil.CreateUser(t, env.UserRepo, "Kwame Asante", "kwame@spark.test", user.RoleTeacher)
	seedEarnings(t, env, ama.ID, earning.StatusReleased, 20000, 10000)
	seedEarnings(t, env, kwame.ID, earning.StatusReleased, 5000)
	seedEarnings(t, env, "e0e0e0e0-held", earning.StatusHeld, 7000)

	all, err := env.Payouts.Pending(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	byTeacher := map[string]earning.TeacherPayouts{}
	for _, tp := range all {
		byTeacher[tp.Teacher.ID] = tp
	}

	got := byTeacher[ama.ID]
	assert.Equal(t, core.Money(30000), got.Total)
	assert.Len(t, got.Earnings, 2)
	assert.Equal(t, "Ama Mensah", got.Teacher.FullName)
	assert.Equal(t, user.PayoutMobileMoney, got.Teacher.PayoutMethod)
	assert.Equal(t, "MTN - 0241234567", got.Teacher.PayoutDetails)
	assert.True(t, got.Teacher.Complete)
	assert.False(t, byTeacher[kwame.ID].Teacher.Complete)

	one, err := env.Payouts.Pending(ctx, kwame.ID)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, core.Money(5000), one[0].Total)

	none, err := env.Payouts.Pending(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPayoutService_Payout(t *testing.T) {
	env := testutil.NewEnv(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testutil.FreezeTime(t, now)
	teacher := testutil.CreateTeacher(t, env.UserRepo, "Ama Mensah", "ama@spark.test")
	seedEarnings(t, env, teacher.ID, earning.StatusReleased, 20000, 10000)

	payout, err := env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: teacher.ID})
	require.NoError(t, err)
	assert.Equal(t, core.Money(30000), payout.Amount)
	assert.Contains(t, payout.Reference, "PAYOUT-"+core.ShortID(teacher.ID)+"-")
	assert.Equal(t, earning.PayoutPending, payout.Status)
	assert.Equal(t, "TRF_"+payout.Reference, payout.TransferCode.String)
	assert.Equal(t, user.PayoutMobileMoney, payout.PayoutMethod)
	assert.Len(t, payout.EarningIDs, 2)

	require.Len(t, env.Gateway.Recipients, 1)
	assert.Equal(t, earning.Recipient{
		Type:          earning.RecipientMobileMoney,
		Name:          "Ama Mensah",
		AccountNumber: "0241234567",
		BankCode:      "MTN",
		Currency:      core.Currency,
	}, env.Gateway.Recipients[0])
	require.Len(t, env.Gateway.Transfers, 1)
	assert.Equal(t, earning.Transfer{
		Amount:    30000,
		Recipient: "RCP_1",
		Reason:    "Teacher payout for 2 session(s)",
		Reference: payout.Reference,
	}, env.Gateway.Transfers[0])

	usr, err := env.UserRepo.GetUser(ctx, user.GetFilter{ID: teacher.ID})
	require.NoError(t, err)
	assert.Equal(t, "RCP_1", usr.RecipientCode.String, "recipient cached")

	paid := earningsByStatus(t, env, teacher.ID, earning.StatusPaid)
	require.Len(t, paid, 2)
	for _, e := range paid {
		assert.Equal(t, payout.ID, e.PayoutID.String)
		assert.True(t, e.PaidAt.Valid)
	}

	ns, err := env.Notifier.List(ctx, teacher, false)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, notification.TypePayout, ns[0].Type)
	assert.Equal(t, "GHS 300.00 has been sent to your MTN account.", ns[0].Message)
	emails := emailsvc.GetSentMessages()
	require.Len(t, emails, 1)
	assert.Equal(t, "Your payout is on its way", emails[0].Subject)

	_, err = env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: teacher.ID})
	assert.Equal(t, earning.ErrNothingToPay, err)

	// the cached recipient is reused
	testutil.FreezeTime(t, now.Add(time.Second))
	more, err := env.EarningRepo.CreateEarnings(ctx, []earning.Earning{{
		TeacherID: teacher.ID, BookingID: "b-2", Amount: 4000, SessionsRequired: 1, Status: earning.StatusReleased,
	}})
	require.NoError(t, err)
	_, err = env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: teacher.ID, EarningIDs: earning.IDs(more)})
	require.NoError(t, err)
	assert.Len(t, env.Gateway.Recipients, 1)
	assert.Equal(t, "RCP_1", env.Gateway.Transfers[1].Recipient)
}

func TestPayoutService_Payout_Errors(t *testing.T) {
	env := testutil.NewEnv(t)
	teacher := testutil.CreateTeacher(t, env.UserRepo, "Ama Mensah", "ama@spark.test")
	noDetails := testutil.CreateUser(t, env.UserRepo, "Kwame", "kwame@spark.test", user.RoleTeacher)
	parent := testutil.CreateUser(t, env.UserRepo, "Kofi", "kofi@spark.test", user.RoleParent)
	es := seedEarnings(t, env, teacher.ID, earning.StatusReleased, 20000)
	seedEarnings(t, env, noDetails.ID, earning.StatusReleased, 20000)

	_, err := env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: parent.ID})
	assert.Equal(t, earning.ErrTeacherNotFound, err)

	_, err = env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: "6f1c2b1e-0000-4000-8000-000000000000"})
	assert.Equal(t, earning.ErrTeacherNotFound, err)

	_, err = env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: noDetails.ID})
	require.True(t, isValidationError(err))
	assert.Equal(t, "Incomplete bank details", err.Error())

	_, err = env.Payouts.Payout(ctx, earning.PayoutRequest{
		TeacherID:  teacher.ID,
		EarningIDs: []string{es[0].ID, "6f1c2b1e-0000-4000-8000-000000000000"},
	})
	assert.Equal(t, earning.ErrEarningsMismatch, err)

	env.Gateway.RecipientErr = core.NewGatewayError("paystack", 400, "Account number is invalid")
	_, err = env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: teacher.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Account number is invalid")
	assert.Len(t, earningsByStatus(t, env, teacher.ID, earning.StatusReleased), 1)
}

func TestPayoutService_Payout_TransferFails(t *testing.T) {
	env := testutil.NewEnv(t)
	teacher := testutil.CreateTeacher(t, env.UserRepo, "Ama Mensah", "ama@spark.test")
	seedEarnings(t, env, teacher.ID, earning.StatusReleased, 20000, 10000)
	env.Gateway.TransferErr = core.NewGatewayError("paystack", 400, "Insufficient balance")

	_, err := env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: teacher.ID})
	require.Error(t, err)

	released := earningsByStatus(t, env, teacher.ID, earning.StatusReleased)
	require.Len(t, released, 2, "claim undone")
	for _, e := range released {
		assert.False(t, e.PayoutID.Valid)
	}

	hist, err := env.Payouts.History(ctx, earning.PayoutQuery{})
	require.NoError(t, err)
	require.Len(t, hist.Payouts, 1)
	assert.Equal(t, earning.PayoutFailed, hist.Payouts[0].Status)
	assert.Equal(t, "Insufficient balance", hist.Payouts[0].FailureReason.String)
}

func TestPayoutService_BulkPayout(t *testing.T) {
	env := testutil.NewEnv(t)

	res, err := env.Payouts.BulkPayout(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "No pending payouts found", res.Message)

	ama := testutil.CreateTeacher(t, env.UserRepo, "Ama Mensah", "ama@spark.test")
	yaa := testutil.CreateTeacher(t, env.UserRepo, "Yaa Owusu", "yaa@spark.test")
	kwame := testutil.CreateUser(t, env.UserRepo, "Kwame Asante", "kwame@spark.test", user.RoleTeacher)
	seedEarnings(t, env, ama.ID, earning.StatusReleased, 20000, 10000)
	seedEarnings(t, env, yaa.ID, earning.StatusReleased, 15000)
	seedEarnings(t, env, kwame.ID, earning.StatusReleased, 5000)

	env.Gateway.BalanceAmount = 40000
	_, err = env.Payouts.BulkPayout(ctx)
	require.True(t, isValidationError(err))
	assert.Equal(t, "Insufficient balance. Need GHS 500.00, have GHS 400.00", err.Error())

	env.Gateway.BalanceAmount = 100000
	res, err = env.Payouts.BulkPayout(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.TransfersCount)
	assert.Equal(t, core.Money(45000), res.TotalAmount)
	assert.Equal(t, "Bulk transfer initiated for 2 teachers", res.Message)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, earning.SkippedTeacher{Teacher: "Kwame Asante", Reason: "Incomplete bank details"}, res.Skipped[0])
	assert.Len(t, res.Payouts, 2)
	assert.Len(t, env.Gateway.Transfers, 2)

	assert.Len(t, earningsByStatus(t, env, ama.ID, earning.StatusPaid), 2)
	assert.Len(t, earningsByStatus(t, env, yaa.ID, earning.StatusPaid), 1)
	assert.Len(t, earningsByStatus(t, env, kwame.ID, earning.StatusReleased), 1)

	// only the skipped teacher is left
	res, err = env.Payouts.BulkPayout(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "No valid transfers to process", res.Error)
}

func TestPayoutService_History(t *testing.T) {
	env := testutil.NewEnv(t)
	for i, name := range []string{"Ama", "Yaa", "Esi"} {
		teacher := testutil.CreateTeacher(t, env.UserRepo, name, name+"@spark.test")
		seedEarnings(t, env, teacher.ID, earning.StatusReleased, core.Money(10000*(i+1)))
		_, err := env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: teacher.ID})
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		query     earning.PayoutQuery
		wantCount int
		wantPage  earning.Pagination
	}{
		{
			name:      "defaults",
			query:     earning.PayoutQuery{},
			wantCount: 3,
			wantPage:  earning.Pagination{Page: 1, Limit: 20, Total: 3, TotalPages: 1},
		},
		{
			name:      "second page",
			query:     earning.PayoutQuery{Page: core.Page{Number: 2, Size: 2}},
			wantCount: 1,
			wantPage:  earning.Pagination{Page: 2, Limit: 2, Total: 3, TotalPages: 2},
		},
		{
			name:      "by status",
			query:     earning.PayoutQuery{Status: earning.PayoutSuccess},
			wantCount: 0,
			wantPage:  earning.Pagination{Page: 1, Limit: 20, Total: 0, TotalPages: 0},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hist, err := env.Payouts.History(ctx, tc.query)
			require.NoError(t, err)
			assert.Len(t, hist.Payouts, tc.wantCount)
			assert.Equal(t, tc.wantPage, hist.Pagination)
			assert.Equal(t, earning.PayoutSummary{TotalPayouts: 3, TotalAmount: 60000, Pending: 3}, hist.Summary)
		})
	}
}

func TestPayoutService_HandleTransferEvent(t *testing.T) {
	env := testutil.NewEnv(t)
	ama := testutil.CreateTeacher(t, env.UserRepo, "Ama Mensah", "ama@spark.test")
	yaa := testutil.CreateTeacher(t, env.UserRepo, "Yaa Owusu", "yaa@spark.test")
	seedEarnings(t, env, ama.ID, earning.StatusReleased, 20000)
	seedEarnings(t, env, yaa.ID, earning.StatusReleased, 10000)

	ok, err := env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: ama.ID})
	require.NoError(t, err)
	failed, err := env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: yaa.ID})
	require.NoError(t, err)

	require.NoError(t, env.Payouts.HandleTransferEvent(ctx, earning.TransferEvent{
		Event: earning.EventTransferSuccess, Reference: ok.Reference,
	}))
	require.NoError(t, env.Payouts.HandleTransferEvent(ctx, earning.TransferEvent{
		Event: earning.EventTransferFailed, TransferCode: failed.TransferCode.String, Reason: "Account closed",
	}))
	// replays are ignored
	require.NoError(t, env.Payouts.HandleTransferEvent(ctx, earning.TransferEvent{
		Event: earning.EventTransferReversed, Reference: ok.Reference,
	}))

	got, err := env.EarningRepo.GetPayout(ctx, earning.PayoutFilter{ID: ok.ID})
	require.NoError(t, err)
	assert.Equal(t, earning.PayoutSuccess, got.Status)
	assert.Len(t, earningsByStatus(t, env, ama.ID, earning.StatusPaid), 1)

	got, err = env.EarningRepo.GetPayout(ctx, earning.PayoutFilter{ID: failed.ID})
	require.NoError(t, err)
	assert.Equal(t, earning.PayoutFailed, got.Status)
	assert.Equal(t, "Account closed", got.FailureReason.String)
	assert.Len(t, earningsByStatus(t, env, yaa.ID, earning.StatusReleased), 1, "earnings released again")

	alerts := env.Alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], failed.Reference)

	assert.NoError(t, env.Payouts.HandleTransferEvent(ctx, earning.TransferEvent{
		Event: earning.EventTransferSuccess, Reference: "PAYOUT-unknown",
	}))
}

func TestPayoutService_FinalizeTransfer(t *testing.T) {
	env := testutil.NewEnv(t)
	teacher := testutil.CreateTeacher(t, env.UserRepo, "Ama Mensah", "ama@spark.test")
	seedEarnings(t, env, teacher.ID, earning.StatusReleased, 20000)
	env.Gateway.TransferStatus = earning.PayoutOTP

	payout, err := env.Payouts.Payout(ctx, earning.PayoutRequest{TeacherID: teacher.ID})
	require.NoError(t, err)
	assert.Equal(t, earning.PayoutOTP, payout.Status)

	_, err = env.Payouts.FinalizeTransfer(ctx, payout.TransferCode.String, "")
	require.Error(t, err)

	payout, err = env.Payouts.FinalizeTransfer(ctx, payout.TransferCode.String, "123456")
	require.NoError(t, err)
	assert.Equal(t, earning.PayoutSuccess, payout.Status)
	assert.Equal(t, []string{payout.TransferCode.String}, env.Gateway.Finalized)

	_, err = env.Payouts.FinalizeTransfer(ctx, "TRF_unknown", "123456")
	assert.True(t, core.IsNotFound(err))
}

func TestPayoutService_Balance(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Gateway.BalanceAmount = core.Cedis(1234.5)

	balance, err := env.Payouts.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.Money(123450), balance)
}

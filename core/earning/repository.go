package earning

import (
	"context"
	"time"

	"github.com/steamspark/spark/core"
)

var (
	ErrNotFound       = core.NewNotFoundError("earning")
	ErrPayoutNotFound = core.NewNotFoundError("payout")
)

type (
	QueryFilter struct {
		IDs        []string
		TeacherIDs []string
		BookingID  string
		PayoutID   string
		Statuses   []Status
	}

	PayoutFilter struct {
		ID           string
		Reference    string
		TransferCode string
	}

	PayoutQuery struct {
		TeacherID string
		Status    PayoutStatus
		Page      core.Page
	}

	Repository interface {
		CreateEarnings(ctx context.Context, earnings []Earning, exec ...core.DBExecutor) ([]Earning, error)
		QueryEarnings(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Earning, error)
		CountEarnings(ctx context.Context, bookingID string, exec ...core.DBExecutor) (int, error)
		// SyncProgress records the completed session count of a booking and releases the held
		// entries whose threshold is reached. It returns the entries released by this call.
		SyncProgress(ctx context.Context, bookingID string, completed int, at time.Time, exec ...core.DBExecutor) ([]Earning, error)
		// ClaimEarnings moves released entries of a teacher to processing under payoutID.
		// It returns the number of entries claimed.
		ClaimEarnings(ctx context.Context, ids []string, teacherID, payoutID string, exec ...core.DBExecutor) (int, error)
		// SettleEarnings moves the processing entries of a payout to paid. With StatusReleased it
		// detaches every processing or paid entry from the payout and releases it again.
		SettleEarnings(ctx context.Context, payoutID string, status Status, at time.Time, exec ...core.DBExecutor) (int, error)

		CreatePayout(ctx context.Context, payout Payout, exec ...core.DBExecutor) (Payout, error)
		UpdatePayout(ctx context.Context, payout Payout, exec ...core.DBExecutor) (Payout, error)
		GetPayout(ctx context.Context, filter PayoutFilter, exec ...core.DBExecutor) (Payout, error)
		QueryPayouts(ctx context.Context, query PayoutQuery, exec ...core.DBExecutor) ([]Payout, int, error)
		SummarizePayouts(ctx context.Context, exec ...core.DBExecutor) (PayoutSummary, error)
	}
)

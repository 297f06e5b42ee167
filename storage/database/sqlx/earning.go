package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
)

const (
	earningColumns = `e.id, e.teacher_id, e.booking_id, e.amount, e.sessions_required, e.sessions_completed, e.status,
		e.payout_id, e.released_at, e.paid_at, e.created_at`

	payoutSelect = `
		SELECT p.id, p.teacher_id, p.amount, p.reference, p.transfer_code, p.status, p.earning_ids,
			p.payout_method, p.payout_details, p.failure_reason, p.created_at, p.updated_at,
			COALESCE(pr.full_name, '') AS teacher_name
		FROM teacher_payouts p
		LEFT JOIN profiles pr ON pr.id = p.teacher_id`
)

// payoutRow stores the earning ids of a payout in the earning_ids array column.
type payoutRow struct {
	earning.Payout
	EarningIDs pq.StringArray `db:"earning_ids"`
}

func (row payoutRow) payout() earning.Payout {
	p := row.Payout
	p.EarningIDs = []string(row.EarningIDs)
	if p.EarningIDs == nil {
		p.EarningIDs = []string{}
	}
	return p
}

// where accumulates numbered postgres conditions.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

type earningRepository struct {
	repository
}

var _ earning.Repository = (*earningRepository)(nil) // interface compliance check

func NewEarningRepository(db *sqlx.DB) earning.Repository {
	return &earningRepository{repository{db: db}}
}

func (repo earningRepository) CreateEarnings(ctx context.Context, earnings []earning.Earning, exec ...core.DBExecutor) ([]earning.Earning, error) {
	if len(earnings) == 0 {
		return earnings, nil
	}
	now := core.NowFunc()
	for i := range earnings {
		earnings[i].ID = uuid.New().String()
		if earnings[i].CreatedAt.IsZero() {
			earnings[i].CreatedAt = now
		}
	}
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), `
		INSERT INTO teacher_earnings (id, teacher_id, booking_id, amount, sessions_required, sessions_completed,
			status, payout_id, released_at, paid_at, created_at)
		VALUES (:id, :teacher_id, :booking_id, :amount, :sessions_required, :sessions_completed,
			:status, :payout_id, :released_at, :paid_at, :created_at)`, earnings)
	if err != nil {
		return nil, errors.Wrap(err, "inserting earnings")
	}
	return earnings, nil
}

func (repo earningRepository) QueryEarnings(ctx context.Context, filter earning.QueryFilter, exec ...core.DBExecutor) ([]earning.Earning, error) {
	var w where
	if len(filter.IDs) > 0 {
		w.add("e.id = ANY($%d)", pq.Array(filter.IDs))
	}
	if len(filter.TeacherIDs) > 0 {
		w.add("e.teacher_id = ANY($%d)", pq.Array(filter.TeacherIDs))
	}
	if filter.BookingID != "" {
		w.add("e.booking_id = $%d", filter.BookingID)
	}
	if filter.PayoutID != "" {
		w.add("e.payout_id = $%d", filter.PayoutID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		w.add("e.status = ANY($%d)", pq.Array(statuses))
	}

	earnings := make([]earning.Earning, 0)
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &earnings, `
		SELECT `+earningColumns+`, COALESCE(g.title, '') AS gig_title
		FROM teacher_earnings e
		LEFT JOIN bookings b ON b.id = e.booking_id
		LEFT JOIN gigs g ON g.id = b.gig_id`+w.String()+`
		ORDER BY e.created_at DESC, e.sessions_required`, w.args...)
	return earnings, errors.Wrap(err, "querying earnings")
}

func (repo earningRepository) CountEarnings(ctx context.Context, bookingID string, exec ...core.DBExecutor) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, repo.getExec(exec), &n,
		"SELECT count(*) FROM teacher_earnings WHERE booking_id = $1", bookingID)
	return n, errors.Wrap(err, "counting earnings")
}

func (repo earningRepository) SyncProgress(ctx context.Context, bookingID string, completed int, at time.Time, exec ...core.DBExecutor) ([]earning.Earning, error) {
	released := make([]earning.Earning, 0)
	err := repo.inTx(ctx, exec, func(e sqlx.ExtContext) error {
		_, err := e.ExecContext(ctx,
			"UPDATE teacher_earnings SET sessions_completed = $2 WHERE booking_id = $1", bookingID, completed)
		if err != nil {
			return errors.Wrap(err, "updating sessions completed")
		}
		err = sqlx.SelectContext(ctx, e, &released, `
			UPDATE teacher_earnings e SET status = $3, released_at = $4
			WHERE e.booking_id = $1 AND e.status = $2 AND e.sessions_required <= e.sessions_completed
			RETURNING `+earningColumns,
			bookingID, earning.StatusHeld, earning.StatusReleased, at)
		return errors.Wrap(err, "releasing earnings")
	})
	return released, err
}

func (repo earningRepository) ClaimEarnings(ctx context.Context, ids []string, teacherID, payoutID string, exec ...core.DBExecutor) (int, error) {
	n, err := rowsAffected(repo.getExec(exec).ExecContext(ctx, `
		UPDATE teacher_earnings SET status = $4, payout_id = $3
		WHERE id = ANY($1) AND teacher_id = $2 AND status = $5`,
		pq.Array(ids), teacherID, payoutID, earning.StatusProcessing, earning.StatusReleased))
	return n, errors.Wrap(err, "claiming earnings")
}

func (repo earningRepository) SettleEarnings(ctx context.Context, payoutID string, status earning.Status, at time.Time, exec ...core.DBExecutor) (int, error) {
	var (
		n   int
		err error
	)
	e := repo.getExec(exec)
	switch status {
	case earning.StatusPaid:
		n, err = rowsAffected(e.ExecContext(ctx,
			"UPDATE teacher_earnings SET status = $2, paid_at = $3 WHERE payout_id = $1 AND status = $4",
			payoutID, earning.StatusPaid, at, earning.StatusProcessing))
	case earning.StatusReleased:
		n, err = rowsAffected(e.ExecContext(ctx, `
			UPDATE teacher_earnings SET status = $2, payout_id = NULL, paid_at = NULL
			WHERE payout_id = $1 AND status = ANY($3)`,
			payoutID, earning.StatusReleased, pq.Array([]string{string(earning.StatusProcessing), string(earning.StatusPaid)})))
	default:
		return 0, errors.Errorf("cannot settle earnings as %s", status)
	}
	return n, errors.Wrap(err, "settling earnings")
}

func (repo earningRepository) CreatePayout(ctx context.Context, payout earning.Payout, exec ...core.DBExecutor) (earning.Payout, error) {
	payout.ID = uuid.New().String()
	now := core.NowFunc()
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = now
	}
	if payout.UpdatedAt.IsZero() {
		payout.UpdatedAt = now
	}
	row := payoutRow{Payout: payout, EarningIDs: pq.StringArray(payout.EarningIDs)}
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), `
		INSERT INTO teacher_payouts (id, teacher_id, amount, reference, transfer_code, status, earning_ids,
			payout_method, payout_details, failure_reason, created_at, updated_at)
		VALUES (:id, :teacher_id, :amount, :reference, :transfer_code, :status, :earning_ids,
			:payout_method, :payout_details, :failure_reason, :created_at, :updated_at)`, row)
	if err != nil {
		return earning.Payout{}, errors.Wrap(err, "inserting payout")
	}
	return row.payout(), nil
}

func (repo earningRepository) UpdatePayout(ctx context.Context, payout earning.Payout, exec ...core.DBExecutor) (earning.Payout, error) {
	n, err := rowsAffected(sqlx.NamedExecContext(ctx, repo.getExec(exec), `
		UPDATE teacher_payouts SET
			transfer_code = :transfer_code, status = :status, failure_reason = :failure_reason,
			updated_at = :updated_at
		WHERE id = :id`, payout))
	if err != nil {
		return earning.Payout{}, errors.Wrap(err, "updating payout")
	}
	if n == 0 {
		return earning.Payout{}, earning.ErrPayoutNotFound
	}
	return payout, nil
}

func (repo earningRepository) GetPayout(ctx context.Context, filter earning.PayoutFilter, exec ...core.DBExecutor) (earning.Payout, error) {
	var w where
	switch {
	case filter.ID != "":
		w.add("p.id = $%d", filter.ID)
	case filter.Reference != "":
		w.add("p.reference = $%d", filter.Reference)
	case filter.TransferCode != "":
		w.add("p.transfer_code = $%d", filter.TransferCode)
	default:
		return earning.Payout{}, earning.ErrPayoutNotFound
	}
	var row payoutRow
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &row, payoutSelect+w.String(), w.args...); err != nil {
		return earning.Payout{}, trapNoRowsErr(err, earning.ErrPayoutNotFound, "getting payout")
	}
	return row.payout(), nil
}

func (repo earningRepository) QueryPayouts(ctx context.Context, query earning.PayoutQuery, exec ...core.DBExecutor) ([]earning.Payout, int, error) {
	var w where
	if query.TeacherID != "" {
		w.add("p.teacher_id = $%d", query.TeacherID)
	}
	if query.Status != "" {
		w.add("p.status = $%d", query.Status)
	}
	e := repo.getExec(exec)

	var total int
	if err := sqlx.GetContext(ctx, e, &total, "SELECT count(*) FROM teacher_payouts p"+w.String(), w.args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting payouts")
	}

	args := append(w.args, query.Page.Size, query.Page.Offset())
	q := fmt.Sprintf("%s%s ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d", payoutSelect, w, len(w.args)+1, len(w.args)+2)
	var rows []payoutRow
	if err := sqlx.SelectContext(ctx, e, &rows, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying payouts")
	}
	payouts := make([]earning.Payout, 0, len(rows))
	for _, row := range rows {
		payouts = append(payouts, row.payout())
	}
	return payouts, total, nil
}

func (repo earningRepository) SummarizePayouts(ctx context.Context, exec ...core.DBExecutor) (earning.PayoutSummary, error) {
	var s earning.PayoutSummary
	err := sqlx.GetContext(ctx, repo.getExec(exec), &s, `
		SELECT count(*) AS total_payouts,
			COALESCE(sum(amount), 0) AS total_amount,
			count(*) FILTER (WHERE status = $1) AS pending,
			count(*) FILTER (WHERE status = $2) AS success,
			count(*) FILTER (WHERE status = $3) AS failed
		FROM teacher_payouts`,
		earning.PayoutPending, earning.PayoutSuccess, earning.PayoutFailed)
	return s, errors.Wrap(err, "summarizing payouts")
}

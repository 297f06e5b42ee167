package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/payment"
)

const paymentColumns = `id, booking_id, reference, payment_type, expected_amount, amount, currency, status, channel,
	paid_at, created_at, updated_at`

type paymentRepository struct {
	repository
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *sqlx.DB) payment.Repository {
	return &paymentRepository{repository{db: db}}
}

func preparePayment(p payment.Payment) payment.Payment {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Currency == "" {
		p.Currency = core.Currency
	}
	now := core.NowFunc()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return p
}

func (repo paymentRepository) CreatePayment(ctx context.Context, p payment.Payment, exec ...core.DBExecutor) (payment.Payment, error) {
	p = preparePayment(p)
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (:id, :booking_id, :reference, :payment_type, :expected_amount, :amount, :currency, :status,
			:channel, :paid_at, :created_at, :updated_at)`, p)
	if err != nil {
		return payment.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return p, nil
}

func (repo paymentRepository) GetPayment(ctx context.Context, reference string, exec ...core.DBExecutor) (payment.Payment, error) {
	var p payment.Payment
	err := sqlx.GetContext(ctx, repo.getExec(exec), &p,
		"SELECT "+paymentColumns+" FROM payments WHERE reference = $1", reference)
	if err != nil {
		return payment.Payment{}, trapNoRowsErr(err, payment.ErrNotFound, "getting payment")
	}
	return p, nil
}

// UpsertPayment keeps the id, booking, type and creation time of an existing row.
func (repo paymentRepository) UpsertPayment(ctx context.Context, p payment.Payment, exec ...core.DBExecutor) (payment.Payment, error) {
	p = preparePayment(p)
	e := repo.getExec(exec)
	_, err := sqlx.NamedExecContext(ctx, e, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (:id, :booking_id, :reference, :payment_type, :expected_amount, :amount, :currency, :status,
			:channel, :paid_at, :created_at, :updated_at)
		ON CONFLICT (reference) DO UPDATE SET
			amount = EXCLUDED.amount, currency = EXCLUDED.currency, status = EXCLUDED.status,
			channel = COALESCE(EXCLUDED.channel, payments.channel),
			paid_at = COALESCE(EXCLUDED.paid_at, payments.paid_at),
			expected_amount = CASE WHEN payments.expected_amount = 0 THEN EXCLUDED.expected_amount
				ELSE payments.expected_amount END,
			updated_at = EXCLUDED.updated_at`, p)
	if err != nil {
		return payment.Payment{}, errors.Wrap(err, "upserting payment")
	}
	return repo.GetPayment(ctx, p.Reference, exec...)
}

func (repo paymentRepository) QueryPending(ctx context.Context, createdBefore time.Time, exec ...core.DBExecutor) ([]payment.Payment, error) {
	payments := make([]payment.Payment, 0)
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE status = $1 AND created_at < $2 ORDER BY created_at",
		payment.StatusPending, createdBefore)
	return payments, errors.Wrap(err, "querying pending payments")
}

func (repo paymentRepository) ClaimEvent(ctx context.Context, key string, exec ...core.DBExecutor) (bool, error) {
	n, err := rowsAffected(repo.getExec(exec).ExecContext(ctx,
		"INSERT INTO processed_events (key, processed_at) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING",
		key, core.NowFunc()))
	if err != nil {
		return false, errors.Wrap(err, "claiming event")
	}
	return n == 1, nil
}

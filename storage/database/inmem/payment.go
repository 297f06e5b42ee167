package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/payment"
)

type paymentRepository struct {
	db *DB
}

var _ payment.Repository = (*paymentRepository)(nil)

func NewPaymentRepository(db *DB) payment.Repository {
	return &paymentRepository{db: db}
}

func (repo *paymentRepository) CreatePayment(_ context.Context, p payment.Payment, _ ...core.DBExecutor) (payment.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.data.payments[p.Reference]; ok {
		return payment.Payment{}, core.NewConflictError("duplicate payment reference " + p.Reference)
	}
	p.ID = uuid.New().String()
	if p.Currency == "" {
		p.Currency = core.Currency
	}
	repo.db.data.payments[p.Reference] = p
	return p, nil
}

func (repo *paymentRepository) GetPayment(_ context.Context, reference string, _ ...core.DBExecutor) (payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if p, ok := repo.db.data.payments[reference]; ok {
		return p, nil
	}
	return payment.Payment{}, payment.ErrNotFound
}

func (repo *paymentRepository) UpsertPayment(_ context.Context, p payment.Payment, _ ...core.DBExecutor) (payment.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.data.payments[p.Reference]
	if !ok {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.Currency == "" {
			p.Currency = core.Currency
		}
		repo.db.data.payments[p.Reference] = p
		return p, nil
	}
	orig.Amount = p.Amount
	if p.Currency != "" {
		orig.Currency = p.Currency
	}
	orig.Status = p.Status
	if p.Channel.Valid {
		orig.Channel = p.Channel
	}
	if p.PaidAt.Valid {
		orig.PaidAt = p.PaidAt
	}
	if orig.ExpectedAmount == 0 {
		orig.ExpectedAmount = p.ExpectedAmount
	}
	orig.UpdatedAt = p.UpdatedAt
	repo.db.data.payments[p.Reference] = orig
	return orig, nil
}

func (repo *paymentRepository) QueryPending(_ context.Context, createdBefore time.Time, _ ...core.DBExecutor) ([]payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	payments := make([]payment.Payment, 0)
	for _, p := range repo.db.data.payments {
		if p.Status == payment.StatusPending && p.CreatedAt.Before(createdBefore) {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.Before(payments[j].CreatedAt) })
	return payments, nil
}

func (repo *paymentRepository) ClaimEvent(_ context.Context, key string, _ ...core.DBExecutor) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.data.events[key]; ok {
		return false, nil
	}
	repo.db.data.events[key] = core.NowFunc()
	return true, nil
}

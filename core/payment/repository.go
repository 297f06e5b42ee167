package payment

import (
	"context"
	"time"

	"github.com/steamspark/spark/core"
)

var ErrNotFound = core.NewNotFoundError("payment")

type Repository interface {
	CreatePayment(ctx context.Context, p Payment, exec ...core.DBExecutor) (Payment, error)
	GetPayment(ctx context.Context, reference string, exec ...core.DBExecutor) (Payment, error)
	// UpsertPayment inserts the payment or updates the one with the same reference.
	UpsertPayment(ctx context.Context, p Payment, exec ...core.DBExecutor) (Payment, error)
	// QueryPending returns the pending payments created before createdBefore, oldest first.
	QueryPending(ctx context.Context, createdBefore time.Time, exec ...core.DBExecutor) ([]Payment, error)
	// ClaimEvent records key as processed. It returns false when key was already claimed.
	ClaimEvent(ctx context.Context, key string, exec ...core.DBExecutor) (bool, error)
}

package user

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
)

var ErrNotFound = core.NewNotFoundError("user")

type (
	GetFilter struct {
		ID    string
		Email string
	}

	Repository interface {
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		QueryUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		SetRecipientCode(ctx context.Context, id, code string, exec ...core.DBExecutor) error
	}

	Service interface {
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		UpdatePayoutDetails(ctx context.Context, usr User, upd UpdatePayoutDetails) (User, error)
		SetRole(ctx context.Context, email, role string) (User, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

// UpdatePayoutDetails replaces the payout destination of a teacher.
// A cached gateway recipient is dropped when the destination changes.
func (svc *service) UpdatePayoutDetails(ctx context.Context, usr User, upd UpdatePayoutDetails) (User, error) {
	if !usr.IsTeacher() {
		return User{}, core.NewPermissionError("only teachers have payout details")
	}
	details := upd.details()
	if details.Summary() != usr.PayoutDetails.Summary() || details.Method() != usr.PayoutDetails.Method() {
		details.RecipientCode = null.String{}
	} else {
		details.RecipientCode = usr.RecipientCode
	}
	usr.PayoutDetails = details
	if upd.Phone != "" {
		usr.Phone = null.StringFrom(upd.Phone)
	}
	if upd.WhatsAppOptIn != nil {
		usr.WhatsAppOptIn = *upd.WhatsAppOptIn
	}
	usr.UpdatedAt = core.NowFunc()

	usr, err := svc.repo.UpdateUser(ctx, usr)
	return usr, errors.Wrap(err, "updating payout details")
}

func (svc *service) SetRole(ctx context.Context, email, role string) (User, error) {
	if !IsValidRole(role) {
		return User{}, core.NewValidationError(nil, core.FieldError{Field: "role", Error: roleText})
	}
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	usr.Role = role
	usr.UpdatedAt = core.NowFunc()
	usr, err = svc.repo.UpdateUser(ctx, usr)
	return usr, errors.Wrap(err, "updating role")
}

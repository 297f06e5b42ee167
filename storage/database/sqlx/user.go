package sqlxrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/user"
)

const userColumns = `id, full_name, email, phone, role, whatsapp_opt_in, payout_method, momo_provider,
	momo_number, momo_name, bank_name, bank_account_number, bank_account_name, paystack_recipient_code,
	created_at, updated_at`

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{repository{db: db}}
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	now := core.NowFunc()
	if usr.CreatedAt.IsZero() {
		usr.CreatedAt = now
	}
	usr.UpdatedAt = now

	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), `
		INSERT INTO profiles (`+userColumns+`)
		VALUES (:id, :full_name, :email, :phone, :role, :whatsapp_opt_in, :payout_method, :momo_provider,
			:momo_number, :momo_name, :bank_name, :bank_account_number, :bank_account_name,
			:paystack_recipient_code, :created_at, :updated_at)`, usr)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var usr user.User
	var err error
	q := "SELECT " + userColumns + " FROM profiles"
	switch {
	case filter.ID != "":
		err = sqlx.GetContext(ctx, repo.getExec(exec), &usr, q+" WHERE id = $1", filter.ID)
	case filter.Email != "":
		err = sqlx.GetContext(ctx, repo.getExec(exec), &usr, q+" WHERE lower(email) = lower($1)", filter.Email)
	default:
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]user.User, error) {
	users := make([]user.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &users,
		"SELECT "+userColumns+" FROM profiles WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
	return users, errors.Wrap(err, "querying users")
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	n, err := rowsAffected(sqlx.NamedExecContext(ctx, repo.getExec(exec), `
		UPDATE profiles SET
			full_name = :full_name, email = :email, phone = :phone, role = :role,
			whatsapp_opt_in = :whatsapp_opt_in, payout_method = :payout_method,
			momo_provider = :momo_provider, momo_number = :momo_number, momo_name = :momo_name,
			bank_name = :bank_name, bank_account_number = :bank_account_number,
			bank_account_name = :bank_account_name, paystack_recipient_code = :paystack_recipient_code,
			updated_at = :updated_at
		WHERE id = :id`, usr))
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) SetRecipientCode(ctx context.Context, id, code string, exec ...core.DBExecutor) error {
	n, err := rowsAffected(repo.getExec(exec).ExecContext(ctx,
		"UPDATE profiles SET paystack_recipient_code = $2, updated_at = $3 WHERE id = $1", id, code, core.NowFunc()))
	if err != nil {
		return errors.Wrap(err, "saving recipient code")
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}

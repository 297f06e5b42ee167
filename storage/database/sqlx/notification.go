package sqlxrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/notification"
)

const notificationColumns = "id, user_id, type, title, message, read, action_url, created_at"

type notificationRepository struct {
	repository
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *sqlx.DB) notification.Repository {
	return &notificationRepository{repository{db: db}}
}

func (repo notificationRepository) CreateNotifications(ctx context.Context, ns []notification.Notification, exec ...core.DBExecutor) ([]notification.Notification, error) {
	if len(ns) == 0 {
		return ns, nil
	}
	now := core.NowFunc()
	for i := range ns {
		ns[i].ID = uuid.New().String()
		if ns[i].CreatedAt.IsZero() {
			ns[i].CreatedAt = now
		}
	}
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		"INSERT INTO notifications ("+notificationColumns+`)
		VALUES (:id, :user_id, :type, :title, :message, :read, :action_url, :created_at)`, ns)
	if err != nil {
		return nil, errors.Wrap(err, "inserting notifications")
	}
	return ns, nil
}

func (repo notificationRepository) QueryNotifications(ctx context.Context, filter notification.QueryFilter, exec ...core.DBExecutor) ([]notification.Notification, error) {
	var w where
	w.add("user_id = $%d", filter.UserID)
	if filter.UnreadOnly {
		w.conds = append(w.conds, "NOT read")
	}
	q := "SELECT " + notificationColumns + " FROM notifications" + w.String() + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		w.args = append(w.args, filter.Limit)
		q += " LIMIT $2"
	}
	ns := make([]notification.Notification, 0)
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &ns, q, w.args...)
	return ns, errors.Wrap(err, "querying notifications")
}

// MarkRead marks every unread notification of the user read when ids is empty.
func (repo notificationRepository) MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error) {
	q := "UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read"
	args := []interface{}{userID}
	if len(ids) > 0 {
		q += " AND id = ANY($2)"
		args = append(args, pq.Array(ids))
	}
	n, err := rowsAffected(repo.getExec(exec).ExecContext(ctx, q, args...))
	return n, errors.Wrap(err, "marking notifications read")
}

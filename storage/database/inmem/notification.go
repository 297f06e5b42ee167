package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/notification"
)

type notificationRepository struct {
	db *DB
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotifications(_ context.Context, ns []notification.Notification, _ ...core.DBExecutor) ([]notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := core.NowFunc()
	for i := range ns {
		ns[i].ID = uuid.New().String()
		if ns[i].CreatedAt.IsZero() {
			ns[i].CreatedAt = now
		}
		repo.db.data.notifications = append(repo.db.data.notifications, ns[i])
	}
	return ns, nil
}

// QueryNotifications returns the newest notifications first.
func (repo *notificationRepository) QueryNotifications(_ context.Context, f notification.QueryFilter, _ ...core.DBExecutor) ([]notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ns := make([]notification.Notification, 0)
	all := repo.db.data.notifications
	for i := len(all) - 1; i >= 0; i-- {
		n := all[i]
		if n.UserID != f.UserID || (f.UnreadOnly && n.Read) {
			continue
		}
		ns = append(ns, n)
		if f.Limit > 0 && len(ns) == f.Limit {
			break
		}
	}
	return ns, nil
}

func (repo *notificationRepository) MarkRead(_ context.Context, userID string, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for i, notif := range repo.db.data.notifications {
		if notif.UserID != userID || notif.Read || (len(ids) > 0 && !contains(ids, notif.ID)) {
			continue
		}
		repo.db.data.notifications[i].Read = true
		n++
	}
	return n, nil
}

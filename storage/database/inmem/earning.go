package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
)

type earningRepository struct {
	db *DB
}

var _ earning.Repository = (*earningRepository)(nil)

func NewEarningRepository(db *DB) earning.Repository {
	return &earningRepository{db: db}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func (f filter) match(e earning.Earning) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, e.ID) {
		return false
	}
	if len(f.TeacherIDs) > 0 && !contains(f.TeacherIDs, e.TeacherID) {
		return false
	}
	if f.BookingID != "" && e.BookingID != f.BookingID {
		return false
	}
	if f.PayoutID != "" && e.PayoutID.String != f.PayoutID {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if e.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

type filter earning.QueryFilter

// sorted returns the earnings newest first, in release order within a booking. Callers hold the lock.
func (repo *earningRepository) sorted(f filter) []earning.Earning {
	earnings := make([]earning.Earning, 0)
	for _, e := range repo.db.data.earnings {
		if f.match(e) {
			earnings = append(earnings, e)
		}
	}
	sort.Slice(earnings, func(i, j int) bool {
		a, b := earnings[i], earnings[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.BookingID != b.BookingID {
			return a.BookingID < b.BookingID
		}
		return a.SessionsRequired < b.SessionsRequired
	})
	return earnings
}

func (repo *earningRepository) CreateEarnings(_ context.Context, earnings []earning.Earning, _ ...core.DBExecutor) ([]earning.Earning, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := core.NowFunc()
	for i, e := range earnings {
		for _, other := range repo.db.data.earnings {
			if other.BookingID == e.BookingID && other.SessionsRequired == e.SessionsRequired {
				return nil, errors.Errorf("duplicate earning for booking %s at %d sessions", e.BookingID, e.SessionsRequired)
			}
		}
		e.ID = uuid.New().String()
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		repo.db.data.earnings[e.ID] = e
		earnings[i] = e
	}
	return earnings, nil
}

func (repo *earningRepository) QueryEarnings(_ context.Context, f earning.QueryFilter, _ ...core.DBExecutor) ([]earning.Earning, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	earnings := repo.sorted(filter(f))
	for i, e := range earnings {
		b := repo.db.data.bookings[e.BookingID]
		earnings[i].GigTitle = repo.db.data.gigs[b.GigID].Title
	}
	return earnings, nil
}

func (repo *earningRepository) CountEarnings(_ context.Context, bookingID string, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return len(repo.sorted(filter{BookingID: bookingID})), nil
}

func (repo *earningRepository) SyncProgress(_ context.Context, bookingID string, completed int, at time.Time, _ ...core.DBExecutor) ([]earning.Earning, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	released := make([]earning.Earning, 0)
	for _, e := range repo.sorted(filter{BookingID: bookingID}) {
		e.SessionsCompleted = completed
		if e.Status == earning.StatusHeld && e.SessionsRequired <= completed {
			e.Status = earning.StatusReleased
			e.ReleasedAt = null.TimeFrom(at)
			released = append(released, e)
		}
		repo.db.data.earnings[e.ID] = e
	}
	return released, nil
}

func (repo *earningRepository) ClaimEarnings(_ context.Context, ids []string, teacherID, payoutID string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for _, e := range repo.sorted(filter{IDs: ids, TeacherIDs: []string{teacherID}, Statuses: []earning.Status{earning.StatusReleased}}) {
		e.Status = earning.StatusProcessing
		e.PayoutID = null.StringFrom(payoutID)
		repo.db.data.earnings[e.ID] = e
		n++
	}
	return n, nil
}

func (repo *earningRepository) SettleEarnings(_ context.Context, payoutID string, status earning.Status, at time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var f filter
	switch status {
	case earning.StatusPaid:
		f = filter{PayoutID: payoutID, Statuses: []earning.Status{earning.StatusProcessing}}
	case earning.StatusReleased:
		f = filter{PayoutID: payoutID, Statuses: []earning.Status{earning.StatusProcessing, earning.StatusPaid}}
	default:
		return 0, errors.Errorf("cannot settle earnings as %s", status)
	}

	var n int
	for _, e := range repo.sorted(f) {
		e.Status = status
		if status == earning.StatusPaid {
			e.PaidAt = null.TimeFrom(at)
		} else {
			e.PayoutID = null.String{}
			e.PaidAt = null.Time{}
		}
		repo.db.data.earnings[e.ID] = e
		n++
	}
	return n, nil
}

func (repo *earningRepository) CreatePayout(_ context.Context, p earning.Payout, _ ...core.DBExecutor) (earning.Payout, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, other := range repo.db.data.payouts {
		if other.Reference == p.Reference {
			return earning.Payout{}, errors.Errorf("duplicate payout reference %s", p.Reference)
		}
	}
	p.ID = uuid.New().String()
	p.EarningIDs = append([]string{}, p.EarningIDs...)
	repo.db.data.payouts[p.ID] = p
	return repo.withTeacher(p), nil
}

func (repo *earningRepository) withTeacher(p earning.Payout) earning.Payout {
	p.TeacherName = repo.db.data.users[p.TeacherID].FullName
	return p
}

func (repo *earningRepository) UpdatePayout(_ context.Context, p earning.Payout, _ ...core.DBExecutor) (earning.Payout, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.data.payouts[p.ID]
	if !ok {
		return earning.Payout{}, earning.ErrPayoutNotFound
	}
	orig.TransferCode = p.TransferCode
	orig.Status = p.Status
	orig.FailureReason = p.FailureReason
	orig.UpdatedAt = p.UpdatedAt
	repo.db.data.payouts[p.ID] = orig
	return repo.withTeacher(orig), nil
}

func (repo *earningRepository) GetPayout(_ context.Context, f earning.PayoutFilter, _ ...core.DBExecutor) (earning.Payout, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if f.ID == "" && f.Reference == "" && f.TransferCode == "" {
		return earning.Payout{}, earning.ErrPayoutNotFound
	}
	for _, p := range repo.db.data.payouts {
		switch {
		case f.ID != "" && p.ID == f.ID,
			f.ID == "" && f.Reference != "" && p.Reference == f.Reference,
			f.ID == "" && f.Reference == "" && p.TransferCode.String == f.TransferCode:
			return repo.withTeacher(p), nil
		}
	}
	return earning.Payout{}, earning.ErrPayoutNotFound
}

func (repo *earningRepository) QueryPayouts(_ context.Context, q earning.PayoutQuery, _ ...core.DBExecutor) ([]earning.Payout, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	all := make([]earning.Payout, 0)
	for _, p := range repo.db.data.payouts {
		if (q.TeacherID == "" || p.TeacherID == q.TeacherID) && (q.Status == "" || p.Status == q.Status) {
			all = append(all, repo.withTeacher(p))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].Reference > all[j].Reference
	})

	total := len(all)
	start := q.Page.Offset()
	if start > total {
		start = total
	}
	end := start + q.Page.Size
	if q.Page.Size <= 0 || end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (repo *earningRepository) SummarizePayouts(_ context.Context, _ ...core.DBExecutor) (earning.PayoutSummary, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var s earning.PayoutSummary
	for _, p := range repo.db.data.payouts {
		s.TotalPayouts++
		s.TotalAmount += p.Amount
		switch p.Status {
		case earning.PayoutPending:
			s.Pending++
		case earning.PayoutSuccess:
			s.Success++
		case earning.PayoutFailed:
			s.Failed++
		}
	}
	return s, nil
}

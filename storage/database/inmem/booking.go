package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
)

type bookingRepository struct {
	db *DB
}

var _ booking.Repository = (*bookingRepository)(nil)

func NewBookingRepository(db *DB) booking.Repository {
	return &bookingRepository{db: db}
}

// join fills the gig and student name of b. Callers hold the lock.
func (repo *bookingRepository) join(b booking.Booking) booking.Booking {
	b.Gig = repo.db.data.gigs[b.GigID]
	b.StudentName = ""
	if b.StudentID.Valid {
		b.StudentName = repo.db.data.students[b.StudentID.String].FullName
	}
	b.Sessions = nil
	return b
}

func (repo *bookingRepository) GetGig(_ context.Context, id string, _ ...core.DBExecutor) (booking.Gig, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if g, ok := repo.db.data.gigs[id]; ok {
		return g, nil
	}
	return booking.Gig{}, booking.ErrGigNotFound
}

func (repo *bookingRepository) GetStudent(_ context.Context, id string, _ ...core.DBExecutor) (booking.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if s, ok := repo.db.data.students[id]; ok {
		return s, nil
	}
	return booking.Student{}, booking.ErrStudentNotFound
}

func (repo *bookingRepository) CreateBooking(_ context.Context, b booking.Booking, _ ...core.DBExecutor) (booking.Booking, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	b.ID = uuid.New().String()
	sessions := make([]booking.Session, 0, len(b.Sessions))
	for _, s := range b.Sessions {
		s.ID = uuid.New().String()
		s.BookingID = b.ID
		repo.db.data.sessions[s.ID] = s
		sessions = append(sessions, s)
	}
	repo.db.data.bookings[b.ID] = b
	b = repo.join(b)
	b.Sessions = sessions
	return b, nil
}

func (repo *bookingRepository) GetBooking(_ context.Context, filter booking.GetFilter, _ ...core.DBExecutor) (booking.Booking, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if b, ok := repo.db.data.bookings[filter.ID]; ok {
		return repo.join(b), nil
	}
	return booking.Booking{}, booking.ErrNotFound
}

func (repo *bookingRepository) UpdateBooking(_ context.Context, b booking.Booking, _ ...core.DBExecutor) (booking.Booking, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.data.bookings[b.ID]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	// only save mutable fields
	orig.Status = b.Status
	orig.PaymentStatus = b.PaymentStatus
	orig.PaymentType = b.PaymentType
	orig.TotalAmount = b.TotalAmount
	orig.AmountPaid = b.AmountPaid
	orig.TeacherAmount = b.TeacherAmount
	orig.CompanyAmount = b.CompanyAmount
	orig.PaymentReference = b.PaymentReference
	orig.PaidAt = b.PaidAt
	orig.Notes = b.Notes
	orig.UpdatedAt = b.UpdatedAt
	repo.db.data.bookings[b.ID] = orig
	return b, nil
}

func (repo *bookingRepository) QuerySessions(_ context.Context, bookingID string, _ ...core.DBExecutor) ([]booking.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]booking.Session, 0)
	for _, s := range repo.db.data.sessions {
		if s.BookingID == bookingID {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].SessionNumber < sessions[j].SessionNumber })
	return sessions, nil
}

func (repo *bookingRepository) GetSession(_ context.Context, id string, _ ...core.DBExecutor) (booking.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if s, ok := repo.db.data.sessions[id]; ok {
		return s, nil
	}
	return booking.Session{}, booking.ErrSessionNotFound
}

func (repo *bookingRepository) UpdateSession(_ context.Context, s booking.Session, _ ...core.DBExecutor) (booking.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.data.sessions[s.ID]; !ok {
		return booking.Session{}, booking.ErrSessionNotFound
	}
	repo.db.data.sessions[s.ID] = s
	return s, nil
}

func (repo *bookingRepository) ScheduleSessions(_ context.Context, bookingID string, at time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for id, s := range repo.db.data.sessions {
		if s.BookingID == bookingID && s.Status == booking.SessionPending {
			s.Status = booking.SessionScheduled
			s.UpdatedAt = at
			repo.db.data.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (repo *bookingRepository) CountSessions(_ context.Context, bookingID string, status booking.SessionStatus, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, s := range repo.db.data.sessions {
		if s.BookingID == bookingID && s.Status == status {
			n++
		}
	}
	return n, nil
}

func (repo *bookingRepository) DueReminders(_ context.Context, from, to time.Time, _ ...core.DBExecutor) ([]booking.Reminder, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	loc := from.Location()
	reminders := make([]booking.Reminder, 0)
	for _, s := range repo.db.data.sessions {
		if s.Status != booking.SessionScheduled || s.ReminderSentAt.Valid {
			continue
		}
		startsAt, err := s.StartsAt(loc)
		if err != nil || startsAt.Before(from) || startsAt.After(to) {
			continue
		}
		b := repo.join(repo.db.data.bookings[s.BookingID])
		reminders = append(reminders, booking.Reminder{
			Session:     s,
			ParentID:    b.ParentID,
			TeacherID:   b.Gig.TeacherID,
			GigTitle:    b.Gig.Title,
			StudentName: b.StudentName,
		})
	}
	sort.Slice(reminders, func(i, j int) bool {
		a, b := reminders[i], reminders[j]
		return a.SessionDate+a.SessionTime < b.SessionDate+b.SessionTime
	})
	return reminders, nil
}

func (repo *bookingRepository) MarkReminded(_ context.Context, sessionID string, at time.Time, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	s, ok := repo.db.data.sessions[sessionID]
	if !ok {
		return booking.ErrSessionNotFound
	}
	s.ReminderSentAt.SetValid(at)
	s.UpdatedAt = at
	repo.db.data.sessions[sessionID] = s
	return nil
}

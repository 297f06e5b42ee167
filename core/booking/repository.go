package booking

import (
	"context"
	"time"

	"github.com/steamspark/spark/core"
)

var (
	ErrNotFound        = core.NewNotFoundError("booking")
	ErrSessionNotFound = core.NewNotFoundError("session")
	ErrGigNotFound     = core.NewNotFoundError("gig")
	ErrStudentNotFound = core.NewNotFoundError("student")
)

type (
	GetFilter struct {
		ID        string
		ForUpdate bool // lock the booking row until the end of the transaction
	}

	Student struct {
		ID       string `json:"id" db:"id"`
		ParentID string `json:"parent_id" db:"parent_id"`
		FullName string `json:"full_name" db:"full_name"`
	}

	Repository interface {
		GetGig(ctx context.Context, id string, exec ...core.DBExecutor) (Gig, error)
		GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (Student, error)

		// CreateBooking inserts the booking and its sessions.
		CreateBooking(ctx context.Context, b Booking, exec ...core.DBExecutor) (Booking, error)
		GetBooking(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Booking, error)
		UpdateBooking(ctx context.Context, b Booking, exec ...core.DBExecutor) (Booking, error)

		QuerySessions(ctx context.Context, bookingID string, exec ...core.DBExecutor) ([]Session, error)
		GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (Session, error)
		UpdateSession(ctx context.Context, s Session, exec ...core.DBExecutor) (Session, error)
		// ScheduleSessions moves the pending sessions of a booking to scheduled.
		ScheduleSessions(ctx context.Context, bookingID string, at time.Time, exec ...core.DBExecutor) (int, error)
		CountSessions(ctx context.Context, bookingID string, status SessionStatus, exec ...core.DBExecutor) (int, error)

		// DueReminders returns the scheduled sessions not reminded yet that start within [from, to].
		// Session dates and times are wall clock times in the location of from.
		DueReminders(ctx context.Context, from, to time.Time, exec ...core.DBExecutor) ([]Reminder, error)
		MarkReminded(ctx context.Context, sessionID string, at time.Time, exec ...core.DBExecutor) error
	}
)

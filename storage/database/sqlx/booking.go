package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
)

const (
	bookingSelect = `
		SELECT b.id, b.parent_id, b.student_id, b.gig_id, b.status, b.payment_status, b.payment_type,
			b.total_sessions, b.total_amount, b.amount_paid, b.teacher_amount, b.company_amount,
			b.payment_reference, b.paid_at, b.notes, b.created_at, b.updated_at,
			g.id AS "gig.id", g.teacher_id AS "gig.teacher_id", g.title AS "gig.title",
			g.price_per_session AS "gig.price_per_session",
			COALESCE(st.full_name, '') AS student_name
		FROM bookings b
		JOIN gigs g ON g.id = b.gig_id
		LEFT JOIN students st ON st.id = b.student_id`

	sessionColumns = `s.id, s.booking_id, s.session_number, to_char(s.session_date, 'YYYY-MM-DD') AS session_date,
		s.session_time, s.status, s.reminder_sent_at, s.completed_at, s.created_at, s.updated_at`

	wallClockLayout = "2006-01-02 15:04:05"
)

type bookingRepository struct {
	repository
}

var _ booking.Repository = (*bookingRepository)(nil) // interface compliance check

func NewBookingRepository(db *sqlx.DB) booking.Repository {
	return &bookingRepository{repository{db: db}}
}

func (repo bookingRepository) GetGig(ctx context.Context, id string, exec ...core.DBExecutor) (booking.Gig, error) {
	var gig booking.Gig
	err := sqlx.GetContext(ctx, repo.getExec(exec), &gig,
		"SELECT id, teacher_id, title, price_per_session FROM gigs WHERE id = $1", id)
	if err != nil {
		return booking.Gig{}, trapNoRowsErr(err, booking.ErrGigNotFound, "getting gig")
	}
	return gig, nil
}

func (repo bookingRepository) GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (booking.Student, error) {
	var st booking.Student
	err := sqlx.GetContext(ctx, repo.getExec(exec), &st,
		"SELECT id, parent_id, full_name FROM students WHERE id = $1", id)
	if err != nil {
		return booking.Student{}, trapNoRowsErr(err, booking.ErrStudentNotFound, "getting student")
	}
	return st, nil
}

func (repo bookingRepository) CreateBooking(ctx context.Context, b booking.Booking, exec ...core.DBExecutor) (booking.Booking, error) {
	b.ID = uuid.New().String()
	for i := range b.Sessions {
		b.Sessions[i].ID = uuid.New().String()
		b.Sessions[i].BookingID = b.ID
	}

	err := repo.inTx(ctx, exec, func(e sqlx.ExtContext) error {
		_, err := sqlx.NamedExecContext(ctx, e, `
			INSERT INTO bookings (id, parent_id, student_id, gig_id, status, payment_status, payment_type,
				total_sessions, total_amount, amount_paid, teacher_amount, company_amount, payment_reference,
				paid_at, notes, created_at, updated_at)
			VALUES (:id, :parent_id, :student_id, :gig_id, :status, :payment_status, :payment_type,
				:total_sessions, :total_amount, :amount_paid, :teacher_amount, :company_amount, :payment_reference,
				:paid_at, :notes, :created_at, :updated_at)`, b)
		if err != nil {
			return errors.Wrap(err, "inserting booking")
		}
		if len(b.Sessions) == 0 {
			return nil
		}
		_, err = sqlx.NamedExecContext(ctx, e, `
			INSERT INTO booking_sessions (id, booking_id, session_number, session_date, session_time, status,
				created_at, updated_at)
			VALUES (:id, :booking_id, :session_number, :session_date, :session_time, :status,
				:created_at, :updated_at)`, b.Sessions)
		return errors.Wrap(err, "inserting sessions")
	})
	if err != nil {
		return booking.Booking{}, err
	}
	return b, nil
}

func (repo bookingRepository) GetBooking(ctx context.Context, filter booking.GetFilter, exec ...core.DBExecutor) (booking.Booking, error) {
	q := bookingSelect + " WHERE b.id = $1"
	if filter.ForUpdate {
		q += " FOR UPDATE OF b"
	}
	var b booking.Booking
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &b, q, filter.ID); err != nil {
		return booking.Booking{}, trapNoRowsErr(err, booking.ErrNotFound, "getting booking")
	}
	return b, nil
}

func (repo bookingRepository) UpdateBooking(ctx context.Context, b booking.Booking, exec ...core.DBExecutor) (booking.Booking, error) {
	n, err := rowsAffected(sqlx.NamedExecContext(ctx, repo.getExec(exec), `
		UPDATE bookings SET
			status = :status, payment_status = :payment_status, payment_type = :payment_type,
			total_amount = :total_amount, amount_paid = :amount_paid, teacher_amount = :teacher_amount,
			company_amount = :company_amount, payment_reference = :payment_reference, paid_at = :paid_at,
			notes = :notes, updated_at = :updated_at
		WHERE id = :id`, b))
	if err != nil {
		return booking.Booking{}, errors.Wrap(err, "updating booking")
	}
	if n == 0 {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

func (repo bookingRepository) QuerySessions(ctx context.Context, bookingID string, exec ...core.DBExecutor) ([]booking.Session, error) {
	sessions := make([]booking.Session, 0)
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &sessions,
		"SELECT "+sessionColumns+" FROM booking_sessions s WHERE s.booking_id = $1 ORDER BY s.session_number", bookingID)
	return sessions, errors.Wrap(err, "querying sessions")
}

func (repo bookingRepository) GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (booking.Session, error) {
	var s booking.Session
	err := sqlx.GetContext(ctx, repo.getExec(exec), &s,
		"SELECT "+sessionColumns+" FROM booking_sessions s WHERE s.id = $1", id)
	if err != nil {
		return booking.Session{}, trapNoRowsErr(err, booking.ErrSessionNotFound, "getting session")
	}
	return s, nil
}

func (repo bookingRepository) UpdateSession(ctx context.Context, s booking.Session, exec ...core.DBExecutor) (booking.Session, error) {
	n, err := rowsAffected(sqlx.NamedExecContext(ctx, repo.getExec(exec), `
		UPDATE booking_sessions SET
			session_date = :session_date, session_time = :session_time, status = :status,
			reminder_sent_at = :reminder_sent_at, completed_at = :completed_at, updated_at = :updated_at
		WHERE id = :id`, s))
	if err != nil {
		return booking.Session{}, errors.Wrap(err, "updating session")
	}
	if n == 0 {
		return booking.Session{}, booking.ErrSessionNotFound
	}
	return s, nil
}

func (repo bookingRepository) ScheduleSessions(ctx context.Context, bookingID string, at time.Time, exec ...core.DBExecutor) (int, error) {
	n, err := rowsAffected(repo.getExec(exec).ExecContext(ctx, `
		UPDATE booking_sessions SET status = $3, updated_at = $4
		WHERE booking_id = $1 AND status = $2`,
		bookingID, booking.SessionPending, booking.SessionScheduled, at))
	return n, errors.Wrap(err, "scheduling sessions")
}

func (repo bookingRepository) CountSessions(ctx context.Context, bookingID string, status booking.SessionStatus, exec ...core.DBExecutor) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, repo.getExec(exec), &n,
		"SELECT count(*) FROM booking_sessions WHERE booking_id = $1 AND status = $2", bookingID, status)
	return n, errors.Wrap(err, "counting sessions")
}

func (repo bookingRepository) DueReminders(ctx context.Context, from, to time.Time, exec ...core.DBExecutor) ([]booking.Reminder, error) {
	to = to.In(from.Location())
	reminders := make([]booking.Reminder, 0)
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &reminders, `
		SELECT `+sessionColumns+`, b.parent_id, g.teacher_id, g.title AS gig_title,
			COALESCE(st.full_name, '') AS student_name
		FROM booking_sessions s
		JOIN bookings b ON b.id = s.booking_id
		JOIN gigs g ON g.id = b.gig_id
		LEFT JOIN students st ON st.id = b.student_id
		WHERE s.status = $1 AND s.reminder_sent_at IS NULL
			AND (s.session_date + s.session_time::time) BETWEEN $2::timestamp AND $3::timestamp
		ORDER BY s.session_date, s.session_time`,
		booking.SessionScheduled, from.Format(wallClockLayout), to.Format(wallClockLayout))
	return reminders, errors.Wrap(err, "querying due reminders")
}

func (repo bookingRepository) MarkReminded(ctx context.Context, sessionID string, at time.Time, exec ...core.DBExecutor) error {
	n, err := rowsAffected(repo.getExec(exec).ExecContext(ctx,
		"UPDATE booking_sessions SET reminder_sent_at = $2, updated_at = $2 WHERE id = $1", sessionID, at))
	if err != nil {
		return errors.Wrap(err, "marking session reminded")
	}
	if n == 0 {
		return booking.ErrSessionNotFound
	}
	return nil
}

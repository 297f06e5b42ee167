package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/user"
)

var (
	ErrNotConfirmed        = core.NewConflictError("booking is not confirmed")
	ErrSessionNotScheduled = core.NewConflictError("session is not scheduled")
	errNotBookingTeacher   = core.NewPermissionError("only the teacher of this booking can do this")
	errNotParent           = core.NewPermissionError("only parents can book sessions")
	errNoAccess            = core.NewPermissionError("permission denied")
)

type (
	Service interface {
		Create(ctx context.Context, parent user.User, nb NewBooking) (Booking, error)
		Get(ctx context.Context, viewer user.User, id string) (Booking, error)
		Accept(ctx context.Context, teacher user.User, id string) (Booking, error)
		Decline(ctx context.Context, teacher user.User, id, reason string) (Booking, error)
		CompleteSession(ctx context.Context, teacher user.User, sessionID string) (Session, error)
		// SendReminders reminds the participants of the sessions starting within the reminder lead.
		SendReminders(ctx context.Context, now time.Time) (int, error)
	}

	service struct {
		conf     *core.Config
		tx       core.Transactor
		repo     Repository
		usrRepo  user.Repository
		earnRepo earning.Repository
		notifier notification.Service
		logger   core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	conf *core.Config,
	tx core.Transactor,
	repo Repository,
	usrRepo user.Repository,
	earnRepo earning.Repository,
	notifier notification.Service,
	logger core.Logger,
) Service {
	return &service{
		conf:     conf,
		tx:       tx,
		repo:     repo,
		usrRepo:  usrRepo,
		earnRepo: earnRepo,
		notifier: notifier,
		logger:   logger,
	}
}

func (svc *service) Create(ctx context.Context, parent user.User, nb NewBooking) (Booking, error) {
	if !parent.IsParent() {
		return Booking{}, errNotParent
	}
	nb.clean()

	gig, err := svc.repo.GetGig(ctx, nb.GigID)
	if err != nil {
		return Booking{}, err
	}
	var student Student
	if nb.StudentID != "" {
		if student, err = svc.repo.GetStudent(ctx, nb.StudentID); err != nil {
			return Booking{}, err
		}
		if student.ParentID != parent.ID {
			return Booking{}, ErrStudentNotFound
		}
	}

	now := core.NowFunc()
	quote := NewQuote(gig.PricePerSession, len(nb.Sessions))
	b := Booking{
		ParentID:      parent.ID,
		StudentID:     null.NewString(student.ID, student.ID != ""),
		GigID:         gig.ID,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		TotalSessions: len(nb.Sessions),
		TotalAmount:   quote.ParentTotal,
		TeacherAmount: quote.TeacherTotal,
		CompanyAmount: quote.CompanyAmount,
		Notes:         nb.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
		Gig:           gig,
		StudentName:   student.FullName,
	}
	for i, ns := range nb.Sessions {
		b.Sessions = append(b.Sessions, Session{
			SessionNumber: i + 1,
			SessionDate:   ns.Date,
			SessionTime:   ns.Time,
			Status:        SessionPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if b, err = svc.repo.CreateBooking(ctx, b); err != nil {
		return Booking{}, errors.Wrap(err, "creating booking")
	}
	svc.notifyEnrollment(ctx, parent, b)
	return b, nil
}

func (svc *service) notifyEnrollment(ctx context.Context, parent user.User, b Booking) {
	teacher, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: b.Gig.TeacherID})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("getting teacher of booking %s: %v", b.ID, err), err)
		return
	}
	studentName := core.FirstNonEmpty(b.StudentName, "A student")
	parentName := parent.DisplayName("Unknown")
	svc.dispatch(ctx, notification.Delivery{
		Recipient: teacher,
		InApp: notification.New(
			teacher.ID, notification.TypeNewEnrollment, "New Enrollment Request",
			fmt.Sprintf("%s has requested to enroll in \"%s\". Parent: %s. Please review and approve.",
				studentName, b.Gig.Title, parentName),
			"/teacher/students?filter=pending",
		),
		Email: core.NewEmailMessage(teacher.MailAddress(), "New Enrollment Request: "+b.Gig.Title, "new_enrollment", map[string]interface{}{
			"TeacherName": teacher.DisplayName("Teacher"),
			"StudentName": studentName,
			"GigTitle":    b.Gig.Title,
			"Sessions":    b.TotalSessions,
			"ParentName":  parentName,
		}),
	})
}

func (svc *service) Get(ctx context.Context, viewer user.User, id string) (Booking, error) {
	b, err := svc.repo.GetBooking(ctx, GetFilter{ID: id})
	if err != nil {
		return Booking{}, err
	}
	if !b.IsParticipant(viewer.ID) && !viewer.IsAdmin() {
		return Booking{}, errNoAccess
	}
	if b.Sessions, err = svc.repo.QuerySessions(ctx, b.ID); err != nil {
		return Booking{}, errors.Wrap(err, "querying sessions")
	}
	return b, nil
}

// respond applies a teacher's decision on a pending booking.
func (svc *service) respond(ctx context.Context, teacher user.User, id string, to Status) (Booking, error) {
	var b Booking
	err := svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if b, err = svc.repo.GetBooking(ctx, GetFilter{ID: id, ForUpdate: true}, exec); err != nil {
			return err
		}
		if b.Gig.TeacherID != teacher.ID {
			return errNotBookingTeacher
		}
		if b.Status != StatusPending {
			return errors.Wrapf(ErrInvalidTransition, "%s -> %s", b.Status, to)
		}
		if err = b.Transition(to); err != nil {
			return err
		}
		b, err = svc.repo.UpdateBooking(ctx, b, exec)
		return errors.Wrap(err, "updating booking")
	})
	return b, err
}

func (svc *service) Accept(ctx context.Context, teacher user.User, id string) (Booking, error) {
	b, err := svc.respond(ctx, teacher, id, StatusAccepted)
	if err != nil {
		return Booking{}, err
	}

	parent, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: b.ParentID})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("getting parent of booking %s: %v", b.ID, err), err)
		return b, nil
	}
	teacherName := teacher.DisplayName("The teacher")
	studentName := core.FirstNonEmpty(b.StudentName, "your child")
	paymentPath := fmt.Sprintf("/parent/booking/%s/payment", b.ID)
	svc.dispatch(ctx, notification.Delivery{
		Recipient: parent,
		InApp: notification.New(
			parent.ID, notification.TypeBookingAccepted, "Booking Accepted! 🎉",
			fmt.Sprintf("%s has accepted your booking for %s in \"%s\". Please complete payment to confirm.",
				teacherName, studentName, b.Gig.Title),
			paymentPath,
		),
		Email: core.NewEmailMessage(parent.MailAddress(), "Booking Accepted: "+b.Gig.Title, "booking_accepted", map[string]interface{}{
			"ParentName":  parent.DisplayName("Parent"),
			"TeacherName": teacherName,
			"StudentName": studentName,
			"GigTitle":    b.Gig.Title,
			"PaymentLink": svc.conf.AppURL + paymentPath,
		}),
		WhatsApp: &notification.WhatsAppMessage{
			Template: notification.TemplateBookingAccepted,
			Vars: notification.Vars{
				"gigTitle":    b.Gig.Title,
				"teacherName": teacherName,
				"paymentLink": svc.conf.AppURL + paymentPath,
			},
		},
	})
	return b, nil
}

func (svc *service) Decline(ctx context.Context, teacher user.User, id, reason string) (Booking, error) {
	b, err := svc.respond(ctx, teacher, id, StatusCancelled)
	if err != nil {
		return Booking{}, err
	}

	parent, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: b.ParentID})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("getting parent of booking %s: %v", b.ID, err), err)
		return b, nil
	}
	reason = core.CleanString(reason)
	teacherName := teacher.DisplayName("The teacher")
	msg := fmt.Sprintf("%s could not take your booking for \"%s\".", teacherName, b.Gig.Title)
	if reason != "" {
		msg += " Reason: " + reason
	}
	svc.dispatch(ctx, notification.Delivery{
		Recipient: parent,
		InApp:     notification.New(parent.ID, notification.TypeBookingDeclined, "Booking Declined", msg, "/parent/tutors"),
		Email: core.NewEmailMessage(parent.MailAddress(), "Booking Declined: "+b.Gig.Title, "booking_declined", map[string]interface{}{
			"ParentName":  parent.DisplayName("Parent"),
			"TeacherName": teacherName,
			"GigTitle":    b.Gig.Title,
			"Reason":      reason,
		}),
	})
	return b, nil
}

func (svc *service) CompleteSession(ctx context.Context, teacher user.User, sessionID string) (Session, error) {
	var (
		sess      Session
		b         Booking
		released  []earning.Earning
		completed int
		done      bool // already completed before this call
	)
	err := svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if sess, err = svc.repo.GetSession(ctx, sessionID, exec); err != nil {
			return err
		}
		if b, err = svc.repo.GetBooking(ctx, GetFilter{ID: sess.BookingID, ForUpdate: true}, exec); err != nil {
			return err
		}
		if b.Gig.TeacherID != teacher.ID && !teacher.IsAdmin() {
			return errNotBookingTeacher
		}
		if sess.Status == SessionCompleted {
			done = true
			return nil
		}
		if b.Status != StatusConfirmed {
			return ErrNotConfirmed
		}
		if sess.Status != SessionScheduled {
			return ErrSessionNotScheduled
		}

		now := core.NowFunc()
		sess.Status = SessionCompleted
		sess.CompletedAt = null.TimeFrom(now)
		sess.UpdatedAt = now
		if sess, err = svc.repo.UpdateSession(ctx, sess, exec); err != nil {
			return errors.Wrap(err, "updating session")
		}

		if completed, err = svc.repo.CountSessions(ctx, b.ID, SessionCompleted, exec); err != nil {
			return errors.Wrap(err, "counting completed sessions")
		}
		if released, err = svc.earnRepo.SyncProgress(ctx, b.ID, completed, now, exec); err != nil {
			return errors.Wrap(err, "syncing earnings")
		}

		if completed >= b.TotalSessions {
			if err = b.Transition(StatusCompleted); err != nil {
				return err
			}
			if b, err = svc.repo.UpdateBooking(ctx, b, exec); err != nil {
				return errors.Wrap(err, "completing booking")
			}
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	if !done {
		svc.notifyCompletion(ctx, teacher, b, sess, released)
	}
	return sess, nil
}

func (svc *service) notifyCompletion(ctx context.Context, teacher user.User, b Booking, sess Session, released []earning.Earning) {
	deliveries := []notification.Delivery{{
		Recipient: user.User{ID: b.ParentID},
		InApp: notification.New(
			b.ParentID, notification.TypeSessionCompleted, "Session Completed",
			fmt.Sprintf("Session %d of %d of \"%s\" has been completed.", sess.SessionNumber, b.TotalSessions, b.Gig.Title),
			"/parent/sessions/"+sess.ID,
		),
	}}
	if len(released) > 0 {
		deliveries = append(deliveries, notification.Delivery{
			Recipient: user.User{ID: b.Gig.TeacherID},
			InApp: notification.New(
				b.Gig.TeacherID, notification.TypeEarningsReleased, "Earnings Released 💰",
				fmt.Sprintf("%s from \"%s\" is now available for payout.", earning.Total(released), b.Gig.Title),
				"/teacher/earnings",
			),
		})
	}
	svc.dispatch(ctx, deliveries...)
}

func (svc *service) SendReminders(ctx context.Context, now time.Time) (int, error) {
	loc := svc.conf.Location()
	lead := svc.conf.Scheduler.ReminderLead
	if lead <= 0 {
		lead = time.Hour
	}
	from := now.In(loc)
	reminders, err := svc.repo.DueReminders(ctx, from, from.Add(lead))
	if err != nil {
		return 0, errors.Wrap(err, "querying due reminders")
	}

	var sent int
	for _, r := range reminders {
		if err := svc.remind(ctx, r); err != nil {
			svc.logger.Error(fmt.Sprintf("session %s reminder: %v", r.ID, err), err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (svc *service) remind(ctx context.Context, r Reminder) error {
	// marked before sending so a session is reminded at most once
	if err := svc.repo.MarkReminded(ctx, r.ID, core.NowFunc()); err != nil {
		return errors.Wrap(err, "marking session reminded")
	}

	studentName := core.FirstNonEmpty(r.StudentName, "your student")
	deliveries := []notification.Delivery{{
		Recipient: user.User{ID: r.ParentID},
		InApp: notification.New(
			r.ParentID, notification.TypeSessionReminder, "Session Reminder ⏰",
			fmt.Sprintf("Session %d of \"%s\" starts at %s.", r.SessionNumber, r.GigTitle, r.SessionTime),
			"/parent/sessions/"+r.ID,
		),
	}}
	if teacher, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: r.TeacherID}); err == nil {
		deliveries = append(deliveries, notification.Delivery{
			Recipient: teacher,
			WhatsApp: &notification.WhatsAppMessage{
				Template: notification.TemplateSessionReminder,
				Vars: notification.Vars{
					"gigTitle":    r.GigTitle,
					"studentName": studentName,
					"time":        r.SessionTime,
				},
			},
		})
	} else {
		svc.logger.Warn(fmt.Sprintf("getting teacher %s: %v", r.TeacherID, err), err)
	}
	svc.dispatch(ctx, deliveries...)
	return nil
}

// dispatch sends deliveries best effort.
func (svc *service) dispatch(ctx context.Context, deliveries ...notification.Delivery) {
	if errs := svc.notifier.Dispatch(ctx, deliveries...); len(errs) > 0 {
		svc.logger.Warn(fmt.Sprintf("%d booking notification(s) not delivered", len(errs)), errs[0])
	}
}

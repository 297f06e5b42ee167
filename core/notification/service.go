package notification

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/user"
)

const listLimit = 100

type (
	QueryFilter struct {
		UserID     string
		UnreadOnly bool
		Limit      int
	}

	Repository interface {
		CreateNotifications(ctx context.Context, ns []Notification, exec ...core.DBExecutor) ([]Notification, error)
		QueryNotifications(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Notification, error)
		MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error)
	}

	// Alerter pages the operators. Used when a side effect could not be completed automatically.
	Alerter interface {
		Alert(ctx context.Context, text string) error
	}

	// Delivery is one notification to one user over any of the available channels.
	Delivery struct {
		Recipient user.User
		InApp     *Notification
		Email     *core.EmailMessage
		WhatsApp  *WhatsAppMessage
	}

	Service interface {
		Notify(ctx context.Context, ns ...*Notification) error
		List(ctx context.Context, usr user.User, unreadOnly bool) ([]Notification, error)
		MarkRead(ctx context.Context, usr user.User, ids []string) (int, error)
		SendWhatsApp(ctx context.Context, to string, msg WhatsAppMessage) (WhatsAppReceipt, error)
		// Dispatch sends every channel of every delivery independently and returns the failures.
		Dispatch(ctx context.Context, deliveries ...Delivery) []error
		Alert(ctx context.Context, text string)
	}

	service struct {
		repo     Repository
		mailSvc  core.EmailService
		whatsApp WhatsAppSender
		alerter  Alerter
		logger   core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	mailSvc core.EmailService,
	whatsApp WhatsAppSender,
	alerter Alerter,
	logger core.Logger,
) Service {
	return &service{
		repo:     repo,
		mailSvc:  mailSvc,
		whatsApp: whatsApp,
		alerter:  alerter,
		logger:   logger,
	}
}

func (svc *service) Notify(ctx context.Context, ns ...*Notification) error {
	if len(ns) == 0 {
		return nil
	}
	rows := make([]Notification, 0, len(ns))
	for _, n := range ns {
		rows = append(rows, *n)
	}
	_, err := svc.repo.CreateNotifications(ctx, rows)
	return errors.Wrap(err, "creating notifications")
}

func (svc *service) List(ctx context.Context, usr user.User, unreadOnly bool) ([]Notification, error) {
	ns, err := svc.repo.QueryNotifications(ctx, QueryFilter{UserID: usr.ID, UnreadOnly: unreadOnly, Limit: listLimit})
	return ns, errors.Wrap(err, "querying notifications")
}

func (svc *service) MarkRead(ctx context.Context, usr user.User, ids []string) (int, error) {
	cnt, err := svc.repo.MarkRead(ctx, usr.ID, ids)
	return cnt, errors.Wrap(err, "marking notifications read")
}

func (svc *service) SendWhatsApp(ctx context.Context, to string, msg WhatsAppMessage) (WhatsAppReceipt, error) {
	if svc.whatsApp == nil {
		return WhatsAppReceipt{}, ErrWhatsAppUnavailable
	}
	body, err := msg.Render()
	if err != nil {
		return WhatsAppReceipt{}, err
	}
	receipt, err := svc.whatsApp.SendWhatsApp(WhatsAppAddress(to), body)
	if err != nil {
		return WhatsAppReceipt{}, errors.Wrap(err, "sending WhatsApp message")
	}
	svc.logger.Info(fmt.Sprintf("WhatsApp message sent: %s to %s", receipt.SID, to))
	return receipt, nil
}

func (svc *service) Dispatch(ctx context.Context, deliveries ...Delivery) []error {
	var errs []error
	fail := func(err error, msg string) {
		err = errors.Wrap(err, msg)
		svc.logger.Error(err.Error(), err)
		errs = append(errs, err)
	}

	for _, d := range deliveries {
		rcpt := d.Recipient

		if d.InApp != nil {
			if d.InApp.UserID == "" {
				d.InApp.UserID = rcpt.ID
			}
			if err := svc.Notify(ctx, d.InApp); err != nil {
				fail(err, fmt.Sprintf("in-app %s notification to %s", d.InApp.Type, rcpt.ID))
			}
		}

		if d.Email != nil && svc.mailSvc != nil {
			if !d.Email.HasRecipients() && rcpt.Email != "" {
				d.Email.To = append(d.Email.To, rcpt.MailAddress())
			}
			if d.Email.HasRecipients() {
				// rendered here so template errors are reported with the other channels
				if err := d.Email.Render(); err != nil {
					fail(err, fmt.Sprintf("email %s to %s", d.Email.TemplateName, rcpt.ID))
				} else {
					svc.mailSvc.SendMessages(d.Email)
				}
			}
		}

		// WhatsApp is optional: without a sender the channel is skipped
		if d.WhatsApp != nil && svc.whatsApp != nil {
			if number, ok := rcpt.WhatsAppNumber(); ok {
				if _, err := svc.SendWhatsApp(ctx, number, *d.WhatsApp); err != nil {
					fail(err, fmt.Sprintf("WhatsApp %s message to %s", d.WhatsApp.Template, rcpt.ID))
				}
			}
		}
	}
	return errs
}

func (svc *service) Alert(ctx context.Context, text string) {
	if svc.alerter == nil {
		svc.logger.Warn("admin alert: " + text)
		return
	}
	if err := svc.alerter.Alert(ctx, text); err != nil {
		svc.logger.Error(fmt.Sprintf("sending admin alert: %v", err), err, map[string]interface{}{"alert": text})
	}
}

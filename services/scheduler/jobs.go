package schedulersvc

import (
	"context"
	"fmt"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
	"github.com/steamspark/spark/core/payment"
)

// RegisterJobs schedules the session reminders and the pending payment reconciliation.
func RegisterJobs(s *Scheduler, conf *core.Config, bookingSvc booking.Service, paymentSvc payment.Service) error {
	err := s.Register(conf.Scheduler.RemindersSpec, "session-reminders", func(ctx context.Context) error {
		sent, err := bookingSvc.SendReminders(ctx, core.NowFunc())
		if sent > 0 {
			s.logger.Info(fmt.Sprintf("sent %d session reminders", sent))
		}
		return err
	})
	if err != nil {
		return err
	}

	return s.Register(conf.Scheduler.ReconciliationSpec, "payment-reconciliation", func(ctx context.Context) error {
		n, err := paymentSvc.ReconcilePending(ctx, conf.Scheduler.ReconcileAfter)
		if n > 0 {
			s.logger.Info(fmt.Sprintf("reconciled %d pending payments", n))
		}
		return err
	})
}

package di

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/steamspark/spark/apps/api/echo"
	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/messaging"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/payment"
	"github.com/steamspark/spark/core/user"
	alertsvc "github.com/steamspark/spark/services/alert"
	emailsvc "github.com/steamspark/spark/services/email"
	logsvc "github.com/steamspark/spark/services/logger"
	"github.com/steamspark/spark/services/paystack"
	schedulersvc "github.com/steamspark/spark/services/scheduler"
	whatsappsvc "github.com/steamspark/spark/services/whatsapp"
	"github.com/steamspark/spark/storage/database"
	sqlxrepos "github.com/steamspark/spark/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(logsvc.NewLogrus(conf, os.Stdout), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	lg := logsvc.NewLogrus(conf, os.Stdout)
	lg.SetReportCaller(true)
	logger := logsvc.NewRollbarLogger(lg, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// newWhatsAppSender returns nil when Twilio is not configured outside of debug mode;
// WhatsApp notifications are then skipped.
func newWhatsAppSender(conf *core.Config, logger core.Logger) notification.WhatsAppSender {
	if conf.Twilio.AccountSID != "" && conf.Twilio.AuthToken != "" {
		return whatsappsvc.NewTwilioSender(conf)
	}
	if conf.Debug {
		return whatsappsvc.NewConsoleSender(logger)
	}
	logger.Warn("Twilio is not configured: WhatsApp notifications are disabled")
	return nil
}

func newAlerter(conf *core.Config, logger core.Logger) notification.Alerter {
	if conf.Telegram.BotToken == "" || conf.Telegram.AdminChatID == 0 {
		return alertsvc.NewLoggerAlerter(logger)
	}
	alerter, err := alertsvc.NewTelegramAlerter(conf)
	if err != nil {
		logger.Error(fmt.Sprintf("falling back to log alerts: %v", err), err)
		return alertsvc.NewLoggerAlerter(logger)
	}
	return alerter
}

func newPaystackClient(conf *core.Config) *paystack.Client {
	return paystack.NewClient(conf, &http.Client{Timeout: 30 * time.Second})
}

func newValidator() (*validator.Validate, ut.Translator) {
	return echoapi.NewValidator()
}

func newScheduler(
	conf *core.Config,
	logger core.Logger,
	bookingSvc booking.Service,
	paymentSvc payment.Service,
) (*schedulersvc.Scheduler, error) {
	s := schedulersvc.New(conf, logger)
	if err := schedulersvc.RegisterJobs(s, conf, bookingSvc, paymentSvc); err != nil {
		return nil, err
	}
	return s, nil
}

type serverParams struct {
	dig.In

	Conf     *core.Config
	Logger   core.Logger
	Validate *validator.Validate

	UserSvc         user.Service
	BookingSvc      booking.Service
	PaymentSvc      payment.Service
	MessagingSvc    messaging.Service
	NotificationSvc notification.Service
	PayoutSvc       earning.PayoutService
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Conf:            p.Conf,
		Logger:          p.Logger,
		Validate:        p.Validate,
		UserSvc:         p.UserSvc,
		BookingSvc:      p.BookingSvc,
		PaymentSvc:      p.PaymentSvc,
		MessagingSvc:    p.MessagingSvc,
		NotificationSvc: p.NotificationSvc,
		PayoutSvc:       p.PayoutSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	// ambient
	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newValidator))

	// storage
	must(c.Provide(newDB))
	must(c.Provide(sqlxrepos.NewTransactor))
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewBookingRepository))
	must(c.Provide(sqlxrepos.NewPaymentRepository))
	must(c.Provide(sqlxrepos.NewEarningRepository))
	must(c.Provide(sqlxrepos.NewMessagingRepository))
	must(c.Provide(sqlxrepos.NewNotificationRepository))

	// providers
	must(c.Provide(newPaystackClient))
	must(c.Provide(func(cl *paystack.Client) payment.Gateway { return cl }))
	must(c.Provide(func(cl *paystack.Client) earning.TransferGateway { return cl }))
	must(c.Provide(newEmailService))
	must(c.Provide(newWhatsAppSender))
	must(c.Provide(newAlerter))

	// services
	must(c.Provide(notification.NewService))
	must(c.Provide(user.NewService))
	must(c.Provide(messaging.NewService))
	must(c.Provide(booking.NewService))
	must(c.Provide(earning.NewPayoutService))
	must(c.Provide(payment.NewService))

	must(c.Provide(newScheduler))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}

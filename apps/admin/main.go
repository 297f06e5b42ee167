package main

import (
	"net/http"
	"os"
	"time"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/messaging"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/payment"
	"github.com/steamspark/spark/core/user"
	alertsvc "github.com/steamspark/spark/services/alert"
	emailsvc "github.com/steamspark/spark/services/email"
	logsvc "github.com/steamspark/spark/services/logger"
	"github.com/steamspark/spark/services/paystack"
	whatsappsvc "github.com/steamspark/spark/services/whatsapp"
	"github.com/steamspark/spark/storage/database"
	sqlxrepos "github.com/steamspark/spark/storage/database/sqlx"
)

var logger core.Logger

func main() {
	defer os.Exit(0)

	conf := core.NewConfig()
	rl := logsvc.NewRollbarLogger(logsvc.NewLogrus(conf, os.Stdout), conf)
	rl.Enable(!conf.Debug)
	logger = rl

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())

	// set up services
	var (
		tx        = sqlxrepos.NewTransactor(db)
		usrRepo   = sqlxrepos.NewUserRepository(db)
		bookRepo  = sqlxrepos.NewBookingRepository(db)
		earnRepo  = sqlxrepos.NewEarningRepository(db)
		gateway   = paystack.NewClient(conf, &http.Client{Timeout: 30 * time.Second})
		mailSvc   core.EmailService
		whatsApp  notification.WhatsAppSender
		usrSvc    = user.NewService(usrRepo)
		notifier  notification.Service
		msgSvc    messaging.Service
		payoutSvc earning.PayoutService
	)
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
		whatsApp = whatsappsvc.NewConsoleSender(logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
		whatsApp = whatsappsvc.NewTwilioSender(conf)
	}
	notifier = notification.NewService(
		sqlxrepos.NewNotificationRepository(db), mailSvc, whatsApp, alertsvc.NewLoggerAlerter(logger), logger,
	)
	msgSvc = messaging.NewService(sqlxrepos.NewMessagingRepository(db), usrRepo, notifier, logger)
	payoutSvc = earning.NewPayoutService(tx, earnRepo, usrRepo, gateway, notifier, logger)
	paymentSvc := payment.NewService(
		conf, tx, sqlxrepos.NewPaymentRepository(db), bookRepo, usrRepo, earnRepo,
		payoutSvc, msgSvc, notifier, gateway, logger,
	)

	// start CLI
	cli := commandLine{
		db:         db.DB,
		usrSvc:     usrSvc,
		paymentSvc: paymentSvc,
		payoutSvc:  payoutSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("admin command failed: "+err.Error(), err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}

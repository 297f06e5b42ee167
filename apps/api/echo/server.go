package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/messaging"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/payment"
	"github.com/steamspark/spark/core/user"
)

type (
	Options struct {
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

	Server struct {
		opts     *Options
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(opts *Options) *Server {
	s := &Server{
		opts:     opts,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.opts.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	v1.GET("/health", health)

	auth := authMiddleware(conf, s.opts.UserSvc)

	registerPaymentAPI(v1, auth, s.opts.PaymentSvc, s.opts.Validate)
	registerBookingAPI(v1, auth, s.opts.BookingSvc, s.opts.Validate)
	registerMessagingAPI(v1, auth, s.opts.MessagingSvc, s.opts.Validate)
	registerNotificationAPI(v1, auth, s.opts.NotificationSvc, s.opts.Validate)
	registerUserAPI(v1, auth, s.opts.UserSvc, s.opts.Validate)
	registerPayoutAPI(v1, auth, s.opts.PayoutSvc, s.opts.Validate)
}

// Start listens on the configured address until shutdown. Failures are reported on Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.opts.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.opts.Conf.AppName+" API!")
}

func health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

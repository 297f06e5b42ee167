package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/messaging"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/payment"
	"github.com/steamspark/spark/core/user"
	emailsvc "github.com/steamspark/spark/services/email"
	logsvc "github.com/steamspark/spark/services/logger"
	"github.com/steamspark/spark/services/paystack"
	whatsappsvc "github.com/steamspark/spark/services/whatsapp"
	inmemdb "github.com/steamspark/spark/storage/database/inmem"
)

const PaystackSecret = "sk_test_spark"

func NewConfig() *core.Config {
	return &core.Config{
		AppName:  "Spark",
		Env:      "TEST",
		TestMode: true,
		AppURL:   "http://spark.test",
		Timezone: "Africa/Accra",
		Server: core.ServerConfig{
			JWTSecret: "test-jwt-secret",
		},
		Paystack: core.PaystackConfig{SecretKey: PaystackSecret},
		Email: core.EmailConfig{
			DefaultFromEmail: "no-reply@spark.test",
			DefaultFromName:  "Spark",
		},
		Scheduler: core.SchedulerConfig{
			ReminderLead:   time.Hour,
			ReconcileAfter: 10 * time.Minute,
		},
	}
}

// Env wires every service on top of an in-memory database and fake providers.
type Env struct {
	Conf   *core.Config
	Logger core.Logger
	DB     *inmemdb.DB
	Tx     core.Transactor

	UserRepo         user.Repository
	BookingRepo      booking.Repository
	PaymentRepo      payment.Repository
	EarningRepo      earning.Repository
	MessagingRepo    messaging.Repository
	NotificationRepo notification.Repository

	Gateway *FakeGateway
	Alerter *Alerter

	Notifier  notification.Service
	Users     user.Service
	Bookings  booking.Service
	Messaging messaging.Service
	Payouts   earning.PayoutService
	Payments  payment.Service
}

func NewEnv(t *testing.T) *Env {
	conf := NewConfig()
	logger := logsvc.NewDiscardLogger()
	db := inmemdb.Open()

	env := &Env{
		Conf:             conf,
		Logger:           logger,
		DB:               db,
		Tx:               inmemdb.NewTransactor(db),
		UserRepo:         inmemdb.NewUserRepository(db),
		BookingRepo:      inmemdb.NewBookingRepository(db),
		PaymentRepo:      inmemdb.NewPaymentRepository(db),
		EarningRepo:      inmemdb.NewEarningRepository(db),
		MessagingRepo:    inmemdb.NewMessagingRepository(db),
		NotificationRepo: inmemdb.NewNotificationRepository(db),
		Gateway:          NewFakeGateway(conf),
		Alerter:          &Alerter{},
	}

	env.Notifier = notification.NewService(
		env.NotificationRepo,
		emailsvc.NewConsoleServiceMock(conf, logger),
		whatsappsvc.NewConsoleSenderMock(),
		env.Alerter,
		logger,
	)
	env.Users = user.NewService(env.UserRepo)
	env.Bookings = booking.NewService(conf, env.Tx, env.BookingRepo, env.UserRepo, env.EarningRepo, env.Notifier, logger)
	env.Messaging = messaging.NewService(env.MessagingRepo, env.UserRepo, env.Notifier, logger)
	env.Payouts = earning.NewPayoutService(env.Tx, env.EarningRepo, env.UserRepo, env.Gateway, env.Notifier, logger)
	env.Payments = payment.NewService(
		conf, env.Tx, env.PaymentRepo, env.BookingRepo, env.UserRepo, env.EarningRepo,
		env.Payouts, env.Messaging, env.Notifier, env.Gateway, logger,
	)

	emailsvc.ResetSentMessages()
	whatsappsvc.ResetSentMessages()
	t.Cleanup(func() {
		emailsvc.ResetSentMessages()
		whatsappsvc.ResetSentMessages()
	})
	return env
}

// FreezeTime sets the current time of the services until the end of the test.
func FreezeTime(t *testing.T, at time.Time) {
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return at }
	t.Cleanup(func() { core.NowFunc = orig })
}

// Fixtures

func CreateUser(t *testing.T, repo user.Repository, name, email, role string) user.User {
	usr, err := repo.CreateUser(context.Background(), user.User{
		FullName: name,
		Email:    email,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateTeacher creates a teacher paid out by mobile money who receives WhatsApp notifications.
func CreateTeacher(t *testing.T, repo user.Repository, name, email string) user.User {
	usr := CreateUser(t, repo, name, email, user.RoleTeacher)
	usr.Phone = null.StringFrom("+233241234567")
	usr.WhatsAppOptIn = true
	usr.PayoutDetails = user.PayoutDetails{
		PayoutMethod: null.StringFrom(user.PayoutMobileMoney),
		MomoProvider: null.StringFrom("MTN"),
		MomoNumber:   null.StringFrom("0241234567"),
		MomoName:     null.StringFrom(name),
	}
	usr, err := repo.UpdateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createTeacher() failed: %v", err)
	}
	return usr
}

func CreateGig(db *inmemdb.DB, teacherID, title string, price core.Money) booking.Gig {
	gig := booking.Gig{
		ID:              uuid.New().String(),
		TeacherID:       teacherID,
		Title:           title,
		PricePerSession: price,
	}
	db.AddGig(gig)
	return gig
}

func CreateStudent(db *inmemdb.DB, parentID, name string) booking.Student {
	s := booking.Student{ID: uuid.New().String(), ParentID: parentID, FullName: name}
	db.AddStudent(s)
	return s
}

// NewBooking books sessions days after today at 10:00.
func NewBooking(gig booking.Gig, student booking.Student, sessions int) booking.NewBooking {
	nb := booking.NewBooking{GigID: gig.ID, StudentID: student.ID}
	day := core.NowFunc().AddDate(0, 0, 1)
	for i := 0; i < sessions; i++ {
		nb.Sessions = append(nb.Sessions, booking.NewSession{
			Date: day.AddDate(0, 0, 7*i).Format(core.DateLayout),
			Time: "10:00",
		})
	}
	return nb
}

// Alerter records admin alerts.
type Alerter struct {
	mu     sync.Mutex
	alerts []string
	Err    error
}

var _ notification.Alerter = (*Alerter)(nil)

func (a *Alerter) Alert(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, text)
	return a.Err
}

func (a *Alerter) Alerts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.alerts...)
}

// FakeGateway is a scripted payment and transfer gateway. Webhook signatures and
// event payloads are handled by the real Paystack client.
type FakeGateway struct {
	mu     sync.Mutex
	client *paystack.Client

	Verifications map[string]payment.Verification // by reference
	InitErr       error
	VerifyErr     error
	Initialized   []payment.InitializeRequest

	RecipientErr   error
	TransferErr    error
	TransferStatus earning.PayoutStatus
	BalanceAmount  core.Money
	Recipients     []earning.Recipient
	Transfers      []earning.Transfer
	Finalized      []string
}

var (
	_ payment.Gateway         = (*FakeGateway)(nil)
	_ earning.TransferGateway = (*FakeGateway)(nil)
)

func NewFakeGateway(conf *core.Config) *FakeGateway {
	return &FakeGateway{
		client:         paystack.NewClient(conf, nil),
		Verifications:  make(map[string]payment.Verification),
		TransferStatus: earning.PayoutPending,
		BalanceAmount:  core.Cedis(1000000),
	}
}

// Charge scripts a verification answer for the charge's reference.
func (g *FakeGateway) Charge(charge payment.Charge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Verifications[charge.Reference] = payment.Verification{Status: true, Message: "Verification successful", Charge: charge}
}

func (g *FakeGateway) InitializeTransaction(_ context.Context, req payment.InitializeRequest) (payment.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.InitErr != nil {
		return payment.Authorization{}, g.InitErr
	}
	g.Initialized = append(g.Initialized, req)
	return payment.Authorization{
		AuthorizationURL: "https://checkout.paystack.test/" + req.Reference,
		AccessCode:       "AC_" + core.ShortID(req.Reference),
		Reference:        req.Reference,
	}, nil
}

func (g *FakeGateway) VerifyTransaction(_ context.Context, reference string) (payment.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.VerifyErr != nil {
		return payment.Verification{}, g.VerifyErr
	}
	v, ok := g.Verifications[reference]
	if !ok {
		return payment.Verification{Status: false, Message: "Transaction reference not found"}, nil
	}
	return v, nil
}

func (g *FakeGateway) ValidSignature(body []byte, signature string) bool {
	return g.client.ValidSignature(body, signature)
}

func (g *FakeGateway) ParseEvent(body []byte) (payment.Event, error) {
	return g.client.ParseEvent(body)
}

func (g *FakeGateway) CreateTransferRecipient(_ context.Context, r earning.Recipient) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RecipientErr != nil {
		return "", g.RecipientErr
	}
	g.Recipients = append(g.Recipients, r)
	return fmt.Sprintf("RCP_%d", len(g.Recipients)), nil
}

func (g *FakeGateway) transferResult(t earning.Transfer) earning.TransferResult {
	return earning.TransferResult{
		Reference:    t.Reference,
		TransferCode: "TRF_" + t.Reference,
		Status:       g.TransferStatus,
	}
}

func (g *FakeGateway) InitiateTransfer(_ context.Context, t earning.Transfer) (earning.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.TransferErr != nil {
		return earning.TransferResult{}, g.TransferErr
	}
	g.Transfers = append(g.Transfers, t)
	return g.transferResult(t), nil
}

func (g *FakeGateway) InitiateBulkTransfer(_ context.Context, transfers []earning.Transfer) ([]earning.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.TransferErr != nil {
		return nil, g.TransferErr
	}
	results := make([]earning.TransferResult, 0, len(transfers))
	for _, t := range transfers {
		g.Transfers = append(g.Transfers, t)
		results = append(results, g.transferResult(t))
	}
	return results, nil
}

func (g *FakeGateway) FinalizeTransfer(_ context.Context, transferCode, otp string) (earning.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if otp == "" {
		return earning.TransferResult{}, core.NewGatewayError("paystack", 400, "OTP is required")
	}
	g.Finalized = append(g.Finalized, transferCode)
	return earning.TransferResult{TransferCode: transferCode, Status: earning.PayoutSuccess}, nil
}

func (g *FakeGateway) Balance(_ context.Context, currency string) (core.Money, error) {
	if currency != core.Currency {
		return 0, errors.Errorf("unsupported currency %s", currency)
	}
	return g.BalanceAmount, nil
}

// Sign returns the webhook signature header of body.
func Sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(PaystackSecret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookBody encodes a gateway webhook event.
func WebhookBody(t *testing.T, event string, data map[string]interface{}) []byte {
	body, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	if err != nil {
		t.Fatalf("webhookBody() failed: %v", err)
	}
	return body
}

// ChargeData is the webhook data of a charge on a booking.
func ChargeData(reference, bookingID string, amount core.Money) map[string]interface{} {
	return map[string]interface{}{
		"status":    payment.ChargeSuccess,
		"reference": reference,
		"amount":    amount.Pesewas(),
		"currency":  core.Currency,
		"channel":   "mobile_money",
		"paid_at":   core.NowFunc().Format(time.RFC3339),
		"metadata":  map[string]interface{}{"booking_id": bookingID},
	}
}

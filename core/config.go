package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName      string
		Build        string
		Env          string
		Debug        bool
		TestMode     bool
		AppURL       string
		WorkDir      string
		Timezone     string
		RollbarToken string

		Server    ServerConfig
		Database  DatabaseConfig
		Paystack  PaystackConfig
		Email     EmailConfig
		Twilio    TwilioConfig
		Telegram  TelegramConfig
		Scheduler SchedulerConfig
	}

	ServerConfig struct {
		Host            string
		Address         string
		DebugHost       string
		ShutdownTimeout time.Duration
		JWTSecret       string
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	PaystackConfig struct {
		SecretKey   string
		BaseURL     string
		CallbackURL string
	}

	EmailConfig struct {
		SendgridAPIKey   string
		SendgridHost     string
		DefaultFromEmail string
		DefaultFromName  string
		ReplyToEmail     string
		// Sandbox asks SendGrid to validate messages without delivering them.
		Sandbox bool
	}

	TwilioConfig struct {
		AccountSID     string
		AuthToken      string
		WhatsAppNumber string
	}

	TelegramConfig struct {
		BotToken    string
		AdminChatID int64
	}

	SchedulerConfig struct {
		Disabled           bool
		ReminderLead       time.Duration
		ReconcileAfter     time.Duration
		RemindersSpec      string
		ReconciliationSpec string
	}
)

// Address returns the database "host:port".
func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultFrom returns the sender address of outgoing emails.
func (c EmailConfig) DefaultFrom() mail.Address {
	return mail.Address{Name: c.DefaultFromName, Address: c.DefaultFromEmail}
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewConfig loads the configuration from the environment.
// Variables are prefixed by the environment name, e.g. `PROD_PAYSTACK_SECRET_KEY`.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("app_name", "STEAM Spark")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("test_mode", false)
	v.SetDefault("app_url", "http://localhost:3000")
	v.SetDefault("timezone", "Africa/Accra")
	v.SetDefault("rollbar_token", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debug_host", ":4000")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.jwt_secret", "super-secret-jwt-token-with-at-least-32-characters-long")
	v.SetDefault("server.disable_req_logs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "steamspark")
	v.SetDefault("database.user", "steamspark")
	v.SetDefault("database.password", "steamspark")
	v.SetDefault("database.admin_user", "postgres")
	v.SetDefault("database.admin_password", "postgres")
	v.SetDefault("database.disable_tls", true)

	v.SetDefault("paystack.secret_key", "")
	v.SetDefault("paystack.base_url", "https://api.paystack.co")
	v.SetDefault("paystack.callback_url", "")

	v.SetDefault("email.sendgrid_api_key", "")
	v.SetDefault("email.sendgrid_host", "https://api.sendgrid.com")
	v.SetDefault("email.reply_to_email", "support@steamspark.com")
	v.SetDefault("email.sandbox", false)
	v.SetDefault("email.default_from_email", "noreply@steamspark.com")
	v.SetDefault("email.default_from_name", "STEAM Spark")

	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.whatsapp_number", "whatsapp:+14155238886")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.admin_chat_id", int64(0))

	v.SetDefault("scheduler.disabled", false)
	v.SetDefault("scheduler.reminder_lead", time.Hour)
	v.SetDefault("scheduler.reconcile_after", 15*time.Minute)
	v.SetDefault("scheduler.reminders_spec", "*/5 * * * *")
	v.SetDefault("scheduler.reconciliation_spec", "*/15 * * * *")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("test_mode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := os.Getenv("WORK_DIR")
	if wd == "" {
		var err error
		if wd, err = os.Getwd(); err != nil {
			log.Fatalf("config.os.Getwd(): %v", err)
		}
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:      v.GetString("app_name"),
		Build:        v.GetString("build"),
		Env:          env,
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("test_mode"),
		AppURL:       strings.TrimSuffix(v.GetString("app_url"), "/"),
		WorkDir:      wd,
		Timezone:     v.GetString("timezone"),
		RollbarToken: v.GetString("rollbar_token"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Address:         v.GetString("server.address"),
			DebugHost:       v.GetString("server.debug_host"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			JWTSecret:       v.GetString("server.jwt_secret"),
			DisableReqLogs:  v.GetBool("server.disable_req_logs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.admin_user"),
			AdminPassword: v.GetString("database.admin_password"),
			DisableTLS:    v.GetBool("database.disable_tls"),
		},
		Paystack: PaystackConfig{
			SecretKey:   v.GetString("paystack.secret_key"),
			BaseURL:     strings.TrimSuffix(v.GetString("paystack.base_url"), "/"),
			CallbackURL: v.GetString("paystack.callback_url"),
		},
		Email: EmailConfig{
			SendgridAPIKey:   v.GetString("email.sendgrid_api_key"),
			SendgridHost:     strings.TrimSuffix(v.GetString("email.sendgrid_host"), "/"),
			DefaultFromEmail: v.GetString("email.default_from_email"),
			DefaultFromName:  v.GetString("email.default_from_name"),
			ReplyToEmail:     v.GetString("email.reply_to_email"),
			Sandbox:          v.GetBool("email.sandbox"),
		},
		Twilio: TwilioConfig{
			AccountSID:     v.GetString("twilio.account_sid"),
			AuthToken:      v.GetString("twilio.auth_token"),
			WhatsAppNumber: v.GetString("twilio.whatsapp_number"),
		},
		Telegram: TelegramConfig{
			BotToken:    v.GetString("telegram.bot_token"),
			AdminChatID: v.GetInt64("telegram.admin_chat_id"),
		},
		Scheduler: SchedulerConfig{
			Disabled:           v.GetBool("scheduler.disabled"),
			ReminderLead:       v.GetDuration("scheduler.reminder_lead"),
			ReconcileAfter:     v.GetDuration("scheduler.reconcile_after"),
			RemindersSpec:      v.GetString("scheduler.reminders_spec"),
			ReconciliationSpec: v.GetString("scheduler.reconciliation_spec"),
		},
	}
}

// PaymentCallbackURL is where the gateway redirects the parent after checkout.
func (c *Config) PaymentCallbackURL() string {
	if c.Paystack.CallbackURL != "" {
		return c.Paystack.CallbackURL
	}
	return c.AppURL + "/parent/booking/verify"
}

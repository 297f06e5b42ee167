package logsvc

import (
	"fmt"
	"io"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/term"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/user"
)

// RollbarLogger reports to Rollbar and writes structured output through logrus.
type RollbarLogger struct {
	entry *logrus.Entry
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewLogrus returns the process logger: JSON in production, colored text on a terminal otherwise.
func NewLogrus(conf *core.Config, out io.Writer) *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(out)
	if conf.Debug {
		lg.SetLevel(logrus.DebugLevel)
		lg.SetFormatter(&logrus.TextFormatter{
			ForceColors:   term.IsTerminal(int(os.Stdout.Fd())),
			FullTimestamp: true,
		})
	} else {
		lg.SetLevel(logrus.InfoLevel)
		lg.SetFormatter(&logrus.JSONFormatter{})
	}
	return lg
}

func NewRollbarLogger(lg *logrus.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{
		entry: lg.WithFields(logrus.Fields{"app": conf.AppName, "env": conf.Env, "build": conf.Build}),
	}
}

// NewDiscardLogger returns a logger that reports nothing, for tests.
func NewDiscardLogger() *RollbarLogger {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	rollbar.SetEnabled(false)
	return &RollbarLogger{entry: logrus.NewEntry(lg)}
}

// NewTestLogger returns a logger that reports nothing and the hook recording its entries.
func NewTestLogger() (*RollbarLogger, *test.Hook) {
	lg, hook := test.NewNullLogger()
	lg.SetLevel(logrus.DebugLevel)
	rollbar.SetEnabled(false)
	return &RollbarLogger{entry: logrus.NewEntry(lg)}, hook
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, *logrus.Entry) {
	var usrSet bool
	entry := l.entry
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			// set logged in User
			if !usrSet { // only set one User
				rollbar.SetPerson(a.ID, a.FullName, a.Email)
				entry = entry.WithField("user_id", a.ID)
				usrSet = true
			}
			continue
		case error:
			entry = entry.WithError(a)
		case map[string]interface{}:
			entry = entry.WithFields(a)
		default:
			entry = entry.WithField(fmt.Sprintf("arg%d", len(newArgs)), a)
		}
		newArgs = append(newArgs, arg)
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs, entry
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Debug(rArgs...)
	entry.Debug(msg)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Info(rArgs...)
	entry.Info(msg)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Warning(rArgs...)
	entry.Warn(msg)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Error(rArgs...)
	entry.Error(msg)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Critical(rArgs...)
	rollbar.Close()
	entry.Fatal(msg)
}

package core

// Logger is implemented by the logging/error reporting service.
// args may hold errors, a map[string]interface{} of extra fields and the acting user.User.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

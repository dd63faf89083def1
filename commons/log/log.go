// Package log defines the logging contract shared by every package in this module.
//
// Concrete implementations live elsewhere (see commons/zap); code in this module only
// depends on the Logger interface so tests can swap in NoneLogger or a zaptest logger.
package log

//go:generate mockgen --destination=log_mock.go --package=log . Logger

// Logger is the common logging interface.
//
// The non-formatted methods accept a message followed by structured fields
// (zap.Field values); implementations that do not understand fields must ignore them.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Debug(args ...any)
	Debugf(format string, args ...any)

	// WithFields returns a child logger carrying the given key/value pairs.
	WithFields(fields ...any) Logger

	Sync() error
}

// OrNone returns l, or a NoneLogger when l is nil.
//
//nolint:ireturn
func OrNone(l Logger) Logger {
	if l == nil {
		return &NoneLogger{}
	}

	return l
}

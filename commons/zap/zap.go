package zap

import (
	clog "github.com/LerianStudio/lib-dbtest/commons/log"
	"go.uber.org/zap"
)

// ZapWithTraceLogger adapts a zap.SugaredLogger to clog.Logger.
//
// zap.Field values passed to the non-formatted methods are attached as structured
// fields; everything else becomes the message.
type ZapWithTraceLogger struct {
	Logger                 *zap.SugaredLogger
	defaultMessageTemplate string
}

// New wraps an existing *zap.Logger.
//
//nolint:ireturn
func New(logger *zap.Logger) clog.Logger {
	return &ZapWithTraceLogger{Logger: logger.Sugar()}
}

// logWithHydration splits fields out of args and forwards the rest as the message.
func (l *ZapWithTraceLogger) logWithHydration(logFunc func(msg string, keysAndValues ...any), args ...any) {
	msg, fields := hydrateArgs(l.defaultMessageTemplate, args)
	logFunc(msg, fields...)
}

func (l *ZapWithTraceLogger) logfWithHydration(logFunc func(string, ...any), format string, args ...any) {
	logFunc(l.defaultMessageTemplate+format, args...)
}

// Info implements clog.Logger.
func (l *ZapWithTraceLogger) Info(args ...any) {
	l.logWithHydration(l.Logger.Infow, args...)
}

// Infof implements clog.Logger.
func (l *ZapWithTraceLogger) Infof(format string, args ...any) {
	l.logfWithHydration(l.Logger.Infof, format, args...)
}

// Warn implements clog.Logger.
func (l *ZapWithTraceLogger) Warn(args ...any) {
	l.logWithHydration(l.Logger.Warnw, args...)
}

// Warnf implements clog.Logger.
func (l *ZapWithTraceLogger) Warnf(format string, args ...any) {
	l.logfWithHydration(l.Logger.Warnf, format, args...)
}

// Error implements clog.Logger.
func (l *ZapWithTraceLogger) Error(args ...any) {
	l.logWithHydration(l.Logger.Errorw, args...)
}

// Errorf implements clog.Logger.
func (l *ZapWithTraceLogger) Errorf(format string, args ...any) {
	l.logfWithHydration(l.Logger.Errorf, format, args...)
}

// Debug implements clog.Logger.
func (l *ZapWithTraceLogger) Debug(args ...any) {
	l.logWithHydration(l.Logger.Debugw, args...)
}

// Debugf implements clog.Logger.
func (l *ZapWithTraceLogger) Debugf(format string, args ...any) {
	l.logfWithHydration(l.Logger.Debugf, format, args...)
}

// WithFields implements clog.Logger. Fields are alternating keys and values, or zap.Field values.
//
//nolint:ireturn
func (l *ZapWithTraceLogger) WithFields(fields ...any) clog.Logger {
	return &ZapWithTraceLogger{
		Logger:                 l.Logger.With(fields...),
		defaultMessageTemplate: l.defaultMessageTemplate,
	}
}

// WithDefaultMessageTemplate returns a logger that prefixes every message with message.
//
//nolint:ireturn
func (l *ZapWithTraceLogger) WithDefaultMessageTemplate(message string) clog.Logger {
	return &ZapWithTraceLogger{
		Logger:                 l.Logger,
		defaultMessageTemplate: message,
	}
}

// Sync implements clog.Logger.
func (l *ZapWithTraceLogger) Sync() error {
	return l.Logger.Sync()
}

// hydrateArgs separates zap.Field values from the message parts.
func hydrateArgs(defaultTemplate string, args []any) (string, []any) {
	var (
		parts  []any
		fields []any
	)

	for _, arg := range args {
		if f, ok := arg.(zap.Field); ok {
			fields = append(fields, f)
			continue
		}

		parts = append(parts, arg)
	}

	msg := defaultTemplate
	if len(parts) > 0 {
		msg += sprint(parts...)
	}

	return msg, fields
}

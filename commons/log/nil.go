package log

// NoneLogger discards everything.
type NoneLogger struct{}

// Info implements Logger.
func (l *NoneLogger) Info(_ ...any) {}

// Infof implements Logger.
func (l *NoneLogger) Infof(_ string, _ ...any) {}

// Warn implements Logger.
func (l *NoneLogger) Warn(_ ...any) {}

// Warnf implements Logger.
func (l *NoneLogger) Warnf(_ string, _ ...any) {}

// Error implements Logger.
func (l *NoneLogger) Error(_ ...any) {}

// Errorf implements Logger.
func (l *NoneLogger) Errorf(_ string, _ ...any) {}

// Debug implements Logger.
func (l *NoneLogger) Debug(_ ...any) {}

// Debugf implements Logger.
func (l *NoneLogger) Debugf(_ string, _ ...any) {}

// WithFields implements Logger.
//
//nolint:ireturn
func (l *NoneLogger) WithFields(_ ...any) Logger {
	return l
}

// Sync implements Logger.
func (l *NoneLogger) Sync() error { return nil }

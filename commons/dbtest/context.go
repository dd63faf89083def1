package dbtest

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/lib-dbtest/commons/log"
	"github.com/LerianStudio/lib-dbtest/commons/observability"
)

type contextKey string

var sessionKey = contextKey("dbtest_session")

// SessionInfo is what a test body can learn about its session from the context.
type SessionInfo struct {
	ID           string
	TestPath     string
	DatabaseName string
	Logger       log.Logger
	Tracer       trace.Tracer
}

// ContextWithSession returns a copy of ctx carrying info.
func ContextWithSession(ctx context.Context, info SessionInfo) context.Context {
	return context.WithValue(ctx, sessionKey, &info)
}

// SessionFromContext returns the session the body runs in, if any.
func SessionFromContext(ctx context.Context) (SessionInfo, bool) {
	info, ok := ctx.Value(sessionKey).(*SessionInfo)
	if !ok || info == nil {
		return SessionInfo{}, false
	}

	return *info, true
}

// LoggerFromContext returns the session logger, already tagged with the test and database.
//
//nolint:ireturn
func LoggerFromContext(ctx context.Context) log.Logger {
	if info, ok := SessionFromContext(ctx); ok && info.Logger != nil {
		return info.Logger
	}

	return &log.NoneLogger{}
}

// TracerFromContext returns the manager's tracer.
//
//nolint:ireturn
func TracerFromContext(ctx context.Context) trace.Tracer {
	if info, ok := SessionFromContext(ctx); ok && info.Tracer != nil {
		return info.Tracer
	}

	return otel.Tracer(observability.InstrumentationName)
}

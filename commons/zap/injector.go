package zap

import (
	"fmt"
	"os"
	"strings"

	clog "github.com/LerianStudio/lib-dbtest/commons/log"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitializeLogger builds the logger used by test binaries and the dbtest CLI.
//
// ENV_NAME=production selects the JSON production encoder; LOG_LEVEL overrides the level.
// Records are also teed into the OpenTelemetry log bridge named by OTEL_LIBRARY_NAME.
//
//nolint:ireturn
func InitializeLogger() (clog.Logger, error) {
	var zapCfg zap.Config

	envName := strings.ToLower(os.Getenv("ENV_NAME"))
	if envName == "production" || envName == "prod" {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	if val, ok := os.LookupEnv("LOG_LEVEL"); ok {
		var lvl zapcore.Level
		if err := lvl.Set(val); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: invalid LOG_LEVEL value %q: %v (using default level)\n", val, err)
		} else {
			zapCfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	zapCfg.DisableStacktrace = true

	libraryName := os.Getenv("OTEL_LIBRARY_NAME")
	if libraryName == "" {
		libraryName = "github.com/LerianStudio/lib-dbtest"
	}

	logger, err := zapCfg.Build(zap.AddCallerSkip(2), zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, otelzap.NewCore(libraryName))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize zap logger: %w", err)
	}

	return &ZapWithTraceLogger{
		Logger: logger.Sugar(),
	}, nil
}

func sprint(args ...any) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}

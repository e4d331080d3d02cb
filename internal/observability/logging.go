// Package observability builds the process logger and adapts it to the
// libraries that log through their own interfaces.
package observability

import (
	"context"
	"fmt"

	grpclogging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/prism/internal/config"
)

// NewLogger creates a structured logger from the given logging configuration.
// Every entry carries the service name and replica id of srv.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, srv config.ServerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var fields []zap.Field
	if srv.Name != "" {
		fields = append(fields, zap.String("service", srv.Name))
	}
	if srv.InstanceID != "" {
		fields = append(fields, zap.String("instance", srv.InstanceID))
	}

	logger, err := zapCfg.Build(zap.Fields(fields...))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// GRPCLogger adapts logger for the go-grpc-middleware logging interceptors.
// fields arrive as alternating key/value pairs.
func GRPCLogger(logger *zap.Logger) grpclogging.Logger {
	return grpclogging.LoggerFunc(func(_ context.Context, lvl grpclogging.Level, msg string, fields ...any) {
		zf := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				key = fmt.Sprint(fields[i])
			}
			zf = append(zf, zap.Any(key, fields[i+1]))
		}
		switch lvl {
		case grpclogging.LevelDebug:
			logger.Debug(msg, zf...)
		case grpclogging.LevelInfo:
			logger.Info(msg, zf...)
		case grpclogging.LevelWarn:
			logger.Warn(msg, zf...)
		case grpclogging.LevelError:
			logger.Error(msg, zf...)
		default:
			logger.Info(msg, append(zf, zap.Int("grpc_level", int(lvl)))...)
		}
	})
}

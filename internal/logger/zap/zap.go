// Package zap adapts go.uber.org/zap into the core's Logger interface and
// wires zap's file sink through lumberjack for rotation.
package zap

import (
	"fmt"
	"os"

	"chordring/internal/config"
	"chordring/internal/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a *zap.Logger from the logging section of the node config.
func New(cfg config.LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("zap: invalid level %q: %w", cfg.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.FilePath != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	} else {
		sink = zapcore.AddSync(zapAppSyncer{})
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

// Adapter implements logger.Logger on top of a *zap.Logger.
type Adapter struct {
	l *zap.Logger
}

// NewAdapter wraps z as a logger.Logger.
func NewAdapter(z *zap.Logger) *Adapter {
	return &Adapter{l: z}
}

func toZapFields(fields []logger.Field) []zap.Field {
	zf := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		zf = append(zf, zap.Any(f.Key, f.Value))
	}
	return zf
}

func (a *Adapter) Debug(msg string, fields ...logger.Field) { a.l.Debug(msg, toZapFields(fields)...) }
func (a *Adapter) Info(msg string, fields ...logger.Field)  { a.l.Info(msg, toZapFields(fields)...) }
func (a *Adapter) Warn(msg string, fields ...logger.Field)  { a.l.Warn(msg, toZapFields(fields)...) }
func (a *Adapter) Error(msg string, fields ...logger.Field) { a.l.Error(msg, toZapFields(fields)...) }

func (a *Adapter) Named(name string) logger.Logger {
	return &Adapter{l: a.l.Named(name)}
}

// zapAppSyncer writes to the process's stderr; kept as a distinct type so
// New doesn't need to special-case os.Stderr construction inline.
type zapAppSyncer struct{}

func (zapAppSyncer) Write(p []byte) (int, error) { return os.Stderr.Write(p) }

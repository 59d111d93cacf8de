package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// SyncWrite implements zap.SyncWriter. This is a small hack to avoid usual
// `Handle is invalid` error when calling Sync() on logger using os.stdout.
type SyncWrite struct {
	out io.Writer
}

func (sw *SyncWrite) Sync() error {
	return nil
}

func (sw *SyncWrite) Write(p []byte) (n int, err error) {
	return sw.out.Write(p)
}

// SetupLogging is a helper function that initializes the logging module.
// In production all logs are saved to the defined file. In development
// the same logs are printed to standard output as well. It only adds
// stacktrace to error level logs. All logs come with commit & tag value.
func SetupLogging(config *Config, logFile io.Writer) (*zap.Logger, func()) {
	var logger *zap.Logger
	if config.IsProduction {
		zapConfig := zap.NewProductionEncoderConfig()
		zapConfig.TimeKey = "ts"
		zapConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.LevelKey = "lvl"
		zapConfig.NameKey = "name"
		zapConfig.MessageKey = "msg"
		zapConfig.CallerKey = "caller"
		zapConfig.StacktraceKey = "skt"
		fileEncoder := zapcore.NewJSONEncoder(zapConfig)
		zapCore := zapcore.NewTee(zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), config.LogLevel))
		logger = zap.New(zapCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		zapConfig := zap.NewDevelopmentEncoderConfig()
		zapConfig.TimeKey = "ts"
		zapConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.LevelKey = "lvl"
		zapConfig.NameKey = "name"
		zapConfig.MessageKey = "msg"
		zapConfig.CallerKey = "caller"
		zapConfig.StacktraceKey = "skt"
		fileEncoder := zapcore.NewJSONEncoder(zapConfig)
		consoleEncoder := zapcore.NewConsoleEncoder(zapConfig)
		zapCore := zapcore.NewTee(
			zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), config.LogLevel),
			zapcore.NewCore(consoleEncoder, zapcore.Lock(&SyncWrite{os.Stdout}), config.LogLevel))
		logger = zap.New(zapCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger = logger.With(zap.String("app.commit", config.GitCommit), zap.String("app.tag", config.GitTag), zap.String("app.built", config.BuildTime))

	flusher := func() {
		if err := logger.Sync(); err != nil {
			log.Println("error during flushing any buffered log entries:", err)
		}
	}

	return logger, flusher
}

// NewStdLogger bridges zap to libraries expecting a standard *log.Logger.
func NewStdLogger(logger *zap.Logger, name string) *log.Logger {
	l, err := zap.NewStdLogAt(logger.Named(name), zapcore.ErrorLevel)
	if err != nil {
		return zap.NewStdLog(logger.Named(name))
	}
	return l
}

var _ gormlogger.Interface = (*GormLogger)(nil) // ensure GormLogger implements gorm logger.

// GormLogger forwards the ORM logs to zap. Queries are traced at
// debug level and those slower than SlowThreshold at warn level.
type GormLogger struct {
	logger        *zap.Logger
	level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger provides a gorm logger writing into the given zap logger.
func NewGormLogger(logger *zap.Logger) *GormLogger {
	return &GormLogger{
		logger:        logger.Named("gorm").WithOptions(zap.AddCallerSkip(3)),
		level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

func (gl *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	nl := *gl
	nl.level = level
	return &nl
}

func (gl *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if gl.level >= gormlogger.Info {
		gl.logger.Info(fmt.Sprintf(msg, args...), zap.String("request.id", GetValueFromContext(ctx, RequestIDContextKey)))
	}
}

func (gl *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if gl.level >= gormlogger.Warn {
		gl.logger.Warn(fmt.Sprintf(msg, args...), zap.String("request.id", GetValueFromContext(ctx, RequestIDContextKey)))
	}
}

func (gl *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if gl.level >= gormlogger.Error {
		gl.logger.Error(fmt.Sprintf(msg, args...), zap.String("request.id", GetValueFromContext(ctx, RequestIDContextKey)))
	}
}

// Trace logs each executed statement. Record not found errors are
// expected lookups misses so they are not reported as failures.
func (gl *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if gl.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	requestID := GetValueFromContext(ctx, RequestIDContextKey)
	switch {
	case err != nil && gl.level >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound):
		sql, rows := fc()
		gl.logger.Error("gorm: query failed",
			zap.String("request.id", requestID),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	case gl.SlowThreshold != 0 && elapsed > gl.SlowThreshold && gl.level >= gormlogger.Warn:
		sql, rows := fc()
		gl.logger.Warn("gorm: slow query",
			zap.String("request.id", requestID),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
		)
	case gl.level >= gormlogger.Info:
		sql, rows := fc()
		gl.logger.Debug("gorm: query",
			zap.String("request.id", requestID),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
		)
	}
}

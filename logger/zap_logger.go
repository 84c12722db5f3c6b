package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-media/types"
	"github.com/saiset-co/sai-media/utils"
)

type ZapLoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

func NewDefaultLogger(config *types.LoggerConfig) (types.Logger, error) {
	lConfig := &ZapLoggerConfig{
		Format: "console",
		Output: "stdout",
		Level:  config.Level,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, lConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logger config")
		}
		if lConfig.Level == "" {
			lConfig.Level = config.Level
		}
	}

	logger, err := buildZapLogger(lConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	l := NewZapWrapper(logger)

	l.Debug("Logger initialized",
		zap.String("level", lConfig.Level),
		zap.String("format", lConfig.Format),
		zap.String("output", lConfig.Output),
	)

	return l, nil
}

// NewNop returns a logger that discards everything.
func NewNop() types.Logger {
	return NewZapWrapper(zap.NewNop())
}

func buildZapLogger(config *ZapLoggerConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeCaller = ideCallerEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(config.Level))

	switch config.Output {
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case "file":
		if err := ensureLogDir(config.File); err != nil {
			return nil, err
		}
		zapConfig.OutputPaths = []string{config.File}
		zapConfig.ErrorOutputPaths = []string{config.File}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	return zapConfig.Build(zap.AddCaller())
}

func ideCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%s:%d", caller.File, caller.Line))
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	dir := filepath.Dir(logFile)
	if dir == "." && !strings.ContainsRune(logFile, os.PathSeparator) {
		return types.ErrLogFileWrongFormat
	}

	return types.WrapError(os.MkdirAll(dir, 0755), "access denied to log directory")
}

type ZapWrapper struct {
	Logger *zap.Logger
}

func NewZapWrapper(logger *zap.Logger) *ZapWrapper {
	return &ZapWrapper{Logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.Logger.Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.Logger.Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.Logger.Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.Logger.Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.Logger.Log(lvl, msg, fields...)
}

func (z *ZapWrapper) Sync() error {
	return z.Logger.Sync()
}

// ErrorWithErrStack logs the root cause of err and, when err was created with
// github.com/pkg/errors, its stack as a separate field.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Logger.Error(msg, fields...)
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+2)
	allFields = append(allFields, zap.String("error", err.Error()))
	if cause := errors.Cause(err); cause != err {
		allFields = append(allFields, zap.String("cause", cause.Error()))
	}
	if stack := extractStackFromError(err); stack != "" {
		allFields = append(allFields, zap.String("stack", stack))
	}
	allFields = append(allFields, fields...)

	z.Logger.Error(msg, allFields...)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func extractStackFromError(err error) string {
	var st stackTracer
	for e := err; e != nil; {
		if tracer, ok := e.(stackTracer); ok {
			st = tracer
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = unwrapper.Unwrap()
	}

	if st == nil {
		return ""
	}

	return strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
}

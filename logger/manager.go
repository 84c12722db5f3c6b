package logger

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-media/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	state  atomic.Value
}

func NewManager(ctx context.Context, loggerConfig *types.LoggerConfig) (*Manager, error) {
	if loggerConfig == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	logger, err := createLogger(loggerConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:    managerCtx,
		cancel: cancel,
		logger: logger,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	defer m.cancel()

	if syncer, ok := m.logger.(interface{ Sync() error }); ok {
		// Sync on stdout/stderr returns EINVAL on some platforms.
		_ = syncer.Sync()
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) Error(msg string, fields ...zap.Field) {
	m.logger.Error(msg, fields...)
}

func (m *Manager) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	m.logger.ErrorWithErrStack(msg, err, fields...)
}

func (m *Manager) Warn(msg string, fields ...zap.Field) {
	m.logger.Warn(msg, fields...)
}

func (m *Manager) Info(msg string, fields ...zap.Field) {
	m.logger.Info(msg, fields...)
}

func (m *Manager) Debug(msg string, fields ...zap.Field) {
	m.logger.Debug(msg, fields...)
}

func (m *Manager) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	m.logger.Log(lvl, msg, fields...)
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func createLogger(loggerConfig *types.LoggerConfig) (types.Logger, error) {
	loggerName := "default"
	if loggerConfig.Type != "" {
		loggerName = loggerConfig.Type
	}

	switch loggerName {
	case "default", "zap":
		return NewDefaultLogger(loggerConfig)
	default:
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerName)
	}
}

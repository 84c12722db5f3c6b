package config

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

type ConfigurationManager struct {
	configPath string
	loader     *Loader
	config     atomic.Pointer[types.ServiceConfig]
	parser     atomic.Pointer[Parser]
	lastResult LoadResult
	state      atomic.Value
	mu         sync.RWMutex
}

var _ types.ConfigManager = (*ConfigurationManager)(nil)

func NewConfigurationManager(configPath string) (*ConfigurationManager, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	cm := &ConfigurationManager{
		configPath: configPath,
		loader:     NewLoader(),
	}

	cm.state.Store(StateStopped)

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

func (cm *ConfigurationManager) Start() error {
	if !cm.transitionState(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.state.Load().(State) == StateRunning
}

func (cm *ConfigurationManager) Load() error {
	config, raw, result, err := cm.loader.LoadFromFile(cm.configPath)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Store(config)
	cm.parser.Store(NewParser(raw))
	cm.lastResult = result

	return nil
}

// Report logs how the configuration was obtained. It is called once the
// logger exists, which itself depends on the loaded configuration.
func (cm *ConfigurationManager) Report(logger types.Logger) {
	cm.mu.RLock()
	result := cm.lastResult
	cm.mu.RUnlock()

	switch {
	case result.WroteDefaults:
		logger.Info("Config file not found, defaults written", zap.String("path", cm.configPath))
	case result.Reverted:
		logger.Warn("Config file invalid, using defaults",
			zap.String("path", cm.configPath),
			zap.Error(result.Err))
	default:
		logger.Info("Config loaded", zap.String("path", cm.configPath))
	}
}

func (cm *ConfigurationManager) LastResult() LoadResult {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.lastResult
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

// GetAs decodes the subtree of the effective configuration at a dotted path
// such as "resolver.cache" into target.
func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

func (cm *ConfigurationManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

package config

import (
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-media/types"
)

// LoadResult describes how the returned configuration was obtained.
type LoadResult struct {
	WroteDefaults bool
	Reverted      bool
	Err           error
}

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads configPath. A missing file is created with the defaults;
// a file that fails to parse or validate is ignored as a whole and the
// defaults are returned together with the reason in LoadResult.Err.
func (l *Loader) LoadFromFile(configPath string) (*types.ServiceConfig, map[string]interface{}, LoadResult, error) {
	var result LoadResult

	if configPath == "" {
		return nil, nil, result, types.ErrConfigInvalidPath
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		defaults := l.Defaults()
		if err := l.WriteDefaults(configPath, defaults); err != nil {
			return nil, nil, result, err
		}
		result.WroteDefaults = true
		return defaults, toRaw(defaults), result, nil
	}
	if err != nil {
		return nil, nil, result, types.WrapError(err, "failed to read config file")
	}

	cfg, raw, err := l.Parse(data)
	if err != nil {
		defaults := l.Defaults()
		result.Reverted = true
		result.Err = err
		return defaults, toRaw(defaults), result, nil
	}

	return cfg, raw, result, nil
}

// Parse decodes data on top of the defaults and validates the result.
func (l *Loader) Parse(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	cfg := l.Defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.validator.Struct(cfg); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return cfg, toRaw(cfg), nil
}

func (l *Loader) WriteDefaults(configPath string, cfg *types.ServiceConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return types.WrapError(err, "failed to marshal default config")
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return types.WrapError(err, "failed to create config directory")
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return types.WrapError(err, "failed to write default config")
	}

	return nil
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name: "sai-media",
		Logger: &types.LoggerConfig{
			Level: "info",
			Config: map[string]interface{}{
				"format": "console",
				"output": "stdout",
			},
		},
		APIEndpoints: &types.APIEndpoints{},
		Cache: &types.MediaCacheConfig{
			Dir:           "./cache",
			MaxSizeMB:     500,
			MaxAgeHours:   24,
			ChunkSize:     8192,
			SweepInterval: "@every 1h",
		},
		Download: &types.DownloadConfig{
			Timeout:    30,
			MaxRetries: 3,
			RetryDelay: 1,
			MaxWorkers: 4,
		},
		Batch: &types.BatchConfig{
			ImageLimit:     20,
			DelaySeconds:   1.5,
			PollIntervalMs: 200,
			SummaryCount:   types.SummaryCountDeclared,
		},
		MaxVideoSizeMB: 100,
		Resolver: &types.ResolverConfig{
			Timeout: 10,
			Cache: &types.ResponseCacheConfig{
				Enabled:    true,
				Type:       "memory",
				TTLSeconds: 600,
				MaxEntries: 1000,
			},
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  60,
				HalfOpenRequests: 1,
			},
		},
		Sink: &types.SinkConfig{
			Type: "log",
			Webhook: &types.WebhookConfig{
				Timeout: 30,
			},
		},
		Server: &types.HTTPConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
		},
		Metrics: &types.MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "sai_media",
			GoMetrics: true,
		},
		Cron: &types.CronConfig{
			Timezone: "UTC",
		},
		Commands: []types.CommandConfig{
			{Trigger: "parse video", Action: types.ActionVideo},
			{Trigger: "parse gallery", Action: types.ActionGallery},
			{Trigger: "clear cache", Action: types.ActionClearCache},
			{Trigger: "cache status", Action: types.ActionCacheStatus},
			{Trigger: "media help", Action: types.ActionHelp},
		},
	}
}

func toRaw(cfg *types.ServiceConfig) map[string]interface{} {
	raw := make(map[string]interface{})

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return raw
	}

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return make(map[string]interface{})
	}

	return raw
}

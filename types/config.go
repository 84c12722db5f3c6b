package types

import (
	"time"
)

type ConfigManager interface {
	LifecycleManager
	Load() error
	GetConfig() *ServiceConfig
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name           string            `yaml:"name" json:"name" validate:"required"`
	Logger         *LoggerConfig     `yaml:"logger" json:"logger" validate:"required"`
	APIEndpoints   *APIEndpoints     `yaml:"api_endpoints" json:"api_endpoints" validate:"required"`
	Cache          *MediaCacheConfig `yaml:"cache" json:"cache" validate:"required"`
	Download       *DownloadConfig   `yaml:"download" json:"download" validate:"required"`
	Batch          *BatchConfig      `yaml:"batch" json:"batch" validate:"required"`
	MaxVideoSizeMB int               `yaml:"max_video_size_mb" json:"max_video_size_mb" validate:"min=1"`
	Resolver       *ResolverConfig   `yaml:"resolver" json:"resolver" validate:"required"`
	Sink           *SinkConfig       `yaml:"sink" json:"sink" validate:"required"`
	Server         *HTTPConfig       `yaml:"server" json:"server" validate:"required"`
	Metrics        *MetricsConfig    `yaml:"metrics" json:"metrics" validate:"required"`
	Cron           *CronConfig       `yaml:"cron" json:"cron" validate:"required"`
	Commands       []CommandConfig   `yaml:"commands" json:"commands" validate:"dive"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"omitempty,oneof=default zap"`
	Level  string      `yaml:"level" json:"level" validate:"required,oneof=debug info warn warning error fatal"`
	Config interface{} `yaml:"config" json:"config"`
}

type APIEndpoints struct {
	Video string `yaml:"video" json:"video" validate:"omitempty,url"`
	Image string `yaml:"image" json:"image" validate:"omitempty,url"`
}

type MediaCacheConfig struct {
	Dir           string  `yaml:"dir" json:"dir" validate:"required"`
	MaxSizeMB     float64 `yaml:"max_size_mb" json:"max_size_mb" validate:"gt=0"`
	MaxAgeHours   float64 `yaml:"max_age_hours" json:"max_age_hours" validate:"gt=0"`
	ChunkSize     int     `yaml:"chunk_size" json:"chunk_size" validate:"min=512,max=16777216"`
	SweepInterval string  `yaml:"sweep_interval" json:"sweep_interval" validate:"required"`
}

func (c *MediaCacheConfig) MaxBytes() int64 {
	return int64(c.MaxSizeMB * 1024 * 1024)
}

func (c *MediaCacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours * float64(time.Hour))
}

type DownloadConfig struct {
	Timeout    int     `yaml:"timeout" json:"timeout" validate:"min=1"`
	MaxRetries int     `yaml:"max_retries" json:"max_retries" validate:"min=0,max=20"`
	RetryDelay float64 `yaml:"retry_delay" json:"retry_delay" validate:"min=0"`
	MaxWorkers int     `yaml:"max_workers" json:"max_workers" validate:"min=1,max=64"`
}

func (c *DownloadConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *DownloadConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay * float64(time.Second))
}

const (
	SummaryCountDeclared  = "declared"
	SummaryCountDelivered = "delivered"
)

type BatchConfig struct {
	ImageLimit     int     `yaml:"image_limit" json:"image_limit" validate:"min=0"`
	DelaySeconds   float64 `yaml:"delay_seconds" json:"delay_seconds" validate:"min=0"`
	PollIntervalMs int     `yaml:"poll_interval_ms" json:"poll_interval_ms" validate:"min=10,max=60000"`
	SummaryCount   string  `yaml:"summary_count" json:"summary_count" validate:"oneof=declared delivered"`
}

func (c *BatchConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

func (c *BatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

type ResolverConfig struct {
	Timeout        int                   `yaml:"timeout" json:"timeout" validate:"min=1"`
	Cache          *ResponseCacheConfig  `yaml:"cache" json:"cache" validate:"required"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker" validate:"required"`
}

type ResponseCacheConfig struct {
	Enabled    bool         `yaml:"enabled" json:"enabled"`
	Type       string       `yaml:"type" json:"type" validate:"omitempty,oneof=memory redis"`
	TTLSeconds int          `yaml:"ttl_seconds" json:"ttl_seconds" validate:"min=0"`
	MaxEntries int          `yaml:"max_entries" json:"max_entries" validate:"min=0"`
	Redis      *RedisConfig `yaml:"redis" json:"redis"`
}

func (c *ResponseCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type RedisConfig struct {
	Addr         string `yaml:"addr" json:"addr" validate:"required"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db" validate:"min=0"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size" validate:"min=0"`
	DialTimeout  int    `yaml:"dial_timeout" json:"dial_timeout" validate:"min=0"`
	ReadTimeout  int    `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout int    `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	KeyPrefix    string `yaml:"key_prefix" json:"key_prefix"`
}

type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled" json:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" json:"failure_threshold" validate:"min=0"`
	RecoveryTimeout  int  `yaml:"recovery_timeout" json:"recovery_timeout" validate:"min=0"`
	HalfOpenRequests int  `yaml:"half_open_requests" json:"half_open_requests" validate:"min=0"`
}

type SinkConfig struct {
	Type      string           `yaml:"type" json:"type" validate:"required,oneof=log webhook websocket"`
	Webhook   *WebhookConfig   `yaml:"webhook" json:"webhook"`
	Websocket *WebsocketConfig `yaml:"websocket" json:"websocket"`
}

type WebhookConfig struct {
	URL     string            `yaml:"url" json:"url" validate:"omitempty,url"`
	Secret  string            `yaml:"secret" json:"secret"`
	Timeout int               `yaml:"timeout" json:"timeout" validate:"min=0"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

type WebsocketConfig struct {
	URL     string            `yaml:"url" json:"url" validate:"omitempty,url"`
	Timeout int               `yaml:"timeout" json:"timeout" validate:"min=0"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

type HTTPConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout  int    `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout int    `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	IdleTimeout  int    `yaml:"idle_timeout" json:"idle_timeout" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path" json:"path" validate:"required_if=Enabled true"`
	Namespace string `yaml:"namespace" json:"namespace"`
	GoMetrics bool   `yaml:"go_metrics" json:"go_metrics"`
}

type CronConfig struct {
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`
}

type CommandConfig struct {
	Trigger string        `yaml:"trigger" json:"trigger" validate:"required"`
	Action  CommandAction `yaml:"action" json:"action" validate:"required,oneof=video gallery clear_cache cache_status help"`
}

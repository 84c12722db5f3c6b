package types

import (
	"context"
	"time"
)

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type HealthStatus string

// LifecycleManager is implemented by every long-running component the
// service starts and stops.
type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

type HealthChecker func(ctx context.Context) HealthCheck

type HealthCheck struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

type HealthReport struct {
	Service   string                 `json:"service"`
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
}

func Healthy(message string) HealthCheck {
	return HealthCheck{Status: StatusHealthy, Message: message}
}

func Unhealthy(message string) HealthCheck {
	return HealthCheck{Status: StatusUnhealthy, Message: message}
}

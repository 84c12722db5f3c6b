package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-media/types"
)

const defaultCheckTimeout = 5 * time.Second

// Manager runs the registered component checks concurrently and folds them
// into one report. Any unhealthy check makes the report unhealthy.
type Manager struct {
	logger       types.Logger
	service      string
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	mu           sync.RWMutex
	checkTimeout time.Duration
}

func NewManager(service string, logger types.Logger) *Manager {
	return &Manager{
		logger:       logger,
		service:      service,
		checkers:     make(map[string]types.HealthChecker),
		startTime:    time.Now(),
		checkTimeout: defaultCheckTimeout,
	}
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// Names returns the registered check names in sorted order.
func (hm *Manager) Names() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return hm.buildReport(results)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				hm.logger.Error("Health check panicked",
					zap.String("check", name),
					zap.Any("panic", r))
				resultChan <- types.Unhealthy(fmt.Sprintf("health check panicked: %v", r))
			}
		}()

		resultChan <- checker(ctx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-ctx.Done():
		result = types.Unhealthy("health check timeout")
	}

	result.Name = name
	result.Duration = time.Since(start)
	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	overallStatus := types.StatusHealthy
	for _, result := range results {
		if result.Status != types.StatusHealthy {
			overallStatus = types.StatusUnhealthy
		}
	}

	return types.HealthReport{
		Service:   hm.service,
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime).Truncate(time.Second).String(),
		Checks:    results,
	}
}

// Running adapts a lifecycle component into a checker.
func Running(component types.LifecycleManager) types.HealthChecker {
	return func(context.Context) types.HealthCheck {
		if component.IsRunning() {
			return types.Healthy("running")
		}
		return types.Unhealthy("not running")
	}
}

package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-media/metrics"
	"github.com/saiset-co/sai-media/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager runs named periodic jobs. Specs accept an optional seconds field
// and descriptors such as "@every 1h" or "@daily".
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         *metrics.Metrics
	cron            *cron.Cron
	parser          cron.Parser
	timezone        *time.Location
	jobs            map[string]*types.JobEntry
	state           atomic.Value
	mu              sync.RWMutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
}

var _ types.CronManager = (*Manager)(nil)

func NewManager(ctx context.Context, config *types.CronConfig, logger types.Logger, m *metrics.Metrics) *Manager {
	timezone := time.UTC
	if config != nil && config.Timezone != "" {
		if loc, err := time.LoadLocation(config.Timezone); err == nil {
			timezone = loc
		} else {
			logger.Warn("Unknown cron timezone, using UTC",
				zap.String("timezone", config.Timezone),
				zap.Error(err))
		}
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronL := cronLogger{logger: logger}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: m,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cronL)),
			cron.WithLogger(cronL),
		),
		parser:          parser,
		timezone:        timezone,
		jobs:            make(map[string]*types.JobEntry),
		shutdown:        make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	manager.state.Store(StateStopped)

	return manager
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}

	if job == nil {
		return types.ErrCronJobIsNil
	}

	if _, err := m.parser.Parse(spec); err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%q: %v", spec, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.shutdown:
		return types.ErrCronSchedulerStopped
	default:
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.ErrCronJobExists
	}

	entryID, err := m.cron.AddFunc(spec, m.wrapJob(jobName, job))
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%q: %v", spec, err)
	}

	entry := &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		AddedAt: time.Now(),
	}
	if cronEntry := m.cron.Entry(entryID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}

	m.jobs[jobName] = entry

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

// Jobs returns a snapshot of the registered jobs.
func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]types.JobEntry, 0, len(m.jobs))
	for _, entry := range m.jobs {
		jobs = append(jobs, *entry)
	}
	return jobs
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	select {
	case <-m.shutdown:
		m.setState(StateStopped)
		return types.ErrCronSchedulerStopped
	default:
	}

	m.cron.Start()
	m.setState(StateRunning)

	m.logger.Info("Cron manager started", zap.String("timezone", m.timezone.String()))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrCronSchedulerStopped
	}

	var err error
	m.shutdownOnce.Do(func() {
		defer func() {
			m.setState(StateStopped)
			m.cancel()
		}()

		close(m.shutdown)
		err = m.stop()

		if err == nil {
			m.logger.Info("Cron scheduler stopped gracefully")
		}
	})

	return err
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stopCtx := m.cron.Stop()

		select {
		case <-stopCtx.Done():
			return nil
		case <-gCtx.Done():
			return types.ErrCronJobTimeout
		}
	})

	if err := g.Wait(); err != nil {
		m.logger.Warn("Cron manager stop timeout, a running job did not finish", zap.Error(err))
		return err
	}

	return nil
}

func (m *Manager) wrapJob(jobName string, job func()) func() {
	return func() {
		select {
		case <-m.shutdown:
			m.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		default:
		}

		startTime := time.Now()
		m.updateJobStart(jobName, startTime)

		m.logger.Debug("Cron job started", zap.String("job_name", jobName))

		err := runSafely(job)
		duration := time.Since(startTime)

		result := "success"
		if err != nil {
			result = "error"
		}

		m.metrics.CronJob(jobName, result, duration.Seconds())
		m.updateJobFinish(jobName, duration, err)

		if err != nil {
			m.logger.Error("Cron job failed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration),
				zap.Error(err))
			return
		}

		m.logger.Debug("Cron job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration))
	}
}

func runSafely(job func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
		}
	}()

	job()
	return nil
}

func (m *Manager) updateJobStart(jobName string, startTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.jobs[jobName]; exists {
		entry.LastRun = startTime
		entry.Error = nil
	}
}

func (m *Manager) updateJobFinish(jobName string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastDuration = duration
	entry.RunCount++
	entry.Error = err

	if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, toFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(toFields(keysAndValues), zap.Error(err))
	l.logger.Error("cron: "+msg, fields...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}

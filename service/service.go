package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-media/cache"
	"github.com/saiset-co/sai-media/client"
	"github.com/saiset-co/sai-media/command"
	"github.com/saiset-co/sai-media/config"
	"github.com/saiset-co/sai-media/cron"
	"github.com/saiset-co/sai-media/health"
	"github.com/saiset-co/sai-media/logger"
	"github.com/saiset-co/sai-media/media"
	"github.com/saiset-co/sai-media/metrics"
	"github.com/saiset-co/sai-media/resolver"
	"github.com/saiset-co/sai-media/scheduler"
	"github.com/saiset-co/sai-media/server"
	"github.com/saiset-co/sai-media/sink"
	"github.com/saiset-co/sai-media/store"
	"github.com/saiset-co/sai-media/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	JobCacheExpirySweep = "cache-expiry-sweep"
	JobCacheGauges      = "cache-gauges"

	cacheGaugesSpec = "@every 1m"
)

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	configPath      string
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration

	config    *config.ConfigurationManager
	logger    *logger.Manager
	metrics   *metrics.Metrics
	cache     types.ResponseCache
	store     *store.Store
	sink      types.Sink
	scheduler *scheduler.Scheduler
	cron      *cron.Manager
	health    *health.Manager
	router    *command.Router
	server    *server.FastHTTPServer
}

// NewService builds every component from the configuration at configPath.
// Nothing listens or runs in the background until Start.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	configManager, err := config.NewConfigurationManager(configPath)
	if err != nil {
		return nil, err
	}
	cfg := configManager.GetConfig()

	loggerManager, err := logger.NewManager(ctx, cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}
	configManager.Report(loggerManager)

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		configPath:      configPath,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		config:          configManager,
		logger:          loggerManager,
	}

	s.state.Store(StateStopped)

	if err := s.build(cfg); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) build(cfg *types.ServiceConfig) error {
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		s.metrics = metrics.New(cfg.Metrics)
	}

	responseCache, err := cache.NewManager(s.ctx, s.logger, cfg.Resolver.Cache)
	if err != nil {
		return types.WrapError(err, "failed to create resolver cache")
	}
	s.cache = responseCache

	mediaStore, err := store.New(store.NewConfig(cfg.Cache), s.logger, s.metrics)
	if err != nil {
		return types.WrapError(err, "failed to open media cache")
	}
	s.store = mediaStore

	deliverySink, err := sink.New(cfg.Sink, mediaStore, s.logger)
	if err != nil {
		return types.WrapError(err, "failed to create sink")
	}
	s.sink = deliverySink

	fetcher := client.NewFetcher(client.NewFetcherConfig(cfg.Download, cfg.Cache), s.logger, s.metrics)
	resolverClient := resolver.New(resolver.NewConfig(cfg.APIEndpoints, cfg.Resolver), responseCache, cfg.Resolver.CircuitBreaker, s.logger, s.metrics)
	orchestrator := media.NewOrchestrator(media.NewConfig(cfg), resolverClient, fetcher, mediaStore, s.logger)

	s.scheduler = scheduler.New(s.ctx, scheduler.NewConfig(cfg.Batch), deliverySink, mediaStore, s.logger, s.metrics)
	s.cron = cron.NewManager(s.ctx, cfg.Cron, s.logger, s.metrics)
	s.router = command.NewRouter(command.NewConfig(cfg), orchestrator, mediaStore, s.scheduler, deliverySink, s.logger, s.metrics)

	s.health = health.NewManager(cfg.Name, s.logger)
	s.health.RegisterChecker("scheduler", health.Running(s.scheduler))
	s.health.RegisterChecker("cron", health.Running(s.cron))
	s.health.RegisterChecker("resolver_cache", health.Running(s.cache))
	s.health.RegisterChecker("store", s.storeCheck)

	if cfg.Server != nil && cfg.Server.Enabled {
		router := server.NewRouter()

		metricsPath := ""
		if cfg.Metrics != nil && cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Path
		}
		server.NewAPI(s.router, mediaStore, s.health, s.logger).Register(router, metricsPath, s.metrics.Handler())

		s.server = server.NewHTTPServer(s.ctx, cfg.Server, router, s.logger)
	}

	return nil
}

func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service run panic", zap.String("stack", string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	s.logger.Info("Starting service", zap.String("config", s.configPath))

	if err := s.startComponents(); err != nil {
		s.logger.Error("Failed to start components", zap.Error(err))
		if stopErr := s.stopComponents(); stopErr != nil {
			s.logger.Error("Error during service shutdown", zap.Error(stopErr))
		}
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	s.logger.Info("Service stopped gracefully")
	_ = s.logger.Stop()

	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) Store() *store.Store {
	return s.store
}

func (s *Service) Router() *command.Router {
	return s.router
}

func (s *Service) Logger() types.Logger {
	return s.logger
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) startComponents() error {
	cfg := s.config.GetConfig()

	if err := s.config.Start(); err != nil {
		return types.WrapError(err, "failed to start config manager")
	}

	if err := s.logger.Start(); err != nil {
		return types.WrapError(err, "failed to start logger")
	}

	if err := s.cache.Start(); err != nil {
		s.logger.Error("Failed to start resolver cache, responses will not be cached", zap.Error(err))
	}

	count, freed := s.store.EvictExpired()
	s.logger.Info("Startup cache sweep finished",
		zap.String("dir", s.store.Dir()),
		zap.Int("files", count),
		zap.String("freed", humanize.IBytes(uint64(freed))))

	if err := s.cron.Add(JobCacheExpirySweep, cfg.Cache.SweepInterval, s.sweepCache); err != nil {
		return types.WrapError(err, "failed to schedule cache sweep")
	}

	if err := s.cron.Add(JobCacheGauges, cacheGaugesSpec, func() { s.store.Status() }); err != nil {
		return types.WrapError(err, "failed to schedule cache gauges")
	}

	if err := s.cron.Start(); err != nil {
		return types.WrapError(err, "failed to start cron manager")
	}

	if err := s.scheduler.Start(); err != nil {
		return types.WrapError(err, "failed to start delivery scheduler")
	}

	if s.server != nil {
		if err := s.server.Start(); err != nil {
			return types.WrapError(err, "failed to start HTTP server")
		}
	}

	s.logger.Info("All components started successfully")
	return nil
}

// stopComponents stops in reverse start order. The scheduler finishes its
// current send before abandoning the remaining plans.
func (s *Service) stopComponents() error {
	s.logger.Info("Stopping service components...")

	var errs []error

	if s.server != nil && s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			errs = append(errs, types.WrapError(err, "http server"))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	for name, component := range map[string]types.LifecycleManager{
		"delivery scheduler": s.scheduler,
		"cron manager":       s.cron,
	} {
		if !component.IsRunning() {
			continue
		}
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			if err := component.Stop(); err != nil {
				s.logger.Error("Failed to stop component", zap.String("component", name), zap.Error(err))
				return types.WrapError(err, name)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if closer, ok := s.sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, types.WrapError(err, "delivery sink"))
		}
	}

	if s.cache.IsRunning() {
		if err := s.cache.Stop(); err != nil {
			errs = append(errs, types.WrapError(err, "resolver cache"))
		}
	}

	if s.config.IsRunning() {
		_ = s.config.Stop()
	}

	if len(errs) > 0 {
		return types.NewErrorf("%d components failed to stop: %v", len(errs), errs)
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

func (s *Service) sweepCache() {
	count, freed := s.store.EvictExpired()
	if count == 0 {
		return
	}
	s.logger.Info("Expired cache files removed",
		zap.Int("files", count),
		zap.String("freed", humanize.IBytes(uint64(freed))))
}

func (s *Service) storeCheck(context.Context) types.HealthCheck {
	if _, err := os.Stat(s.store.Dir()); err != nil {
		return types.Unhealthy(err.Error())
	}
	return types.Healthy(command.FormatStatus(s.store.Status(), s.scheduler.Pending()))
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
			s.logger.Info("Service context cancelled")
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info("Service shutdown: context done")
	}
}

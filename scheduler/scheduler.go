package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

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

const defaultPollInterval = 200 * time.Millisecond

type Config struct {
	Delay        time.Duration
	PollInterval time.Duration
}

func NewConfig(c *types.BatchConfig) Config {
	return Config{
		Delay:        c.Delay(),
		PollInterval: c.PollInterval(),
	}
}

// Scheduler delivers multi-item plans one item at a time, waiting Delay
// between consecutive items of the same plan.
type Scheduler struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         *metrics.Metrics
	sink            types.Sink
	releaser        types.ArtifactReleaser
	config          Config
	mu              sync.Mutex
	plans           []*types.DeliveryPlan
	closed          bool
	state           atomic.Value
	done            chan struct{}
	shutdownTimeout time.Duration
	now             func() time.Time
}

type dueItem struct {
	plan *types.DeliveryPlan
	item types.Deliverable
}

func New(ctx context.Context, config Config, sink types.Sink, releaser types.ArtifactReleaser, logger types.Logger, m *metrics.Metrics) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.Delay < 0 {
		config.Delay = 0
	}

	schedulerCtx, cancel := context.WithCancel(ctx)

	s := &Scheduler{
		ctx:             schedulerCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         m,
		sink:            sink,
		releaser:        releaser,
		config:          config,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		now:             time.Now,
	}

	s.state.Store(StateStopped)

	return s
}

// Enqueue registers a plan for paced delivery and returns its ID. It only
// takes the plan lock and never waits on the sink.
func (s *Scheduler) Enqueue(receiver string, items []types.Deliverable) (string, error) {
	if len(items) == 0 {
		return "", types.ErrPlanEmpty
	}

	now := s.now()
	plan := &types.DeliveryPlan{
		ID:         uuid.NewString(),
		Receiver:   receiver,
		Items:      items,
		NextSendAt: now,
		State:      types.PlanPending,
		CreatedAt:  now,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", types.ErrSchedulerStopped
	}
	s.plans = append(s.plans, plan)
	active := len(s.plans)
	s.mu.Unlock()

	s.metrics.SetActivePlans(active)

	s.logger.Debug("Delivery plan enqueued",
		zap.String("plan_id", plan.ID),
		zap.String("receiver", receiver),
		zap.Int("items", len(items)))

	return plan.ID, nil
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans)
}

func (s *Scheduler) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrSchedulerStopped
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.setState(StateStopped)
		return types.ErrSchedulerStopped
	}

	go s.run()

	s.setState(StateRunning)
	s.logger.Info("Delivery scheduler started",
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Duration("delay", s.config.Delay))

	return nil
}

// Stop ends the poll loop after its current iteration and abandons the
// plans that are still pending, releasing their artifacts. When the loop
// outlives the shutdown timeout, plans with a send in flight stay with the
// loop, which abandons and releases them once the send returns.
func (s *Scheduler) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrSchedulerStopped
	}

	defer s.setState(StateStopped)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	stopped := true
	select {
	case <-s.done:
	case <-timer.C:
		stopped = false
		s.logger.Warn("Delivery scheduler stop timeout, leaving plans with a send in flight to the loop")
	}

	var remaining, inFlight []*types.DeliveryPlan

	s.mu.Lock()
	for _, plan := range s.plans {
		if !stopped && plan.State == types.PlanSending {
			inFlight = append(inFlight, plan)
			continue
		}
		remaining = append(remaining, plan)
	}
	s.plans = inFlight
	s.mu.Unlock()

	for _, plan := range remaining {
		types.ReleaseAll(s.releaser, plan.Items)
		s.metrics.PlanFinished(types.PlanFailed)
	}
	s.metrics.SetActivePlans(len(inFlight))

	s.logger.Info("Delivery scheduler stopped",
		zap.Int("abandoned_plans", len(remaining)),
		zap.Int("in_flight_plans", len(inFlight)))

	return nil
}

func (s *Scheduler) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Delivery scheduler iteration panicked", zap.Any("panic", r))
		}
	}()

	now := s.now()

	s.mu.Lock()
	due := make([]dueItem, 0, len(s.plans))
	for _, plan := range s.plans {
		if plan.State != types.PlanPending || plan.Done() || now.Before(plan.NextSendAt) {
			continue
		}
		plan.State = types.PlanSending
		due = append(due, dueItem{plan: plan, item: plan.Items[plan.Index]})
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	sendCtx := context.WithoutCancel(s.ctx)

	for _, d := range due {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()

		var err error
		if closed {
			err = types.ErrSchedulerStopped
		} else {
			err = s.send(sendCtx, d.plan.Receiver, d.item)
		}

		s.mu.Lock()
		finished := s.advanceLocked(d.plan, err)
		if !finished && s.closed {
			d.plan.State = types.PlanFailed
			s.removeLocked(d.plan)
			finished = true
		}
		active := len(s.plans)
		s.mu.Unlock()

		s.metrics.SetActivePlans(active)

		switch {
		case closed:
			s.logger.Debug("Delivery plan abandoned on stop",
				zap.String("plan_id", d.plan.ID),
				zap.Int("sent", d.plan.Index))
		case err != nil:
			s.metrics.Delivery("scheduled", "error")
			s.logger.Warn("Delivery plan abandoned",
				zap.String("plan_id", d.plan.ID),
				zap.String("receiver", d.plan.Receiver),
				zap.Int("sent", d.plan.Index),
				zap.Int("dropped", len(d.plan.Items)-d.plan.Index),
				zap.Error(types.WrapError(types.ErrSchedulerSend, err.Error())))
		default:
			s.metrics.Delivery("scheduled", "success")
		}

		if finished {
			types.ReleaseAll(s.releaser, d.plan.Items)
			s.metrics.PlanFinished(d.plan.State)
		}
	}
}

// advanceLocked applies the send result to plan and reports whether the
// plan left the active set.
func (s *Scheduler) advanceLocked(plan *types.DeliveryPlan, err error) bool {
	if err != nil {
		plan.State = types.PlanFailed
		s.removeLocked(plan)
		return true
	}

	plan.Index++
	if plan.Done() {
		plan.State = types.PlanCompleted
		s.removeLocked(plan)
		s.logger.Debug("Delivery plan completed",
			zap.String("plan_id", plan.ID),
			zap.Int("items", len(plan.Items)))
		return true
	}

	plan.NextSendAt = s.now().Add(s.config.Delay)
	plan.State = types.PlanPending
	return false
}

func (s *Scheduler) removeLocked(plan *types.DeliveryPlan) {
	for i, p := range s.plans {
		if p == plan {
			s.plans = append(s.plans[:i], s.plans[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) send(ctx context.Context, receiver string, item types.Deliverable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrSinkRejected, "sink panic: %v", r)
		}
	}()

	return s.sink.Send(ctx, receiver, item)
}

func (s *Scheduler) getState() State {
	return s.state.Load().(State)
}

func (s *Scheduler) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Scheduler) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

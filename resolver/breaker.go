package resolver

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/types"
)

type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one upstream endpoint. After FailureThreshold
// consecutive failures it rejects calls until RecoveryTimeout passes, then
// lets HalfOpenRequests probes through before closing again.
type CircuitBreaker struct {
	enabled          bool
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenRequests int
	logger           types.Logger
	name             string
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	inFlight         int
	lastFail         time.Time
	now              func() time.Time
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger, name string) *CircuitBreaker {
	cb := &CircuitBreaker{
		logger: logger,
		name:   name,
		state:  BreakerClosed,
		now:    time.Now,
	}

	if config == nil || !config.Enabled {
		return cb
	}

	cb.enabled = true
	cb.failureThreshold = max(config.FailureThreshold, 1)
	cb.recoveryTimeout = time.Duration(config.RecoveryTimeout) * time.Second
	cb.halfOpenRequests = max(config.HalfOpenRequests, 1)

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	if cb == nil || !cb.enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.lastFail) < cb.recoveryTimeout {
			return false
		}
		cb.transitionLocked(BreakerHalfOpen)
		cb.inFlight = 1
		return true
	case BreakerHalfOpen:
		if cb.inFlight >= cb.halfOpenRequests {
			return false
		}
		cb.inFlight++
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil || !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenRequests {
			cb.transitionLocked(BreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFail = cb.now()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.transitionLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.transitionLocked(BreakerOpen)
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	if cb == nil {
		return BreakerClosed
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.inFlight = 0

	if to == BreakerOpen {
		cb.logger.Warn("Circuit breaker opened",
			zap.String("endpoint", cb.name),
			zap.String("from", from.String()),
			zap.Duration("recovery_timeout", cb.recoveryTimeout))
		return
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("endpoint", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// isBreakerFailure reports whether a call outcome counts against the
// upstream. Rejections with a well formed body do not.
func isBreakerFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}

	switch statusCode {
	case 408, 429, 502, 503, 504:
		return true
	default:
		return statusCode >= 500
	}
}

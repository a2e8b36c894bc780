package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen 熔断中，调用未执行
var ErrOpen = stderrors.New("circuit breaker is open")

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常工作
	StateOpen                  // 熔断中
	StateHalfOpen              // 尝试恢复
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker 保护外部依赖（Redis、短信、webhook）
type CircuitBreaker struct {
	name             string
	maxFailures      int
	resetTimeout     time.Duration
	halfOpenMaxCalls int
	logger           *zap.Logger
	nowFn            func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	lastFailTime  time.Time
	halfOpenCalls int
}

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		resetTimeout:     resetTimeout,
		halfOpenMaxCalls: 1,
		logger:           logger,
		nowFn:            time.Now,
		state:            StateClosed,
	}
}

// WithClock 测试注入时钟
func (cb *CircuitBreaker) WithClock(nowFn func() time.Time) *CircuitBreaker {
	cb.nowFn = nowFn
	return cb
}

// Call 执行带熔断保护的操作；熔断中返回包装了 ErrOpen 的错误
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(context.Context) error) error {
	if !cb.allowRequest() {
		return fmt.Errorf("%s: %w", cb.name, ErrOpen)
	}

	err := operation(ctx)
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.nowFn().Sub(cb.lastFailTime) < cb.resetTimeout {
			return false
		}
		cb.transitionTo(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.transitionTo(StateClosed)
		}
		return
	}

	cb.failures++
	cb.lastFailTime = cb.nowFn()
	cb.logger.Warn("Protected operation failed",
		zap.String("breaker", cb.name),
		zap.Int("failures", cb.failures),
		zap.String("state", cb.state.String()),
		zap.Error(err),
	)

	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	cb.halfOpenCalls = 0
	if s == StateClosed {
		cb.failures = 0
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("breaker", cb.name),
		zap.String("state", s.String()),
		zap.Duration("reset_timeout", cb.resetTimeout),
	)
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats 获取统计信息
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":       cb.name,
		"state":      cb.state.String(),
		"failures":   cb.failures,
		"last_fail":  cb.lastFailTime,
		"half_calls": cb.halfOpenCalls,
	}
}

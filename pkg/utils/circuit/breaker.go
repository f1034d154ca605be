package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

// State of a breaker guarding a downstream dependency such as the Kafka producer
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	MaxFailures   int                               // Consecutive failures before opening
	Timeout       time.Duration                     // How long the breaker stays open
	MaxRequests   int                               // Trial requests allowed while half-open
	IsSuccessful  func(error) bool                  // Decides whether an error counts as a failure
	OnStateChange func(name string, from, to State) // Called with the lock held
}

func DefaultConfig() Config {
	return Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		MaxRequests: 1,
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about the downstream
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to State) {},
	}
}

var (
	ErrCircuitBreakerOpen = errors.Unavailable("circuit breaker is open")
	ErrTooManyRequests    = errors.ResourceExhausted("too many requests while circuit breaker is half-open")
)

type CircuitBreaker struct {
	name            string
	config          Config
	state           State
	failures        int
	requests        int
	lastFailureTime time.Time
	now             func() time.Time
	mutex           sync.RWMutex
	log             *logger.Logger
}

// Stats is a point-in-time view of a breaker, suitable for health output
type Stats struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	def := DefaultConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = def.MaxRequests
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = def.IsSuccessful
	}
	if config.OnStateChange == nil {
		config.OnStateChange = def.OnStateChange
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
		log:    logger.GetLogger(fmt.Sprintf("circuit.%s", name)),
	}
}

// Execute runs fn unless the breaker is open. A panic in fn counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(false)
			panic(r)
		}
	}()

	err := fn(ctx)
	cb.afterRequest(cb.config.IsSuccessful(err))
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.config.Timeout {
			return ErrCircuitBreakerOpen
		}
		cb.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.requests >= cb.config.MaxRequests {
			return ErrTooManyRequests
		}
		cb.requests++
		return nil
	default:
		return ErrCircuitBreakerOpen
	}
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		return
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailureTime = cb.now()

	if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.setState(StateOpen)
	}
}

// setState must be called with the lock held
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	cb.state = to
	cb.requests = 0
	if to == StateClosed {
		cb.failures = 0
	}
	if from == to {
		return
	}

	if to == StateOpen {
		cb.log.Warnf("Circuit breaker '%s' opened after %d failures", cb.name, cb.failures)
	} else {
		cb.log.Infof("Circuit breaker '%s' transitioned from %s to %s", cb.name, from, to)
	}
	cb.config.OnStateChange(cb.name, from, to)
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return Stats{
		Name:     cb.name,
		State:    cb.state.String(),
		Failures: cb.failures,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

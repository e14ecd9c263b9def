package env

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcpworld/harness/internal/observability"
	"github.com/mcpworld/harness/internal/retry"
)

// Service is a long-lived component managed by the supervisor.
type Service interface {
	// Name identifies the service in logs and metrics.
	Name() string

	// Run blocks until the service stops or ctx is cancelled. Returning
	// an error while the supervisor is running triggers a restart.
	Run(ctx context.Context) error
}

// Supervisor runs services and restarts crashed ones with backoff.
// Shutdown stops services in reverse registration order.
type Supervisor struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	services []Service
	cancels  []context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(logger *observability.Logger, metrics *observability.Metrics) *Supervisor {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Supervisor{logger: logger, metrics: metrics}
}

// Add registers a service. Must be called before Start.
func (s *Supervisor) Add(svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	s.services = append(s.services, svc)
	return nil
}

// Start launches all registered services.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	s.started = true

	for _, svc := range s.services {
		svcCtx, cancel := context.WithCancel(ctx)
		s.cancels = append(s.cancels, cancel)
		s.wg.Add(1)
		go s.supervise(svcCtx, svc)
	}
	return nil
}

// Stop cancels services in reverse order and waits for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for i := len(cancels) - 1; i >= 0; i-- {
		cancels[i]()
	}
	s.wg.Wait()
}

// supervise runs one service, restarting it with backoff until the
// context is cancelled.
func (s *Supervisor) supervise(ctx context.Context, svc Service) {
	defer s.wg.Done()

	backoff := retry.Config{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2,
	}

	delay := backoff.InitialDelay
	for {
		start := time.Now()
		err := svc.Run(ctx)
		if ctx.Err() != nil {
			s.logger.Info(ctx, "service stopped", "service", svc.Name())
			return
		}
		if err != nil {
			s.logger.Error(ctx, "service crashed", "service", svc.Name(), "error", err)
		} else {
			s.logger.Warn(ctx, "service exited unexpectedly", "service", svc.Name())
		}

		if s.metrics != nil {
			s.metrics.ServiceRestarts.WithLabelValues(svc.Name()).Inc()
		}

		// A run that survived a while earns a fresh backoff window.
		if time.Since(start) > time.Minute {
			delay = backoff.InitialDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * backoff.Factor)
		if delay > backoff.MaxDelay {
			delay = backoff.MaxDelay
		}
	}
}

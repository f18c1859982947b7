// Package retention deletes old conversations on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/sous/internal/observability"
)

// Deleter removes conversations last updated before a cutoff.
// sessions.Store implements it.
type Deleter interface {
	DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config configures a Sweeper.
type Config struct {
	// Schedule is a standard five-field cron expression or a descriptor such
	// as @daily.
	Schedule string

	// MaxAge is how long a conversation survives after its last update.
	MaxAge time.Duration
}

// Sweeper runs retention sweeps on a schedule.
type Sweeper struct {
	store        Deleter
	schedule     cron.Schedule
	maxAge       time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	next    time.Time
	started bool
	wg      sync.WaitGroup
}

// Option configures the sweeper.
type Option func(*Sweeper)

// WithLogger configures the sweeper logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger.With("component", "retention")
		}
	}
}

// WithMetrics records deleted conversations.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = metrics
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides how often the schedule is checked.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewSweeper validates cfg and creates a sweeper. It does not start running
// until Start is called.
func NewSweeper(store Deleter, cfg Config, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("retention: store is required")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention: max age must be positive, got %s", cfg.MaxAge)
	}
	expr := strings.TrimSpace(cfg.Schedule)
	if expr == "" {
		return nil, errors.New("retention: schedule is required")
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", expr, err)
	}

	s := &Sweeper{
		store:        store,
		schedule:     schedule,
		maxAge:       cfg.MaxAge,
		logger:       slog.Default().With("component", "retention"),
		now:          time.Now,
		tickInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.next = s.schedule.Next(s.now())
	return s, nil
}

// Next returns when the next sweep is due.
func (s *Sweeper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Start checks the schedule every tick until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("retention sweeper started", "max_age", s.maxAge, "next", s.Next())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunDue(ctx)
			}
		}
	}()
}

// Stop waits for the sweep loop to exit. Cancel the Start context first.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunDue sweeps if the schedule says a sweep is due, and reports whether it
// ran. Missed runs collapse into one.
func (s *Sweeper) RunDue(ctx context.Context) bool {
	now := s.now()

	s.mu.Lock()
	if now.Before(s.next) {
		s.mu.Unlock()
		return false
	}
	s.next = s.schedule.Next(now)
	s.mu.Unlock()

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		s.metrics.RecordError("retention", "sweep")
	}
	return true
}

// Sweep deletes every conversation last updated more than MaxAge ago.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	deleted, err := s.store.DeleteConversationsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete conversations before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.metrics.RecordRetentionSweep(deleted)
	s.logger.Info("retention sweep finished", "cutoff", cutoff, "deleted", deleted)
	return deleted, nil
}

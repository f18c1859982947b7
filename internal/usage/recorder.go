package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/sous/internal/storage"
)

// Recorder accumulates monthly counters per user. Increments are atomic: two
// concurrent increments of the same counter both land.
type Recorder interface {
	Increment(ctx context.Context, userID string, counter Counter, amount int64) error
	Snapshot(ctx context.Context, userID, month string) (Snapshot, error)
}

// Snapshot is a user's counters for one month. Missing counters read as zero.
type Snapshot struct {
	UserID string            `json:"userId"`
	Month  string            `json:"month"`
	Values map[Counter]int64 `json:"values"`
}

// Get returns a counter's value.
func (s Snapshot) Get(c Counter) int64 {
	return s.Values[c]
}

// RecordModelCall increments every counter for one model call: tokens in both
// directions, the estimated cost and one message. It stops at the first error.
func RecordModelCall(ctx context.Context, r Recorder, userID string, u *Usage, pricing Pricing) error {
	if r == nil || u == nil {
		return nil
	}
	increments := []struct {
		counter Counter
		amount  int64
	}{
		{CounterInputTokens, u.InputTokens},
		{CounterOutputTokens, u.OutputTokens},
		{CounterCostMicroUSD, pricing.EstimateMicroUSD(u)},
		{CounterMessages, 1},
	}
	for _, inc := range increments {
		if err := r.Increment(ctx, userID, inc.counter, inc.amount); err != nil {
			return fmt.Errorf("increment %s: %w", inc.counter, err)
		}
	}
	return nil
}

func validateIncrement(userID string, counter Counter) error {
	if userID == "" {
		return errors.New("user ID is required")
	}
	if counter == "" {
		return errors.New("counter is required")
	}
	return nil
}

type counterKey struct {
	userID  string
	month   string
	counter Counter
}

type recorderOptions struct {
	now func() time.Time
}

// RecorderOption configures a MemoryRecorder or SQLRecorder.
type RecorderOption func(*recorderOptions)

// WithNow overrides the clock that picks the month an increment lands in.
func WithNow(now func() time.Time) RecorderOption {
	return func(o *recorderOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applyRecorderOptions(opts []RecorderOption) recorderOptions {
	o := recorderOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MemoryRecorder keeps counters in process memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	values map[counterKey]int64
	now    func() time.Time
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder(opts ...RecorderOption) *MemoryRecorder {
	o := applyRecorderOptions(opts)
	return &MemoryRecorder{values: map[counterKey]int64{}, now: o.now}
}

func (m *MemoryRecorder) Increment(ctx context.Context, userID string, counter Counter, amount int64) error {
	if err := validateIncrement(userID, counter); err != nil {
		return err
	}
	key := counterKey{userID: userID, month: MonthKey(m.now()), counter: counter}
	m.mu.Lock()
	m.values[key] += amount
	m.mu.Unlock()
	return nil
}

func (m *MemoryRecorder) Snapshot(ctx context.Context, userID, month string) (Snapshot, error) {
	snap := Snapshot{UserID: userID, Month: month, Values: map[Counter]int64{}}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, v := range m.values {
		if key.userID == userID && key.month == month {
			snap.Values[key.counter] = v
		}
	}
	return snap, nil
}

// SQLRecorder stores counters in the usage_counters table. Each increment is a
// single upsert, so the database serializes concurrent writers.
type SQLRecorder struct {
	db  *storage.DB
	now func() time.Time
}

// NewSQLRecorder creates a recorder on a migrated database.
func NewSQLRecorder(db *storage.DB, opts ...RecorderOption) *SQLRecorder {
	o := applyRecorderOptions(opts)
	return &SQLRecorder{db: db, now: o.now}
}

func (s *SQLRecorder) Increment(ctx context.Context, userID string, counter Counter, amount int64) error {
	if err := validateIncrement(userID, counter); err != nil {
		return err
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO usage_counters (user_id, month, counter, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, month, counter)
		DO UPDATE SET value = usage_counters.value + EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`), userID, MonthKey(now), string(counter), amount, now)
	if err != nil {
		return fmt.Errorf("failed to increment usage counter: %w", err)
	}
	return nil
}

func (s *SQLRecorder) Snapshot(ctx context.Context, userID, month string) (Snapshot, error) {
	snap := Snapshot{UserID: userID, Month: month, Values: map[Counter]int64{}}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT counter, value FROM usage_counters WHERE user_id = $1 AND month = $2
	`), userID, month)
	if err != nil {
		return snap, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var counter string
		var value int64
		if err := rows.Scan(&counter, &value); err != nil {
			return snap, fmt.Errorf("failed to scan usage: %w", err)
		}
		snap.Values[Counter(counter)] = value
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("error iterating usage: %w", err)
	}
	return snap, nil
}

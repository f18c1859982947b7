package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/sous/internal/observability"
	"github.com/haasonsaas/sous/internal/sessions"
	"github.com/haasonsaas/sous/pkg/models"
)

type recordingDeleter struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (d *recordingDeleter) DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cutoffs = append(d.cutoffs, cutoff)
	return d.deleted, d.err
}

func (d *recordingDeleter) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cutoffs)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func TestNewSweeper_Validation(t *testing.T) {
	store := &recordingDeleter{}
	tests := []struct {
		name  string
		store Deleter
		cfg   Config
	}{
		{"missing store", nil, Config{Schedule: "@daily", MaxAge: time.Hour}},
		{"missing schedule", store, Config{MaxAge: time.Hour}},
		{"bad schedule", store, Config{Schedule: "every tuesday", MaxAge: time.Hour}},
		{"zero max age", store, Config{Schedule: "@daily"}},
		{"negative max age", store, Config{Schedule: "@daily", MaxAge: -time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSweeper(tt.store, tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSweeper_RunDueFollowsSchedule(t *testing.T) {
	c := &clock{t: time.Date(2026, 2, 14, 15, 0, 0, 0, time.UTC)}
	store := &recordingDeleter{deleted: 3}
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	s, err := NewSweeper(store, Config{Schedule: "@daily", MaxAge: 90 * 24 * time.Hour},
		WithNow(c.Now), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}

	wantNext := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	if !s.Next().Equal(wantNext) {
		t.Fatalf("Next() = %v, want %v", s.Next(), wantNext)
	}

	if s.RunDue(context.Background()) {
		t.Fatal("sweep ran before it was due")
	}

	c.Set(time.Date(2026, 2, 15, 0, 0, 30, 0, time.UTC))
	if !s.RunDue(context.Background()) {
		t.Fatal("sweep did not run when due")
	}
	if store.calls() != 1 {
		t.Fatalf("store called %d times, want 1", store.calls())
	}
	wantCutoff := time.Date(2025, 11, 17, 0, 0, 30, 0, time.UTC)
	if !store.cutoffs[0].Equal(wantCutoff) {
		t.Fatalf("cutoff = %v, want %v", store.cutoffs[0], wantCutoff)
	}

	if s.RunDue(context.Background()) {
		t.Fatal("sweep ran twice in the same day")
	}

	// Several missed days collapse into one sweep.
	c.Set(time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC))
	s.RunDue(context.Background())
	if store.calls() != 2 {
		t.Fatalf("store called %d times, want 2", store.calls())
	}
	if got := testutil.ToFloat64(metrics.RetentionDeleted); got != 6 {
		t.Fatalf("deleted counter = %v, want 6", got)
	}
}

func TestSweeper_SweepError(t *testing.T) {
	c := &clock{t: time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)}
	store := &recordingDeleter{err: errors.New("database is down")}
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	s, err := NewSweeper(store, Config{Schedule: "0 3 * * *", MaxAge: time.Hour}, WithNow(c.Now), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected sweep error")
	}

	c.Set(time.Date(2026, 2, 15, 3, 0, 0, 0, time.UTC))
	if !s.RunDue(context.Background()) {
		t.Fatal("expected sweep to run")
	}
	if got := testutil.ToFloat64(metrics.ErrorCounter.WithLabelValues("retention", "sweep")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
}

func TestSweeper_DeletesFromStore(t *testing.T) {
	now := time.Date(2026, 2, 14, 15, 0, 0, 0, time.UTC)
	store := sessions.NewMemoryStore()
	ctx := context.Background()

	old := &models.Conversation{UserID: "u1", CreatedAt: now.Add(-100 * 24 * time.Hour)}
	recent := &models.Conversation{UserID: "u1", CreatedAt: now.Add(-time.Hour)}
	for _, conv := range []*models.Conversation{old, recent} {
		if err := store.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}

	s, err := NewSweeper(store, Config{Schedule: "@daily", MaxAge: 90 * 24 * time.Hour},
		WithNow(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	deleted, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if _, err := store.GetConversation(ctx, old.ID, "u1"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("old conversation still present: %v", err)
	}
	if _, err := store.GetConversation(ctx, recent.ID, "u1"); err != nil {
		t.Fatalf("recent conversation removed: %v", err)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	c := &clock{t: time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)}
	store := &recordingDeleter{}
	s, err := NewSweeper(store, Config{Schedule: "@hourly", MaxAge: time.Hour},
		WithNow(c.Now), WithTickInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.Start(ctx)

	c.Set(time.Date(2026, 2, 15, 1, 0, 0, 0, time.UTC))
	deadline := time.Now().Add(2 * time.Second)
	for store.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.calls() != 1 {
		t.Fatalf("store called %d times, want 1", store.calls())
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

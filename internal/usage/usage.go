// Package usage records per-user monthly consumption counters and estimates
// model cost from token counts.
package usage

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Counter names a monthly usage counter.
type Counter string

const (
	CounterInputTokens  Counter = "input_tokens"
	CounterOutputTokens Counter = "output_tokens"
	CounterCostMicroUSD Counter = "cost_microusd"
	CounterMessages     Counter = "messages"
)

// Counters lists every counter in display order.
func Counters() []Counter {
	return []Counter{CounterInputTokens, CounterOutputTokens, CounterCostMicroUSD, CounterMessages}
}

// Usage represents token usage for a single model call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns the total token count.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add adds another usage record to this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Pricing is a model price per million tokens, in US dollars.
type Pricing struct {
	InputPerMTok  float64 `json:"input_per_mtok" yaml:"input_price_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok" yaml:"output_price_per_mtok"`
}

// DefaultPricing returns list prices for the default chat model.
func DefaultPricing() Pricing {
	return Pricing{InputPerMTok: 3.0, OutputPerMTok: 15.0}
}

// Estimate returns the cost of usage in US dollars.
func (p Pricing) Estimate(usage *Usage) float64 {
	if usage == nil {
		return 0
	}
	total := float64(usage.InputTokens)*p.InputPerMTok +
		float64(usage.OutputTokens)*p.OutputPerMTok
	return total / 1_000_000
}

// EstimateMicroUSD returns the cost of usage in millionths of a dollar, rounded
// to the nearest unit so it can be stored in an integer counter.
func (p Pricing) EstimateMicroUSD(usage *Usage) int64 {
	if usage == nil {
		return 0
	}
	micro := float64(usage.InputTokens)*p.InputPerMTok + float64(usage.OutputTokens)*p.OutputPerMTok
	if micro <= 0 || math.IsNaN(micro) || math.IsInf(micro, 0) {
		return 0
	}
	return int64(math.Round(micro))
}

// MonthKey returns the YYYY-MM bucket for t in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0.00"
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatSnapshot renders a month's counters as a single line.
func FormatSnapshot(s Snapshot) string {
	parts := []string{
		fmt.Sprintf("in: %s", FormatTokenCount(s.Get(CounterInputTokens))),
		fmt.Sprintf("out: %s", FormatTokenCount(s.Get(CounterOutputTokens))),
		fmt.Sprintf("messages: %d", s.Get(CounterMessages)),
		fmt.Sprintf("cost: %s", FormatUSD(float64(s.Get(CounterCostMicroUSD))/1_000_000)),
	}
	return fmt.Sprintf("%s %s", s.Month, strings.Join(parts, ", "))
}

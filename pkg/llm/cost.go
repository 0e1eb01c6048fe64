package llm

import (
	"fmt"
	"sync"

	"forge/pkg/config"
)

// CostTracker accumulates token usage across a session and prices it
// using the model's per-million-token rates.
type CostTracker struct {
	mu          sync.Mutex
	inputTotal  int
	outputTotal int
	costInPerM  float64
	costOutPerM float64
}

// NewCostTracker creates a tracker priced from the model config.
func NewCostTracker(model *config.ModelConfig) *CostTracker {
	return &CostTracker{
		costInPerM:  model.CostInPerM,
		costOutPerM: model.CostOutPerM,
	}
}

// Add records one completion's usage.
func (c *CostTracker) Add(u Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputTotal += u.InputTokens
	c.outputTotal += u.OutputTokens
}

// Totals returns cumulative input and output token counts.
func (c *CostTracker) Totals() (inputTokens, outputTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTotal, c.outputTotal
}

// CostUSD returns the accumulated cost in dollars.
func (c *CostTracker) CostUSD() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.inputTotal)/1e6*c.costInPerM +
		float64(c.outputTotal)/1e6*c.costOutPerM
}

// Summary returns a human-readable one-liner for session reports.
func (c *CostTracker) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cost := float64(c.inputTotal)/1e6*c.costInPerM +
		float64(c.outputTotal)/1e6*c.costOutPerM
	return fmt.Sprintf("%d in / %d out tokens, $%.4f", c.inputTotal, c.outputTotal, cost)
}

package agent

import (
	"math"

	"github.com/m4xw311/mars/llm"
	"github.com/m4xw311/mars/models"
)

// ContextWindowTokens is everything the model saw or produced in one call.
func ContextWindowTokens(u llm.Usage) int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// ContextWindowPercentage is the share of m's window used by u, rounded half
// up to one decimal. A model without a window reports 0.
func ContextWindowPercentage(u llm.Usage, m models.Model) float64 {
	if m.ContextWindow <= 0 {
		return 0
	}
	pct := float64(ContextWindowTokens(u)) / float64(m.ContextWindow) * 100
	return math.Floor(pct*10+0.5) / 10
}

// Cost is the price of u in cents.
func Cost(u llm.Usage, p models.Pricing) float64 {
	return float64(u.InputTokens)*p.InputCost/1e6 +
		float64(u.CacheReadTokens)*p.CacheRead()/1e6 +
		float64(u.CacheWriteTokens)*p.CacheWrite()/1e6 +
		float64(u.OutputTokens)*p.OutputCost/1e6
}
